package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/db"
	"algoforge/internal/common/mq"
	"algoforge/internal/common/storage"
	"algoforge/internal/judge/model"
	judgeRepo "algoforge/internal/judge/repository"
	probrepo "algoforge/internal/problem/repository"
	"algoforge/internal/submit/repository"
	"algoforge/internal/submit/service"
	appErr "algoforge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSubmissionRepo struct {
	rows map[int64]*repository.Submission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{rows: make(map[int64]*repository.Submission)}
}

func (r *fakeSubmissionRepo) Create(ctx context.Context, tx db.Transaction, submission *repository.Submission) error {
	clone := *submission
	r.rows[submission.ID] = &clone
	return nil
}

func (r *fakeSubmissionRepo) GetByID(ctx context.Context, tx db.Transaction, submissionID int64) (*repository.Submission, error) {
	submission, ok := r.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	clone := *submission
	return &clone, nil
}

func (r *fakeSubmissionRepo) List(ctx context.Context, filter repository.ListFilter) ([]*repository.Submission, int64, error) {
	out := make([]*repository.Submission, 0, len(r.rows))
	for _, submission := range r.rows {
		if filter.UserID > 0 && submission.UserID != filter.UserID {
			continue
		}
		clone := *submission
		out = append(out, &clone)
	}
	return out, int64(len(out)), nil
}

func (r *fakeSubmissionRepo) Finalize(ctx context.Context, tx db.Transaction, result repository.FinalResult) error {
	submission, ok := r.rows[result.SubmissionID]
	if !ok {
		return repository.ErrSubmissionNotFound
	}
	if submission.Status == repository.StatusFinished || submission.Status == repository.StatusFailed {
		return repository.ErrAlreadyFinalized
	}
	submission.Status = result.Status
	submission.Verdict = result.Verdict
	submission.TimeUsedMS = result.TimeUsedMS
	submission.MemoryUsedKB = result.MemoryUsedKB
	submission.FailedTest = result.FailedTest
	submission.TestResults = result.TestResults
	submission.ErrorMessage = result.ErrorMessage
	finishedAt := result.FinishedAt
	submission.FinishedAt = &finishedAt
	return nil
}

type stubProblems struct {
	published map[int64]bool
}

func (p *stubProblems) GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error) {
	if !p.published[problemID] {
		return nil, appErr.New(appErr.ProblemNotPublished)
	}
	return &probrepo.Problem{ID: problemID, Status: probrepo.ProblemStatusPublished}, nil
}

type sourceStore struct {
	objects map[string]string
}

func (s *sourceStore) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	body, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, fmt.Errorf("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *sourceStore) PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+objectKey] = string(data)
	return nil
}

func (s *sourceStore) CreateMultipartUpload(ctx context.Context, bucket, objectKey, contentType string) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (s *sourceStore) PresignUploadPart(ctx context.Context, bucket, objectKey, uploadID string, partNumber int, ttl time.Duration, contentType string) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (s *sourceStore) CompleteMultipartUpload(ctx context.Context, bucket, objectKey, uploadID string, parts []storage.CompletedPart) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (s *sourceStore) AbortMultipartUpload(ctx context.Context, bucket, objectKey, uploadID string) error {
	return nil
}

func (s *sourceStore) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	return storage.ObjectStat{}, fmt.Errorf("not supported")
}

func (s *sourceStore) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo)
	close(ch)
	return ch
}

func (s *sourceStore) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	return nil
}

func (s *sourceStore) ListMultipartUploads(ctx context.Context, bucket, prefix, keyMarker, uploadIDMarker string, maxUploads int) (storage.ListMultipartUploadsResult, error) {
	return storage.ListMultipartUploadsResult{}, nil
}

type recordingQueue struct {
	published []publishedMessage
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

func (q *recordingQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.published = append(q.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (q *recordingQueue) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, message := range messages {
		q.published = append(q.published, publishedMessage{topic: topic, msg: message})
	}
	return nil
}

func (q *recordingQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (q *recordingQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (q *recordingQueue) Start() error                   { return nil }
func (q *recordingQueue) Stop() error                    { return nil }
func (q *recordingQueue) Pause() error                   { return nil }
func (q *recordingQueue) Resume() error                  { return nil }
func (q *recordingQueue) Ping(ctx context.Context) error { return nil }
func (q *recordingQueue) Close() error                   { return nil }

type countingHandler struct {
	calls []model.StatusRecord
}

func (h *countingHandler) HandleFinalResult(ctx context.Context, record model.StatusRecord) error {
	h.calls = append(h.calls, record)
	return nil
}

type submitFixture struct {
	service *service.SubmitService
	repo    *fakeSubmissionRepo
	queue   *recordingQueue
	storage *sourceStore
	status  *judgeRepo.StatusRepository
	handler *countingHandler
}

func newSubmitFixture(t *testing.T, rateLimit service.RateLimitConfig) *submitFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cacheClient, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}

	repo := newFakeSubmissionRepo()
	queue := &recordingQueue{}
	store := &sourceStore{objects: make(map[string]string)}
	statusRepo := judgeRepo.NewStatusRepository(cacheClient, time.Hour)
	handler := &countingHandler{}

	svc, err := service.NewSubmitService(service.Config{
		SubmissionRepo:      repo,
		StatusRepo:          statusRepo,
		Problems:            &stubProblems{published: map[int64]bool{100: true}},
		Storage:             store,
		MQ:                  queue,
		Cache:               cacheClient,
		JudgeTopic:          "judge.tasks",
		FinalResultHandlers: []service.FinalResultHandler{handler},
		SourceBucket:        "submissions",
		RateLimit:           rateLimit,
	})
	if err != nil {
		t.Fatalf("create submit service: %v", err)
	}
	return &submitFixture{
		service: svc,
		repo:    repo,
		queue:   queue,
		storage: store,
		status:  statusRepo,
		handler: handler,
	}
}

func validInput() service.SubmitInput {
	return service.SubmitInput{
		ProblemID:  100,
		UserID:     7,
		Language:   "cpp",
		SourceCode: "int main() { return 0; }",
		ClientIP:   "127.0.0.1",
	}
}

func TestSubmitService_Submit(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	submissionID, pending, err := fixture.service.Submit(ctx, validInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if submissionID <= 0 {
		t.Fatalf("expected positive submission id, got %d", submissionID)
	}
	if pending.Status != model.StatusPending {
		t.Fatalf("initial status should be pending, got %s", pending.Status)
	}

	row, ok := fixture.repo.rows[submissionID]
	if !ok {
		t.Fatalf("submission row missing")
	}
	if row.Status != repository.StatusPending || row.SourceKey == "" || row.SourceHash == "" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if _, ok := fixture.storage.objects["submissions/"+row.SourceKey]; !ok {
		t.Fatalf("source object missing at %s", row.SourceKey)
	}

	if len(fixture.queue.published) != 1 {
		t.Fatalf("expected 1 judge message, got %d", len(fixture.queue.published))
	}
	published := fixture.queue.published[0]
	if published.topic != "judge.tasks" {
		t.Fatalf("unexpected topic: %s", published.topic)
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(published.msg.Body, &payload); err != nil {
		t.Fatalf("decode judge message: %v", err)
	}
	if payload.SubmissionID != submissionID || payload.SourceKey != row.SourceKey || payload.SourceHash != row.SourceHash {
		t.Fatalf("judge message does not match row: %+v", payload)
	}

	status, err := fixture.service.GetStatus(ctx, submissionID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if status.Status != model.StatusPending {
		t.Fatalf("stored status should be pending, got %s", status.Status)
	}
}

func TestSubmitService_Validation(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*service.SubmitInput)
		errCode appErr.ErrorCode
	}{
		{"missing problem", func(in *service.SubmitInput) { in.ProblemID = 0 }, appErr.ValidationFailed},
		{"unsupported language", func(in *service.SubmitInput) { in.Language = "brainfuck" }, appErr.LanguageNotSupported},
		{"empty source", func(in *service.SubmitInput) { in.SourceCode = "  \n" }, appErr.ValidationFailed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, _, err := fixture.service.Submit(ctx, input)
			if err == nil || !appErr.Is(err, tc.errCode) {
				t.Fatalf("expected %v, got %v", tc.errCode, err)
			}
		})
	}

	input := validInput()
	input.ProblemID = 999
	_, _, err := fixture.service.Submit(ctx, input)
	if err == nil || !appErr.Is(err, appErr.ProblemNotPublished) {
		t.Fatalf("expected ProblemNotPublished, got %v", err)
	}
}

func TestSubmitService_Idempotency(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	input := validInput()
	input.IdempotencyKey = "req-abc"

	firstID, _, err := fixture.service.Submit(ctx, input)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	secondID, status, err := fixture.service.Submit(ctx, input)
	if err != nil {
		t.Fatalf("replay submit failed: %v", err)
	}
	if secondID != firstID {
		t.Fatalf("replay should return the original id, got %d and %d", firstID, secondID)
	}
	if status.SubmissionID != firstID {
		t.Fatalf("replay should return the original status, got %+v", status)
	}
	if len(fixture.queue.published) != 1 {
		t.Fatalf("replay must not publish a second judge message, got %d", len(fixture.queue.published))
	}
	if len(fixture.repo.rows) != 1 {
		t.Fatalf("replay must not create a second row, got %d", len(fixture.repo.rows))
	}
}

func TestSubmitService_RateLimit(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{UserMax: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := fixture.service.Submit(ctx, validInput()); err != nil {
			t.Fatalf("submit %d failed: %v", i+1, err)
		}
	}

	_, _, err := fixture.service.Submit(ctx, validInput())
	if err == nil || !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}
}

func TestSubmitService_HandleFinalResultMessage(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	submissionID, _, err := fixture.service.Submit(ctx, validInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	event := model.ResultEvent{
		Type: model.ResultEventFinal,
		Status: model.StatusRecord{
			SubmissionID: submissionID,
			ProblemID:    100,
			UserID:       7,
			Language:     "cpp",
			Status:       model.StatusFinished,
			Verdict:      model.VerdictAccepted,
			TimeUsedMS:   12,
			MemoryUsedKB: 2048,
			TestResults: []model.TestCaseResult{
				{Index: 1, Verdict: model.VerdictAccepted, Output: "3\n", Expected: "3\n", TimeUsedMS: 12, MemoryUsedKB: 2048},
			},
			FinishedAt: time.Now().Unix(),
		},
		CreatedAt: time.Now().Unix(),
	}
	body, _ := json.Marshal(event)

	if err := fixture.service.HandleFinalResultMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("handle final result failed: %v", err)
	}

	row := fixture.repo.rows[submissionID]
	if row.Status != repository.StatusFinished || row.Verdict != string(model.VerdictAccepted) {
		t.Fatalf("row should be finalized, got %+v", row)
	}
	if row.FinishedAt == nil {
		t.Fatalf("finished timestamp missing")
	}
	if len(row.TestResults) != 1 {
		t.Fatalf("per-case results should be persisted, got %d", len(row.TestResults))
	}
	if row.TestResults[0].Index != 1 || row.TestResults[0].Output != "3\n" {
		t.Fatalf("unexpected persisted case result: %+v", row.TestResults[0])
	}

	fetched, err := fixture.service.GetSubmission(ctx, submissionID, 7, "user")
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	if len(fetched.TestResults) != 1 || fetched.TestResults[0].Expected != "3\n" {
		t.Fatalf("fetched submission should expose case results, got %+v", fetched.TestResults)
	}
	if len(fixture.handler.calls) != 1 {
		t.Fatalf("final result handler should run once, got %d", len(fixture.handler.calls))
	}

	// A redelivery finalizes nothing and does not re-trigger handlers.
	if err := fixture.service.HandleFinalResultMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("redelivery should be swallowed, got %v", err)
	}
	if len(fixture.handler.calls) != 1 {
		t.Fatalf("redelivery must not re-run handlers, got %d", len(fixture.handler.calls))
	}
}

func TestSubmitService_HandleFinalResultMessageRejectsBadEvents(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	badType := model.ResultEvent{Type: "something.else", Status: model.StatusRecord{SubmissionID: 1, Status: model.StatusFinished}}
	body, _ := json.Marshal(badType)
	if err := fixture.service.HandleFinalResultMessage(ctx, mq.NewMessage(body)); err == nil {
		t.Fatalf("expected error for wrong event type")
	}

	nonTerminal := model.ResultEvent{Type: model.ResultEventFinal, Status: model.StatusRecord{SubmissionID: 1, Status: model.StatusRunning}}
	body, _ = json.Marshal(nonTerminal)
	if err := fixture.service.HandleFinalResultMessage(ctx, mq.NewMessage(body)); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestSubmitService_OwnershipAndSource(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	input := validInput()
	submissionID, _, err := fixture.service.Submit(ctx, input)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Another user cannot read the submission or its source.
	_, err = fixture.service.GetSubmission(ctx, submissionID, 99, "user")
	if err == nil || !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound for foreign user, got %v", err)
	}
	if _, err := fixture.service.GetSource(ctx, submissionID, 99, "user"); err == nil {
		t.Fatalf("foreign user should not read source")
	}

	// The owner and admins can.
	if _, err := fixture.service.GetSubmission(ctx, submissionID, 7, "user"); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	source, err := fixture.service.GetSource(ctx, submissionID, 1, "admin")
	if err != nil {
		t.Fatalf("admin source read failed: %v", err)
	}
	if source != input.SourceCode {
		t.Fatalf("source round trip mismatch: %q", source)
	}
}

func TestSubmitService_ListScopedToCaller(t *testing.T) {
	t.Parallel()

	fixture := newSubmitFixture(t, service.RateLimitConfig{})
	ctx := context.Background()

	if _, _, err := fixture.service.Submit(ctx, validInput()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	other := validInput()
	other.UserID = 8
	if _, _, err := fixture.service.Submit(ctx, other); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	mine, total, err := fixture.service.ListSubmissions(ctx, repository.ListFilter{}, 7, "user")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(mine) != 1 || mine[0].UserID != 7 {
		t.Fatalf("non-admin list should be scoped to the caller, got %d entries", len(mine))
	}

	all, _, err := fixture.service.ListSubmissions(ctx, repository.ListFilter{}, 1, "admin")
	if err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin should list everything, got %d", len(all))
	}
}
