package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"algoforge/internal/common/db"
	"algoforge/internal/common/storage"
	"algoforge/internal/problem/repository"
	pkgerrors "algoforge/pkg/errors"
)

type fakeProblemRepo struct {
	problems map[int64]*repository.Problem
	nextID   int64
}

func newFakeProblemRepo() *fakeProblemRepo {
	return &fakeProblemRepo{problems: make(map[int64]*repository.Problem), nextID: 1}
}

func (r *fakeProblemRepo) Create(ctx context.Context, tx db.Transaction, problem *repository.Problem) (int64, error) {
	id := r.nextID
	r.nextID++
	clone := *problem
	clone.ID = id
	r.problems[id] = &clone
	return id, nil
}

func (r *fakeProblemRepo) Update(ctx context.Context, tx db.Transaction, problem *repository.Problem) error {
	if _, ok := r.problems[problem.ID]; !ok {
		return repository.ErrProblemNotFound
	}
	clone := *problem
	r.problems[problem.ID] = &clone
	return nil
}

func (r *fakeProblemRepo) UpdateStatus(ctx context.Context, tx db.Transaction, problemID int64, status int32) error {
	problem, ok := r.problems[problemID]
	if !ok {
		return repository.ErrProblemNotFound
	}
	problem.Status = status
	return nil
}

func (r *fakeProblemRepo) UpdateDataPack(ctx context.Context, tx db.Transaction, problemID int64, key, hash string, testCaseCount int32) error {
	problem, ok := r.problems[problemID]
	if !ok {
		return repository.ErrProblemNotFound
	}
	problem.DataPackKey = key
	problem.DataPackHash = hash
	problem.TestCaseCount = testCaseCount
	return nil
}

func (r *fakeProblemRepo) GetByID(ctx context.Context, tx db.Transaction, problemID int64) (*repository.Problem, error) {
	problem, ok := r.problems[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	clone := *problem
	return &clone, nil
}

func (r *fakeProblemRepo) List(ctx context.Context, filter repository.ListFilter) ([]*repository.Problem, int64, error) {
	out := make([]*repository.Problem, 0, len(r.problems))
	for _, problem := range r.problems {
		if filter.Status != nil && problem.Status != *filter.Status {
			continue
		}
		if filter.Difficulty != "" && problem.Difficulty != filter.Difficulty {
			continue
		}
		clone := *problem
		out = append(out, &clone)
	}
	return out, int64(len(out)), nil
}

func (r *fakeProblemRepo) Exists(ctx context.Context, tx db.Transaction, problemID int64) (bool, error) {
	_, ok := r.problems[problemID]
	return ok, nil
}

func (r *fakeProblemRepo) Delete(ctx context.Context, tx db.Transaction, problemID int64) error {
	if _, ok := r.problems[problemID]; !ok {
		return repository.ErrProblemNotFound
	}
	delete(r.problems, problemID)
	return nil
}

func (r *fakeProblemRepo) InvalidateCache(ctx context.Context, problemID int64) error {
	return nil
}

type memUpload struct {
	key   string
	parts map[int][]byte
}

type memStorage struct {
	objects map[string][]byte
	uploads map[string]*memUpload
	nextID  int
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects: make(map[string][]byte),
		uploads: make(map[string]*memUpload),
	}
}

func (s *memStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	data, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, fmt.Errorf("object not found: %s/%s", bucket, objectKey)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *memStorage) PutObject(ctx context.Context, bucket, objectKey string, reader storage.ObjectReader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[bucket+"/"+objectKey] = data
	return nil
}

func (s *memStorage) CreateMultipartUpload(ctx context.Context, bucket, objectKey, contentType string) (string, error) {
	s.nextID++
	uploadID := fmt.Sprintf("upload-%d", s.nextID)
	s.uploads[uploadID] = &memUpload{key: bucket + "/" + objectKey, parts: make(map[int][]byte)}
	return uploadID, nil
}

func (s *memStorage) PresignUploadPart(ctx context.Context, bucket, objectKey, uploadID string, partNumber int, ttl time.Duration, contentType string) (string, error) {
	if _, ok := s.uploads[uploadID]; !ok {
		return "", fmt.Errorf("unknown upload: %s", uploadID)
	}
	return fmt.Sprintf("https://storage.test/%s/%s?uploadId=%s&partNumber=%d", bucket, objectKey, uploadID, partNumber), nil
}

// putPart stands in for the client PUT against a presigned part URL.
func (s *memStorage) putPart(uploadID string, partNumber int, data []byte) {
	s.uploads[uploadID].parts[partNumber] = data
}

func (s *memStorage) CompleteMultipartUpload(ctx context.Context, bucket, objectKey, uploadID string, parts []storage.CompletedPart) (string, error) {
	upload, ok := s.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("unknown upload: %s", uploadID)
	}
	var assembled []byte
	for _, part := range parts {
		data, ok := upload.parts[part.PartNumber]
		if !ok {
			return "", fmt.Errorf("missing part %d", part.PartNumber)
		}
		assembled = append(assembled, data...)
	}
	s.objects[upload.key] = assembled
	delete(s.uploads, uploadID)
	return "etag", nil
}

func (s *memStorage) AbortMultipartUpload(ctx context.Context, bucket, objectKey, uploadID string) error {
	delete(s.uploads, uploadID)
	return nil
}

func (s *memStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	data, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object not found")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func (s *memStorage) ListObjects(ctx context.Context, bucket, prefix string) <-chan storage.ObjectInfo {
	ch := make(chan storage.ObjectInfo, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, bucket+"/"+prefix) {
			ch <- storage.ObjectInfo{Key: strings.TrimPrefix(key, bucket+"/")}
		}
	}
	close(ch)
	return ch
}

func (s *memStorage) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	for _, key := range keys {
		delete(s.objects, bucket+"/"+key)
	}
	return nil
}

func (s *memStorage) ListMultipartUploads(ctx context.Context, bucket, prefix, keyMarker, uploadIDMarker string, maxUploads int) (storage.ListMultipartUploadsResult, error) {
	var result storage.ListMultipartUploadsResult
	for uploadID, upload := range s.uploads {
		if strings.HasPrefix(upload.key, bucket+"/"+prefix) {
			result.Uploads = append(result.Uploads, storage.MultipartUploadInfo{
				Key:      strings.TrimPrefix(upload.key, bucket+"/"),
				UploadID: uploadID,
			})
		}
	}
	return result, nil
}

func newProblemServiceForTest() (*ProblemService, *fakeProblemRepo, *memStorage) {
	repo := newFakeProblemRepo()
	store := newMemStorage()
	packs := NewDataPackStore(store, "problems")
	return NewProblemService(repo, packs, nil), repo, store
}

func sampleCases() []repository.TestCase {
	return []repository.TestCase{
		{Input: "1 2\n", Expected: "3\n", IsSample: true},
		{Input: "5 7\n", Expected: "12\n"},
	}
}

func TestProblemService_CreateWithTestCases(t *testing.T) {
	t.Parallel()

	svc, repo, store := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "A + B",
		Difficulty: repository.DifficultyEasy,
		Tags:       []string{"Math", " math ", "implementation"},
		TestCases:  sampleCases(),
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	problem := repo.problems[id]
	if problem == nil {
		t.Fatalf("problem row missing")
	}
	if problem.Status != repository.ProblemStatusDraft {
		t.Fatalf("new problem should be a draft, got %d", problem.Status)
	}
	if problem.TimeLimitMS != 1000 || problem.MemoryLimitMB != 256 {
		t.Fatalf("limits should default, got %d/%d", problem.TimeLimitMS, problem.MemoryLimitMB)
	}
	if len(problem.Tags) != 2 {
		t.Fatalf("tags should be deduplicated and lowercased, got %v", problem.Tags)
	}
	if problem.TestCaseCount != 2 || problem.DataPackKey == "" || problem.DataPackHash == "" {
		t.Fatalf("data pack should be recorded, got %+v", problem)
	}
	if _, ok := store.objects["problems/"+problem.DataPackKey]; !ok {
		t.Fatalf("data pack object missing at %s", problem.DataPackKey)
	}
}

func TestProblemService_CreateValidation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newProblemServiceForTest()
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInput
	}{
		{"empty title", CreateInput{Difficulty: "easy", OwnerID: 1}},
		{"bad difficulty", CreateInput{Title: "x", Difficulty: "impossible", OwnerID: 1}},
		{"time limit too low", CreateInput{Title: "x", Difficulty: "easy", TimeLimitMS: 50, OwnerID: 1}},
		{"memory limit too high", CreateInput{Title: "x", Difficulty: "easy", MemoryLimitMB: 4096, OwnerID: 1}},
		{"too many tags", CreateInput{Title: "x", Difficulty: "easy", Tags: make([]string, 11), OwnerID: 1}},
	}
	for i := range tests {
		for j := range tests[i].input.Tags {
			tests[i].input.Tags[j] = fmt.Sprintf("tag%d", j)
		}
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateProblem(ctx, tc.input); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestProblemService_TestCaseValidation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newProblemServiceForTest()
	ctx := context.Background()

	_, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "x",
		Difficulty: "easy",
		TestCases:  []repository.TestCase{{Input: "1", Expected: ""}},
		OwnerID:    1,
	})
	if err == nil || !pkgerrors.Is(err, pkgerrors.TestCaseInvalid) {
		t.Fatalf("expected TestCaseInvalid for empty expected output, got %v", err)
	}
}

func TestProblemService_PublishRequiresTestData(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "no data",
		Difficulty: "easy",
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	err = svc.PublishProblem(ctx, id, 1, "user")
	if err == nil || !pkgerrors.Is(err, pkgerrors.TestCaseSetEmpty) {
		t.Fatalf("expected TestCaseSetEmpty, got %v", err)
	}

	if err := svc.ReplaceTestCases(ctx, id, 1, "user", sampleCases()); err != nil {
		t.Fatalf("replace test cases failed: %v", err)
	}
	if err := svc.PublishProblem(ctx, id, 1, "user"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if repo.problems[id].Status != repository.ProblemStatusPublished {
		t.Fatalf("problem should be published")
	}

	// Publishing twice is a no-op.
	if err := svc.PublishProblem(ctx, id, 1, "user"); err != nil {
		t.Fatalf("republish should be a no-op, got %v", err)
	}
}

func TestProblemService_OwnershipChecks(t *testing.T) {
	t.Parallel()

	svc, _, _ := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "owned",
		Difficulty: "easy",
		TestCases:  sampleCases(),
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	// Another user cannot publish or edit someone else's problem.
	err = svc.PublishProblem(ctx, id, 2, "user")
	if err == nil || !pkgerrors.Is(err, pkgerrors.ProblemAccessDenied) {
		t.Fatalf("expected ProblemAccessDenied, got %v", err)
	}

	// An admin can.
	if err := svc.PublishProblem(ctx, id, 99, "admin"); err != nil {
		t.Fatalf("admin publish failed: %v", err)
	}
}

func TestProblemService_DraftVisibility(t *testing.T) {
	t.Parallel()

	svc, _, _ := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "hidden draft",
		Difficulty: "easy",
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	// Non-owners see not-found, not forbidden.
	_, err = svc.GetProblem(ctx, id, 2, "user")
	if err == nil || !pkgerrors.Is(err, pkgerrors.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound for foreign draft, got %v", err)
	}

	if _, err := svc.GetProblem(ctx, id, 1, "user"); err != nil {
		t.Fatalf("owner should see own draft: %v", err)
	}
	if _, err := svc.GetProblem(ctx, id, 99, "admin"); err != nil {
		t.Fatalf("admin should see drafts: %v", err)
	}

	// Unpublished problems are not judgeable.
	_, err = svc.GetPublished(ctx, id)
	if err == nil || !pkgerrors.Is(err, pkgerrors.ProblemNotPublished) {
		t.Fatalf("expected ProblemNotPublished, got %v", err)
	}
}

func TestProblemService_ListFiltersToPublishedForUsers(t *testing.T) {
	t.Parallel()

	svc, _, _ := newProblemServiceForTest()
	ctx := context.Background()

	draftID, _ := svc.CreateProblem(ctx, CreateInput{Title: "draft", Difficulty: "easy", OwnerID: 1})
	publishedID, _ := svc.CreateProblem(ctx, CreateInput{Title: "live", Difficulty: "easy", TestCases: sampleCases(), OwnerID: 1})
	if err := svc.PublishProblem(ctx, publishedID, 1, "user"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	problems, total, err := svc.ListProblems(ctx, repository.ListFilter{}, "user")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(problems) != 1 || problems[0].ID != publishedID {
		t.Fatalf("users should only see published problems, got %d entries", len(problems))
	}

	problems, _, err = svc.ListProblems(ctx, repository.ListFilter{}, "admin")
	if err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("admin should see all problems, got %d", len(problems))
	}
	_ = draftID
}

func TestProblemService_LoadTestCasesRoundTrip(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "round trip",
		Difficulty: "easy",
		TestCases:  sampleCases(),
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	cases, err := svc.LoadTestCases(ctx, repo.problems[id])
	if err != nil {
		t.Fatalf("load test cases failed: %v", err)
	}
	if len(cases) != 2 || cases[0].Input != "1 2\n" || cases[1].Expected != "12\n" {
		t.Fatalf("unexpected cases after round trip: %+v", cases)
	}
	if !cases[0].IsSample || cases[1].IsSample {
		t.Fatalf("sample flags should survive the round trip")
	}
}

func TestDataPackStore_LoadRejectsCorruptPack(t *testing.T) {
	t.Parallel()

	store := newMemStorage()
	packs := NewDataPackStore(store, "problems")

	packed, hash, err := packs.Build(1, sampleCases())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	key, err := packs.Upload(context.Background(), 1, hash, packed)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	// Flip a byte in the stored object.
	stored := store.objects["problems/"+key]
	stored[len(stored)-1] ^= 0xff

	_, err = packs.Load(context.Background(), key, hash)
	if err == nil || !pkgerrors.Is(err, pkgerrors.DataPackCorrupt) {
		t.Fatalf("expected DataPackCorrupt, got %v", err)
	}

	// With the corrupted byte restored the pack loads again.
	stored[len(stored)-1] ^= 0xff
	cases, err := packs.Load(context.Background(), key, hash)
	if err != nil {
		t.Fatalf("load failed after restore: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
}

func TestProblemService_DeleteProblem(t *testing.T) {
	t.Parallel()

	svc, repo, _ := newProblemServiceForTest()
	ctx := context.Background()

	id, err := svc.CreateProblem(ctx, CreateInput{
		Title:      "doomed",
		Difficulty: "easy",
		OwnerID:    1,
	})
	if err != nil {
		t.Fatalf("create problem failed: %v", err)
	}

	err = svc.DeleteProblem(ctx, id, 2, "user")
	if err == nil || !pkgerrors.Is(err, pkgerrors.ProblemAccessDenied) {
		t.Fatalf("expected ProblemAccessDenied, got %v", err)
	}

	if err := svc.DeleteProblem(ctx, id, 1, "user"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := repo.problems[id]; ok {
		t.Fatalf("problem row should be gone")
	}
}
