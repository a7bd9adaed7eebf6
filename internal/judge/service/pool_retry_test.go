package service

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	commoncache "algoforge/internal/common/cache"
	"algoforge/internal/common/mq"
	"algoforge/internal/common/storage"
	judgecache "algoforge/internal/judge/cache"
	"algoforge/internal/judge/executor"
	"algoforge/internal/judge/model"
	"algoforge/internal/judge/repository"
	probrepo "algoforge/internal/problem/repository"
	appErr "algoforge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// The pool-full path never reaches the executor, storage or problem lookup,
// so the embedded interfaces stay nil.
type idleExecutor struct{ executor.Executor }

type idleStorage struct{ storage.ObjectStorage }

type idleProblems struct{}

func (idleProblems) GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error) {
	return nil, appErr.New(appErr.ProblemNotFound)
}

type idleLoader struct{}

func (idleLoader) Load(ctx context.Context, key, hash string) ([]probrepo.TestCase, error) {
	return nil, nil
}

type recordPublisher struct {
	records []model.StatusRecord
}

func (p *recordPublisher) PublishFinal(ctx context.Context, record model.StatusRecord) error {
	p.records = append(p.records, record)
	return nil
}

type recordQueue struct {
	mq.MessageQueue
	topics   []string
	messages []*mq.Message
}

func (q *recordQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.topics = append(q.topics, topic)
	q.messages = append(q.messages, message)
	return nil
}

func newPoolTestService(t *testing.T, queue mq.MessageQueue, publisher repository.ResultPublisher, maxRetry int) (*Service, *repository.StatusRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cacheClient, err := commoncache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	statusRepo := repository.NewStatusRepository(cacheClient, time.Hour)

	svc, err := NewService(Config{
		Executor:        idleExecutor{},
		StatusRepo:      statusRepo,
		ResultPublisher: publisher,
		Problems:        idleProblems{},
		Packs:           judgecache.NewDataPackCache(idleLoader{}, time.Minute),
		Storage:         idleStorage{},
		SourceBucket:    "submissions",
		WorkerPoolSize:  1,
		Queue:           queue,
		RetryTopic:      "judge.tasks",
		DeadLetterTopic: "judge.tasks.dlq",
		PoolRetryMax:    maxRetry,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc, statusRepo
}

func poolJudgeMessage(t *testing.T, submissionID int64, retryCount int) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.JudgeMessage{
		SubmissionID: submissionID,
		ProblemID:    100,
		UserID:       7,
		Language:     "cpp",
		SourceKey:    "sources/" + strconv.FormatInt(submissionID, 10),
		SubmittedAt:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	msg := mq.NewMessage(body)
	if retryCount > 0 {
		msg.Headers = map[string]string{poolRetryHeader: strconv.Itoa(retryCount)}
	}
	return msg
}

func TestHandleMessage_PoolFullRequeues(t *testing.T) {
	t.Parallel()

	queue := &recordQueue{}
	publisher := &recordPublisher{}
	svc, statusRepo := newPoolTestService(t, queue, publisher, 5)

	// Occupy the only worker slot so the message cannot be picked up.
	svc.sem <- struct{}{}

	if err := svc.HandleMessage(context.Background(), poolJudgeMessage(t, 41, 2)); err != nil {
		t.Fatalf("pool-full requeue failed: %v", err)
	}
	if len(queue.topics) != 1 || queue.topics[0] != "judge.tasks" {
		t.Fatalf("expected one republish to the judge topic, got %v", queue.topics)
	}
	if got := ParsePoolRetryCount(queue.messages[0].Headers); got != 3 {
		t.Fatalf("retry header should increment to 3, got %d", got)
	}

	// The submission is still pending; a later delivery will judge it.
	record, err := statusRepo.Get(context.Background(), 41)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if record.Status != model.StatusPending {
		t.Fatalf("requeued submission should stay pending, got %s", record.Status)
	}
	if len(publisher.records) != 0 {
		t.Fatalf("no final result should be published yet, got %d", len(publisher.records))
	}
}

func TestHandleMessage_PoolRetryExhausted(t *testing.T) {
	t.Parallel()

	queue := &recordQueue{}
	publisher := &recordPublisher{}
	svc, statusRepo := newPoolTestService(t, queue, publisher, 5)

	svc.sem <- struct{}{}

	if err := svc.HandleMessage(context.Background(), poolJudgeMessage(t, 42, 5)); err != nil {
		t.Fatalf("exhausted delivery should dead-letter, got %v", err)
	}

	// The submission must not hang in pending once nothing will retry it.
	record, err := statusRepo.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if record.Status != model.StatusFailed || record.Verdict != model.VerdictSystemError {
		t.Fatalf("expected failed/system_error, got %s/%s", record.Status, record.Verdict)
	}
	if record.ErrorCode != int(appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull error code, got %d", record.ErrorCode)
	}

	if len(publisher.records) != 1 {
		t.Fatalf("terminal failure should publish one final result, got %d", len(publisher.records))
	}
	if publisher.records[0].Verdict != model.VerdictSystemError {
		t.Fatalf("published verdict should be system_error, got %s", publisher.records[0].Verdict)
	}

	if len(queue.topics) != 1 || queue.topics[0] != "judge.tasks.dlq" {
		t.Fatalf("expected one dead letter publish, got %v", queue.topics)
	}
}
