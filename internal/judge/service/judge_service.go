package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"algoforge/internal/common/mq"
	"algoforge/internal/common/storage"
	"algoforge/internal/judge/cache"
	"algoforge/internal/judge/executor"
	"algoforge/internal/judge/grading"
	"algoforge/internal/judge/model"
	"algoforge/internal/judge/repository"
	probrepo "algoforge/internal/problem/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxSourceBytes = 256 << 10

// ProblemSource resolves published problems for judging.
type ProblemSource interface {
	GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error)
}

// Service consumes judge tasks, drives the executor and records results.
type Service struct {
	exec            executor.Executor
	statusRepo      *repository.StatusRepository
	resultPublisher repository.ResultPublisher
	problems        ProblemSource
	packs           *cache.DataPackCache
	storage         storage.ObjectStorage
	sourceBucket    string
	judgeTimeout    time.Duration
	storageTimeout  time.Duration
	statusTimeout   time.Duration
	sem             chan struct{}

	queue         mq.MessageQueue
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Executor        executor.Executor
	StatusRepo      *repository.StatusRepository
	ResultPublisher repository.ResultPublisher
	Problems        ProblemSource
	Packs           *cache.DataPackCache
	Storage         storage.ObjectStorage
	SourceBucket    string
	JudgeTimeout    time.Duration
	StorageTimeout  time.Duration
	StatusTimeout   time.Duration
	WorkerPoolSize  int

	Queue            mq.MessageQueue
	RetryTopic       string
	DeadLetterTopic  string
	PoolRetryMax     int
	PoolRetryBase    time.Duration
	PoolRetryMaxWait time.Duration
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem source is required")
	}
	if cfg.Packs == nil {
		return nil, fmt.Errorf("data pack cache is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Service{
		exec:            cfg.Executor,
		statusRepo:      cfg.StatusRepo,
		resultPublisher: cfg.ResultPublisher,
		problems:        cfg.Problems,
		packs:           cfg.Packs,
		storage:         cfg.Storage,
		sourceBucket:    cfg.SourceBucket,
		judgeTimeout:    cfg.JudgeTimeout,
		storageTimeout:  cfg.StorageTimeout,
		statusTimeout:   cfg.StatusTimeout,
		sem:             make(chan struct{}, poolSize),
		queue:           cfg.Queue,
		retryTopic:      cfg.RetryTopic,
		deadLetter:      cfg.DeadLetterTopic,
		poolRetryMax:    cfg.PoolRetryMax,
		poolRetryBase:   cfg.PoolRetryBase,
		poolRetryMaxD:   cfg.PoolRetryMaxWait,
	}, nil
}

// HandleMessage processes one judge task message.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode message failed")
	}
	if payload.SubmissionID <= 0 || payload.ProblemID <= 0 || payload.Language == "" || payload.SourceKey == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("message missing required fields")
	}

	// Redeliveries of an already judged submission are dropped.
	if existing, err := s.statusRepo.Get(ctx, payload.SubmissionID); err == nil && existing.Status.Terminal() {
		logger.Info(ctx, "skip already judged submission", zap.Int64("submission_id", payload.SubmissionID))
		return nil
	}

	now := time.Now().Unix()
	record := model.StatusRecord{
		SubmissionID: payload.SubmissionID,
		ProblemID:    payload.ProblemID,
		UserID:       payload.UserID,
		Language:     payload.Language,
		Status:       model.StatusPending,
		ReceivedAt:   now,
	}
	if err := s.saveStatus(ctx, record); err != nil {
		return err
	}

	if !s.tryAcquireSlot() {
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.releaseSlot()

	record.Status = model.StatusRunning
	if err := s.saveStatus(ctx, record); err != nil {
		return err
	}

	ctxJudge := ctx
	if s.judgeTimeout > 0 {
		var cancel context.CancelFunc
		ctxJudge, cancel = context.WithTimeout(ctx, s.judgeTimeout)
		defer cancel()
	}

	finished, err := s.judge(ctxJudge, payload, record)
	if err != nil {
		return s.handleFailure(ctx, record, err)
	}
	if err := s.saveStatus(ctx, finished); err != nil {
		return err
	}
	s.publishFinal(ctx, finished)
	return nil
}

func (s *Service) judge(ctx context.Context, payload model.JudgeMessage, record model.StatusRecord) (model.StatusRecord, error) {
	if !executor.IsSupported(payload.Language) {
		return model.StatusRecord{}, appErr.New(appErr.LanguageNotSupported)
	}

	problem, err := s.problems.GetPublished(ctx, payload.ProblemID)
	if err != nil {
		return model.StatusRecord{}, err
	}
	cases, err := s.packs.Get(ctx, problem.ID, problem.DataPackKey, problem.DataPackHash)
	if err != nil {
		return model.StatusRecord{}, err
	}
	source, err := s.downloadSource(ctx, payload)
	if err != nil {
		return model.StatusRecord{}, err
	}

	record.TestsTotal = len(cases)
	if err := s.saveStatus(ctx, record); err != nil {
		return model.StatusRecord{}, err
	}

	compile, err := s.compileWithRetry(ctx, payload.Language, source)
	if err != nil {
		return model.StatusRecord{}, err
	}
	if !compile.OK {
		record.Status = model.StatusFinished
		record.Verdict = model.VerdictCompileError
		record.CompileOutput = truncate(compile.Log, 8192)
		record.FinishedAt = time.Now().Unix()
		return record, nil
	}
	if compile.ArtifactID != "" {
		defer func() {
			if err := s.exec.Release(context.WithoutCancel(ctx), compile.ArtifactID); err != nil {
				logger.Warn(ctx, "release artifact failed", zap.Error(err))
			}
		}()
	}

	outcomes := make([]grading.CaseOutcome, 0, len(cases))
	for i, tc := range cases {
		res, err := s.runWithRetry(ctx, executor.RunRequest{
			Language:      payload.Language,
			Source:        source,
			ArtifactID:    compile.ArtifactID,
			Stdin:         tc.Input,
			TimeLimitMS:   problem.TimeLimitMS,
			MemoryLimitMB: problem.MemoryLimitMB,
		})
		if err != nil {
			return model.StatusRecord{}, err
		}
		outcome := grading.Grade(i, res, tc.Expected)
		outcomes = append(outcomes, outcome)

		record.TestsRun = len(outcomes)
		if err := s.saveStatus(ctx, record); err != nil {
			return model.StatusRecord{}, err
		}

		// Later cases cannot improve the verdict, so stop at the first
		// failure.
		if outcome.Verdict != model.VerdictAccepted {
			break
		}
	}

	summary := grading.Reduce(outcomes)
	record.Status = model.StatusFinished
	record.TestResults = grading.Results(outcomes)
	record.Verdict = summary.Verdict
	record.TimeUsedMS = summary.MaxTimeMS
	record.MemoryUsedKB = summary.MaxMemoryKB
	record.TestsRun = summary.CasesGraded
	record.FailedTest = summary.FailedTest
	record.FinishedAt = time.Now().Unix()
	return record, nil
}

// compileWithRetry retries once on executor infrastructure failures.
// Deterministic compile failures are never retried.
func (s *Service) compileWithRetry(ctx context.Context, language, source string) (executor.CompileResult, error) {
	res, err := s.exec.Compile(ctx, executor.CompileRequest{Language: language, Source: source})
	if err != nil && errors.Is(err, executor.ErrUnavailable) && ctx.Err() == nil {
		logger.Warn(ctx, "compile attempt failed, retrying", zap.Error(err))
		res, err = s.exec.Compile(ctx, executor.CompileRequest{Language: language, Source: source})
	}
	if err != nil {
		return executor.CompileResult{}, appErr.Wrapf(err, appErr.ExecutorUnavailable, "compile failed")
	}
	return res, nil
}

func (s *Service) runWithRetry(ctx context.Context, req executor.RunRequest) (executor.RunResult, error) {
	res, err := s.exec.Run(ctx, req)
	if err != nil && errors.Is(err, executor.ErrUnavailable) && ctx.Err() == nil {
		logger.Warn(ctx, "run attempt failed, retrying", zap.Error(err))
		res, err = s.exec.Run(ctx, req)
	}
	if err != nil {
		return executor.RunResult{}, appErr.Wrapf(err, appErr.ExecutorUnavailable, "run failed")
	}
	return res, nil
}

func (s *Service) downloadSource(ctx context.Context, payload model.JudgeMessage) (string, error) {
	ctxStorage := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	reader, err := s.storage.GetObject(ctxStorage, s.sourceBucket, payload.SourceKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "download source failed")
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxSourceBytes+1))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "read source failed")
	}
	if len(data) > maxSourceBytes {
		return "", appErr.New(appErr.CodeTooLarge)
	}
	if payload.SourceHash != "" {
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), payload.SourceHash) {
			return "", appErr.New(appErr.InvalidParams).WithMessage("source hash mismatch")
		}
	}
	return string(data), nil
}

func (s *Service) saveStatus(ctx context.Context, record model.StatusRecord) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, record)
}

func (s *Service) publishFinal(ctx context.Context, record model.StatusRecord) {
	if s.resultPublisher == nil {
		return
	}
	if err := s.resultPublisher.PublishFinal(ctx, record); err != nil {
		logger.Error(ctx, "publish final result failed",
			zap.Int64("submission_id", record.SubmissionID), zap.Error(err))
	}
}

// handleFailure records a terminal system error. Deterministic rejections
// (bad message, unknown problem or language) are swallowed so the queue does
// not redeliver them.
func (s *Service) handleFailure(ctx context.Context, record model.StatusRecord, err error) error {
	code := appErr.GetCode(err)
	record.Status = model.StatusFailed
	record.Verdict = model.VerdictSystemError
	record.ErrorCode = int(code)
	record.ErrorMessage = err.Error()
	record.FinishedAt = time.Now().Unix()
	if saveErr := s.saveStatus(ctx, record); saveErr != nil {
		logger.Warn(ctx, "update failure status failed", zap.Error(saveErr))
	}
	s.publishFinal(ctx, record)
	if code == appErr.InvalidParams || code == appErr.ProblemNotFound ||
		code == appErr.ProblemNotPublished || code == appErr.LanguageNotSupported ||
		code == appErr.CodeTooLarge {
		return nil
	}
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
