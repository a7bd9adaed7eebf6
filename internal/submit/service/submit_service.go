package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/common/mq"
	"algoforge/internal/common/storage"
	"algoforge/internal/judge/executor"
	"algoforge/internal/judge/model"
	judgeRepo "algoforge/internal/judge/repository"
	probrepo "algoforge/internal/problem/repository"
	"algoforge/internal/submit/repository"
	appErr "algoforge/pkg/errors"
	"algoforge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	rateUserKeyPrefix    = "submit:rate:user:"
	rateIPKeyPrefix      = "submit:rate:ip:"
	submissionSeqKey     = "submission:id:seq"
	defaultSourcePrefix  = "submissions"
	defaultMaxCodeBytes  = 256 << 10
	processingMarker     = "processing"
)

// ProblemChecker resolves published problems during intake.
type ProblemChecker interface {
	GetPublished(ctx context.Context, problemID int64) (*probrepo.Problem, error)
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int
	IPMax   int
	Window  time.Duration
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	MQ      time.Duration
	Storage time.Duration
	Status  time.Duration
}

// Config holds submit service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	StatusRepo     *judgeRepo.StatusRepository
	Problems       ProblemChecker
	Storage        storage.ObjectStorage
	MQ             mq.MessageQueue
	Cache          cache.Cache

	JudgeTopic          string
	FinalResultHandlers []FinalResultHandler
	SourceBucket        string
	SourceKeyPrefix     string
	MaxCodeBytes        int
	IdempotencyTTL      time.Duration
	RateLimit           RateLimitConfig
	Timeouts            TimeoutConfig
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissionRepo repository.SubmissionRepository
	statusRepo     *judgeRepo.StatusRepository
	problems       ProblemChecker
	storage        storage.ObjectStorage
	mq             mq.MessageQueue
	cache          cache.Cache

	judgeTopic          string
	finalResultHandlers []FinalResultHandler
	sourceBucket        string
	sourceKeyPrefix     string
	maxCodeBytes        int
	idempotencyTTL      time.Duration
	rateLimit           RateLimitConfig
	timeouts            TimeoutConfig
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ProblemID      int64
	UserID         int64
	Language       string
	SourceCode     string
	IdempotencyKey string
	ClientIP       string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem checker is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.MQ == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.JudgeTopic == "" {
		return nil, fmt.Errorf("judge topic is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	return &SubmitService{
		submissionRepo:      cfg.SubmissionRepo,
		statusRepo:          cfg.StatusRepo,
		problems:            cfg.Problems,
		storage:             cfg.Storage,
		mq:                  cfg.MQ,
		cache:               cfg.Cache,
		judgeTopic:          cfg.JudgeTopic,
		finalResultHandlers: cfg.FinalResultHandlers,
		sourceBucket:        cfg.SourceBucket,
		sourceKeyPrefix:     cfg.SourceKeyPrefix,
		maxCodeBytes:        cfg.MaxCodeBytes,
		idempotencyTTL:      cfg.IdempotencyTTL,
		rateLimit:           cfg.RateLimit,
		timeouts:            cfg.Timeouts,
	}, nil
}

// Submit accepts a submission and dispatches it to the judge queue. The
// returned status is the initial pending record; judging is asynchronous.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (int64, model.StatusRecord, error) {
	if err := s.validateInput(input); err != nil {
		return 0, model.StatusRecord{}, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return 0, model.StatusRecord{}, err
	}
	if _, err := s.problems.GetPublished(ctx, input.ProblemID); err != nil {
		return 0, model.StatusRecord{}, err
	}

	acquired, existingID, err := s.acquireIdempotency(ctx, input.IdempotencyKey)
	if err != nil {
		return 0, model.StatusRecord{}, err
	}
	if !acquired && existingID > 0 {
		status, statusErr := s.statusRepo.Get(ctx, existingID)
		if statusErr != nil {
			return 0, model.StatusRecord{}, statusErr
		}
		return existingID, status, nil
	}

	submissionID, err := s.nextSubmissionID(ctx)
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return 0, model.StatusRecord{}, err
	}
	sourceHash := hashSource(input.SourceCode)
	sourceKey := s.buildSourceKey(submissionID)
	createdAt := time.Now()

	if err := s.uploadSource(ctx, sourceKey, input.SourceCode); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return 0, model.StatusRecord{}, err
	}

	submission := &repository.Submission{
		ID:         submissionID,
		ProblemID:  input.ProblemID,
		UserID:     input.UserID,
		Language:   input.Language,
		SourceKey:  sourceKey,
		SourceHash: sourceHash,
		Status:     repository.StatusPending,
		CreatedAt:  createdAt,
	}

	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return 0, model.StatusRecord{}, err
	}

	pending := model.StatusRecord{
		SubmissionID: submissionID,
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		Language:     input.Language,
		Status:       model.StatusPending,
		ReceivedAt:   createdAt.Unix(),
	}
	if err := s.saveStatus(ctx, pending); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return 0, model.StatusRecord{}, err
	}

	if err := s.publishMessage(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey, acquired)
		return 0, model.StatusRecord{}, err
	}

	s.finalizeIdempotency(ctx, input.IdempotencyKey, submissionID, acquired)
	return submissionID, pending, nil
}

// GetStatus returns live status for one submission.
func (s *SubmitService) GetStatus(ctx context.Context, submissionID int64) (model.StatusRecord, error) {
	if submissionID <= 0 {
		return model.StatusRecord{}, appErr.ValidationError("submission_id", "required")
	}
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.Get(ctxStatus.ctx, submissionID)
}

// GetSubmission returns a submission record. Non-owners get a not-found so
// submission ids cannot be probed.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID, actorID int64, actorRole string) (*repository.Submission, error) {
	if submissionID <= 0 {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != actorID && actorRole != "admin" {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return submission, nil
}

// ListSubmissions lists the caller's submissions. Admins may list any user's.
func (s *SubmitService) ListSubmissions(ctx context.Context, filter repository.ListFilter, actorID int64, actorRole string) ([]*repository.Submission, int64, error) {
	if actorRole != "admin" {
		filter.UserID = actorID
	}
	if filter.UserID <= 0 && actorRole != "admin" {
		return nil, 0, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submissions, total, err := s.submissionRepo.List(ctxDB.ctx, filter)
	if err != nil {
		return nil, 0, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return submissions, total, nil
}

// GetSource returns the stored source code for a submission the caller owns.
func (s *SubmitService) GetSource(ctx context.Context, submissionID, actorID int64, actorRole string) (string, error) {
	submission, err := s.GetSubmission(ctx, submissionID, actorID, actorRole)
	if err != nil {
		return "", err
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.GetObject(ctxStorage.ctx, s.sourceBucket, submission.SourceKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "fetch source failed")
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, int64(s.maxCodeBytes)+1))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source failed")
	}
	return string(data), nil
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if !executor.IsSupported(strings.TrimSpace(input.Language)) {
		return appErr.New(appErr.LanguageNotSupported)
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge)
	}
	return nil
}

// nextSubmissionID allocates a monotonically increasing id from a shared
// counter so every instance hands out globally ordered ids.
func (s *SubmitService) nextSubmissionID(ctx context.Context) (int64, error) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	id, err := s.cache.Incr(ctxCache.ctx, submissionSeqKey)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "allocate submission id failed")
	}
	return id, nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, 0, nil
	}
	cacheKey := idempotencyKeyPrefix + key
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, 0, appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if id := parseSubmissionID(existing); id > 0 {
		return false, id, nil
	}

	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, ttl)
	if err != nil {
		return false, 0, appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, 0, nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, 0, appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if id := parseSubmissionID(existing); id > 0 {
		return false, id, nil
	}
	return false, 0, appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key string, submissionID int64, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ttl := s.idempotencyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, strconv.FormatInt(submissionID, 10), ttl); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string, acquired bool) {
	if !acquired || strings.TrimSpace(key) == "" {
		return
	}
	cacheKey := idempotencyKeyPrefix + strings.TrimSpace(key)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+strconv.FormatInt(userID, 10), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, objectKey, source string) error {
	sizeBytes := int64(len(source))
	reader := io.NopCloser(strings.NewReader(source))
	defer reader.Close()
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, objectKey, reader, sizeBytes, "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *repository.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.Create(ctxDB.ctx, nil, submission); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

func (s *SubmitService) saveStatus(ctx context.Context, status model.StatusRecord) error {
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	return s.statusRepo.Save(ctxStatus.ctx, status)
}

func (s *SubmitService) publishMessage(ctx context.Context, submission *repository.Submission) error {
	payload := model.JudgeMessage{
		SubmissionID: submission.ID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		Language:     submission.Language,
		SourceKey:    submission.SourceKey,
		SourceHash:   submission.SourceHash,
		SubmittedAt:  submission.CreatedAt.Unix(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode judge message failed")
	}
	message := mq.NewMessage(body)
	message.ID = strconv.FormatInt(submission.ID, 10)

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.mq.Publish(ctxMQ.ctx, s.judgeTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "publish judge message failed")
	}
	return nil
}

func (s *SubmitService) buildSourceKey(submissionID int64) string {
	return fmt.Sprintf("%s/%d/source.code", s.sourceKeyPrefix, submissionID)
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func parseSubmissionID(value string) int64 {
	if value == "" || value == processingMarker {
		return 0
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
