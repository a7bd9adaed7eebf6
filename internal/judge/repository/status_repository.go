package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"algoforge/internal/common/cache"
	"algoforge/internal/judge/model"
	appErr "algoforge/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository persists live judge status in Redis.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID int64) (model.StatusRecord, error) {
	if submissionID <= 0 {
		return model.StatusRecord{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.StatusRecord{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKey(submissionID))
	if err != nil || val == "" {
		return model.StatusRecord{}, appErr.New(appErr.StatusNotFound)
	}
	var record model.StatusRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return model.StatusRecord{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return record, nil
}

// Save persists status. A terminal status is never overwritten by a later
// non-terminal write, so redeliveries cannot resurrect a finished submission.
func (r *StatusRepository) Save(ctx context.Context, record model.StatusRecord) error {
	if record.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}

	if !record.Status.Terminal() {
		existing, err := r.Get(ctx, record.SubmissionID)
		if err == nil && existing.Status.Terminal() {
			return appErr.New(appErr.SubmissionAlreadyDone)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKey(record.SubmissionID), string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

func statusKey(submissionID int64) string {
	return statusKeyPrefix + strconv.FormatInt(submissionID, 10)
}
