package repository

import (
	"context"
	"errors"
	"time"

	"algoforge/internal/common/cache"
)

// BanCacheRepository is the redis fast path for ban checks. The users table
// stays authoritative; a missing key just falls through to the row check.
type BanCacheRepository interface {
	IsUserBanned(ctx context.Context, userID int64) (bool, error)
	MarkBanned(ctx context.Context, userID int64, ttl time.Duration) error
	UnmarkBanned(ctx context.Context, userID int64) error
}

const banKeyPrefix = "user:ban:"

type RedisBanCacheRepository struct {
	cache cache.Cache
}

func NewBanCacheRepository(cacheClient cache.Cache) BanCacheRepository {
	return &RedisBanCacheRepository{cache: cacheClient}
}

func (r *RedisBanCacheRepository) IsUserBanned(ctx context.Context, userID int64) (bool, error) {
	if r.cache == nil {
		return false, errors.New("cache is nil")
	}
	count, err := r.cache.Exists(ctx, banKeyPrefix+formatID(userID))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RedisBanCacheRepository) MarkBanned(ctx context.Context, userID int64, ttl time.Duration) error {
	if r.cache == nil {
		return errors.New("cache is nil")
	}
	return r.cache.Set(ctx, banKeyPrefix+formatID(userID), "1", ttl)
}

func (r *RedisBanCacheRepository) UnmarkBanned(ctx context.Context, userID int64) error {
	if r.cache == nil {
		return errors.New("cache is nil")
	}
	return r.cache.Del(ctx, banKeyPrefix+formatID(userID))
}
