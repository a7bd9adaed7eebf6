// Package cache keeps decoded test data packs in memory so repeated
// submissions for the same problem do not refetch from object storage.
package cache

import (
	"context"
	"sync"
	"time"

	"algoforge/internal/problem/repository"
)

const defaultPackTTL = 10 * time.Minute

// PackLoader fetches and decodes a test data pack by object key and hash.
type PackLoader interface {
	Load(ctx context.Context, key, hash string) ([]repository.TestCase, error)
}

type packEntry struct {
	hash      string
	cases     []repository.TestCase
	expiresAt time.Time
}

// DataPackCache caches decoded packs per problem. The pack hash doubles as
// the cache validity check: a republished data set gets a new hash and the
// stale entry is dropped.
type DataPackCache struct {
	loader PackLoader
	ttl    time.Duration

	mu      sync.Mutex
	entries map[int64]packEntry
}

// NewDataPackCache creates a cache over the given loader.
func NewDataPackCache(loader PackLoader, ttl time.Duration) *DataPackCache {
	if ttl <= 0 {
		ttl = defaultPackTTL
	}
	return &DataPackCache{
		loader:  loader,
		ttl:     ttl,
		entries: make(map[int64]packEntry),
	}
}

// Get returns the test cases for a problem, loading on miss or hash change.
func (c *DataPackCache) Get(ctx context.Context, problemID int64, key, hash string) ([]repository.TestCase, error) {
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.entries[problemID]
	if ok && entry.hash == hash && now.Before(entry.expiresAt) {
		cases := entry.cases
		c.mu.Unlock()
		return cases, nil
	}
	c.mu.Unlock()

	cases, err := c.loader.Load(ctx, key, hash)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[problemID] = packEntry{hash: hash, cases: cases, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return cases, nil
}

// Invalidate drops the cached pack for a problem.
func (c *DataPackCache) Invalidate(problemID int64) {
	c.mu.Lock()
	delete(c.entries, problemID)
	c.mu.Unlock()
}
