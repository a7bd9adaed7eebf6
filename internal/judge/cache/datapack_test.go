package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"algoforge/internal/problem/repository"
)

type countingLoader struct {
	loads int
	err   error
}

func (l *countingLoader) Load(ctx context.Context, key, hash string) ([]repository.TestCase, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return []repository.TestCase{{Input: key, Expected: hash}}, nil
}

func TestDataPackCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	c := NewDataPackCache(loader, time.Minute)
	ctx := context.Background()

	cases, err := c.Get(ctx, 1, "packs/1", "h1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(cases) != 1 || loader.loads != 1 {
		t.Fatalf("expected one load, got %d", loader.loads)
	}

	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loader.loads != 1 {
		t.Fatalf("cached entry should not reload, loads=%d", loader.loads)
	}

	if _, err := c.Get(ctx, 2, "packs/2", "h1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loader.loads != 2 {
		t.Fatalf("distinct problems load separately, loads=%d", loader.loads)
	}
}

func TestDataPackCache_HashChangeReloads(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	c := NewDataPackCache(loader, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	cases, err := c.Get(ctx, 1, "packs/1", "h2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loader.loads != 2 {
		t.Fatalf("hash change must reload, loads=%d", loader.loads)
	}
	if cases[0].Expected != "h2" {
		t.Fatalf("stale cases returned after republish")
	}
}

func TestDataPackCache_Invalidate(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{}
	c := NewDataPackCache(loader, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	c.Invalidate(1)
	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if loader.loads != 2 {
		t.Fatalf("invalidated entry should reload, loads=%d", loader.loads)
	}
}

func TestDataPackCache_LoadErrorNotCached(t *testing.T) {
	t.Parallel()

	loader := &countingLoader{err: fmt.Errorf("object missing")}
	c := NewDataPackCache(loader, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err == nil {
		t.Fatalf("expected load error")
	}
	loader.err = nil
	if _, err := c.Get(ctx, 1, "packs/1", "h1"); err != nil {
		t.Fatalf("get after recovery failed: %v", err)
	}
	if loader.loads != 2 {
		t.Fatalf("failed load must not poison the cache, loads=%d", loader.loads)
	}
}
