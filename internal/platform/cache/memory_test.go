package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGetDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !IsMiss(err) {
		t.Fatalf("expected miss for absent key, got %v", err)
	}

	if err := c.Set(ctx, "k", []byte("value"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("expected value, got %q", got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	current := time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithClock(func() time.Time { return current }))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("value"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	current = current.Add(59 * time.Second)
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("expected hit before expiry, got %v", err)
	}

	current = current.Add(2 * time.Second)
	if _, err := c.Get(ctx, "k"); !IsMiss(err) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCacheGetCopiesValue(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("abc"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	first, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first[0] = 'X'

	second, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(second) != "abc" {
		t.Fatalf("expected stored value untouched, got %q", second)
	}
}

func TestMemoryCacheIncrement(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	got, err := c.Increment(ctx, "counter", 1)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected counter created at 1, got %d", got)
	}

	got, err = c.Increment(ctx, "counter", 5)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
}
