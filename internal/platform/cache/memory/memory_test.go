package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/podshare/podshare-go/internal/platform/cache"
)

func TestSetGetDelete(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("expected v1, got %q", got)
	}

	// The returned slice is a copy; mutating it must not poison the cache.
	got[0] = 'X'
	got, err = c.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Errorf("expected stored value unchanged, got %q, %v", got, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is a no-op.
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, cache.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	c := New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("old"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(ctx, "k", []byte("new"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "new" {
		t.Errorf("expected overwritten value, got %q, %v", got, err)
	}
}

func TestDriverRegistry(t *testing.T) {
	c := cache.New("memory", map[string]any{"default_ttl_seconds": 60})
	if c == nil {
		t.Fatal("expected registered memory driver")
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := c.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Errorf("expected roundtrip through registry-built cache, got %q, %v", got, err)
	}

	if cache.New("unknown", nil) != nil {
		t.Error("expected nil for unknown driver")
	}
}
