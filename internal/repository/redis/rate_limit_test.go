package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_SlidingWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "login", TTL: 15 * time.Minute})

	ctx := context.Background()
	window := 15 * time.Minute
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "203.0.113.5", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	if ttl := server.TTL("login:203.0.113.5"); ttl != 15*time.Minute {
		t.Fatalf("expected ttl of 15m, got %v", ttl)
	}

	count, err := repo.CountAttempts(ctx, "203.0.113.5", window, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts, got %d", count)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "203.0.113.5", window, base.Add(5*time.Minute))
	if err != nil || !ok {
		t.Fatalf("OldestAttempt returned %v %v", ok, err)
	}
	if !oldest.Equal(base) {
		t.Fatalf("expected oldest attempt %v, got %v", base, oldest)
	}

	reference := base.Add(window + 90*time.Second)
	if err := repo.TrimWindow(ctx, "203.0.113.5", window, reference); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}
	count, err = repo.CountAttempts(ctx, "203.0.113.5", window, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 attempt after trimming, got %d", count)
	}
}

func TestRateLimitRepository_RejectsNonPositiveWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.CountAttempts(context.Background(), "ip", 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero window")
	}
	if err := repo.TrimWindow(context.Background(), "ip", -time.Second, time.Now()); err == nil {
		t.Fatalf("expected error for negative window")
	}
}
