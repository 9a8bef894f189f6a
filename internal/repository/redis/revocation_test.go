package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRevocationRepository_AddAndContains(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRevocationRepository(client, "revoked")

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.WithClock(func() time.Time { return now })

	ctx := context.Background()
	if err := repo.Add(ctx, "jti-123", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	revoked, err := repo.Contains(ctx, "jti-123")
	if err != nil {
		t.Fatalf("Contains returned error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected jti to be revoked")
	}

	if remaining := server.TTL("revoked:jti-123"); remaining != 2*time.Minute {
		t.Fatalf("expected ttl of 2m, got %v", remaining)
	}

	server.FastForward(2 * time.Minute)

	revoked, err = repo.Contains(ctx, "jti-123")
	if err != nil {
		t.Fatalf("Contains returned error: %v", err)
	}
	if revoked {
		t.Fatalf("expected entry to expire with the token")
	}
}

func TestRevocationRepository_SkipsExpiredTokens(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRevocationRepository(client, "")

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.WithClock(func() time.Time { return now })

	if err := repo.Add(context.Background(), "jti-old", now.Add(-time.Second)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if server.Exists("revoked:jti-old") {
		t.Fatalf("expected expired token not to be stored")
	}
}

func TestRevocationRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRevocationRepository(client, "revoked")

	if err := repo.Add(context.Background(), "", time.Now().Add(time.Minute)); err == nil {
		t.Fatalf("expected error for empty jti")
	}
	if _, err := repo.Contains(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty jti in Contains")
	}
}

func TestRevocationRepository_ContainsFailsWhenRedisDown(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRevocationRepository(client, "revoked")

	server.Close()

	if _, err := repo.Contains(context.Background(), "jti"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}
