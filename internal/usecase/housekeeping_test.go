package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hoale240803/kaopiz-sub000/internal/repository/memory"
)

func TestHousekeepingRunOnce(t *testing.T) {
	h := newAuthHarness(t, testAuthSettings(), endUser())
	ctx := context.Background()

	login := loginAlice(t, h)
	claims, err := h.service.ValidateAccessToken(ctx, login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken returned error: %v", err)
	}
	if err := h.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if err := h.limiter.RecordFailure(ctx, "203.0.113.5"); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}

	h.advance(40 * 24 * time.Hour)

	service := NewHousekeepingService(h.refresh, h.tokens, h.limiter, time.Hour, zaptest.NewLogger(t))
	if succeeded := service.RunOnce(ctx); succeeded != 3 {
		t.Fatalf("expected 3 successful steps, got %d", succeeded)
	}

	if h.registry.Len() != 0 {
		t.Fatalf("expected revocation registry purged, got %d entries", h.registry.Len())
	}
	if _, err := h.refresh.Lookup(ctx, login.Tokens.RefreshToken); err == nil {
		t.Fatalf("expected expired refresh token to be deleted")
	}
	if count, _ := h.rateStore.CountAttempts(ctx, "203.0.113.5", time.Hour*24*365, h.now); count != 0 {
		t.Fatalf("expected rate limit state purged, got %d", count)
	}
}

func TestHousekeepingStepFailureDoesNotStopOthers(t *testing.T) {
	limiter := NewLoginRateLimiter(failingRateLimitStore{}, testRateLimitSettings(), nil)
	refresh := NewRefreshTokenService(memory.NewRefreshTokenRepository(), testAuthSettings(), nil)

	service := NewHousekeepingService(refresh, nil, limiter, 0, zaptest.NewLogger(t))
	if succeeded := service.RunOnce(context.Background()); succeeded != 1 {
		t.Fatalf("expected the refresh cleanup to succeed alone, got %d", succeeded)
	}
}

func TestHousekeepingStartStop(t *testing.T) {
	refresh := NewRefreshTokenService(memory.NewRefreshTokenRepository(), testAuthSettings(), nil)
	service := NewHousekeepingService(refresh, nil, nil, time.Millisecond, zaptest.NewLogger(t))

	service.Start()
	time.Sleep(5 * time.Millisecond)
	service.Stop()
	service.Stop()
}

func TestHousekeepingStopBeforeStart(t *testing.T) {
	service := NewHousekeepingService(nil, nil, nil, 0, nil)
	service.Stop()

	if succeeded := service.RunOnce(context.Background()); succeeded != 0 {
		t.Fatalf("expected no steps without collaborators, got %d", succeeded)
	}
}
