package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
)

const unknownRateLimitKey = "unknown"

// LoginRateLimiter counts failed logins per client key over a sliding window.
type LoginRateLimiter struct {
	store       port.RateLimitStore
	maxAttempts int
	window      time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewLoginRateLimiter constructs a limiter over the provided store.
func NewLoginRateLimiter(store port.RateLimitStore, cfg config.RateLimitSettings, logger *zap.Logger) *LoginRateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := &LoginRateLimiter{
		store:       store,
		maxAttempts: cfg.LoginMaxAttempts,
		window:      cfg.LoginWindow(),
		logger:      logger,
	}
	limiter.now = func() time.Time { return time.Now().UTC() }
	return limiter
}

// WithClock overrides the limiter clock for deterministic tests.
func (l *LoginRateLimiter) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// Window returns the sliding window length.
func (l *LoginRateLimiter) Window() time.Duration {
	return l.window
}

// IsBlocked trims stale attempts and reports whether the key reached the limit.
// Store failures block the caller.
func (l *LoginRateLimiter) IsBlocked(ctx context.Context, key string) (bool, error) {
	key = normalizeRateLimitKey(key)
	now := l.now()

	if err := l.store.TrimWindow(ctx, key, l.window, now); err != nil {
		l.logger.Error("rate limit trim failed", zap.String("key", key), zap.Error(err))
		return true, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	count, err := l.store.CountAttempts(ctx, key, l.window, now)
	if err != nil {
		l.logger.Error("rate limit count failed", zap.String("key", key), zap.Error(err))
		return true, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	return count >= l.maxAttempts, nil
}

// RecordFailure appends a failed attempt for the key.
func (l *LoginRateLimiter) RecordFailure(ctx context.Context, key string) error {
	key = normalizeRateLimitKey(key)
	if err := l.store.RecordAttempt(ctx, key, l.now()); err != nil {
		return fmt.Errorf("record failed login attempt: %w", err)
	}
	return nil
}

// RetryAfter returns how long until the oldest counted attempt leaves the window.
func (l *LoginRateLimiter) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	key = normalizeRateLimitKey(key)
	now := l.now()

	oldest, ok, err := l.store.OldestAttempt(ctx, key, l.window, now)
	if err != nil {
		return l.window, fmt.Errorf("read oldest attempt: %w", err)
	}
	if !ok {
		return 0, nil
	}

	wait := oldest.Add(l.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// Purge drops keys whose attempts all fall outside the window.
func (l *LoginRateLimiter) Purge(ctx context.Context) (int, error) {
	removed, err := l.store.PurgeExpired(ctx, l.window, l.now())
	if err != nil {
		return 0, fmt.Errorf("purge rate limit state: %w", err)
	}
	return removed, nil
}

func normalizeRateLimitKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return unknownRateLimitKey
	}
	return key
}
