package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

const defaultRevocationPrefix = "revoked"

// RevocationRepository manages access-token JTI revocation state backed by Redis.
// Entries carry a TTL matching the remaining token lifetime, so they never outlive the token.
type RevocationRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client *red.Client, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used to derive TTLs.
func (r *RevocationRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Add stores the JTI until the token's own expiry. Already expired tokens are skipped.
func (r *RevocationRepository) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	key := r.key(jti)
	if key == "" {
		return errors.New("jti must not be empty")
	}

	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, key, expiresAt.UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}

	return nil
}

// Contains reports whether the JTI has been revoked.
func (r *RevocationRepository) Contains(ctx context.Context, jti string) (bool, error) {
	key := r.key(jti)
	if key == "" {
		return false, errors.New("jti must not be empty")
	}

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked jti: %w", err)
	}

	return n > 0, nil
}

// Purge is a no-op because Redis expires entries through their TTL.
func (r *RevocationRepository) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RevocationRepository) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.RevocationRegistry = (*RevocationRepository)(nil)
