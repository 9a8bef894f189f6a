package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

// ErrDenylistFull is returned by Add when every tracked entry is still live and the
// registry has reached MaxEntries.
var ErrDenylistFull = errors.New("jti denylist is full")

// JTIDenylistOptions controls in-memory denylist behaviour.
type JTIDenylistOptions struct {
	// MaxEntries bounds the registry. Only expired entries are dropped to make room. Zero means unbounded.
	MaxEntries int
}

type denylistEntry struct {
	ExpiresAt time.Time
}

// JTIDenylist is an in-memory revocation registry for access token identifiers.
type JTIDenylist struct {
	mu         sync.RWMutex
	entries    map[string]denylistEntry
	maxEntries int
	now        func() time.Time
}

// NewJTIDenylist constructs an in-memory denylist.
func NewJTIDenylist(opts JTIDenylistOptions) *JTIDenylist {
	cache := &JTIDenylist{
		entries:    make(map[string]denylistEntry),
		maxEntries: opts.MaxEntries,
	}
	cache.now = func() time.Time { return time.Now().UTC() }
	return cache
}

// WithClock overrides the internal clock for deterministic testing.
func (c *JTIDenylist) WithClock(clock func() time.Time) *JTIDenylist {
	if clock != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.now = clock
	}
	return c
}

// Add records a revoked JTI until its expiration elapses.
func (c *JTIDenylist) Add(_ context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return fmt.Errorf("jti is required")
	}

	expiresAt = expiresAt.UTC()
	now := c.currentTime()
	if !expiresAt.After(now) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.entries[jti]
	if !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.pruneExpiredLocked(now)
		if len(c.entries) >= c.maxEntries {
			return ErrDenylistFull
		}
	}

	if exists && existing.ExpiresAt.After(expiresAt) {
		return nil
	}
	c.entries[jti] = denylistEntry{ExpiresAt: expiresAt}
	return nil
}

// Contains tests whether the supplied JTI has been revoked and is still within its lifetime.
func (c *JTIDenylist) Contains(_ context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, fmt.Errorf("jti is required")
	}

	now := c.currentTime()
	c.mu.RLock()
	entry, ok := c.entries[jti]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !entry.ExpiresAt.After(now) {
		// Expired entries are lazily pruned on access. A concurrent Add may have
		// refreshed the entry since the read lock was released.
		c.mu.Lock()
		if current, ok := c.entries[jti]; ok && !current.ExpiresAt.After(now) {
			delete(c.entries, jti)
		}
		c.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Purge removes entries whose token has expired at now.
func (c *JTIDenylist) Purge(_ context.Context, now time.Time) (int, error) {
	cutoff := now.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pruneExpiredLocked(cutoff), nil
}

// Len returns the number of tracked entries, expired ones included until purged.
func (c *JTIDenylist) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *JTIDenylist) currentTime() time.Time {
	c.mu.RLock()
	nowFn := c.now
	c.mu.RUnlock()
	if nowFn == nil {
		return time.Now().UTC()
	}
	return nowFn().UTC()
}

func (c *JTIDenylist) pruneExpiredLocked(cutoff time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if !entry.ExpiresAt.After(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

var _ port.RevocationRegistry = (*JTIDenylist)(nil)
