package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

// RateLimitStore keeps failed-attempt timestamps per identifier in process memory.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimitStore constructs an empty store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

// RecordAttempt appends the timestamp to the identifier's window.
func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New("identifier must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[identifier] = append(s.attempts[identifier], at.UTC())
	return nil
}

// CountAttempts returns how many attempts fall inside (reference-window, reference].
func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(threshold) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

// TrimWindow drops attempts at or before reference-window.
func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked(identifier, reference.Add(-window))
	return nil
}

// OldestAttempt returns the oldest attempt still inside the window.
func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := reference.Add(-window)
	var (
		oldest time.Time
		found  bool
	)
	for _, at := range s.attempts[identifier] {
		if !at.After(threshold) || at.After(reference) {
			continue
		}
		if !found || at.Before(oldest) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

// PurgeExpired removes identifiers with no attempts left inside the window.
func (s *RateLimitStore) PurgeExpired(_ context.Context, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := reference.Add(-window)
	removed := 0
	for identifier := range s.attempts {
		if s.trimLocked(identifier, threshold) {
			removed++
		}
	}
	return removed, nil
}

// trimLocked reports whether the identifier was removed entirely.
func (s *RateLimitStore) trimLocked(identifier string, threshold time.Time) bool {
	current, ok := s.attempts[identifier]
	if !ok {
		return false
	}
	kept := current[:0]
	for _, at := range current {
		if at.After(threshold) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, identifier)
		return true
	}
	s.attempts[identifier] = kept
	return false
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
