package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

// RefreshTokenRepository is a process-local refresh token store. All state transitions
// happen under one mutex, which gives Rotate its compare-and-set semantics.
type RefreshTokenRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.RefreshToken
	byHash map[string]string
}

// NewRefreshTokenRepository constructs an empty repository.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byID:   make(map[string]*domain.RefreshToken),
		byHash: make(map[string]string),
	}
}

// Create stores a new token. Duplicate ids or hashes are rejected.
func (r *RefreshTokenRepository) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(token)
}

func (r *RefreshTokenRepository) createLocked(token domain.RefreshToken) error {
	if token.ID == "" || token.TokenHash == "" {
		return errors.New("refresh token id and hash are required")
	}
	if _, exists := r.byID[token.ID]; exists {
		return repository.ErrConflict
	}
	if _, exists := r.byHash[token.TokenHash]; exists {
		return repository.ErrConflict
	}
	stored := cloneToken(token)
	r.byID[token.ID] = &stored
	r.byHash[token.TokenHash] = token.ID
	return nil
}

// GetByHash returns a copy of the stored token.
func (r *RefreshTokenRepository) GetByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	token := cloneToken(*r.byID[id])
	return &token, nil
}

// Rotate revokes oldID and stores successor if oldID is still active at the given instant.
func (r *RefreshTokenRepository) Rotate(_ context.Context, oldID string, successor domain.RefreshToken, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[oldID]
	if !ok {
		return repository.ErrNotFound
	}
	if !current.IsValid(at) {
		return repository.ErrConflict
	}
	if err := r.createLocked(successor); err != nil {
		return err
	}
	current.ReplaceWith(successor.ID, at, ip)
	return nil
}

// Revoke marks the token revoked; false means it was already revoked.
func (r *RefreshTokenRepository) Revoke(_ context.Context, id string, at time.Time, ip string, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	return current.Revoke(at, ip, reason), nil
}

// RevokeFamily revokes every unrevoked token of the family.
func (r *RefreshTokenRepository) RevokeFamily(_ context.Context, familyID string, at time.Time, ip string, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, token := range r.byID {
		if token.FamilyID == familyID && token.Revoke(at, ip, reason) {
			count++
		}
	}
	return count, nil
}

// RevokeAllForUser revokes every unrevoked token owned by the user.
func (r *RefreshTokenRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time, ip string, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, token := range r.byID {
		if token.UserID == userID && token.Revoke(at, ip, reason) {
			count++
		}
	}
	return count, nil
}

// ListActiveByUser returns the user's active tokens, oldest first.
func (r *RefreshTokenRepository) ListActiveByUser(_ context.Context, userID string, at time.Time) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tokens []domain.RefreshToken
	for _, token := range r.byID {
		if token.UserID == userID && token.IsValid(at) {
			tokens = append(tokens, cloneToken(*token))
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].ID < tokens[j].ID
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for id, token := range r.byID {
		if token.ExpiresAt.Before(before) {
			delete(r.byHash, token.TokenHash)
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func cloneToken(token domain.RefreshToken) domain.RefreshToken {
	clone := token
	if token.RevokedAt != nil {
		at := *token.RevokedAt
		clone.RevokedAt = &at
	}
	if token.RevokedByIP != nil {
		ip := *token.RevokedByIP
		clone.RevokedByIP = &ip
	}
	if token.RevokedReason != nil {
		reason := *token.RevokedReason
		clone.RevokedReason = &reason
	}
	if token.ReplacedByTokenID != nil {
		id := *token.ReplacedByTokenID
		clone.ReplacedByTokenID = &id
	}
	return clone
}

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
