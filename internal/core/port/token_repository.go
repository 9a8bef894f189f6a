package port

import (
	"context"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

// RefreshTokenRepository persists refresh tokens and performs atomic state transitions.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Rotate revokes the active token identified by oldID and inserts successor in one step.
	// It returns repository.ErrConflict when oldID is no longer active.
	Rotate(ctx context.Context, oldID string, successor domain.RefreshToken, at time.Time, ip string) error
	// Revoke returns false when the token was already revoked.
	Revoke(ctx context.Context, id string, at time.Time, ip string, reason string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string, at time.Time, ip string, reason string) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time, ip string, reason string) (int, error)
	// ListActiveByUser returns active tokens ordered oldest first.
	ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.RefreshToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
