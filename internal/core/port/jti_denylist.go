package port

import (
	"context"
	"time"
)

// RevocationRegistry tracks access token identifiers revoked before their natural expiry.
type RevocationRegistry interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
	Purge(ctx context.Context, now time.Time) (int, error)
}
