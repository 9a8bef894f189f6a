package port

import (
	"context"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

// PrincipalRepository loads authenticatable identities. Principals are owned by the
// external user store and are only read here.
type PrincipalRepository interface {
	GetByEmail(ctx context.Context, email string) (*domain.Principal, error)
	GetByID(ctx context.Context, userID string) (*domain.Principal, error)
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*domain.Principal, error)
}

// PartnershipChecker confirms a partner organisation holds a valid agreement.
type PartnershipChecker interface {
	IsAgreementValid(ctx context.Context, partnerID string, at time.Time) (bool, error)
}
