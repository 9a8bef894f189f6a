package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

// PartnershipRepository answers partnership agreement checks from iam.partnership_agreements.
type PartnershipRepository struct {
	exec pgExecutor
}

// NewPartnershipRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewPartnershipRepository(exec pgExecutor) *PartnershipRepository {
	return &PartnershipRepository{exec: exec}
}

// IsAgreementValid reports whether the partner holds an agreement that is active at the given instant.
func (r *PartnershipRepository) IsAgreementValid(ctx context.Context, partnerID string, at time.Time) (bool, error) {
	if partnerID == "" {
		return false, nil
	}

	stmt := `
		SELECT EXISTS (
			SELECT 1
			  FROM iam.partnership_agreements
			 WHERE partner_id = $1
			   AND terminated_at IS NULL
			   AND valid_from <= $2
			   AND valid_until > $2
		)
	`

	var valid bool
	if err := r.exec.QueryRow(ctx, stmt, partnerID, at.UTC()).Scan(&valid); err != nil {
		return false, fmt.Errorf("check partnership agreement: %w", err)
	}
	return valid, nil
}

var _ port.PartnershipChecker = (*PartnershipRepository)(nil)
