package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Principals    *PrincipalRepository
	RefreshTokens *RefreshTokenRepository
	Partnerships  *PartnershipRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Principals:    NewPrincipalRepository(pool),
		RefreshTokens: NewRefreshTokenRepository(pool),
		Partnerships:  NewPartnershipRepository(pool),
	}
}
