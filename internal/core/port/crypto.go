package port

import (
	"context"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// AccessTokenIssuer mints signed access tokens from an ordered claim set.
type AccessTokenIssuer interface {
	Issue(ctx context.Context, claims domain.ClaimSet) (domain.AccessToken, error)
}
