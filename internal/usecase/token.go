package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
)

// AccessTokenCodec mints and verifies signed access tokens.
type AccessTokenCodec interface {
	port.AccessTokenIssuer
	Parse(ctx context.Context, raw string) (*security.AccessTokenClaims, error)
}

// TokenService issues access tokens and enforces early revocation through the registry.
type TokenService struct {
	codec    AccessTokenCodec
	registry port.RevocationRegistry
	metrics  port.AuthMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(codec AccessTokenCodec, registry port.RevocationRegistry, metrics port.AuthMetrics, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopAuthMetrics{}
	}

	service := &TokenService{
		codec:    codec,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue mints an access token for the claim set.
func (s *TokenService) Issue(ctx context.Context, claims domain.ClaimSet) (domain.AccessToken, error) {
	token, err := s.codec.Issue(ctx, claims)
	if err != nil {
		if errors.Is(err, domain.ErrSigningFailure) {
			return domain.AccessToken{}, err
		}
		return domain.AccessToken{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}
	return token, nil
}

// Validate verifies the token signature and lifetime and rejects revoked identifiers.
func (s *TokenService) Validate(ctx context.Context, raw string) (*security.AccessTokenClaims, error) {
	claims, err := s.codec.Parse(ctx, raw)
	if err != nil {
		return nil, err
	}

	revoked, err := s.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, domain.ErrTokenRevoked
	}
	return claims, nil
}

// IsRevoked reports whether the identifier is in the registry.
// Registry failures report the token as revoked.
func (s *TokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return true, domain.ErrTokenRevoked
	}

	revoked, err := s.registry.Contains(ctx, jti)
	if err != nil {
		s.metrics.IncRevocationStoreFailure()
		s.logger.Error("revocation registry lookup failed", zap.String("jti", jti), zap.Error(err))
		return true, fmt.Errorf("%w: revocation lookup: %v", domain.ErrStorageUnavailable, err)
	}
	return revoked, nil
}

// Revoke records the identifier until the token's own expiry.
func (s *TokenService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return nil
	}
	if !expiresAt.After(s.now()) {
		return nil
	}

	if err := s.registry.Add(ctx, jti, expiresAt); err != nil {
		s.metrics.IncRevocationStoreFailure()
		return fmt.Errorf("%w: revoke access token: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Purge drops registry entries whose tokens have expired.
func (s *TokenService) Purge(ctx context.Context) (int, error) {
	removed, err := s.registry.Purge(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge revocation registry: %w", err)
	}
	return removed, nil
}

type noopAuthMetrics struct{}

func (noopAuthMetrics) ObserveLogin(string) {}
func (noopAuthMetrics) ObserveRefresh(string) {}
func (noopAuthMetrics) IncReuseDetected() {}
func (noopAuthMetrics) IncRateLimited() {}
func (noopAuthMetrics) IncLogout() {}
func (noopAuthMetrics) IncRevocationStoreFailure() {}
