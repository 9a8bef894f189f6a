package security

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

// RefreshTokenBytes is the entropy of an opaque refresh token (256 bits).
const RefreshTokenBytes = 32

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenIssuerConfig configures access token minting.
type TokenIssuerConfig struct {
	KeyID    string
	Issuer   string
	Audience []string
	TTL      time.Duration
}

// TokenIssuer mints and parses RS256 access tokens.
type TokenIssuer struct {
	manager *JWTManager
	cfg     TokenIssuerConfig
	now     func() time.Time
}

// NewTokenIssuer creates a new TokenIssuer.
func NewTokenIssuer(manager *JWTManager, cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if manager == nil {
		return nil, errors.New("jwt manager is required")
	}
	if strings.TrimSpace(cfg.KeyID) == "" {
		return nil, ErrKeyIDMissing
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultAccessTokenTTL
	}
	return &TokenIssuer{
		manager: manager,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source.
func (t *TokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		t.now = clock
	}
}

// GetKID returns the Key ID used for signing.
func (t *TokenIssuer) GetKID() string {
	return t.cfg.KeyID
}

// TTL returns the configured access token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.cfg.TTL
}

// Issue signs a new access token for the claim set.
func (t *TokenIssuer) Issue(_ context.Context, claims domain.ClaimSet) (domain.AccessToken, error) {
	tokenClaims, err := NewAccessTokenClaims(AccessTokenOptions{
		Claims:   claims,
		Issuer:   t.cfg.Issuer,
		Audience: t.cfg.Audience,
		TTL:      t.cfg.TTL,
		IssuedAt: t.now(),
	})
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}

	signed, err := t.manager.SignAccessToken(t.cfg.KeyID, tokenClaims)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("%w: %v", domain.ErrSigningFailure, err)
	}

	return domain.AccessToken{
		Token:     signed,
		JTI:       tokenClaims.ID,
		ExpiresAt: tokenClaims.ExpiresAt.Time,
	}, nil
}

// Parse validates a raw access token.
func (t *TokenIssuer) Parse(_ context.Context, raw string) (*AccessTokenClaims, error) {
	claims, err := t.manager.ParseAccessToken(strings.TrimSpace(raw), t.cfg.Issuer, t.cfg.Audience, t.now)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("%w: missing jti", domain.ErrUnauthorized)
	}
	return claims, nil
}

var _ port.AccessTokenIssuer = (*TokenIssuer)(nil)
