package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

// RefreshTokenParams describes a refresh token to mint at login.
type RefreshTokenParams struct {
	UserID      string
	IP          string
	Fingerprint string
	RememberMe  bool
}

// IssuedRefreshToken carries the raw value handed to the client together with the stored record.
type IssuedRefreshToken struct {
	Raw   string
	Token domain.RefreshToken
	// Evicted lists tokens revoked to respect the per-user session cap.
	Evicted []string
}

// RotationResult is the outcome of a rotation. Previous is populated whenever the
// presented token was found, including on reuse.
type RotationResult struct {
	Raw      string
	Token    domain.RefreshToken
	Previous domain.RefreshToken
}

// RefreshTokenService manages refresh token issuance, rotation and revocation.
type RefreshTokenService struct {
	repo     port.RefreshTokenRepository
	settings config.AuthSettings
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	generate func() (string, error)
}

// NewRefreshTokenService constructs a RefreshTokenService instance.
func NewRefreshTokenService(repo port.RefreshTokenRepository, settings config.AuthSettings, logger *zap.Logger) *RefreshTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &RefreshTokenService{
		repo:     repo,
		settings: settings,
		logger:   logger,
		newID:    uuid.NewString,
		generate: func() (string, error) { return security.GenerateSecureToken(security.RefreshTokenBytes) },
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *RefreshTokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Create mints a new token family for the user, evicting the oldest active
// tokens first when the user is at the session cap.
func (s *RefreshTokenService) Create(ctx context.Context, params RefreshTokenParams) (IssuedRefreshToken, error) {
	if strings.TrimSpace(params.UserID) == "" {
		return IssuedRefreshToken{}, errors.New("refresh token owner is required")
	}

	now := s.now()
	evicted, err := s.enforceSessionCap(ctx, params, now)
	if err != nil {
		return IssuedRefreshToken{}, err
	}

	raw, err := s.generate()
	if err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}

	id := s.newID()
	token := domain.RefreshToken{
		ID:                id,
		UserID:            params.UserID,
		TokenHash:         security.HashToken(raw),
		FamilyID:          id,
		RememberMe:        params.RememberMe,
		CreatedAt:         now,
		CreatedByIP:       params.IP,
		ExpiresAt:         now.Add(s.settings.RefreshTokenTTL(params.RememberMe)),
		DeviceFingerprint: params.Fingerprint,
	}

	if err := s.repo.Create(ctx, token); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("%w: persist refresh token: %v", domain.ErrStorageUnavailable, err)
	}

	return IssuedRefreshToken{Raw: raw, Token: token, Evicted: evicted}, nil
}

func (s *RefreshTokenService) enforceSessionCap(ctx context.Context, params RefreshTokenParams, now time.Time) ([]string, error) {
	limit := s.settings.MaxActiveRefreshTokensPerUser
	if limit <= 0 {
		return nil, nil
	}

	active, err := s.repo.ListActiveByUser(ctx, params.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: list active refresh tokens: %v", domain.ErrStorageUnavailable, err)
	}

	if !s.settings.RememberMeCountsTowardCap {
		sameKind := active[:0:0]
		for _, token := range active {
			if token.RememberMe == params.RememberMe {
				sameKind = append(sameKind, token)
			}
		}
		active = sameKind
	}

	var evicted []string
	for i := 0; len(active)-i >= limit; i++ {
		changed, err := s.repo.Revoke(ctx, active[i].ID, now, params.IP, domain.RevokeReasonMaxSessionsExceeded)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return evicted, fmt.Errorf("%w: evict refresh token: %v", domain.ErrStorageUnavailable, err)
		}
		if changed {
			evicted = append(evicted, active[i].ID)
		}
	}

	if len(evicted) > 0 {
		s.logger.Info("refresh token session cap enforced",
			zap.String("user_id", params.UserID),
			zap.Int("evicted", len(evicted)),
			zap.Int("limit", limit),
		)
	}
	return evicted, nil
}

// Lookup resolves a raw refresh token value to its stored record.
func (s *RefreshTokenService) Lookup(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrTokenNotFound
	}

	token, err := s.repo.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: load refresh token: %v", domain.ErrStorageUnavailable, err)
	}
	return token, nil
}

// Rotate exchanges an active refresh token for its successor. Presenting a token that
// was already revoked or replaced revokes the family and every active token of the owner.
func (s *RefreshTokenService) Rotate(ctx context.Context, raw, ip string) (RotationResult, error) {
	current, err := s.Lookup(ctx, raw)
	if err != nil {
		return RotationResult{}, err
	}

	result := RotationResult{Previous: *current}
	now := s.now()

	if current.IsRevoked() || current.IsReplaced() {
		return result, s.handleReuse(ctx, *current, ip, now)
	}
	if current.IsExpired(now) {
		return result, domain.ErrTokenExpired
	}

	nextRaw, err := s.generate()
	if err != nil {
		return result, fmt.Errorf("generate refresh token: %w", err)
	}

	ttl := s.settings.RefreshTokenTTL(current.RememberMe)
	successor := domain.RefreshToken{
		ID:                s.newID(),
		UserID:            current.UserID,
		TokenHash:         security.HashToken(nextRaw),
		FamilyID:          current.FamilyID,
		RememberMe:        current.RememberMe,
		CreatedAt:         now,
		CreatedByIP:       ip,
		ExpiresAt:         now.Add(ttl),
		DeviceFingerprint: current.DeviceFingerprint,
	}
	if successor.FamilyID == "" {
		successor.FamilyID = current.ID
	}

	if err := s.repo.Rotate(ctx, current.ID, successor, now, ip); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return result, s.resolveConflict(ctx, raw, *current, ip)
		case errors.Is(err, repository.ErrNotFound):
			return result, domain.ErrTokenNotFound
		default:
			return result, fmt.Errorf("%w: rotate refresh token: %v", domain.ErrStorageUnavailable, err)
		}
	}

	result.Raw = nextRaw
	result.Token = successor
	return result, nil
}

// resolveConflict runs when the compare-and-set lost. A token that merely expired in the
// meantime is reported as expired; anything else means another caller used it first.
func (s *RefreshTokenService) resolveConflict(ctx context.Context, raw string, current domain.RefreshToken, ip string) error {
	now := s.now()
	latest, err := s.Lookup(ctx, raw)
	if err == nil && !latest.IsRevoked() && !latest.IsReplaced() && latest.IsExpired(now) {
		return domain.ErrTokenExpired
	}
	return s.handleReuse(ctx, current, ip, now)
}

func (s *RefreshTokenService) handleReuse(ctx context.Context, token domain.RefreshToken, ip string, now time.Time) error {
	familyID := token.FamilyID
	if familyID == "" {
		familyID = token.ID
	}

	var errs []error
	family, err := s.repo.RevokeFamily(ctx, familyID, now, ip, domain.RevokeReasonReuseDetected)
	if err != nil {
		errs = append(errs, fmt.Errorf("revoke token family: %w", err))
	}
	owned, err := s.repo.RevokeAllForUser(ctx, token.UserID, now, ip, domain.RevokeReasonReuseDetected)
	if err != nil {
		errs = append(errs, fmt.Errorf("revoke user tokens: %w", err))
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", token.UserID),
		zap.String("token_id", token.ID),
		zap.String("family_id", familyID),
		zap.Int("family_revoked", family),
		zap.Int("user_revoked", owned),
		zap.String("ip", ip),
	)

	if len(errs) > 0 {
		return errors.Join(domain.ErrTokenReuseDetected, domain.ErrStorageUnavailable, errors.Join(errs...))
	}
	return domain.ErrTokenReuseDetected
}

// Revoke marks the token revoked. Unknown or already revoked tokens are not an error.
func (s *RefreshTokenService) Revoke(ctx context.Context, raw, ip, reason string) error {
	token, err := s.Lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	return s.RevokeRecord(ctx, *token, ip, reason)
}

// RevokeRecord revokes an already loaded token idempotently.
func (s *RefreshTokenService) RevokeRecord(ctx context.Context, token domain.RefreshToken, ip, reason string) error {
	if _, err := s.repo.Revoke(ctx, token.ID, s.now(), ip, reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: revoke refresh token: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// RevokeAll revokes every active token of the user.
func (s *RefreshTokenService) RevokeAll(ctx context.Context, userID, ip, reason string) (int, error) {
	count, err := s.repo.RevokeAllForUser(ctx, userID, s.now(), ip, reason)
	if err != nil {
		return 0, fmt.Errorf("%w: revoke user refresh tokens: %v", domain.ErrStorageUnavailable, err)
	}
	return count, nil
}

// IsValid reports whether the token is unrevoked and unexpired at the given instant.
func (s *RefreshTokenService) IsValid(token domain.RefreshToken, at time.Time) bool {
	return token.IsValid(at)
}

// Cleanup deletes tokens that expired longer ago than the retention period.
func (s *RefreshTokenService) Cleanup(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.settings.RefreshTokenRetention())
	removed, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return removed, nil
}
