package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	appLogger "github.com/hoale240803/kaopiz-sub000/internal/infra/logger"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
)

const (
	tracerName          = "github.com/hoale240803/kaopiz-sub000/internal/usecase"
	dummyPasswordSecret = "constant-shape-placeholder"
)

// Outcome labels reported to metrics.
const (
	outcomeSuccess              = "success"
	outcomeSecondFactorRequired = "second_factor_required"
	outcomeInvalidCredentials   = "invalid_credentials"
	outcomeRuleViolation        = "rule_violation"
	outcomeRateLimited          = "rate_limited"
	outcomeReuseDetected        = "reuse_detected"
	outcomeFingerprintMismatch  = "fingerprint_mismatch"
	outcomeUnauthorized         = "unauthorized"
	outcomeError                = "error"
)

// LoginInput carries the credentials and client metadata of a login attempt.
type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	IP         string
	UserAgent  string
}

// LoginResult holds the issued token pair, or only the second-factor signal for
// principals that must complete another step.
type LoginResult struct {
	UserID               string
	UserType             domain.UserType
	RequiresSecondFactor bool
	Tokens               domain.TokenPair
}

// RefreshInput carries a refresh token presented for rotation.
type RefreshInput struct {
	RefreshToken string
	IP           string
	UserAgent    string
}

// LogoutInput describes what to revoke. UserID is the authenticated caller, if known.
type LogoutInput struct {
	RefreshToken         string
	AccessTokenID        string
	AccessTokenExpiresAt time.Time
	UserID               string
	IP                   string
	All                  bool
}

// AuthServiceDeps groups the collaborators of AuthService.
type AuthServiceDeps struct {
	Principals    port.PrincipalRepository
	Verifiers     *CredentialVerifiers
	Tokens        *TokenService
	RefreshTokens *RefreshTokenService
	RateLimiter   *LoginRateLimiter
	Hasher        port.PasswordHasher
	Audit         port.AuditSink
	Metrics       port.AuthMetrics
}

// AuthService composes credential verification and token lifecycle into the login,
// refresh and logout protocols.
type AuthService struct {
	principals    port.PrincipalRepository
	verifiers     *CredentialVerifiers
	tokens        *TokenService
	refreshTokens *RefreshTokenService
	limiter       *LoginRateLimiter
	hasher        port.PasswordHasher
	audit         port.AuditSink
	metrics       port.AuthMetrics
	settings      config.AuthSettings
	policy        domain.FingerprintPolicy
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthServiceDeps, settings config.AuthSettings, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopAuthMetrics{}
	}

	service := &AuthService{
		principals:    deps.Principals,
		verifiers:     deps.Verifiers,
		tokens:        deps.Tokens,
		refreshTokens: deps.RefreshTokens,
		limiter:       deps.RateLimiter,
		hasher:        deps.Hasher,
		audit:         deps.Audit,
		metrics:       metrics,
		settings:      settings,
		policy:        domain.NewFingerprintPolicy(domain.ParseFingerprintPolicyMode(settings.FingerprintPolicy)),
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login verifies credentials and issues an access and refresh token pair.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	span.SetAttributes(attribute.String("client.ip", in.IP), attribute.Bool("auth.remember_me", in.RememberMe))

	log := s.log(ctx)

	blocked, err := s.limiter.IsBlocked(ctx, in.IP)
	if err != nil {
		log.Error("rate limiter unavailable, blocking login", zap.String("ip", appLogger.MaskIP(in.IP)), zap.Error(err))
	}
	if blocked {
		s.metrics.IncRateLimited()
		s.metrics.ObserveLogin(outcomeRateLimited)
		s.emit(ctx, domain.AuditEvent{Type: domain.AuditLoginRateLimited, IP: in.IP, Metadata: map[string]any{"email": appLogger.MaskEmail(email)}})
		markSpan(span, domain.ErrRateLimited)
		return LoginResult{}, domain.ErrRateLimited
	}

	if email == "" || in.Password == "" {
		s.dummyVerify(in.Password)
		return LoginResult{}, s.loginFailed(ctx, span, in, "", "missing credentials", outcomeInvalidCredentials)
	}

	principal, err := s.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.dummyVerify(in.Password)
			return LoginResult{}, s.loginFailed(ctx, span, in, "", "unknown email", outcomeInvalidCredentials)
		}
		s.metrics.ObserveLogin(outcomeError)
		log.Error("principal lookup failed", zap.String("email", appLogger.MaskEmail(email)), zap.Error(err))
		wrapped := fmt.Errorf("%w: load principal: %v", domain.ErrStorageUnavailable, err)
		markSpan(span, wrapped)
		return LoginResult{}, wrapped
	}
	span.SetAttributes(attribute.String("auth.user_type", string(principal.UserType)))

	verifier, err := s.verifiers.VerifierFor(principal.UserType)
	if err != nil {
		s.dummyVerify(in.Password)
		s.metrics.ObserveLogin(outcomeError)
		log.Error("principal has unsupported user type",
			zap.String("user_id", principal.UserID),
			zap.String("user_type", string(principal.UserType)),
		)
		markSpan(span, err)
		return LoginResult{}, err
	}

	result, err := verifier.Authenticate(ctx, *principal, in.Password)
	if err != nil {
		// The hasher failed before doing its work, so spend it here.
		s.dummyVerify(in.Password)
		log.Error("password verification failed", zap.String("user_id", principal.UserID), zap.Error(err))
		return LoginResult{}, s.loginFailed(ctx, span, in, principal.UserID, "password verification error", outcomeInvalidCredentials)
	}

	switch result.Outcome {
	case domain.AuthOutcomeValidationFailure:
		s.dummyVerify(in.Password)
		failure := s.loginFailed(ctx, span, in, principal.UserID, ruleFailureReason(result), outcomeRuleViolation)
		if s.settings.DiscloseRuleFailures && domain.IsRuleViolation(result.Err) {
			return LoginResult{}, result.Err
		}
		return LoginResult{}, failure
	case domain.AuthOutcomeCredentialFailure:
		return LoginResult{}, s.loginFailed(ctx, span, in, principal.UserID, "invalid password", outcomeInvalidCredentials)
	case domain.AuthOutcomeSuccessRequiresSecondFactor:
		s.metrics.ObserveLogin(outcomeSecondFactorRequired)
		s.emit(ctx, domain.AuditEvent{Type: domain.AuditLoginSecondFactorRequired, UserID: principal.UserID, IP: in.IP})
		return LoginResult{
			UserID:               principal.UserID,
			UserType:             principal.UserType,
			RequiresSecondFactor: true,
		}, nil
	}

	access, err := s.tokens.Issue(ctx, verifier.Claims(*principal))
	if err != nil {
		s.metrics.ObserveLogin(outcomeError)
		log.Error("access token issuance failed", zap.String("user_id", principal.UserID), zap.Error(err))
		markSpan(span, err)
		return LoginResult{}, err
	}

	issued, err := s.refreshTokens.Create(ctx, RefreshTokenParams{
		UserID:      principal.UserID,
		IP:          in.IP,
		Fingerprint: security.ComputeFingerprint(in.IP, in.UserAgent),
		RememberMe:  in.RememberMe,
	})
	if err != nil {
		s.metrics.ObserveLogin(outcomeError)
		log.Error("refresh token issuance failed", zap.String("user_id", principal.UserID), zap.Error(err))
		markSpan(span, err)
		return LoginResult{}, err
	}
	if len(issued.Evicted) > 0 {
		s.emit(ctx, domain.AuditEvent{
			Type:     domain.AuditSessionCapEnforced,
			UserID:   principal.UserID,
			IP:       in.IP,
			Reason:   domain.RevokeReasonMaxSessionsExceeded,
			Metadata: map[string]any{"evicted_token_ids": issued.Evicted},
		})
	}

	s.metrics.ObserveLogin(outcomeSuccess)
	s.emit(ctx, domain.AuditEvent{
		Type:     domain.AuditLoginSucceeded,
		UserID:   principal.UserID,
		IP:       in.IP,
		Metadata: map[string]any{"user_type": string(principal.UserType), "remember_me": in.RememberMe},
	})
	log.Info("login succeeded",
		zap.String("user_id", principal.UserID),
		zap.String("user_type", string(principal.UserType)),
	)

	return LoginResult{
		UserID:   principal.UserID,
		UserType: principal.UserType,
		Tokens:   tokenPair(access, issued.Raw, issued.Token),
	}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, span trace.Span, in LoginInput, userID, reason, outcome string) error {
	if err := s.limiter.RecordFailure(ctx, in.IP); err != nil {
		s.log(ctx).Warn("failed to record login failure", zap.String("ip", appLogger.MaskIP(in.IP)), zap.Error(err))
	}
	s.metrics.ObserveLogin(outcome)
	s.emit(ctx, domain.AuditEvent{Type: domain.AuditLoginFailed, UserID: userID, IP: in.IP, Reason: reason})
	markSpan(span, domain.ErrInvalidCredentials)
	return domain.ErrInvalidCredentials
}

// dummyVerify spends the same hashing work as a real verification.
func (s *AuthService) dummyVerify(password string) {
	if s.hasher == nil {
		return
	}
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPasswordSecret)
		if err != nil {
			s.logger.Warn("failed to prepare dummy password hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(password, s.dummyHash)
}

// Refresh rotates the refresh token and issues a new access token with freshly derived claims.
func (s *AuthService) Refresh(ctx context.Context, in RefreshInput) (domain.TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("client.ip", in.IP))
	log := s.log(ctx)

	current, err := s.refreshTokens.Lookup(ctx, in.RefreshToken)
	if err != nil {
		return domain.TokenPair{}, s.refreshFailed(ctx, span, "", in.IP, err)
	}

	if current.IsValid(s.now()) && current.DeviceFingerprint != "" &&
		!security.ValidateFingerprint(current.DeviceFingerprint, in.IP, in.UserAgent) {
		log.Warn("device fingerprint mismatch on refresh",
			zap.String("user_id", current.UserID),
			zap.String("token_id", current.ID),
			zap.String("ip", appLogger.MaskIP(in.IP)),
		)
		s.emit(ctx, domain.AuditEvent{
			Type:     domain.AuditFingerprintMismatch,
			UserID:   current.UserID,
			IP:       in.IP,
			Metadata: map[string]any{"token_id": current.ID, "policy": string(s.policy.Mode())},
		})
		if s.policy.Enforces() {
			s.metrics.ObserveRefresh(outcomeFingerprintMismatch)
			s.emit(ctx, domain.AuditEvent{Type: domain.AuditRefreshFailed, UserID: current.UserID, IP: in.IP, Reason: "device fingerprint mismatch"})
			markSpan(span, domain.ErrUnauthorized)
			return domain.TokenPair{}, domain.ErrUnauthorized
		}
	}

	rotation, err := s.refreshTokens.Rotate(ctx, in.RefreshToken, in.IP)
	if err != nil {
		return domain.TokenPair{}, s.refreshFailed(ctx, span, rotation.Previous.UserID, in.IP, err)
	}
	userID := rotation.Token.UserID

	owner, err := s.principals.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.metrics.ObserveRefresh(outcomeError)
		log.Error("principal lookup failed during refresh", zap.String("user_id", userID), zap.Error(err))
		wrapped := fmt.Errorf("%w: load principal: %v", domain.ErrStorageUnavailable, err)
		markSpan(span, wrapped)
		return domain.TokenPair{}, wrapped
	}
	if owner == nil || !owner.IsActive {
		if _, revokeErr := s.refreshTokens.RevokeAll(ctx, userID, in.IP, domain.RevokeReasonPrincipalInactive); revokeErr != nil {
			log.Error("failed to revoke tokens of inactive principal", zap.String("user_id", userID), zap.Error(revokeErr))
		}
		s.metrics.ObserveRefresh(outcomeUnauthorized)
		s.emit(ctx, domain.AuditEvent{Type: domain.AuditRefreshFailed, UserID: userID, IP: in.IP, Reason: "principal missing or inactive"})
		markSpan(span, domain.ErrUnauthorized)
		return domain.TokenPair{}, domain.ErrUnauthorized
	}

	verifier, err := s.verifiers.VerifierFor(owner.UserType)
	if err != nil {
		s.metrics.ObserveRefresh(outcomeError)
		log.Error("principal has unsupported user type", zap.String("user_id", userID), zap.Error(err))
		markSpan(span, err)
		return domain.TokenPair{}, err
	}

	access, err := s.tokens.Issue(ctx, verifier.Claims(*owner))
	if err != nil {
		s.metrics.ObserveRefresh(outcomeError)
		log.Error("access token issuance failed", zap.String("user_id", userID), zap.Error(err))
		markSpan(span, err)
		return domain.TokenPair{}, err
	}

	s.metrics.ObserveRefresh(outcomeSuccess)
	s.emit(ctx, domain.AuditEvent{
		Type:     domain.AuditRefreshSucceeded,
		UserID:   userID,
		IP:       in.IP,
		Metadata: map[string]any{"family_id": rotation.Token.FamilyID},
	})

	return tokenPair(access, rotation.Raw, rotation.Token), nil
}

// refreshFailed audits a failed refresh and hides the cause behind ErrUnauthorized.
// Storage failures are surfaced as such so callers can retry.
func (s *AuthService) refreshFailed(ctx context.Context, span trace.Span, userID, ip string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTokenReuseDetected):
		s.metrics.IncReuseDetected()
		s.metrics.ObserveRefresh(outcomeReuseDetected)
		s.emit(ctx, domain.AuditEvent{
			Type:   domain.AuditRefreshReuseDetected,
			UserID: userID,
			IP:     ip,
			Reason: domain.RevokeReasonReuseDetected,
		})
		if errors.Is(err, domain.ErrStorageUnavailable) {
			s.log(ctx).Error("reuse revocation incomplete", zap.String("user_id", userID), zap.Error(err))
		}
	case errors.Is(err, domain.ErrStorageUnavailable):
		s.metrics.ObserveRefresh(outcomeError)
		s.log(ctx).Error("refresh token store unavailable", zap.Error(err))
		markSpan(span, err)
		return err
	default:
		s.metrics.ObserveRefresh(outcomeUnauthorized)
		s.emit(ctx, domain.AuditEvent{Type: domain.AuditRefreshFailed, UserID: userID, IP: ip, Reason: err.Error()})
	}

	markSpan(span, domain.ErrUnauthorized)
	return domain.ErrUnauthorized
}

// Logout revokes the refresh token (or every token of the owner) and the current
// access token. Unknown or already revoked tokens still succeed.
func (s *AuthService) Logout(ctx context.Context, in LogoutInput) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer span.End()
	span.SetAttributes(attribute.Bool("auth.logout_all", in.All))

	var errs []error
	raw := strings.TrimSpace(in.RefreshToken)

	var token *domain.RefreshToken
	if raw != "" {
		found, err := s.refreshTokens.Lookup(ctx, raw)
		switch {
		case err == nil:
			token = found
		case !errors.Is(err, domain.ErrTokenNotFound):
			errs = append(errs, err)
		}
	}

	if token != nil && in.UserID != "" && token.UserID != in.UserID {
		s.log(ctx).Warn("logout refresh token owned by another user",
			zap.String("user_id", in.UserID),
			zap.String("token_owner", token.UserID),
		)
		s.emit(ctx, domain.AuditEvent{
			Type:     domain.AuditLogoutOwnerMismatch,
			UserID:   in.UserID,
			IP:       in.IP,
			Metadata: map[string]any{"token_id": token.ID},
		})
		token = nil
	}

	ownerID := in.UserID
	if in.All {
		if ownerID == "" && raw != "" {
			owner, err := s.principals.GetByRefreshTokenHash(ctx, security.HashToken(raw))
			switch {
			case err == nil:
				ownerID = owner.UserID
			case !errors.Is(err, repository.ErrNotFound):
				errs = append(errs, fmt.Errorf("%w: resolve token owner: %v", domain.ErrStorageUnavailable, err))
			}
		}
		if ownerID != "" {
			if _, err := s.refreshTokens.RevokeAll(ctx, ownerID, in.IP, domain.RevokeReasonLogoutAll); err != nil {
				errs = append(errs, err)
			}
		}
	} else if token != nil {
		if ownerID == "" {
			ownerID = token.UserID
		}
		if err := s.refreshTokens.RevokeRecord(ctx, *token, in.IP, domain.RevokeReasonLogout); err != nil {
			errs = append(errs, err)
		}
	}

	if in.AccessTokenID != "" {
		expiresAt := in.AccessTokenExpiresAt
		if expiresAt.IsZero() {
			expiresAt = s.now().Add(s.settings.AccessTokenTTL())
		}
		if err := s.tokens.Revoke(ctx, in.AccessTokenID, expiresAt); err != nil {
			errs = append(errs, err)
		}
	}

	s.metrics.IncLogout()
	s.emit(ctx, domain.AuditEvent{
		Type:     domain.AuditLogout,
		UserID:   ownerID,
		IP:       in.IP,
		Metadata: map[string]any{"all": in.All},
	})

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.log(ctx).Error("logout incomplete", zap.String("user_id", ownerID), zap.Error(err))
		markSpan(span, err)
		return err
	}
	return nil
}

// ValidateAccessToken verifies an access token and rejects revoked identifiers.
func (s *AuthService) ValidateAccessToken(ctx context.Context, raw string) (*security.AccessTokenClaims, error) {
	return s.tokens.Validate(ctx, raw)
}

// RetryAfter reports how long the client key stays rate limited.
func (s *AuthService) RetryAfter(ctx context.Context, key string) time.Duration {
	wait, err := s.limiter.RetryAfter(ctx, key)
	if err != nil {
		s.log(ctx).Warn("failed to compute retry-after", zap.String("ip", appLogger.MaskIP(key)), zap.Error(err))
	}
	return wait
}

func (s *AuthService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.log(ctx).Warn("audit record failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// log returns the service logger carrying the request id of ctx.
func (s *AuthService) log(ctx context.Context) *zap.Logger {
	return appLogger.WithContext(ctx, s.logger)
}

func ruleFailureReason(result domain.AuthResult) string {
	rules := result.Errors
	if len(rules) == 0 && result.Err != nil {
		rules = []error{result.Err}
	}
	reasons := make([]string, 0, len(rules))
	for _, rule := range rules {
		reasons = append(reasons, rule.Error())
	}
	return strings.Join(reasons, "; ")
}

func tokenPair(access domain.AccessToken, refreshRaw string, refresh domain.RefreshToken) domain.TokenPair {
	return domain.TokenPair{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refreshRaw,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}
}

func markSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
