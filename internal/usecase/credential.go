package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
)

// Role claim values per user type.
const (
	RoleEndUser = "User"
	RoleAdmin   = "Admin"
	RolePartner = "Partner"
)

var (
	endUserPermissions = []string{"orders:create", "orders:read", "profile:read", "profile:write"}
	adminPermissions   = []string{"reports:read", "settings:write", "users:delete", "users:read", "users:write"}
	partnerPermissions = []string{"catalog:read", "catalog:write", "orders:read", "reports:read"}
)

// CredentialVerifier checks a principal's password and per-type business rules.
type CredentialVerifier interface {
	// Authenticate runs ValidateRules first and only then compares the password.
	Authenticate(ctx context.Context, principal domain.Principal, password string) (domain.AuthResult, error)
	ValidateRules(ctx context.Context, principal domain.Principal) error
	// Claims is deterministic for an identical principal snapshot.
	Claims(principal domain.Principal) domain.ClaimSet
}

// CredentialRules holds the tunables consulted by the per-type strategies.
type CredentialRules struct {
	AdminIdleLockout        time.Duration
	PartnerHoursStartUTC    int
	PartnerHoursEndUTC      int
	PartnershipCheckTimeout time.Duration
}

// CredentialRulesFromConfig extracts strategy rules from auth settings.
func CredentialRulesFromConfig(cfg config.AuthSettings) CredentialRules {
	return CredentialRules{
		AdminIdleLockout:        cfg.AdminIdleLockout(),
		PartnerHoursStartUTC:    cfg.PartnerBusinessHoursStartUTC,
		PartnerHoursEndUTC:      cfg.PartnerBusinessHoursEndUTC,
		PartnershipCheckTimeout: cfg.PartnershipCheckTimeout,
	}
}

// CredentialVerifiers dispatches to the strategy registered for a user type.
type CredentialVerifiers struct {
	table map[domain.UserType]CredentialVerifier
	now   func() time.Time
}

// NewCredentialVerifiers builds the closed strategy table for every supported user type.
func NewCredentialVerifiers(
	hasher port.PasswordHasher,
	partnerships port.PartnershipChecker,
	rules CredentialRules,
	logger *zap.Logger,
) *CredentialVerifiers {
	if logger == nil {
		logger = zap.NewNop()
	}

	verifiers := &CredentialVerifiers{now: func() time.Time { return time.Now().UTC() }}
	base := passwordCheck{
		hasher: hasher,
		now:    func() time.Time { return verifiers.now() },
	}

	verifiers.table = map[domain.UserType]CredentialVerifier{
		domain.UserTypeEndUser: &EndUserVerifier{passwordCheck: base},
		domain.UserTypeAdmin: &AdminVerifier{
			passwordCheck: base,
			idleLockout:   rules.AdminIdleLockout,
		},
		domain.UserTypePartner: &PartnerVerifier{
			passwordCheck: base,
			partnerships:  partnerships,
			startHour:     rules.PartnerHoursStartUTC,
			endHour:       rules.PartnerHoursEndUTC,
			checkTimeout:  rules.PartnershipCheckTimeout,
			logger:        logger.Named("partner_verifier"),
		},
	}
	return verifiers
}

// WithClock overrides the clock shared by all strategies.
func (v *CredentialVerifiers) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// VerifierFor returns the strategy for the user type or ErrUnsupportedUserType.
func (v *CredentialVerifiers) VerifierFor(userType domain.UserType) (CredentialVerifier, error) {
	verifier, ok := v.table[userType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedUserType, userType)
	}
	return verifier, nil
}

type passwordCheck struct {
	hasher port.PasswordHasher
	now    func() time.Time
}

func (p passwordCheck) verify(password, encoded string, success domain.AuthOutcome) (domain.AuthResult, error) {
	ok, err := p.hasher.Verify(password, encoded)
	if err != nil {
		return domain.AuthResult{Outcome: domain.AuthOutcomeCredentialFailure, Err: domain.ErrInvalidCredentials},
			fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.AuthResult{Outcome: domain.AuthOutcomeCredentialFailure, Err: domain.ErrInvalidCredentials}, nil
	}
	return domain.AuthResult{Outcome: success}, nil
}

func authenticateWith(ctx context.Context, v CredentialVerifier, p passwordCheck, principal domain.Principal, password string, success domain.AuthOutcome) (domain.AuthResult, error) {
	if err := v.ValidateRules(ctx, principal); err != nil {
		return domain.AuthResult{
			Outcome: domain.AuthOutcomeValidationFailure,
			Err:     err,
			Errors:  splitRuleErrors(err),
		}, nil
	}
	return p.verify(password, principal.PasswordHash, success)
}

// baseRules are shared by every user type.
func baseRules(principal domain.Principal) []error {
	var errs []error
	if !principal.IsActive {
		errs = append(errs, domain.ErrAccountDeactivated)
	}
	if !principal.EmailConfirmed {
		errs = append(errs, domain.ErrEmailNotConfirmed)
	}
	return errs
}

func splitRuleErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func buildClaims(principal domain.Principal, userType domain.UserType, role string, permissions []string) domain.ClaimSet {
	sorted := slices.Clone(permissions)
	slices.Sort(sorted)

	claims := make(domain.ClaimSet, 0, 4+len(sorted))
	claims = claims.
		Add(domain.ClaimSubject, principal.UserID).
		Add(domain.ClaimEmail, principal.Email).
		Add(domain.ClaimRole, role).
		Add(domain.ClaimUserType, string(userType))
	for _, permission := range sorted {
		claims = claims.Add(domain.ClaimPermission, permission)
	}
	return claims
}

// EndUserVerifier requires an active account with a confirmed email.
type EndUserVerifier struct {
	passwordCheck
}

func (v *EndUserVerifier) Authenticate(ctx context.Context, principal domain.Principal, password string) (domain.AuthResult, error) {
	return authenticateWith(ctx, v, v.passwordCheck, principal, password, domain.AuthOutcomeSuccess)
}

func (v *EndUserVerifier) ValidateRules(_ context.Context, principal domain.Principal) error {
	return errors.Join(baseRules(principal)...)
}

func (v *EndUserVerifier) Claims(principal domain.Principal) domain.ClaimSet {
	return buildClaims(principal, domain.UserTypeEndUser, RoleEndUser, endUserPermissions)
}

// AdminVerifier applies the base rules, locks out administrators idle for longer than the configured period
// and always asks for a second factor.
type AdminVerifier struct {
	passwordCheck
	idleLockout time.Duration
}

func (v *AdminVerifier) Authenticate(ctx context.Context, principal domain.Principal, password string) (domain.AuthResult, error) {
	return authenticateWith(ctx, v, v.passwordCheck, principal, password, domain.AuthOutcomeSuccessRequiresSecondFactor)
}

func (v *AdminVerifier) ValidateRules(_ context.Context, principal domain.Principal) error {
	errs := baseRules(principal)
	if idle, ok := principal.IdleFor(v.now()); ok && v.idleLockout > 0 && idle > v.idleLockout {
		errs = append(errs, domain.ErrAdminIdleLockout)
	}
	return errors.Join(errs...)
}

func (v *AdminVerifier) Claims(principal domain.Principal) domain.ClaimSet {
	return buildClaims(principal, domain.UserTypeAdmin, RoleAdmin, adminPermissions)
}

// PartnerVerifier applies the base rules and restricts logins to business hours and a valid partnership agreement.
type PartnerVerifier struct {
	passwordCheck
	partnerships port.PartnershipChecker
	startHour    int
	endHour      int
	checkTimeout time.Duration
	logger       *zap.Logger
}

func (v *PartnerVerifier) Authenticate(ctx context.Context, principal domain.Principal, password string) (domain.AuthResult, error) {
	return authenticateWith(ctx, v, v.passwordCheck, principal, password, domain.AuthOutcomeSuccess)
}

// ValidateRules reports every local rule failure. The partnership agreement is only
// consulted once the local rules pass.
func (v *PartnerVerifier) ValidateRules(ctx context.Context, principal domain.Principal) error {
	errs := baseRules(principal)

	now := v.now().UTC()
	if hour := now.Hour(); hour < v.startHour || hour >= v.endHour {
		errs = append(errs, domain.ErrPartnerOutsideBusinessHours)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if v.partnerships == nil {
		return domain.ErrPartnershipInvalid
	}

	partnerID := principal.PartnerID
	if partnerID == "" {
		partnerID = principal.UserID
	}

	checkCtx := ctx
	if v.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, v.checkTimeout)
		defer cancel()
	}

	valid, err := v.partnerships.IsAgreementValid(checkCtx, partnerID, now)
	if err != nil {
		v.logger.Warn("partnership check failed",
			zap.String("user_id", principal.UserID),
			zap.String("partner_id", partnerID),
			zap.Error(err),
		)
		return domain.ErrPartnershipInvalid
	}
	if !valid {
		return domain.ErrPartnershipInvalid
	}
	return nil
}

func (v *PartnerVerifier) Claims(principal domain.Principal) domain.ClaimSet {
	return buildClaims(principal, domain.UserTypePartner, RolePartner, partnerPermissions)
}
