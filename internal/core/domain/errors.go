package domain

import "errors"

var (
	// ErrInvalidCredentials is the generic credential failure surfaced to callers.
	ErrInvalidCredentials          = errors.New("invalid credentials")
	ErrAccountDeactivated          = errors.New("account deactivated")
	ErrEmailNotConfirmed           = errors.New("email not confirmed")
	ErrAdminIdleLockout            = errors.New("admin account locked after inactivity")
	ErrPartnerOutsideBusinessHours = errors.New("partner login outside business hours")
	ErrPartnershipInvalid          = errors.New("partnership agreement invalid")
	ErrRateLimited                 = errors.New("too many login attempts")
	ErrUnsupportedUserType         = errors.New("unsupported user type")

	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	ErrSigningFailure     = errors.New("token signing failed")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnauthorized is returned at the refresh boundary without revealing the cause.
	ErrUnauthorized = errors.New("unauthorized")
)

// IsRuleViolation reports whether err is a per-type business rule failure.
func IsRuleViolation(err error) bool {
	switch {
	case errors.Is(err, ErrAccountDeactivated),
		errors.Is(err, ErrEmailNotConfirmed),
		errors.Is(err, ErrAdminIdleLockout),
		errors.Is(err, ErrPartnerOutsideBusinessHours),
		errors.Is(err, ErrPartnershipInvalid):
		return true
	default:
		return false
	}
}
