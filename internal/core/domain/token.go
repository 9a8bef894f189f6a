package domain

import "time"

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRotated             = "rotated"
	RevokeReasonMaxSessionsExceeded = "max sessions exceeded"
	RevokeReasonReuseDetected       = "token reuse detected"
	RevokeReasonLogout              = "logout"
	RevokeReasonLogoutAll           = "logout all"
	RevokeReasonPrincipalInactive   = "principal inactive"
	RevokeReasonFingerprintMismatch = "device fingerprint mismatch"
)

// RefreshToken represents a long-lived refresh token with rotation support.
// Only the SHA-256 hash of the opaque value is persisted.
type RefreshToken struct {
	ID                string
	UserID            string
	TokenHash         string
	FamilyID          string
	RememberMe        bool
	CreatedAt         time.Time
	CreatedByIP       string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokedByIP       *string
	RevokedReason     *string
	ReplacedByTokenID *string
	DeviceFingerprint string
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsReplaced reports whether the token was rotated into a successor.
func (t RefreshToken) IsReplaced() bool {
	return t.ReplacedByTokenID != nil
}

// IsValid returns true when the token can still be presented for rotation.
func (t RefreshToken) IsValid(at time.Time) bool {
	if t.IsRevoked() || t.IsReplaced() {
		return false
	}
	return !t.IsExpired(at)
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time, ip, reason string) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	if ip != "" {
		ipCopy := ip
		t.RevokedByIP = &ipCopy
	}
	reasonCopy := reason
	t.RevokedReason = &reasonCopy
	return true
}

// ReplaceWith revokes the token as rotated and links it to its successor.
func (t *RefreshToken) ReplaceWith(successorID string, at time.Time, ip string) bool {
	if !t.Revoke(at, ip, RevokeReasonRotated) {
		return false
	}
	idCopy := successorID
	t.ReplacedByTokenID = &idCopy
	return true
}

// AccessToken is a signed, short-lived bearer token.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenPair is returned by successful login and refresh.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// RevokedAccessToken models a blacklisted access token identifier.
type RevokedAccessToken struct {
	JTI       string
	ExpiresAt time.Time
}

// IsExpired reports whether the entry may be purged.
func (r RevokedAccessToken) IsExpired(at time.Time) bool {
	return !r.ExpiresAt.After(at)
}
