package domain

import "time"

// AuditEventType names a security-relevant occurrence.
type AuditEventType string

const (
	AuditLoginSucceeded            AuditEventType = "login.succeeded"
	AuditLoginFailed               AuditEventType = "login.failed"
	AuditLoginRateLimited          AuditEventType = "login.rate_limited"
	AuditLoginSecondFactorRequired AuditEventType = "login.second_factor_required"
	AuditRefreshSucceeded          AuditEventType = "refresh.succeeded"
	AuditRefreshFailed             AuditEventType = "refresh.failed"
	AuditRefreshReuseDetected      AuditEventType = "refresh.reuse_detected"
	AuditFingerprintMismatch       AuditEventType = "device.fingerprint_mismatch"
	AuditSessionCapEnforced        AuditEventType = "session.cap_enforced"
	AuditLogout                    AuditEventType = "logout"
	AuditLogoutOwnerMismatch       AuditEventType = "logout.owner_mismatch"
)

// AuditEvent is emitted for every security event. It never carries secrets.
type AuditEvent struct {
	ID         string
	Type       AuditEventType
	UserID     string
	IP         string
	Reason     string
	OccurredAt time.Time
	Metadata   map[string]any
}
