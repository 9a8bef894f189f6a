package domain

import (
	"strings"
	"time"
)

// UserType enumerates the principal kinds that can authenticate.
type UserType string

const (
	UserTypeEndUser UserType = "end_user"
	UserTypeAdmin   UserType = "admin"
	UserTypePartner UserType = "partner"
)

// ParseUserType normalises textual input into a UserType. Unknown values are returned as-is
// so that dispatch can reject them explicitly.
func ParseUserType(value string) UserType {
	return UserType(strings.ToLower(strings.TrimSpace(value)))
}

// Principal is a snapshot of an authenticatable identity as loaded from the principal store.
type Principal struct {
	UserID         string
	Email          string
	UserType       UserType
	PasswordHash   string
	IsActive       bool
	EmailConfirmed bool
	LastLoginAt    *time.Time
	// PartnerID identifies the partner organisation; empty for other user types.
	PartnerID string
}

// IdleFor returns how long the principal has gone without a successful login.
// The second result is false when the principal never logged in.
func (p Principal) IdleFor(at time.Time) (time.Duration, bool) {
	if p.LastLoginAt == nil {
		return 0, false
	}
	return at.Sub(*p.LastLoginAt), true
}
