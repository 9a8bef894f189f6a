package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const unknownFingerprintPart = "unknown"

// ComputeFingerprint derives a device fingerprint from the client address and user agent.
func ComputeFingerprint(ip, userAgent string) string {
	if strings.TrimSpace(ip) == "" {
		ip = unknownFingerprintPart
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = unknownFingerprintPart
	}

	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// ValidateFingerprint recomputes the fingerprint and compares it in constant time.
// An empty stored value never validates.
func ValidateFingerprint(stored, ip, userAgent string) bool {
	if stored == "" {
		return false
	}
	computed := ComputeFingerprint(ip, userAgent)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1
}
