package domain

import "strings"

// FingerprintPolicyMode enumerates how refresh handles a device fingerprint mismatch.
type FingerprintPolicyMode string

const (
	// FingerprintPolicyModeAudit logs and audits mismatches but lets the refresh proceed.
	FingerprintPolicyModeAudit FingerprintPolicyMode = "audit"
	// FingerprintPolicyModeEnforce rejects refreshes whose fingerprint does not match.
	FingerprintPolicyModeEnforce FingerprintPolicyMode = "enforce"
)

// FingerprintPolicy centralises the response to device fingerprint mismatches.
type FingerprintPolicy struct {
	mode FingerprintPolicyMode
}

// NewFingerprintPolicy constructs a policy with the provided mode, defaulting to audit when unspecified.
func NewFingerprintPolicy(mode FingerprintPolicyMode) FingerprintPolicy {
	if mode != FingerprintPolicyModeEnforce {
		mode = FingerprintPolicyModeAudit
	}
	return FingerprintPolicy{mode: mode}
}

// ParseFingerprintPolicyMode normalises textual input into a supported policy mode.
func ParseFingerprintPolicyMode(value string) FingerprintPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(FingerprintPolicyModeEnforce):
		return FingerprintPolicyModeEnforce
	default:
		return FingerprintPolicyModeAudit
	}
}

// Mode returns the underlying policy mode.
func (p FingerprintPolicy) Mode() FingerprintPolicyMode {
	return p.mode
}

// Enforces indicates whether a mismatch must reject the refresh.
func (p FingerprintPolicy) Enforces() bool {
	return p.mode == FingerprintPolicyModeEnforce
}
