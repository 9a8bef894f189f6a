package security

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestComputeFingerprintDeterministic(t *testing.T) {
	first := ComputeFingerprint("203.0.113.5", "Mozilla/5.0")
	second := ComputeFingerprint("203.0.113.5", "Mozilla/5.0")
	if first != second {
		t.Fatalf("expected deterministic fingerprint")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(first))
	}

	sum := sha256.Sum256([]byte("203.0.113.5|Mozilla/5.0"))
	if first != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected fingerprint encoding: %s", first)
	}
}

func TestComputeFingerprintUnknownParts(t *testing.T) {
	sum := sha256.Sum256([]byte("unknown|unknown"))
	if got := ComputeFingerprint("", " "); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("expected unknown sentinel fingerprint, got %s", got)
	}
}

func TestValidateFingerprint(t *testing.T) {
	stored := ComputeFingerprint("203.0.113.5", "UA-1")

	if !ValidateFingerprint(stored, "203.0.113.5", "UA-1") {
		t.Fatalf("expected matching fingerprint to validate")
	}
	if ValidateFingerprint(stored, "203.0.113.6", "UA-1") {
		t.Fatalf("expected different ip to fail validation")
	}
	if ValidateFingerprint(stored, "203.0.113.5", "UA-2") {
		t.Fatalf("expected different user agent to fail validation")
	}
	if ValidateFingerprint("", "203.0.113.5", "UA-1") {
		t.Fatalf("expected empty stored fingerprint to fail validation")
	}
}
