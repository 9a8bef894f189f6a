package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

func newTestVerifiers(t *testing.T, now time.Time, partners *fakePartnerships) (*CredentialVerifiers, *fakeHasher) {
	t.Helper()
	hasher := &fakeHasher{}
	verifiers := NewCredentialVerifiers(hasher, partners, CredentialRulesFromConfig(testAuthSettings()), zaptest.NewLogger(t))
	verifiers.WithClock(func() time.Time { return now })
	return verifiers, hasher
}

func TestVerifierForUnknownUserType(t *testing.T) {
	verifiers, _ := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})

	if _, err := verifiers.VerifierFor(domain.UserType("robot")); !errors.Is(err, domain.ErrUnsupportedUserType) {
		t.Fatalf("expected ErrUnsupportedUserType, got %v", err)
	}
	for _, userType := range []domain.UserType{domain.UserTypeEndUser, domain.UserTypeAdmin, domain.UserTypePartner} {
		if _, err := verifiers.VerifierFor(userType); err != nil {
			t.Fatalf("expected verifier for %q, got %v", userType, err)
		}
	}
}

func TestEndUserVerifierRules(t *testing.T) {
	verifiers, hasher := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})
	verifier, _ := verifiers.VerifierFor(domain.UserTypeEndUser)

	tests := []struct {
		name     string
		mutate   func(*domain.Principal)
		password string
		outcome  domain.AuthOutcome
		err      error
	}{
		{name: "success", password: "correct-horse", outcome: domain.AuthOutcomeSuccess},
		{name: "wrong password", password: "nope", outcome: domain.AuthOutcomeCredentialFailure, err: domain.ErrInvalidCredentials},
		{name: "inactive", mutate: func(p *domain.Principal) { p.IsActive = false }, password: "correct-horse", outcome: domain.AuthOutcomeValidationFailure, err: domain.ErrAccountDeactivated},
		{name: "unconfirmed", mutate: func(p *domain.Principal) { p.EmailConfirmed = false }, password: "correct-horse", outcome: domain.AuthOutcomeValidationFailure, err: domain.ErrEmailNotConfirmed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			principal := endUser()
			if tc.mutate != nil {
				tc.mutate(&principal)
			}
			result, err := verifier.Authenticate(context.Background(), principal, tc.password)
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if result.Outcome != tc.outcome {
				t.Fatalf("expected outcome %s, got %s", tc.outcome, result.Outcome)
			}
			if tc.err != nil && !errors.Is(result.Err, tc.err) {
				t.Fatalf("expected error %v, got %v", tc.err, result.Err)
			}
		})
	}

	before := hasher.verifyCalls()
	inactive := endUser()
	inactive.IsActive = false
	if _, err := verifier.Authenticate(context.Background(), inactive, "correct-horse"); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if hasher.verifyCalls() != before {
		t.Fatalf("password must not be verified when rules fail")
	}
}

func TestAdminVerifierIdleLockoutBoundary(t *testing.T) {
	verifiers, _ := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})
	verifier, _ := verifiers.VerifierFor(domain.UserTypeAdmin)

	exactly := testNow.Add(-90 * 24 * time.Hour)
	over := exactly.Add(-time.Second)
	hundred := testNow.Add(-100 * 24 * time.Hour)

	if err := verifier.ValidateRules(context.Background(), adminUser(nil)); err != nil {
		t.Fatalf("admin that never logged in must be allowed, got %v", err)
	}
	if err := verifier.ValidateRules(context.Background(), adminUser(&exactly)); err != nil {
		t.Fatalf("idle of exactly 90 days must be allowed, got %v", err)
	}
	if err := verifier.ValidateRules(context.Background(), adminUser(&over)); !errors.Is(err, domain.ErrAdminIdleLockout) {
		t.Fatalf("expected lockout just past 90 days, got %v", err)
	}

	result, err := verifier.Authenticate(context.Background(), adminUser(&hundred), "admin-secret")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if result.Outcome != domain.AuthOutcomeValidationFailure || !errors.Is(result.Err, domain.ErrAdminIdleLockout) {
		t.Fatalf("expected idle lockout despite correct password, got %+v", result)
	}
}

func TestAdminAndPartnerVerifiersRequireConfirmedEmail(t *testing.T) {
	recent := testNow.Add(-24 * time.Hour)
	tests := []struct {
		name      string
		principal domain.Principal
		password  string
	}{
		{name: "admin", principal: adminUser(&recent), password: "admin-secret"},
		{name: "partner", principal: partnerUser(), password: "partner-secret"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			partners := &fakePartnerships{valid: true}
			verifiers, hasher := newTestVerifiers(t, testNow, partners)
			verifier, _ := verifiers.VerifierFor(tc.principal.UserType)

			unconfirmed := tc.principal
			unconfirmed.EmailConfirmed = false
			result, err := verifier.Authenticate(context.Background(), unconfirmed, tc.password)
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if result.Outcome != domain.AuthOutcomeValidationFailure || !errors.Is(result.Err, domain.ErrEmailNotConfirmed) {
				t.Fatalf("expected ErrEmailNotConfirmed, got %+v", result)
			}
			if hasher.verifyCalls() != 0 || partners.calls != 0 {
				t.Fatalf("no password or partnership check may run when base rules fail")
			}
		})
	}
}

func TestVerifierReportsEveryFailedRule(t *testing.T) {
	verifiers, _ := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})
	verifier, _ := verifiers.VerifierFor(domain.UserTypeAdmin)

	idle := testNow.Add(-100 * 24 * time.Hour)
	principal := adminUser(&idle)
	principal.IsActive = false
	principal.EmailConfirmed = false

	result, err := verifier.Authenticate(context.Background(), principal, "admin-secret")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	want := []error{domain.ErrAccountDeactivated, domain.ErrEmailNotConfirmed, domain.ErrAdminIdleLockout}
	if !reflect.DeepEqual(result.Errors, want) {
		t.Fatalf("expected %v, got %v", want, result.Errors)
	}
	for _, rule := range want {
		if !errors.Is(result.Err, rule) {
			t.Fatalf("expected joined error to match %v", rule)
		}
	}
}

func TestAdminVerifierRequiresSecondFactor(t *testing.T) {
	verifiers, _ := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})
	verifier, _ := verifiers.VerifierFor(domain.UserTypeAdmin)
	recent := testNow.Add(-24 * time.Hour)

	result, err := verifier.Authenticate(context.Background(), adminUser(&recent), "admin-secret")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if result.Outcome != domain.AuthOutcomeSuccessRequiresSecondFactor || !result.Succeeded() {
		t.Fatalf("expected second factor outcome, got %s", result.Outcome)
	}
}

func TestPartnerVerifierBusinessHours(t *testing.T) {
	day := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		err  error
	}{
		{name: "opening", at: day.Add(9 * time.Hour)},
		{name: "last minute", at: day.Add(17*time.Hour + 59*time.Minute + 59*time.Second)},
		{name: "closing", at: day.Add(18 * time.Hour), err: domain.ErrPartnerOutsideBusinessHours},
		{name: "early", at: day.Add(8*time.Hour + 59*time.Minute), err: domain.ErrPartnerOutsideBusinessHours},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verifiers, _ := newTestVerifiers(t, tc.at, &fakePartnerships{valid: true})
			verifier, _ := verifiers.VerifierFor(domain.UserTypePartner)
			err := verifier.ValidateRules(context.Background(), partnerUser())
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestPartnerVerifierPartnershipFailuresAreInvalid(t *testing.T) {
	cases := map[string]*fakePartnerships{
		"invalid":     {valid: false},
		"unavailable": {err: context.DeadlineExceeded},
	}

	for name, partners := range cases {
		t.Run(name, func(t *testing.T) {
			verifiers, hasher := newTestVerifiers(t, testNow, partners)
			verifier, _ := verifiers.VerifierFor(domain.UserTypePartner)

			result, err := verifier.Authenticate(context.Background(), partnerUser(), "partner-secret")
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if !errors.Is(result.Err, domain.ErrPartnershipInvalid) {
				t.Fatalf("expected ErrPartnershipInvalid, got %+v", result)
			}
			if hasher.verifyCalls() != 0 {
				t.Fatalf("password must not be verified when the partnership check fails")
			}
			if partners.calls != 1 {
				t.Fatalf("expected one partnership check, got %d", partners.calls)
			}
		})
	}
}

func TestPartnerVerifierSkipsPartnershipCheckOutsideHours(t *testing.T) {
	partners := &fakePartnerships{valid: true}
	verifiers, _ := newTestVerifiers(t, testNow.Add(12*time.Hour), partners)
	verifier, _ := verifiers.VerifierFor(domain.UserTypePartner)

	if err := verifier.ValidateRules(context.Background(), partnerUser()); !errors.Is(err, domain.ErrPartnerOutsideBusinessHours) {
		t.Fatalf("expected outside business hours, got %v", err)
	}
	if partners.calls != 0 {
		t.Fatalf("partnership check must not run outside business hours")
	}
}

func TestClaimsAreDeterministicAndOrdered(t *testing.T) {
	verifiers, _ := newTestVerifiers(t, testNow, &fakePartnerships{valid: true})

	tests := []struct {
		principal   domain.Principal
		role        string
		permissions []string
	}{
		{principal: endUser(), role: RoleEndUser, permissions: []string{"orders:create", "orders:read", "profile:read", "profile:write"}},
		{principal: adminUser(nil), role: RoleAdmin, permissions: []string{"reports:read", "settings:write", "users:delete", "users:read", "users:write"}},
		{principal: partnerUser(), role: RolePartner, permissions: []string{"catalog:read", "catalog:write", "orders:read", "reports:read"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.principal.UserType), func(t *testing.T) {
			verifier, _ := verifiers.VerifierFor(tc.principal.UserType)
			first := verifier.Claims(tc.principal)
			second := verifier.Claims(tc.principal)
			if !reflect.DeepEqual(first, second) {
				t.Fatalf("claims are not deterministic: %v vs %v", first, second)
			}

			wantHead := []string{domain.ClaimSubject, domain.ClaimEmail, domain.ClaimRole, domain.ClaimUserType}
			for i, claimType := range wantHead {
				if first[i].Type != claimType {
					t.Fatalf("claim %d: expected %q, got %q", i, claimType, first[i].Type)
				}
			}
			if role, _ := first.First(domain.ClaimRole); role != tc.role {
				t.Fatalf("expected role %q, got %q", tc.role, role)
			}
			if userType, _ := first.First(domain.ClaimUserType); userType != string(tc.principal.UserType) {
				t.Fatalf("expected user type %q, got %q", tc.principal.UserType, userType)
			}
			if got := first.Values(domain.ClaimPermission); !reflect.DeepEqual(got, tc.permissions) {
				t.Fatalf("expected permissions %v, got %v", tc.permissions, got)
			}
		})
	}
}
