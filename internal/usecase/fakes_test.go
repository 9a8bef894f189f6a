package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/repository"
	"github.com/hoale240803/kaopiz-sub000/internal/repository/memory"
)

var testNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type fakeHasher struct {
	mu       sync.Mutex
	verifies int
	err      error
}

func (h *fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (h *fakeHasher) Verify(password, encoded string) (bool, error) {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	if h.err != nil {
		return false, h.err
	}
	return encoded == "hashed:"+password, nil
}

func (h *fakeHasher) verifyCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifies
}

type fakePrincipals struct {
	mu        sync.Mutex
	byID      map[string]*domain.Principal
	tokens    *memory.RefreshTokenRepository
	lookupErr error
}

func newFakePrincipals(tokens *memory.RefreshTokenRepository, principals ...domain.Principal) *fakePrincipals {
	repo := &fakePrincipals{
		byID:   make(map[string]*domain.Principal),
		tokens: tokens,
	}
	for i := range principals {
		p := principals[i]
		repo.byID[p.UserID] = &p
	}
	return repo
}

func (r *fakePrincipals) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, p := range r.byID {
		if strings.EqualFold(p.Email, email) {
			clone := *p
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePrincipals) GetByID(_ context.Context, userID string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePrincipals) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*domain.Principal, error) {
	token, err := r.tokens.GetByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, token.UserID)
}

func (r *fakePrincipals) update(userID string, mutate func(*domain.Principal)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(r.byID[userID])
}

type fakePartnerships struct {
	valid bool
	err   error
	calls int
}

func (f *fakePartnerships) IsAgreementValid(ctx context.Context, _ string, _ time.Time) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.valid, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, event domain.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) has(eventType domain.AuditEventType) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, event := range a.events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

type recordingMetrics struct {
	mu                 sync.Mutex
	logins             map[string]int
	refreshes          map[string]int
	reuse              int
	rateLimited        int
	logouts            int
	revocationFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{logins: map[string]int{}, refreshes: map[string]int{}}
}

func (m *recordingMetrics) ObserveLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[outcome]++
}

func (m *recordingMetrics) ObserveRefresh(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes[outcome]++
}

func (m *recordingMetrics) IncReuseDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse++
}

func (m *recordingMetrics) IncRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited++
}

func (m *recordingMetrics) IncLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logouts++
}

func (m *recordingMetrics) IncRevocationStoreFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revocationFailures++
}

var errStoreDown = errors.New("store down")

type failingRateLimitStore struct{}

func (failingRateLimitStore) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return errStoreDown
}

func (failingRateLimitStore) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, errStoreDown
}

func (failingRateLimitStore) RecordAttempt(context.Context, string, time.Time) error {
	return errStoreDown
}

func (failingRateLimitStore) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}

func (failingRateLimitStore) PurgeExpired(context.Context, time.Duration, time.Time) (int, error) {
	return 0, errStoreDown
}

type failingRegistry struct{}

func (failingRegistry) Add(context.Context, string, time.Time) error { return errStoreDown }

func (failingRegistry) Contains(context.Context, string) (bool, error) { return false, errStoreDown }

func (failingRegistry) Purge(context.Context, time.Time) (int, error) { return 0, errStoreDown }

func testAuthSettings() config.AuthSettings {
	return config.AuthSettings{
		AccessTokenTTLMinutes:         15,
		RefreshTokenTTLDays:           7,
		RememberMeTTLDays:             30,
		MaxRefreshTokenTTLDays:        90,
		MaxActiveRefreshTokensPerUser: 5,
		RememberMeCountsTowardCap:     true,
		RefreshTokenRetentionDays:     30,
		AdminIdleLockoutDays:          90,
		PartnerBusinessHoursStartUTC:  9,
		PartnerBusinessHoursEndUTC:    18,
		PartnershipCheckTimeout:       time.Second,
		DiscloseRuleFailures:          true,
		FingerprintPolicy:             "audit",
	}
}

func testRateLimitSettings() config.RateLimitSettings {
	return config.RateLimitSettings{Backend: "memory", LoginMaxAttempts: 5, LoginWindowMinutes: 15}
}

func newTestCodec(t *testing.T, clock func() time.Time) *security.TokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	provider := security.NewStaticKeyProvider("test-kid", key)
	issuer, err := security.NewTokenIssuer(security.NewJWTManager(provider), security.TokenIssuerConfig{
		KeyID:    provider.SigningKeyID(),
		Issuer:   "auth-service",
		Audience: []string{"api"},
		TTL:      15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewTokenIssuer returned error: %v", err)
	}
	issuer.WithClock(clock)
	return issuer
}

// authHarness wires AuthService against in-memory stores and a movable clock.
type authHarness struct {
	t          *testing.T
	now        time.Time
	settings   config.AuthSettings
	hasher     *fakeHasher
	principals *fakePrincipals
	partners   *fakePartnerships
	tokensRepo *memory.RefreshTokenRepository
	rateStore  *memory.RateLimitStore
	registry   *security.JTIDenylist
	audit      *recordingAudit
	metrics    *recordingMetrics
	service    *AuthService
	refresh    *RefreshTokenService
	tokens     *TokenService
	limiter    *LoginRateLimiter
}

func (h *authHarness) clock() time.Time { return h.now }

func (h *authHarness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newAuthHarness(t *testing.T, settings config.AuthSettings, principals ...domain.Principal) *authHarness {
	t.Helper()

	h := &authHarness{
		t:          t,
		now:        testNow,
		settings:   settings,
		hasher:     &fakeHasher{},
		partners:   &fakePartnerships{valid: true},
		tokensRepo: memory.NewRefreshTokenRepository(),
		rateStore:  memory.NewRateLimitStore(),
		audit:      &recordingAudit{},
		metrics:    newRecordingMetrics(),
	}
	h.principals = newFakePrincipals(h.tokensRepo, principals...)
	h.registry = security.NewJTIDenylist(security.JTIDenylistOptions{MaxEntries: 100}).WithClock(h.clock)

	logger := zaptest.NewLogger(t)

	verifiers := NewCredentialVerifiers(h.hasher, h.partners, CredentialRulesFromConfig(settings), logger)
	verifiers.WithClock(h.clock)

	h.tokens = NewTokenService(newTestCodec(t, h.clock), h.registry, h.metrics, logger)
	h.tokens.WithClock(h.clock)

	h.refresh = NewRefreshTokenService(h.tokensRepo, settings, logger)
	h.refresh.WithClock(h.clock)

	h.limiter = NewLoginRateLimiter(h.rateStore, testRateLimitSettings(), logger)
	h.limiter.WithClock(h.clock)

	h.service = NewAuthService(AuthServiceDeps{
		Principals:    h.principals,
		Verifiers:     verifiers,
		Tokens:        h.tokens,
		RefreshTokens: h.refresh,
		RateLimiter:   h.limiter,
		Hasher:        h.hasher,
		Audit:         h.audit,
		Metrics:       h.metrics,
	}, settings, logger)
	h.service.WithClock(h.clock)

	return h
}

func endUser() domain.Principal {
	return domain.Principal{
		UserID:         "user-1",
		Email:          "alice@example.com",
		UserType:       domain.UserTypeEndUser,
		PasswordHash:   "hashed:correct-horse",
		IsActive:       true,
		EmailConfirmed: true,
	}
}

func adminUser(lastLogin *time.Time) domain.Principal {
	return domain.Principal{
		UserID:         "admin-1",
		Email:          "root@example.com",
		UserType:       domain.UserTypeAdmin,
		PasswordHash:   "hashed:admin-secret",
		IsActive:       true,
		EmailConfirmed: true,
		LastLoginAt:    lastLogin,
	}
}

func partnerUser() domain.Principal {
	return domain.Principal{
		UserID:         "partner-user-1",
		Email:          "ops@partner.example",
		UserType:       domain.UserTypePartner,
		PasswordHash:   "hashed:partner-secret",
		IsActive:       true,
		EmailConfirmed: true,
		PartnerID:      "partner-9",
	}
}
