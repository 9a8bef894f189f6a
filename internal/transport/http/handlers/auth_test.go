package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/usecase"
)

var handlerNow = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type fakeAuthService struct {
	loginResult usecase.LoginResult
	loginErr    error
	lastLogin   usecase.LoginInput

	pair       domain.TokenPair
	refreshErr error

	logoutErr  error
	lastLogout usecase.LogoutInput

	claims     *security.AccessTokenClaims
	retryAfter time.Duration
}

func (f *fakeAuthService) Login(_ context.Context, in usecase.LoginInput) (usecase.LoginResult, error) {
	f.lastLogin = in
	return f.loginResult, f.loginErr
}

func (f *fakeAuthService) Refresh(_ context.Context, _ usecase.RefreshInput) (domain.TokenPair, error) {
	return f.pair, f.refreshErr
}

func (f *fakeAuthService) Logout(_ context.Context, in usecase.LogoutInput) error {
	f.lastLogout = in
	return f.logoutErr
}

func (f *fakeAuthService) ValidateAccessToken(_ context.Context, raw string) (*security.AccessTokenClaims, error) {
	if f.claims == nil || raw != "valid" {
		return nil, fmt.Errorf("%w: bad token", domain.ErrUnauthorized)
	}
	return f.claims, nil
}

func (f *fakeAuthService) RetryAfter(context.Context, string) time.Duration {
	return f.retryAfter
}

func newAuthRouter(auth AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(auth)
	handler.now = func() time.Time { return handlerNow }

	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1/auth"))
	return router
}

func doJSON(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func testPair() domain.TokenPair {
	return domain.TokenPair{
		AccessToken:           "access",
		AccessTokenExpiresAt:  handlerNow.Add(15 * time.Minute),
		RefreshToken:          "refresh",
		RefreshTokenExpiresAt: handlerNow.Add(7 * 24 * time.Hour),
	}
}

func TestLoginReturnsTokenPair(t *testing.T) {
	auth := &fakeAuthService{loginResult: usecase.LoginResult{UserID: "user-1", Tokens: testPair()}}
	router := newAuthRouter(auth)

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/login",
		`{"email":" alice@example.com ","password":"Secret1!","remember_me":true}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AccessToken != "access" || resp.RefreshToken != "refresh" || resp.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", resp)
	}
	if resp.ExpiresIn != 900 {
		t.Fatalf("expected expires_in 900, got %d", resp.ExpiresIn)
	}
	if !resp.RefreshExpiresAt.Equal(handlerNow.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry: %v", resp.RefreshExpiresAt)
	}
	if auth.lastLogin.Email != "alice@example.com" || !auth.lastLogin.RememberMe {
		t.Fatalf("unexpected login input: %+v", auth.lastLogin)
	}
}

func TestLoginSecondFactorReturnsAccepted(t *testing.T) {
	auth := &fakeAuthService{loginResult: usecase.LoginResult{UserID: "admin-1", RequiresSecondFactor: true}}
	router := newAuthRouter(auth)

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com","password":"x"}`, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "access_token") {
		t.Fatalf("second factor response must not carry tokens: %s", rr.Body.String())
	}
}

func TestLoginRateLimitedSetsRetryAfter(t *testing.T) {
	auth := &fakeAuthService{loginErr: domain.ErrRateLimited, retryAfter: 90*time.Second + time.Millisecond}
	router := newAuthRouter(auth)

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com","password":"x"}`, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "91" {
		t.Fatalf("expected Retry-After rounded up to 91, got %q", got)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{domain.ErrAccountDeactivated, http.StatusForbidden},
		{domain.ErrEmailNotConfirmed, http.StatusForbidden},
		{domain.ErrAdminIdleLockout, http.StatusForbidden},
		{domain.ErrPartnerOutsideBusinessHours, http.StatusForbidden},
		{domain.ErrPartnershipInvalid, http.StatusForbidden},
		{fmt.Errorf("verifier: %w", domain.ErrUnsupportedUserType), http.StatusInternalServerError},
		{fmt.Errorf("%w: sign", domain.ErrSigningFailure), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			router := newAuthRouter(&fakeAuthService{loginErr: tc.err})
			rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com","password":"x"}`, nil)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if strings.Contains(rr.Body.String(), "boom") || strings.Contains(rr.Body.String(), "sign") {
				t.Fatalf("internal error text leaked: %s", rr.Body.String())
			}
		})
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	router := newAuthRouter(&fakeAuthService{loginErr: errors.New("unexpected call: Login")})

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRefresh(t *testing.T) {
	router := newAuthRouter(&fakeAuthService{pair: testPair()})
	rr := doJSON(router, http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"refresh"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	router = newAuthRouter(&fakeAuthService{refreshErr: domain.ErrUnauthorized})
	rr = doJSON(router, http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"stolen"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	router = newAuthRouter(&fakeAuthService{refreshErr: fmt.Errorf("%w: postgres", domain.ErrStorageUnavailable)})
	rr = doJSON(router, http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"any"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestLogout(t *testing.T) {
	expires := handlerNow.Add(10 * time.Minute)
	auth := &fakeAuthService{claims: &security.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}}
	router := newAuthRouter(auth)

	rr := doJSON(router, http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":"refresh","all":true}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":"refresh","all":true}`,
		map[string]string{"Authorization": "Bearer valid"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	got := auth.lastLogout
	if got.UserID != "user-1" || got.AccessTokenID != "jti-1" || got.RefreshToken != "refresh" || !got.All {
		t.Fatalf("unexpected logout input: %+v", got)
	}
	if !got.AccessTokenExpiresAt.Equal(expires) {
		t.Fatalf("expected access token expiry to be forwarded, got %v", got.AccessTokenExpiresAt)
	}

	rr = doJSON(router, http.MethodPost, "/api/v1/auth/logout", "", map[string]string{"Authorization": "Bearer valid"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for bodyless logout, got %d", rr.Code)
	}
	if auth.lastLogout.RefreshToken != "" {
		t.Fatalf("bodyless logout must only revoke the access token")
	}
}

func TestSessionReturnsClaims(t *testing.T) {
	auth := &fakeAuthService{claims: &security.AccessTokenClaims{
		Email:       "alice@example.com",
		Role:        "User",
		UserType:    "end_user",
		Permissions: []string{"profile:read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(handlerNow.Add(time.Minute)),
		},
	}}
	router := newAuthRouter(auth)

	rr := doJSON(router, http.MethodGet, "/api/v1/auth/session", "", map[string]string{"Authorization": "Bearer valid"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp SessionClaimsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "user-1" || resp.Role != "User" || len(resp.Permissions) != 1 {
		t.Fatalf("unexpected session response: %+v", resp)
	}
}
