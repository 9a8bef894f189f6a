package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/transport/http/middleware"
	"github.com/hoale240803/kaopiz-sub000/internal/usecase"
)

const (
	loginRateLimitProblemType  = "about:blank#login-rate-limit-exceeded"
	loginRateLimitProblemTitle = "Rate Limit Exceeded"
	bearerTokenType            = "Bearer"
)

// AuthService is the subset of usecase.AuthService the handlers call.
type AuthService interface {
	Login(ctx context.Context, in usecase.LoginInput) (usecase.LoginResult, error)
	Refresh(ctx context.Context, in usecase.RefreshInput) (domain.TokenPair, error)
	Logout(ctx context.Context, in usecase.LogoutInput) error
	ValidateAccessToken(ctx context.Context, raw string) (*security.AccessTokenClaims, error)
	RetryAfter(ctx context.Context, key string) time.Duration
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth AuthService
	now  func() time.Time
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth, now: time.Now}
}

// RegisterRoutes binds authentication routes. Logout and the session lookup require a bearer token.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	requireAuth := middleware.RequireAuth(h.auth)

	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", requireAuth, h.logout)
	r.GET("/session", requireAuth, h.session)
}

// Login godoc
// @Summary Authenticate a principal with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} TokenResponse
// @Success 202 {object} SecondFactorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	ip := strings.TrimSpace(c.ClientIP())
	result, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:      strings.TrimSpace(req.Email),
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IP:         ip,
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			h.respondRateLimited(c, ip)
			return
		}
		respondAuthError(c, err)
		return
	}

	if result.RequiresSecondFactor {
		c.JSON(http.StatusAccepted, SecondFactorResponse{SecondFactorRequired: true, UserID: result.UserID})
		return
	}

	c.JSON(http.StatusOK, h.tokenResponse(result.Tokens))
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), usecase.RefreshInput{
		RefreshToken: req.RefreshToken,
		IP:           strings.TrimSpace(c.ClientIP()),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.tokenResponse(pair))
}

// Logout godoc
// @Summary Revoke the current access token and the supplied refresh token
// @Tags Authentication
// @Accept json
// @Param request body LogoutRequest false "Logout request"
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	claims := middleware.GetAccessTokenClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
		return
	}

	input := usecase.LogoutInput{
		RefreshToken:  req.RefreshToken,
		AccessTokenID: claims.ID,
		UserID:        claims.Subject,
		IP:            strings.TrimSpace(c.ClientIP()),
		All:           req.All,
	}
	if claims.ExpiresAt != nil {
		input.AccessTokenExpiresAt = claims.ExpiresAt.Time
	}

	if err := h.auth.Logout(c.Request.Context(), input); err != nil {
		respondAuthError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) session(c *gin.Context) {
	claims := middleware.GetAccessTokenClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	resp := SessionClaimsResponse{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		UserType:    claims.UserType,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) tokenResponse(pair domain.TokenPair) TokenResponse {
	expiresIn := int(pair.AccessTokenExpiresAt.Sub(h.now()).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        bearerTokenType,
		ExpiresIn:        expiresIn,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshTokenExpiresAt.UTC(),
	}
}

func (h *AuthHandler) respondRateLimited(c *gin.Context, key string) {
	wait := h.auth.RetryAfter(c.Request.Context(), key)
	retryAfter := int(wait / time.Second)
	if wait%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 1 {
		retryAfter = 1
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       loginRateLimitProblemType,
		Title:      loginRateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many login attempts. Try again in %d seconds.", retryAfter),
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    middleware.GetTraceID(c),
	})
}
