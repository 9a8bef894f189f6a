package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// authErrorCases is checked in order; storage failures come first so a fail-closed
// revocation lookup is reported as a server error rather than a revoked token.
var authErrorCases = []ErrorCase{
	{Err: domain.ErrStorageUnavailable, Status: http.StatusInternalServerError, Message: "service temporarily unavailable"},
	{Err: domain.ErrSigningFailure, Status: http.StatusInternalServerError, Message: "failed to issue tokens"},
	{Err: domain.ErrUnsupportedUserType, Status: http.StatusInternalServerError, Message: "authentication failed"},

	{Err: domain.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: domain.ErrUnauthorized, Status: http.StatusUnauthorized, Message: "unauthorized"},
	{Err: domain.ErrTokenExpired, Status: http.StatusUnauthorized, Message: "token expired"},
	{Err: domain.ErrTokenRevoked, Status: http.StatusUnauthorized, Message: "token revoked"},
	{Err: domain.ErrTokenNotFound, Status: http.StatusUnauthorized, Message: "unauthorized"},
	{Err: domain.ErrTokenReuseDetected, Status: http.StatusUnauthorized, Message: "unauthorized"},

	{Err: domain.ErrAccountDeactivated, Status: http.StatusForbidden, Message: "account deactivated"},
	{Err: domain.ErrEmailNotConfirmed, Status: http.StatusForbidden, Message: "email not confirmed"},
	{Err: domain.ErrAdminIdleLockout, Status: http.StatusForbidden, Message: "account locked after inactivity"},
	{Err: domain.ErrPartnerOutsideBusinessHours, Status: http.StatusForbidden, Message: "login not allowed outside business hours"},
	{Err: domain.ErrPartnershipInvalid, Status: http.StatusForbidden, Message: "partnership agreement invalid"},

	{Err: domain.ErrRateLimited, Status: http.StatusTooManyRequests, Message: "too many login attempts"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondAuthError applies the authentication error table.
func respondAuthError(c *gin.Context, err error) {
	_ = c.Error(err)
	RespondWithMappedError(c, err, authErrorCases, http.StatusInternalServerError, "internal error")
}
