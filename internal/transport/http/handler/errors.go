package handler

import (
	"errors"
	"net/http"

	"github.com/kustom-api/internal/domain"
)

type errorMapping struct {
	kind   error
	status int
	code   string
	msg    string
}

// errorMappings is checked in order; the first kind matched by errors.Is wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidPhone, http.StatusBadRequest, "invalid_phone", "Invalid phone number. Please check the number and try again."},
	{domain.ErrInvalidCodeFormat, http.StatusBadRequest, "invalid_code_format", "Verification code must be 4 to 6 digits."},
	{domain.ErrMismatch, http.StatusBadRequest, "mismatch", "Invalid verification code."},
	{domain.ErrExpired, http.StatusGone, "expired", "Verification code has expired. Please request a new one."},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "Too many verification attempts. Please try again later."},
	{domain.ErrVerificationNotFound, http.StatusNotFound, "verification_not_found", "No pending verification for this number."},
	{domain.ErrGatewayAuth, http.StatusServiceUnavailable, "gateway_auth", "Verification service is temporarily unavailable."},
	{domain.ErrConfiguration, http.StatusServiceUnavailable, "configuration", "Verification service is not configured."},
	{domain.ErrGatewayUnknown, http.StatusBadGateway, "gateway_error", "Could not deliver the verification code. Please try again."},
	{domain.ErrBadRequest, http.StatusBadRequest, "bad_request", ""},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{domain.ErrConflict, http.StatusConflict, "conflict", ""},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
}

// lookup returns the status, error code and client message for err.
func lookup(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			if m.msg == "" {
				return m.status, m.code, err.Error()
			}
			return m.status, m.code, m.msg
		}
	}
	return http.StatusInternalServerError, "internal", "internal server error"
}

// httpError writes the envelope for err and returns the status used.
// Mappings with an empty msg expose the error text itself.
func httpError(w http.ResponseWriter, err error) int {
	var env Envelope
	status, code, msg := lookup(err)
	env.ErrorCode, env.Error = code, msg

	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		env.ProviderCode = ge.Code
	}
	writeJSON(w, status, env)
	return status
}
