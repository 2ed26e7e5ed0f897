package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kustom-api/internal/application/emailverify"
	"github.com/kustom-api/internal/domain"
	"github.com/kustom-api/internal/pkg/validate"
	"github.com/kustom-api/internal/transport/http/middleware"
)

// EmailVerificationHandler handles email verification links.
type EmailVerificationHandler struct {
	svc emailverify.Service
	log *zap.Logger
}

func NewEmailVerificationHandler(svc emailverify.Service, log *zap.Logger) *EmailVerificationHandler {
	return &EmailVerificationHandler{svc: svc, log: log}
}

// Request mails a fresh verification link.
func (h *EmailVerificationHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req emailverify.RequestInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}

	fields := []zap.Field{zap.String("email", req.Email)}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		fields = append(fields, zap.String("verified_phone", claims.Phone))
	}

	res, err := h.svc.Request(r.Context(), req)
	if errors.Is(err, domain.ErrConflict) {
		writeError(w, http.StatusConflict, "already_verified", "Email is already verified.")
		return
	}
	if err != nil {
		h.log.Error("email verification request failed", append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, "internal", "Failed to send verification email. Please try again.")
		return
	}
	h.log.Info("email verification link sent", fields...)
	writeOK(w, http.StatusCreated, "Please check your email to verify your account.", res)
}

// Action dispatches GET /email-verification/{action}.
func (h *EmailVerificationHandler) Action(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch chi.URLParam(r, "action") {
	case "verify":
		h.confirm(w, r, q.Get("email"), q.Get("token"))
	case "status":
		email := q.Get("email")
		if err := validate.Var(email, "required,email"); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "a valid email is required")
			return
		}
		ok, err := h.svc.Status(r.Context(), email)
		if err != nil {
			h.log.Error("email verification status failed", zap.Error(err))
			httpError(w, err)
			return
		}
		writeOK(w, http.StatusOK, "", map[string]bool{"verified": ok})
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *EmailVerificationHandler) confirm(w http.ResponseWriter, r *http.Request, email, token string) {
	err := h.svc.Confirm(r.Context(), email, token)
	switch {
	case err == nil:
		writeOK(w, http.StatusOK, "Email verified successfully.", nil)
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid verification link.")
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusBadRequest, "expired", "Verification link has expired.")
	case errors.Is(err, domain.ErrMismatch), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusBadRequest, "invalid", "Verification link is invalid.")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "already_verified", "Email is already verified.")
	default:
		h.log.Error("email verification failed", zap.Error(err))
		httpError(w, err)
	}
}
