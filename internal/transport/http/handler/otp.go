package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kustom-api/internal/application/otp"
	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/pkg/validate"
)

type tokenSigner interface {
	Sign(phone, purpose string) (string, error)
}

// OTPHandler exposes the phone verification flow.
type OTPHandler struct {
	svc    otp.Service
	signer tokenSigner // nil when no JWT keys are loaded
	twilio config.TwilioConfig
	log    *zap.Logger
}

func NewOTPHandler(svc otp.Service, signer tokenSigner, twilio config.TwilioConfig, log *zap.Logger) *OTPHandler {
	return &OTPHandler{svc: svc, signer: signer, twilio: twilio, log: log}
}

type verifyResponse struct {
	*otp.VerifyResult
	Token string `json:"token,omitempty"`
}

type statusResponse struct {
	otp.Status
	AccountSID *string `json:"account_sid"`
	ServiceSID *string `json:"service_sid"`
}

// Action dispatches POST /otp/{action}.
func (h *OTPHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "send":
		h.send(w, r)
	case "verify":
		h.verify(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
	}
}

// Query dispatches GET /otp/{action}.
func (h *OTPHandler) Query(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "status":
		h.status(w, r)
	case "remaining":
		h.remaining(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
	}
}

func (h *OTPHandler) send(w http.ResponseWriter, r *http.Request) {
	var req otp.SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}

	res, err := h.svc.SendCode(r.Context(), req.PhoneNumber, req.Purpose)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Verification code sent successfully", res)
}

func (h *OTPHandler) verify(w http.ResponseWriter, r *http.Request) {
	var req otp.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}
	if req.Purpose == "" {
		req.Purpose = otp.PurposeSignup
	}

	res, err := h.svc.VerifyCode(r.Context(), req.PhoneNumber, req.Code, req.Purpose)
	if err != nil {
		h.fail(w, err)
		return
	}

	if !res.Verified() {
		status, code, msg := lookup(res.Err())
		writeJSON(w, status, Envelope{Data: verifyResponse{VerifyResult: res}, Error: msg, ErrorCode: code})
		return
	}

	out := verifyResponse{VerifyResult: res}
	if h.signer != nil {
		tok, err := h.signer.Sign(res.Phone.String(), string(req.Purpose))
		if err != nil {
			h.log.Error("sign phone token", zap.Error(err))
		} else {
			out.Token = tok
		}
	}
	writeOK(w, http.StatusOK, "Phone number verified successfully", out)
}

func (h *OTPHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, http.StatusOK, "", statusResponse{
		Status:     h.svc.ConfigurationStatus(),
		AccountSID: maskSID(h.twilio.AccountSID),
		ServiceSID: maskSID(h.twilio.ServiceSID),
	})
}

func (h *OTPHandler) remaining(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phoneNumber")
	if phone == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "phoneNumber is required")
		return
	}
	n, err := h.svc.RemainingSeconds(r.Context(), phone)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", map[string]int{"remaining_seconds": n})
}

func (h *OTPHandler) fail(w http.ResponseWriter, err error) {
	if status := httpError(w, err); status >= http.StatusInternalServerError {
		h.log.Error("otp request failed", zap.Int("status", status), zap.Error(err))
	}
}

// maskSID keeps the first 8 characters of a credential for diagnostics.
// An unset credential yields nil, which encodes as JSON null.
func maskSID(s string) *string {
	if s == "" {
		return nil
	}
	if len(s) > 8 {
		s = s[:8]
	}
	masked := s + "..."
	return &masked
}
