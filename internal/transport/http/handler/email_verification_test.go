package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kustom-api/internal/application/emailverify"
	"github.com/kustom-api/internal/domain"
)

type mockEmailSvc struct{ mock.Mock }

func (m *mockEmailSvc) Request(ctx context.Context, in emailverify.RequestInput) (*emailverify.RequestResult, error) {
	args := m.Called(ctx, in)
	if r, _ := args.Get(0).(*emailverify.RequestResult); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEmailSvc) Confirm(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

func (m *mockEmailSvc) Status(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func postEmailRequest(h *EmailVerificationHandler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/email-verification/request", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.Request(rr, r)
	return rr
}

func getEmailAction(h *EmailVerificationHandler, action, query string) *httptest.ResponseRecorder {
	r := withAction(httptest.NewRequest(http.MethodGet, "/api/v1/email-verification/"+action+"?"+query, nil), action)
	rr := httptest.NewRecorder()
	h.Action(rr, r)
	return rr
}

func TestEmailRequest_InvalidBody(t *testing.T) {
	h := NewEmailVerificationHandler(&mockEmailSvc{}, zap.NewNop())
	assert.Equal(t, http.StatusBadRequest, postEmailRequest(h, "{").Code)
}

func TestEmailRequest_InvalidEmail(t *testing.T) {
	h := NewEmailVerificationHandler(&mockEmailSvc{}, zap.NewNop())
	rr := postEmailRequest(h, `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestEmailRequest_HappyPath(t *testing.T) {
	exp := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	svc := &mockEmailSvc{}
	svc.On("Request", mock.Anything, emailverify.RequestInput{Email: "ana@example.com", Name: "Ana"}).
		Return(&emailverify.RequestResult{Email: "ana@example.com", ExpiresAt: exp}, nil)
	h := NewEmailVerificationHandler(svc, zap.NewNop())

	rr := postEmailRequest(h, `{"email":"ana@example.com","name":"Ana"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	env, data := decodeEnvelope(t, rr)
	assert.True(t, env.Success)
	assert.Equal(t, "ana@example.com", data["email"])
	svc.AssertExpectations(t)
}

func TestEmailRequest_MailFailure(t *testing.T) {
	svc := &mockEmailSvc{}
	svc.On("Request", mock.Anything, mock.Anything).Return(nil, errors.New("smtp down"))
	h := NewEmailVerificationHandler(svc, zap.NewNop())

	rr := postEmailRequest(h, `{"email":"ana@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	env, _ := decodeEnvelope(t, rr)
	assert.NotContains(t, env.Error, "smtp")
}

func TestEmailRequest_AlreadyVerified(t *testing.T) {
	svc := &mockEmailSvc{}
	svc.On("Request", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("email already verified: %w", domain.ErrConflict))
	h := NewEmailVerificationHandler(svc, zap.NewNop())

	rr := postEmailRequest(h, `{"email":"ana@example.com"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	env, _ := decodeEnvelope(t, rr)
	assert.Equal(t, "already_verified", env.ErrorCode)
}

func TestEmailVerify_Outcomes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"missing params", domain.ErrBadRequest, http.StatusBadRequest, "bad_request"},
		{"expired", domain.ErrExpired, http.StatusBadRequest, "expired"},
		{"wrong token", domain.ErrMismatch, http.StatusBadRequest, "invalid"},
		{"no record", domain.ErrNotFound, http.StatusBadRequest, "invalid"},
		{"already verified", domain.ErrConflict, http.StatusConflict, "already_verified"},
		{"store failure", errors.New("dynamo down"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockEmailSvc{}
			svc.On("Confirm", mock.Anything, "ana@example.com", "abc").Return(tc.err)
			h := NewEmailVerificationHandler(svc, zap.NewNop())

			rr := getEmailAction(h, "verify", "email=ana%40example.com&token=abc")
			assert.Equal(t, tc.status, rr.Code)
			env, _ := decodeEnvelope(t, rr)
			assert.Equal(t, tc.err == nil, env.Success)
			assert.Equal(t, tc.code, env.ErrorCode)
		})
	}
}

func TestEmailStatus(t *testing.T) {
	svc := &mockEmailSvc{}
	svc.On("Status", mock.Anything, "ana@example.com").Return(true, nil)
	h := NewEmailVerificationHandler(svc, zap.NewNop())

	rr := getEmailAction(h, "status", "email=ana%40example.com")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data map[string]bool `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, body.Data["verified"])
}

func TestEmailStatus_RequiresEmail(t *testing.T) {
	h := NewEmailVerificationHandler(&mockEmailSvc{}, zap.NewNop())
	assert.Equal(t, http.StatusBadRequest, getEmailAction(h, "status", "").Code)
}

func TestEmailAction_Unknown(t *testing.T) {
	h := NewEmailVerificationHandler(&mockEmailSvc{}, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, getEmailAction(h, "resend", "").Code)
}
