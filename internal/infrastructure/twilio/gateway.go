// Package twilio adapts Twilio Verify v2 to the verification gateway used by
// the OTP orchestrator.
package twilio

import (
	"context"
	"strings"
	"time"

	twilio "github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
	"go.uber.org/zap"

	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/domain"
)

// verifyAPI is the subset of the Verify v2 client the gateway calls.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// Gateway creates and checks verifications against one Verify service.
type Gateway struct {
	api        verifyAPI
	serviceSID string
	configured bool
	timeout    time.Duration
	log        *zap.Logger
}

// NewGateway builds a gateway from the Twilio credentials in cfg. Missing
// credentials produce an unconfigured gateway whose calls all fail with
// domain.ErrConfiguration.
func NewGateway(cfg *config.Config, log *zap.Logger) *Gateway {
	g := &Gateway{
		serviceSID: cfg.Twilio.ServiceSID,
		configured: cfg.Twilio.Configured(),
		timeout:    cfg.OTP.GatewayTimeout,
		log:        log,
	}
	if g.configured {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Twilio.AccountSID,
			Password: cfg.Twilio.AuthToken,
		})
		g.api = client.VerifyV2
	}
	return g
}

func newGateway(api verifyAPI, serviceSID string, timeout time.Duration, log *zap.Logger) *Gateway {
	return &Gateway{api: api, serviceSID: serviceSID, configured: api != nil, timeout: timeout, log: log}
}

// ConfigurationStatus never fails and performs no I/O.
func (g *Gateway) ConfigurationStatus() domain.GatewayStatus {
	return domain.GatewayStatus{Configured: g.configured}
}

// CreateVerification asks the provider to deliver a fresh code to phone.
func (g *Gateway) CreateVerification(ctx context.Context, phone domain.PhoneNumber, channel domain.Channel) (*domain.VerificationAttempt, error) {
	if !g.configured {
		return nil, unconfigured(channel)
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phone.String())
	params.SetChannel(string(channel))

	res, err := withTimeout(ctx, g.timeout, func() (*verify.VerifyV2Verification, error) {
		return g.api.CreateVerification(g.serviceSID, params)
	})
	if err != nil {
		mapped := mapError(err, channel)
		g.log.Warn("verification create failed",
			zap.String("phone", maskPhone(phone)),
			zap.String("channel", string(channel)),
			zap.Error(mapped))
		return nil, mapped
	}

	attempt := &domain.VerificationAttempt{
		ID:      deref(res.Sid),
		Status:  deref(res.Status),
		To:      deref(res.To),
		Channel: domain.Channel(deref(res.Channel)),
		Valid:   res.Valid != nil && *res.Valid,
	}
	if attempt.Channel == "" {
		attempt.Channel = channel
	}
	g.log.Info("verification created",
		zap.String("sid", attempt.ID),
		zap.String("status", attempt.Status),
		zap.String("channel", string(attempt.Channel)))
	return attempt, nil
}

// CheckVerification submits code for the pending verification of phone.
// Status is "approved" iff the code matched.
func (g *Gateway) CheckVerification(ctx context.Context, phone domain.PhoneNumber, code string) (*domain.VerificationAttempt, error) {
	if !g.configured {
		return nil, unconfigured("")
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone.String())
	params.SetCode(strings.TrimSpace(code))

	res, err := withTimeout(ctx, g.timeout, func() (*verify.VerifyV2VerificationCheck, error) {
		return g.api.CreateVerificationCheck(g.serviceSID, params)
	})
	if err != nil {
		mapped := mapError(err, "")
		g.log.Warn("verification check failed", zap.String("phone", maskPhone(phone)), zap.Error(mapped))
		return nil, mapped
	}

	attempt := &domain.VerificationAttempt{
		ID:      deref(res.Sid),
		Status:  deref(res.Status),
		To:      deref(res.To),
		Channel: domain.Channel(deref(res.Channel)),
		Valid:   res.Valid != nil && *res.Valid,
	}
	g.log.Info("verification checked", zap.String("sid", attempt.ID), zap.String("status", attempt.Status))
	return attempt, nil
}

func unconfigured(channel domain.Channel) error {
	return &domain.GatewayError{
		Kind:    domain.ErrConfiguration,
		Message: "twilio credentials are not set",
		Channel: channel,
	}
}

type result[T any] struct {
	val T
	err error
}

// withTimeout bounds a blocking provider call by ctx and d. The SDK call
// itself is not cancellable; an abandoned call finishes in the background and
// its result is discarded.
func withTimeout[T any](ctx context.Context, d time.Duration, call func() (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	ch := make(chan result[T], 1)
	go func() {
		v, err := call()
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// maskPhone keeps the last four digits for log lines.
func maskPhone(p domain.PhoneNumber) string {
	s := p.String()
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
