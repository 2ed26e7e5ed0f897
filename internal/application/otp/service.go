// Package otp owns the phone verification flow: it decides whether a code is
// delivered by the verification gateway or issued locally, retries once on the
// secondary channel, and routes every check to the path that issued the code.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/domain"
	"github.com/kustom-api/internal/pkg/clock"
	"github.com/kustom-api/internal/pkg/id"
	"github.com/kustom-api/internal/pkg/validate"
)

// Purpose selects the wording of locally delivered messages.
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeSignin Purpose = "signin"
)

// Via tells which path issued a code.
type Via string

const (
	ViaGateway Via = "gateway"
	ViaLocal   Via = "local"
)

// Verification outcomes.
const (
	StatusVerified = "verified"
	StatusFailed   = "failed"
	StatusExpired  = "expired"
)

type SendRequest struct {
	PhoneNumber string  `json:"phoneNumber" validate:"required"`
	Purpose     Purpose `json:"purpose" validate:"omitempty,oneof=signup signin"`
}

type VerifyRequest struct {
	PhoneNumber string  `json:"phoneNumber" validate:"required"`
	Code        string  `json:"code" validate:"required"`
	Purpose     Purpose `json:"purpose" validate:"omitempty,oneof=signup signin"`
}

// SendResult describes where a freshly issued code went. DevCode is only set
// in demo mode, when a local code has no courier to deliver it.
type SendResult struct {
	Phone     domain.PhoneNumber          `json:"phone"`
	Delivered bool                        `json:"delivered"`
	Via       Via                         `json:"via"`
	Channel   domain.Channel              `json:"channel,omitempty"`
	Attempt   *domain.VerificationAttempt `json:"attempt,omitempty"`
	DevCode   string                      `json:"dev_code,omitempty"`
	ExpiresIn int                         `json:"expires_in"`
}

// VerifyResult is the outcome of one code check. Reason carries the store
// outcome or the provider status behind Status.
type VerifyResult struct {
	Phone             domain.PhoneNumber          `json:"phone"`
	Status            string                      `json:"status"`
	Via               Via                         `json:"via"`
	Reason            string                      `json:"reason,omitempty"`
	Attempt           *domain.VerificationAttempt `json:"attempt,omitempty"`
	AttemptsRemaining int                         `json:"attempts_remaining,omitempty"`
}

func (r *VerifyResult) Verified() bool { return r.Status == StatusVerified }

// Err maps a non-verified result to domain.ErrMismatch or domain.ErrExpired.
func (r *VerifyResult) Err() error {
	switch r.Status {
	case StatusVerified:
		return nil
	case StatusExpired:
		return domain.ErrExpired
	default:
		return domain.ErrMismatch
	}
}

// Status reports what the orchestrator is able to do right now.
type Status struct {
	GatewayConfigured bool `json:"configured"`
	LocalMode         bool `json:"local_mode"`
	LocalFallback     bool `json:"local_fallback"`
}

type Service interface {
	SendCode(ctx context.Context, phone string, purpose Purpose) (*SendResult, error)
	VerifyCode(ctx context.Context, phone, code string, purpose Purpose) (*VerifyResult, error)
	ConfigurationStatus() Status
	RemainingSeconds(ctx context.Context, phone string) (int, error)
	Sweep(ctx context.Context) error
	RunSweeper(ctx context.Context, interval time.Duration)
}

type gateway interface {
	CreateVerification(ctx context.Context, phone domain.PhoneNumber, channel domain.Channel) (*domain.VerificationAttempt, error)
	CheckVerification(ctx context.Context, phone domain.PhoneNumber, code string) (*domain.VerificationAttempt, error)
	ConfigurationStatus() domain.GatewayStatus
}

type sessionStore interface {
	Put(ctx context.Context, phone domain.PhoneNumber, code string) error
	TryConsume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.ConsumeResult, error)
	RemainingSeconds(ctx context.Context, phone domain.PhoneNumber) (int, error)
	Delete(ctx context.Context, phone domain.PhoneNumber) error
	SweepExpired(ctx context.Context) error
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// challenge remembers which path issued the pending code for a phone.
type challenge struct {
	via      Via
	issuedAt time.Time
}

type Option func(*service)

// WithClock replaces the wall clock used for issuance markers.
func WithClock(c clock.Clocker) Option {
	return func(s *service) { s.clock = c }
}

// WithCodeGenerator replaces the crypto-random 6-digit generator.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *service) { s.generate = fn }
}

type service struct {
	gw      gateway
	store   sessionStore
	courier smsSender
	cfg     config.OTPConfig
	log     *zap.Logger

	clock    clock.Clocker
	generate func() (string, error)
	locks    *keyedMutex

	mu         sync.Mutex
	challenges map[domain.PhoneNumber]challenge
}

// NewService wires the orchestrator. courier may be nil, in which case local
// codes are returned to the caller as DevCode.
func NewService(gw gateway, store sessionStore, courier smsSender, cfg config.OTPConfig, log *zap.Logger, opts ...Option) Service {
	s := &service{
		gw:         gw,
		store:      store,
		courier:    courier,
		cfg:        cfg,
		log:        log,
		clock:      clock.System{},
		generate:   generateCode,
		locks:      newKeyedMutex(),
		challenges: make(map[domain.PhoneNumber]challenge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) gatewayUsable() bool {
	return !s.cfg.LocalMode && s.gw.ConfigurationStatus().Configured
}

func (s *service) localUsable() bool {
	return s.cfg.LocalMode || s.cfg.AllowLocalFallback
}

func (s *service) ConfigurationStatus() Status {
	return Status{
		GatewayConfigured: s.gw.ConfigurationStatus().Configured,
		LocalMode:         s.cfg.LocalMode,
		LocalFallback:     s.cfg.AllowLocalFallback,
	}
}

func (s *service) SendCode(ctx context.Context, raw string, purpose Purpose) (*SendResult, error) {
	phone, err := NormalizePhone(raw, s.cfg.DefaultRegion)
	if err != nil {
		return nil, err
	}
	if purpose == "" {
		purpose = PurposeSignup
	}

	unlock := s.locks.Lock(phone)
	defer unlock()

	// A new send invalidates whatever was pending.
	if err := s.store.Delete(ctx, phone); err != nil {
		return nil, fmt.Errorf("otp.SendCode: clear pending: %w", err)
	}
	s.forget(phone)

	switch {
	case s.gatewayUsable():
		return s.sendViaGateway(ctx, phone)
	case s.localUsable():
		return s.sendLocal(ctx, phone, purpose)
	default:
		return nil, &domain.GatewayError{
			Kind:    domain.ErrConfiguration,
			Message: "verification gateway is not configured and local fallback is disabled",
		}
	}
}

func (s *service) sendViaGateway(ctx context.Context, phone domain.PhoneNumber) (*SendResult, error) {
	channel := domain.Channel(s.cfg.PrimaryChannel)
	attempt, err := s.gw.CreateVerification(ctx, phone, channel)
	if err != nil {
		secondary := domain.Channel(s.cfg.SecondaryChannel)
		if !domain.IsDeliverability(err) || secondary == "" || secondary == channel {
			return nil, err
		}
		s.log.Warn("primary channel undeliverable, retrying on secondary",
			zap.String("primary", string(channel)),
			zap.String("secondary", string(secondary)),
			zap.Error(err))

		channel = secondary
		attempt, err = s.gw.CreateVerification(ctx, phone, channel)
		if err != nil {
			return nil, err
		}
	}

	s.remember(phone, ViaGateway)
	if attempt.Channel != "" {
		channel = attempt.Channel
	}
	return &SendResult{
		Phone:     phone,
		Delivered: true,
		Via:       ViaGateway,
		Channel:   channel,
		Attempt:   attempt,
		ExpiresIn: int(s.cfg.GatewayWindow / time.Second),
	}, nil
}

func (s *service) sendLocal(ctx context.Context, phone domain.PhoneNumber, purpose Purpose) (*SendResult, error) {
	code, err := s.generate()
	if err != nil {
		return nil, fmt.Errorf("otp.SendCode: generate code: %w", err)
	}
	if err := s.store.Put(ctx, phone, code); err != nil {
		return nil, fmt.Errorf("otp.SendCode: %w", err)
	}

	attempt := &domain.VerificationAttempt{
		ID:      id.Prefixed("otp"),
		Status:  domain.VerificationPending,
		To:      phone.String(),
		Channel: domain.ChannelSMS,
	}
	res := &SendResult{
		Phone:     phone,
		Delivered: true,
		Via:       ViaLocal,
		Channel:   domain.ChannelSMS,
		Attempt:   attempt,
		ExpiresIn: int(s.cfg.Expiry / time.Second),
	}

	if s.courier == nil {
		s.log.Warn("demo mode: returning verification code in response",
			zap.String("phone", phone.String()),
			zap.String("purpose", string(purpose)))
		res.DevCode = code
		s.remember(phone, ViaLocal)
		return res, nil
	}

	if err := s.courier.SendSMS(ctx, phone.String(), message(purpose, code, s.cfg.Expiry)); err != nil {
		_ = s.store.Delete(ctx, phone)
		return nil, &domain.GatewayError{
			Kind:    domain.ErrGatewayUnknown,
			Message: "sms delivery failed: " + err.Error(),
			Channel: domain.ChannelSMS,
		}
	}
	s.remember(phone, ViaLocal)
	return res, nil
}

func (s *service) VerifyCode(ctx context.Context, raw, code string, purpose Purpose) (*VerifyResult, error) {
	phone, err := NormalizePhone(raw, s.cfg.DefaultRegion)
	if err != nil {
		return nil, err
	}
	if err := validate.Var(code, "otpcode"); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCodeFormat, err)
	}

	unlock := s.locks.Lock(phone)
	defer unlock()

	via, known := s.issuedVia(phone)
	if !known {
		// Issued before a restart or by another instance.
		via = ViaLocal
		if s.gatewayUsable() {
			via = ViaGateway
		}
	}

	var res *VerifyResult
	if via == ViaGateway {
		res, err = s.verifyViaGateway(ctx, phone, code)
	} else {
		res, err = s.verifyLocal(ctx, phone, code)
	}
	if err != nil {
		return nil, err
	}
	res.Phone = phone

	s.log.Info("verification checked",
		zap.String("via", string(res.Via)),
		zap.String("status", res.Status),
		zap.String("reason", res.Reason),
		zap.String("purpose", string(purpose)))
	return res, nil
}

func (s *service) verifyViaGateway(ctx context.Context, phone domain.PhoneNumber, code string) (*VerifyResult, error) {
	// The gateway takes precedence over any stale local record.
	if err := s.store.Delete(ctx, phone); err != nil {
		return nil, fmt.Errorf("otp.VerifyCode: %w", err)
	}

	attempt, err := s.gw.CheckVerification(ctx, phone, code)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationNotFound) {
			s.forget(phone)
			return &VerifyResult{Status: StatusExpired, Via: ViaGateway, Reason: string(domain.ConsumeNotFound)}, nil
		}
		return nil, err
	}

	res := &VerifyResult{Via: ViaGateway, Reason: attempt.Status, Attempt: attempt}
	switch attempt.Status {
	case domain.VerificationApproved:
		res.Status = StatusVerified
		s.forget(phone)
	case domain.VerificationExpired, domain.VerificationCanceled:
		res.Status = StatusExpired
		s.forget(phone)
	default:
		res.Status = StatusFailed
	}
	return res, nil
}

func (s *service) verifyLocal(ctx context.Context, phone domain.PhoneNumber, code string) (*VerifyResult, error) {
	out, err := s.store.TryConsume(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("otp.VerifyCode: %w", err)
	}

	res := &VerifyResult{Via: ViaLocal, Reason: string(out.Outcome)}
	switch out.Outcome {
	case domain.ConsumeOK:
		res.Status = StatusVerified
		s.forget(phone)
	case domain.ConsumeInvalid:
		res.Status = StatusFailed
		res.AttemptsRemaining = out.AttemptsLeft
	case domain.ConsumeExhausted:
		res.Status = StatusFailed
		s.forget(phone)
	default:
		res.Status = StatusExpired
		s.forget(phone)
	}
	return res, nil
}

// RemainingSeconds reports how long the pending code for phone stays valid.
func (s *service) RemainingSeconds(ctx context.Context, raw string) (int, error) {
	phone, err := NormalizePhone(raw, s.cfg.DefaultRegion)
	if err != nil {
		return 0, err
	}

	if c, ok := s.lookup(phone); ok && c.via == ViaGateway {
		left := s.cfg.GatewayWindow - s.clock.Now().Sub(c.issuedAt)
		if left <= 0 {
			return 0, nil
		}
		return int(left / time.Second), nil
	}

	n, err := s.store.RemainingSeconds(ctx, phone)
	if err != nil {
		return 0, fmt.Errorf("otp.RemainingSeconds: %w", err)
	}
	return n, nil
}

// Sweep drops expired local records and issuance markers that can no longer
// be verified.
func (s *service) Sweep(ctx context.Context) error {
	if err := s.store.SweepExpired(ctx); err != nil {
		return fmt.Errorf("otp.Sweep: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	for phone, c := range s.challenges {
		ttl := s.cfg.Expiry
		if c.via == ViaGateway {
			ttl = s.cfg.GatewayWindow
		}
		if now.Sub(c.issuedAt) > ttl {
			delete(s.challenges, phone)
		}
	}
	s.mu.Unlock()
	return nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("otp sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *service) remember(phone domain.PhoneNumber, via Via) {
	s.mu.Lock()
	s.challenges[phone] = challenge{via: via, issuedAt: s.clock.Now()}
	s.mu.Unlock()
}

func (s *service) forget(phone domain.PhoneNumber) {
	s.mu.Lock()
	delete(s.challenges, phone)
	s.mu.Unlock()
}

func (s *service) lookup(phone domain.PhoneNumber) (challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[phone]
	return c, ok
}

func (s *service) issuedVia(phone domain.PhoneNumber) (Via, bool) {
	c, ok := s.lookup(phone)
	return c.via, ok
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func message(purpose Purpose, code string, expiry time.Duration) string {
	minutes := int(expiry / time.Minute)
	if purpose == PurposeSignin {
		return fmt.Sprintf("Your Kustom login verification code is: %s. This code will expire in %d minutes. Please do not share this code with anyone.", code, minutes)
	}
	return fmt.Sprintf("Welcome to Kustom! Your verification code is: %s. This code will expire in %d minutes. Please do not share this code with anyone.", code, minutes)
}
