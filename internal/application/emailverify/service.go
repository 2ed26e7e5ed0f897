// Package emailverify confirms ownership of an email address through a
// single-use link.
package emailverify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kustom-api/internal/domain"
	"github.com/kustom-api/internal/pkg/clock"
	pkgtoken "github.com/kustom-api/internal/pkg/token"
)

const (
	tokenBytes  = 32
	maxAttempts = 5
	// confirmed records are kept this long before the table TTL drops them
	retention = 30 * 24 * time.Hour
)

type RequestInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"omitempty,max=100"`
}

type RequestResult struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service interface {
	Request(ctx context.Context, in RequestInput) (*RequestResult, error)
	Confirm(ctx context.Context, email, token string) error
	Status(ctx context.Context, email string) (bool, error)
}

type verificationStore interface {
	Put(ctx context.Context, v *domain.EmailVerification) error
	Get(ctx context.Context, subject, verType string) (*domain.EmailVerification, error)
	IncrementAttempts(ctx context.Context, subject, verType string, limit int) (int, error)
	MarkVerified(ctx context.Context, subject, verType string, at time.Time, retainUntil int64) error
	Delete(ctx context.Context, subject, verType string) error
}

type mailer interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

type service struct {
	store       verificationStore
	mailer      mailer
	frontendURL string
	ttl         time.Duration
	clock       clock.Clocker
	log         *zap.Logger
}

func NewService(store verificationStore, m mailer, frontendURL string, ttl time.Duration, clk clock.Clocker, log *zap.Logger) Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &service{
		store:       store,
		mailer:      m,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		ttl:         ttl,
		clock:       clk,
		log:         log,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Request issues a new link for in.Email, replacing any earlier one.
func (s *service) Request(ctx context.Context, in RequestInput) (*RequestResult, error) {
	email := normalizeEmail(in.Email)

	switch v, err := s.store.Get(ctx, email, domain.VerificationTypeEmail); {
	case err == nil && v.Verified():
		return nil, fmt.Errorf("email already verified: %w", domain.ErrConflict)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("emailverify.Request: %w", err)
	}

	tok, err := pkgtoken.New(tokenBytes)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tok), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	err = s.store.Put(ctx, &domain.EmailVerification{
		Subject:   email,
		Type:      domain.VerificationTypeEmail,
		CodeHash:  string(hash),
		ExpiresAt: expiresAt.Unix(),
		CreatedAt: now.UTC(),
	})
	if err != nil {
		// Put refuses to overwrite a record confirmed since the Get.
		return nil, fmt.Errorf("emailverify.Request: %w", err)
	}

	link := fmt.Sprintf("%s/verify-email?token=%s&email=%s", s.frontendURL, tok, url.QueryEscape(email))
	if err := s.mailer.SendEmail(ctx, email, "Verify your email address", body(in.Name, link, s.ttl)); err != nil {
		_ = s.store.Delete(ctx, email, domain.VerificationTypeEmail)
		return nil, fmt.Errorf("emailverify.Request: send: %w", err)
	}

	s.log.Info("email verification requested", zap.String("email", email))
	return &RequestResult{Email: email, ExpiresAt: expiresAt.UTC()}, nil
}

// Confirm checks token against the pending link for email.
func (s *service) Confirm(ctx context.Context, email, token string) error {
	email = normalizeEmail(email)
	token = strings.TrimSpace(token)
	if email == "" || token == "" {
		return fmt.Errorf("invalid verification link: %w", domain.ErrBadRequest)
	}

	v, err := s.store.Get(ctx, email, domain.VerificationTypeEmail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("verification link is invalid: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("emailverify.Confirm: %w", err)
	}
	if v.Verified() {
		return fmt.Errorf("email already verified: %w", domain.ErrConflict)
	}

	now := s.clock.Now()
	if now.Unix() > v.ExpiresAt {
		_ = s.store.Delete(ctx, email, domain.VerificationTypeEmail)
		return fmt.Errorf("verification link has expired: %w", domain.ErrExpired)
	}

	if bcrypt.CompareHashAndPassword([]byte(v.CodeHash), []byte(token)) != nil {
		n, err := s.store.IncrementAttempts(ctx, email, domain.VerificationTypeEmail, maxAttempts)
		switch {
		case errors.Is(err, domain.ErrRateLimited), err == nil && n >= maxAttempts:
			_ = s.store.Delete(ctx, email, domain.VerificationTypeEmail)
			return fmt.Errorf("too many invalid attempts, request a new link: %w", domain.ErrExpired)
		case err != nil:
			s.log.Warn("could not record failed attempt", zap.String("email", email), zap.Error(err))
		}
		return fmt.Errorf("verification link is invalid: %w", domain.ErrMismatch)
	}

	if err := s.store.MarkVerified(ctx, email, domain.VerificationTypeEmail, now, now.Add(retention).Unix()); err != nil {
		return fmt.Errorf("emailverify.Confirm: %w", err)
	}
	s.log.Info("email verified", zap.String("email", email))
	return nil
}

// Status reports whether email has a confirmed verification.
func (s *service) Status(ctx context.Context, email string) (bool, error) {
	v, err := s.store.Get(ctx, normalizeEmail(email), domain.VerificationTypeEmail)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("emailverify.Status: %w", err)
	}
	return v.Verified(), nil
}

func body(name, link string, ttl time.Duration) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`<p>Hi %s,</p>
<p>Thank you for registering your business. Please verify your email address by clicking the link below:</p>
<a href="%s">Verify Email</a>
<p>This link will expire in %d hours.</p>`, html.EscapeString(name), html.EscapeString(link), int(ttl/time.Hour))
}
