package http

import (
	"go.uber.org/zap"

	"github.com/kustom-api/internal/application/emailverify"
	"github.com/kustom-api/internal/application/otp"
	jwtinfra "github.com/kustom-api/internal/infrastructure/jwt"
)

// TokenIssuer signs phone tokens after a successful verification and checks
// them on protected routes.
type TokenIssuer interface {
	Sign(phone, purpose string) (string, error)
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

// Deps holds the application services the router exposes.
type Deps struct {
	OTP               otp.Service
	EmailVerification emailverify.Service
	// Tokens is left nil when no signing keys are loaded. Phone verification
	// then returns no token and email requests are not authenticated.
	Tokens TokenIssuer
	Log    *zap.Logger
}
