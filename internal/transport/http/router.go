package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/transport/http/handler"
	appmiddleware "github.com/kustom-api/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router. ctx bounds the
// lifetime of the rate limiter cleanup goroutines.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestLogger(deps.Log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := func(next http.Handler) http.Handler { return next }
	if deps.Tokens != nil {
		authMw = appmiddleware.Auth(deps.Tokens)
	}

	// sends cost money: 1 request/second per IP, burst of 5
	otpRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(1), 5)
	emailRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(1), 3)

	healthH := handler.NewHealthHandler(cfg.AppEnv)
	otpH := handler.NewOTPHandler(deps.OTP, deps.Tokens, cfg.Twilio, deps.Log)
	emailH := handler.NewEmailVerificationHandler(deps.EmailVerification, deps.Log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthH.Health)
		r.Get("/health-check/{action}", healthH.Ping)

		r.With(otpRL.Limit).Post("/otp/{action}", otpH.Action)
		r.Get("/otp/{action}", otpH.Query)

		r.With(emailRL.Limit, authMw).Post("/email-verification/request", emailH.Request)
		r.Get("/email-verification/{action}", emailH.Action)
	})

	return r
}
