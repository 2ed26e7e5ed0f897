package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kustom-api/internal/application/emailverify"
	"github.com/kustom-api/internal/application/otp"
	"github.com/kustom-api/internal/config"
	"github.com/kustom-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/kustom-api/internal/infrastructure/jwt"
	"github.com/kustom-api/internal/infrastructure/otpstore"
	"github.com/kustom-api/internal/infrastructure/smtp"
	"github.com/kustom-api/internal/infrastructure/sns"
	"github.com/kustom-api/internal/infrastructure/twilio"
	"github.com/kustom-api/internal/pkg/clock"
	transporthttp "github.com/kustom-api/internal/transport/http"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newCodeStore(ctx, cfg)
	if err != nil {
		log.Fatal("otp store", zap.String("store", cfg.OTP.Store), zap.Error(err))
	}

	// SNS SMS courier for locally issued codes (optional).
	var courier sns.SMSSender
	if cfg.SNSEnabled {
		if sender, err := sns.NewSender(ctx, cfg, log); err == nil {
			courier = sender
		} else {
			log.Warn("SNS sender not available", zap.Error(err))
		}
	}

	gateway := twilio.NewGateway(cfg, log)
	otpSvc := otp.NewService(gateway, store, courier, cfg.OTP, log)
	go otpSvc.RunSweeper(ctx, cfg.OTP.SweepInterval)

	log.Info("otp configuration",
		zap.Bool("gateway_configured", cfg.Twilio.Configured()),
		zap.Bool("local_mode", cfg.OTP.LocalMode),
		zap.Bool("local_fallback", cfg.OTP.AllowLocalFallback),
		zap.Bool("sms_courier", courier != nil),
		zap.String("store", cfg.OTP.Store),
	)

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal("dynamo client", zap.Error(err))
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables, log)

	emailSvc := emailverify.NewService(
		dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.Verifications),
		smtp.NewMailer(cfg, log),
		cfg.FrontendURL,
		cfg.EmailVerificationTTL,
		clock.System{},
		log,
	)

	deps := &transporthttp.Deps{
		OTP:               otpSvc,
		EmailVerification: emailSvc,
		Log:               log,
	}
	// JWT provider (optional, verification still works without tokens).
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.Tokens = p
	} else {
		log.Warn("JWT provider not available", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if env == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}
	return log
}

func newCodeStore(ctx context.Context, cfg *config.Config) (otpstore.Store, error) {
	switch cfg.OTP.Store {
	case "", "memory":
		return otpstore.NewMemoryStore(cfg.OTP.Expiry, cfg.OTP.MaxAttempts, clock.System{}), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		return otpstore.NewRedisStore(client, cfg.OTP.Expiry, cfg.OTP.MaxAttempts), nil
	default:
		return nil, fmt.Errorf("unknown OTP_STORE %q", cfg.OTP.Store)
	}
}
