package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string
	SNSEnabled   bool

	AllowedOrigins []string // CORS allowed origins
	FrontendURL    string

	Twilio TwilioConfig
	OTP    OTPConfig
	Redis  RedisConfig

	EmailVerificationTTL time.Duration
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Verifications string
}

// TwilioConfig holds the Twilio Verify credentials. All three must be set for
// the gateway to count as configured.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
}

// Configured reports whether every credential is present.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.ServiceSID != ""
}

// OTPConfig controls the phone verification flow.
type OTPConfig struct {
	PrimaryChannel     string
	SecondaryChannel   string
	LocalMode          bool
	AllowLocalFallback bool
	Expiry             time.Duration
	MaxAttempts        int
	GatewayTimeout     time.Duration
	GatewayWindow      time.Duration // how long the provider keeps a verification open
	SweepInterval      time.Duration
	DefaultRegion      string
	Store              string // "memory" | "redis"
}

// RedisConfig is used when OTP.Store is "redis".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "5001"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Verifications: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
		},
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 30*time.Minute),
		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnv("SMTP_PORT", "1025"),
		SMTPFrom:          getEnv("SMTP_FROM", "noreply@kustom.app"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		SNSEnabled:        getEnvBool("SNS_ENABLED", false),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080,http://localhost:5173"), ","),
		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:5173"),
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			ServiceSID: getEnv("TWILIO_VERIFY_SERVICE_SID", ""),
		},
		OTP: OTPConfig{
			PrimaryChannel:     getEnv("OTP_PRIMARY_CHANNEL", "whatsapp"),
			SecondaryChannel:   getEnv("OTP_SECONDARY_CHANNEL", "sms"),
			LocalMode:          getEnvBool("OTP_LOCAL_MODE", false),
			AllowLocalFallback: getEnvBool("OTP_ALLOW_LOCAL_FALLBACK", false),
			Expiry:             time.Duration(getEnvInt("OTP_EXPIRY_MINUTES", 5)) * time.Minute,
			MaxAttempts:        getEnvInt("OTP_MAX_ATTEMPTS", 5),
			GatewayTimeout:     getEnvDuration("OTP_GATEWAY_TIMEOUT", 10*time.Second),
			GatewayWindow:      getEnvDuration("OTP_GATEWAY_WINDOW", 10*time.Minute),
			SweepInterval:      getEnvDuration("OTP_SWEEP_INTERVAL", time.Minute),
			DefaultRegion:      getEnv("PHONE_DEFAULT_REGION", "US"),
			Store:              getEnv("OTP_STORE", "memory"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		EmailVerificationTTL: time.Duration(getEnvInt("EMAIL_VERIFICATION_TTL_HOURS", 24)) * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
