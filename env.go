package stepauth

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env carries the process-level settings an embedding application needs
// to wire the engine's collaborators.
type Env struct {
	RedisAddr     string
	RedisPassword string
	DatabaseURL   string

	ResendAPIKey string
	EmailFrom    string

	SMSWebhookURL   string
	SMSWebhookToken string

	OTPTTL         time.Duration
	ResendCooldown time.Duration
	RecoveryCount  int
}

// LoadEnv reads a .env file when present, then resolves settings from the
// process environment. A missing .env file is not an error.
func LoadEnv() (Env, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Env{}, err
	}

	env := Env{
		RedisAddr:       envOr("STEPAUTH_REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("STEPAUTH_REDIS_PASSWORD"),
		DatabaseURL:     os.Getenv("STEPAUTH_DATABASE_URL"),
		ResendAPIKey:    os.Getenv("STEPAUTH_RESEND_API_KEY"),
		EmailFrom:       envOr("STEPAUTH_EMAIL_FROM", "no-reply@localhost"),
		SMSWebhookURL:   os.Getenv("STEPAUTH_SMS_WEBHOOK_URL"),
		SMSWebhookToken: os.Getenv("STEPAUTH_SMS_WEBHOOK_TOKEN"),
		OTPTTL:          envDurationOr("STEPAUTH_OTP_TTL", defaultOTPTTL),
		ResendCooldown:  envDurationOr("STEPAUTH_OTP_RESEND_COOLDOWN", defaultResendCooldown),
		RecoveryCount:   envIntOr("STEPAUTH_RECOVERY_COUNT", defaultRecoveryCount),
	}
	return env, nil
}

// Config translates the environment's tunables onto the default
// configuration. Collaborator wiring (redis, stores, senders) stays with
// the caller.
func (e Env) Config() Config {
	cfg := defaultConfig()
	cfg.OTP.TTL = e.OTPTTL
	cfg.OTP.ResendCooldown = e.ResendCooldown
	cfg.Recovery.Count = e.RecoveryCount
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
