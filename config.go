package stepauth

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config carries the engine's tunables. Instances are set up once before
// Build and treated as immutable afterwards.
type Config struct {
	Session  SessionConfig
	OTP      OTPConfig
	Recovery RecoveryConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// RequiredAssurance is the level a session must reach before
	// protected operations are authorized. Defaults to AssuranceLevel2.
	RequiredAssurance AssuranceLevel

	// Logger receives refresh failures and best-effort cleanup warnings.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig governs proactive session renewal.
type SessionConfig struct {
	// RefreshMargin is subtracted from the session expiry to compute the
	// refresh deadline.
	RefreshMargin time.Duration
	// MinRefreshInterval is both the lower clamp on the refresh deadline
	// and the debounce window between refresh attempts.
	MinRefreshInterval time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig governs the email/phone one-time-code channel.
type OTPConfig struct {
	// Digits is the code length. Fixed-length numeric, default 6.
	Digits int
	// TTL is the code validity window, default 5 minutes.
	TTL time.Duration
	// ResendCooldown is the minimum wall-clock gap between sends for the
	// same subject, enforced server-side. Default 60 seconds.
	ResendCooldown time.Duration
	// MaxVerifyAttempts bounds failed verifications per subject within
	// AttemptWindow before ErrOTPRateLimited.
	MaxVerifyAttempts int
	// AttemptWindow is the sliding budget window for failed attempts.
	AttemptWindow time.Duration
	// RedisPrefix namespaces the cooldown and attempt keys.
	RedisPrefix string
}

/*
====================================
RECOVERY CODE CONFIG
====================================
*/

// RecoveryConfig governs break-glass recovery codes.
type RecoveryConfig struct {
	// Count is the batch size generated per enable/regenerate.
	Count int
	// Length is the number of alphabet characters per code, before the
	// display dash is inserted.
	Length int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig governs asynchronous audit event dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// BlockOnFull makes Emit wait instead of dropping when the buffer is
	// full. Dropped events are counted either way.
	BlockOnFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled bool
}

const (
	defaultRefreshMargin      = 5 * time.Minute
	defaultMinRefreshInterval = 60 * time.Second
	defaultOTPDigits          = 6
	defaultOTPTTL             = 5 * time.Minute
	defaultResendCooldown     = 60 * time.Second
	defaultMaxVerifyAttempts  = 5
	defaultAttemptWindow      = 5 * time.Minute
	defaultRecoveryCount      = 10
	defaultRecoveryLength     = 10
	defaultAuditBuffer        = 256
)

// DefaultConfig returns the configuration the builder starts from; embed
// callers tweak fields on it before WithConfig.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RefreshMargin:      defaultRefreshMargin,
			MinRefreshInterval: defaultMinRefreshInterval,
		},
		OTP: OTPConfig{
			Digits:            defaultOTPDigits,
			TTL:               defaultOTPTTL,
			ResendCooldown:    defaultResendCooldown,
			MaxVerifyAttempts: defaultMaxVerifyAttempts,
			AttemptWindow:     defaultAttemptWindow,
			RedisPrefix:       "sa",
		},
		Recovery: RecoveryConfig{
			Count:  defaultRecoveryCount,
			Length: defaultRecoveryLength,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: defaultAuditBuffer,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		RequiredAssurance: AssuranceLevel2,
	}
}

func validateConfig(cfg Config) error {
	if cfg.Session.RefreshMargin <= 0 {
		return errors.New("session refresh margin must be positive")
	}
	if cfg.Session.MinRefreshInterval <= 0 {
		return errors.New("session min refresh interval must be positive")
	}
	if cfg.OTP.Digits < 4 || cfg.OTP.Digits > 10 {
		return errors.New("otp digits must be between 4 and 10")
	}
	if cfg.OTP.TTL <= 0 {
		return errors.New("otp ttl must be positive")
	}
	if cfg.OTP.ResendCooldown <= 0 {
		return errors.New("otp resend cooldown must be positive")
	}
	if cfg.OTP.MaxVerifyAttempts <= 0 {
		return errors.New("otp max verify attempts must be positive")
	}
	if cfg.Recovery.Count <= 0 {
		return errors.New("recovery code count must be positive")
	}
	if cfg.Recovery.Length < 8 {
		return errors.New("recovery code length must be at least 8")
	}
	switch cfg.RequiredAssurance {
	case AssuranceLevel1, AssuranceLevel2:
	default:
		return errors.New("required assurance must be aal1 or aal2")
	}
	return nil
}

func normalizeConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OTP.RedisPrefix == "" {
		cfg.OTP.RedisPrefix = "sa"
	}
	if cfg.OTP.AttemptWindow <= 0 {
		cfg.OTP.AttemptWindow = defaultAttemptWindow
	}
	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = defaultAuditBuffer
	}
	return cfg
}
