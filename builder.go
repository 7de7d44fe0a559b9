package stepauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stepauth/stepauth/internal/limiters"
)

// Builder wires the engine's collaborators. Configure during
// initialization, call Build once, and discard.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	cred          CredentialStore
	otpStore      OTPStore
	recoveryStore RecoveryCodeStore
	roleStore     RoleStore
	email         EmailSender
	sms           SMSSender
	auditSink     AuditSink
	nowFunc       func() time.Time

	built bool
}

// New returns a builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero-valued ambient fields
// are filled with defaults at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the resend cooldown and the failed
// verification budget.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the external identity collaborator.
func (b *Builder) WithCredentialStore(cs CredentialStore) *Builder {
	b.cred = cs
	return b
}

// WithOTPStore sets the persistence backing one-time codes.
func (b *Builder) WithOTPStore(s OTPStore) *Builder {
	b.otpStore = s
	return b
}

// WithRecoveryCodeStore sets the persistence backing recovery codes.
func (b *Builder) WithRecoveryCodeStore(s RecoveryCodeStore) *Builder {
	b.recoveryStore = s
	return b
}

// WithRoleStore sets the optional role lookup. Role checks fail when
// absent.
func (b *Builder) WithRoleStore(s RoleStore) *Builder {
	b.roleStore = s
	return b
}

// WithEmailSender sets the email delivery channel.
func (b *Builder) WithEmailSender(s EmailSender) *Builder {
	b.email = s
	return b
}

// WithSMSSender sets the SMS delivery channel.
func (b *Builder) WithSMSSender(s SMSSender) *Builder {
	b.sms = s
	return b
}

// WithAuditSink sets the destination for audit events. A nil sink (the
// default) discards them.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.config.Logger = log
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.nowFunc = now
	return b
}

// Build validates the configuration, checks required collaborators, and
// assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := normalizeConfig(b.config)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.cred == nil {
		return nil, errors.New("credential store required")
	}
	if b.otpStore == nil {
		return nil, errors.New("otp store required")
	}
	if b.recoveryStore == nil {
		return nil, errors.New("recovery code store required")
	}
	if b.email == nil && b.sms == nil {
		return nil, errors.New("at least one of email or sms sender required")
	}

	engine := &Engine{
		config:        cfg,
		log:           cfg.Logger,
		cred:          b.cred,
		otpStore:      b.otpStore,
		recoveryStore: b.recoveryStore,
		roleStore:     b.roleStore,
		email:         b.email,
		sms:           b.sms,
		nowFunc:       b.nowFunc,
		listeners:     make(map[int]func(AuthEvent)),
	}

	engine.resendLimiter = limiters.NewResendLimiter(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.ResendCooldown)
	engine.verifyLimiter = limiters.NewVerifyLimiter(b.redis, cfg.OTP.RedisPrefix, cfg.OTP.MaxVerifyAttempts, cfg.OTP.AttemptWindow)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = newMetrics(cfg.Metrics)
	engine.refresher = newRefresher(cfg.Session, engine.now, engine.backgroundRefresh)

	b.built = true

	return engine, nil
}
