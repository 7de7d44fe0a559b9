package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stepauth/stepauth/internal/codes"
	"github.com/stepauth/stepauth/internal/limiters"
)

// SendOTP issues a one-time code to the subject over the chosen channel.
//
// The resend cooldown is checked server-side before any collaborator is
// contacted; inside the window the call fails with ErrOTPCooldown and no
// code is generated. Otherwise a fresh code replaces every prior record
// for the subject, so at most one code is live at a time, and is dispatched.
// A dispatch failure surfaces ErrOTPDispatch while the persisted record
// survives, so a resend after the cooldown can succeed without
// re-deriving subject state. The cooldown is armed only after a
// successful dispatch.
func (e *Engine) SendOTP(ctx context.Context, channel Channel, destination, userID string) error {
	if e == nil || e.otpStore == nil || e.resendLimiter == nil {
		return ErrEngineNotReady
	}
	if userID == "" || destination == "" {
		return fmt.Errorf("%w: missing destination", ErrOTPDispatch)
	}
	switch channel {
	case ChannelEmail, ChannelPhone:
	default:
		return ErrOTPChannelUnsupported
	}

	if err := e.resendLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrCooldownActive) {
			e.metricInc(MetricOTPSendRejected)
			e.emitAudit(ctx, auditEventOTPSendRejected, false, userID, ErrOTPCooldown, func() map[string]MetaValue {
				return map[string]MetaValue{"reason": MetaString("cooldown")}
			})
			remaining, _ := e.resendLimiter.Remaining(ctx, userID)
			return fmt.Errorf("%w: retry in %s", ErrOTPCooldown, remaining.Round(time.Second))
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	code, err := codes.NewNumeric(e.config.OTP.Digits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.now()
	rec := &OTPRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Code:        code,
		Channel:     channel,
		Destination: destination,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.OTP.TTL),
	}

	if err := e.otpStore.Replace(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.dispatchOTP(ctx, channel, destination, code); err != nil {
		e.metricInc(MetricOTPSendRejected)
		e.emitAudit(ctx, auditEventOTPSendRejected, false, userID, err, func() map[string]MetaValue {
			return map[string]MetaValue{
				"channel": MetaString(string(channel)),
				"reason":  MetaString("dispatch"),
			}
		})
		return fmt.Errorf("%w: %v", ErrOTPDispatch, err)
	}

	if err := e.resendLimiter.Arm(ctx, userID); err != nil {
		// The code was delivered; a missing cooldown key only weakens
		// throttling until the next send.
		e.log.Warn("otp cooldown arm failed", zap.Error(err))
	}

	e.metricInc(MetricOTPSent)
	e.emitAudit(ctx, auditEventOTPSent, true, userID, nil, func() map[string]MetaValue {
		return map[string]MetaValue{
			"channel":     MetaString(string(channel)),
			"ttl_seconds": MetaInt(int64(e.config.OTP.TTL / time.Second)),
		}
	})
	return nil
}

func (e *Engine) dispatchOTP(ctx context.Context, channel Channel, destination, code string) error {
	switch channel {
	case ChannelEmail:
		if e.email == nil {
			return errors.New("email sender not configured")
		}
		return e.email.SendOTPEmail(ctx, destination, code, e.config.OTP.TTL)
	case ChannelPhone:
		if e.sms == nil {
			return errors.New("sms sender not configured")
		}
		return e.sms.SendOTPSMS(ctx, destination, code, e.config.OTP.TTL)
	default:
		return ErrOTPChannelUnsupported
	}
}

// VerifyOTP consumes the subject's active code. Wrong, unknown, and
// already-used codes all answer ErrOTPInvalid; a matching code past its
// window answers ErrOTPExpired. The check-and-mark is atomic at the
// store, so a valid code can be spent exactly once even under concurrent
// submissions.
func (e *Engine) VerifyOTP(ctx context.Context, userID, submitted string) error {
	if e == nil || e.otpStore == nil || e.verifyLimiter == nil {
		return ErrEngineNotReady
	}
	if err := e.verifyLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrVerifyRateLimited) {
			e.metricInc(MetricOTPRateLimited)
			e.emitAudit(ctx, auditEventOTPFailure, false, userID, ErrOTPRateLimited, nil)
			return ErrOTPRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !codes.IsNumeric(submitted) || len(submitted) != e.config.OTP.Digits {
		return e.failOTPAttempt(ctx, userID, ErrOTPInvalid)
	}

	_, err := e.otpStore.Consume(ctx, userID, submitted, e.now())
	switch {
	case err == nil:
	case errors.Is(err, ErrOTPExpired):
		e.metricInc(MetricOTPExpired)
		e.emitAudit(ctx, auditEventOTPFailure, false, userID, ErrOTPExpired, nil)
		return ErrOTPExpired
	case errors.Is(err, ErrOTPInvalid):
		return e.failOTPAttempt(ctx, userID, ErrOTPInvalid)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.verifyLimiter.Reset(ctx, userID); err != nil {
		e.log.Warn("otp attempt limiter reset failed", zap.Error(err))
	}
	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, userID, nil, nil)
	return nil
}

func (e *Engine) failOTPAttempt(ctx context.Context, userID string, verdict error) error {
	if err := e.verifyLimiter.RecordFailure(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrVerifyRateLimited) {
			e.metricInc(MetricOTPRateLimited)
			e.emitAudit(ctx, auditEventOTPFailure, false, userID, ErrOTPRateLimited, nil)
			return ErrOTPRateLimited
		}
		e.log.Warn("otp attempt record failed", zap.Error(err))
	}
	e.metricInc(MetricOTPInvalid)
	e.emitAudit(ctx, auditEventOTPFailure, false, userID, verdict, nil)
	return verdict
}

// CooldownRemaining reports how long until the subject may request
// another code; zero when no cooldown is active. Intended for client
// countdown display, layered on top of the server-side check that
// independently holds.
func (e *Engine) CooldownRemaining(ctx context.Context, userID string) (time.Duration, error) {
	if e == nil || e.resendLimiter == nil {
		return 0, ErrEngineNotReady
	}
	remaining, err := e.resendLimiter.Remaining(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return remaining, nil
}
