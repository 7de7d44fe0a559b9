package stepauth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stepauth/stepauth/internal/codes"
)

// EnrollTOTP starts authenticator enrollment for the active session. The
// returned factor is pending and carries the shared secret and
// provisioning URI transiently for the user to scan or copy; neither is
// retained by the engine.
func (e *Engine) EnrollTOTP(ctx context.Context, friendlyName string) (*Factor, error) {
	if e == nil || e.cred == nil {
		return nil, ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}

	factor, err := e.cred.EnrollFactor(ctx, session.AccessToken, strings.TrimSpace(friendlyName))
	if err != nil {
		e.emitAudit(ctx, auditEventTOTPFailure, false, session.UserID, err, func() map[string]MetaValue {
			return map[string]MetaValue{"stage": MetaString("enroll")}
		})
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPEnrollStart, true, session.UserID, nil, func() map[string]MetaValue {
		return map[string]MetaValue{"factor_id": MetaString(factor.ID)}
	})
	return factor, nil
}

// ConfirmTOTPEnrollment proves possession of the enrolled secret with a
// first code. On success the factor becomes verified, the session is
// upgraded to AssuranceLevel2. Recovery codes must exist from the
// moment TOTP does, so the initial recovery-code batch is
// generated and returned for one-time display.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, factorID, code string) ([]string, error) {
	if e == nil || e.cred == nil {
		return nil, ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return nil, ErrNoSession
	}

	upgraded, err := e.challengeAndVerify(ctx, session, factorID, code)
	if err != nil {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, session.UserID, ErrTOTPInvalid, func() map[string]MetaValue {
			return map[string]MetaValue{"stage": MetaString("confirm")}
		})
		return nil, ErrTOTPInvalid
	}

	e.setSession(upgraded, EventTokenRefreshed)
	e.metricInc(MetricTOTPEnrolled)
	e.emitAudit(ctx, auditEventTOTPEnrolled, true, session.UserID, nil, func() map[string]MetaValue {
		return map[string]MetaValue{"factor_id": MetaString(factorID)}
	})

	recovery, err := e.GenerateRecoveryCodes(ctx, session.UserID)
	if err != nil {
		// TOTP is live but the break-glass path is not; the caller must
		// retry generation rather than be left believing codes exist.
		return nil, err
	}
	return recovery, nil
}

// DisableTOTP unenrolls the factor and deletes every recovery code for
// the subject in the same operation, so no recovery path dangles once the
// primary factor is gone. Disabling when already disabled is a no-op.
func (e *Engine) DisableTOTP(ctx context.Context, factorID string) error {
	if e == nil || e.cred == nil || e.recoveryStore == nil {
		return ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	if factorID != "" {
		if err := e.cred.UnenrollFactor(ctx, session.AccessToken, factorID); err != nil {
			e.emitAudit(ctx, auditEventTOTPFailure, false, session.UserID, err, func() map[string]MetaValue {
				return map[string]MetaValue{"stage": MetaString("unenroll")}
			})
			return err
		}
	}

	if err := e.recoveryStore.DeleteAll(ctx, session.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, session.UserID, nil, nil)
	return nil
}

// challengeAndVerify runs the credential store's challenge/verify pair
// for one factor and returns the upgraded session.
func (e *Engine) challengeAndVerify(ctx context.Context, session *Session, factorID, code string) (*Session, error) {
	if !codes.IsNumeric(code) {
		return nil, ErrTOTPInvalid
	}
	challengeID, err := e.cred.ChallengeFactor(ctx, session.AccessToken, factorID)
	if err != nil {
		return nil, err
	}
	upgraded, err := e.cred.VerifyFactor(ctx, session.AccessToken, factorID, challengeID, code)
	if err != nil {
		return nil, err
	}
	return upgraded, nil
}

// VerifyTOTP answers a step-up challenge against the subject's verified
// factor. Success upgrades the active session to AssuranceLevel2.
func (e *Engine) VerifyTOTP(ctx context.Context, code string) error {
	if e == nil || e.cred == nil {
		return ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	factor, err := e.verifiedFactor(ctx, session.AccessToken)
	if err != nil {
		return err
	}

	upgraded, err := e.challengeAndVerify(ctx, session, factor.ID, code)
	if err != nil {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, session.UserID, ErrTOTPInvalid, func() map[string]MetaValue {
			return map[string]MetaValue{"stage": MetaString("challenge")}
		})
		e.log.Debug("totp challenge rejected", zap.String("factor_id", factor.ID))
		return ErrTOTPInvalid
	}

	e.setSession(upgraded, EventTokenRefreshed)
	e.metricInc(MetricTOTPVerified)
	e.emitAudit(ctx, auditEventTOTPVerified, true, session.UserID, nil, nil)
	return nil
}
