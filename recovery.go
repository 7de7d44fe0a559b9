package stepauth

import (
	"context"
	"fmt"

	"github.com/stepauth/stepauth/internal/codes"
)

// GenerateRecoveryCodes mints a fresh batch of single-use break-glass
// codes for the subject and returns the plaintext exactly once for
// display or export. Any previously issued batch is invalidated in the
// same operation; only SHA-256 hashes are persisted.
func (e *Engine) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.recoveryStore == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrNoSession
	}

	plain := make([]string, 0, e.config.Recovery.Count)
	hashes := make([]string, 0, e.config.Recovery.Count)
	for i := 0; i < e.config.Recovery.Count; i++ {
		code, err := codes.NewRecoveryCode(e.config.Recovery.Length)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		plain = append(plain, code)
		hashes = append(hashes, codes.HashRecoveryCode(code))
	}

	if err := e.recoveryStore.Replace(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRecoveryGenerated)
	e.emitAudit(ctx, auditEventRecoveryGenerated, true, userID, nil, func() map[string]MetaValue {
		return map[string]MetaValue{"count": MetaInt(int64(len(plain)))}
	})
	return plain, nil
}

// VerifyRecoveryCode consumes one recovery code for the subject. Input is
// normalized before hashing, so spacing, case, and the display dash do
// not matter. The store consumes atomically: a valid code can be spent
// once, and missing, mismatched, and already-used codes are answered by
// the same ErrRecoveryCodeInvalid with no timing or wording oracle.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, userID, submitted string) error {
	if e == nil || e.recoveryStore == nil {
		return ErrEngineNotReady
	}

	normalized := codes.NormalizeRecoveryCode(submitted)
	consumed, err := e.recoveryStore.Consume(ctx, userID, codes.HashRecoveryCode(normalized))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !consumed {
		e.metricInc(MetricRecoveryInvalid)
		e.emitAudit(ctx, auditEventRecoveryFailure, false, userID, ErrRecoveryCodeInvalid, nil)
		return ErrRecoveryCodeInvalid
	}

	e.metricInc(MetricRecoveryUsed)
	e.emitAudit(ctx, auditEventRecoveryUsed, true, userID, nil, nil)
	return nil
}

// RemainingRecoveryCodes counts the subject's unused codes. This feeds UI
// warnings only; it is not a security boundary.
func (e *Engine) RemainingRecoveryCodes(ctx context.Context, userID string) (int, error) {
	if e == nil || e.recoveryStore == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.recoveryStore.CountUnused(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
