package stepauth

import "context"

// MFAStatus is the derived view of a session's second-factor posture.
type MFAStatus struct {
	// Enabled is true when a verified TOTP factor exists for the subject.
	Enabled bool
	// Verified is true when the session already proved the highest
	// assurance level it can reach.
	Verified bool
	// Current and Next are the raw levels reported by the credential
	// store.
	Current AssuranceLevel
	Next    AssuranceLevel
}

// StepUpRequired reports whether policy demands a challenge before the
// session authorizes protected operations.
func (s MFAStatus) StepUpRequired(required AssuranceLevel) bool {
	if required != AssuranceLevel2 {
		return false
	}
	return s.Current != AssuranceLevel2
}

// CheckMFAStatus queries the credential store for the session's assurance
// levels and enrolled factors and derives the Enabled/Verified flags. It
// is safe to call before any session exists: the zero status is returned
// without error. The engine recomputes this on every auth-state change
// rather than polling.
func (e *Engine) CheckMFAStatus(ctx context.Context) (MFAStatus, error) {
	if e == nil || e.cred == nil {
		return MFAStatus{}, ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return MFAStatus{}, nil
	}

	levels, err := e.cred.AssuranceLevels(ctx, session.AccessToken)
	if err != nil {
		return MFAStatus{}, err
	}
	factors, err := e.cred.ListFactors(ctx, session.AccessToken)
	if err != nil {
		return MFAStatus{}, err
	}

	status := MFAStatus{
		Current: levels.Current,
		Next:    levels.Next,
	}
	for _, f := range factors {
		if f.Status == FactorVerified {
			status.Enabled = true
			break
		}
	}
	status.Verified = levels.Current == AssuranceLevel2
	return status, nil
}

// verifiedFactor returns the first verified TOTP factor for the session.
func (e *Engine) verifiedFactor(ctx context.Context, accessToken string) (*Factor, error) {
	factors, err := e.cred.ListFactors(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	for i := range factors {
		if factors[i].Status == FactorVerified {
			return &factors[i], nil
		}
	}
	return nil, ErrTOTPNotEnrolled
}
