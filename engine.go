package stepauth

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stepauth/stepauth/internal/limiters"
)

// AdminRole is the role name gating administrative capability.
const AdminRole = "admin"

// Engine is the step-up authentication core. It holds the active session
// as an explicit auth context, drives credential and factor checks against
// the credential store, and owns the OTP and recovery-code subsystems.
//
// An Engine is built once through [Builder.Build], shared by reference,
// and torn down with [Engine.Close]. All methods are safe for concurrent
// use after Build.
type Engine struct {
	config Config
	log    *zap.Logger

	cred          CredentialStore
	otpStore      OTPStore
	recoveryStore RecoveryCodeStore
	roleStore     RoleStore
	email         EmailSender
	sms           SMSSender

	resendLimiter *limiters.ResendLimiter
	verifyLimiter *limiters.VerifyLimiter

	audit   *auditDispatcher
	metrics *Metrics
	nowFunc func() time.Time

	mu           sync.Mutex
	session      *Session
	refresher    *refresher
	listeners    map[int]func(AuthEvent)
	nextListener int
	closed       bool
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFunc == nil {
		return time.Now()
	}
	return e.nowFunc()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports events dropped by the audit dispatcher buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Session returns a copy of the active session, or nil when signed out.
func (e *Engine) Session() *Session {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := *e.session
	return &s
}

// OnAuthStateChange registers fn for every auth-state change and returns
// a cancellation handle. Callbacks run synchronously on the goroutine that
// caused the transition, after engine state is updated.
func (e *Engine) OnAuthStateChange(fn func(AuthEvent)) (cancel func()) {
	e.mu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// setSession installs the new session (nil on sign-out), re-arms the
// refresher, and notifies subscribers. Must be called without e.mu held.
func (e *Engine) setSession(session *Session, event EventType) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.session = session
	fns := make([]func(AuthEvent), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	if session == nil {
		e.refresher.Cancel()
	} else {
		e.refresher.Schedule(e.sessionExpiry(session))
	}

	var copied *Session
	if session != nil {
		s := *session
		copied = &s
	}
	for _, fn := range fns {
		fn(AuthEvent{Type: event, Session: copied})
	}
}

// SignIn performs the credential step of the login sequence. On success
// the session becomes the engine's active session at AssuranceLevel1 and
// an EventSignedIn fires; whether step-up is still required is answered by
// [Engine.CheckMFAStatus] or driven through a [Flow].
func (e *Engine) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if e == nil || e.cred == nil {
		return nil, ErrEngineNotReady
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, "", ErrInvalidCredentials, func() map[string]MetaValue {
			return map[string]MetaValue{"reason": MetaString("empty_input")}
		})
		return nil, ErrInvalidCredentials
	}

	session, err := e.cred.SignInWithPassword(ctx, email, password)
	if err != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, "", ErrInvalidCredentials, func() map[string]MetaValue {
			return map[string]MetaValue{"email": MetaString(email)}
		})
		return nil, ErrInvalidCredentials
	}

	e.setSession(session, EventSignedIn)
	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, session.UserID, nil, nil)

	s := *session
	return &s, nil
}

// SignOut revokes the active session, cancels the pending refresh timer,
// and fires EventSignedOut. Signing out twice is a no-op.
func (e *Engine) SignOut(ctx context.Context) error {
	if e == nil || e.cred == nil {
		return ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return nil
	}

	err := e.cred.SignOut(ctx, session.AccessToken)
	if err != nil {
		// Local teardown proceeds regardless; the server-side session
		// will lapse on its own expiry.
		e.log.Warn("sign-out revocation failed", zap.Error(err))
	}

	e.setSession(nil, EventSignedOut)
	e.metricInc(MetricSignOut)
	e.emitAudit(ctx, auditEventSignOut, err == nil, session.UserID, err, nil)
	return nil
}

// RequestPasswordReset submits the forgot-password side branch. The
// outcome is intentionally uniform: the caller returns to the credential
// step either way and surfaces only a notification.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || e.cred == nil {
		return ErrEngineNotReady
	}
	err := e.cred.RequestPasswordReset(ctx, strings.TrimSpace(email))
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordReset, err == nil, "", err, nil)
	return err
}

// HasRole answers the administrative capability check for a subject. It
// consults the role table only; assurance level is deliberately not part
// of this answer.
func (e *Engine) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if e == nil || e.roleStore == nil {
		return false, ErrEngineNotReady
	}
	if userID == "" || role == "" {
		return false, nil
	}
	return e.roleStore.HasRole(ctx, userID, role)
}

// IsAdmin reports whether the subject holds the admin role.
func (e *Engine) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return e.HasRole(ctx, userID, AdminRole)
}

// Close cancels timers, detaches subscribers, and drains the audit
// dispatcher. The engine is unusable afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.session = nil
	e.listeners = map[int]func(AuthEvent){}
	e.mu.Unlock()

	e.refresher.Cancel()
	if e.audit != nil {
		e.audit.Close()
	}
}
