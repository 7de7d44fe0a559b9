package stepauth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// refresher keeps the active session renewed ahead of expiry. Exactly one
// pending timer exists per active session; scheduling replaces any prior
// timer, and sign-out cancels it.
type refresher struct {
	margin      time.Duration
	minInterval time.Duration
	now         func() time.Time
	fire        func()

	mu          sync.Mutex
	timer       *time.Timer
	lastAttempt time.Time
}

func newRefresher(cfg SessionConfig, now func() time.Time, fire func()) *refresher {
	return &refresher{
		margin:      cfg.RefreshMargin,
		minInterval: cfg.MinRefreshInterval,
		now:         now,
		fire:        fire,
	}
}

// Schedule arms the refresh timer for a session expiring at expiresAt:
// margin before expiry, clamped to at least the minimum interval from now.
// A zero or already-past expiry schedules nothing.
func (r *refresher) Schedule(expiresAt time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	now := r.now()
	if expiresAt.IsZero() || !expiresAt.After(now) {
		return
	}

	delay := expiresAt.Sub(now) - r.margin
	if delay < r.minInterval {
		delay = r.minInterval
	}
	r.timer = time.AfterFunc(delay, r.fire)
}

// Cancel stops any pending timer.
func (r *refresher) Cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// armed reports whether a timer is pending. Test hook.
func (r *refresher) armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// tryAttempt records a refresh attempt unless one happened within the
// minimum interval. Concurrent triggers collapse to a single refresh.
func (r *refresher) tryAttempt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.lastAttempt.IsZero() && now.Sub(r.lastAttempt) < r.minInterval {
		return false
	}
	r.lastAttempt = now
	return true
}

// Refresh requests a renewed session from the credential store. Repeat
// invocations within the minimum interval are no-ops. On failure the
// existing session is left untouched and the error is logged; the caller
// sees it surface only through the returned error, never a forced
// sign-out.
func (e *Engine) Refresh(ctx context.Context) error {
	if e == nil || e.cred == nil {
		return ErrEngineNotReady
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return ErrNoSession
	}

	if !e.refresher.tryAttempt() {
		e.metricInc(MetricRefreshDebounced)
		return nil
	}

	next, err := e.cred.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.log.Warn("session refresh failed", zap.Error(err))
		e.emitAudit(ctx, auditEventSessionRefreshErr, false, session.UserID, err, nil)
		return err
	}

	e.setSession(next, EventTokenRefreshed)
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventSessionRefreshed, true, next.UserID, nil, nil)
	return nil
}

// backgroundRefresh is the timer callback.
func (e *Engine) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = e.Refresh(ctx)
}

// sessionExpiry resolves when the session expires. When the credential
// store omitted ExpiresAt, the expiry is read from the access token's
// registered claims. The token is not validated here; only its exp claim
// is consulted for scheduling.
func (e *Engine) sessionExpiry(session *Session) time.Time {
	if session == nil {
		return time.Time{}
	}
	if !session.ExpiresAt.IsZero() {
		return session.ExpiresAt
	}
	if session.AccessToken == "" {
		return time.Time{}
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(session.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
