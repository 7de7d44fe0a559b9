package stepauth

import "errors"

var (
	// ErrInvalidCredentials is returned for any wrong email/password
	// combination without revealing which field was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSession is returned by operations that require an active session.
	ErrNoSession = errors.New("no active session")
	// ErrSessionExpired is returned when the held session is past expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrOTPInvalid covers wrong, unknown, and already-used one-time codes.
	ErrOTPInvalid = errors.New("invalid code")
	// ErrOTPExpired is returned for a matching code past its validity
	// window. This is the one code failure reported distinctly.
	ErrOTPExpired = errors.New("code expired")
	// ErrOTPCooldown is returned when a resend is requested before the
	// cooldown elapsed. Use [CooldownRemaining] for the wait time.
	ErrOTPCooldown = errors.New("resend cooldown active")
	// ErrOTPRateLimited is returned when verification attempts for a
	// subject exceed the configured budget.
	ErrOTPRateLimited = errors.New("otp attempts rate limited")
	// ErrOTPDispatch is returned when the messaging collaborator failed.
	// The persisted code survives, so a later resend can succeed.
	ErrOTPDispatch = errors.New("otp dispatch failed")
	// ErrOTPChannelUnsupported is returned for an unknown channel value.
	ErrOTPChannelUnsupported = errors.New("unsupported otp channel")
	// ErrRecoveryCodeInvalid covers missing, mismatched, and already-used
	// recovery codes with a single answer.
	ErrRecoveryCodeInvalid = errors.New("invalid recovery code")
	// ErrTOTPNotEnrolled is returned when a TOTP challenge is requested
	// without a verified factor.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")
	// ErrTOTPInvalid is returned for a rejected TOTP code.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrFlowState is returned when an operation is invoked from a state
	// that does not permit it.
	ErrFlowState = errors.New("operation not allowed in current flow state")
	// ErrFlowCanceled is returned when an asynchronous result arrives
	// after the flow left the state that initiated it.
	ErrFlowCanceled = errors.New("flow canceled")
	// ErrStoreUnavailable wraps storage-layer failures of the calling
	// operation; no partial state is committed.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
	// ErrEngineClosed is returned after [Engine.Close].
	ErrEngineClosed = errors.New("engine closed")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)
