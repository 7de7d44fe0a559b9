package stepauth

import (
	"context"
	"sync"
)

// FlowState is a position in the login state machine.
type FlowState int

const (
	// StateCredentials accepts email+password.
	StateCredentials FlowState = iota
	// StateMethodChoice is reached when the principal is authenticated
	// but below the required assurance level.
	StateMethodChoice
	// StateTOTPChallenge awaits a 6-digit authenticator code.
	StateTOTPChallenge
	// StateTOTPEnrollment awaits the first code against a pending factor.
	StateTOTPEnrollment
	// StateOTPChallenge awaits the emailed or texted one-time code.
	StateOTPChallenge
	// StateRecoveryChallenge awaits a break-glass recovery code.
	StateRecoveryChallenge
	// StateForgotPassword is the reset side branch off credentials.
	StateForgotPassword
	// StateAuthorized is terminal for the login flow.
	StateAuthorized
)

// String names the state for logs and assertions.
func (s FlowState) String() string {
	switch s {
	case StateCredentials:
		return "credentials"
	case StateMethodChoice:
		return "method-choice"
	case StateTOTPChallenge:
		return "totp-challenge"
	case StateTOTPEnrollment:
		return "totp-enrollment"
	case StateOTPChallenge:
		return "otp-challenge"
	case StateRecoveryChallenge:
		return "recovery-challenge"
	case StateForgotPassword:
		return "forgot-password"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Method is a step-up verification path offered at method choice.
type Method string

const (
	// MethodTOTP challenges the enrolled authenticator factor.
	MethodTOTP Method = "totp"
	// MethodOTP sends a one-time code over email or SMS.
	MethodOTP Method = "otp"
	// MethodRecovery consumes a break-glass recovery code.
	MethodRecovery Method = "recovery"
	// MethodEnroll sets up an authenticator for the first time.
	MethodEnroll Method = "enroll"
)

// Flow sequences one login attempt: credential check, method choice, a
// challenge, and the authorized terminal state. It is driven from UI
// event handlers; every transition is guarded by a generation counter so
// a response arriving after Cancel cannot resurrect the state it came
// from.
//
// A Flow is not shared across logins; create one per attempt with
// [NewLoginFlow].
type Flow struct {
	engine *Engine

	mu         sync.Mutex
	state      FlowState
	generation uint64
	status     MFAStatus
	userID     string

	pendingFactorID string
	otpChannel      Channel
	otpDestination  string

	// verifiedVia records which local path satisfied step-up when the
	// credential store's own assurance level was not raised (OTP,
	// recovery). Empty when assurance came from the store itself.
	verifiedVia Method
}

// NewLoginFlow creates a flow positioned at the credential step.
func NewLoginFlow(engine *Engine) *Flow {
	return &Flow{engine: engine, state: StateCredentials}
}

// State returns the current position.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// AuthorizedVia reports the local path that satisfied step-up, or empty
// when the session's own assurance level did.
func (f *Flow) AuthorizedVia() Method {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifiedVia
}

// StepUpSatisfied is the authorization predicate downstream code must
// consult before privileged operations. It is true when the session's own
// assurance meets policy or when a local verification path (OTP,
// recovery) completed. Checking only the session's assurance level would
// wrongly reject the recovery and OTP paths; checking only the local flag
// would ignore upgrades performed elsewhere.
func (f *Flow) StepUpSatisfied() bool {
	f.mu.Lock()
	via := f.verifiedVia
	state := f.state
	f.mu.Unlock()

	if state == StateAuthorized && via != "" {
		return true
	}
	session := f.engine.Session()
	if session == nil {
		return false
	}
	if f.engine.config.RequiredAssurance == AssuranceLevel1 {
		return true
	}
	return session.AssuranceLevel == AssuranceLevel2
}

func (f *Flow) snapshot() (FlowState, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.generation
}

// stillCurrent re-checks the generation after a blocking call returned.
// A false answer means Cancel (or a competing transition) happened while
// the call was in flight and its result must be discarded.
func (f *Flow) stillCurrent(gen uint64) bool {
	return f.generation == gen
}

// SubmitCredentials runs the credential step. On success the flow moves
// to method choice when step-up is required, directly to authorized
// otherwise. On failure the flow stays at credentials and the error
// carries no hint of which field was wrong.
func (f *Flow) SubmitCredentials(ctx context.Context, email, password string) error {
	state, gen := f.snapshot()
	if state != StateCredentials {
		return ErrFlowState
	}

	session, err := f.engine.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	status, err := f.engine.CheckMFAStatus(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return ErrFlowCanceled
	}
	f.userID = session.UserID
	f.status = status
	if status.StepUpRequired(f.engine.config.RequiredAssurance) {
		f.state = StateMethodChoice
	} else {
		f.state = StateAuthorized
	}
	return nil
}

// AvailableMethods lists what method choice may offer: the TOTP challenge
// only when a verified factor exists, the out-of-band OTP always, and the
// enrollment offer only when TOTP is not yet enrolled.
func (f *Flow) AvailableMethods() []Method {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateMethodChoice {
		return nil
	}
	if f.status.Enabled {
		return []Method{MethodTOTP, MethodOTP}
	}
	return []Method{MethodOTP, MethodEnroll}
}

// ChooseTOTP enters the authenticator challenge. Requires an enrolled
// factor.
func (f *Flow) ChooseTOTP() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateMethodChoice {
		return ErrFlowState
	}
	if !f.status.Enabled {
		return ErrTOTPNotEnrolled
	}
	f.generation++
	f.state = StateTOTPChallenge
	return nil
}

// SubmitTOTP verifies an authenticator code. Success authorizes the flow
// with the session upgraded by the credential store; failure keeps the
// challenge re-enterable.
func (f *Flow) SubmitTOTP(ctx context.Context, code string) error {
	state, gen := f.snapshot()
	if state != StateTOTPChallenge {
		return ErrFlowState
	}

	err := f.engine.VerifyTOTP(ctx, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return ErrFlowCanceled
	}
	if err != nil {
		return err
	}
	f.state = StateAuthorized
	return nil
}

// UseRecoveryCode falls back from the authenticator challenge (or method
// choice, for a lost device) to the recovery-code challenge.
func (f *Flow) UseRecoveryCode() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateTOTPChallenge, StateMethodChoice:
	default:
		return ErrFlowState
	}
	if !f.status.Enabled {
		return ErrTOTPNotEnrolled
	}
	f.generation++
	f.state = StateRecoveryChallenge
	return nil
}

// SubmitRecoveryCode consumes a break-glass code. Success authorizes the
// flow locally; the credential store's assurance level is not raised on
// this path.
func (f *Flow) SubmitRecoveryCode(ctx context.Context, code string) error {
	state, gen := f.snapshot()
	if state != StateRecoveryChallenge {
		return ErrFlowState
	}
	f.mu.Lock()
	userID := f.userID
	f.mu.Unlock()

	err := f.engine.VerifyRecoveryCode(ctx, userID, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return ErrFlowCanceled
	}
	if err != nil {
		return err
	}
	f.verifiedVia = MethodRecovery
	f.state = StateAuthorized
	return nil
}

// ChooseOTP sends a one-time code over the chosen channel and enters the
// OTP challenge. A cooldown rejection or dispatch failure keeps the flow
// at method choice.
func (f *Flow) ChooseOTP(ctx context.Context, channel Channel, destination string) error {
	state, gen := f.snapshot()
	if state != StateMethodChoice {
		return ErrFlowState
	}
	f.mu.Lock()
	userID := f.userID
	f.mu.Unlock()

	err := f.engine.SendOTP(ctx, channel, destination, userID)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return ErrFlowCanceled
	}
	if err != nil {
		return err
	}
	f.otpChannel = channel
	f.otpDestination = destination
	f.state = StateOTPChallenge
	return nil
}

// ResendOTP re-issues the code on the same channel. The engine enforces
// the cooldown; the prior code is invalidated by the new send.
func (f *Flow) ResendOTP(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateOTPChallenge {
		f.mu.Unlock()
		return ErrFlowState
	}
	channel, destination, userID := f.otpChannel, f.otpDestination, f.userID
	f.mu.Unlock()

	return f.engine.SendOTP(ctx, channel, destination, userID)
}

// SubmitOTP verifies the delivered code. Success authorizes the flow
// through the local flag; a wrong code keeps the challenge re-enterable.
func (f *Flow) SubmitOTP(ctx context.Context, code string) error {
	state, gen := f.snapshot()
	if state != StateOTPChallenge {
		return ErrFlowState
	}
	f.mu.Lock()
	userID := f.userID
	f.mu.Unlock()

	err := f.engine.VerifyOTP(ctx, userID, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return ErrFlowCanceled
	}
	if err != nil {
		return err
	}
	f.verifiedVia = MethodOTP
	f.state = StateAuthorized
	return nil
}

// StartEnrollment begins authenticator setup from method choice, offered
// only when no factor is enrolled. The returned factor carries the secret
// and provisioning URI for one-time display.
func (f *Flow) StartEnrollment(ctx context.Context, friendlyName string) (*Factor, error) {
	state, gen := f.snapshot()
	if state != StateMethodChoice {
		return nil, ErrFlowState
	}
	f.mu.Lock()
	enabled := f.status.Enabled
	f.mu.Unlock()
	if enabled {
		return nil, ErrFlowState
	}

	factor, err := f.engine.EnrollTOTP(ctx, friendlyName)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return nil, ErrFlowCanceled
	}
	if err != nil {
		return nil, err
	}
	f.pendingFactorID = factor.ID
	f.state = StateTOTPEnrollment
	return factor, nil
}

// ConfirmEnrollment proves the pending factor with its first code. On
// success the flow is authorized, the session carries AssuranceLevel2,
// and the initial recovery-code batch is returned for one-time display.
func (f *Flow) ConfirmEnrollment(ctx context.Context, code string) ([]string, error) {
	state, gen := f.snapshot()
	if state != StateTOTPEnrollment {
		return nil, ErrFlowState
	}
	f.mu.Lock()
	factorID := f.pendingFactorID
	f.mu.Unlock()

	recovery, err := f.engine.ConfirmTOTPEnrollment(ctx, factorID, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stillCurrent(gen) {
		return nil, ErrFlowCanceled
	}
	if err != nil {
		return nil, err
	}
	f.pendingFactorID = ""
	f.status.Enabled = true
	f.status.Verified = true
	f.state = StateAuthorized
	return recovery, nil
}

// ForgotPassword runs the reset side branch. The flow returns to the
// credential step regardless of outcome; the error exists only so a
// notification can be shown.
func (f *Flow) ForgotPassword(ctx context.Context, email string) error {
	f.mu.Lock()
	if f.state != StateCredentials && f.state != StateForgotPassword {
		f.mu.Unlock()
		return ErrFlowState
	}
	f.generation++
	f.state = StateForgotPassword
	f.mu.Unlock()

	err := f.engine.RequestPasswordReset(ctx, email)

	f.mu.Lock()
	f.state = StateCredentials
	f.mu.Unlock()
	return err
}

// Cancel backs out of the current challenge. From a challenge screen the
// flow returns to method choice; from method choice it returns to
// credentials. The generation bump invalidates every in-flight result, so
// a late OTP-send response cannot resurrect a challenge the user left.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	switch f.state {
	case StateTOTPChallenge, StateTOTPEnrollment, StateOTPChallenge, StateRecoveryChallenge:
		f.pendingFactorID = ""
		f.state = StateMethodChoice
	case StateMethodChoice, StateForgotPassword:
		f.state = StateCredentials
	}
}
