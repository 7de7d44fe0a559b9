package stepauth

import (
	"context"
	"time"
)

// AssuranceLevel is a session's proven authentication strength as reported
// by the credential store.
type AssuranceLevel string

const (
	// AssuranceNone is reported when no session exists.
	AssuranceNone AssuranceLevel = ""
	// AssuranceLevel1 means the session proved a single factor (password).
	AssuranceLevel1 AssuranceLevel = "aal1"
	// AssuranceLevel2 means the session proved a second factor.
	AssuranceLevel2 AssuranceLevel = "aal2"
)

// Session is the authenticated principal handle issued by the credential
// store. The engine only reads it and requests renewal; it never mutates
// session content.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Email        string
	IssuedAt     time.Time
	// ExpiresAt may be zero when the credential store omits it; the
	// refresher then derives expiry from the access token claims.
	ExpiresAt      time.Time
	AssuranceLevel AssuranceLevel
}

// Expired reports whether the session is past its expiry at the given time.
// Sessions without a known expiry are treated as not expired.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// FactorStatus is the lifecycle state of an enrolled TOTP factor.
type FactorStatus string

const (
	// FactorPending is set between enrollment start and the first
	// successful code verification.
	FactorPending FactorStatus = "pending"
	// FactorVerified is set once the subject proved possession of the
	// shared secret. It persists until the factor is unenrolled.
	FactorVerified FactorStatus = "verified"
)

// Factor is a TOTP enrollment bound to a subject. Secret and
// ProvisioningURI are populated only on the enrollment response so the
// user can scan or copy them; they are never persisted by this layer.
type Factor struct {
	ID              string
	FriendlyName    string
	Status          FactorStatus
	Secret          string
	ProvisioningURI string
}

// AssuranceLevels is the credential store's view of what the session has
// proven (Current) and what it could prove given its enrolled factors
// (Next). Current != Next means a step-up challenge is outstanding.
type AssuranceLevels struct {
	Current AssuranceLevel
	Next    AssuranceLevel
}

// Channel selects the out-of-band delivery path for a one-time code.
type Channel string

const (
	// ChannelEmail delivers codes to an email address.
	ChannelEmail Channel = "email"
	// ChannelPhone delivers codes to a phone number via SMS.
	ChannelPhone Channel = "phone"
)

// OTPRecord is a short-lived numeric code persisted in the relational
// store. At most one active (unused, unexpired) record exists per subject.
type OTPRecord struct {
	ID          string     `db:"id"`
	UserID      string     `db:"user_id"`
	Code        string     `db:"code"`
	Channel     Channel    `db:"type"`
	Destination string     `db:"destination"`
	CreatedAt   time.Time  `db:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at"`
	Used        bool       `db:"used"`
	UsedAt      *time.Time `db:"used_at"`
}

// EventType classifies an auth-state change.
type EventType string

const (
	// EventSignedIn fires when a principal authenticates.
	EventSignedIn EventType = "signed_in"
	// EventTokenRefreshed fires when the active session's tokens rotate,
	// including the assurance upgrade after a verified MFA challenge.
	EventTokenRefreshed EventType = "token_refreshed"
	// EventSignedOut fires when the active session is cleared.
	EventSignedOut EventType = "signed_out"
)

// AuthEvent is delivered to subscribers registered through
// [Engine.OnAuthStateChange]. Session is nil for EventSignedOut.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

// CredentialStore is the external collaborator owning user records,
// password verification, sessions, and TOTP factor primitives. The engine
// never sees password hashes or factor secrets beyond the transient
// enrollment response.
//
// Implementations must be safe for concurrent use.
type CredentialStore interface {
	// SignInWithPassword verifies email+password and issues a session at
	// AssuranceLevel1. Invalid credentials must be indistinguishable
	// between unknown email and wrong password.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// RefreshSession exchanges a refresh token for a renewed session.
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)

	// SignOut revokes the session behind the access token.
	SignOut(ctx context.Context, accessToken string) error

	// RequestPasswordReset starts the reset flow for the given email.
	// It must not reveal whether the email is registered.
	RequestPasswordReset(ctx context.Context, email string) error

	// AssuranceLevels reports the session's current and attainable
	// assurance level.
	AssuranceLevels(ctx context.Context, accessToken string) (AssuranceLevels, error)

	// ListFactors returns the subject's enrolled factors, pending and
	// verified, without secrets.
	ListFactors(ctx context.Context, accessToken string) ([]Factor, error)

	// EnrollFactor creates a pending TOTP factor and returns it with the
	// shared secret and provisioning URI populated.
	EnrollFactor(ctx context.Context, accessToken, friendlyName string) (*Factor, error)

	// ChallengeFactor opens a challenge against the factor and returns
	// the challenge id a code must be submitted against.
	ChallengeFactor(ctx context.Context, accessToken, factorID string) (string, error)

	// VerifyFactor submits a TOTP code against an open challenge. On
	// success the factor becomes verified and the returned session
	// carries AssuranceLevel2.
	VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (*Session, error)

	// UnenrollFactor deletes the factor. Unenrolling an unknown factor
	// is not an error.
	UnenrollFactor(ctx context.Context, accessToken, factorID string) error
}

// OTPStore persists one-time code records. Implementations back the
// otp_codes table and must provide atomic single-use consumption.
type OTPStore interface {
	// Replace deletes every record for the subject and inserts rec as
	// one unit. A failed insert after the delete leaves the subject with
	// no active code, which is safe.
	Replace(ctx context.Context, rec *OTPRecord) error

	// Consume atomically marks the unused record matching (userID, code)
	// as used and returns it. It returns ErrOTPInvalid when no unused
	// match exists and ErrOTPExpired when the match is past its expiry;
	// expired codes are not consumed. Two concurrent calls with the same
	// valid code must yield exactly one success.
	Consume(ctx context.Context, userID, code string, now time.Time) (*OTPRecord, error)

	// ActiveCount reports unused, unexpired records for the subject.
	ActiveCount(ctx context.Context, userID string, now time.Time) (int, error)
}

// RecoveryCodeStore persists recovery-code hashes. Implementations back
// the recovery_codes table; plaintext codes never reach this interface.
type RecoveryCodeStore interface {
	// Replace deletes every row for the subject and inserts the given
	// hashes with used=false, as one unit.
	Replace(ctx context.Context, userID string, hashes []string) error

	// Consume atomically marks an unused row matching the hash as used.
	// It reports whether a row was consumed; it must not distinguish
	// missing from already used.
	Consume(ctx context.Context, userID, hash string) (bool, error)

	// CountUnused reports rows with used=false for the subject.
	CountUnused(ctx context.Context, userID string) (int, error)

	// DeleteAll removes every row for the subject.
	DeleteAll(ctx context.Context, userID string) error
}

// RoleStore answers administrative capability checks. Read-only from the
// engine's perspective and independent of MFA state.
type RoleStore interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// EmailSender dispatches a one-time code to an email address. The message
// must state the code's validity window.
type EmailSender interface {
	SendOTPEmail(ctx context.Context, to, code string, validity time.Duration) error
}

// SMSSender dispatches a one-time code to a phone number with country code.
type SMSSender interface {
	SendOTPSMS(ctx context.Context, phone, code string, validity time.Duration) error
}
