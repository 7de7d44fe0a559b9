// Package stepauth provides the step-up authentication core for a web
// application: session lifecycle with proactive refresh, a login state
// machine, out-of-band one-time codes over email and SMS, authenticator
// (TOTP) enrollment and challenges, and break-glass recovery codes.
//
// The package is designed to be embedded: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// stepauth is the public surface. It exposes [Engine], [Builder],
// [Config], [Flow], and value types (Session, MFAStatus, Factor, etc.).
// Identity itself lives behind the [CredentialStore] interface; this
// package never stores passwords. Persistence for one-time and recovery
// codes lives behind [OTPStore] and [RecoveryCodeStore], with postgres
// implementations in the postgres sub-package. Delivery lives behind
// [EmailSender] and [SMSSender], implemented in the messaging sub-package.
//
// # What this package must NOT do
//
//   - Persist plaintext one-time or recovery codes beyond the database
//     rows the stores own; recovery codes are stored as hashes only.
//   - Reveal, through error values, whether a submitted recovery code was
//     wrong, already used, or belongs to nobody.
//   - Import any sub-package that re-imports stepauth (no import cycles).
//
// # Concurrency contract
//
// The active session is the engine's only mutable shared state and is
// guarded by a single mutex. Code verification is atomic at the store
// layer: under concurrent submission of the same code exactly one caller
// wins.
package stepauth
