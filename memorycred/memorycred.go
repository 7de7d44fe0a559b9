// Package memorycred is an in-memory CredentialStore for tests, examples,
// and local development. It keeps users, sessions, and TOTP factors in
// process memory with Argon2id password hashes and real TOTP validation,
// so engine behavior against it matches a production credential store.
package memorycred

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/stepauth/stepauth"
	"github.com/stepauth/stepauth/password"
)

const challengeTTL = 5 * time.Minute

// Config tunes the store. Zero values get sensible defaults.
type Config struct {
	// Issuer appears in provisioning URIs. Default "stepauth".
	Issuer string
	// SessionTTL bounds issued sessions. Default 1 hour.
	SessionTTL time.Duration
	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

type user struct {
	id           string
	email        string
	passwordHash string
	factors      []*factorState
}

type factorState struct {
	id       string
	name     string
	secret   string
	uri      string
	verified bool
}

type sessionState struct {
	userID       string
	email        string
	accessToken  string
	refreshToken string
	issuedAt     time.Time
	expiresAt    time.Time
	level        stepauth.AssuranceLevel
}

type challengeState struct {
	factorID string
	userID   string
	expires  time.Time
}

// Store implements stepauth.CredentialStore in memory. Safe for
// concurrent use.
type Store struct {
	cfg    Config
	hasher *password.Hasher

	mu         sync.Mutex
	users      map[string]*user // keyed by lowercase email
	byAccess   map[string]*sessionState
	byRefresh  map[string]*sessionState
	challenges map[string]challengeState
}

// New builds an empty store.
func New(cfg Config) (*Store, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = "stepauth"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	hasher, err := password.NewHasher(password.DefaultParams())
	if err != nil {
		return nil, err
	}
	return &Store{
		cfg:        cfg,
		hasher:     hasher,
		users:      make(map[string]*user),
		byAccess:   make(map[string]*sessionState),
		byRefresh:  make(map[string]*sessionState),
		challenges: make(map[string]challengeState),
	}, nil
}

// AddUser registers a user and returns its id.
func (s *Store) AddUser(email, pass string) (string, error) {
	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return "", err
	}
	u := &user{
		id:           uuid.NewString(),
		email:        strings.ToLower(strings.TrimSpace(email)),
		passwordHash: hash,
	}
	s.mu.Lock()
	s.users[u.email] = u
	s.mu.Unlock()
	return u.id, nil
}

// SignInWithPassword verifies the password and issues an aal1 session.
// Unknown email and wrong password return the same error.
func (s *Store) SignInWithPassword(ctx context.Context, email, pass string) (*stepauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, stepauth.ErrInvalidCredentials
	}
	match, err := s.hasher.Verify(pass, u.passwordHash)
	if err != nil || !match {
		return nil, stepauth.ErrInvalidCredentials
	}
	return s.issueLocked(u, stepauth.AssuranceLevel1), nil
}

// RefreshSession rotates both tokens, preserving the assurance level.
func (s *Store) RefreshSession(ctx context.Context, refreshToken string) (*stepauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, stepauth.ErrNoSession
	}
	u := s.userByIDLocked(sess.userID)
	if u == nil {
		return nil, stepauth.ErrNoSession
	}
	s.dropLocked(sess)
	return s.issueLocked(u, sess.level), nil
}

// SignOut revokes the session; unknown tokens are not an error.
func (s *Store) SignOut(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byAccess[accessToken]; ok {
		s.dropLocked(sess)
	}
	return nil
}

// RequestPasswordReset accepts any email without revealing registration.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	return nil
}

// AssuranceLevels reports the session's current level and the level its
// enrolled factors could reach.
func (s *Store) AssuranceLevels(ctx context.Context, accessToken string) (stepauth.AssuranceLevels, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byAccess[accessToken]
	if !ok {
		return stepauth.AssuranceLevels{}, stepauth.ErrNoSession
	}
	levels := stepauth.AssuranceLevels{Current: sess.level, Next: stepauth.AssuranceLevel1}
	if u := s.userByIDLocked(sess.userID); u != nil && u.verifiedFactorLocked() != nil {
		levels.Next = stepauth.AssuranceLevel2
	}
	if levels.Current == stepauth.AssuranceLevel2 {
		levels.Next = stepauth.AssuranceLevel2
	}
	return levels, nil
}

// ListFactors returns the subject's factors without secrets.
func (s *Store) ListFactors(ctx context.Context, accessToken string) ([]stepauth.Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userByAccessLocked(accessToken)
	if err != nil {
		return nil, err
	}
	factors := make([]stepauth.Factor, 0, len(u.factors))
	for _, f := range u.factors {
		status := stepauth.FactorPending
		if f.verified {
			status = stepauth.FactorVerified
		}
		factors = append(factors, stepauth.Factor{
			ID:           f.id,
			FriendlyName: f.name,
			Status:       status,
		})
	}
	return factors, nil
}

// EnrollFactor creates a pending TOTP factor. The secret and provisioning
// URI appear only on this response.
func (s *Store) EnrollFactor(ctx context.Context, accessToken, friendlyName string) (*stepauth.Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userByAccessLocked(accessToken)
	if err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: u.email,
	})
	if err != nil {
		return nil, err
	}

	f := &factorState{
		id:     uuid.NewString(),
		name:   friendlyName,
		secret: key.Secret(),
		uri:    key.URL(),
	}
	u.factors = append(u.factors, f)

	return &stepauth.Factor{
		ID:              f.id,
		FriendlyName:    f.name,
		Status:          stepauth.FactorPending,
		Secret:          f.secret,
		ProvisioningURI: f.uri,
	}, nil
}

// ChallengeFactor opens a short-lived challenge against the factor.
func (s *Store) ChallengeFactor(ctx context.Context, accessToken, factorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userByAccessLocked(accessToken)
	if err != nil {
		return "", err
	}
	if u.factorLocked(factorID) == nil {
		return "", stepauth.ErrTOTPNotEnrolled
	}

	id := uuid.NewString()
	s.challenges[id] = challengeState{
		factorID: factorID,
		userID:   u.id,
		expires:  s.cfg.Clock().Add(challengeTTL),
	}
	return id, nil
}

// VerifyFactor validates the code against the open challenge. Success
// marks the factor verified, consumes the challenge, and rotates the
// session up to aal2.
func (s *Store) VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (*stepauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byAccess[accessToken]
	if !ok {
		return nil, stepauth.ErrNoSession
	}
	u := s.userByIDLocked(sess.userID)
	if u == nil {
		return nil, stepauth.ErrNoSession
	}
	f := u.factorLocked(factorID)
	if f == nil {
		return nil, stepauth.ErrTOTPNotEnrolled
	}

	now := s.cfg.Clock()
	ch, ok := s.challenges[challengeID]
	if !ok || ch.factorID != factorID || ch.userID != u.id || now.After(ch.expires) {
		return nil, stepauth.ErrTOTPInvalid
	}

	valid, err := totp.ValidateCustom(code, f.secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return nil, stepauth.ErrTOTPInvalid
	}

	delete(s.challenges, challengeID)
	f.verified = true
	s.dropLocked(sess)
	return s.issueLocked(u, stepauth.AssuranceLevel2), nil
}

// UnenrollFactor deletes the factor; unknown ids are not an error.
func (s *Store) UnenrollFactor(ctx context.Context, accessToken, factorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.userByAccessLocked(accessToken)
	if err != nil {
		return err
	}
	for i, f := range u.factors {
		if f.id == factorID {
			u.factors = append(u.factors[:i], u.factors[i+1:]...)
			break
		}
	}
	return nil
}

// FactorCode computes the current TOTP code for an enrolled factor.
// Intended for tests driving the challenge path.
func (s *Store) FactorCode(factorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if f := u.factorLocked(factorID); f != nil {
			return totp.GenerateCodeCustom(f.secret, s.cfg.Clock(), totp.ValidateOpts{
				Period:    30,
				Skew:      1,
				Digits:    otp.DigitsSix,
				Algorithm: otp.AlgorithmSHA1,
			})
		}
	}
	return "", stepauth.ErrTOTPNotEnrolled
}

func (s *Store) issueLocked(u *user, level stepauth.AssuranceLevel) *stepauth.Session {
	now := s.cfg.Clock()
	sess := &sessionState{
		userID:       u.id,
		email:        u.email,
		accessToken:  uuid.NewString(),
		refreshToken: uuid.NewString(),
		issuedAt:     now,
		expiresAt:    now.Add(s.cfg.SessionTTL),
		level:        level,
	}
	s.byAccess[sess.accessToken] = sess
	s.byRefresh[sess.refreshToken] = sess

	return &stepauth.Session{
		AccessToken:    sess.accessToken,
		RefreshToken:   sess.refreshToken,
		UserID:         sess.userID,
		Email:          sess.email,
		IssuedAt:       sess.issuedAt,
		ExpiresAt:      sess.expiresAt,
		AssuranceLevel: sess.level,
	}
}

func (s *Store) dropLocked(sess *sessionState) {
	delete(s.byAccess, sess.accessToken)
	delete(s.byRefresh, sess.refreshToken)
}

func (s *Store) userByIDLocked(id string) *user {
	for _, u := range s.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

func (s *Store) userByAccessLocked(accessToken string) (*user, error) {
	sess, ok := s.byAccess[accessToken]
	if !ok {
		return nil, stepauth.ErrNoSession
	}
	u := s.userByIDLocked(sess.userID)
	if u == nil {
		return nil, stepauth.ErrNoSession
	}
	return u, nil
}

func (u *user) factorLocked(id string) *factorState {
	for _, f := range u.factors {
		if f.id == id {
			return f
		}
	}
	return nil
}

func (u *user) verifiedFactorLocked() *factorState {
	for _, f := range u.factors {
		if f.verified {
			return f
		}
	}
	return nil
}
