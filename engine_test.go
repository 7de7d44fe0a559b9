package stepauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testClock is a manually advanced time source shared by engine and
// fakes.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeCredStore struct {
	mu sync.Mutex

	signInErr  error
	refreshErr error
	resetErr   error
	signOutErr error
	factorsErr error

	levels  AssuranceLevels
	factors []Factor

	signInCalls  int
	refreshCalls int
	signOutCalls int
	resetEmails  []string
	unenrolled   []string

	clock *testClock
}

func newFakeCredStore(clock *testClock) *fakeCredStore {
	return &fakeCredStore{
		levels: AssuranceLevels{Current: AssuranceLevel1, Next: AssuranceLevel1},
		clock:  clock,
	}
}

func (f *fakeCredStore) session(level AssuranceLevel, suffix string) *Session {
	now := f.clock.Now()
	return &Session{
		AccessToken:    "access-" + suffix,
		RefreshToken:   "refresh-" + suffix,
		UserID:         "u1",
		Email:          "alice@example.com",
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Hour),
		AssuranceLevel: level,
	}
}

func (f *fakeCredStore) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session(AssuranceLevel1, "signin"), nil
}

func (f *fakeCredStore) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session(AssuranceLevel1, "rotated"), nil
}

func (f *fakeCredStore) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeCredStore) RequestPasswordReset(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetEmails = append(f.resetEmails, email)
	return f.resetErr
}

func (f *fakeCredStore) AssuranceLevels(ctx context.Context, accessToken string) (AssuranceLevels, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels, nil
}

func (f *fakeCredStore) ListFactors(ctx context.Context, accessToken string) ([]Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.factorsErr != nil {
		return nil, f.factorsErr
	}
	out := make([]Factor, len(f.factors))
	copy(out, f.factors)
	return out, nil
}

func (f *fakeCredStore) EnrollFactor(ctx context.Context, accessToken, friendlyName string) (*Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	factor := Factor{
		ID:              "factor-1",
		FriendlyName:    friendlyName,
		Status:          FactorPending,
		Secret:          "JBSWY3DPEHPK3PXP",
		ProvisioningURI: "otpauth://totp/test:alice@example.com?secret=JBSWY3DPEHPK3PXP",
	}
	f.factors = append(f.factors, Factor{ID: factor.ID, FriendlyName: friendlyName, Status: FactorPending})
	return &factor, nil
}

func (f *fakeCredStore) ChallengeFactor(ctx context.Context, accessToken, factorID string) (string, error) {
	return "challenge-1", nil
}

func (f *fakeCredStore) VerifyFactor(ctx context.Context, accessToken, factorID, challengeID, code string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code != "654321" {
		return nil, ErrTOTPInvalid
	}
	for i := range f.factors {
		if f.factors[i].ID == factorID {
			f.factors[i].Status = FactorVerified
		}
	}
	f.levels.Current = AssuranceLevel2
	f.levels.Next = AssuranceLevel2
	return f.session(AssuranceLevel2, "upgraded"), nil
}

func (f *fakeCredStore) UnenrollFactor(ctx context.Context, accessToken, factorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unenrolled = append(f.unenrolled, factorID)
	for i := range f.factors {
		if f.factors[i].ID == factorID {
			f.factors = append(f.factors[:i], f.factors[i+1:]...)
			break
		}
	}
	return nil
}

type fakeOTPStore struct {
	mu         sync.Mutex
	rows       map[string]*OTPRecord
	replaceErr error
	replaces   int
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{rows: make(map[string]*OTPRecord)}
}

func (s *fakeOTPStore) Replace(ctx context.Context, rec *OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.replaces++
	clone := *rec
	s.rows[rec.UserID] = &clone
	return nil
}

func (s *fakeOTPStore) Consume(ctx context.Context, userID, code string, now time.Time) (*OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID]
	if !ok || rec.Used || rec.Code != code {
		return nil, ErrOTPInvalid
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrOTPExpired
	}
	rec.Used = true
	usedAt := now
	rec.UsedAt = &usedAt
	clone := *rec
	return &clone, nil
}

func (s *fakeOTPStore) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID]
	if !ok || rec.Used || !now.Before(rec.ExpiresAt) {
		return 0, nil
	}
	return 1, nil
}

func (s *fakeOTPStore) current(userID string) *OTPRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

type fakeRecoveryStore struct {
	mu         sync.Mutex
	hashes     map[string]map[string]bool // userID -> hash -> used
	replaceErr error
	deletes    int
}

func newFakeRecoveryStore() *fakeRecoveryStore {
	return &fakeRecoveryStore{hashes: make(map[string]map[string]bool)}
}

func (s *fakeRecoveryStore) Replace(ctx context.Context, userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	batch := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		batch[h] = false
	}
	s.hashes[userID] = batch
	return nil
}

func (s *fakeRecoveryStore) Consume(ctx context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used, ok := s.hashes[userID][hash]
	if !ok || used {
		return false, nil
	}
	s.hashes[userID][hash] = true
	return true, nil
}

func (s *fakeRecoveryStore) CountUnused(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, used := range s.hashes[userID] {
		if !used {
			n++
		}
	}
	return n, nil
}

func (s *fakeRecoveryStore) DeleteAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.hashes, userID)
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string // codes in send order
	to    []string
	fail  error
	calls int
}

func (s *fakeSender) SendOTPEmail(ctx context.Context, to, code string, validity time.Duration) error {
	return s.record(to, code)
}

func (s *fakeSender) SendOTPSMS(ctx context.Context, phone, code string, validity time.Duration) error {
	return s.record(phone, code)
}

func (s *fakeSender) record(to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, code)
	s.to = append(s.to, to)
	return nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

type fakeRoleStore struct {
	roles map[string]map[string]bool
}

func (s *fakeRoleStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	return s.roles[userID][role], nil
}

type testEngine struct {
	engine   *Engine
	cred     *fakeCredStore
	otp      *fakeOTPStore
	recovery *fakeRecoveryStore
	sender   *fakeSender
	clock    *testClock
	redis    *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)

	clock := newTestClock()
	cfg := defaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	cred := newFakeCredStore(clock)
	otp := newFakeOTPStore()
	recovery := newFakeRecoveryStore()
	sender := &fakeSender{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithCredentialStore(cred).
		WithOTPStore(otp).
		WithRecoveryCodeStore(recovery).
		WithRoleStore(&fakeRoleStore{roles: map[string]map[string]bool{
			"u1": {AdminRole: true},
		}}).
		WithEmailSender(sender).
		WithSMSSender(sender).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{
		engine:   engine,
		cred:     cred,
		otp:      otp,
		recovery: recovery,
		sender:   sender,
		clock:    clock,
		redis:    mr,
	}
}

func (te *testEngine) signIn(t *testing.T) *Session {
	t.Helper()
	session, err := te.engine.SignIn(context.Background(), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	return session
}

func TestSignInInstallsSessionAndFiresEvent(t *testing.T) {
	te := newTestEngine(t)

	var events []EventType
	cancel := te.engine.OnAuthStateChange(func(ev AuthEvent) {
		events = append(events, ev.Type)
	})
	defer cancel()

	session := te.signIn(t)
	if session.AssuranceLevel != AssuranceLevel1 {
		t.Fatalf("expected aal1, got %s", session.AssuranceLevel)
	}
	if got := te.engine.Session(); got == nil || got.AccessToken != session.AccessToken {
		t.Fatal("expected session installed")
	}
	if len(events) != 1 || events[0] != EventSignedIn {
		t.Fatalf("expected one signed_in event, got %v", events)
	}
}

func TestSignInRejectsEmptyAndWrongCredentialsUniformly(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	if _, err := te.engine.SignIn(ctx, "", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty email: got %v", err)
	}
	if _, err := te.engine.SignIn(ctx, "a@b.c", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty password: got %v", err)
	}
	if te.cred.signInCalls != 0 {
		t.Fatal("empty input must not reach the credential store")
	}

	te.cred.signInErr = errors.New("user not found")
	if _, err := te.engine.SignIn(ctx, "a@b.c", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store failure must map to ErrInvalidCredentials, got %v", err)
	}
	if te.engine.Session() != nil {
		t.Fatal("failed sign-in must not install a session")
	}
}

func TestSignOutIsIdempotentAndTearsDownLocally(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	var events []EventType
	cancel := te.engine.OnAuthStateChange(func(ev AuthEvent) {
		events = append(events, ev.Type)
	})
	defer cancel()

	te.signIn(t)
	if err := te.engine.SignOut(ctx); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}
	if te.engine.Session() != nil {
		t.Fatal("expected session cleared")
	}
	if err := te.engine.SignOut(ctx); err != nil {
		t.Fatalf("second sign out must be a no-op: %v", err)
	}
	if te.cred.signOutCalls != 1 {
		t.Fatalf("expected one revocation call, got %d", te.cred.signOutCalls)
	}
	if len(events) != 2 || events[1] != EventSignedOut {
		t.Fatalf("expected signed_in then signed_out, got %v", events)
	}
}

func TestSignOutProceedsWhenRevocationFails(t *testing.T) {
	te := newTestEngine(t)
	te.signIn(t)
	te.cred.signOutErr = errors.New("network down")

	if err := te.engine.SignOut(context.Background()); err != nil {
		t.Fatalf("local teardown must succeed: %v", err)
	}
	if te.engine.Session() != nil {
		t.Fatal("expected session cleared despite revocation failure")
	}
}

func TestOnAuthStateChangeCancellation(t *testing.T) {
	te := newTestEngine(t)

	calls := 0
	cancel := te.engine.OnAuthStateChange(func(AuthEvent) { calls++ })
	te.signIn(t)
	cancel()
	te.engine.SignOut(context.Background())

	if calls != 1 {
		t.Fatalf("expected canceled listener to miss sign-out, got %d calls", calls)
	}
}

func TestSessionReturnsCopy(t *testing.T) {
	te := newTestEngine(t)
	te.signIn(t)

	got := te.engine.Session()
	got.AccessToken = "tampered"
	if te.engine.Session().AccessToken == "tampered" {
		t.Fatal("Session must return a copy")
	}
}

func TestHasRoleAndIsAdmin(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	ok, err := te.engine.IsAdmin(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected u1 admin, got %v %v", ok, err)
	}
	ok, err = te.engine.IsAdmin(ctx, "u2")
	if err != nil || ok {
		t.Fatalf("expected u2 not admin, got %v %v", ok, err)
	}
	ok, err = te.engine.HasRole(ctx, "", AdminRole)
	if err != nil || ok {
		t.Fatalf("empty subject must not hold roles, got %v %v", ok, err)
	}
}

func TestRequestPasswordResetPassesThrough(t *testing.T) {
	te := newTestEngine(t)
	if err := te.engine.RequestPasswordReset(context.Background(), "  alice@example.com "); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if len(te.cred.resetEmails) != 1 || te.cred.resetEmails[0] != "alice@example.com" {
		t.Fatalf("expected trimmed email forwarded, got %v", te.cred.resetEmails)
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := newTestClock()

	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without credential store")
	}
	b := New().
		WithRedis(rdb).
		WithCredentialStore(newFakeCredStore(clock)).
		WithOTPStore(newFakeOTPStore()).
		WithRecoveryCodeStore(newFakeRecoveryStore())
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error without any sender")
	}
	engine, err := b.WithEmailSender(&fakeSender{}).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error reusing a builder")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.OTP.Digits = 2

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	defer mr.Close()

	_, err = New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithCredentialStore(newFakeCredStore(newTestClock())).
		WithOTPStore(newFakeOTPStore()).
		WithRecoveryCodeStore(newFakeRecoveryStore()).
		WithEmailSender(&fakeSender{}).
		Build()
	if err == nil {
		t.Fatal("expected config validation error")
	}
}
