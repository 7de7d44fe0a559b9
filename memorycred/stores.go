package memorycred

import (
	"context"
	"sync"
	"time"

	"github.com/stepauth/stepauth"
)

// OTPStore is an in-memory stepauth.OTPStore with the same single-use
// semantics as the postgres implementation.
type OTPStore struct {
	mu   sync.Mutex
	rows map[string]*stepauth.OTPRecord // keyed by user id, one row each
}

// NewOTPStore builds an empty store.
func NewOTPStore() *OTPStore {
	return &OTPStore{rows: make(map[string]*stepauth.OTPRecord)}
}

// Replace swaps the subject's single row.
func (s *OTPStore) Replace(ctx context.Context, rec *stepauth.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.rows[rec.UserID] = &clone
	return nil
}

// Consume marks the matching unused row used; under the lock exactly one
// caller can win.
func (s *OTPStore) Consume(ctx context.Context, userID, code string, now time.Time) (*stepauth.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rows[userID]
	if !ok || rec.Used || rec.Code != code {
		return nil, stepauth.ErrOTPInvalid
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, stepauth.ErrOTPExpired
	}
	rec.Used = true
	usedAt := now
	rec.UsedAt = &usedAt
	clone := *rec
	return &clone, nil
}

// ActiveCount reports whether the subject holds a live row.
func (s *OTPStore) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID]
	if !ok || rec.Used || !now.Before(rec.ExpiresAt) {
		return 0, nil
	}
	return 1, nil
}

type recoveryRow struct {
	hash string
	used bool
}

// RecoveryCodeStore is an in-memory stepauth.RecoveryCodeStore.
type RecoveryCodeStore struct {
	mu   sync.Mutex
	rows map[string][]*recoveryRow
}

// NewRecoveryCodeStore builds an empty store.
func NewRecoveryCodeStore() *RecoveryCodeStore {
	return &RecoveryCodeStore{rows: make(map[string][]*recoveryRow)}
}

// Replace swaps the subject's whole batch.
func (s *RecoveryCodeStore) Replace(ctx context.Context, userID string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*recoveryRow, 0, len(hashes))
	for _, h := range hashes {
		rows = append(rows, &recoveryRow{hash: h})
	}
	s.rows[userID] = rows
	return nil
}

// Consume spends one matching unused row. Missing and spent hashes are
// indistinguishable.
func (s *RecoveryCodeStore) Consume(ctx context.Context, userID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows[userID] {
		if row.hash == hash && !row.used {
			row.used = true
			return true, nil
		}
	}
	return false, nil
}

// CountUnused reports remaining rows for the subject.
func (s *RecoveryCodeStore) CountUnused(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows[userID] {
		if !row.used {
			n++
		}
	}
	return n, nil
}

// DeleteAll removes the subject's batch.
func (s *RecoveryCodeStore) DeleteAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

// RoleStore is an in-memory stepauth.RoleStore.
type RoleStore struct {
	mu    sync.Mutex
	roles map[string]map[string]bool
}

// NewRoleStore builds an empty store.
func NewRoleStore() *RoleStore {
	return &RoleStore{roles: make(map[string]map[string]bool)}
}

// Grant adds a role to the subject.
func (s *RoleStore) Grant(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[userID] == nil {
		s.roles[userID] = make(map[string]bool)
	}
	s.roles[userID][role] = true
}

// HasRole reports whether the subject holds the role.
func (s *RoleStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[userID][role], nil
}
