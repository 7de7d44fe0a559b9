package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// RecoveryCodeStore persists recovery-code hashes in the recovery_codes
// table. Plaintext codes never reach this type.
type RecoveryCodeStore struct {
	db *sqlx.DB
}

// NewRecoveryCodeStore wraps the given database handle.
func NewRecoveryCodeStore(db *sqlx.DB) *RecoveryCodeStore {
	return &RecoveryCodeStore{db: db}
}

// Replace swaps the subject's whole batch inside one transaction.
func (s *RecoveryCodeStore) Replace(ctx context.Context, userID string, hashes []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range hashes {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO recovery_codes (user_id, code_hash, used) VALUES ($1, $2, false)`,
			userID, hash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Consume marks one unused row matching the hash as used. The boolean
// answer does not distinguish a missing hash from a spent one.
func (s *RecoveryCodeStore) Consume(ctx context.Context, userID, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE recovery_codes
SET used = true, used_at = NOW()
WHERE id = (
  SELECT id FROM recovery_codes
  WHERE user_id = $1 AND code_hash = $2 AND used = false
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)`,
		userID, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountUnused reports rows with used=false for the subject.
func (s *RecoveryCodeStore) CountUnused(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1 AND used = false`, userID)
	return n, err
}

// DeleteAll removes every row for the subject.
func (s *RecoveryCodeStore) DeleteAll(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID)
	return err
}
