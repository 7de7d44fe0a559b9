package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stepauth/stepauth"
)

// OTPStore persists one-time codes in the otp_codes table.
type OTPStore struct {
	db *sqlx.DB
}

// NewOTPStore wraps the given database handle.
func NewOTPStore(db *sqlx.DB) *OTPStore { return &OTPStore{db: db} }

// Replace deletes every row for the record's subject and inserts the new
// row inside one transaction, so at most one code is live per subject.
func (s *OTPStore) Replace(ctx context.Context, rec *stepauth.OTPRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM otp_codes WHERE user_id = $1`, rec.UserID); err != nil {
		return err
	}
	const insert = `
INSERT INTO otp_codes (id, user_id, code, type, destination, created_at, expires_at, used)
VALUES (:id, :user_id, :code, :type, :destination, :created_at, :expires_at, false)`
	if _, err := tx.NamedExecContext(ctx, insert, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// Consume marks the unused row matching (userID, code) as used in a
// single conditional UPDATE, so two racing submissions of the same code
// yield exactly one success. An expired match is reported as
// ErrOTPExpired and left unconsumed.
func (s *OTPStore) Consume(ctx context.Context, userID, code string, now time.Time) (*stepauth.OTPRecord, error) {
	const update = `
UPDATE otp_codes
SET used = true, used_at = $3
WHERE user_id = $1 AND code = $2 AND used = false AND expires_at > $3
RETURNING id, user_id, code, type, destination, created_at, expires_at, used, used_at`

	var rec stepauth.OTPRecord
	err := s.db.GetContext(ctx, &rec, update, userID, code, now)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Nothing consumable. Distinguish an expired match from no match.
	var expired int
	err = s.db.GetContext(ctx, &expired, `
SELECT COUNT(*) FROM otp_codes
WHERE user_id = $1 AND code = $2 AND used = false AND expires_at <= $3`,
		userID, code, now)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		return nil, stepauth.ErrOTPExpired
	}
	return nil, stepauth.ErrOTPInvalid
}

// ActiveCount reports unused, unexpired rows for the subject.
func (s *OTPStore) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
SELECT COUNT(*) FROM otp_codes
WHERE user_id = $1 AND used = false AND expires_at > $2`,
		userID, now)
	return n, err
}
