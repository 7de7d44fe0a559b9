package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// RoleStore answers role membership from the user_roles table.
type RoleStore struct {
	db *sqlx.DB
}

// NewRoleStore wraps the given database handle.
func NewRoleStore(db *sqlx.DB) *RoleStore { return &RoleStore{db: db} }

// HasRole reports whether the subject holds the named role.
func (s *RoleStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, role)
	return ok, err
}

// Grant adds a role to the subject, idempotently.
func (s *RoleStore) Grant(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
ON CONFLICT (user_id, role) DO NOTHING`,
		userID, role)
	return err
}

// Revoke removes a role from the subject.
func (s *RoleStore) Revoke(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, role)
	return err
}
