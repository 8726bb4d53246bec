// Package postgres implements the domain repositories using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"lumitrack/internal/domain"
)

const pqUniqueViolation = "23505"

// GetByUsername retrieves a user by username.
func (d *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID retrieves a user by ID.
func (d *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = $1",
		id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new user. Duplicate usernames map the database's unique
// violation to domain.ErrConflict.
func (d *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	var u domain.User
	err := d.sql.QueryRowContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3) RETURNING id, username, password_hash, created_at",
		username, passwordHash, time.Now().UTC(),
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
		return nil, fmt.Errorf("%w: username %q already exists", domain.ErrConflict, username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Delete removes a user by ID. Sessions go with it via ON DELETE CASCADE.
func (d *DB) Delete(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
	}
	return nil
}

// Count returns the total number of users.
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// SessionRepo implements session repository operations on DB.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo wraps a DB as a SessionRepository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

// Create stores a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, issued_at, last_active_at, expires_at, revoked) VALUES ($1, $2, $3, $4, $5, $6)",
		s.Token, s.UserID, s.IssuedAt, s.LastActiveAt, s.ExpiresAt, s.Revoked,
	)
	return err
}

// Touch validates and refreshes a session as a single guarded UPDATE, so the
// check and the refresh cannot interleave with a concurrent revocation.
func (r *SessionRepo) Touch(ctx context.Context, token string, now time.Time, extend time.Duration) (*domain.Session, error) {
	var s domain.Session
	err := r.db.sql.QueryRowContext(ctx,
		`UPDATE sessions SET last_active_at = $2, expires_at = $3
		 WHERE token = $1 AND NOT revoked AND expires_at > $2
		 RETURNING token, user_id, issued_at, last_active_at, expires_at, revoked`,
		token, now, now.Add(extend),
	).Scan(&s.Token, &s.UserID, &s.IssuedAt, &s.LastActiveAt, &s.ExpiresAt, &s.Revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Revoke marks a session terminal. Revoking an already revoked session is a
// no-op that still reports found.
func (r *SessionRepo) Revoke(ctx context.Context, token string) (bool, error) {
	res, err := r.db.sql.ExecContext(ctx, "UPDATE sessions SET revoked = TRUE WHERE token = $1", token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeByUser revokes every live session owned by userID.
func (r *SessionRepo) RevokeByUser(ctx context.Context, userID int64) (int, error) {
	res, err := r.db.sql.ExecContext(ctx,
		"UPDATE sessions SET revoked = TRUE WHERE user_id = $1 AND NOT revoked", userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Sweep drops expired sessions and revoked sessions idle past retention.
func (r *SessionRepo) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	res, err := r.db.sql.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= $1 OR (revoked AND last_active_at < $2)",
		now, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
