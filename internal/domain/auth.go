// Package domain contains the core business entities, the error taxonomy and
// the repository ports implemented by the storage adapters.
package domain

import (
	"context"
	"time"
)

// User represents an account that may hold sessions.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is an issued authentication token and its lifecycle state.
// A session is active until it is revoked (logout, user deletion) or its
// sliding expiry passes; both are terminal, and a terminal token is never
// reissued.
type Session struct {
	Token        string
	UserID       int64
	IssuedAt     time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	Revoked      bool
}

// Expired reports whether the session's sliding expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UserRepository is the port for user persistence.
type UserRepository interface {
	// GetByUsername returns (nil, nil) when the username is unknown.
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetByID returns (nil, nil) when the id is unknown.
	GetByID(ctx context.Context, id int64) (*User, error)
	// Create fails with ErrConflict when the username is taken.
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	// Delete fails with ErrNotFound when the id is unknown.
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// SessionRepository is the port for session persistence. Implementations must
// make Touch atomic with respect to Revoke on the same token: a concurrent
// refresh-then-revoke must resolve to revoked.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	// Touch validates the token and, in the same atomic step, refreshes
	// last-active-at and extends expires-at to now+extend. It returns
	// (nil, nil) when the token is unknown, revoked or expired.
	Touch(ctx context.Context, token string, now time.Time, extend time.Duration) (*Session, error)
	// Revoke marks the session terminal. It is idempotent; found reports
	// whether the token exists in any state.
	Revoke(ctx context.Context, token string) (found bool, err error)
	// RevokeByUser revokes every session owned by userID and returns the
	// number of sessions newly revoked.
	RevokeByUser(ctx context.Context, userID int64) (int, error)
	// Sweep removes expired sessions and revoked sessions idle for longer
	// than retention, returning the number removed.
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}
