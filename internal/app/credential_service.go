// Package app holds the application services and business logic.
package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"lumitrack/internal/domain"
)

const (
	maxUsernameLen = 64
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt rejects input beyond 72 bytes
)

// CredentialService manages user records and password verification. It never
// stores or returns plaintext passwords, and its errors never carry
// credential material.
type CredentialService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	cost     int

	// dummy is a bcrypt hash of an unguessable value, compared against when
	// the username is unknown so that the unknown-user and wrong-password
	// paths take the same time. It is generated at the service's configured
	// cost so both paths burn the same work factor.
	dummy []byte
}

// NewCredentialService creates a CredentialService. Deleting a user revokes
// that user's sessions through the given session repository. cost is the
// bcrypt work factor; values below bcrypt.MinCost fall back to the default.
func NewCredentialService(users domain.UserRepository, sessions domain.SessionRepository, cost int) *CredentialService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword(randomSecret(), cost)
	if err != nil {
		panic(err)
	}
	return &CredentialService{users: users, sessions: sessions, cost: cost, dummy: dummy}
}

// CreateUser registers a new user and returns its id. Fails with
// domain.ErrConflict when the username is taken and domain.ErrInvalidInput
// when the username or password violates format constraints.
func (s *CredentialService) CreateUser(ctx context.Context, username, password string) (int64, error) {
	if err := validateCredentials(username, password); err != nil {
		return 0, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, err
	}
	user, err := s.users.Create(ctx, username, string(hash))
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

// Verify checks a username/password pair and returns the user id. Any failure
// is reported as domain.ErrUnauthenticated; unknown users and wrong passwords
// are indistinguishable, and the comparison is constant-time either way.
func (s *CredentialService) Verify(ctx context.Context, username, password string) (int64, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	if user == nil {
		// Burn the same work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return 0, domain.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return 0, domain.ErrUnauthenticated
	}
	return user.ID, nil
}

// EnsureUser returns the id of the named user, provisioning the account if it
// does not exist yet. Provisioned accounts get an unguessable random
// password, so they can only ever log in through SSO. A create/create race
// resolves by re-reading the winner.
func (s *CredentialService) EnsureUser(ctx context.Context, username string) (int64, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	if user != nil {
		return user.ID, nil
	}
	hash, err := bcrypt.GenerateFromPassword(randomSecret(), s.cost)
	if err != nil {
		return 0, err
	}
	user, err = s.users.Create(ctx, username, string(hash))
	if err != nil {
		user, getErr := s.users.GetByUsername(ctx, username)
		if getErr == nil && user != nil {
			return user.ID, nil
		}
		return 0, err
	}
	return user.ID, nil
}

// DeleteUser removes a user and revokes every session the user holds. Fails
// with domain.ErrNotFound when the id is unknown.
func (s *CredentialService) DeleteUser(ctx context.Context, userID int64) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeByUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions for deleted user %d: %w", userID, err)
	}
	return nil
}

// Count returns the number of registered users.
func (s *CredentialService) Count(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

func validateCredentials(username, password string) error {
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return fmt.Errorf("%w: username longer than %d characters", domain.ErrInvalidInput, maxUsernameLen)
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return fmt.Errorf("%w: password shorter than %d characters", domain.ErrInvalidInput, minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password longer than %d bytes", domain.ErrInvalidInput, maxPasswordLen)
	}
	return nil
}
