package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog"

	"lumitrack/internal/domain"
	"lumitrack/internal/metrics"
)

// DefaultIdleTimeout is the inactivity window after which a session expires
// when no timeout is configured.
const DefaultIdleTimeout = 24 * time.Hour

// revokedRetention is how long a revoked session record is kept around so
// that repeated logouts of the same token stay silent. After the sweep drops
// the record, the token is indistinguishable from one that never existed.
const revokedRetention = 24 * time.Hour

// SessionService is the session authority: it issues opaque tokens on login,
// validates them on every protected call, revokes them on logout and expires
// idle sessions.
type SessionService struct {
	creds       *CredentialService
	sessions    domain.SessionRepository
	idleTimeout time.Duration
	log         zerolog.Logger

	now func() time.Time // injectable for tests
}

// NewSessionService creates a SessionService with the given sliding idle
// timeout.
func NewSessionService(creds *CredentialService, sessions domain.SessionRepository, idleTimeout time.Duration, log zerolog.Logger) *SessionService {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &SessionService{
		creds:       creds,
		sessions:    sessions,
		idleTimeout: idleTimeout,
		log:         log,
		now:         time.Now,
	}
}

// Login verifies the credentials and mints a new session token. Bad
// credentials fail with domain.ErrUnauthenticated.
func (s *SessionService) Login(ctx context.Context, username, password string) (string, error) {
	userID, err := s.creds.Verify(ctx, username, password)
	if err != nil {
		return "", err
	}
	return s.issue(ctx, userID)
}

// IssueFor mints a session for an already authenticated user id. Used by the
// SSO callback, where the identity provider has done the credential check.
func (s *SessionService) IssueFor(ctx context.Context, userID int64) (string, error) {
	return s.issue(ctx, userID)
}

func (s *SessionService) issue(ctx context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	sess := &domain.Session{
		Token:        token,
		UserID:       userID,
		IssuedAt:     now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(s.idleTimeout),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return "", err
	}
	metrics.SessionsIssued.Inc()
	s.log.Debug().Int64("user_id", userID).Msg("session issued")
	return token, nil
}

// CheckToken validates a token and returns the owning user id. On success the
// session's last-active time is refreshed and its expiry extended by the idle
// timeout, atomically with the validation. Unknown, revoked and expired
// tokens all fail with domain.ErrUnauthenticated.
func (s *SessionService) CheckToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, domain.ErrUnauthenticated
	}
	sess, err := s.sessions.Touch(ctx, token, s.now(), s.idleTimeout)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, domain.ErrUnauthenticated
	}
	return sess.UserID, nil
}

// Logout revokes the session. It is idempotent: revoking an already revoked
// or expired session succeeds silently. Only a token that does not exist at
// all fails, with domain.ErrUnauthenticated.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	found, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrUnauthenticated
	}
	metrics.SessionsRevoked.Inc()
	return nil
}

// Sweep removes expired sessions and stale revoked records. Expiry is also
// enforced lazily by CheckToken, so the sweep is garbage collection, not a
// correctness requirement.
func (s *SessionService) Sweep(ctx context.Context) (int, error) {
	removed, err := s.sessions.Sweep(ctx, s.now(), revokedRetention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("session sweep")
	}
	return removed, nil
}

// RunSweeper runs Sweep at the given interval until ctx is cancelled.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("session sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// generateToken mints an opaque session token with 256 bits of entropy from
// the system's CSPRNG. Tokens are never derived from user ids or timestamps.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// randomSecret returns random bytes suitable as an unguessable placeholder
// password for SSO-provisioned accounts.
func randomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return b
}
