// Package memory implements the domain repositories in process memory, for
// development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lumitrack/internal/domain"
)

// DB implements the in-memory storage backend.
type DB struct {
	mu            sync.RWMutex
	users         []*domain.User
	sessions      map[string]*domain.Session
	partitions    map[domain.PartitionKey]*partition
	userIDCounter int64
}

// partition holds one (dancer, channel) stream. Each partition carries its
// own lock so appends to different partitions never serialize against each
// other; db.mu only guards the maps and the user slice.
type partition struct {
	mu      sync.Mutex
	samples []domain.SensorSample // timestamp-ordered
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{
		sessions:   make(map[string]*domain.Session),
		partitions: make(map[domain.PartitionKey]*partition),
	}
}

// Ensure interfaces are met.
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)
var _ domain.TelemetryRepository = (*DB)(nil)

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, u := range db.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, fmt.Errorf("%w: username %q already exists", domain.ErrConflict, username)
		}
	}

	db.userIDCounter++
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users = append(db.users, u)
	cp := *u
	return &cp, nil
}

// Delete removes a user by ID.
func (db *DB) Delete(ctx context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i, u := range db.users {
		if u.ID == id {
			db.users = append(db.users[:i], db.users[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: user %d", domain.ErrNotFound, id)
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence on DB.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo wraps the DB as a SessionRepository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create stores a new session.
func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cp := *s
	r.db.sessions[s.Token] = &cp
	return nil
}

// Touch validates and refreshes a session in one step under the store lock,
// so a concurrent Revoke cannot interleave between the check and the
// refresh.
func (r *SessionRepo) Touch(ctx context.Context, token string, now time.Time, extend time.Duration) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok || s.Revoked || s.Expired(now) {
		return nil, nil
	}
	s.LastActiveAt = now
	s.ExpiresAt = now.Add(extend)
	cp := *s
	return &cp, nil
}

// Revoke marks a session terminal. Revoking twice is a no-op.
func (r *SessionRepo) Revoke(ctx context.Context, token string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok {
		return false, nil
	}
	s.Revoked = true
	return true, nil
}

// RevokeByUser revokes every session owned by userID.
func (r *SessionRepo) RevokeByUser(ctx context.Context, userID int64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	count := 0
	for _, s := range r.db.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			count++
		}
	}
	return count, nil
}

// Sweep drops expired sessions and revoked sessions idle past retention.
func (r *SessionRepo) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	count := 0
	for token, s := range r.db.sessions {
		if s.Expired(now) || (s.Revoked && now.Sub(s.LastActiveAt) > retention) {
			delete(r.db.sessions, token)
			count++
		}
	}
	return count, nil
}

// --- TelemetryRepository ---

// Append merges samples into the partition, last-write-wins on duplicate
// timestamps. The new slice is built outside the visible one and swapped in,
// so a reader never observes a half-applied batch.
func (db *DB) Append(ctx context.Context, dancerID string, channel domain.Channel, samples []domain.SensorSample) (domain.AppendResult, error) {
	if err := domain.ValidateBatch(dancerID, channel, samples); err != nil {
		return domain.AppendResult{}, err
	}
	if len(samples) == 0 {
		return domain.AppendResult{}, nil
	}

	p := db.partition(domain.PartitionKey{DancerID: dancerID, Channel: channel})
	p.mu.Lock()
	defer p.mu.Unlock()

	// Within-call duplicates: the later sample wins before merging.
	incoming := make([]domain.SensorSample, 0, len(samples))
	for _, s := range samples {
		if n := len(incoming); n > 0 && incoming[n-1].Timestamp == s.Timestamp {
			incoming[n-1] = s
			continue
		}
		incoming = append(incoming, s)
	}

	var res domain.AppendResult
	old := p.samples
	merged := make([]domain.SensorSample, 0, len(old)+len(incoming))
	i, j := 0, 0
	for i < len(old) && j < len(incoming) {
		switch {
		case old[i].Timestamp < incoming[j].Timestamp:
			merged = append(merged, old[i])
			i++
		case old[i].Timestamp > incoming[j].Timestamp:
			merged = append(merged, incoming[j])
			res.Inserted++
			j++
		default:
			merged = append(merged, incoming[j])
			res.Overwritten++
			i++
			j++
		}
	}
	merged = append(merged, old[i:]...)
	for ; j < len(incoming); j++ {
		merged = append(merged, incoming[j])
		res.Inserted++
	}
	p.samples = merged
	return res, nil
}

// ReadAll returns a copy of the full stream for the key.
func (db *DB) ReadAll(ctx context.Context, dancerID string, channel domain.Channel) ([]domain.SensorSample, error) {
	p := db.lookup(domain.PartitionKey{DancerID: dancerID, Channel: channel})
	if p == nil {
		return []domain.SensorSample{}, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.SensorSample, len(p.samples))
	copy(out, p.samples)
	return out, nil
}

// ReadRange returns a copy of the samples with fromTs <= ts < toTs.
func (db *DB) ReadRange(ctx context.Context, dancerID string, channel domain.Channel, fromTs, toTs int64) ([]domain.SensorSample, error) {
	p := db.lookup(domain.PartitionKey{DancerID: dancerID, Channel: channel})
	if p == nil {
		return []domain.SensorSample{}, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	lo := sort.Search(len(p.samples), func(i int) bool { return p.samples[i].Timestamp >= fromTs })
	hi := sort.Search(len(p.samples), func(i int) bool { return p.samples[i].Timestamp >= toTs })
	out := make([]domain.SensorSample, hi-lo)
	copy(out, p.samples[lo:hi])
	return out, nil
}

// Keys lists every partition holding data.
func (db *DB) Keys(ctx context.Context) ([]domain.PartitionKey, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	keys := make([]domain.PartitionKey, 0, len(db.partitions))
	for k := range db.partitions {
		keys = append(keys, k)
	}
	return keys, nil
}

// partition returns the stream for key, creating it if needed.
func (db *DB) partition(key domain.PartitionKey) *partition {
	db.mu.RLock()
	p := db.partitions[key]
	db.mu.RUnlock()
	if p != nil {
		return p
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if p = db.partitions[key]; p == nil {
		p = &partition{}
		db.partitions[key] = p
	}
	return p
}

func (db *DB) lookup(key domain.PartitionKey) *partition {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.partitions[key]
}
