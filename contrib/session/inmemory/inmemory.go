// Package inmemory is a process-local session store for the CLI and tests.
package inmemory

import (
	"context"
	"slices"
	"sync"
	"time"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/session"
)

var _ session.Store = (*Store)(nil)

type entry struct {
	sess    *session.Session
	expires time.Time
}

// Store keeps sessions in a map. Entries older than the TTL are dropped
// lazily on access.
type Store struct {
	mu       sync.Mutex
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires sessions that have not been saved for ttl. Zero keeps
// them for the life of the process.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{sessions: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a copy of sess and restarts its TTL.
func (s *Store) Save(_ context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return medragerr.New(medragerr.CodeSessionStoreFailure, "session requires an id")
	}
	e := entry{sess: sess.Clone()}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = e
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the stored session.
func (s *Store) Load(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return nil, session.NotFound(id)
	}
	return e.sess.Clone(), nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// List returns the ids of live sessions, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		if _, ok := s.live(id); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Exists reports whether a live session is stored under id.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(id)
	return ok, nil
}

// Len counts stored sessions, expired ones included until next touched.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// live must be called with mu held.
func (s *Store) live(id string) (entry, bool) {
	e, ok := s.sessions[id]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.sessions, id)
		return entry{}, false
	}
	return e, true
}
