package session

import (
	"context"
	"log/slog"
	"sync"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/orchestrator"
	"github.com/sweetpotato0/medrag/pkg/logging"
)

// Processor answers one query given the prior turns.
type Processor interface {
	ProcessQuery(ctx context.Context, query string, history []*message.Message, opts orchestrator.QueryOptions) *orchestrator.PipelineResult
}

// Manager runs queries inside stored sessions. Turns of the same session
// are serialized; different sessions proceed concurrently.
type Manager struct {
	store    Store
	proc     Processor
	maxTurns int
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithMaxTurns caps the stored history per session.
func WithMaxTurns(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTurns = n
		}
	}
}

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager persisting to store.
//
// Example:
//
//	mgr := session.NewManager(inmemory.New(), orch)
func NewManager(store Store, proc Processor, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		proc:     proc,
		maxTurns: DefaultMaxTurns,
		locks:    make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("session_manager")
	}
	return m
}

// Ask processes query with the session's history and appends the exchange.
// A missing session is created. The pipeline result is returned even when
// persisting the new turns fails.
func (m *Manager) Ask(ctx context.Context, sessionID, query string, opts orchestrator.QueryOptions) (*orchestrator.PipelineResult, error) {
	sess, err := m.acquire(ctx, sessionID, opts.CallerID)
	if err != nil {
		return nil, err
	}
	defer m.release(sess.ID)

	if sess.State == StateClosed {
		return nil, medragerr.New(medragerr.CodeSessionClosed, "session is closed", medragerr.Field("session_id", sess.ID))
	}

	opts.SessionID = sess.ID
	if opts.CallerID == "" {
		opts.CallerID = sess.CallerID
	}

	result := m.proc.ProcessQuery(ctx, query, sess.History(), opts)

	sess.Append(m.maxTurns,
		message.NewMessage(message.RoleUser, query),
		message.NewMessage(message.RoleAssistant, result.Answer),
	)
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Error("persist session turn failed", "session_id", sess.ID, "error", err)
		return result, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "save session", medragerr.Field("session_id", sess.ID))
	}
	return result, nil
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Load(ctx, id)
}

// Close marks a session closed; later turns are rejected.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.lock(id)
	defer m.release(id)

	sess, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	sess.State = StateClosed
	return m.store.Save(ctx, sess)
}

// Delete removes a session and its history.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.lock(id)
	defer m.release(id)
	return m.store.Delete(ctx, id)
}

// List returns the stored session ids.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// acquire locks id and loads or creates its session.
func (m *Manager) acquire(ctx context.Context, id, callerID string) (*Session, error) {
	if id == "" {
		sess := New("", callerID)
		m.lock(sess.ID)
		return sess, nil
	}

	m.lock(id)
	sess, err := m.store.Load(ctx, id)
	switch {
	case err == nil:
		return sess, nil
	case medragerr.IsNotFound(err):
		m.logger.Debug("starting session", "session_id", id)
		return New(id, callerID), nil
	default:
		m.release(id)
		return nil, medragerr.Wrap(err, medragerr.CodeSessionStoreFailure, "load session", medragerr.Field("session_id", id))
	}
}

func (m *Manager) lock(id string) {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return
	}
	l.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}
