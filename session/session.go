// Package session keeps caller-owned conversation history between queries.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
)

// State represents the state of a session
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// DefaultMaxTurns bounds the history kept per session.
const DefaultMaxTurns = 50

// Session is the persisted conversation of one caller.
type Session struct {
	ID        string             `json:"id"`
	CallerID  string             `json:"caller_id,omitempty"`
	State     State              `json:"state"`
	Messages  []*message.Message `json:"messages"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// New creates an active session. An empty id is replaced by a random one.
func New(id, callerID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CallerID:  callerID,
		State:     StateActive,
		Messages:  []*message.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cloned := *s
	cloned.Messages = message.CloneMessages(s.Messages)
	if cloned.Messages == nil {
		cloned.Messages = []*message.Message{}
	}
	return &cloned
}

// Append adds turns and keeps at most maxTurns of the newest ones.
func (s *Session) Append(maxTurns int, turns ...*message.Message) {
	s.Messages = append(s.Messages, turns...)
	if maxTurns > 0 && len(s.Messages) > maxTurns {
		s.Messages = append([]*message.Message(nil), s.Messages[len(s.Messages)-maxTurns:]...)
	}
	s.UpdatedAt = time.Now().UTC()
}

// History returns a copy of the stored turns, oldest first.
func (s *Session) History() []*message.Message {
	return message.CloneMessages(s.Messages)
}

// Store persists sessions. Load reports a missing session with an error
// for which errors.IsNotFound holds.
type Store interface {
	Save(ctx context.Context, sess *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// NotFound builds the error stores return for an unknown id.
func NotFound(id string) error {
	return medragerr.New(medragerr.CodeSessionNotFound, "session not found", medragerr.Field("session_id", id))
}
