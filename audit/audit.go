// Package audit records one entry per processed query.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetpotato0/medrag/pkg/logging"
)

// Entry is the audit view of one orchestrated query.
type Entry struct {
	ID        string         `json:"id" bson:"_id"`
	SessionID string         `json:"session_id,omitempty" bson:"session_id,omitempty"`
	CallerID  string         `json:"caller_id,omitempty" bson:"caller_id,omitempty"`
	Query     string         `json:"query" bson:"query"`
	Answer    string         `json:"answer" bson:"answer"`
	ToolsUsed []string       `json:"tools_used" bson:"tools_used"`
	Sources   []string       `json:"sources" bson:"sources"`
	LatencyMS int64          `json:"latency_ms" bson:"latency_ms"`
	Error     string         `json:"error,omitempty" bson:"error,omitempty"`
	Quality   map[string]any `json:"quality,omitempty" bson:"quality,omitempty"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Prepare fills the ID and timestamp of an entry when they are unset.
func Prepare(entry *Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.ToolsUsed == nil {
		entry.ToolsUsed = []string{}
	}
	if entry.Sources == nil {
		entry.Sources = []string{}
	}
}

// LogRecorder writes entries to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a recorder logging at info level. A nil logger uses
// the audit component logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = logging.WithComponent("audit")
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, entry Entry) error {
	Prepare(&entry)
	attrs := []any{
		"audit_id", entry.ID,
		"session_id", entry.SessionID,
		"caller_id", entry.CallerID,
		"query", logging.Trim(entry.Query, 200),
		"tools_used", entry.ToolsUsed,
		"sources", entry.Sources,
		"latency_ms", entry.LatencyMS,
	}
	if entry.Error != "" {
		attrs = append(attrs, "error", entry.Error)
	}
	if len(entry.Quality) > 0 {
		attrs = append(attrs, "quality", entry.Quality)
	}
	r.logger.InfoContext(ctx, "query processed", attrs...)
	return nil
}

// MemoryRecorder keeps entries in memory. It is used by tests and by the
// CLI when no backend is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, entry Entry) error {
	Prepare(&entry)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries in order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Multi fans an entry out to several recorders and returns the first error.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry Entry) error {
	Prepare(&entry)
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
