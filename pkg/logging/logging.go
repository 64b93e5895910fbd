// Package logging holds the process-wide slog logger. Answers and the MCP
// stdio transport own stdout, so every handler built here writes elsewhere
// unless told otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const service = "medrag"

var (
	mu     sync.RWMutex
	global *slog.Logger
)

// Options selects the handler for New.
type Options struct {
	Writer io.Writer
	// Format is "text" or "json".
	Format string
	Level  slog.Level
}

// New builds a logger tagged with the service name.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler).With("service", service)
}

// ParseLevel maps debug|info|warn|error to a level. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the shared logger. Until SetLogger is called it is built
// from MEDRAG_LOG_FORMAT and MEDRAG_LOG_LEVEL.
func Logger() *slog.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = New(Options{
			Format: os.Getenv("MEDRAG_LOG_FORMAT"),
			Level:  ParseLevel(os.Getenv("MEDRAG_LOG_LEVEL")),
		})
	}
	return global
}

// SetLogger replaces the shared logger. nil is ignored.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

// WithComponent tags the shared logger with a component name.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

// Trim shortens s to at most max runes for log output.
func Trim(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// MaskID keeps the last two characters of a record identifier so log lines
// can be correlated without carrying full patient or doctor ids.
func MaskID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 2 {
		return strings.Repeat("*", len(id))
	}
	return strings.Repeat("*", len(id)-2) + id[len(id)-2:]
}
