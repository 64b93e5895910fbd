// Package logger logs each query entering and leaving the chain.
package logger

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/pkg/logging"
)

// maxLoggedQuery bounds the query text written to the log.
const maxLoggedQuery = 200

// RequestLogger logs a query when it arrives and when it completes.
type RequestLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRequestLogger creates a request logging middleware. A nil logger uses
// the process logger.
func NewRequestLogger(logger *slog.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.WithComponent("request")
	}
	return &RequestLogger{logger: logger, now: time.Now}
}

// Name returns the middleware name
func (m *RequestLogger) Name() string {
	return "RequestLogger"
}

// Execute logs the request and its outcome.
func (m *RequestLogger) Execute(ctx *middleware.Context, next middleware.Handler) error {
	start := m.now()
	attrs := []any{
		"session_id", ctx.Options.SessionID,
		"caller_id", ctx.Options.CallerID,
	}
	m.logger.Info("query received", append(attrs,
		"query", logging.Trim(ctx.Query, maxLoggedQuery),
		"history_turns", len(ctx.History),
	)...)

	err := next(ctx)

	attrs = append(attrs, "elapsed", m.now().Sub(start))
	switch {
	case err != nil:
		m.logger.Warn("query rejected", append(attrs, "error", err)...)
	case ctx.Result != nil:
		m.logger.Info("query completed", append(attrs,
			"tools_used", ctx.Result.ToolsUsed,
			"sources", len(ctx.Result.Sources),
			"latency_ms", ctx.Result.LatencyMS,
		)...)
	default:
		m.logger.Info("query completed without result", attrs...)
	}
	return err
}
