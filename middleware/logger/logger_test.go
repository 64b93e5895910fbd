package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/orchestrator"
)

func newCapture() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestRequestLogger(t *testing.T) {
	t.Run("logs arrival and completion", func(t *testing.T) {
		buf, log := newCapture()
		m := NewRequestLogger(log)
		ctx := middleware.NewContext(context.Background(), "Who is patient 7?", nil, orchestrator.QueryOptions{SessionID: "s-1"})

		err := m.Execute(ctx, func(c *middleware.Context) error {
			c.Result = &orchestrator.PipelineResult{Answer: "Asha", ToolsUsed: []string{"query_structured_records"}, LatencyMS: 12}
			return nil
		})
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], `"msg":"query received"`)
		assert.Contains(t, lines[0], `"session_id":"s-1"`)
		assert.Contains(t, lines[1], `"msg":"query completed"`)
		assert.Contains(t, lines[1], `"latency_ms":12`)
		assert.Contains(t, lines[1], "query_structured_records")
	})

	t.Run("logs rejection", func(t *testing.T) {
		buf, log := newCapture()
		err := NewRequestLogger(log).Execute(
			middleware.NewContext(context.Background(), "Hi", nil, orchestrator.QueryOptions{}),
			func(*middleware.Context) error { return errors.New("rate limit exceeded") },
		)
		require.Error(t, err)
		assert.Contains(t, buf.String(), `"msg":"query rejected"`)
		assert.Contains(t, buf.String(), "rate limit exceeded")
	})

	t.Run("long queries are trimmed", func(t *testing.T) {
		buf, log := newCapture()
		long := strings.Repeat("q", 500)
		_ = NewRequestLogger(log).Execute(
			middleware.NewContext(context.Background(), long, nil, orchestrator.QueryOptions{}),
			func(*middleware.Context) error { return nil },
		)
		assert.NotContains(t, buf.String(), long)
	})

	assert.Equal(t, "RequestLogger", NewRequestLogger(nil).Name())
}
