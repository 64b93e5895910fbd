package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrim(t *testing.T) {
	assert.Equal(t, "short", Trim("short", 10))
	assert.Equal(t, "abc...", Trim("abcdef", 3))
	assert.Equal(t, "héllo", Trim("héllo", 5))
	assert.Equal(t, "unbounded", Trim("unbounded", 0))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestMaskID(t *testing.T) {
	assert.Equal(t, "****42", MaskID("P00042"))
	assert.Equal(t, "**", MaskID("P1"))
	assert.Equal(t, "", MaskID(" "))
}

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		New(Options{Writer: &buf, Format: "JSON"}).Info("ready")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "medrag", line["service"])
	})

	t.Run("text respects level", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(Options{Writer: &buf, Level: slog.LevelWarn})
		l.Info("hidden")
		l.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
	})
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	SetLogger(nil)
	WithComponent("orchestrator").Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "orchestrator", line["component"])
	assert.Equal(t, "hello", line["msg"])
}
