package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.2, cfg.Synthesis.Temperature)
	assert.Equal(t, "cl100k_base", cfg.Synthesis.Encoding)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "memory", cfg.Retrieval.Backend)
	assert.Zero(t, cfg.Retrieval.ChunkTokens)
	assert.Equal(t, 32, cfg.Retrieval.ChunkOverlapTokens)
	assert.Equal(t, "http", cfg.Records.Transport)
	assert.Equal(t, 30*time.Second, cfg.Records.Timeout)
	assert.Equal(t, 5, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 10, cfg.Orchestrator.HistoryWindow)
	assert.Equal(t, 6, cfg.Orchestrator.RecordsHistoryWindow)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.ToolTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Session.Redis.TTL)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "medrag", cfg.Telemetry.ServiceName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEDRAG_LLM_PROVIDER", "Claude")
	t.Setenv("MEDRAG_LLM_MODEL", "claude-3-5-haiku-latest")
	t.Setenv("MEDRAG_ORCHESTRATOR_MAX_ROUNDS", "3")
	t.Setenv("MEDRAG_RECORDS_TIMEOUT", "5s")
	t.Setenv("FASTAPI_BASE_URL", "http://records.internal:9000/")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Orchestrator.MaxRounds)
	assert.Equal(t, 5*time.Second, cfg.Records.Timeout)
	assert.Equal(t, "http://records.internal:9000", cfg.Records.BaseURL)
}

func TestLoadPrefixedEnvBeatsAlias(t *testing.T) {
	t.Setenv("FASTAPI_BASE_URL", "http://alias:1")
	t.Setenv("MEDRAG_RECORDS_BASE_URL", "http://primary:2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://primary:2", cfg.Records.BaseURL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: gemini
  model: gemini-1.5-flash
retrieval:
  backend: postgres
  top_k: 8
  postgres:
    dsn: postgres://localhost/medrag?sslmode=disable
session:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, "documents", cfg.Retrieval.Postgres.Table)
	assert.Equal(t, "redis:6379", cfg.Session.Redis.Addr)
	assert.Equal(t, 2, cfg.Session.Redis.DB)
}

func TestLoadStdioRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
records:
  transport: MCP-Stdio
  mcp_command: records-mcp
  mcp_args: ["--db", "/var/lib/records.db"]
  mcp_env: ["RECORDS_READONLY=1"]
  mcp_keepalive: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mcp-stdio", cfg.Records.Transport)
	assert.Equal(t, "records-mcp", cfg.Records.MCPCommand)
	assert.Equal(t, []string{"--db", "/var/lib/records.db"}, cfg.Records.MCPArgs)
	assert.Equal(t, []string{"RECORDS_READONLY=1"}, cfg.Records.MCPEnv)
	assert.Equal(t, 30*time.Second, cfg.Records.MCPKeepAlive)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, medragerr.HasCode(err, medragerr.CodeConfigLoadReadFailure))
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("MEDRAG_LLM_PROVIDER", "llama")
		t.Setenv("MEDRAG_RETRIEVAL_BACKEND", "postgres")
		t.Setenv("MEDRAG_SERVER_LISTEN", "8080")

		_, err := Load("")
		require.Error(t, err)
		assert.True(t, medragerr.HasCode(err, medragerr.CodeConfigValidateInvalidValue))
		assert.Contains(t, err.Error(), "llm.provider")
		assert.Contains(t, err.Error(), "retrieval.postgres.dsn")
		assert.Contains(t, err.Error(), "server.listen")
	})

	t.Run("mcp transport needs an endpoint", func(t *testing.T) {
		t.Setenv("MEDRAG_RECORDS_TRANSPORT", "mcp")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "records.mcp_endpoint")
	})

	t.Run("stdio transport needs a command", func(t *testing.T) {
		t.Setenv("MEDRAG_RECORDS_TRANSPORT", "mcp-stdio")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "records.mcp_command")
	})
}

func TestResolvedAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	assert.Equal(t, "explicit", LLMConfig{Provider: "claude", APIKey: "explicit"}.ResolvedAPIKey())
	assert.Equal(t, "sk-ant", LLMConfig{Provider: "claude"}.ResolvedAPIKey())
	assert.Empty(t, LLMConfig{Provider: "unknown"}.ResolvedAPIKey())
}

func TestRecordsOperationTimeout(t *testing.T) {
	cfg := RecordsConfig{Timeout: 30 * time.Second, MaxAttempts: 3, MaxBackoff: 5 * time.Second}
	assert.Equal(t, 100*time.Second, cfg.OperationTimeout())
	assert.Greater(t, cfg.OperationTimeout(), cfg.Timeout)

	cfg.MaxAttempts = 0
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout())
}
