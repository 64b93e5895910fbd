// Package config loads medrag settings from defaults, an optional YAML file
// and MEDRAG_ environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEDRAG"

// Config is the top-level medrag configuration.
type Config struct {
	LLM          LLMConfig          `mapstructure:"llm"`
	Synthesis    SynthesisConfig    `mapstructure:"synthesis"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	Records      RecordsConfig      `mapstructure:"records"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Quality      QualityConfig      `mapstructure:"quality"`
	Session      SessionConfig      `mapstructure:"session"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Server       ServerConfig       `mapstructure:"server"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// LLMConfig selects the chat model used for routing and synthesis.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SynthesisConfig tunes the grounded answer call.
type SynthesisConfig struct {
	Temperature      float64 `mapstructure:"temperature"`
	MaxContextTokens int     `mapstructure:"max_context_tokens"`
	Encoding         string  `mapstructure:"encoding"`
}

// EmbeddingConfig configures the embeddings endpoint. With Enabled false
// retrieval falls back to keyword search.
type EmbeddingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// RetrievalConfig selects the passage store.
type RetrievalConfig struct {
	Backend   string `mapstructure:"backend"`
	TopK      int    `mapstructure:"top_k"`
	CorpusDir string `mapstructure:"corpus_dir"`

	// ChunkTokens switches indexing to model-token windows. Zero keeps the
	// paragraph chunker.
	ChunkTokens        int `mapstructure:"chunk_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens"`

	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig points at a pgvector database.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RecordsConfig configures the structured-data client.
type RecordsConfig struct {
	Transport      string        `mapstructure:"transport"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MCPEndpoint    string        `mapstructure:"mcp_endpoint"`

	// MCPCommand launches a records MCP server over stdio when Transport is
	// "mcp-stdio".
	MCPCommand   string        `mapstructure:"mcp_command"`
	MCPArgs      []string      `mapstructure:"mcp_args"`
	MCPEnv       []string      `mapstructure:"mcp_env"`
	MCPDir       string        `mapstructure:"mcp_dir"`
	MCPKeepAlive time.Duration `mapstructure:"mcp_keepalive"`
}

// OperationTimeout bounds one record operation end to end: every attempt
// may use its full Timeout and the waits between attempts never exceed
// MaxBackoff.
func (c RecordsConfig) OperationTimeout() time.Duration {
	attempts := max(c.MaxAttempts, 1)
	return time.Duration(attempts)*c.Timeout + time.Duration(attempts-1)*c.MaxBackoff
}

// OrchestratorConfig bounds the router and the records sub-loop.
type OrchestratorConfig struct {
	MaxRounds            int           `mapstructure:"max_rounds"`
	HistoryWindow        int           `mapstructure:"history_window"`
	RecordsHistoryWindow int           `mapstructure:"records_history_window"`
	RecordsMaxRounds     int           `mapstructure:"records_max_rounds"`
	ToolTimeout          time.Duration `mapstructure:"tool_timeout"`
	ParallelTools        bool          `mapstructure:"parallel_tools"`
	Evaluate             bool          `mapstructure:"evaluate"`
}

// QualityConfig controls the LLM judge behind quality metrics.
type QualityConfig struct {
	Judge   bool          `mapstructure:"judge"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig selects where conversation history lives.
type SessionConfig struct {
	Backend  string      `mapstructure:"backend"`
	MaxTurns int         `mapstructure:"max_turns"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis session store settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuditConfig selects the audit trail backend.
type AuditConfig struct {
	Backend string      `mapstructure:"backend"`
	Mongo   MongoConfig `mapstructure:"mongo"`
}

// MongoConfig holds the MongoDB audit settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen         string   `mapstructure:"listen"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	Burst          int      `mapstructure:"burst"`
	MaxQueryLength int      `mapstructure:"max_query_length"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	MountMCP       bool     `mapstructure:"mount_mcp"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	// Keys without a meaningful default are still registered so that
	// AutomaticEnv overrides reach Unmarshal.
	for _, key := range []string{
		"llm.api_key", "llm.base_url", "embedding.api_key", "embedding.base_url",
		"retrieval.corpus_dir", "retrieval.postgres.dsn", "records.mcp_endpoint",
		"records.mcp_command", "records.mcp_dir",
		"session.redis.password", "telemetry.environment", "telemetry.endpoint",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("synthesis.temperature", 0.2)
	v.SetDefault("synthesis.max_context_tokens", 6000)
	v.SetDefault("synthesis.encoding", "cl100k_base")

	v.SetDefault("embedding.enabled", true)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)

	v.SetDefault("retrieval.backend", "memory")
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.chunk_tokens", 0)
	v.SetDefault("retrieval.chunk_overlap_tokens", 32)
	v.SetDefault("retrieval.postgres.table", "documents")

	v.SetDefault("records.transport", "http")
	v.SetDefault("records.base_url", "http://127.0.0.1:8001")
	v.SetDefault("records.timeout", 30*time.Second)
	v.SetDefault("records.max_attempts", 3)
	v.SetDefault("records.initial_backoff", 200*time.Millisecond)
	v.SetDefault("records.max_backoff", 2*time.Second)
	v.SetDefault("records.mcp_args", []string{})
	v.SetDefault("records.mcp_env", []string{})
	v.SetDefault("records.mcp_keepalive", time.Duration(0))

	v.SetDefault("orchestrator.max_rounds", 5)
	v.SetDefault("orchestrator.history_window", 10)
	v.SetDefault("orchestrator.records_history_window", 6)
	v.SetDefault("orchestrator.records_max_rounds", 5)
	v.SetDefault("orchestrator.tool_timeout", 90*time.Second)
	v.SetDefault("orchestrator.parallel_tools", false)
	v.SetDefault("orchestrator.evaluate", false)

	v.SetDefault("quality.judge", true)
	v.SetDefault("quality.timeout", 60*time.Second)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.max_turns", 50)
	v.SetDefault("session.redis.addr", "localhost:6379")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.ttl", 24*time.Hour)

	v.SetDefault("audit.backend", "log")
	v.SetDefault("audit.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("audit.mongo.database", "medrag")
	v.SetDefault("audit.mongo.collection", "query_audit")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.max_query_length", 4000)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.mount_mcp", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "medrag")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// aliases are the conventional variable names honoured next to the MEDRAG_
// ones.
var aliases = map[string][]string{
	"embedding.api_key":      {"OPENAI_API_KEY"},
	"records.base_url":       {"FASTAPI_BASE_URL"},
	"retrieval.postgres.dsn": {"DATABASE_URL"},
	"audit.mongo.uri":        {"MONGODB_URI"},
	"telemetry.endpoint":     {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MEDRAG_).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, names...)...); err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeConfigLoadReadFailure, "binding environment", medragerr.Field("key", key))
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, medragerr.Wrapf(err, medragerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeConfigLoadReadFailure, "unmarshalling config")
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Retrieval.Backend = strings.ToLower(strings.TrimSpace(c.Retrieval.Backend))
	c.Records.Transport = strings.ToLower(strings.TrimSpace(c.Records.Transport))
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	c.Audit.Backend = strings.ToLower(strings.TrimSpace(c.Audit.Backend))
	c.Records.BaseURL = strings.TrimRight(c.Records.BaseURL, "/")
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first one.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("llm.provider", c.LLM.Provider, "openai", "claude", "gemini")
	v.RequireNonEmpty("llm.model", c.LLM.Model)
	v.ValidateFloatRange("llm.temperature", c.LLM.Temperature, 0, 2)
	v.RequirePositive("llm.max_tokens", c.LLM.MaxTokens)
	v.RequirePositiveDuration("llm.timeout", c.LLM.Timeout)
	v.OptionalURL("llm.base_url", c.LLM.BaseURL)

	v.ValidateFloatRange("synthesis.temperature", c.Synthesis.Temperature, 0, 2)
	v.RequirePositive("synthesis.max_context_tokens", c.Synthesis.MaxContextTokens)

	if c.Embedding.Enabled {
		v.RequireNonEmpty("embedding.model", c.Embedding.Model)
		v.ValidateRange("embedding.dimension", c.Embedding.Dimension, 1, 65535)
	}

	v.ValidateOneOf("retrieval.backend", c.Retrieval.Backend, "memory", "postgres")
	v.ValidateRange("retrieval.top_k", c.Retrieval.TopK, 1, 50)
	if c.Retrieval.ChunkTokens > 0 {
		v.ValidateRange("retrieval.chunk_overlap_tokens", c.Retrieval.ChunkOverlapTokens, 0, c.Retrieval.ChunkTokens-1)
	}
	if c.Retrieval.Backend == "postgres" {
		v.RequireNonEmpty("retrieval.postgres.dsn", c.Retrieval.Postgres.DSN)
		v.RequireNonEmpty("retrieval.postgres.table", c.Retrieval.Postgres.Table)
	}

	v.ValidateOneOf("records.transport", c.Records.Transport, "http", "mcp", "mcp-stdio", "none")
	switch c.Records.Transport {
	case "http":
		v.RequireURL("records.base_url", c.Records.BaseURL)
	case "mcp":
		v.RequireURL("records.mcp_endpoint", c.Records.MCPEndpoint)
	case "mcp-stdio":
		v.RequireNonEmpty("records.mcp_command", c.Records.MCPCommand)
	}
	if c.Records.MCPKeepAlive < 0 {
		v.RequirePositiveDuration("records.mcp_keepalive", c.Records.MCPKeepAlive)
	}
	v.RequirePositiveDuration("records.timeout", c.Records.Timeout)
	v.ValidateRange("records.max_attempts", c.Records.MaxAttempts, 1, 10)

	v.ValidateRange("orchestrator.max_rounds", c.Orchestrator.MaxRounds, 1, 20)
	v.RequirePositive("orchestrator.history_window", c.Orchestrator.HistoryWindow)
	v.RequirePositive("orchestrator.records_history_window", c.Orchestrator.RecordsHistoryWindow)
	v.ValidateRange("orchestrator.records_max_rounds", c.Orchestrator.RecordsMaxRounds, 1, 20)
	v.RequirePositiveDuration("orchestrator.tool_timeout", c.Orchestrator.ToolTimeout)

	v.ValidateOneOf("session.backend", c.Session.Backend, "memory", "redis")
	if c.Session.Backend == "redis" {
		v.RequireNonEmpty("session.redis.addr", c.Session.Redis.Addr)
		v.ValidateDBNumber("session.redis.db", c.Session.Redis.DB)
	}

	v.ValidateOneOf("audit.backend", c.Audit.Backend, "none", "log", "mongo")
	if c.Audit.Backend == "mongo" {
		v.RequireNonEmpty("audit.mongo.uri", c.Audit.Mongo.URI)
		v.RequireNonEmpty("audit.mongo.database", c.Audit.Mongo.Database)
		v.RequireNonEmpty("audit.mongo.collection", c.Audit.Mongo.Collection)
	}

	v.RequireListenAddr("server.listen", c.Server.Listen)
	v.RequirePositive("server.max_query_length", c.Server.MaxQueryLength)

	v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)

	return v.Error()
}

// ProviderKeyEnv names the conventional API key variable of each provider,
// consulted when llm.api_key is unset.
var ProviderKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// ResolvedAPIKey returns llm.api_key, falling back to the provider's
// conventional environment variable.
func (c LLMConfig) ResolvedAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if env, ok := ProviderKeyEnv[c.Provider]; ok {
		return os.Getenv(env)
	}
	return ""
}
