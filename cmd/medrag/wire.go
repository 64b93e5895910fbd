package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sweetpotato0/medrag/agent"
	"github.com/sweetpotato0/medrag/audit"
	"github.com/sweetpotato0/medrag/citation"
	"github.com/sweetpotato0/medrag/config"
	mongoaudit "github.com/sweetpotato0/medrag/contrib/audit/mongo"
	openaiemb "github.com/sweetpotato0/medrag/contrib/embedder/openai"
	"github.com/sweetpotato0/medrag/contrib/provider/claude"
	"github.com/sweetpotato0/medrag/contrib/provider/gemini"
	openaiprov "github.com/sweetpotato0/medrag/contrib/provider/openai"
	"github.com/sweetpotato0/medrag/contrib/retrieval/hybrid"
	"github.com/sweetpotato0/medrag/contrib/session/inmemory"
	"github.com/sweetpotato0/medrag/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/medrag/contrib/vector/pg"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/mcp"
	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/middleware/enricher"
	"github.com/sweetpotato0/medrag/middleware/errorhandler"
	"github.com/sweetpotato0/medrag/middleware/limiter"
	"github.com/sweetpotato0/medrag/middleware/logger"
	"github.com/sweetpotato0/medrag/middleware/validator"
	"github.com/sweetpotato0/medrag/orchestrator"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/pkg/telemetry"
	"github.com/sweetpotato0/medrag/quality"
	"github.com/sweetpotato0/medrag/rag"
	"github.com/sweetpotato0/medrag/rag/chunking"
	"github.com/sweetpotato0/medrag/rag/ingest"
	"github.com/sweetpotato0/medrag/rag/retriever"
	"github.com/sweetpotato0/medrag/rag/tokenizer"
	"github.com/sweetpotato0/medrag/records"
	"github.com/sweetpotato0/medrag/server"
	"github.com/sweetpotato0/medrag/session"
	sessionstore "github.com/sweetpotato0/medrag/session/store"
	"github.com/sweetpotato0/medrag/vector"
)

// version is reported by the HTTP and MCP surfaces.
var version = "0.1.0"

// mcpTerminateTimeout is how long a stdio records server gets to exit after
// its stdin closes.
const mcpTerminateTimeout = 5 * time.Second

// App holds the wired subsystems and releases them on Close.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Manager
	Chain        *middleware.Chain
	Invoker      records.Invoker
	Indexer      retriever.Indexer
	Checks       map[string]server.HealthCheck

	closers []func() error
	logger  *slog.Logger
}

// wireOptions trims the graph for commands that need less of it.
type wireOptions struct {
	// skipCorpus leaves an in-memory index empty instead of loading
	// retrieval.corpus_dir at startup.
	skipCorpus bool
	// rateLimit adds the per-caller limiter to the chain.
	rateLimit bool
}

// Wire builds every subsystem named by cfg. On error the parts already
// created are closed.
func Wire(ctx context.Context, cfg *config.Config, wo wireOptions) (_ *App, err error) {
	app := &App{
		Config: cfg,
		Checks: make(map[string]server.HealthCheck),
		logger: logging.WithComponent("wire"),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "initializing telemetry")
	}
	app.onClose(func() error { return shutdown(context.Background()) })

	// 1. Language models: the router and record assistant share one client,
	// grounded synthesis gets its own at a lower temperature.
	routerLLM, err := app.newLLM(ctx, cfg.LLM, cfg.LLM.Temperature)
	if err != nil {
		return nil, err
	}
	synthLLM, err := app.newLLM(ctx, cfg.LLM, cfg.Synthesis.Temperature)
	if err != nil {
		return nil, err
	}

	// 2. Document retrieval.
	searcher, err := app.wireRetrieval(ctx, cfg, synthLLM, wo)
	if err != nil {
		return nil, err
	}

	// 3. Structured records.
	assistant, err := app.wireRecords(ctx, cfg, routerLLM)
	if err != nil {
		return nil, err
	}

	// 4. Audit trail.
	recorder, err := app.wireAudit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 5. Orchestrator.
	orchOpts := []orchestrator.Option{
		orchestrator.WithTopK(cfg.Retrieval.TopK),
		orchestrator.WithMaxRounds(cfg.Orchestrator.MaxRounds),
		orchestrator.WithHistoryWindow(cfg.Orchestrator.HistoryWindow),
		orchestrator.WithTimeouts(cfg.LLM.Timeout, cfg.Orchestrator.ToolTimeout),
		orchestrator.WithRecorder(recorder),
		orchestrator.WithReconciler(sourceReconciler()),
	}
	if searcher != nil {
		orchOpts = append(orchOpts, orchestrator.WithDocumentSearcher(searcher))
	}
	if assistant != nil {
		orchOpts = append(orchOpts, orchestrator.WithRecordsAssistant(assistant))
	}
	if cfg.Orchestrator.ParallelTools {
		orchOpts = append(orchOpts, orchestrator.WithParallelTools(4))
	}
	evalOpts := []quality.Option{quality.WithTimeout(cfg.Quality.Timeout)}
	if cfg.Quality.Judge {
		evalOpts = append(evalOpts, quality.WithJudge(routerLLM))
	}
	orchOpts = append(orchOpts, orchestrator.WithEvaluator(quality.NewEvaluator(evalOpts...), cfg.Orchestrator.Evaluate))
	app.Orchestrator = orchestrator.New(routerLLM, orchOpts...)

	// 6. Sessions.
	app.wireSessions(cfg)

	// 7. Middleware chain in front of every query surface.
	app.Chain = middleware.NewChain(
		errorhandler.NewErrorHandler(errorhandler.Classify()),
		logger.NewRequestLogger(logging.WithComponent("query")),
		enricher.NewContextEnricher(enricher.RequestID(), enricher.Defaults(cfg.Retrieval.TopK, false)),
		validator.NewInputValidator(
			validator.NonEmpty(),
			validator.MaxLength(cfg.Server.MaxQueryLength),
			validator.TopKRange(50),
			validator.HistoryRoles(),
		),
	)
	if wo.rateLimit {
		app.Chain.Add(limiter.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst))
	}

	app.logger.Info("medrag wired",
		"provider", cfg.LLM.Provider,
		"retrieval", cfg.Retrieval.Backend,
		"records", cfg.Records.Transport,
		"sessions", cfg.Session.Backend,
		"audit", cfg.Audit.Backend,
		"tools", app.Orchestrator.Tools())
	return app, nil
}

// Pipeline runs the middleware chain in front of the orchestrator for
// stateless surfaces.
func (a *App) Pipeline() *middleware.Pipeline {
	return middleware.NewPipeline(a.Chain, a.Orchestrator)
}

// Close releases resources in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) newLLM(ctx context.Context, cfg config.LLMConfig, temperature float64) (agent.LLMClient, error) {
	key := cfg.ResolvedAPIKey()
	switch cfg.Provider {
	case "claude":
		return claude.New(&claude.Config{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: temperature,
		}), nil
	case "gemini":
		p, err := gemini.New(ctx, &gemini.Config{
			APIKey:      key,
			Model:       cfg.Model,
			MaxTokens:   int32(cfg.MaxTokens),
			Temperature: float32(temperature),
		})
		if err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "creating gemini provider")
		}
		a.onClose(p.Close)
		return p, nil
	default:
		return openaiprov.New(&openaiprov.Config{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   int64(cfg.MaxTokens),
			Temperature: temperature,
		}), nil
	}
}

func (a *App) wireRetrieval(ctx context.Context, cfg *config.Config, llm agent.LLMClient, wo wireOptions) (*rag.Searcher, error) {
	var emb vector.Embedder
	if cfg.Embedding.Enabled && cfg.Embedding.APIKey != "" {
		emb = openaiemb.New(openaiemb.Config{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	} else if cfg.Embedding.Enabled {
		a.logger.Warn("no embedding api key, document search is keyword only")
	}

	var tok tokenizer.Tokenizer = tokenizer.NewSimpleTokenizer()
	if t, err := tiktoken.New(cfg.Synthesis.Encoding); err == nil {
		tok = t
	} else {
		a.logger.Warn("tiktoken encoding unavailable, using approximate token counts",
			"encoding", cfg.Synthesis.Encoding, "error", err)
	}

	var chunker chunking.Chunker = chunking.NewSimpleChunker()
	if cfg.Retrieval.ChunkTokens > 0 {
		chunker = chunking.NewTokenChunker(tok, cfg.Retrieval.ChunkTokens, cfg.Retrieval.ChunkOverlapTokens)
	}

	var (
		r   retriever.Retriever
		idx retriever.Indexer
	)
	switch cfg.Retrieval.Backend {
	case "postgres":
		store, err := pg.New(ctx, pg.Config{
			DSN:       cfg.Retrieval.Postgres.DSN,
			Dimension: cfg.Embedding.Dimension,
			TableName: cfg.Retrieval.Postgres.Table,
		})
		if err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "connecting to postgres")
		}
		a.onClose(store.Close)
		a.Checks["postgres"] = func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}
		vr := retriever.New(store, emb, retriever.WithChunker(chunker))
		r, idx = vr, vr
	default:
		engine := hybrid.New(nil, emb, hybrid.WithChunker(chunker))
		r, idx = engine, engine
		if cfg.Retrieval.CorpusDir != "" && !wo.skipCorpus {
			if _, _, err := ingest.IndexDir(ctx, engine, cfg.Retrieval.CorpusDir); err != nil {
				return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "indexing corpus",
					medragerr.Field("dir", cfg.Retrieval.CorpusDir))
			}
		}
	}
	a.Indexer = idx

	synth := rag.NewSynthesizer(llm, rag.WithContextBudget(tok, cfg.Synthesis.MaxContextTokens))
	return rag.NewSearcher(r, synth,
		rag.WithTopK(cfg.Retrieval.TopK),
		rag.WithReconciler(sourceReconciler())), nil
}

// sourceReconciler recognizes PDFs plus every file type the indexer loads,
// so locally indexed documents are cited by name.
func sourceReconciler() *citation.Reconciler {
	return citation.New(append([]string{".pdf"}, ingest.SupportedExtensions...)...)
}

func (a *App) wireRecords(ctx context.Context, cfg *config.Config, llm agent.LLMClient) (*records.Assistant, error) {
	inv, err := a.recordsInvoker(ctx, cfg.Records)
	if inv == nil || err != nil {
		return nil, err
	}
	return records.NewAssistant(inv, llm,
		records.WithMaxRounds(cfg.Orchestrator.RecordsMaxRounds),
		records.WithHistoryWindow(cfg.Orchestrator.RecordsHistoryWindow),
		records.WithTimeouts(cfg.LLM.Timeout, cfg.Records.OperationTimeout()),
	), nil
}

// WireRecords connects only the record service, for commands that query it
// directly without a language model.
func WireRecords(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{
		Config: cfg,
		Checks: make(map[string]server.HealthCheck),
		logger: logging.WithComponent("wire"),
	}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()
	if _, err := app.recordsInvoker(ctx, cfg.Records); err != nil {
		return nil, err
	}
	if app.Invoker == nil {
		return nil, medragerr.New(medragerr.CodeCLISetupFailure, "records.transport is none")
	}
	return app, nil
}

// recordsInvoker connects the configured record transport, sets a.Invoker
// and registers its health check. It returns nil when records are disabled.
func (a *App) recordsInvoker(ctx context.Context, cfg config.RecordsConfig) (records.Invoker, error) {
	switch cfg.Transport {
	case "none":
		return nil, nil
	case "mcp", "mcp-stdio":
		inv, err := a.connectRecordsMCP(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Invoker = inv
	default:
		a.Invoker = records.NewClient(records.Config{
			BaseURL:        cfg.BaseURL,
			Timeout:        cfg.Timeout,
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		})
	}

	inv := a.Invoker
	a.Checks["records"] = func(ctx context.Context) error {
		_, err := records.ListDoctors(ctx, inv)
		return err
	}
	return inv, nil
}

func (a *App) connectRecordsMCP(ctx context.Context, cfg config.RecordsConfig) (*mcp.RecordsInvoker, error) {
	opts := []mcp.Option{
		mcp.WithClientInfo("medrag", version),
		mcp.WithKeepAlive(cfg.MCPKeepAlive),
	}
	var (
		client *mcp.Client
		err    error
		target string
	)
	if cfg.Transport == "mcp-stdio" {
		target = cfg.MCPCommand
		opts = append(opts,
			mcp.WithCommandArgs(cfg.MCPArgs...),
			mcp.WithCommandEnv(cfg.MCPEnv...),
			mcp.WithCommandDir(cfg.MCPDir),
			mcp.WithTerminateTimeout(mcpTerminateTimeout))
		client, err = mcp.NewStdioClient(ctx, cfg.MCPCommand, opts...)
	} else {
		target = cfg.MCPEndpoint
		client, err = mcp.NewStreamableClient(ctx, cfg.MCPEndpoint, opts...)
	}
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "connecting to records mcp server",
			medragerr.Field("target", target))
	}
	a.onClose(client.Close)

	inv := mcp.NewRecordsInvoker(client)
	if err := inv.Verify(ctx); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "records mcp server",
			medragerr.Field("target", target))
	}
	if info := client.ServerInfo(); info != nil {
		a.logger.Info("records mcp server connected", "server", info.Name, "version", info.Version, "transport", cfg.Transport)
	}
	go inv.Watch(ctx, nil)
	return inv, nil
}

func (a *App) wireAudit(ctx context.Context, cfg *config.Config) (audit.Recorder, error) {
	switch cfg.Audit.Backend {
	case "none":
		return nil, nil
	case "mongo":
		rec, err := mongoaudit.New(ctx, mongoaudit.Config{
			URI:        cfg.Audit.Mongo.URI,
			Database:   cfg.Audit.Mongo.Database,
			Collection: cfg.Audit.Mongo.Collection,
		})
		if err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeCLISetupFailure, "connecting to mongodb")
		}
		a.onClose(func() error { return rec.Close(context.Background()) })
		a.Checks["mongo"] = rec.Ping
		return rec, nil
	default:
		return audit.NewLogRecorder(logging.WithComponent("audit")), nil
	}
}

func (a *App) wireSessions(cfg *config.Config) {
	var store session.Store
	switch cfg.Session.Backend {
	case "redis":
		rs := sessionstore.NewRedisStore(sessionstore.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			TTL:      cfg.Session.Redis.TTL,
		})
		a.onClose(rs.Close)
		a.Checks["redis"] = rs.Ping
		store = rs
	default:
		store = inmemory.New()
	}
	a.Sessions = session.NewManager(store, a.Orchestrator, session.WithMaxTurns(cfg.Session.MaxTurns))
}
