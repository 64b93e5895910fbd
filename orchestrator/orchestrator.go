// Package orchestrator routes a user query to document search, structured
// record queries or a direct reply and packages a single answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/medrag/agent"
	"github.com/sweetpotato0/medrag/audit"
	"github.com/sweetpotato0/medrag/citation"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/pkg/telemetry"
	"github.com/sweetpotato0/medrag/rag"
	"github.com/sweetpotato0/medrag/records"
)

// Fallback answers.
const (
	NoAnswer    = "I cannot help you with that query."
	ErrorAnswer = "I apologize, but I encountered an error processing your request. Please try again."
)

// DefaultHistoryWindow is the number of prior turns the router sees.
const DefaultHistoryWindow = 10

// Evaluator scores an answer against its retrieved context. It must not
// panic or fail; problems are reported under an "error" key.
type Evaluator interface {
	Evaluate(ctx context.Context, query, answer, evidence string) map[string]any
}

// QueryOptions tune a single ProcessQuery call.
type QueryOptions struct {
	// TopK is the default passage count for document searches.
	TopK int `json:"top_k,omitempty"`
	// CallerID is forwarded to the record service.
	CallerID string `json:"caller_id,omitempty"`
	// SessionID only labels logs and audit entries.
	SessionID string `json:"session_id,omitempty"`
	// Evaluate requests quality metrics for this query.
	Evaluate bool `json:"evaluate,omitempty"`
}

// PipelineResult is the outcome of one ProcessQuery call.
type PipelineResult struct {
	Answer         string                   `json:"answer"`
	ToolsUsed      []string                 `json:"tools_used"`
	Sources        []citation.EvidenceChunk `json:"sources"`
	Debug          map[string]any           `json:"debug"`
	LatencyMS      int64                    `json:"latency_ms"`
	QualityMetrics map[string]any           `json:"quality_metrics,omitempty"`
}

// SourceNames returns the unique normalized sources of the result in order.
func (r *PipelineResult) SourceNames() []string {
	return citation.UniqueSources(r.Sources)
}

type options struct {
	searcher      DocumentSearcher
	assistant     RecordsAssistant
	evaluator     Evaluator
	evaluateAll   bool
	recorder      audit.Recorder
	reconciler    *citation.Reconciler
	topK          int
	maxRounds     int
	historyWindow int
	llmTimeout    time.Duration
	toolTimeout   time.Duration
	parallel      int
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*options)

// WithDocumentSearcher offers the search_documents tool.
func WithDocumentSearcher(s DocumentSearcher) Option {
	return func(o *options) { o.searcher = s }
}

// WithRecordsAssistant offers the query_structured_records tool.
func WithRecordsAssistant(a RecordsAssistant) Option {
	return func(o *options) { o.assistant = a }
}

// WithEvaluator enables quality metrics. With always set every query is
// evaluated, otherwise only those requesting it.
func WithEvaluator(e Evaluator, always bool) Option {
	return func(o *options) {
		o.evaluator = e
		o.evaluateAll = always
	}
}

// WithRecorder records an audit entry per query.
func WithRecorder(r audit.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithReconciler overrides the citation reconciler.
func WithReconciler(r *citation.Reconciler) Option {
	return func(o *options) {
		if r != nil {
			o.reconciler = r
		}
	}
}

// WithTopK sets the default passage count.
func WithTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithMaxRounds caps the router's tool rounds.
func WithMaxRounds(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithHistoryWindow sets how many prior turns the router sees.
func WithHistoryWindow(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.historyWindow = n
		}
	}
}

// WithTimeouts bounds each model call and each tool call.
func WithTimeouts(llm, tool time.Duration) Option {
	return func(o *options) {
		o.llmTimeout = llm
		o.toolTimeout = tool
	}
}

// WithParallelTools dispatches the calls of a round with up to n workers.
func WithParallelTools(n int) Option {
	return func(o *options) { o.parallel = n }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator is the tool router. It keeps no per-query state and is safe
// for concurrent use.
type Orchestrator struct {
	agent      *agent.Agent
	evaluator  Evaluator
	evalAll    bool
	recorder   audit.Recorder
	reconciler *citation.Reconciler
	topK       int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New builds an Orchestrator over llm. Only the tools whose collaborator is
// configured are offered to the model.
func New(llm agent.LLMClient, opts ...Option) *Orchestrator {
	o := options{
		reconciler:    citation.Default,
		topK:          rag.DefaultTopK,
		maxRounds:     agent.DefaultMaxRounds,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("orchestrator")
	}

	agentOpts := []agent.Option{
		agent.WithName("orchestrator"),
		agent.WithProvider(llm),
		agent.WithTools(registry(o.searcher, o.assistant)),
		agent.WithSystemPrompt(systemPrompt(o.searcher != nil, o.assistant != nil)),
		agent.WithMaxRounds(o.maxRounds),
		agent.WithHistoryWindow(o.historyWindow),
		agent.WithParallelTools(o.parallel),
		agent.WithLogger(o.logger.With("agent", "orchestrator")),
	}
	if o.llmTimeout > 0 {
		agentOpts = append(agentOpts, agent.WithLLMTimeout(o.llmTimeout))
	}
	if o.toolTimeout > 0 {
		agentOpts = append(agentOpts, agent.WithToolTimeout(o.toolTimeout))
	}

	return &Orchestrator{
		agent:      agent.New(agentOpts...),
		evaluator:  o.evaluator,
		evalAll:    o.evaluateAll,
		recorder:   o.recorder,
		reconciler: o.reconciler,
		topK:       o.topK,
		logger:     o.logger,
		tracer:     telemetry.Tracer("orchestrator"),
	}
}

// Tools lists the names of the tools offered to the model.
func (o *Orchestrator) Tools() []string {
	specs := o.agent.Tools().Specs()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// ProcessQuery answers query in the context of history. It never fails:
// collaborator errors are fed back to the model, and anything else yields
// the apology answer with the cause under debug["error"].
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, history []*message.Message, opts QueryOptions) *PipelineResult {
	start := time.Now()
	if opts.TopK <= 0 {
		opts.TopK = o.topK
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_query", trace.WithAttributes(
		attribute.String("session.id", opts.SessionID),
		attribute.Int("query.top_k", opts.TopK),
	))

	logger := o.logger.With("session_id", opts.SessionID)
	logger.Info("processing query", "query", logging.Trim(query, 200), "history", len(history))

	state := NewAggregationState()
	run, answer, err := o.route(ctx, state, query, history, opts)

	rounds, capReached := 0, false
	if run != nil {
		rounds, capReached = run.Rounds, run.CapReached
	}

	result := &PipelineResult{ToolsUsed: state.ToolsUsed, Debug: state.Debug}
	outcome := outcomeDirect
	if len(state.ToolsUsed) > 0 {
		outcome = outcomeTools
	}
	if err != nil {
		outcome = outcomeError
		state.Debug["error"] = "Error processing query: " + err.Error()
		if _, ok := state.Debug["traceback"]; !ok {
			state.Debug["traceback"] = fmt.Sprintf("%+v", err)
		}
		result.Answer = ErrorAnswer
		result.Sources = []citation.EvidenceChunk{}
		logger.Error("query failed", "error", err, "tools_used", state.ToolsUsed)
	} else {
		result.Answer = answer
		result.Sources = state.Chunks
		if o.shouldEvaluate(opts) {
			result.QualityMetrics = o.evaluate(ctx, query, answer, state)
		}
	}
	state.Debug["tool_calls_made"] = len(state.ToolsUsed)
	state.Debug["direct_response"] = len(state.ToolsUsed) == 0

	latency := time.Since(start)
	result.LatencyMS = latency.Milliseconds()
	recordQuery(outcome, latency, rounds, capReached)

	span.SetAttributes(
		attribute.Int("orchestrator.rounds", rounds),
		attribute.Int("orchestrator.tool_calls", len(state.ToolsUsed)),
		attribute.Bool("orchestrator.round_cap_reached", capReached),
	)
	telemetry.End(span, err)

	logger.Info("query processed",
		"latency_ms", result.LatencyMS,
		"tools_used", result.ToolsUsed,
		"sources", state.Sources.Len(),
		"rounds", rounds,
	)
	o.audit(ctx, query, opts, result, err)
	return result
}

// route runs the tool loop and folds its results. Panics are converted to
// errors with the stack captured in the debug map.
func (o *Orchestrator) route(ctx context.Context, state *AggregationState, query string, history []*message.Message, opts QueryOptions) (run *agent.Run, answer string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			state.Debug["traceback"] = string(debug.Stack())
			err = medragerr.Errorf(medragerr.CodeOrchestratorFailure, "panic: %v", rec)
		}
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, "", medragerr.New(medragerr.CodeOrchestratorInvalidArgs, "query must not be empty")
	}
	if opts.CallerID != "" {
		ctx = records.WithCallerID(ctx, opts.CallerID)
	}
	ctx = withScope(ctx, &scope{query: query, history: history, opts: opts})

	run, err = o.agent.Run(ctx, history, query)
	if run != nil {
		for i, res := range run.Results {
			var call message.ToolCall
			if i < len(run.Calls) {
				call = run.Calls[i]
			}
			state.Fold(call, res)
			recordToolCall(call.Name, res != nil && res.Success)
		}
		state.Debug["rounds"] = run.Rounds
		if run.CapReached {
			state.Debug["round_cap_reached"] = true
		}
	}
	if err != nil {
		return run, "", err
	}

	answer = strings.TrimSpace(run.Answer)
	if answer == "" {
		answer = NoAnswer
	}
	if len(state.Chunks) > 0 {
		var cited []string
		answer, cited = o.reconciler.Reconcile(answer, state.Chunks)
		state.Debug["citations"] = cited
	}
	return run, answer, nil
}

func (o *Orchestrator) shouldEvaluate(opts QueryOptions) bool {
	return o.evaluator != nil && (opts.Evaluate || o.evalAll)
}

func (o *Orchestrator) evaluate(ctx context.Context, query, answer string, state *AggregationState) (metrics map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics = map[string]any{"error": fmt.Sprintf("evaluation panicked: %v", rec)}
			state.Debug["quality_error"] = metrics["error"]
		}
	}()

	contents := make([]string, 0, len(state.Chunks))
	for _, c := range state.Chunks {
		contents = append(contents, c.Content)
	}
	metrics = o.evaluator.Evaluate(ctx, query, answer, strings.Join(contents, "\n\n"))
	if msg, ok := metrics["error"]; ok {
		state.Debug["quality_error"] = msg
	}
	return metrics
}

func (o *Orchestrator) audit(ctx context.Context, query string, opts QueryOptions, result *PipelineResult, runErr error) {
	if o.recorder == nil {
		return
	}
	entry := audit.Entry{
		SessionID: opts.SessionID,
		CallerID:  opts.CallerID,
		Query:     query,
		Answer:    result.Answer,
		ToolsUsed: result.ToolsUsed,
		Sources:   result.SourceNames(),
		LatencyMS: result.LatencyMS,
		Quality:   result.QualityMetrics,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Warn("audit record failed", "error", err)
	}
}
