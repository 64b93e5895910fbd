package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/pkg/telemetry"
	"github.com/sweetpotato0/medrag/runner"
	"github.com/sweetpotato0/medrag/tool"
)

// DefaultMaxRounds bounds the decide/execute cycles of a single Run.
const DefaultMaxRounds = 5

// LLMClient defines the interface for LLM providers
type LLMClient interface {
	// Generate returns the model's next assistant turn. When tools are
	// offered the reply may carry tool calls instead of (or next to) content.
	Generate(ctx context.Context, messages []*message.Message, tools []tool.Spec) (*message.Message, error)
}

// Agent runs a bounded tool-calling loop against an LLMClient.
// An Agent holds no per-conversation state and is safe for concurrent Runs.
type Agent struct {
	name          string
	systemPrompt  string
	maxRounds     int
	historyWindow int
	llmTimeout    time.Duration
	toolTimeout   time.Duration
	parallel      *runner.ParallelRunner
	llm           LLMClient
	tools         *tool.Registry
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option is a function that configures an Agent
type Option func(*Agent)

// WithName sets the agent name
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithSystemPrompt sets the system prompt
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMaxRounds sets the maximum number of rounds that may execute tools
// before a final answer is forced.
func WithMaxRounds(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxRounds = max
		}
	}
}

// WithHistoryWindow sets how many prior user/assistant turns are replayed.
func WithHistoryWindow(n int) Option {
	return func(a *Agent) {
		a.historyWindow = n
	}
}

// WithProvider sets the LLM provider
func WithProvider(provider LLMClient) Option {
	return func(a *Agent) {
		a.llm = provider
	}
}

// WithTools sets the tool registry offered to the model
func WithTools(registry *tool.Registry) Option {
	return func(a *Agent) {
		if registry != nil {
			a.tools = registry
		}
	}
}

// WithLLMTimeout bounds each model call.
func WithLLMTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.llmTimeout = d
	}
}

// WithToolTimeout bounds each tool invocation.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.toolTimeout = d
	}
}

// WithParallelTools dispatches the calls of one round concurrently with at
// most n workers. Results are still appended in the model's order.
func WithParallelTools(n int) Option {
	return func(a *Agent) {
		if n > 1 {
			a.parallel = runner.NewParallelRunner(n)
		} else {
			a.parallel = nil
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a new agent with the given options
func New(opts ...Option) *Agent {
	agent := &Agent{
		name:          "agent",
		systemPrompt:  "You are a helpful AI assistant.",
		maxRounds:     DefaultMaxRounds,
		historyWindow: 10,
		tools:         tool.NewRegistry(),
		tracer:        otel.Tracer("github.com/sweetpotato0/medrag/agent"),
	}
	for _, opt := range opts {
		opt(agent)
	}
	if agent.logger == nil {
		agent.logger = logging.WithComponent("agent").With("agent", agent.name)
	}
	return agent
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// MaxRounds returns the round cap.
func (a *Agent) MaxRounds() int { return a.maxRounds }

// Tools returns the registry offered to the model.
func (a *Agent) Tools() *tool.Registry { return a.tools }

// Run is the outcome of one Agent.Run.
type Run struct {
	// Answer is the content of the model's final turn.
	Answer string
	// Calls holds every dispatched tool call; Calls[i] produced Results[i].
	Calls []message.ToolCall
	// Results holds every tool result in execution order.
	Results []*tool.Result
	// Rounds counts the rounds that executed tools.
	Rounds int
	// ModelCalls counts every call made to the model.
	ModelCalls int
	// CapReached is set when the loop was cut off by the round cap.
	CapReached bool
	// Transcript is the message list as last sent to the model, plus the final turn.
	Transcript []*message.Message
}

// Run executes the decide/execute loop for input on top of history.
// History is never modified. On a model failure the partial Run is returned
// together with the error.
func (a *Agent) Run(ctx context.Context, history []*message.Message, input string) (*Run, error) {
	if a.llm == nil {
		return nil, medragerr.New(medragerr.CodeAgentLoopInvalidInput, "agent has no LLM provider")
	}

	msgs := make([]*message.Message, 0, len(history)+4)
	if a.systemPrompt != "" {
		msgs = append(msgs, message.NewMessage(message.RoleSystem, a.systemPrompt))
	}
	msgs = append(msgs, message.Window(history, a.historyWindow)...)
	msgs = append(msgs, message.NewMessage(message.RoleUser, input))

	run := &Run{}
	specs := a.tools.Specs()

	for {
		offer := specs
		if run.Rounds >= a.maxRounds {
			run.CapReached = len(specs) > 0
			offer = nil
		}

		resp, err := a.generate(ctx, msgs, offer, run.ModelCalls+1)
		run.ModelCalls++
		if err != nil {
			run.Transcript = msgs
			return run, err
		}

		if len(resp.ToolCalls) == 0 || offer == nil {
			final := message.Clone(resp)
			final.ToolCalls = nil
			final.Role = message.RoleAssistant
			run.Answer = final.Content
			run.Transcript = append(msgs, final)
			if run.CapReached {
				a.logger.Warn("round cap reached, answered without tools", "rounds", run.Rounds)
			}
			return run, nil
		}

		run.Rounds++
		calls := withCallIDs(resp.ToolCalls)
		turn := message.NewToolCallMessage(resp.Content, calls)
		msgs = append(msgs, turn)

		results := a.dispatch(ctx, calls)
		for i, res := range results {
			msgs = append(msgs, message.NewToolResponseMessage(calls[i].ID, calls[i].Name, res.Content()))
		}
		run.Calls = append(run.Calls, calls...)
		run.Results = append(run.Results, results...)
	}
}

func (a *Agent) generate(ctx context.Context, msgs []*message.Message, specs []tool.Spec, call int) (*message.Message, error) {
	ctx, span := a.tracer.Start(ctx, "agent.round", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.Int("agent.model_call", call),
		attribute.Int("agent.tools_offered", len(specs)),
	))
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llm.Generate(ctx, msgs, specs)
	if err == nil && resp == nil {
		err = medragerr.New(medragerr.CodeProviderResponseInvalid, "LLM returned no message")
	}
	if err != nil {
		err = medragerr.Wrapf(err, medragerr.CodeAgentLoopFailure, "%s: LLM generation failed", a.name)
	}
	telemetry.End(span, err)
	return resp, err
}

func (a *Agent) dispatch(ctx context.Context, calls []message.ToolCall) []*tool.Result {
	if a.parallel == nil || len(calls) < 2 {
		results := make([]*tool.Result, len(calls))
		for i, call := range calls {
			results[i] = a.execute(ctx, call)
		}
		return results
	}

	tasks := make([]*runner.Task, len(calls))
	for i, call := range calls {
		tasks[i] = &runner.Task{
			ID: call.ID,
			Fn: func(ctx context.Context) (any, error) {
				return a.execute(ctx, call), nil
			},
		}
	}
	out := a.parallel.RunParallel(ctx, tasks)
	results := make([]*tool.Result, len(calls))
	for i, r := range out {
		res, ok := r.Output.(*tool.Result)
		if !ok || res == nil {
			err := r.Error
			if err == nil {
				err = fmt.Errorf("tool %s produced no result", calls[i].Name)
			}
			res = &tool.Result{ToolName: calls[i].Name, CallID: calls[i].ID, Error: err.Error(), Err: err}
		}
		results[i] = res
	}
	return results
}

func (a *Agent) execute(ctx context.Context, call message.ToolCall) *tool.Result {
	ctx, span := a.tracer.Start(ctx, "agent.tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
	if a.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.toolTimeout)
		defer cancel()
	}

	start := time.Now()
	res := a.tools.Execute(ctx, call)
	if res.Success {
		a.logger.Debug("tool completed", "tool", call.Name, "duration", time.Since(start))
	} else {
		a.logger.Warn("tool failed", "tool", call.Name, "error", res.Error, "duration", time.Since(start))
	}
	telemetry.End(span, res.Err)
	return res
}

func withCallIDs(calls []message.ToolCall) []message.ToolCall {
	out := make([]message.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + message.NewID()
		}
		out[i] = call
	}
	return out
}
