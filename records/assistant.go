package records

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sweetpotato0/medrag/agent"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/tool"
)

// SystemPrompt instructs the structured-data assistant.
const SystemPrompt = "You are a helpful assistant that can manage patient and doctor information. " +
	"Use the available tools to answer questions and fulfill requests."

// DefaultHistoryWindow is the number of prior turns the assistant sees.
const DefaultHistoryWindow = 6

// OperationCall records one record-service call made by the assistant.
type OperationCall struct {
	Name    string         `json:"name"`
	Args    map[string]any `json:"args"`
	Output  any            `json:"output"`
	Success bool           `json:"success"`
}

// Outcome is the assistant's answer plus every operation it ran.
type Outcome struct {
	Answer     string          `json:"answer"`
	Operations []OperationCall `json:"operations"`
	Rounds     int             `json:"rounds"`
	CapReached bool            `json:"cap_reached"`
}

// OperationNames lists the executed operation names in order.
func (o *Outcome) OperationNames() []string {
	names := make([]string, 0, len(o.Operations))
	for _, op := range o.Operations {
		names = append(names, op.Name)
	}
	return names
}

type assistantOptions struct {
	maxRounds     int
	historyWindow int
	llmTimeout    time.Duration
	toolTimeout   time.Duration
	logger        *slog.Logger
}

// AssistantOption customizes an Assistant.
type AssistantOption func(*assistantOptions)

// WithMaxRounds caps tool rounds per query.
func WithMaxRounds(n int) AssistantOption {
	return func(o *assistantOptions) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithHistoryWindow sets how many prior turns are passed to the model.
func WithHistoryWindow(n int) AssistantOption {
	return func(o *assistantOptions) {
		if n >= 0 {
			o.historyWindow = n
		}
	}
}

// WithTimeouts bounds each model call and each operation call.
func WithTimeouts(llm, tool time.Duration) AssistantOption {
	return func(o *assistantOptions) {
		o.llmTimeout = llm
		o.toolTimeout = tool
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) AssistantOption {
	return func(o *assistantOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Assistant answers natural-language record questions by letting the model
// call catalogue operations in a bounded loop.
type Assistant struct {
	agent *agent.Agent
}

// NewAssistant builds the assistant over an Invoker.
func NewAssistant(inv Invoker, llm agent.LLMClient, opts ...AssistantOption) *Assistant {
	o := assistantOptions{
		maxRounds:     agent.DefaultMaxRounds,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent("records")
	}

	agentOpts := []agent.Option{
		agent.WithName("records"),
		agent.WithSystemPrompt(SystemPrompt),
		agent.WithProvider(llm),
		agent.WithTools(Registry(inv)),
		agent.WithMaxRounds(o.maxRounds),
		agent.WithHistoryWindow(o.historyWindow),
		agent.WithLogger(o.logger.With("agent", "records")),
	}
	if o.llmTimeout > 0 {
		agentOpts = append(agentOpts, agent.WithLLMTimeout(o.llmTimeout))
	}
	if o.toolTimeout > 0 {
		agentOpts = append(agentOpts, agent.WithToolTimeout(o.toolTimeout))
	}
	return &Assistant{agent: agent.New(agentOpts...)}
}

// Query runs the loop for query. Operation failures are reported to the
// model, never returned; a model failure returns the partial Outcome with
// the error.
func (a *Assistant) Query(ctx context.Context, query string, history []*message.Message) (*Outcome, error) {
	run, err := a.agent.Run(ctx, history, query)
	if run == nil {
		return &Outcome{Operations: []OperationCall{}}, err
	}
	out := &Outcome{
		Answer:     run.Answer,
		Operations: make([]OperationCall, 0, len(run.Results)),
		Rounds:     run.Rounds,
		CapReached: run.CapReached,
	}
	for i, res := range run.Results {
		var call message.ToolCall
		if i < len(run.Calls) {
			call = run.Calls[i]
		}
		out.Operations = append(out.Operations, operationCall(call, res))
	}
	return out, err
}

func operationCall(call message.ToolCall, res *tool.Result) OperationCall {
	args, err := call.Args()
	if err != nil {
		args = map[string]any{"raw": call.Arguments}
	}
	op := OperationCall{Name: res.ToolName, Args: args, Success: res.Success}
	switch {
	case res.Success:
		op.Output = res.Payload
	case res.Payload != nil:
		op.Output = res.Payload
	default:
		op.Output = map[string]any{"error": res.Error, "operation_name": res.ToolName}
	}
	return op
}

// Registry returns one tool per catalogue operation, backed by inv. A failed
// invocation yields the structured error payload alongside the error.
func Registry(inv Invoker) *tool.Registry {
	reg := tool.NewRegistry()
	for _, op := range Catalog() {
		_ = reg.Register(&tool.Tool{
			Name:        op.Name,
			Description: op.Description,
			Parameters:  op.Parameters(),
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				raw, err := inv.Invoke(ctx, op.Name, args)
				if err != nil {
					return ErrorPayload(op.Name, err), err
				}
				return json.RawMessage(raw), nil
			},
		})
	}
	return reg
}
