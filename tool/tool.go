package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
)

// Parameter defines a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, object, array
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Handler runs a tool. A handler may return a partial payload together
// with an error; the payload is kept on the failed Result.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool/function
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Spec is the provider-neutral description of a tool offered to a model.
// Parameters is a JSON-schema object.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Properties returns the schema's properties map, or an empty one.
func (s Spec) Properties() map[string]any {
	if props, ok := s.Parameters["properties"].(map[string]any); ok {
		return props
	}
	return map[string]any{}
}

// Required returns the schema's required parameter names.
func (s Spec) Required() []string {
	switch req := s.Parameters["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if name, ok := v.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

// Execute validates args and runs the handler.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if t.Handler == nil {
		return nil, medragerr.New(medragerr.CodeAgentToolFailure,
			fmt.Sprintf("tool %s has no handler", t.Name), medragerr.FieldTool(t.Name))
	}
	if err := t.ValidateArgs(args); err != nil {
		return nil, err
	}
	return t.Handler(ctx, t.withDefaults(args))
}

// ValidateArgs validates the provided arguments against the tool's parameters
func (t *Tool) ValidateArgs(args map[string]any) error {
	for _, param := range t.Parameters {
		if !param.Required {
			continue
		}
		if v, ok := args[param.Name]; !ok || v == nil {
			return medragerr.New(medragerr.CodeAgentToolInvalidInput,
				fmt.Sprintf("tool %s: missing required parameter: %s", t.Name, param.Name),
				medragerr.FieldTool(t.Name), medragerr.Field("parameter", param.Name))
		}
	}
	return nil
}

func (t *Tool) withDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(t.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, param := range t.Parameters {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}

// Spec returns the JSON-schema description sent to the model.
func (t *Tool) Spec() Spec {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0)

	for _, param := range t.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	return Spec{
		Name:        t.Name,
		Description: t.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// Result is the outcome of one tool invocation. Exactly one of a successful
// Payload or a failure Error describes it; failed results may still carry a
// partial Payload.
type Result struct {
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id,omitempty"`
	Success  bool   `json:"success"`
	Payload  any    `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Content is the serialised form fed back to the model as a tool turn.
func (r *Result) Content() string {
	var body map[string]any
	if r.Success {
		body = map[string]any{"success": true, "result": r.Payload}
	} else {
		body = map[string]any{"success": false, "error": r.Error}
		if r.Payload != nil {
			body["partial_result"] = r.Payload
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, "unserialisable tool result: "+err.Error())
	}
	return string(encoded)
}

type outcome struct {
	payload any
	err     error
}

func failed(call message.ToolCall, err error, payload any) *Result {
	return &Result{
		ToolName: call.Name,
		CallID:   call.ID,
		Success:  false,
		Payload:  payload,
		Error:    err.Error(),
		Err:      err,
	}
}

// DefaultGracePeriod is how long Execute waits, after the context ends, for
// a handler to hand back its partial payload.
const DefaultGracePeriod = time.Second

// Registry manages an ordered collection of tools.
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
	grace time.Duration
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
		grace: DefaultGracePeriod,
	}
}

// SetGracePeriod changes how long Execute waits for a cancelled handler.
// Zero returns as soon as the context ends.
func (r *Registry) SetGracePeriod(d time.Duration) {
	r.mu.Lock()
	r.grace = max(d, 0)
	r.mu.Unlock()
}

// Register adds a tool to the registry
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return medragerr.New(medragerr.CodeAgentToolInvalidInput, "tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return medragerr.New(medragerr.CodeAgentToolInvalidInput,
			fmt.Sprintf("tool %s already registered", tool.Name), medragerr.FieldTool(tool.Name))
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, medragerr.New(medragerr.CodeAgentToolNotFound,
			fmt.Sprintf("tool %s not found", name), medragerr.FieldTool(name))
	}
	return tool, nil
}

// List returns all registered tools in registration order
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Specs returns the tool specs in registration order
func (r *Registry) Specs() []Spec {
	tools := r.List()
	specs := make([]Spec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Execute runs the tool named by call and never fails: unknown tools,
// malformed arguments, handler errors, panics and context expiry are all
// reported as an unsuccessful Result. On context expiry the handler sees the
// same cancelled context; whatever payload it returns within the grace
// period is kept on the Result.
func (r *Registry) Execute(ctx context.Context, call message.ToolCall) *Result {
	t, err := r.Get(call.Name)
	if err != nil {
		return failed(call, err, nil)
	}
	args, err := call.Args()
	if err != nil {
		return failed(call, err, nil)
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: medragerr.New(medragerr.CodeAgentToolFailure,
					fmt.Sprintf("tool %s panicked: %v", call.Name, rec), medragerr.FieldTool(call.Name))}
			}
		}()
		payload, err := t.Execute(ctx, args)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			return &Result{ToolName: call.Name, CallID: call.ID, Success: true, Payload: out.payload}
		case ctx.Err() != nil:
			return failed(call, expired(ctx, call), out.payload)
		default:
			return failed(call, out.err, out.payload)
		}
	case <-ctx.Done():
		return failed(call, expired(ctx, call), r.drain(done))
	}
}

func expired(ctx context.Context, call message.ToolCall) error {
	code := medragerr.CodeAgentToolFailure
	if ctx.Err() == context.DeadlineExceeded {
		code = medragerr.CodeAgentToolTimeout
	}
	return medragerr.Wrapf(ctx.Err(), code, "tool %s did not complete", call.Name)
}

// drain waits up to the grace period for a late handler and returns its payload.
func (r *Registry) drain(done <-chan outcome) any {
	r.mu.RLock()
	grace := r.grace
	r.mu.RUnlock()
	if grace <= 0 {
		return nil
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.payload
	case <-timer.C:
		return nil
	}
}
