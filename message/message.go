package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Tool turns carry the id of the
// invocation they answer and the name of the tool that produced them.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolCall is a model-issued request to run a named tool. Arguments holds
// the raw JSON object exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the raw argument string into a JSON object.
// An empty string is treated as an empty object.
func (c ToolCall) Args() (map[string]any, error) {
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeAgentToolInvalidInput,
			"tool arguments are not a JSON object", medragerr.FieldTool(c.Name))
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// NewToolCall builds a call with a fresh id, encoding args as JSON.
func NewToolCall(name string, args map[string]any) ToolCall {
	raw := "{}"
	if len(args) > 0 {
		if encoded, err := json.Marshal(args); err == nil {
			raw = string(encoded)
		}
	}
	return ToolCall{ID: "call_" + NewID(), Name: name, Arguments: raw}
}

// NewMessage creates a new message with the given role and content
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewToolCallMessage creates an assistant message requesting tool calls
func NewToolCallMessage(content string, toolCalls []ToolCall) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.ToolCalls = toolCalls
	return msg
}

// NewToolResponseMessage creates a tool response message
func NewToolResponseMessage(callID, toolName, content string) *Message {
	msg := NewMessage(RoleTool, content)
	msg.ToolCallID = callID
	msg.ToolName = toolName
	return msg
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = append([]ToolCall(nil), msg.ToolCalls...)
	}
	return &cloned
}

// CloneMessages copies a slice of messages.
func CloneMessages(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

// Window returns copies of the last n user and assistant turns of history.
// System and tool turns are dropped. n <= 0 yields an empty window.
func Window(history []*Message, n int) []*Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	kept := make([]*Message, 0, n)
	for i := len(history) - 1; i >= 0 && len(kept) < n; i-- {
		msg := history[i]
		if msg == nil || (msg.Role != RoleUser && msg.Role != RoleAssistant) {
			continue
		}
		if msg.Role == RoleAssistant && msg.Content == "" {
			continue
		}
		kept = append(kept, msg)
	}
	out := make([]*Message, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		clone := Clone(kept[i])
		clone.ToolCalls = nil
		out = append(out, clone)
	}
	return out
}

// NewID returns a random identifier.
func NewID() string {
	return uuid.NewString()
}
