package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/tool"
)

// scriptedLLM replays canned replies and records what it was sent.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []*message.Message
	err     error
	calls   [][]*message.Message
	offered [][]tool.Spec
	// fallback is returned once replies run out.
	fallback func() *message.Message
}

func (s *scriptedLLM) Generate(ctx context.Context, msgs []*message.Message, specs []tool.Spec) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, message.CloneMessages(msgs))
	s.offered = append(s.offered, specs)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		if s.fallback != nil {
			return s.fallback(), nil
		}
		return message.NewMessage(message.RoleAssistant, "done"), nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func callReply(calls ...message.ToolCall) *message.Message {
	return message.NewToolCallMessage("", calls)
}

func lookupRegistry(t *testing.T, delays map[string]time.Duration) *tool.Registry {
	t.Helper()
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&tool.Tool{
		Name:        "lookup",
		Description: "Looks a key up",
		Parameters:  []tool.Parameter{{Name: "key", Type: "string", Required: true}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			key := args["key"].(string)
			if d := delays[key]; d > 0 {
				time.Sleep(d)
			}
			if key == "bad" {
				return nil, errors.New("lookup exploded")
			}
			return map[string]any{"value": key + "!"}, nil
		},
	}))
	return registry
}

func TestNewAgentDefaults(t *testing.T) {
	a := New(WithName("router"), WithSystemPrompt("You route."))

	assert.Equal(t, "router", a.Name())
	assert.Equal(t, DefaultMaxRounds, a.MaxRounds())
	assert.Equal(t, "You route.", a.systemPrompt)
	assert.Equal(t, 0, a.Tools().Len())
}

func TestRunWithoutProvider(t *testing.T) {
	_, err := New().Run(context.Background(), nil, "hi")
	assert.Error(t, err)
}

func TestRunDirectAnswer(t *testing.T) {
	llm := &scriptedLLM{replies: []*message.Message{message.NewMessage(message.RoleAssistant, "Hello!")}}
	history := []*message.Message{
		message.NewMessage(message.RoleUser, "earlier"),
		message.NewMessage(message.RoleAssistant, "reply"),
	}

	run, err := New(WithProvider(llm), WithTools(lookupRegistry(t, nil))).Run(context.Background(), history, "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello!", run.Answer)
	assert.Empty(t, run.Results)
	assert.Equal(t, 0, run.Rounds)
	assert.Equal(t, 1, run.ModelCalls)
	require.Len(t, llm.calls, 1)

	sent := llm.calls[0]
	require.Len(t, sent, 4)
	assert.Equal(t, message.RoleSystem, sent[0].Role)
	assert.Equal(t, "earlier", sent[1].Content)
	assert.Equal(t, "Hi", sent[3].Content)
	assert.Len(t, history, 2, "history is not mutated")
}

func TestRunExecutesToolsAndFeedsResultsBack(t *testing.T) {
	llm := &scriptedLLM{replies: []*message.Message{
		callReply(
			message.ToolCall{ID: "a", Name: "lookup", Arguments: `{"key":"x"}`},
			message.ToolCall{ID: "b", Name: "lookup", Arguments: `{}`},
			message.ToolCall{ID: "c", Name: "lookup", Arguments: `{"key":"bad"}`},
		),
		message.NewMessage(message.RoleAssistant, "x is x!"),
	}}

	run, err := New(WithProvider(llm), WithTools(lookupRegistry(t, nil))).Run(context.Background(), nil, "what is x")
	require.NoError(t, err)

	assert.Equal(t, "x is x!", run.Answer)
	assert.Equal(t, 1, run.Rounds)
	require.Len(t, run.Results, 3)
	assert.True(t, run.Results[0].Success)
	assert.False(t, run.Results[1].Success)
	assert.Contains(t, run.Results[1].Error, "key", "missing field is named")
	assert.False(t, run.Results[2].Success)
	assert.Contains(t, run.Results[2].Error, "lookup exploded")

	second := llm.calls[1]
	tail := second[len(second)-3:]
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, message.RoleTool, tail[i].Role)
		assert.Equal(t, id, tail[i].ToolCallID)
		assert.Equal(t, "lookup", tail[i].ToolName)
	}
}

func TestRunRoundCap(t *testing.T) {
	llm := &scriptedLLM{fallback: func() *message.Message {
		return callReply(message.NewToolCall("lookup", map[string]any{"key": "again"}))
	}}

	run, err := New(WithProvider(llm), WithTools(lookupRegistry(t, nil)), WithMaxRounds(5)).
		Run(context.Background(), nil, "loop forever")
	require.NoError(t, err)

	assert.True(t, run.CapReached)
	assert.Equal(t, 5, run.Rounds)
	assert.Equal(t, 6, run.ModelCalls)
	assert.Len(t, run.Results, 5)
	require.Len(t, llm.offered, 6)
	assert.Nil(t, llm.offered[5], "final call offers no tools")
}

func TestRunParallelKeepsOrder(t *testing.T) {
	llm := &scriptedLLM{replies: []*message.Message{
		callReply(
			message.ToolCall{ID: "slow", Name: "lookup", Arguments: `{"key":"slow"}`},
			message.ToolCall{ID: "fast", Name: "lookup", Arguments: `{"key":"fast"}`},
		),
	}}
	registry := lookupRegistry(t, map[string]time.Duration{"slow": 30 * time.Millisecond})

	run, err := New(WithProvider(llm), WithTools(registry), WithParallelTools(4)).Run(context.Background(), nil, "go")
	require.NoError(t, err)

	require.Len(t, run.Results, 2)
	assert.Equal(t, "slow", run.Results[0].CallID)
	assert.Equal(t, "fast", run.Results[1].CallID)
	tail := llm.calls[1][len(llm.calls[1])-2:]
	assert.Equal(t, "slow", tail[0].ToolCallID)
	assert.Equal(t, "fast", tail[1].ToolCallID)
}

func TestRunToolTimeout(t *testing.T) {
	llm := &scriptedLLM{replies: []*message.Message{
		callReply(message.ToolCall{ID: "s", Name: "lookup", Arguments: `{"key":"slow"}`}),
	}}
	registry := lookupRegistry(t, map[string]time.Duration{"slow": 200 * time.Millisecond})

	run, err := New(WithProvider(llm), WithTools(registry), WithToolTimeout(10*time.Millisecond)).
		Run(context.Background(), nil, "go")
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.False(t, run.Results[0].Success)
	assert.Equal(t, "done", run.Answer)
}

func TestRunModelFailureReturnsPartialRun(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("503 from provider")}

	run, err := New(WithProvider(llm)).Run(context.Background(), nil, "hi")
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.ModelCalls)
	assert.Contains(t, err.Error(), "503 from provider")
}
