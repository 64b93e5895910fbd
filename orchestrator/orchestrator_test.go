package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/audit"
	"github.com/sweetpotato0/medrag/citation"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/rag"
	"github.com/sweetpotato0/medrag/records"
	"github.com/sweetpotato0/medrag/tool"
)

type scriptLLM struct {
	mu      sync.Mutex
	replies []*message.Message
	fn      func(specs []tool.Spec) (*message.Message, error)
	calls   [][]*message.Message
	offered [][]tool.Spec
}

func (s *scriptLLM) Generate(ctx context.Context, msgs []*message.Message, specs []tool.Spec) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, message.CloneMessages(msgs))
	s.offered = append(s.offered, specs)
	if s.fn != nil {
		return s.fn(specs)
	}
	if len(s.replies) == 0 {
		return message.NewMessage(message.RoleAssistant, "done"), nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

// stallingLLM routes to the records tool, runs one patient lookup, then
// blocks the records loop until its context ends.
type stallingLLM struct {
	mu    sync.Mutex
	calls int
}

func (s *stallingLLM) Generate(ctx context.Context, msgs []*message.Message, specs []tool.Spec) (*message.Message, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	switch n {
	case 1:
		return toolCall(ToolQueryRecords, map[string]any{"query": "Get patient details for ID 7"}), nil
	case 2:
		return toolCall(records.OpGetPatientByID, map[string]any{"patient_id": 7}), nil
	case 3:
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return reply(NoAnswer), nil
	}
}

func toolCall(name string, args map[string]any) *message.Message {
	return message.NewToolCallMessage("", []message.ToolCall{message.NewToolCall(name, args)})
}

func reply(content string) *message.Message {
	return message.NewMessage(message.RoleAssistant, content)
}

type fakeSearcher struct {
	mu       sync.Mutex
	outcomes map[string]*rag.SearchOutcome
	fallback *rag.SearchOutcome
	delays   map[string]time.Duration
	err      error
	queries  []string
	ks       []int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) (*rag.SearchOutcome, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	delay := f.delays[query]
	out, ok := f.outcomes[query]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if !ok {
		out = f.fallback
	}
	if out == nil {
		return &rag.SearchOutcome{Query: query, Answer: rag.NotFoundAnswer}, nil
	}
	return out, nil
}

type fakeAssistant struct {
	outcome *records.Outcome
	err     error
	caller  string
	history []*message.Message
	query   string
}

func (f *fakeAssistant) Query(ctx context.Context, query string, history []*message.Message) (*records.Outcome, error) {
	f.caller, _ = records.CallerIDFromContext(ctx)
	f.history = history
	f.query = query
	return f.outcome, f.err
}

type recordInvoker struct {
	mu     sync.Mutex
	ops    []string
	caller string
}

func (r *recordInvoker) Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, operation)
	r.caller, _ = records.CallerIDFromContext(ctx)
	if operation != records.OpGetPatientByID {
		return nil, &records.OperationError{Operation: operation, Reason: "unexpected"}
	}
	return json.RawMessage(`{"id":7,"name":"Asha Rao","admission_date":"2024-01-03"}`), nil
}

type fakeEvaluator struct {
	scores   map[string]any
	evidence string
	panics   bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, query, answer, evidence string) map[string]any {
	if f.panics {
		panic("scorer exploded")
	}
	f.evidence = evidence
	return f.scores
}

func cricketURL() string {
	return base64.StdEncoding.EncodeToString([]byte("https://storage.example.com/docs/Cricket.pdf"))
}

func sportsOutcome(query string) *rag.SearchOutcome {
	chunks := []citation.EvidenceChunk{
		citation.NewChunk("Football is played with a round ball.", "FOOTBALL.pdf", 0.9),
		citation.NewChunk("Cricket is played with a bat.", cricketURL(), 0.7),
	}
	return &rag.SearchOutcome{
		Query:     query,
		Answer:    "Football is played with a round ball.\n\nSource: FOOTBALL.pdf",
		Chunks:    chunks,
		Citations: []string{"FOOTBALL.pdf"},
	}
}

func TestProcessQueryDirectReply(t *testing.T) {
	llm := &scriptLLM{replies: []*message.Message{reply("Hello! How can I help you today?")}}
	orch := New(llm, WithDocumentSearcher(&fakeSearcher{}), WithRecordsAssistant(&fakeAssistant{}))

	res := orch.ProcessQuery(context.Background(), "Hi", nil, QueryOptions{})

	assert.Equal(t, "Hello! How can I help you today?", res.Answer)
	assert.Equal(t, []string{}, res.ToolsUsed)
	assert.Empty(t, res.Sources)
	assert.Equal(t, true, res.Debug["direct_response"])
	assert.Equal(t, 0, res.Debug["tool_calls_made"])
	assert.NotContains(t, res.Debug, "error")
	assert.GreaterOrEqual(t, res.LatencyMS, int64(0))

	require.Len(t, llm.calls, 1)
	require.Len(t, llm.offered[0], 2)
	assert.Equal(t, ToolSearchDocuments, llm.offered[0][0].Name)
	assert.Equal(t, ToolQueryRecords, llm.offered[0][1].Name)
	assert.Equal(t, message.RoleSystem, llm.calls[0][0].Role)
	assert.Contains(t, llm.calls[0][0].Content, NoAnswer)
}

func TestProcessQueryRecords(t *testing.T) {
	t.Run("patient lookup through the records assistant", func(t *testing.T) {
		inv := &recordInvoker{}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolQueryRecords, map[string]any{"query": "Get patient details for ID 7"}),
			toolCall(records.OpGetPatientByID, map[string]any{"patient_id": 7}),
			reply("Patient 7 is Asha Rao, admitted on 2024-01-03."),
			reply("Patient 7 is Asha Rao, admitted on 2024-01-03."),
		}}
		orch := New(llm, WithRecordsAssistant(records.NewAssistant(inv, llm)))

		res := orch.ProcessQuery(context.Background(), "Get patient details for ID 7", nil, QueryOptions{CallerID: "dr-42"})

		assert.Equal(t, "Patient 7 is Asha Rao, admitted on 2024-01-03.", res.Answer)
		assert.Equal(t, []string{ToolQueryRecords, records.OpGetPatientByID}, res.ToolsUsed)
		assert.Empty(t, res.Sources)
		assert.Equal(t, []string{records.OpGetPatientByID}, inv.ops)
		assert.Equal(t, "dr-42", inv.caller)

		ops, ok := res.Debug["record_operations"].([]records.OperationCall)
		require.True(t, ok)
		require.Len(t, ops, 1)
		assert.Equal(t, records.OpGetPatientByID, ops[0].Name)
		assert.EqualValues(t, 7, ops[0].Args["patient_id"])
		assert.Equal(t, map[string]any{"query": "Get patient details for ID 7", "tools_count": 1}, res.Debug["record_execution"])
		assert.Equal(t, 2, res.Debug["tool_calls_made"])
		assert.Equal(t, false, res.Debug["direct_response"])

		// Only the router tool is offered to the router.
		require.Len(t, llm.offered[0], 1)
		assert.Equal(t, ToolQueryRecords, llm.offered[0][0].Name)
		// The records loop sees the whole catalogue.
		assert.Len(t, llm.offered[1], len(records.Catalog()))
	})

	t.Run("tool timeout keeps operations already executed", func(t *testing.T) {
		inv := &recordInvoker{}
		llm := &stallingLLM{}
		orch := New(llm,
			WithRecordsAssistant(records.NewAssistant(inv, llm)),
			WithTimeouts(0, 100*time.Millisecond))

		res := orch.ProcessQuery(context.Background(), "Get patient details for ID 7", nil, QueryOptions{})

		assert.Equal(t, []string{records.OpGetPatientByID}, inv.ops)
		assert.Equal(t, []string{ToolQueryRecords, records.OpGetPatientByID}, res.ToolsUsed)
		ops, ok := res.Debug["record_operations"].([]records.OperationCall)
		require.True(t, ok)
		require.Len(t, ops, 1)
		assert.True(t, ops[0].Success)
		assert.Contains(t, res.Debug["record_error"], "Error in records query")
	})

	t.Run("failed assistant keeps executed operations", func(t *testing.T) {
		assistant := &fakeAssistant{
			outcome: &records.Outcome{Operations: []records.OperationCall{{Name: records.OpGetAllDoctors}}},
			err:     errors.New("model timeout"),
		}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolQueryRecords, map[string]any{"query": ""}),
			reply(NoAnswer),
		}}
		history := []*message.Message{message.NewMessage(message.RoleUser, "earlier")}
		res := New(llm, WithRecordsAssistant(assistant)).ProcessQuery(context.Background(), "List all doctors", history, QueryOptions{})

		assert.Equal(t, NoAnswer, res.Answer)
		assert.Equal(t, []string{ToolQueryRecords, records.OpGetAllDoctors}, res.ToolsUsed)
		assert.Equal(t, "List all doctors", assistant.query)
		assert.Len(t, assistant.history, 1)
		assert.Contains(t, res.Debug["record_error"], "model timeout")
		assert.NotContains(t, res.Debug, "error")

		// The failure is fed back to the model as a tool turn.
		last := llm.calls[1][len(llm.calls[1])-1]
		assert.Equal(t, message.RoleTool, last.Role)
		assert.Contains(t, last.Content, `"success":false`)
	})
}

func TestProcessQueryDocuments(t *testing.T) {
	t.Run("citations are reconciled against retrieved sources", func(t *testing.T) {
		searcher := &fakeSearcher{fallback: sportsOutcome("football")}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolSearchDocuments, map[string]any{"query": "football"}),
			reply("Football is played with a round ball.\n\nSource: football.pdf"),
		}}
		res := New(llm, WithDocumentSearcher(searcher)).ProcessQuery(context.Background(), "How is football played?", nil, QueryOptions{TopK: 3})

		assert.Equal(t, "Football is played with a round ball.\n\nSource: FOOTBALL.pdf", res.Answer)
		assert.Equal(t, []string{"FOOTBALL.pdf"}, res.Debug["citations"])
		assert.Equal(t, []string{ToolSearchDocuments}, res.ToolsUsed)
		assert.Equal(t, []string{"FOOTBALL.pdf", "Cricket.pdf"}, res.SourceNames())
		assert.Equal(t, map[string]any{"query": "football", "num_sources": 2}, res.Debug["rag_execution"])
		assert.Equal(t, []int{3}, searcher.ks)

		toolTurn := llm.calls[1][len(llm.calls[1])-1]
		assert.Contains(t, toolTurn.Content, `"num_sources":2`)
		assert.NotContains(t, toolTurn.Content, "Cricket is played")
	})

	t.Run("fabricated citation falls back to retrieved sources", func(t *testing.T) {
		searcher := &fakeSearcher{fallback: sportsOutcome("sports")}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolSearchDocuments, map[string]any{"query": "sports", "top_k": 2}),
			reply("Both sports use a ball.\n\nSource: Tennis.pdf"),
		}}
		res := New(llm, WithDocumentSearcher(searcher)).ProcessQuery(context.Background(), "Compare the sports", nil, QueryOptions{})

		assert.Equal(t, "Both sports use a ball.\n\nSources:\n1. FOOTBALL.pdf\n2. Cricket.pdf", res.Answer)
		assert.NotContains(t, res.Answer, "Tennis")
		assert.Equal(t, []int{2}, searcher.ks)
	})

	t.Run("search failure is reported to the model", func(t *testing.T) {
		searcher := &fakeSearcher{err: errors.New("vector store unreachable")}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolSearchDocuments, map[string]any{"query": "knee"}),
			reply(NoAnswer),
		}}
		res := New(llm, WithDocumentSearcher(searcher)).ProcessQuery(context.Background(), "knee rehab?", nil, QueryOptions{})

		assert.Equal(t, NoAnswer, res.Answer)
		assert.Equal(t, []string{ToolSearchDocuments}, res.ToolsUsed)
		assert.Contains(t, res.Debug["rag_error"], "vector store unreachable")
		errs, ok := res.Debug["tool_errors"].([]map[string]any)
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, ToolSearchDocuments, errs[0]["tool"])
		assert.NotContains(t, res.Debug, "error")
	})

	t.Run("default top_k comes from options", func(t *testing.T) {
		searcher := &fakeSearcher{}
		llm := &scriptLLM{replies: []*message.Message{
			toolCall(ToolSearchDocuments, map[string]any{"query": "a"}),
			reply("nothing"),
		}}
		New(llm, WithDocumentSearcher(searcher), WithTopK(7)).ProcessQuery(context.Background(), "a", nil, QueryOptions{})
		assert.Equal(t, []int{7}, searcher.ks)
	})
}

func TestProcessQueryRoundCap(t *testing.T) {
	before := testutil.ToFloat64(roundCapTotal)
	searcher := &fakeSearcher{fallback: &rag.SearchOutcome{
		Answer: "partial",
		Chunks: []citation.EvidenceChunk{citation.NewChunk("text", "a.pdf", 1)},
	}}
	llm := &scriptLLM{fn: func(specs []tool.Spec) (*message.Message, error) {
		if len(specs) > 0 {
			return toolCall(ToolSearchDocuments, map[string]any{"query": "again"}), nil
		}
		return reply("final answer"), nil
	}}

	res := New(llm, WithDocumentSearcher(searcher)).ProcessQuery(context.Background(), "loop forever", nil, QueryOptions{})

	require.Len(t, llm.calls, agentMaxRounds+1)
	assert.Nil(t, llm.offered[agentMaxRounds])
	assert.Len(t, res.ToolsUsed, agentMaxRounds)
	assert.Equal(t, agentMaxRounds, res.Debug["rounds"])
	assert.Equal(t, true, res.Debug["round_cap_reached"])
	assert.Equal(t, "final answer\n\nSource: a.pdf", res.Answer)
	assert.Len(t, res.Sources, agentMaxRounds)
	assert.Equal(t, []string{"a.pdf"}, res.SourceNames())
	assert.Equal(t, before+1, testutil.ToFloat64(roundCapTotal))
}

const agentMaxRounds = 5

func TestProcessQueryNeverFails(t *testing.T) {
	t.Run("model always fails", func(t *testing.T) {
		llm := &scriptLLM{fn: func([]tool.Spec) (*message.Message, error) {
			return nil, errors.New("upstream 503")
		}}
		res := New(llm, WithDocumentSearcher(&fakeSearcher{})).ProcessQuery(context.Background(), "anything", nil, QueryOptions{})

		assert.Equal(t, ErrorAnswer, res.Answer)
		assert.Contains(t, res.Debug["error"], "upstream 503")
		assert.NotEmpty(t, res.Debug["traceback"])
		assert.Empty(t, res.Sources)
		assert.Equal(t, []string{}, res.ToolsUsed)
	})

	t.Run("every collaborator fails", func(t *testing.T) {
		calls := 0
		llm := &scriptLLM{fn: func(specs []tool.Spec) (*message.Message, error) {
			calls++
			if calls == 1 {
				return message.NewToolCallMessage("", []message.ToolCall{
					message.NewToolCall(ToolSearchDocuments, map[string]any{"query": "x"}),
					message.NewToolCall(ToolQueryRecords, map[string]any{"query": "y"}),
				}), nil
			}
			return nil, errors.New("model gone")
		}}
		orch := New(llm,
			WithDocumentSearcher(&fakeSearcher{err: errors.New("search down")}),
			WithRecordsAssistant(&fakeAssistant{err: errors.New("records down")}),
		)
		res := orch.ProcessQuery(context.Background(), "x and y", nil, QueryOptions{})

		assert.Equal(t, ErrorAnswer, res.Answer)
		assert.Equal(t, []string{ToolSearchDocuments, ToolQueryRecords}, res.ToolsUsed)
		assert.Contains(t, res.Debug["error"], "model gone")
		assert.Contains(t, res.Debug["rag_error"], "search down")
		assert.Contains(t, res.Debug["record_error"], "records down")
	})

	t.Run("panicking model", func(t *testing.T) {
		llm := &scriptLLM{fn: func([]tool.Spec) (*message.Message, error) { panic("nil map") }}
		res := New(llm).ProcessQuery(context.Background(), "Hi", nil, QueryOptions{})

		assert.Equal(t, ErrorAnswer, res.Answer)
		assert.Contains(t, res.Debug["error"], "panic: nil map")
		assert.Contains(t, res.Debug["traceback"], "goroutine")
	})

	t.Run("empty query", func(t *testing.T) {
		llm := &scriptLLM{}
		res := New(llm).ProcessQuery(context.Background(), "   ", nil, QueryOptions{})
		assert.Equal(t, ErrorAnswer, res.Answer)
		assert.Contains(t, res.Debug["error"], "query must not be empty")
		assert.Empty(t, llm.calls)
	})

	t.Run("malformed tool arguments", func(t *testing.T) {
		bad := message.ToolCall{ID: "call_bad", Name: ToolSearchDocuments, Arguments: "{not json"}
		llm := &scriptLLM{replies: []*message.Message{
			message.NewToolCallMessage("", []message.ToolCall{bad}),
			reply(NoAnswer),
		}}
		res := New(llm, WithDocumentSearcher(&fakeSearcher{})).ProcessQuery(context.Background(), "q", nil, QueryOptions{})

		assert.Equal(t, NoAnswer, res.Answer)
		assert.Equal(t, []string{ToolSearchDocuments}, res.ToolsUsed)
		assert.Contains(t, res.Debug, "rag_error")
	})

	t.Run("empty final answer", func(t *testing.T) {
		llm := &scriptLLM{replies: []*message.Message{reply("  ")}}
		res := New(llm).ProcessQuery(context.Background(), "Who is Michael Jordan?", nil, QueryOptions{})
		assert.Equal(t, NoAnswer, res.Answer)
	})
}

func TestProcessQueryParallelOrder(t *testing.T) {
	searcher := &fakeSearcher{
		outcomes: map[string]*rag.SearchOutcome{
			"slow": {Chunks: []citation.EvidenceChunk{citation.NewChunk("s", "slow.pdf", 1)}},
			"fast": {Chunks: []citation.EvidenceChunk{citation.NewChunk("f", "fast.pdf", 1)}},
		},
		delays: map[string]time.Duration{"slow": 40 * time.Millisecond},
	}
	assistant := &fakeAssistant{outcome: &records.Outcome{
		Answer:     "two doctors",
		Operations: []records.OperationCall{{Name: records.OpGetAllDoctors, Success: true}},
	}}
	calls := []message.ToolCall{
		message.NewToolCall(ToolSearchDocuments, map[string]any{"query": "slow"}),
		message.NewToolCall(ToolSearchDocuments, map[string]any{"query": "fast"}),
		message.NewToolCall(ToolQueryRecords, map[string]any{"query": "doctors"}),
	}
	llm := &scriptLLM{replies: []*message.Message{
		message.NewToolCallMessage("", calls),
		reply("Combined answer."),
	}}
	orch := New(llm, WithDocumentSearcher(searcher), WithRecordsAssistant(assistant), WithParallelTools(3))

	res := orch.ProcessQuery(context.Background(), "everything", nil, QueryOptions{})

	assert.Equal(t, []string{ToolSearchDocuments, ToolSearchDocuments, ToolQueryRecords, records.OpGetAllDoctors}, res.ToolsUsed)
	assert.Equal(t, []string{"slow.pdf", "fast.pdf"}, res.SourceNames())

	require.Len(t, llm.calls, 2)
	second := llm.calls[1]
	toolTurns := second[len(second)-3:]
	for i, turn := range toolTurns {
		assert.Equal(t, message.RoleTool, turn.Role)
		assert.Equal(t, calls[i].ID, turn.ToolCallID)
	}
	assert.True(t, strings.HasPrefix(res.Answer, "Combined answer."))
}

func TestProcessQueryEvaluation(t *testing.T) {
	newLLM := func() *scriptLLM {
		return &scriptLLM{replies: []*message.Message{
			toolCall(ToolSearchDocuments, map[string]any{"query": "football"}),
			reply("Football is played with a round ball.\n\nSource: FOOTBALL.pdf"),
		}}
	}
	searcher := &fakeSearcher{fallback: sportsOutcome("football")}

	t.Run("requested per query", func(t *testing.T) {
		eval := &fakeEvaluator{scores: map[string]any{"rouge1": 0.5, "toxicity": 0.0}}
		res := New(newLLM(), WithDocumentSearcher(searcher), WithEvaluator(eval, false)).
			ProcessQuery(context.Background(), "football?", nil, QueryOptions{Evaluate: true})

		assert.Equal(t, eval.scores, res.QualityMetrics)
		assert.Equal(t, "Football is played with a round ball.\n\nCricket is played with a bat.", eval.evidence)
	})

	t.Run("not requested", func(t *testing.T) {
		eval := &fakeEvaluator{scores: map[string]any{"rouge1": 0.5}}
		res := New(newLLM(), WithDocumentSearcher(searcher), WithEvaluator(eval, false)).
			ProcessQuery(context.Background(), "football?", nil, QueryOptions{})
		assert.Nil(t, res.QualityMetrics)
	})

	t.Run("evaluator error and panic", func(t *testing.T) {
		eval := &fakeEvaluator{scores: map[string]any{"error": "judge unavailable"}}
		res := New(newLLM(), WithDocumentSearcher(searcher), WithEvaluator(eval, true)).
			ProcessQuery(context.Background(), "football?", nil, QueryOptions{})
		assert.Equal(t, "judge unavailable", res.Debug["quality_error"])

		res = New(newLLM(), WithDocumentSearcher(searcher), WithEvaluator(&fakeEvaluator{panics: true}, true)).
			ProcessQuery(context.Background(), "football?", nil, QueryOptions{})
		assert.Contains(t, res.QualityMetrics["error"], "scorer exploded")
		assert.True(t, strings.HasSuffix(res.Answer, "Source: FOOTBALL.pdf"))
	})
}

func TestProcessQueryAudit(t *testing.T) {
	rec := audit.NewMemoryRecorder()
	llm := &scriptLLM{replies: []*message.Message{
		toolCall(ToolSearchDocuments, map[string]any{"query": "football"}),
		reply("Football uses a ball."),
	}}
	orch := New(llm, WithDocumentSearcher(&fakeSearcher{fallback: sportsOutcome("football")}), WithRecorder(rec))

	res := orch.ProcessQuery(context.Background(), "football?", nil, QueryOptions{SessionID: "s-9", CallerID: "nurse-1"})

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "s-9", entries[0].SessionID)
	assert.Equal(t, "nurse-1", entries[0].CallerID)
	assert.Equal(t, res.Answer, entries[0].Answer)
	assert.Equal(t, []string{ToolSearchDocuments}, entries[0].ToolsUsed)
	assert.Equal(t, []string{"FOOTBALL.pdf", "Cricket.pdf"}, entries[0].Sources)
	assert.Empty(t, entries[0].Error)
}

func TestTools(t *testing.T) {
	assert.Empty(t, New(&scriptLLM{}).Tools())
	assert.Equal(t, []string{ToolSearchDocuments}, New(&scriptLLM{}, WithDocumentSearcher(&fakeSearcher{})).Tools())

	assert.NotContains(t, systemPrompt(true, false), ToolQueryRecords)
	assert.Contains(t, systemPrompt(false, true), ToolQueryRecords)
}

func TestAggregationStateConsistency(t *testing.T) {
	state := NewAggregationState()
	payload := &documentResult{Query: "q", outcome: sportsOutcome("q")}
	state.Fold(message.ToolCall{Name: ToolSearchDocuments}, &tool.Result{ToolName: ToolSearchDocuments, Success: true, Payload: payload})
	state.Fold(message.ToolCall{Name: "unknown_tool"}, &tool.Result{ToolName: "unknown_tool", Error: "tool unknown_tool not found"})

	assert.Equal(t, []string{ToolSearchDocuments, "unknown_tool"}, state.ToolsUsed)
	for _, name := range state.Sources.Names() {
		found := false
		for _, c := range state.Chunks {
			found = found || c.NormalizedSource == name
		}
		assert.True(t, found, name)
	}
	assert.Len(t, state.Debug["tool_errors"], 1)
}
