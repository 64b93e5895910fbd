package orchestrator

import (
	"github.com/sweetpotato0/medrag/citation"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/records"
	"github.com/sweetpotato0/medrag/tool"
)

// AggregationState accumulates what one query's tool calls produced. It is
// created per ProcessQuery call and never shared.
type AggregationState struct {
	ToolsUsed []string
	Chunks    []citation.EvidenceChunk
	Sources   *citation.SourceSet
	Debug     map[string]any

	operations []records.OperationCall
	toolErrors []map[string]any
}

// NewAggregationState returns an empty state.
func NewAggregationState() *AggregationState {
	return &AggregationState{
		ToolsUsed: []string{},
		Chunks:    []citation.EvidenceChunk{},
		Sources:   citation.NewSourceSet(),
		Debug:     map[string]any{},
	}
}

// Fold merges one executed invocation and its result.
func (s *AggregationState) Fold(call message.ToolCall, res *tool.Result) {
	name := call.Name
	if name == "" && res != nil {
		name = res.ToolName
	}
	s.ToolsUsed = append(s.ToolsUsed, name)
	if res == nil {
		s.toolError(name, "tool produced no result")
		return
	}

	switch name {
	case ToolSearchDocuments:
		s.foldDocuments(res)
	case ToolQueryRecords:
		s.foldRecords(res)
	default:
		if !res.Success {
			s.toolError(name, res.Error)
		}
	}
}

func (s *AggregationState) foldDocuments(res *tool.Result) {
	payload, _ := res.Payload.(*documentResult)
	if payload != nil && payload.outcome != nil {
		s.addChunks(payload.outcome.Chunks)
		s.Debug["rag_execution"] = map[string]any{
			"query":       payload.Query,
			"num_sources": len(payload.outcome.Chunks),
		}
	}
	if !res.Success {
		s.Debug["rag_error"] = "Error in document search: " + res.Error
		s.toolError(res.ToolName, res.Error)
	}
}

func (s *AggregationState) foldRecords(res *tool.Result) {
	payload, _ := res.Payload.(*recordsResult)
	if payload != nil && payload.outcome != nil {
		ops := payload.outcome.Operations
		for _, op := range ops {
			s.ToolsUsed = append(s.ToolsUsed, op.Name)
		}
		s.operations = append(s.operations, ops...)
		s.Debug["record_operations"] = s.operations
		s.Debug["record_execution"] = map[string]any{
			"query":       payload.Query,
			"tools_count": len(ops),
		}
	}
	if !res.Success {
		s.Debug["record_error"] = "Error in records query: " + res.Error
		s.toolError(res.ToolName, res.Error)
	}
}

func (s *AggregationState) addChunks(chunks []citation.EvidenceChunk) {
	for _, c := range chunks {
		s.Chunks = append(s.Chunks, c)
		s.Sources.Add(c.NormalizedSource)
	}
}

func (s *AggregationState) toolError(name, msg string) {
	s.toolErrors = append(s.toolErrors, map[string]any{"tool": name, "error": msg})
	s.Debug["tool_errors"] = s.toolErrors
}
