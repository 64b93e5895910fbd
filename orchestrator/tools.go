package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/rag"
	"github.com/sweetpotato0/medrag/records"
	"github.com/sweetpotato0/medrag/tool"
)

// Router tool names.
const (
	ToolSearchDocuments = "search_documents"
	ToolQueryRecords    = "query_structured_records"
)

const searchDocumentsDescription = "Search through uploaded documents and PDFs to find relevant information. " +
	"Use this when the user asks about document content, wants information from PDFs, or asks questions " +
	"that require document-based knowledge. Do not include source links or citations in your responses."

const queryRecordsDescription = "Query the healthcare database system for patient data, doctor information, " +
	"or study records. Use this for any healthcare-related queries like getting patient details, " +
	"listing doctors, finding studies, etc."

// DocumentSearcher runs a grounded document search.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, k int) (*rag.SearchOutcome, error)
}

// RecordsAssistant answers structured-record questions.
type RecordsAssistant interface {
	Query(ctx context.Context, query string, history []*message.Message) (*records.Outcome, error)
}

// documentResult is the search_documents payload. The model sees the
// synthesized answer and source names; the full outcome stays local.
type documentResult struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	NumSources int      `json:"num_sources"`

	outcome *rag.SearchOutcome
}

// recordsResult is the query_structured_records payload.
type recordsResult struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Operations []string `json:"operations_called"`

	outcome *records.Outcome
}

// scope carries per-query inputs to the tool handlers.
type scope struct {
	query   string
	history []*message.Message
	opts    QueryOptions
}

type scopeKey struct{}

func withScope(ctx context.Context, s *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *scope {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok && s != nil {
		return s
	}
	return &scope{}
}

func searchDocumentsTool(searcher DocumentSearcher) *tool.Tool {
	return &tool.Tool{
		Name:        ToolSearchDocuments,
		Description: searchDocumentsDescription,
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "The search query to find relevant information in documents", Required: true},
			{Name: "top_k", Type: "integer", Description: "Number of top results to retrieve (default: 5)"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			sc := scopeFrom(ctx)
			query, err := queryArg(ToolSearchDocuments, args, sc.query)
			if err != nil {
				return nil, err
			}
			k := sc.opts.TopK
			if raw, ok := args["top_k"]; ok && raw != nil {
				n, err := intArg(raw)
				if err != nil {
					return nil, medragerr.Errorf(medragerr.CodeOrchestratorInvalidArgs,
						"%s: argument \"top_k\" must be a positive integer", ToolSearchDocuments)
				}
				if n > 0 {
					k = n
				}
			}
			if k <= 0 {
				k = rag.DefaultTopK
			}

			out, err := searcher.Search(ctx, query, k)
			if err != nil {
				return nil, err
			}
			return &documentResult{
				Query:      query,
				Answer:     out.Answer,
				Sources:    out.Citations,
				NumSources: len(out.Chunks),
				outcome:    out,
			}, nil
		},
	}
}

func queryRecordsTool(assistant RecordsAssistant) *tool.Tool {
	return &tool.Tool{
		Name:        ToolQueryRecords,
		Description: queryRecordsDescription,
		Parameters: []tool.Parameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "The healthcare query (e.g., 'Get patient details for ID 1', 'List all doctors', 'Show studies for patient 2')",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			sc := scopeFrom(ctx)
			query, err := queryArg(ToolQueryRecords, args, sc.query)
			if err != nil {
				return nil, err
			}
			out, err := assistant.Query(ctx, query, sc.history)
			if out == nil {
				return nil, err
			}
			// A partial outcome is kept so executed operations are still counted.
			return &recordsResult{
				Query:      query,
				Answer:     out.Answer,
				Operations: out.OperationNames(),
				outcome:    out,
			}, err
		},
	}
}

// queryArg reads the required "query" argument. A blank value falls back to
// the user's query.
func queryArg(toolName string, args map[string]any, fallback string) (string, error) {
	raw, ok := args["query"]
	if !ok || raw == nil {
		return "", medragerr.Errorf(medragerr.CodeOrchestratorInvalidArgs, "%s: missing required argument \"query\"", toolName)
	}
	query, ok := raw.(string)
	if !ok {
		return "", medragerr.Errorf(medragerr.CodeOrchestratorInvalidArgs, "%s: argument \"query\" must be a string", toolName)
	}
	if query = strings.TrimSpace(query); query == "" {
		query = strings.TrimSpace(fallback)
	}
	if query == "" {
		return "", medragerr.Errorf(medragerr.CodeOrchestratorInvalidArgs, "%s: argument \"query\" is empty", toolName)
	}
	return query, nil
}

func intArg(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

// systemPrompt lists the offered capabilities and the routing rules.
func systemPrompt(docs, recs bool) string {
	var b strings.Builder
	b.WriteString("You are an intelligent orchestrator agent that routes queries to specialized systems. ")
	b.WriteString("For casual conversation ONLY (greetings like 'hi', 'hello', 'thanks', 'how are you'), respond naturally without using tools. ")
	if docs {
		b.WriteString("For document-related questions, use the " + ToolSearchDocuments + " tool to access the document search system. ")
	}
	if recs {
		b.WriteString("For healthcare operations (patient queries, doctor info, studies), use the " + ToolQueryRecords + " tool to access the healthcare records system. ")
	}
	b.WriteString("CRITICAL RULES: ")
	b.WriteString("1. ONLY answer using the tools provided for factual questions ")
	b.WriteString("2. For casual greetings and pleasantries (hi, hello, thanks, how are you), respond briefly and naturally ")
	b.WriteString("3. For ANY factual question (healthcare, general knowledge, trivia, people, events, etc.), you MUST use the available tools ")
	b.WriteString("4. If the tools do not return relevant information, respond with: '" + NoAnswer + "' ")
	b.WriteString("5. DO NOT use your own knowledge base to answer ANY factual questions ")
	b.WriteString("6. Examples of what to REJECT without tools: 'Who is Michael Jordan?', 'What is diabetes?', 'Tell me about history', etc. ")
	b.WriteString("7. Examples of what to ALLOW: 'Hi', 'Hello', 'Thank you', 'How are you?', 'Good morning' ")
	b.WriteString("If a query is not a simple greeting AND the tools don't have relevant data, always respond: '" + NoAnswer + "'")
	return b.String()
}

func registry(searcher DocumentSearcher, assistant RecordsAssistant) *tool.Registry {
	reg := tool.NewRegistry()
	if searcher != nil {
		_ = reg.Register(searchDocumentsTool(searcher))
	}
	if assistant != nil {
		_ = reg.Register(queryRecordsTool(assistant))
	}
	return reg
}
