package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/orchestrator"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/records"
)

// ProcessQueryTool is the MCP tool that runs the full orchestrator.
const ProcessQueryTool = "process_query"

// QueryProcessor answers a query end to end.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, query string, history []*message.Message, opts orchestrator.QueryOptions) *orchestrator.PipelineResult
}

type serverConfig struct {
	name      string
	version   string
	processor QueryProcessor
	logger    *slog.Logger
}

// ServerOption configures NewServer.
type ServerOption func(*serverConfig)

// WithImplementation overrides the advertised server name and version.
func WithImplementation(name, version string) ServerOption {
	return func(c *serverConfig) {
		if name != "" {
			c.name = name
		}
		if version != "" {
			c.version = version
		}
	}
}

// WithQueryProcessor exposes process_query next to the record operations.
func WithQueryProcessor(p QueryProcessor) ServerOption {
	return func(c *serverConfig) { c.processor = p }
}

// WithServerLogger overrides the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

type patientArgs struct {
	PatientID int `json:"patient_id" jsonschema:"The ID of the patient"`
}

type doctorArgs struct {
	DoctorID int `json:"doctor_id" jsonschema:"The ID of the doctor"`
}

type studyArgs struct {
	StudyID int `json:"study_id" jsonschema:"The ID of the study"`
}

type noArgs struct{}

type historyTurn struct {
	Role    string `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content" jsonschema:"Turn text"`
}

type processQueryArgs struct {
	Query     string        `json:"query" jsonschema:"The user question"`
	History   []historyTurn `json:"history,omitempty" jsonschema:"Prior conversation turns, oldest first"`
	TopK      int           `json:"top_k,omitempty" jsonschema:"Number of passages to retrieve for document searches"`
	CallerID  string        `json:"caller_id,omitempty" jsonschema:"Caller identity forwarded to the record service"`
	SessionID string        `json:"session_id,omitempty" jsonschema:"Session label for logs and audit"`
	Evaluate  bool          `json:"evaluate,omitempty" jsonschema:"Compute response quality metrics"`
}

// NewServer builds an MCP server exposing every record operation, backed by
// inv, and optionally the orchestrator as process_query.
func NewServer(inv records.Invoker, opts ...ServerOption) *sdkmcp.Server {
	cfg := serverConfig{name: "medrag", version: "0.1.0"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("mcp")
	}

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    cfg.name,
		Version: cfg.version,
		Title:   "medrag healthcare records",
	}, nil)

	for _, op := range records.Catalog() {
		tool := &sdkmcp.Tool{Name: op.Name, Description: op.Description}
		switch op.Param {
		case "patient_id":
			sdkmcp.AddTool(server, tool, operationHandler(inv, op.Name, cfg.logger, func(a patientArgs) map[string]any {
				return map[string]any{op.Param: a.PatientID}
			}))
		case "doctor_id":
			sdkmcp.AddTool(server, tool, operationHandler(inv, op.Name, cfg.logger, func(a doctorArgs) map[string]any {
				return map[string]any{op.Param: a.DoctorID}
			}))
		case "study_id":
			sdkmcp.AddTool(server, tool, operationHandler(inv, op.Name, cfg.logger, func(a studyArgs) map[string]any {
				return map[string]any{op.Param: a.StudyID}
			}))
		default:
			sdkmcp.AddTool(server, tool, operationHandler(inv, op.Name, cfg.logger, func(noArgs) map[string]any {
				return map[string]any{}
			}))
		}
	}

	if cfg.processor != nil {
		addProcessQuery(server, cfg.processor, cfg.logger)
	}
	return server
}

func operationHandler[In any](inv records.Invoker, name string, logger *slog.Logger, toArgs func(In) map[string]any) sdkmcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
		raw, err := inv.Invoke(ctx, name, toArgs(in))
		if err != nil {
			logger.Warn("record operation failed", "operation", name, "error", err)
			return errorResult(name, err), nil, nil
		}
		return textResult(string(raw)), nil, nil
	}
}

// errorResult renders the structured error payload. HTTP failures carry
// status_code so a remote RecordsInvoker can rebuild the HTTPError.
func errorResult(operation string, err error) *sdkmcp.CallToolResult {
	payload := records.ErrorPayload(operation, err)
	var httpErr *records.HTTPError
	if errors.As(err, &httpErr) {
		payload["status_code"] = httpErr.StatusCode
	}
	encoded, mErr := json.Marshal(payload)
	if mErr != nil {
		encoded = []byte(`{"error":"unserialisable error payload"}`)
	}
	res := textResult(string(encoded))
	res.IsError = true
	return res
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}}}
}

func addProcessQuery(server *sdkmcp.Server, p QueryProcessor, logger *slog.Logger) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        ProcessQueryTool,
		Description: "Answer a question by routing it to document search, healthcare records or a direct reply",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, a processQueryArgs) (*sdkmcp.CallToolResult, any, error) {
		history := make([]*message.Message, 0, len(a.History))
		for _, turn := range a.History {
			role := message.RoleUser
			if turn.Role == string(message.RoleAssistant) {
				role = message.RoleAssistant
			}
			history = append(history, message.NewMessage(role, turn.Content))
		}

		result := p.ProcessQuery(ctx, a.Query, history, orchestrator.QueryOptions{
			TopK:      a.TopK,
			CallerID:  a.CallerID,
			SessionID: a.SessionID,
			Evaluate:  a.Evaluate,
		})
		encoded, err := json.Marshal(result)
		if err != nil {
			logger.Error("encode pipeline result", "error", err)
			return errorResult(ProcessQueryTool, err), nil, nil
		}
		return textResult(string(encoded)), nil, nil
	})
}

// ServeStdio runs server over stdin/stdout until ctx ends or the peer
// disconnects.
func ServeStdio(ctx context.Context, server *sdkmcp.Server) error {
	return server.Run(ctx, &sdkmcp.StdioTransport{})
}

// HTTPHandler serves server over the streamable HTTP transport.
func HTTPHandler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return server }, nil)
}
