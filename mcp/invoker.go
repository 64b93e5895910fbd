package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/records"
)

// RecordsInvoker implements records.Invoker over an MCP session whose server
// exposes the record catalogue as tools of the same names.
type RecordsInvoker struct {
	client *Client
}

var _ records.Invoker = (*RecordsInvoker)(nil)

// NewRecordsInvoker wraps an MCP client.
func NewRecordsInvoker(c *Client) *RecordsInvoker {
	return &RecordsInvoker{client: c}
}

// Invoke implements records.Invoker. Unknown operations fail locally. A
// server-side failure whose text is the structured error payload is
// surfaced as a records.HTTPError when it carries a status.
func (r *RecordsInvoker) Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error) {
	op, ok := records.Lookup(operation)
	if !ok {
		return nil, medragerr.Wrap(&records.OperationError{Operation: operation, Reason: "Unknown function: " + operation},
			medragerr.CodeRecordsInvokeUnknownOperation, "resolve operation", medragerr.FieldOperation(operation))
	}
	callArgs := map[string]any{}
	if op.Param != "" {
		id, err := records.IntArg(args, op.Param)
		if err != nil {
			return nil, medragerr.Wrap(&records.OperationError{Operation: operation, Reason: err.Error()},
				medragerr.CodeRecordsInvokeInvalidInput, "validate arguments", medragerr.FieldOperation(operation))
		}
		callArgs[op.Param] = id
	}

	text, err := r.client.CallTool(ctx, operation, callArgs)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, remoteError(operation, toolErr)
		}
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, medragerr.New(medragerr.CodeRecordsResponseInvalid, "Failed to decode JSON from response",
			medragerr.FieldOperation(operation))
	}
	return json.RawMessage(text), nil
}

// Verify checks that the server serves every catalogue operation and that
// each one takes the identifier parameter the catalogue expects.
func (r *RecordsInvoker) Verify(ctx context.Context) error {
	served, err := r.client.BuildTools(ctx)
	if err != nil {
		return err
	}
	required := make(map[string][]string, len(served))
	for _, t := range served {
		var names []string
		for _, p := range t.Parameters {
			if p.Required {
				names = append(names, p.Name)
			}
		}
		required[t.Name] = names
	}

	var problems []string
	for _, op := range records.Catalog() {
		params, ok := required[op.Name]
		switch {
		case !ok:
			problems = append(problems, op.Name+": not served")
		case op.Param != "" && !slices.Contains(params, op.Param):
			problems = append(problems, op.Name+": missing "+op.Param)
		}
	}
	if len(problems) > 0 {
		return medragerr.New(medragerr.CodeMCPCallFailure, "mcp: records server does not match the catalogue",
			medragerr.Field("problems", strings.Join(problems, "; ")))
	}
	return nil
}

// Watch re-verifies the catalogue each time the server announces a tool
// list change and hands the result to report. It returns when ctx ends or
// the client closes. A nil report logs the outcome.
func (r *RecordsInvoker) Watch(ctx context.Context, report func(error)) {
	if report == nil {
		report = func(err error) {
			if err != nil {
				r.client.logger.Warn("records mcp catalogue changed", "error", err)
				return
			}
			r.client.logger.Info("records mcp catalogue changed, still complete")
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.client.Done():
			return
		case <-r.client.ToolsChanged():
			report(r.Verify(ctx))
		}
	}
}

// remoteError rebuilds an HTTPError from a payload produced by Server.
func remoteError(operation string, toolErr *ToolError) error {
	var payload struct {
		Status int    `json:"status_code"`
		Detail string `json:"detail"`
		URL    string `json:"url"`
	}
	if json.Unmarshal([]byte(toolErr.Message), &payload) == nil && payload.Status > 0 {
		httpErr := &records.HTTPError{Operation: operation, URL: payload.URL, StatusCode: payload.Status, Body: payload.Detail}
		code := medragerr.CodeRecordsHTTPUpstreamFailure
		if payload.Status == 404 {
			code = medragerr.CodeRecordsHTTPNotFound
		}
		return medragerr.Wrap(httpErr, code, operation, medragerr.FieldOperation(operation))
	}
	return medragerr.Wrap(toolErr, medragerr.CodeMCPCallFailure, operation, medragerr.FieldOperation(operation))
}
