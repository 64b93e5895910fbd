package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates that the operation is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)

// Code is the machine-readable identifier for an error, in area.operation.reason form.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeAgentLoopInvalidInput Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure      Code = "agent.loop.failure"
	CodeAgentToolNotFound     Code = "agent.tool.not_found"
	CodeAgentToolInvalidInput Code = "agent.tool.invalid_input"
	CodeAgentToolTimeout      Code = "agent.tool.timeout"
	CodeAgentToolFailure      Code = "agent.tool.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"

	CodeRecordsInvokeUnknownOperation Code = "records.invoke.unknown_operation"
	CodeRecordsInvokeInvalidInput     Code = "records.invoke.invalid_input"
	CodeRecordsHTTPNotFound           Code = "records.http.not_found"
	CodeRecordsHTTPUpstreamFailure    Code = "records.http.upstream_failure"
	CodeRecordsResponseInvalid        Code = "records.response.invalid"

	CodeRetrievalSearchFailure  Code = "retrieval.search.failure"
	CodeRetrievalIndexFailure   Code = "retrieval.index.failure"
	CodeRetrievalEmbedFailure   Code = "retrieval.embed.upstream_failure"
	CodeRetrievalInvalidInput   Code = "retrieval.search.invalid_input"
	CodeRAGSynthesizeFailure    Code = "rag.synthesize.upstream_failure"
	CodeIngestReadFailure       Code = "ingest.read.failure"
	CodeOrchestratorInvalidArgs Code = "orchestrator.query.invalid_input"
	CodeOrchestratorFailure     Code = "orchestrator.query.failure"

	CodeSessionStoreFailure Code = "session.store.failure"
	CodeSessionNotFound     Code = "session.store.not_found"
	CodeSessionClosed       Code = "session.state.invalid"
	CodeQualityJudgeFailure Code = "quality.judge.upstream_failure"
	CodeAuditRecordFailure  Code = "audit.record.failure"

	CodeMCPCallFailure      Code = "mcp.call.upstream_failure"
	CodeMCPToolInvalidInput Code = "mcp.tool.invalid_input"

	CodeServerConfigInvalid    Code = "server.config.invalid"
	CodeServerRequestInvalid   Code = "server.request.invalid"
	CodeServerInternalFailure  Code = "server.internal.failure"
	CodeMiddlewareRateLimited  Code = "middleware.rate.exceeded"
	CodeMiddlewareInvalidInput Code = "middleware.input.invalid"
	CodeMiddlewarePanic        Code = "middleware.chain.panic"

	CodeCLISetupFailure   Code = "cli.setup.failure"
	CodeCLIInvalidInput   Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTool(name string) Attr {
	return Field("tool", name)
}

func FieldOperation(name string) Attr {
	return Field("operation", name)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the outermost code attached to err, or "" when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	r := reason(CodeOf(err))
	return r == "not_found" || r == "unknown_operation"
}

func IsInvalidInput(err error) bool {
	if errors.Is(err, ErrInvalidInput) {
		return true
	}
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure" || strings.Contains(string(CodeOf(err)), ".upstream.")
}

// HTTPStatus maps an error to the status code the HTTP API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsRateLimited(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
