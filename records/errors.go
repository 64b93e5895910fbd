package records

import (
	"errors"
	"fmt"

	medragerr "github.com/sweetpotato0/medrag/errors"
)

// HTTPError is a non-2xx answer from the record service. The status code and
// body are preserved for diagnostics.
type HTTPError struct {
	Operation  string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error occurred: %d", e.StatusCode)
}

// Retryable reports whether repeating the request may succeed.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// OperationError is a failure detected before any request was sent.
type OperationError struct {
	Operation string
	Reason    string
}

func (e *OperationError) Error() string {
	return e.Reason
}

// ErrorPayload converts an invocation failure into the structured payload
// handed back to the model: error, detail, operation_name and url when known.
func ErrorPayload(operation string, err error) map[string]any {
	payload := map[string]any{"operation_name": operation}

	var httpErr *HTTPError
	var opErr *OperationError
	switch {
	case errors.As(err, &httpErr):
		payload["error"] = httpErr.Error()
		payload["detail"] = httpErr.Body
		payload["url"] = httpErr.URL
	case errors.As(err, &opErr):
		payload["error"] = opErr.Reason
		payload["detail"] = string(medragerr.CodeOf(err))
	default:
		payload["error"] = "HTTP Request failed"
		payload["detail"] = err.Error()
		if url, ok := medragerr.FieldsOf(err)["url"]; ok {
			payload["url"] = url
		}
	}
	return payload
}
