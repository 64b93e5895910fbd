// Package records talks to the patient/doctor/study record service and runs
// the structured-data assistant on top of it.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/pkg/telemetry"
)

// CallerIDHeader forwards the caller identity to the record service.
const CallerIDHeader = "X-Caller-ID"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// Invoker executes one named operation and returns its raw JSON result.
type Invoker interface {
	Invoke(ctx context.Context, operation string, args map[string]any) (json.RawMessage, error)
}

type callerIDKey struct{}

// WithCallerID stores the caller identity forwarded on record requests.
func WithCallerID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, callerIDKey{}, id)
}

// CallerIDFromContext returns the identity stored by WithCallerID.
func CallerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey{}).(string)
	return id, ok && id != ""
}

// Config holds record-service client settings.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// DefaultConfig returns the settings for a locally running record service.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:8001",
		Timeout:        30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Client is the HTTP Invoker. Idempotent GETs that fail with a transport
// error, 429 or 5xx are retried with exponential backoff.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	tracer trace.Tracer
}

var _ Invoker = (*Client)(nil)

// NewClient creates a Client, filling zero config values from DefaultConfig.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("records")
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		tracer: otel.Tracer("github.com/sweetpotato0/medrag/records"),
	}
}

// Invoke implements Invoker. Unknown operations and malformed arguments
// fail without contacting the service.
func (c *Client) Invoke(ctx context.Context, operation string, args map[string]any) (out json.RawMessage, err error) {
	op, ok := Lookup(operation)
	if !ok {
		return nil, medragerr.Wrap(&OperationError{Operation: operation, Reason: "Unknown function: " + operation},
			medragerr.CodeRecordsInvokeUnknownOperation, "resolve operation", medragerr.FieldOperation(operation))
	}

	id := 0
	if op.Param != "" {
		id, err = IntArg(args, op.Param)
		if err != nil {
			return nil, medragerr.Wrap(&OperationError{Operation: operation, Reason: err.Error()},
				medragerr.CodeRecordsInvokeInvalidInput, "validate arguments", medragerr.FieldOperation(operation))
		}
	}

	url := c.cfg.BaseURL + op.Endpoint(id)
	ctx, span := c.tracer.Start(ctx, "records.invoke", trace.WithAttributes(
		attribute.String("records.operation", operation),
		attribute.String("http.url", url),
	))
	defer func() { telemetry.End(span, err) }()

	attempt := 0
	body, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		return c.get(ctx, operation, url)
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("record request failed, retrying",
				"operation", operation, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	span.SetAttributes(attribute.Int("records.attempts", attempt))
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			code := medragerr.CodeRecordsHTTPUpstreamFailure
			if httpErr.StatusCode == http.StatusNotFound {
				code = medragerr.CodeRecordsHTTPNotFound
			}
			return nil, medragerr.Wrap(err, code, operation, medragerr.FieldOperation(operation), medragerr.Field("url", url))
		}
		if medragerr.CodeOf(err) != "" {
			return nil, err
		}
		return nil, medragerr.Wrap(err, medragerr.CodeRecordsHTTPUpstreamFailure, operation,
			medragerr.FieldOperation(operation), medragerr.Field("url", url))
	}
	if op.Param != "" {
		c.logger.Debug("record fetched", "operation", operation, op.Param, logging.MaskID(strconv.Itoa(id)), "attempts", attempt)
	}
	return body, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return b
}

func (c *Client) get(ctx context.Context, operation, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if id, ok := CallerIDFromContext(ctx); ok {
		req.Header.Set(CallerIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Operation: operation, URL: url, StatusCode: resp.StatusCode, Body: string(body)}
		if httpErr.Retryable() {
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}
	if !json.Valid(body) {
		return nil, backoff.Permanent(medragerr.New(medragerr.CodeRecordsResponseInvalid,
			"Failed to decode JSON from response", medragerr.FieldOperation(operation), medragerr.Field("url", url)))
	}
	return json.RawMessage(body), nil
}

// IntArg reads an integer argument. JSON numbers with no fractional part and
// numeric strings are accepted.
func IntArg(args map[string]any, name string) (int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "missing required argument %q", name)
	}
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "argument %q must be an integer, got %v", name, v)
		}
		n = int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "argument %q must be an integer, got %q", name, v.String())
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "argument %q must be an integer, got %q", name, v)
		}
		n = parsed
	default:
		return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "argument %q must be an integer, got %T", name, raw)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, medragerr.Errorf(medragerr.CodeRecordsInvokeInvalidInput, "argument %q out of range: %d", name, n)
	}
	return int(n), nil
}
