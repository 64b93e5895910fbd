// Package errorhandler recovers panics raised further down the chain and
// lets callers translate errors.
package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/pkg/logging"
)

// ErrorHandlerFunc handles errors
type ErrorHandlerFunc func(error) error

// ErrorHandler handles errors in the middleware chain
type ErrorHandler struct {
	handler ErrorHandlerFunc
	logger  *slog.Logger
}

// NewErrorHandler creates an error handling middleware. handler may be nil.
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler, logger: logging.WithComponent("middleware")}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute converts a downstream panic into an error and passes every error
// through the handler.
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("middleware chain panicked", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			err = medragerr.Errorf(medragerr.CodeMiddlewarePanic, "panic: %v", rec)
		}
		if err != nil && m.handler != nil {
			err = m.handler(err)
		}
	}()
	return next(ctx)
}

// Classify gives every uncoded error a code so transports can map it to a
// status. Cancellation and deadline errors become agent timeouts. Coded
// errors pass through unchanged.
func Classify() ErrorHandlerFunc {
	return func(err error) error {
		if medragerr.CodeOf(err) != "" {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return medragerr.Wrap(err, medragerr.CodeAgentToolTimeout, "query interrupted")
		}
		return medragerr.Wrap(err, medragerr.CodeOrchestratorFailure, "query failed")
	}
}
