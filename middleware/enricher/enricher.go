// Package enricher fills in per-query defaults before the orchestrator runs.
package enricher

import (
	"github.com/google/uuid"

	"github.com/sweetpotato0/medrag/middleware"
)

// MetadataRequestID is the metadata key holding the request id.
const MetadataRequestID = "request_id"

// EnricherFunc enriches the context
type EnricherFunc func(*middleware.Context) error

// ContextEnricher adds additional data to the middleware context
type ContextEnricher struct {
	enrichers []EnricherFunc
}

// NewContextEnricher creates a context enriching middleware
func NewContextEnricher(enrichers ...EnricherFunc) *ContextEnricher {
	return &ContextEnricher{enrichers: enrichers}
}

// Name returns the middleware name
func (m *ContextEnricher) Name() string {
	return "ContextEnricher"
}

// Execute enriches the context
func (m *ContextEnricher) Execute(ctx *middleware.Context, next middleware.Handler) error {
	for _, enrich := range m.enrichers {
		if err := enrich(ctx); err != nil {
			return err
		}
	}
	return next(ctx)
}

// RequestID stores a fresh request id in the metadata unless one is set.
func RequestID() EnricherFunc {
	return func(ctx *middleware.Context) error {
		if _, ok := ctx.Metadata[MetadataRequestID]; !ok {
			ctx.Metadata[MetadataRequestID] = uuid.NewString()
		}
		return nil
	}
}

// Defaults applies the configured result count and evaluation toggle when
// the caller left them unset.
func Defaults(topK int, evaluate bool) EnricherFunc {
	return func(ctx *middleware.Context) error {
		if ctx.Options.TopK == 0 && topK > 0 {
			ctx.Options.TopK = topK
		}
		if evaluate {
			ctx.Options.Evaluate = true
		}
		return nil
	}
}
