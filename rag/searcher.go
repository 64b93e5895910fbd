package rag

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/medrag/citation"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/pkg/telemetry"
	"github.com/sweetpotato0/medrag/rag/retriever"
)

// DefaultTopK is the number of passages retrieved when the caller gives none.
const DefaultTopK = 5

// SearchOutcome is the result of one document search.
type SearchOutcome struct {
	Query     string                   `json:"query"`
	Answer    string                   `json:"answer"`
	Chunks    []citation.EvidenceChunk `json:"chunks"`
	Citations []string                 `json:"citations"`
}

// Searcher runs retrieve, normalize, synthesize and reconcile for a query.
type Searcher struct {
	retriever  retriever.Retriever
	synth      *Synthesizer
	reconciler *citation.Reconciler
	topK       int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// SearcherOption customizes a Searcher.
type SearcherOption func(*Searcher)

// WithReconciler overrides the citation reconciler (e.g. other extensions).
func WithReconciler(r *citation.Reconciler) SearcherOption {
	return func(s *Searcher) {
		if r != nil {
			s.reconciler = r
		}
	}
}

// WithTopK sets the default number of passages.
func WithTopK(k int) SearcherOption {
	return func(s *Searcher) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewSearcher wires a retriever to a synthesizer.
func NewSearcher(r retriever.Retriever, synth *Synthesizer, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		retriever:  r,
		synth:      synth,
		reconciler: citation.Default,
		topK:       DefaultTopK,
		logger:     logging.WithComponent("rag"),
		tracer:     otel.Tracer("github.com/sweetpotato0/medrag/rag"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search answers query from the top k passages. With no passages it returns
// NotFoundAnswer without calling the model. Retriever and model errors are
// returned to the caller.
func (s *Searcher) Search(ctx context.Context, query string, k int) (*SearchOutcome, error) {
	return s.SearchWithHistory(ctx, query, k, nil)
}

// SearchWithHistory is Search with prior conversation turns passed to the
// synthesizer.
func (s *Searcher) SearchWithHistory(ctx context.Context, query string, k int, history []*message.Message) (out *SearchOutcome, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, medragerr.New(medragerr.CodeRetrievalInvalidInput, "search query cannot be empty")
	}
	if s.retriever == nil || s.synth == nil {
		return nil, medragerr.New(medragerr.CodeRAGSynthesizeFailure, "searcher is not configured")
	}
	if k <= 0 {
		k = s.topK
	}

	ctx, span := s.tracer.Start(ctx, "rag.search", trace.WithAttributes(attribute.Int("rag.top_k", k)))
	defer func() { telemetry.End(span, err) }()

	passages, err := s.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, "retrieve passages")
	}

	chunks := make([]citation.EvidenceChunk, 0, len(passages))
	for _, p := range passages {
		chunks = append(chunks, s.reconciler.NewChunk(p.Content, p.RawSource, float64(p.Score)))
	}
	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))

	out = &SearchOutcome{Query: query, Chunks: chunks, Citations: []string{}}
	if len(chunks) == 0 {
		s.logger.Debug("no passages retrieved", "query", query)
		out.Answer = NotFoundAnswer
		return out, nil
	}

	answer, err := s.synth.Answer(ctx, query, chunks, history)
	if err != nil {
		return nil, err
	}
	out.Answer, out.Citations = s.reconciler.Reconcile(answer, chunks)
	if out.Citations == nil {
		out.Citations = []string{}
	}
	s.logger.Debug("document search complete", "chunks", len(chunks), "citations", len(out.Citations))
	return out, nil
}
