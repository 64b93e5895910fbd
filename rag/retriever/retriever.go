package retriever

import (
	"context"
	"log/slog"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/rag/chunking"
	"github.com/sweetpotato0/medrag/rag/document"
	"github.com/sweetpotato0/medrag/vector"
)

// Passage is one ranked search hit with its opaque provenance.
type Passage struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	RawSource string         `json:"raw_source"`
	Score     float32        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Retriever returns the passages most relevant to a query, best first.
// Implementations degrade to keyword search when vector search is
// unavailable and keep the same result shape.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Passage, error)
}

// Indexer ingests documents so that later searches can find them.
// It returns the number of chunks written.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs ...document.Document) (int, error)
}

// FromEmbedding converts a store hit into a Passage.
func FromEmbedding(e *vector.Embedding) Passage {
	return Passage{
		ID:        e.ID,
		Content:   e.Text,
		RawSource: document.RawSource(e.Metadata),
		Score:     e.Score,
		Metadata:  e.Metadata,
	}
}

// Option customizes a VectorRetriever.
type Option func(*VectorRetriever)

// WithChunker overrides the chunking strategy used by IndexDocuments.
func WithChunker(ch chunking.Chunker) Option {
	return func(r *VectorRetriever) {
		if ch != nil {
			r.chunker = ch
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *VectorRetriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// VectorRetriever searches a vector store by embedding the query. When the
// embedder is missing or fails, or the vector search errors or finds
// nothing, it falls back to the store's keyword search if it has one.
type VectorRetriever struct {
	store    vector.VectorStore
	embedder vector.Embedder
	chunker  chunking.Chunker
	logger   *slog.Logger
}

var (
	_ Retriever = (*VectorRetriever)(nil)
	_ Indexer   = (*VectorRetriever)(nil)
)

// New creates a retriever. emb may be nil for keyword-only operation.
func New(store vector.VectorStore, emb vector.Embedder, opts ...Option) *VectorRetriever {
	r := &VectorRetriever{
		store:    store,
		embedder: emb,
		chunker:  chunking.NewSimpleChunker(),
		logger:   logging.WithComponent("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search implements Retriever.
func (r *VectorRetriever) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	if r.store == nil {
		return nil, medragerr.New(medragerr.CodeRetrievalSearchFailure, "retriever has no store")
	}
	if k <= 0 {
		k = 5
	}

	var vecErr error
	if r.embedder != nil {
		hits, err := r.vectorSearch(ctx, query, k)
		if err == nil && len(hits) > 0 {
			return toPassages(hits), nil
		}
		vecErr = err
		if err != nil {
			r.logger.Warn("vector search unavailable, falling back to keyword search", "error", err)
		}
	}

	ks, ok := r.store.(vector.KeywordSearcher)
	if !ok {
		if vecErr != nil {
			return nil, vecErr
		}
		return nil, nil
	}
	hits, err := ks.SearchText(ctx, query, k)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, "keyword search")
	}
	return toPassages(hits), nil
}

func (r *VectorRetriever) vectorSearch(ctx context.Context, query string, k int) ([]*vector.Embedding, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalEmbedFailure, "embed query")
	}
	return r.store.Search(ctx, vec, k)
}

// IndexDocuments implements Indexer: documents -> chunks -> embeddings -> store.
func (r *VectorRetriever) IndexDocuments(ctx context.Context, docs ...document.Document) (int, error) {
	written := 0
	for _, doc := range docs {
		document.EnsureDocumentID(&doc)
		chunks, err := r.chunker.Chunk(ctx, doc)
		if err != nil {
			return written, medragerr.Wrapf(err, medragerr.CodeRetrievalIndexFailure, "chunk document %s", doc.ID)
		}
		if len(chunks) == 0 {
			continue
		}
		if del, ok := r.store.(vector.DocumentDeleter); ok {
			n, err := del.DeleteDocument(ctx, doc.ID)
			if err != nil {
				return written, err
			}
			if n > 0 {
				r.logger.Debug("replacing indexed document", "document_id", doc.ID, "stale_chunks", n)
			}
		}

		var vectors [][]float32
		if r.embedder != nil {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Content
			}
			if vectors, err = r.embedder.EmbedBatch(ctx, texts); err != nil {
				return written, medragerr.Wrapf(err, medragerr.CodeRetrievalEmbedFailure, "embed document %s", doc.ID)
			}
		}

		for i, chunk := range chunks {
			emb := &vector.Embedding{
				ID:       chunk.ID,
				Text:     chunk.Content,
				Metadata: ChunkMetadata(doc, chunk),
			}
			if i < len(vectors) {
				emb.Vector = vectors[i]
			}
			if err := r.store.AddEmbedding(ctx, emb); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// ChunkMetadata is the metadata stored with an indexed chunk: the chunk's
// own metadata plus document_id and a source fallback.
func ChunkMetadata(doc document.Document, chunk document.Chunk) map[string]any {
	meta := chunk.Clone().Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[vector.MetadataDocumentID] = doc.ID
	if _, ok := meta["source"]; !ok {
		meta["source"] = document.RawSource(doc.Metadata)
	}
	return meta
}

func toPassages(hits []*vector.Embedding) []Passage {
	out := make([]Passage, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		out = append(out, FromEmbedding(h))
	}
	return out
}
