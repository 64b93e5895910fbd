// Package hybrid blends embedding similarity with an in-process BM25 index.
// Without an embedder, or when embedding fails, it serves keyword results
// alone.
package hybrid

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sweetpotato0/medrag/contrib/vector/inmemory"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/pkg/logging"
	"github.com/sweetpotato0/medrag/rag/chunking"
	"github.com/sweetpotato0/medrag/rag/document"
	"github.com/sweetpotato0/medrag/rag/retriever"
	"github.com/sweetpotato0/medrag/vector"
)

// Config configures the hybrid retrieval engine.
type Config struct {
	VectorTopK    int
	KeywordTopK   int
	VectorWeight  float32
	KeywordWeight float32
	Chunker       chunking.Chunker
	Logger        *slog.Logger
}

// Option customises the engine config.
type Option func(*Config)

// WithVectorTopK sets how many vector hits are pulled from the store.
func WithVectorTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.VectorTopK = k
		}
	}
}

// WithKeywordTopK caps BM25 results that merge into the final list.
func WithKeywordTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.KeywordTopK = k
		}
	}
}

// WithWeights customises the contribution of vector vs. keyword search (defaults 0.7/0.3).
func WithWeights(vectorWeight, keywordWeight float32) Option {
	return func(cfg *Config) {
		if vectorWeight >= 0 && keywordWeight >= 0 {
			cfg.VectorWeight = vectorWeight
			cfg.KeywordWeight = keywordWeight
		}
	}
}

// WithChunker overrides the sectioning strategy.
func WithChunker(ch chunking.Chunker) Option {
	return func(cfg *Config) {
		if ch != nil {
			cfg.Chunker = ch
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// Engine composes semantic vector search with a lightweight BM25 index.
type Engine struct {
	store    vector.VectorStore
	embedder vector.Embedder
	cfg      Config
	logger   *slog.Logger

	mu      sync.RWMutex
	chunks  map[string]indexedChunk
	keyword *bm25Index
}

type indexedChunk struct {
	content  string
	metadata map[string]any
}

var (
	_ retriever.Retriever = (*Engine)(nil)
	_ retriever.Indexer   = (*Engine)(nil)
)

// New creates a hybrid engine. A nil store selects the in-memory vector
// store; a nil embedder disables the vector half entirely.
func New(store vector.VectorStore, emb vector.Embedder, opts ...Option) *Engine {
	cfg := Config{
		VectorTopK:    12,
		KeywordTopK:   12,
		VectorWeight:  0.7,
		KeywordWeight: 0.3,
		Chunker:       chunking.NewSimpleChunker(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.WithComponent("retrieval.hybrid")
	}
	if store == nil {
		store = inmemory.NewInMemoryVectorStore()
	}
	return &Engine{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		logger:   cfg.Logger,
		chunks:   make(map[string]indexedChunk),
		keyword:  newBM25(),
	}
}

// IndexDocuments ingests the provided documents. Embedding failures abort
// the document; the chunks already written stay searchable.
func (e *Engine) IndexDocuments(ctx context.Context, docs ...document.Document) (int, error) {
	written := 0
	for _, doc := range docs {
		document.EnsureDocumentID(&doc)
		chunks, err := e.cfg.Chunker.Chunk(ctx, doc)
		if err != nil {
			return written, medragerr.Wrapf(err, medragerr.CodeRetrievalIndexFailure, "chunk document %s", doc.ID)
		}
		for _, chunk := range chunks {
			meta := retriever.ChunkMetadata(doc, chunk)
			if e.embedder != nil {
				vec, err := e.embedder.Embed(ctx, chunk.Content)
				if err != nil {
					return written, medragerr.Wrapf(err, medragerr.CodeRetrievalEmbedFailure, "embed chunk %s", chunk.ID)
				}
				if err := e.store.AddEmbedding(ctx, &vector.Embedding{
					ID:       chunk.ID,
					Vector:   vec,
					Text:     chunk.Content,
					Metadata: meta,
				}); err != nil {
					return written, err
				}
			}
			e.keyword.add(chunk.ID, chunk.Content)
			e.mu.Lock()
			e.chunks[chunk.ID] = indexedChunk{content: chunk.Content, metadata: meta}
			e.mu.Unlock()
			written++
		}
	}
	return written, nil
}

// Search returns passages blending vector and keyword matches, best first.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]retriever.Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, medragerr.New(medragerr.CodeRetrievalInvalidInput, "query is empty")
	}
	if k <= 0 {
		k = 5
	}

	scores := make(map[string]float32)

	keywordHits := e.keyword.search(query, max(e.cfg.KeywordTopK, k))
	if len(keywordHits) > 0 {
		top := keywordHits[0].Score
		for _, hit := range keywordHits {
			norm := float32(1)
			if top > 0 {
				norm = hit.Score / top
			}
			scores[hit.ID] += norm * e.keywordWeight()
		}
	}

	for _, hit := range e.vectorHits(ctx, query, max(e.cfg.VectorTopK, k)) {
		scores[hit.ID] += hit.Score * e.cfg.VectorWeight
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]retriever.Passage, 0, len(ids))
	for _, id := range ids {
		c, ok := e.chunks[id]
		if !ok {
			continue
		}
		out = append(out, retriever.Passage{
			ID:        id,
			Content:   c.content,
			RawSource: document.RawSource(c.metadata),
			Score:     scores[id],
			Metadata:  c.metadata,
		})
	}
	return out, nil
}

// keywordWeight is the full weight when no vector signal can contribute.
func (e *Engine) keywordWeight() float32 {
	if e.embedder == nil {
		return 1
	}
	return e.cfg.KeywordWeight
}

func (e *Engine) vectorHits(ctx context.Context, query string, k int) []*vector.Embedding {
	if e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, serving keyword results", "error", err)
		return nil
	}
	hits, err := e.store.Search(ctx, vec, k)
	if err != nil {
		e.logger.Warn("vector search failed, serving keyword results", "error", err)
		return nil
	}
	return hits
}

// Clear removes all indexed state.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks = make(map[string]indexedChunk)
	e.keyword = newBM25()
	return nil
}

// Count returns the number of indexed chunks.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.chunks)
}

// --- BM25 implementation ---

type bm25Index struct {
	mu          sync.RWMutex
	docFreq     map[string]int
	postings    map[string]map[string]int
	chunkLength map[string]int
	totalLength int
	docCount    int
	k1          float64
	b           float64
}

var bm25Regex = regexp.MustCompile(`\p{L}[\p{L}\p{M}]*|\p{N}+`)

func newBM25() *bm25Index {
	return &bm25Index{
		docFreq:     make(map[string]int),
		postings:    make(map[string]map[string]int),
		chunkLength: make(map[string]int),
		k1:          1.6,
		b:           0.75,
	}
}

func (b *bm25Index) add(id, content string) {
	terms := tokenize(content)
	if len(terms) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.chunkLength[id]; ok {
		b.totalLength -= old
		b.docCount--
		for term, posting := range b.postings {
			if _, hit := posting[id]; hit {
				delete(posting, id)
				b.docFreq[term]--
			}
		}
	}
	b.docCount++
	b.chunkLength[id] = len(terms)
	b.totalLength += len(terms)

	seen := make(map[string]struct{})
	for _, term := range terms {
		if _, ok := b.postings[term]; !ok {
			b.postings[term] = make(map[string]int)
		}
		b.postings[term][id]++
		if _, exists := seen[term]; !exists {
			b.docFreq[term]++
			seen[term] = struct{}{}
		}
	}
}

type keywordResult struct {
	ID    string
	Score float32
}

func (b *bm25Index) search(query string, limit int) []keywordResult {
	terms := unique(tokenize(query))
	if len(terms) == 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.docCount == 0 {
		return nil
	}
	avgLen := float64(b.totalLength) / float64(b.docCount)
	scores := make(map[string]float64)
	for _, term := range terms {
		postings := b.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := b.docFreq[term]
		idf := math.Log((float64(b.docCount)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for chunkID, tf := range postings {
			docLen := float64(b.chunkLength[chunkID])
			numerator := float64(tf) * (b.k1 + 1)
			denominator := float64(tf) + b.k1*(1-b.b+b.b*(docLen/avgLen))
			scores[chunkID] += idf * (numerator / denominator)
		}
	}
	results := make([]keywordResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, keywordResult{ID: id, Score: float32(score)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func tokenize(content string) []string {
	return bm25Regex.FindAllString(strings.ToLower(content), -1)
}

func unique(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
