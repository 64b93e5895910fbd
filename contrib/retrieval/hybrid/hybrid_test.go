package hybrid

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/contrib/vector/inmemory"
	"github.com/sweetpotato0/medrag/rag/document"
)

// hashEmbedder maps words onto a small bag-of-words vector.
type hashEmbedder struct {
	fail bool
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if h.fail {
		return nil, errors.New("embedding service down")
	}
	vec := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(strings.Trim(w, ".,")))
		vec[f.Sum32()%16]++
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return 16 }

func corpus() []document.Document {
	return []document.Document{
		{ID: "knee", Content: "Arthroscopic knee surgery recovery takes six weeks of physiotherapy.", Metadata: map[string]any{"source": "docs/knee_recovery.pdf"}},
		{ID: "flu", Content: "Influenza vaccination is recommended every autumn for older adults.", Metadata: map[string]any{"file_name": "flu_guidance.md"}},
	}
}

func TestEngineHybridRanking(t *testing.T) {
	ctx := context.Background()
	engine := New(inmemory.NewInMemoryVectorStore(), &hashEmbedder{})

	n, err := engine.IndexDocuments(ctx, corpus()...)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, engine.Count())

	hits, err := engine.Search(ctx, "knee surgery recovery", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "docs/knee_recovery.pdf", hits[0].RawSource)
	assert.Equal(t, "knee", hits[0].Metadata["document_id"])
}

func TestEngineKeywordOnly(t *testing.T) {
	ctx := context.Background()
	engine := New(nil, nil)

	_, err := engine.IndexDocuments(ctx, corpus()...)
	require.NoError(t, err)

	hits, err := engine.Search(ctx, "influenza vaccination", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "flu_guidance.md", hits[0].RawSource)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestEngineDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	emb := &hashEmbedder{}
	engine := New(nil, emb)
	_, err := engine.IndexDocuments(ctx, corpus()...)
	require.NoError(t, err)

	emb.fail = true
	hits, err := engine.Search(ctx, "knee physiotherapy", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "docs/knee_recovery.pdf", hits[0].RawSource)
}

func TestEngineValidationAndClear(t *testing.T) {
	ctx := context.Background()
	engine := New(nil, nil)

	_, err := engine.Search(ctx, "   ", 3)
	assert.Error(t, err)

	_, err = engine.IndexDocuments(ctx, corpus()...)
	require.NoError(t, err)
	require.NoError(t, engine.Clear(ctx))
	assert.Zero(t, engine.Count())

	hits, err := engine.Search(ctx, "knee", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBM25ReindexReplacesPostings(t *testing.T) {
	idx := newBM25()
	idx.add("a", "heart failure")
	idx.add("a", "kidney stones")

	assert.Empty(t, idx.search("heart", 5))
	hits := idx.search("kidney", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}
