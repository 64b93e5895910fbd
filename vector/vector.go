package vector

import (
	"context"
	"math"
)

// Embedding is a stored vector together with the passage it encodes.
type Embedding struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
	// Score is filled in by searches; higher is more relevant.
	Score float32
}

// Clone returns a copy that shares no maps or slices with e.
func (e *Embedding) Clone() *Embedding {
	if e == nil {
		return nil
	}
	out := *e
	if e.Vector != nil {
		out.Vector = append([]float32(nil), e.Vector...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// VectorStore defines the interface for vector storage and similarity search
type VectorStore interface {
	// AddEmbedding adds or replaces an embedding
	AddEmbedding(ctx context.Context, embedding *Embedding) error

	// Search finds embeddings similar to the query vector, best first
	Search(ctx context.Context, queryVector []float32, topK int) ([]*Embedding, error)

	// GetEmbedding retrieves a specific embedding by ID
	GetEmbedding(ctx context.Context, id string) (*Embedding, error)

	// Clear removes all embeddings
	Clear(ctx context.Context) error

	// Count returns the number of embeddings
	Count(ctx context.Context) (int, error)
}

// KeywordSearcher is implemented by stores that can rank stored passages by
// plain text relevance when no query vector is available.
type KeywordSearcher interface {
	SearchText(ctx context.Context, query string, topK int) ([]*Embedding, error)
}

// DocumentDeleter is implemented by stores that can drop every chunk of one
// document, matched on the "document_id" metadata key. Re-indexing a
// document uses it so chunks from an older, longer version do not linger.
type DocumentDeleter interface {
	DeleteDocument(ctx context.Context, documentID string) (int, error)
}

// MetadataDocumentID is the metadata key chunks carry their document id under.
const MetadataDocumentID = "document_id"

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to embeddings
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineDistanceOperator is the pgvector operator for cosine distance.
const CosineDistanceOperator = "<=>"

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
