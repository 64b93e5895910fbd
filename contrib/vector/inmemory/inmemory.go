package inmemory

import (
	"context"
	"sort"
	"sync"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/vector"
)

var (
	_ vector.VectorStore     = (*InMemoryVectorStore)(nil)
	_ vector.DocumentDeleter = (*InMemoryVectorStore)(nil)
)

// InMemoryVectorStore implements vector.VectorStore with a map scanned by
// cosine similarity. Suitable for local corpora and tests.
type InMemoryVectorStore struct {
	embeddings map[string]*vector.Embedding
	order      []string
	mu         sync.RWMutex
}

// NewInMemoryVectorStore creates a new in-memory vector store
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		embeddings: make(map[string]*vector.Embedding),
	}
}

// AddEmbedding adds or replaces an embedding
func (s *InMemoryVectorStore) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil || embedding.ID == "" {
		return medragerr.New(medragerr.CodeRetrievalIndexFailure, "embedding ID cannot be empty")
	}
	if len(embedding.Vector) == 0 {
		return medragerr.New(medragerr.CodeRetrievalIndexFailure, "embedding vector cannot be empty",
			medragerr.Field("id", embedding.ID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.embeddings[embedding.ID]; !exists {
		s.order = append(s.order, embedding.ID)
	}
	s.embeddings[embedding.ID] = embedding.Clone()
	return nil
}

// Search returns the topK embeddings by cosine similarity. Ties keep
// insertion order so results are deterministic.
func (s *InMemoryVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Embedding, error) {
	if len(queryVector) == 0 {
		return nil, medragerr.New(medragerr.CodeRetrievalInvalidInput, "query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	results := make([]*vector.Embedding, 0, len(s.order))
	for _, id := range s.order {
		emb := s.embeddings[id]
		if len(emb.Vector) != len(queryVector) {
			continue
		}
		hit := emb.Clone()
		hit.Score = vector.CosineSimilarity(queryVector, emb.Vector)
		results = append(results, hit)
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteDocument implements vector.DocumentDeleter.
func (s *InMemoryVectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if doc, _ := s.embeddings[id].Metadata[vector.MetadataDocumentID].(string); doc == documentID {
			delete(s.embeddings, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *InMemoryVectorStore) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emb, exists := s.embeddings[id]
	if !exists {
		return nil, medragerr.Wrapf(medragerr.ErrNotFound, medragerr.CodeRetrievalSearchFailure, "embedding %s", id)
	}
	return emb.Clone(), nil
}

// Clear removes all embeddings
func (s *InMemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.embeddings = make(map[string]*vector.Embedding)
	s.order = nil
	return nil
}

// Count returns the number of embeddings
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.embeddings), nil
}
