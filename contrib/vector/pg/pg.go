package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/vector"
)

var (
	_ vector.VectorStore     = (*PGVectorStore)(nil)
	_ vector.KeywordSearcher = (*PGVectorStore)(nil)
	_ vector.DocumentDeleter = (*PGVectorStore)(nil)
)

// PGVectorStore implements vector.VectorStore and vector.KeywordSearcher on
// PostgreSQL with the pgvector extension. Keyword search uses the built-in
// full-text engine, so it keeps working when no embedder is configured.
type PGVectorStore struct {
	db        *sql.DB
	dimension int
	tableName string
	language  string
}

// Config holds pgvector configuration
type Config struct {
	DSN       string
	Dimension int    // Embedding dimension (default: 1536)
	TableName string // Table name (default: documents)
	Language  string // Text search configuration (default: english)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func (c *Config) withDefaults() error {
	if strings.TrimSpace(c.DSN) == "" {
		return medragerr.New(medragerr.CodeConfigValidateInvalidValue, "postgres DSN is required")
	}
	if c.Dimension <= 0 {
		c.Dimension = 1536
	}
	if c.TableName == "" {
		c.TableName = "documents"
	}
	if c.Language == "" {
		c.Language = "english"
	}
	if !identRe.MatchString(c.TableName) || !identRe.MatchString(c.Language) {
		return medragerr.New(medragerr.CodeConfigValidateInvalidValue, "invalid table or language identifier",
			medragerr.Field("table", c.TableName), medragerr.Field("language", c.Language))
	}
	return nil
}

// New connects, verifies the connection and prepares the schema.
func New(ctx context.Context, cfg Config) (*PGVectorStore, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalIndexFailure, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalIndexFailure, "ping postgres")
	}

	store := &PGVectorStore{
		db:        db,
		dimension: cfg.Dimension,
		tableName: cfg.TableName,
		language:  cfg.Language,
	}
	if err := store.setup(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PGVectorStore) setup(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		text TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, s.tableName, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING GIN (to_tsvector('%s', text))`,
			s.tableName, s.tableName, s.language),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return medragerr.Wrap(err, medragerr.CodeRetrievalIndexFailure, "prepare pgvector schema")
		}
	}
	return nil
}

// AddEmbedding upserts an embedding. A nil vector stores the passage for
// keyword search only.
func (s *PGVectorStore) AddEmbedding(ctx context.Context, embedding *vector.Embedding) error {
	if embedding == nil || embedding.ID == "" {
		return medragerr.New(medragerr.CodeRetrievalIndexFailure, "embedding ID cannot be empty")
	}
	if len(embedding.Vector) != 0 && len(embedding.Vector) != s.dimension {
		return medragerr.Errorf(medragerr.CodeRetrievalIndexFailure,
			"embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding.Vector))
	}

	meta, err := json.Marshal(nonNil(embedding.Metadata))
	if err != nil {
		return medragerr.Wrap(err, medragerr.CodeRetrievalIndexFailure, "encode metadata")
	}
	var vec any
	if len(embedding.Vector) > 0 {
		vec = vectorToString(embedding.Vector)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, text, metadata, embedding)
	VALUES ($1, $2, $3::jsonb, $4::vector)
	ON CONFLICT (id) DO UPDATE SET
		text = EXCLUDED.text,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query, embedding.ID, embedding.Text, string(meta), vec); err != nil {
		return medragerr.Wrapf(err, medragerr.CodeRetrievalIndexFailure, "add embedding %s", embedding.ID)
	}
	return nil
}

// Search finds embeddings by cosine distance. Score is 1 - distance.
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*vector.Embedding, error) {
	if len(queryVector) != s.dimension {
		return nil, medragerr.Errorf(medragerr.CodeRetrievalInvalidInput,
			"query vector dimension mismatch: expected %d, got %d", s.dimension, len(queryVector))
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, text, metadata, 1 - (embedding %s $1::vector) AS score
	FROM %s
	WHERE embedding IS NOT NULL
	ORDER BY embedding %s $1::vector
	LIMIT $2
	`, vector.CosineDistanceOperator, s.tableName, vector.CosineDistanceOperator)

	return s.query(ctx, "vector search", query, vectorToString(queryVector), topK)
}

// SearchText ranks passages with PostgreSQL full-text search.
func (s *PGVectorStore) SearchText(ctx context.Context, text string, topK int) ([]*vector.Embedding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
	SELECT id, text, metadata, ts_rank(to_tsvector('%[2]s', text), plainto_tsquery('%[2]s', $1)) AS score
	FROM %[1]s
	WHERE to_tsvector('%[2]s', text) @@ plainto_tsquery('%[2]s', $1)
	ORDER BY score DESC
	LIMIT $2
	`, s.tableName, s.language)

	return s.query(ctx, "keyword search", query, text, topK)
}

func (s *PGVectorStore) query(ctx context.Context, what, query string, args ...any) ([]*vector.Embedding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, what)
	}
	defer rows.Close()

	var out []*vector.Embedding
	for rows.Next() {
		var (
			id, text string
			meta     []byte
			score    float64
		)
		if err := rows.Scan(&id, &text, &meta, &score); err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, what+": scan row")
		}
		out = append(out, &vector.Embedding{
			ID:       id,
			Text:     text,
			Metadata: decodeMetadata(meta),
			Score:    float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, what+": iterate rows")
	}
	return out, nil
}

// GetEmbedding retrieves a specific embedding by ID
func (s *PGVectorStore) GetEmbedding(ctx context.Context, id string) (*vector.Embedding, error) {
	query := fmt.Sprintf(`SELECT id, text, metadata, COALESCE(embedding::text, '') FROM %s WHERE id = $1`, s.tableName)

	var (
		embID, text, vecStr string
		meta                []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&embID, &text, &meta, &vecStr)
	if err == sql.ErrNoRows {
		return nil, medragerr.Wrapf(medragerr.ErrNotFound, medragerr.CodeRetrievalSearchFailure, "embedding %s", id)
	}
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, "get embedding")
	}

	emb := &vector.Embedding{ID: embID, Text: text, Metadata: decodeMetadata(meta)}
	if vecStr != "" {
		if emb.Vector, err = stringToVector(vecStr); err != nil {
			return nil, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, "parse vector")
		}
	}
	return emb, nil
}

// Clear removes all embeddings
func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", s.tableName)); err != nil {
		return medragerr.Wrap(err, medragerr.CodeRetrievalIndexFailure, "clear embeddings")
	}
	return nil
}

// DeleteDocument implements vector.DocumentDeleter.
func (s *PGVectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'%s' = $1`, s.tableName, vector.MetadataDocumentID)
	res, err := s.db.ExecContext(ctx, query, documentID)
	if err != nil {
		return 0, medragerr.Wrapf(err, medragerr.CodeRetrievalIndexFailure, "delete document %s", documentID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Count returns the number of embeddings
func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)).Scan(&count); err != nil {
		return 0, medragerr.Wrap(err, medragerr.CodeRetrievalSearchFailure, "count embeddings")
	}
	return count, nil
}

// Close closes the database connection
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stringToVector(str string) ([]float32, error) {
	str = strings.TrimSpace(str)
	str = strings.TrimSuffix(strings.TrimPrefix(str, "["), "]")
	if str == "" {
		return nil, nil
	}
	parts := strings.Split(str, ",")
	vec := make([]float32, 0, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component at index %d: %q", i, part)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}

func decodeMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
