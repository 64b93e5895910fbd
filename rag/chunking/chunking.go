package chunking

import (
	"context"
	"strings"

	"github.com/sweetpotato0/medrag/rag/document"
)

// Chunker splits documents into chunks that can be embedded and indexed.
type Chunker interface {
	Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error)
}

type Options struct {
	ChunkSize   int
	Overlap     int
	Separator   string
	IncludeMeta bool
}

// SimpleChunker packs separator-delimited paragraphs into chunks of at most
// ChunkSize runes. Paragraphs longer than that are windowed with Overlap
// runes shared between consecutive windows.
type SimpleChunker struct {
	size    int
	overlap int
	sep     string
	addMeta bool
}

// Option customizes the simple chunker.
type Option func(*Options)

// WithChunkSize overrides the default chunk size (runes).
func WithChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ChunkSize = size
		}
	}
}

// WithOverlap configures overlap (runes) between windows of a long paragraph.
func WithOverlap(overlap int) Option {
	return func(o *Options) {
		if overlap >= 0 {
			o.Overlap = overlap
		}
	}
}

// WithSeparator sets the logical separator used before windowing.
func WithSeparator(sep string) Option {
	return func(o *Options) {
		if sep != "" {
			o.Separator = sep
		}
	}
}

// WithMetadataCopy toggles whether document metadata should be copied to chunks.
func WithMetadataCopy(enabled bool) Option {
	return func(o *Options) {
		o.IncludeMeta = enabled
	}
}

// NewSimpleChunker constructs a chunker with defaults suited to clinical guides.
func NewSimpleChunker(opts ...Option) *SimpleChunker {
	cfg := &Options{
		ChunkSize:   900,
		Overlap:     150,
		Separator:   "\n\n",
		IncludeMeta: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	return &SimpleChunker{
		size:    cfg.ChunkSize,
		overlap: cfg.Overlap,
		sep:     cfg.Separator,
		addMeta: cfg.IncludeMeta,
	}
}

// Chunk splits the document into bounded pieces.
func (c *SimpleChunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	document.EnsureDocumentID(&doc)

	var (
		pieces  []string
		current []rune
	)
	flush := func() {
		if text := strings.TrimSpace(string(current)); text != "" {
			pieces = append(pieces, text)
		}
		current = current[:0]
	}

	for _, part := range strings.Split(doc.Content, c.sep) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		runes := []rune(strings.TrimSpace(part))
		if len(runes) == 0 {
			continue
		}
		if len(runes) > c.size {
			flush()
			pieces = append(pieces, c.window(runes)...)
			continue
		}
		if len(current) > 0 && len(current)+len(c.sep)+len(runes) > c.size {
			flush()
		}
		if len(current) > 0 {
			current = append(current, []rune(c.sep)...)
		}
		current = append(current, runes...)
	}
	flush()

	chunks := make([]document.Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, c.newChunk(doc, i+1, text))
	}
	return chunks, nil
}

func (c *SimpleChunker) window(runes []rune) []string {
	step := c.size - c.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		if text := strings.TrimSpace(string(runes[start:end])); text != "" {
			out = append(out, text)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func (c *SimpleChunker) newChunk(doc document.Document, ordinal int, content string) document.Chunk {
	return newChunk(doc, ordinal, content, c.addMeta)
}

func newChunk(doc document.Document, ordinal int, content string, copyMeta bool) document.Chunk {
	chunk := document.Chunk{
		ID:         document.ChunkID(doc.ID, ordinal),
		DocumentID: doc.ID,
		Content:    content,
		Ordinal:    ordinal,
	}
	if copyMeta && doc.Metadata != nil {
		chunk.Metadata = make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			chunk.Metadata[k] = v
		}
	}
	if chunk.Metadata == nil {
		chunk.Metadata = make(map[string]any, 1)
	}
	chunk.Metadata["chunk_ordinal"] = ordinal
	if doc.Title != "" {
		chunk.Metadata["title"] = doc.Title
	}
	return chunk
}
