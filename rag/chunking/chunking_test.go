package chunking

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/medrag/rag/document"
)

func TestSimpleChunkerPacksShortParagraphs(t *testing.T) {
	ch := NewSimpleChunker(WithChunkSize(60), WithOverlap(10))
	doc := document.Document{
		ID:       "guide",
		Content:  "Knee pain.\n\nRest and ice.\n\n" + strings.Repeat("Physiotherapy restores range of motion. ", 3),
		Metadata: map[string]any{"source": "Knee Guide.pdf"},
	}

	chunks, err := ch.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	assert.Equal(t, "Knee pain.\n\nRest and ice.", chunks[0].Content)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Ordinal)
		assert.Equal(t, document.ChunkID("guide", i+1), c.ID)
		assert.Equal(t, "Knee Guide.pdf", c.Metadata["source"])
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 60)
	}
}

func TestSimpleChunkerWindowsAreRuneSafe(t *testing.T) {
	ch := NewSimpleChunker(WithChunkSize(10), WithOverlap(3))
	doc := document.Document{ID: "d", Content: strings.Repeat("é", 25)}

	chunks, err := ch.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
	}
	assert.Equal(t, 10, utf8.RuneCountInString(chunks[0].Content))
}

func TestSimpleChunkerEmptyDocument(t *testing.T) {
	chunks, err := NewSimpleChunker().Chunk(context.Background(), document.Document{Content: "  \n\n "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
