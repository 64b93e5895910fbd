package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawSource(t *testing.T) {
	cases := []struct {
		name string
		meta map[string]any
		want string
	}{
		{"source wins", map[string]any{"source": "a.pdf", "file_name": "b.pdf"}, "a.pdf"},
		{"storage path", map[string]any{"metadata_storage_path": "aHR0cHM6Ly9"}, "aHR0cHM6Ly9"},
		{"blank skipped", map[string]any{"source": "  ", "file_name": "c.pdf"}, "c.pdf"},
		{"id fallback", map[string]any{"id": 42}, "42"},
		{"nothing", nil, UnknownSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RawSource(tc.meta))
		})
	}
}

func TestIDs(t *testing.T) {
	doc := Document{}
	EnsureDocumentID(&doc)
	assert.NotEmpty(t, doc.ID)

	kept := Document{ID: "fixed"}
	EnsureDocumentID(&kept)
	assert.Equal(t, "fixed", kept.ID)

	assert.Equal(t, "fixed_chunk_3", ChunkID("fixed", 3))
}

func TestCloneDoesNotAlias(t *testing.T) {
	doc := Document{ID: "d", Metadata: map[string]any{"source": "x.pdf"}}
	clone := doc.Clone()
	clone.Metadata["source"] = "y.pdf"
	assert.Equal(t, "x.pdf", doc.Metadata["source"])
}
