package document

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SourceFields lists, in priority order, the metadata fields that may carry
// a passage's provenance.
var SourceFields = []string{"source", "metadata_storage_path", "metadata_storage_name", "file_name", "id", "sourcefile"}

// UnknownSource is the provenance reported when no source field is set.
const UnknownSource = "Unknown Source"

// Document represents a knowledge source that can be chunked and indexed.
type Document struct {
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk represents a slice of a document that is indexed into a vector store.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Ordinal    int            `json:"ordinal"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EnsureDocumentID makes sure every document has a stable identifier.
func EnsureDocumentID(doc *Document) {
	if doc == nil || doc.ID != "" {
		return
	}
	doc.ID = "doc_" + uuid.NewString()
}

// ChunkID returns the identifier of the ordinal-th chunk of a document.
// Re-indexing the same document therefore overwrites its previous chunks.
func ChunkID(docID string, ordinal int) string {
	if docID == "" {
		docID = "doc_" + uuid.NewString()
	}
	return fmt.Sprintf("%s_chunk_%d", docID, ordinal)
}

// RawSource resolves a passage's provenance from its metadata, trying
// SourceFields in order.
func RawSource(metadata map[string]any) string {
	for _, field := range SourceFields {
		v, ok := metadata[field]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return UnknownSource
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Metadata = cloneMeta(d.Metadata)
	return out
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	out.Metadata = cloneMeta(c.Metadata)
	return out
}

func cloneMeta(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
