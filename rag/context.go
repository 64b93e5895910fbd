// Package rag answers questions from retrieved documents: it builds the
// grounded context, asks the model for an answer and reconciles the
// answer's citations against what was actually retrieved.
package rag

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/medrag/citation"
	"github.com/sweetpotato0/medrag/rag/tokenizer"
)

// BuildContext renders chunks as numbered, source-labelled blocks.
func BuildContext(chunks []citation.EvidenceChunk) string {
	return BuildContextWithin(chunks, nil, 0)
}

// BuildContextWithin renders chunks like BuildContext but stops adding
// chunks once the token budget would be exceeded. The first chunk is always
// kept, trimmed to the budget if needed. A nil tokenizer or a non-positive
// budget disables the limit.
func BuildContextWithin(chunks []citation.EvidenceChunk, tok tokenizer.Tokenizer, budget int) string {
	if len(chunks) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(chunks))
	used := 0
	for i, c := range chunks {
		block := formatChunk(i+1, c)
		if tok == nil || budget <= 0 {
			blocks = append(blocks, block)
			continue
		}
		n := tok.CountTokens(block)
		if i == 0 && n > budget {
			blocks = append(blocks, tokenizer.TrimTo(tok, block, budget))
			break
		}
		if used+n > budget {
			break
		}
		used += n
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func formatChunk(i int, c citation.EvidenceChunk) string {
	source := c.NormalizedSource
	if source == "" {
		source = c.RawSource
	}
	return fmt.Sprintf("Chunk %d (source: %s):\n%s", i, source, c.Content)
}
