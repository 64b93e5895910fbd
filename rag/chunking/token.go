package chunking

import (
	"context"
	"strings"

	"github.com/sweetpotato0/medrag/rag/document"
	"github.com/sweetpotato0/medrag/rag/tokenizer"
)

// TokenChunker sizes chunks in model tokens instead of runes, so a chunk
// maps directly onto the synthesis context budget. Words are packed
// greedily; consecutive chunks share up to overlap tokens of trailing words.
type TokenChunker struct {
	tok     tokenizer.Tokenizer
	max     int
	overlap int
}

var _ Chunker = (*TokenChunker)(nil)

// NewTokenChunker creates a chunker bounded by maxTokens per chunk. A nil
// tokenizer falls back to the approximate one.
func NewTokenChunker(tok tokenizer.Tokenizer, maxTokens, overlap int) *TokenChunker {
	if tok == nil {
		tok = tokenizer.NewSimpleTokenizer()
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if overlap < 0 || overlap >= maxTokens {
		overlap = maxTokens / 4
	}
	return &TokenChunker{tok: tok, max: maxTokens, overlap: overlap}
}

type word struct {
	text   string
	tokens int
}

// Chunk implements Chunker.
func (c *TokenChunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	document.EnsureDocumentID(&doc)

	var (
		pieces []string
		cur    []word
		used   int
		fresh  bool
	)
	flush := func() {
		if !fresh {
			return
		}
		parts := make([]string, len(cur))
		for i, w := range cur {
			parts[i] = w.text
		}
		pieces = append(pieces, strings.Join(parts, " "))
		cur, used = c.tail(cur)
		fresh = false
	}

	for _, text := range strings.Fields(doc.Content) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := word{text: text, tokens: max(1, c.tok.CountTokens(text))}
		if used+w.tokens > c.max && fresh {
			flush()
		}
		if used+w.tokens > c.max {
			cur, used = nil, 0
		}
		cur = append(cur, w)
		used += w.tokens
		fresh = true
	}
	flush()

	chunks := make([]document.Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, newChunk(doc, i+1, text, true))
	}
	return chunks, nil
}

// tail keeps the trailing words of a finished chunk that fit in the overlap.
func (c *TokenChunker) tail(words []word) ([]word, int) {
	if c.overlap == 0 {
		return nil, 0
	}
	n, used := 0, 0
	for i := len(words) - 1; i >= 0; i-- {
		if used+words[i].tokens > c.overlap {
			break
		}
		used += words[i].tokens
		n++
	}
	return append([]word(nil), words[len(words)-n:]...), used
}
