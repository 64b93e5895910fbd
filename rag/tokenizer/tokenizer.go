package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts model tokens so context can be kept within a budget.
type Tokenizer interface {
	CountTokens(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) string
}

var _ Tokenizer = (*SimpleTokenizer)(nil)

// SimpleTokenizer approximates model tokenisation: runs of letters or digits
// count as one token, every other non-space rune counts as its own token.
// It is used when no model-specific encoding is available.
type SimpleTokenizer struct{}

// NewSimpleTokenizer creates an approximate tokenizer.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{}
}

// CountTokens implements Tokenizer.
func (t *SimpleTokenizer) CountTokens(text string) int {
	return len(spans(text))
}

// Truncate implements Tokenizer.
func (t *SimpleTokenizer) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	s := spans(text)
	if len(s) <= max {
		return text
	}
	return text[:s[max-1][1]]
}

// spans returns the byte ranges of each token.
func spans(s string) [][2]int {
	var (
		out   [][2]int
		start = -1
	)
	flush := func(end int) {
		if start >= 0 {
			out = append(out, [2]int{start, end})
			start = -1
		}
	}
	for i, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.Is(unicode.Han, r):
			flush(i)
			out = append(out, [2]int{i, i + len(string(r))})
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
		default:
			flush(i)
			out = append(out, [2]int{i, i + len(string(r))})
		}
	}
	flush(len(s))
	return out
}

// FitsIn reports whether text fits within max tokens.
func FitsIn(t Tokenizer, text string, max int) bool {
	return max <= 0 || t.CountTokens(text) <= max
}

// TrimTo cuts text to max tokens and marks the cut.
func TrimTo(t Tokenizer, text string, max int) string {
	if FitsIn(t, text, max) {
		return text
	}
	return strings.TrimSpace(t.Truncate(text, max)) + " …"
}
