package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimpleTokenizer(t *testing.T) {
	tok := NewSimpleTokenizer()

	assert.Equal(t, 0, tok.CountTokens("   "))
	assert.Equal(t, 5, tok.CountTokens("Knee pain, day 3"))
	assert.Equal(t, 3, tok.CountTokens("膝盖痛"))

	assert.Equal(t, "Knee pain", tok.Truncate("Knee pain, day 3", 2))
	assert.Equal(t, "Knee pain, day 3", tok.Truncate("Knee pain, day 3", 10))
	assert.Equal(t, "", tok.Truncate("Knee", 0))
}

func TestTrimTo(t *testing.T) {
	tok := NewSimpleTokenizer()
	assert.Equal(t, "a b c", TrimTo(tok, "a b c", 0))
	assert.Equal(t, "a b …", TrimTo(tok, "a b c", 2))
	assert.True(t, FitsIn(tok, "a b", 2))
}
