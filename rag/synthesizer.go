package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sweetpotato0/medrag/agent"
	"github.com/sweetpotato0/medrag/citation"
	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/rag/tokenizer"
)

// NotFoundAnswer is returned when the context does not hold the answer.
const NotFoundAnswer = "I can't find this in the uploaded documents."

// DefaultSystemPrompt keeps the model to the supplied context and asks for
// a Source/Sources section naming the documents it used.
const DefaultSystemPrompt = "You are a helpful assistant that answers ONLY using the provided context.\n" +
	"If the answer is not present in the context, reply: '" + NotFoundAnswer + "'\n" +
	"When referencing sources, only list the specific document name(s) (e.g., 'cricket.pdf') that were directly used to answer the question.\n" +
	"At the end of your answer, if any sources were used, include a 'Sources' section listing ONLY those documents. " +
	"Format the sources as a numbered list (e.g., 'Sources:\n1. document1.pdf\n2. document2.pdf') if more than one, or 'Source: document1.pdf' if only one.\n"

// Synthesizer produces an answer constrained to the retrieved context.
type Synthesizer struct {
	llm       agent.LLMClient
	prompt    string
	tokenizer tokenizer.Tokenizer
	budget    int
}

// SynthesizerOption customizes a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithPrompt replaces the grounded-answer system prompt.
func WithPrompt(prompt string) SynthesizerOption {
	return func(s *Synthesizer) {
		if strings.TrimSpace(prompt) != "" {
			s.prompt = prompt
		}
	}
}

// WithContextBudget caps the rendered context at max tokens counted by tok.
func WithContextBudget(tok tokenizer.Tokenizer, max int) SynthesizerOption {
	return func(s *Synthesizer) {
		s.tokenizer = tok
		s.budget = max
	}
}

// NewSynthesizer creates a Synthesizer. The client should be configured
// with a low temperature.
func NewSynthesizer(llm agent.LLMClient, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{llm: llm, prompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Messages builds the prompt for a question: system prompt, prior turns,
// then one user turn carrying the context, the available sources and the
// question.
func (s *Synthesizer) Messages(query string, chunks []citation.EvidenceChunk, history []*message.Message) []*message.Message {
	contextText := BuildContextWithin(chunks, s.tokenizer, s.budget)

	var sourceRef string
	if sources := citation.UniqueSources(chunks); len(sources) > 0 {
		sourceRef = "\n\nAvailable Document Sources: " + strings.Join(sources, ", ") + "\n"
	}

	msgs := make([]*message.Message, 0, len(history)+2)
	msgs = append(msgs, message.NewMessage(message.RoleSystem, s.prompt))
	msgs = append(msgs, message.CloneMessages(history)...)
	msgs = append(msgs, message.NewMessage(message.RoleUser,
		fmt.Sprintf("Context:\n%s%s\n\nQuestion:\n%s", contextText, sourceRef, query)))
	return msgs
}

// Answer asks the model for a grounded answer. The answer is returned as
// the model wrote it; citations are reconciled by the caller.
func (s *Synthesizer) Answer(ctx context.Context, query string, chunks []citation.EvidenceChunk, history []*message.Message) (string, error) {
	if s.llm == nil {
		return "", medragerr.New(medragerr.CodeRAGSynthesizeFailure, "synthesizer LLM is not configured")
	}
	resp, err := s.llm.Generate(ctx, s.Messages(query, chunks, history), nil)
	if err != nil {
		return "", medragerr.Wrap(err, medragerr.CodeRAGSynthesizeFailure, "synthesize answer")
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return NotFoundAnswer, nil
	}
	return strings.TrimSpace(resp.Content), nil
}
