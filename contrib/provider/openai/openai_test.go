package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/tool"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role       string `json:"role"`
		Content    any    `json:"content"`
		ToolCallID string `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

func TestGenerateToolCall(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_9","type":"function","function":{"name":"search_documents","arguments":"{\"query\":\"knee\"}"}}]}}]}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini", Temperature: 0.2}, option.WithMaxRetries(0))

	prior := message.NewToolCallMessage("", []message.ToolCall{{ID: "call_1", Name: "search_documents", Arguments: `{"query":"hip"}`}})
	msgs := []*message.Message{
		message.NewMessage(message.RoleSystem, "route"),
		message.NewMessage(message.RoleUser, "hip?"),
		prior,
		message.NewToolResponseMessage("call_1", "search_documents", "hip passages"),
		message.NewMessage(message.RoleUser, "and knee?"),
	}
	specs := []tool.Spec{{
		Name:        "search_documents",
		Description: "Search documents",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}}

	reply, err := p.Generate(context.Background(), msgs, specs)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 5)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.Len(t, got.Messages[2].ToolCalls, 1)
	assert.Equal(t, "call_1", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "call_1", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "search_documents", got.Tools[0].Function.Name)
	assert.Equal(t, "object", got.Tools[0].Function.Parameters["type"])

	assert.Equal(t, message.RoleAssistant, reply.Role)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "call_9", reply.ToolCalls[0].ID)
	args, err := reply.ToolCalls[0].Args()
	require.NoError(t, err)
	assert.Equal(t, "knee", args["query"])
}

func TestGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c2","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello!"}}]}`))
	}))
	defer srv.Close()

	p := New(&Config{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
	reply, err := p.Generate(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "Hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply.Content)
	assert.Empty(t, reply.ToolCalls)
	assert.Equal(t, "gpt-4o-mini", p.Model())
}

func TestGenerateErrors(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}))
		defer srv.Close()

		p := New(&Config{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
		_, err := p.Generate(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "Hi")}, nil)
		require.Error(t, err)
		assert.True(t, medragerr.HasCode(err, medragerr.CodeProviderUpstreamFailure))
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"c3","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[]}`))
		}))
		defer srv.Close()

		p := New(&Config{APIKey: "test", BaseURL: srv.URL}, option.WithMaxRetries(0))
		_, err := p.Generate(context.Background(), []*message.Message{message.NewMessage(message.RoleUser, "Hi")}, nil)
		require.Error(t, err)
		assert.True(t, medragerr.HasCode(err, medragerr.CodeProviderResponseInvalid))
	})
}
