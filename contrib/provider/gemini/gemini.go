// Package gemini adapts Google's Gemini models to agent.LLMClient.
package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/message"
	"github.com/sweetpotato0/medrag/tool"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

// Provider implements agent.LLMClient for Google Gemini.
type Provider struct {
	config Config
	client *genai.Client
}

// New creates a Gemini provider. The caller owns Close.
func New(ctx context.Context, config *Config, opts ...option.ClientOption) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	cfg := *config
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.APIKey == "" && len(opts) == 0 {
		return nil, medragerr.New(medragerr.CodeProviderRequestInvalid, "gemini api key not configured")
	}
	if cfg.APIKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, medragerr.Wrap(err, medragerr.CodeProviderUpstreamFailure, "creating gemini client")
	}
	return &Provider{config: cfg, client: client}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.config.Model
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, messages []*message.Message, tools []tool.Spec) (*message.Message, error) {
	system, contents, err := encodeContents(messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, medragerr.New(medragerr.CodeProviderRequestInvalid, "conversation must end with a user or tool turn")
	}

	// GenerativeModel carries per-request state, so one is built per call.
	model := p.client.GenerativeModel(p.config.Model)
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(tools) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: encodeTools(tools)}}
	}

	chat := model.StartChat()
	chat.History = contents[:len(contents)-1]
	resp, err := chat.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, medragerr.Wrap(err, medragerr.CodeProviderUpstreamFailure, "gemini generate content",
			medragerr.Field("model", p.config.Model))
	}
	return decodeResponse(resp)
}

// encodeContents maps the conversation onto user/model contents, merging
// consecutive turns of the same role.
func encodeContents(messages []*message.Message) (string, []*genai.Content, error) {
	var system []string
	var out []*genai.Content

	add := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			system = append(system, msg.Content)
		case message.RoleUser:
			add("user", genai.Text(msg.Content))
		case message.RoleTool:
			add("user", genai.FunctionResponse{
				Name:     msg.ToolName,
				Response: map[string]any{"content": msg.Content},
			})
		case message.RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, err := tc.Args()
				if err != nil {
					return "", nil, err
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
			}
			add("model", parts...)
		}
	}
	return strings.Join(system, "\n"), out, nil
}

func decodeResponse(resp *genai.GenerateContentResponse) (*message.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, medragerr.New(medragerr.CodeProviderResponseInvalid, "no candidates in gemini response")
	}

	var text strings.Builder
	var calls []message.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			// Gemini does not issue call ids.
			calls = append(calls, message.NewToolCall(v.Name, v.Args))
		}
	}

	reply := message.NewMessage(message.RoleAssistant, text.String())
	reply.ToolCalls = calls
	return reply, nil
}

func encodeTools(specs []tool.Spec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaFrom(spec.Parameters),
		})
	}
	return out
}

// schemaFrom converts a JSON schema object into Gemini's schema type.
// Keywords Gemini does not model are dropped.
func schemaFrom(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	s := &genai.Schema{Type: schemaType(raw["type"])}
	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = schemaFrom(pm)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = schemaFrom(items)
	}
	s.Required = stringList(raw["required"])
	s.Enum = stringList(raw["enum"])
	return s
}

func schemaType(v any) genai.Type {
	switch v {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
