package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-pro"

// GeminiGenerator implements Generator using Google's Gemini API.
type GeminiGenerator struct {
	client      *genai.Client
	modelID     string
	temperature float32
}

// GeminiOption customizes a GeminiGenerator.
type GeminiOption func(*GeminiGenerator)

// WithTemperature sets the sampling temperature. Negative values keep the
// model default.
func WithTemperature(t float32) GeminiOption {
	return func(g *GeminiGenerator) {
		g.temperature = t
	}
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, modelID string, opts ...GeminiOption) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("screening: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("screening: failed to create gemini client: %w", err)
	}

	g := &GeminiGenerator{
		client:      client,
		modelID:     modelID,
		temperature: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ModelID returns the configured model name.
func (g *GeminiGenerator) ModelID() string {
	return g.modelID
}

// Generate sends a single-turn request. When a schema is set the reply is
// constrained to JSON.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	parts, err := toGenaiParts(req.Parts)
	if err != nil {
		return GenerateResponse{}, err
	}

	model := g.client.GenerativeModel(g.modelID)
	if g.temperature >= 0 {
		model.SetTemperature(g.temperature)
	}
	if req.Schema != nil {
		schema, err := toGenaiSchema(req.Schema)
		if err != nil {
			return GenerateResponse{}, fmt.Errorf("screening: convert response schema: %w", err)
		}
		model.ResponseMIMEType = "application/json"
		model.ResponseSchema = schema
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("screening: gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return GenerateResponse{}, errors.New("screening: gemini returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return GenerateResponse{}, fmt.Errorf("screening: gemini returned empty content (finish reason %s)", candidate.FinishReason)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	result := GenerateResponse{
		Text:         strings.TrimSpace(text.String()),
		FinishReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Close releases resources held by the Gemini client.
func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func toGenaiParts(parts []PromptPart) ([]genai.Part, error) {
	if len(parts) == 0 {
		return nil, errors.New("screening: gemini requires at least one prompt part")
	}
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.Media != nil {
			mime := p.Media.MIMEType
			if mime == "" {
				mime = "application/octet-stream"
			}
			out = append(out, genai.Blob{MIMEType: mime, Data: p.Media.Data})
			continue
		}
		if p.Text != "" {
			out = append(out, genai.Text(p.Text))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("screening: all prompt parts are empty")
	}
	return out, nil
}

// toGenaiSchema converts a JSON schema map to the subset Gemini accepts.
// Unions collapse to their first usable branch and a null branch marks the
// field nullable.
func toGenaiSchema(node map[string]any) (*genai.Schema, error) {
	if node == nil {
		return nil, nil
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := node[key].([]any)
		if !ok {
			continue
		}
		var chosen map[string]any
		nullable := false
		for _, b := range branches {
			branch, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if branch["type"] == "null" {
				nullable = true
				continue
			}
			if chosen == nil && !isOpenObject(branch) {
				chosen = branch
			}
		}
		if chosen == nil {
			return nil, fmt.Errorf("no usable branch in %s", key)
		}
		s, err := toGenaiSchema(chosen)
		if err != nil {
			return nil, err
		}
		if nullable {
			s.Nullable = true
		}
		if s.Description == "" {
			s.Description, _ = node["description"].(string)
		}
		return s, nil
	}

	s := &genai.Schema{}
	s.Description, _ = node["description"].(string)

	typeName, _ := node["type"].(string)
	switch typeName {
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	case "object":
		s.Type = genai.TypeObject
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typeName)
	}

	if enum, ok := node["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
		if len(s.Enum) > 0 {
			s.Format = "enum"
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		child, err := toGenaiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s.Items = child
	}

	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			child, err := toGenaiSchema(prop)
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", name, err)
			}
			s.Properties[name] = child
		}
	}

	if required, ok := node["required"].([]any); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s, nil
}

// isOpenObject reports an object schema without declared properties, which
// Gemini cannot express.
func isOpenObject(node map[string]any) bool {
	if node["type"] != "object" {
		return false
	}
	props, _ := node["properties"].(map[string]any)
	return len(props) == 0
}
