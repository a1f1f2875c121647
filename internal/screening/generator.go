package screening

import "context"

// PromptPart is one piece of a model request: either text or a media blob.
type PromptPart struct {
	Text  string
	Media *Media
}

// TokenUsage reports token counts when the provider returns them.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// GenerateRequest is a single-shot generation call. A nil Schema requests
// free-form text.
type GenerateRequest struct {
	Parts  []PromptPart
	Schema map[string]any
}

type GenerateResponse struct {
	Text         string
	Usage        TokenUsage
	FinishReason string
}

// Generator produces model output for a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}
