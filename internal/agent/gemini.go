package agent

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiAdapter produces content through Google's Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// NewGeminiAdapter creates a Gemini-backed adapter.
func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiAdapter{client: client, model: model}, nil
}

// Invoke sends the prompt as a single-turn generation request.
func (a *GeminiAdapter) Invoke(ctx context.Context, agentName, prompt string, opts InvokeOptions) (Result, error) {
	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return Result{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Result{}, fmt.Errorf("empty response from model %s", model)
	}
	return Result{Content: text}, nil
}
