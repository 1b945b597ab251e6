package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	// The genai client also reads GEMINI_API_KEY from env when apiKey
	// is empty; keep the parameter for a consistent factory signature.
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if strings.TrimSpace(apiKey) != "" {
		cfg.APIKey = apiKey
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

func contents(prompt string, image *ImagePayload) []*genai.Content {
	parts := []*genai.Part{{Text: prompt}}
	if image != nil && len(image.Data) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: image.MIMEType,
			Data:     image.Data,
		}})
	}
	return []*genai.Content{{Parts: parts}}
}

// GenerateJSON concatenates prompt and input, asks for application/json,
// and returns the model's JSON as json.RawMessage.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error) {
	full := prompt
	if input != nil {
		in, _ := json.MarshalIndent(input, "", "  ")
		full = prompt + "\n\n[INPUT JSON]\n" + string(in)
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents(full, image),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, NewPermanentError(ErrInvalidJSON)
	}
	return json.RawMessage(resp.Candidates[0].Content.Parts[0].Text), nil
}

// GenerateTextStream streams the model's text response chunk by chunk.
func (g *GeminiClient) GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(chunk string)) (string, error) {
	var acc strings.Builder
	for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.model, contents(prompt, image), nil) {
		if err != nil {
			return acc.String(), classify(err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			acc.WriteString(part.Text)
			if onChunk != nil {
				onChunk(part.Text)
			}
		}
	}
	return acc.String(), nil
}

// classify maps provider errors onto the retryable/terminal split the
// orchestrator keys off. Anything carrying a 429 status or a quota
// exhaustion marker is retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return NewRateLimitError(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota") {
		return NewRateLimitError(err)
	}
	return err
}
