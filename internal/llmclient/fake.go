package llmclient

import (
	"context"
	"encoding/json"
)

// FakeClient returns deterministic, minimal payloads per phase for
// offline runs and tests. Streaming is simulated by cutting the canned
// response into fixed-size chunks.
type FakeClient struct {
	ChunkSize int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{ChunkSize: 24}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error) {
	var obj any
	switch PhaseFrom(ctx) {
	case "theme":
		obj = map[string]any{
			"styleTheme":     "Paper Terminal",
			"designLanguage": "Monospaced type on warm paper, hairline rules, ink-blue accents, no gradients.",
		}
	case "architecture":
		obj = []map[string]any{
			{
				"id":          "ticker-strip",
				"name":        "Ticker Strip",
				"category":    "niche",
				"description": "A horizontally scrolling strip of status messages.",
				"affordances": []string{"pause on hover", "seamless loop", "reduced-motion fallback"},
			},
		}
	default:
		obj = map[string]any{}
	}
	b, _ := json.Marshal(obj)
	return json.RawMessage(b), nil
}

func (f *FakeClient) GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(chunk string)) (string, error) {
	body := "Here is the component:\n\n```html\n" +
		"<div class=\"sf-fake\" style=\"font-family:monospace;border:1px solid #345;padding:12px\">\n" +
		"  <strong>fake component</strong>\n" +
		"  <button type=\"button\">Go</button>\n" +
		"</div>\n```\n"
	size := f.ChunkSize
	if size <= 0 {
		size = 24
	}
	for i := 0; i < len(body); i += size {
		end := i + size
		if end > len(body) {
			end = len(body)
		}
		if onChunk != nil {
			onChunk(body[i:end])
		}
		select {
		case <-ctx.Done():
			return body[:end], ctx.Err()
		default:
		}
	}
	return body, nil
}
