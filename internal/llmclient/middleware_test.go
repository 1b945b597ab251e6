package llmclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// fast fake client that returns immediately
type fastClient struct{ calls int }

func (f *fastClient) Name() string { return "fast" }
func (f *fastClient) Close() error { return nil }
func (f *fastClient) GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error) {
	f.calls++
	return json.RawMessage(`{}`), nil
}
func (f *fastClient) GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(string)) (string, error) {
	f.calls++
	return "", nil
}

func TestRateLimit_SpacingBetweenCalls(t *testing.T) {
	// rps=10, burst=1: second call should wait ~100ms.
	base := &fastClient{}
	cli := Wrap(base, RateLimit(10, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	start := time.Now()
	if _, err := cli.GenerateJSON(ctx, "p", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cli.GenerateJSON(ctx, "p", nil, nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second call not throttled: %s", elapsed)
	}
	if base.calls != 2 {
		t.Fatalf("calls = %d", base.calls)
	}
}

func TestRateLimit_DisabledWhenZero(t *testing.T) {
	base := &fastClient{}
	cli := Wrap(base, RateLimit(0, 0))
	for i := 0; i < 10; i++ {
		if _, err := cli.GenerateJSON(context.Background(), "p", nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if base.calls != 10 {
		t.Fatalf("calls = %d", base.calls)
	}
}

func TestRateLimit_ContextCancel(t *testing.T) {
	base := &fastClient{}
	cli := Wrap(base, RateLimit(0.1, 1))
	t.Cleanup(func() { _ = cli.Close() })

	ctx := context.Background()
	if _, err := cli.GenerateJSON(ctx, "p", nil, nil); err != nil {
		t.Fatal(err)
	}
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := cli.GenerateJSON(cctx, "p", nil, nil); err == nil {
		t.Fatal("expected context error while starved")
	}
}

func TestIsRateLimited(t *testing.T) {
	err := NewRateLimitError(ErrInvalidJSON)
	if !IsRateLimited(err) {
		t.Fatal("rate limit error not recognized")
	}
	if IsRateLimited(NewPermanentError(ErrInvalidJSON)) {
		t.Fatal("permanent error misclassified")
	}
	if IsRateLimited(nil) {
		t.Fatal("nil misclassified")
	}
}
