package llmclient

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Middleware decorates a Client to inject cross-cutting concerns.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// RateLimit limits request rate with a token bucket. If rps <= 0 the
// limiter is effectively disabled. This throttles cooperatively below
// the orchestrator's own inter-request delay; it is not the retry
// policy (that lives in the engine, where it can publish state).
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst)}
	}
}

// RateLimitFromEnv reads LLM_RPS / LLM_BURST from the environment.
func RateLimitFromEnv() Middleware {
	rps, _ := strconv.ParseFloat(os.Getenv("LLM_RPS"), 64)
	burst, _ := strconv.Atoi(os.Getenv("LLM_BURST"))
	return RateLimit(rps, burst)
}

type rateLimited struct {
	next Client
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input, image)
}

func (c *rateLimited) GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(chunk string)) (string, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return "", err
	}
	return c.next.GenerateTextStream(ctx, prompt, image, onChunk)
}

// Logging logs one line per request with phase, duration and outcome.
func Logging() Middleware {
	return func(next Client) Client {
		return &logged{next: next}
	}
}

type logged struct {
	next Client
}

func (c *logged) Name() string { return c.next.Name() }
func (c *logged) Close() error { return c.next.Close() }

func (c *logged) GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error) {
	start := time.Now()
	out, err := c.next.GenerateJSON(ctx, prompt, input, image)
	log.Printf("llm json (%s): %s in %s err=%v", PhaseFrom(ctx), c.next.Name(), time.Since(start).Round(time.Millisecond), err)
	return out, err
}

func (c *logged) GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(chunk string)) (string, error) {
	start := time.Now()
	out, err := c.next.GenerateTextStream(ctx, prompt, image, onChunk)
	log.Printf("llm stream (%s): %s %d bytes in %s err=%v", PhaseFrom(ctx), c.next.Name(), len(out), time.Since(start).Round(time.Millisecond), err)
	return out, err
}
