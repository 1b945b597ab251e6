// Package llmclient wraps the external generation capability. Clients
// focus on the API call itself; cross-cutting concerns (rate limiting,
// logging) are applied via Middleware.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
)

var ErrInvalidJSON = errors.New("llmclient: invalid JSON from model")

// ImagePayload is an inline image seed passed to a vision-capable model.
type ImagePayload struct {
	MIMEType string
	Data     []byte
}

// Client is the generation capability: submit a prompt, receive a
// text response (optionally streamed), may fail with a rate-limit
// classified error.
type Client interface {
	Name() string

	// GenerateJSON sends prompt plus a JSON-encoded input and asks the
	// model for application/json output. Image may be nil.
	GenerateJSON(ctx context.Context, prompt string, input any, image *ImagePayload) (json.RawMessage, error)

	// GenerateTextStream streams free-form text. Each delivered chunk
	// is passed to onChunk in order; the full accumulated text is
	// returned on success. Image may be nil, onChunk may be nil.
	GenerateTextStream(ctx context.Context, prompt string, image *ImagePayload, onChunk func(chunk string)) (string, error)

	Close() error
}

// PermanentError marks a failure that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// RateLimitError marks a quota / 429-classified failure that is
// expected to clear after backing off.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

func NewRateLimitError(err error) error {
	return &RateLimitError{Err: err}
}

// IsRateLimited reports whether err is rate-limit classified.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
