package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/session"
)

// scriptedClient plays back one behavior per call; the last behavior
// repeats. It records every prompt it was asked to stream.
type scriptedClient struct {
	mu          sync.Mutex
	calls       int
	prompts     []string
	behaviors   []func(onChunk func(string)) (string, error)
	jsonByPhase map[string]string
	jsonErr     error
}

func (c *scriptedClient) Name() string { return "scripted" }
func (c *scriptedClient) Close() error { return nil }

func (c *scriptedClient) GenerateJSON(ctx context.Context, prompt string, input any, image *llmclient.ImagePayload) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jsonErr != nil {
		return nil, c.jsonErr
	}
	if out, ok := c.jsonByPhase[llmclient.PhaseFrom(ctx)]; ok {
		return json.RawMessage(out), nil
	}
	return json.RawMessage(`{}`), nil
}

func (c *scriptedClient) GenerateTextStream(ctx context.Context, prompt string, image *llmclient.ImagePayload, onChunk func(string)) (string, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if idx >= len(c.behaviors) {
		idx = len(c.behaviors) - 1
	}
	behavior := c.behaviors[idx]
	c.mu.Unlock()
	return behavior(onChunk)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func streamOK(chunks ...string) func(func(string)) (string, error) {
	return func(onChunk func(string)) (string, error) {
		var all string
		for _, ch := range chunks {
			all += ch
			if onChunk != nil {
				onChunk(ch)
			}
		}
		return all, nil
	}
}

func failRateLimited() func(func(string)) (string, error) {
	return func(func(string)) (string, error) {
		return "", llmclient.NewRateLimitError(errors.New("429 resource exhausted"))
	}
}

func failPermanent() func(func(string)) (string, error) {
	return func(func(string)) (string, error) {
		return "", llmclient.NewPermanentError(errors.New("malformed response"))
	}
}

// recorder captures every published variation state in order.
type recorder struct {
	mu      sync.Mutex
	updates []model.ComponentVariation
}

func (r *recorder) VariationUpdated(sessionID string, v model.ComponentVariation) {
	r.mu.Lock()
	r.updates = append(r.updates, v)
	r.mu.Unlock()
}

func (r *recorder) all() []model.ComponentVariation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ComponentVariation(nil), r.updates...)
}

func seedStore(t *testing.T) (*session.Store, model.DesignSession) {
	t.Helper()
	st := session.NewStore()
	sess := model.DesignSession{
		ID:         "s1",
		StyleTheme: "Noir",
		Timestamp:  time.Now(),
		Architecture: []model.DesignComponent{
			{ID: "nav", Name: "Navigation", Description: "Top nav", Affordances: []string{"hover state"}},
		},
		Variations: []model.ComponentVariation{
			{ID: "v1", ComponentID: "nav", StyleName: "Noir", Status: model.StatusPending},
		},
	}
	require.NoError(t, st.Append(sess))
	return st, sess
}

func fastOpts() Options {
	return Options{MaxRetries: 3, BackoffBase: time.Millisecond, RequestDelay: time.Millisecond}
}

func TestGenerate_StreamsAndCompletes(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		streamOK("Here is the component:\n\n```html\n", "<button>", "Go</button>", "\n```"),
	}}
	rec := &recorder{}
	eng := New(st, cli, fastOpts(), rec)

	require.NoError(t, eng.Generate(context.Background(), "s1", "v1", "", ""))

	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, model.StatusComplete, v.Status)
	require.Equal(t, "<button>Go</button>", v.HTML)
	require.Nil(t, v.RetryWait)
	require.Empty(t, v.Error)
	require.Equal(t, 1, cli.callCount())

	// First published state must be streaming with html cleared,
	// before any chunk arrives.
	updates := rec.all()
	require.NotEmpty(t, updates)
	require.Equal(t, model.StatusStreaming, updates[0].Status)
	require.Empty(t, updates[0].HTML)
	// Intermediate updates converge to the final extraction.
	require.Equal(t, model.StatusComplete, updates[len(updates)-1].Status)
}

func TestGenerate_RateLimitedTwiceThenSucceeds(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		failRateLimited(),
		failRateLimited(),
		streamOK("```html\n<nav/>\n```"),
	}}
	rec := &recorder{}
	eng := New(st, cli, fastOpts(), rec)

	require.NoError(t, eng.Generate(context.Background(), "s1", "v1", "", ""))
	require.Equal(t, 3, cli.callCount())

	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, model.StatusComplete, v.Status)
	require.Equal(t, "<nav/>", v.HTML)
	require.Nil(t, v.RetryWait)

	// The waiting sub-state was observable while backing off and is
	// gone from the final state.
	sawWait := false
	for _, u := range rec.all() {
		if u.RetryWait != nil {
			sawWait = true
			require.Equal(t, model.StatusStreaming, u.Status)
		}
	}
	require.True(t, sawWait, "RetryWait never published")
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		failRateLimited(),
	}}
	eng := New(st, cli, fastOpts(), nil)

	err := eng.Generate(context.Background(), "s1", "v1", "", "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	// MaxRetries=3 means exactly MaxRetries+1 calls.
	require.Equal(t, 4, cli.callCount())

	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, model.StatusError, v.Status)
	require.NotEmpty(t, v.Error)
	require.Nil(t, v.RetryWait)
}

func TestGenerate_PermanentFailureIsNotRetried(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		failPermanent(),
	}}
	eng := New(st, cli, fastOpts(), nil)

	err := eng.Generate(context.Background(), "s1", "v1", "", "")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Equal(t, 1, cli.callCount())
}

func TestGenerate_KeepsPartialHTMLOnTerminalFailure(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		func(onChunk func(string)) (string, error) {
			onChunk("```html\n<section>half")
			return "", llmclient.NewPermanentError(errors.New("connection reset"))
		},
	}}
	eng := New(st, cli, fastOpts(), nil)

	require.Error(t, eng.Generate(context.Background(), "s1", "v1", "", ""))
	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, model.StatusError, v.Status)
	require.Equal(t, "<section>half", v.HTML)
}

func TestGenerate_NotesSurviveCompletion(t *testing.T) {
	st, _ := seedStore(t)
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		streamOK("```html\n<p/>\n```"),
	}}
	eng := New(st, cli, fastOpts(), nil)

	require.NoError(t, eng.Generate(context.Background(), "s1", "v1", "make it louder", "<old/>"))
	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, "make it louder", v.Notes)
	require.Nil(t, v.RetryWait)
}

func TestGenerate_DiscardsResultForDeletedModule(t *testing.T) {
	st, _ := seedStore(t)
	var eng *Engine
	cli := &scriptedClient{}
	cli.behaviors = []func(func(string)) (string, error){
		func(onChunk func(string)) (string, error) {
			onChunk("```html\n<nav>first")
			// Module deleted while the stream is mid-flight.
			require.NoError(t, st.DeleteModule("s1", "nav"))
			onChunk("<nav>rest</nav>\n```")
			return "```html\n<nav>first<nav>rest</nav>\n```", nil
		},
	}
	eng = New(st, cli, fastOpts(), nil)

	// The late result is a no-op, not an error.
	require.NoError(t, eng.Generate(context.Background(), "s1", "v1", "", ""))

	got, _ := st.Get("s1")
	require.Empty(t, got.Variations)
	require.NoError(t, got.Validate())
}

func TestGenerate_RejectsOverlappingGenerationForSameVariation(t *testing.T) {
	st, _ := seedStore(t)
	started := make(chan struct{})
	release := make(chan struct{})
	cli := &scriptedClient{behaviors: []func(func(string)) (string, error){
		func(onChunk func(string)) (string, error) {
			close(started)
			<-release
			return "```html\n<div>ok</div>\n```", nil
		},
		streamOK("```html\n<div>ok</div>\n```"),
	}}
	eng := New(st, cli, fastOpts(), nil)

	firstErr := make(chan error, 1)
	go func() { firstErr <- eng.Generate(context.Background(), "s1", "v1", "", "") }()
	<-started

	// A second generation for the same variation must not start a
	// second stream.
	require.ErrorIs(t, eng.Generate(context.Background(), "s1", "v1", "", ""), ErrBusy)
	require.Equal(t, 1, cli.callCount())

	close(release)
	require.NoError(t, <-firstErr)

	got, _ := st.Get("s1")
	v, _ := got.Variation("v1")
	require.Equal(t, model.StatusComplete, v.Status)

	// The slot is released; a reroll afterwards goes through.
	require.NoError(t, eng.Generate(context.Background(), "s1", "v1", "", ""))
	require.Equal(t, 2, cli.callCount())
}

func TestGenerate_UnknownIDs(t *testing.T) {
	st, _ := seedStore(t)
	eng := New(st, &scriptedClient{behaviors: []func(func(string)) (string, error){streamOK("x")}}, fastOpts(), nil)
	require.ErrorIs(t, eng.Generate(context.Background(), "nope", "v1", "", ""), session.ErrNotFound)
	require.ErrorIs(t, eng.Generate(context.Background(), "s1", "nope", "", ""), session.ErrNotFound)
}
