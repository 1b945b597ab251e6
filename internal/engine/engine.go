// Package engine drives generation: the per-variation streaming state
// machine and the session-level orchestration on top of it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"styleforge/internal/extract"
	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/prompt"
	"styleforge/internal/session"
)

var (
	// ErrGenerationFailed is terminal for one attempt chain: either a
	// non-retryable failure or an exhausted retry budget.
	ErrGenerationFailed = errors.New("engine: generation failed")
	// ErrBusy means a bulk mode already owns the session, or the
	// variation already has a generation in flight.
	ErrBusy = errors.New("engine: busy")
)

// Options are the generation policy knobs. Zero values fall back to
// the documented defaults.
type Options struct {
	// MaxRetries is the number of retries after the initial attempt on
	// rate-limited failures, so a never-succeeding capability is called
	// MaxRetries+1 times. Default 3.
	MaxRetries int
	// BackoffBase is the first retry wait; attempt i waits
	// BackoffBase * 2^i. Default 1s.
	BackoffBase time.Duration
	// RequestDelay is the cooperative pause between sequential
	// generations in materialize-all and auto-chain modes. It is rate
	// politeness, not a correctness requirement. Default 1s.
	RequestDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.RequestDelay <= 0 {
		o.RequestDelay = time.Second
	}
	return o
}

// Observer is notified after every observable variation change. Used
// by the websocket layer to push live updates; may be nil.
type Observer interface {
	VariationUpdated(sessionID string, v model.ComponentVariation)
}

// Engine runs one variation's generation lifecycle.
type Engine struct {
	store    *session.Store
	llm      llmclient.Client
	opts     Options
	observer Observer

	inflightMu sync.Mutex
	inflight   map[string]struct{} // variation ids currently generating
}

func New(store *session.Store, llm llmclient.Client, opts Options, observer Observer) *Engine {
	return &Engine{
		store:    store,
		llm:      llm,
		opts:     opts.withDefaults(),
		observer: observer,
		inflight: make(map[string]struct{}),
	}
}

// begin marks a variation as generating. At most one generation may be
// in flight per variation; overlapping callers get false.
func (e *Engine) begin(variationID string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, held := e.inflight[variationID]; held {
		return false
	}
	e.inflight[variationID] = struct{}{}
	return true
}

func (e *Engine) end(variationID string) {
	e.inflightMu.Lock()
	delete(e.inflight, variationID)
	e.inflightMu.Unlock()
}

func (e *Engine) publish(sessionID, variationID string) {
	if e.observer == nil {
		return
	}
	sess, ok := e.store.Get(sessionID)
	if !ok {
		return
	}
	if v, ok := sess.Variation(variationID); ok {
		e.observer.VariationUpdated(sessionID, v)
	}
}

// Generate runs the full lifecycle for one variation: transition to
// streaming with html cleared, stream chunks re-extracting after each
// one, retry rate-limited failures with exponential backoff, finish as
// complete or error. On terminal failure the last partial html is
// kept so the user can inspect how far the stream got.
//
// The variation is written through Store.UpdateVariation, so if its
// module is deleted mid-flight every subsequent write is a no-op and
// the late result is discarded.
func (e *Engine) Generate(ctx context.Context, sessionID, variationID, notes, priorHTML string) error {
	sess, ok := e.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", session.ErrNotFound, sessionID)
	}
	variation, ok := sess.Variation(variationID)
	if !ok {
		return fmt.Errorf("%w: variation %q", session.ErrNotFound, variationID)
	}
	comp, ok := sess.Component(variation.ComponentID)
	if !ok {
		// Invariant violation: the store permits no dangling references.
		return fmt.Errorf("%w: variation %q references missing module %q", model.ErrValidation, variationID, variation.ComponentID)
	}

	if !e.begin(variationID) {
		return fmt.Errorf("%w: variation %q is already generating", ErrBusy, variationID)
	}
	defer e.end(variationID)

	// The module contract is read here, after any remix edits were
	// committed, so the model always sees the updated affordances.
	p := prompt.Component(sess, comp, notes, priorHTML)

	// Enter streaming with html reset BEFORE the request is issued, so
	// no reader ever sees status=streaming with stale complete html.
	if !e.store.UpdateVariation(sessionID, variationID, func(v *model.ComponentVariation) {
		v.Status = model.StatusStreaming
		v.HTML = ""
		v.Prompt = p
		v.Notes = notes
		v.Error = ""
		v.RetryWait = nil
	}) {
		return fmt.Errorf("%w: variation %q", session.ErrNotFound, variationID)
	}
	e.publish(sessionID, variationID)

	ctx = llmclient.WithPhase(ctx, "component")
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		var acc []byte
		discarded := false
		final, err := e.llm.GenerateTextStream(ctx, p, nil, func(chunk string) {
			if discarded {
				return
			}
			acc = append(acc, chunk...)
			html := extract.Code(string(acc))
			if !e.store.UpdateVariation(sessionID, variationID, func(v *model.ComponentVariation) {
				v.HTML = html
				v.RetryWait = nil
			}) {
				// Module was deleted mid-flight; the stream finishes
				// on its own and the result is discarded.
				discarded = true
				return
			}
			e.publish(sessionID, variationID)
		})
		if discarded {
			log.Printf("engine: discarding result for removed variation %s", variationID)
			return nil
		}
		if err == nil {
			html := extract.Code(final)
			if !e.store.UpdateVariation(sessionID, variationID, func(v *model.ComponentVariation) {
				v.Status = model.StatusComplete
				v.HTML = html
				v.Error = ""
				v.RetryWait = nil
			}) {
				log.Printf("engine: discarding result for removed variation %s", variationID)
				return nil
			}
			e.publish(sessionID, variationID)
			return nil
		}
		lastErr = err

		if llmclient.IsRateLimited(err) && attempt < e.opts.MaxRetries && ctx.Err() == nil {
			delay := e.opts.BackoffBase * (1 << attempt)
			e.store.UpdateVariation(sessionID, variationID, func(v *model.ComponentVariation) {
				v.RetryWait = &model.RetryWait{Attempt: attempt + 1, DelayMS: delay.Milliseconds()}
			})
			e.publish(sessionID, variationID)
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			continue
		}
		break
	}

	// Terminal: keep the last partial html for inspection.
	e.store.UpdateVariation(sessionID, variationID, func(v *model.ComponentVariation) {
		v.Status = model.StatusError
		v.Error = lastErr.Error()
		v.RetryWait = nil
	})
	e.publish(sessionID, variationID)
	return fmt.Errorf("%w: %s: %v", ErrGenerationFailed, variationID, lastErr)
}

// sleep waits for d or until ctx is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
