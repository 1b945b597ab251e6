package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/prompt"
	"styleforge/internal/session"
	"styleforge/internal/uid"
)

// Seed is the user input a session is created from. Exactly one of
// Text or Image should be set; when both are present the image wins
// and Text becomes supporting context.
type Seed struct {
	Text  string
	Image *llmclient.ImagePayload
}

// Orchestrator creates sessions and sequences generation across them.
// The two bulk modes (materialize-all and the auto-chain) mutually
// exclude each other per session via the busy map.
type Orchestrator struct {
	store  *session.Store
	llm    llmclient.Client
	engine *Engine
	opts   Options

	busyMu sync.Mutex
	busy   map[string]string // sessionID -> "materialize" | "chain"
}

func NewOrchestrator(store *session.Store, llm llmclient.Client, eng *Engine, opts Options) *Orchestrator {
	return &Orchestrator{
		store:  store,
		llm:    llm,
		engine: eng,
		opts:   opts.withDefaults(),
		busy:   make(map[string]string),
	}
}

func (o *Orchestrator) acquire(sessionID, mode string) error {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	if held, ok := o.busy[sessionID]; ok {
		return fmt.Errorf("%w: %s in progress", ErrBusy, held)
	}
	o.busy[sessionID] = mode
	return nil
}

func (o *Orchestrator) release(sessionID string) {
	o.busyMu.Lock()
	delete(o.busy, sessionID)
	o.busyMu.Unlock()
}

// coreModules is the fixed architecture every session starts from.
func coreModules() []model.DesignComponent {
	gen := uid.NewModuleIDGenerator()
	mk := func(name, desc string, affordances ...string) model.DesignComponent {
		return model.DesignComponent{
			ID:          gen.Generate(name),
			Name:        name,
			Category:    "core",
			Description: desc,
			Affordances: affordances,
		}
	}
	return []model.DesignComponent{
		mk("Navigation Bar", "Primary site navigation with brand mark and links.",
			"hover state on links", "active link indicator", "collapses gracefully on narrow widths"),
		mk("Hero Section", "Above-the-fold headline block that sells the theme.",
			"prominent call-to-action", "headline hierarchy", "background treatment in theme"),
		mk("Content Card", "Reusable card for a unit of content.",
			"hover lift or highlight", "clear title and body slots", "consistent corner and shadow language"),
		mk("Form Controls", "Text input, select and checkbox styled as a set.",
			"visible focus state", "error state styling", "disabled state"),
		mk("Button Set", "Primary, secondary and ghost buttons.",
			"hover and active states", "visible focus ring", "disabled state"),
		mk("Footer", "Site footer with link groups and legal line.",
			"link hover state", "clear grouping hierarchy"),
	}
}

type proposedModule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Affordances []string `json:"affordances"`
}

// parseProposedModules validates the model's architecture JSON
// strictly; a structurally invalid list fails the whole creation.
func parseProposedModules(raw json.RawMessage) ([]model.DesignComponent, error) {
	var rows []proposedModule
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: architecture response is not a JSON array: %v", model.ErrValidation, err)
	}
	out := make([]model.DesignComponent, 0, len(rows))
	for i, r := range rows {
		if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Description) == "" {
			return nil, fmt.Errorf("%w: architecture entry %d missing id/name/description", model.ErrValidation, i)
		}
		if len(r.Affordances) == 0 {
			return nil, fmt.Errorf("%w: architecture entry %q has no affordances", model.ErrValidation, r.ID)
		}
		category := strings.TrimSpace(r.Category)
		if category == "" {
			category = "niche"
		}
		out = append(out, model.DesignComponent{
			ID:          r.ID,
			Name:        r.Name,
			Category:    category,
			Description: r.Description,
			Affordances: append([]string(nil), r.Affordances...),
		})
	}
	return out, nil
}

type themeResponse struct {
	StyleTheme     string `json:"styleTheme"`
	DesignLanguage string `json:"designLanguage"`
}

// CreateSession derives a theme from the seed, optionally asks the
// model for niche modules, builds one pending variation per module and
// appends the session. It fails closed: any validation failure leaves
// the session list untouched.
func (o *Orchestrator) CreateSession(ctx context.Context, seed Seed) (model.DesignSession, error) {
	raw, err := o.llm.GenerateJSON(llmclient.WithPhase(ctx, "theme"), prompt.Theme(seed.Text), nil, seed.Image)
	if err != nil {
		return model.DesignSession{}, fmt.Errorf("derive theme: %w", err)
	}
	var theme themeResponse
	if err := json.Unmarshal(raw, &theme); err != nil {
		return model.DesignSession{}, fmt.Errorf("%w: theme response: %v", model.ErrValidation, err)
	}
	if strings.TrimSpace(theme.StyleTheme) == "" || strings.TrimSpace(theme.DesignLanguage) == "" {
		return model.DesignSession{}, fmt.Errorf("%w: theme response missing styleTheme/designLanguage", model.ErrValidation)
	}

	architecture := coreModules()

	rawArch, err := o.llm.GenerateJSON(llmclient.WithPhase(ctx, "architecture"),
		prompt.Architecture(theme.StyleTheme, theme.DesignLanguage), nil, nil)
	if err != nil {
		return model.DesignSession{}, fmt.Errorf("propose architecture: %w", err)
	}
	niche, err := parseProposedModules(rawArch)
	if err != nil {
		return model.DesignSession{}, err
	}

	// Niche modules merge after the core set; ids are deduped against
	// everything already present.
	gen := uid.NewModuleIDGenerator()
	for _, c := range architecture {
		gen.Reserve(c.ID)
	}
	for _, c := range niche {
		if !gen.Reserve(c.ID) {
			c.ID = gen.Generate(c.Name)
		}
		architecture = append(architecture, c)
	}

	sess := model.DesignSession{
		ID:             uid.New("session"),
		StyleTheme:     theme.StyleTheme,
		DesignLanguage: theme.DesignLanguage,
		Timestamp:      time.Now(),
		Architecture:   architecture,
	}
	for _, c := range architecture {
		sess.Variations = append(sess.Variations, model.ComponentVariation{
			ID:          uid.New("var"),
			ComponentID: c.ID,
			StyleName:   theme.StyleTheme,
			Status:      model.StatusPending,
		})
	}
	if err := o.store.Append(sess); err != nil {
		return model.DesignSession{}, err
	}
	log.Printf("session %s created: theme=%q modules=%d", sess.ID, sess.StyleTheme, len(sess.Architecture))
	return sess.Clone(), nil
}

// MaterializeAll generates every non-complete variation sequentially
// in insertion order with a cooperative delay between requests. It is
// resumable: already-complete variations are skipped, so re-invoking
// after an interruption only acts on remaining work. One variation's
// failure never aborts its siblings.
func (o *Orchestrator) MaterializeAll(ctx context.Context, sessionID string) error {
	if err := o.acquire(sessionID, "materialize"); err != nil {
		return err
	}
	defer o.release(sessionID)

	sess, ok := o.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", session.ErrNotFound, sessionID)
	}

	var errs []error
	first := true
	for _, v := range sess.Variations {
		if v.Status == model.StatusComplete {
			continue
		}
		// The variation may have been cascade-deleted since the
		// snapshot; Generate treats that as not-found.
		if !first {
			if err := sleep(ctx, o.opts.RequestDelay); err != nil {
				errs = append(errs, err)
				break
			}
		}
		first = false
		if err := o.engine.Generate(ctx, sessionID, v.ID, "", ""); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// StepNext generates the first pending variation of the session, the
// single step of the self-driving queue of depth 1. It returns false
// when nothing is pending. The session-level guard keeps it from
// overlapping a materialize-all or another chain step.
func (o *Orchestrator) StepNext(ctx context.Context, sessionID string) (bool, error) {
	if err := o.acquire(sessionID, "chain"); err != nil {
		return false, err
	}
	defer o.release(sessionID)

	sess, ok := o.store.Get(sessionID)
	if !ok {
		return false, fmt.Errorf("%w: session %q", session.ErrNotFound, sessionID)
	}
	for _, v := range sess.Variations {
		if v.Status != model.StatusPending {
			continue
		}
		if err := o.engine.Generate(ctx, sessionID, v.ID, "", ""); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// RunChain drives StepNext until no pending variation remains,
// pausing RequestDelay between steps.
func (o *Orchestrator) RunChain(ctx context.Context, sessionID string) error {
	for {
		advanced, err := o.StepNext(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrGenerationFailed) {
			return err
		}
		if !advanced {
			return nil
		}
		if err := sleep(ctx, o.opts.RequestDelay); err != nil {
			return err
		}
	}
}

// Remix commits the updated affordance contract to the owning module
// FIRST, then regenerates the variation carrying the current html
// forward with the refinement notes. The generation prompt is built
// from the post-commit module state.
func (o *Orchestrator) Remix(ctx context.Context, sessionID, variationID, notes string, updatedAffordances []string) error {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: session %q", session.ErrNotFound, sessionID)
	}
	v, ok := sess.Variation(variationID)
	if !ok {
		return fmt.Errorf("%w: variation %q", session.ErrNotFound, variationID)
	}
	if updatedAffordances != nil {
		if err := o.store.SetAffordances(sessionID, v.ComponentID, updatedAffordances); err != nil {
			return err
		}
	}
	return o.engine.Generate(ctx, sessionID, variationID, notes, v.HTML)
}

// Reroll regenerates a variation from scratch, without notes or prior
// html.
func (o *Orchestrator) Reroll(ctx context.Context, sessionID, variationID string) error {
	return o.engine.Generate(ctx, sessionID, variationID, "", "")
}

// AddModule appends a placeholder module plus its pending variation.
func (o *Orchestrator) AddModule(sessionID string) (model.DesignComponent, model.ComponentVariation, error) {
	return o.store.AddModule(sessionID)
}

// DeleteModule cascade-deletes the module and its variations. An
// in-flight generation for it is not aborted; its result is discarded
// on arrival because the variation id no longer resolves.
func (o *Orchestrator) DeleteModule(sessionID, componentID string) error {
	return o.store.DeleteModule(sessionID, componentID)
}

// UpdateAffordances replaces a module's affordance list.
func (o *Orchestrator) UpdateAffordances(sessionID, componentID string, affordances []string) error {
	return o.store.SetAffordances(sessionID, componentID, affordances)
}

// ToggleAffordance flips one tag on a module's contract.
func (o *Orchestrator) ToggleAffordance(sessionID, componentID, affordance string) error {
	return o.store.ToggleAffordance(sessionID, componentID, affordance)
}
