// Package model defines the design-session data model: sessions,
// architecture modules, and their generated variations.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrValidation = errors.New("model: validation failed")

// VariationStatus is the generation lifecycle of one variation.
// Transitions: pending -> streaming -> complete | error. A reroll or
// remix explicitly resets complete/error back to streaming.
type VariationStatus string

const (
	StatusPending   VariationStatus = "pending"
	StatusStreaming VariationStatus = "streaming"
	StatusComplete  VariationStatus = "complete"
	StatusError     VariationStatus = "error"
)

// RetryWait marks the "waiting for quota" sub-state of a streaming
// variation after a rate-limited attempt. It is a tagged value rather
// than a sentinel string in Notes, so user-supplied notes and internal
// wait state can never be confused.
type RetryWait struct {
	Attempt int   `json:"attempt"`
	DelayMS int64 `json:"delayMs"`
}

// DesignComponent is one planned UI module: what to build and the
// affordance contract the generated markup must honor.
type DesignComponent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description"`
	Affordances []string `json:"affordances"`
	BaseHTML    string   `json:"baseHtml,omitempty"`
}

// ComponentVariation is the generated (or pending) artifact for one
// module. ComponentID is a weak back-reference into the owning
// session's Architecture list, never ownership.
type ComponentVariation struct {
	ID          string          `json:"id"`
	ComponentID string          `json:"componentId"`
	StyleName   string          `json:"styleName"`
	HTML        string          `json:"html"`
	Prompt      string          `json:"prompt,omitempty"`
	Status      VariationStatus `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryWait   *RetryWait      `json:"retryWait,omitempty"`
}

// DesignSession is one theme-generation workspace.
type DesignSession struct {
	ID             string               `json:"id"`
	StyleTheme     string               `json:"styleTheme"`
	DesignLanguage string               `json:"designLanguage"`
	Timestamp      time.Time            `json:"timestamp"`
	Architecture   []DesignComponent    `json:"architecture"`
	Variations     []ComponentVariation `json:"variations"`
}

// Component resolves a module by id.
func (s *DesignSession) Component(componentID string) (DesignComponent, bool) {
	for _, c := range s.Architecture {
		if c.ID == componentID {
			return c, true
		}
	}
	return DesignComponent{}, false
}

// Variation resolves a variation by id.
func (s *DesignSession) Variation(variationID string) (ComponentVariation, bool) {
	for _, v := range s.Variations {
		if v.ID == variationID {
			return v, true
		}
	}
	return ComponentVariation{}, false
}

// VariationsFor returns all variations referencing componentID, in
// insertion order.
func (s *DesignSession) VariationsFor(componentID string) []ComponentVariation {
	var out []ComponentVariation
	for _, v := range s.Variations {
		if v.ComponentID == componentID {
			out = append(out, v)
		}
	}
	return out
}

// Clone deep-copies the session so callers can hand copies across
// goroutine boundaries without sharing slices.
func (s DesignSession) Clone() DesignSession {
	out := s
	out.Architecture = make([]DesignComponent, len(s.Architecture))
	for i, c := range s.Architecture {
		cc := c
		cc.Affordances = append([]string(nil), c.Affordances...)
		out.Architecture[i] = cc
	}
	out.Variations = make([]ComponentVariation, len(s.Variations))
	for i, v := range s.Variations {
		vv := v
		if v.RetryWait != nil {
			rw := *v.RetryWait
			vv.RetryWait = &rw
		}
		out.Variations[i] = vv
	}
	return out
}

// Validate checks structural invariants. A dangling ComponentID is a
// bug in delete handling and is reported, never silently ignored.
func (s *DesignSession) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: session id is empty", ErrValidation)
	}
	ids := make(map[string]struct{}, len(s.Architecture))
	for _, c := range s.Architecture {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("%w: module with empty id", ErrValidation)
		}
		if _, dup := ids[c.ID]; dup {
			return fmt.Errorf("%w: duplicate module id %q", ErrValidation, c.ID)
		}
		ids[c.ID] = struct{}{}
	}
	for _, v := range s.Variations {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("%w: variation with empty id", ErrValidation)
		}
		if _, ok := ids[v.ComponentID]; !ok {
			return fmt.Errorf("%w: variation %q references missing module %q", ErrValidation, v.ID, v.ComponentID)
		}
		switch v.Status {
		case StatusPending, StatusStreaming, StatusComplete, StatusError:
		default:
			return fmt.Errorf("%w: variation %q has unknown status %q", ErrValidation, v.ID, v.Status)
		}
	}
	return nil
}
