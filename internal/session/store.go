// Package session holds the process-wide session list behind a store
// with transactional, copy-on-write mutations. All readers get clones;
// every update replaces the stored session wholesale, so streaming
// updates and user edits never observe a half-applied change.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"styleforge/internal/model"
	"styleforge/internal/uid"
)

var ErrNotFound = errors.New("session: not found")

// Store is the single shared mutable resource of the system.
type Store struct {
	mu       sync.RWMutex
	sessions []model.DesignSession
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a session to the end of the list. Sessions accumulate
// for the process lifetime; nothing evicts them.
func (s *Store) Append(sess model.DesignSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.ID == sess.ID {
			return fmt.Errorf("session: duplicate id %q", sess.ID)
		}
	}
	s.sessions = append(s.sessions, sess.Clone())
	return nil
}

// List returns clones of all sessions in insertion order.
func (s *Store) List() []model.DesignSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DesignSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Get returns a clone of one session.
func (s *Store) Get(sessionID string) (model.DesignSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			return sess.Clone(), true
		}
	}
	return model.DesignSession{}, false
}

// Update applies fn to a clone of the session and swaps the result in
// if fn succeeds and the result still validates. The stored session is
// never mutated in place.
func (s *Store) Update(sessionID string, fn func(*model.DesignSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sess := range s.sessions {
		if sess.ID != sessionID {
			continue
		}
		next := sess.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		s.sessions[i] = next
		return nil
	}
	return ErrNotFound
}

// UpdateVariation applies fn to one variation. It returns false when
// the session or variation no longer exists, which is how late results
// from in-flight generations for deleted modules get discarded: a
// write to a missing id is a no-op.
func (s *Store) UpdateVariation(sessionID, variationID string, fn func(*model.ComponentVariation)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sess := range s.sessions {
		if sess.ID != sessionID {
			continue
		}
		for j, v := range sess.Variations {
			if v.ID != variationID {
				continue
			}
			next := sess.Clone()
			fn(&next.Variations[j])
			s.sessions[i] = next
			return true
		}
		return false
	}
	return false
}

// AddModule appends a placeholder module and its paired pending
// variation, returning clones of both.
func (s *Store) AddModule(sessionID string) (model.DesignComponent, model.ComponentVariation, error) {
	var comp model.DesignComponent
	var variation model.ComponentVariation
	err := s.Update(sessionID, func(sess *model.DesignSession) error {
		existing := make([]string, 0, len(sess.Architecture))
		for _, c := range sess.Architecture {
			existing = append(existing, c.ID)
		}
		gen := uid.NewModuleIDGenerator(existing...)
		comp = model.DesignComponent{
			ID:          gen.Generate("New Module"),
			Name:        "New Module",
			Description: "Describe what this component should do.",
			Affordances: []string{},
		}
		variation = model.ComponentVariation{
			ID:          uid.New("var"),
			ComponentID: comp.ID,
			StyleName:   sess.StyleTheme,
			Status:      model.StatusPending,
		}
		sess.Architecture = append(sess.Architecture, comp)
		sess.Variations = append(sess.Variations, variation)
		return nil
	})
	return comp, variation, err
}

// DeleteModule removes the module and every variation referencing it.
// The cascade leaves no orphaned variations behind.
func (s *Store) DeleteModule(sessionID, componentID string) error {
	return s.Update(sessionID, func(sess *model.DesignSession) error {
		kept := sess.Architecture[:0]
		found := false
		for _, c := range sess.Architecture {
			if c.ID == componentID {
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			return fmt.Errorf("%w: module %q", ErrNotFound, componentID)
		}
		sess.Architecture = kept
		vars := sess.Variations[:0]
		for _, v := range sess.Variations {
			if v.ComponentID == componentID {
				continue
			}
			vars = append(vars, v)
		}
		sess.Variations = vars
		return nil
	})
}

// UpdateModule edits name/category/description of a module.
func (s *Store) UpdateModule(sessionID string, comp model.DesignComponent) error {
	return s.Update(sessionID, func(sess *model.DesignSession) error {
		for i, c := range sess.Architecture {
			if c.ID != comp.ID {
				continue
			}
			if name := strings.TrimSpace(comp.Name); name != "" {
				sess.Architecture[i].Name = name
			}
			sess.Architecture[i].Category = comp.Category
			sess.Architecture[i].Description = comp.Description
			if comp.Affordances != nil {
				sess.Architecture[i].Affordances = append([]string(nil), comp.Affordances...)
			}
			return nil
		}
		return fmt.Errorf("%w: module %q", ErrNotFound, comp.ID)
	})
}

// SetAffordances replaces a module's affordance list.
func (s *Store) SetAffordances(sessionID, componentID string, affordances []string) error {
	return s.Update(sessionID, func(sess *model.DesignSession) error {
		for i, c := range sess.Architecture {
			if c.ID == componentID {
				sess.Architecture[i].Affordances = append([]string(nil), affordances...)
				return nil
			}
		}
		return fmt.Errorf("%w: module %q", ErrNotFound, componentID)
	})
}

// ToggleAffordance removes the tag if present, else appends it,
// preserving the order of the rest of the list.
func (s *Store) ToggleAffordance(sessionID, componentID, affordance string) error {
	return s.Update(sessionID, func(sess *model.DesignSession) error {
		for i, c := range sess.Architecture {
			if c.ID != componentID {
				continue
			}
			list := c.Affordances
			for j, a := range list {
				if a == affordance {
					sess.Architecture[i].Affordances = append(append([]string(nil), list[:j]...), list[j+1:]...)
					return nil
				}
			}
			sess.Architecture[i].Affordances = append(append([]string(nil), list...), affordance)
			return nil
		}
		return fmt.Errorf("%w: module %q", ErrNotFound, componentID)
	})
}

// SetTheme edits the theme label and/or design language text.
func (s *Store) SetTheme(sessionID, styleTheme, designLanguage string) error {
	return s.Update(sessionID, func(sess *model.DesignSession) error {
		if strings.TrimSpace(styleTheme) != "" {
			sess.StyleTheme = styleTheme
		}
		if strings.TrimSpace(designLanguage) != "" {
			sess.DesignLanguage = designLanguage
		}
		return nil
	})
}
