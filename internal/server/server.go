// Package server exposes the session operations over a JSON HTTP API
// plus a websocket watch stream for live generation updates.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"styleforge/internal/artifact"
	"styleforge/internal/engine"
	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/portable"
	"styleforge/internal/session"
	"styleforge/internal/styles"
	"styleforge/internal/uid"
)

type Server struct {
	store  *session.Store
	orch   *engine.Orchestrator
	styles *styles.Store
	guides *artifact.S3Store // nil when artifact upload is disabled
	hub    *Hub
}

func New(store *session.Store, orch *engine.Orchestrator, stylesStore *styles.Store, guides *artifact.S3Store, hub *Hub) *Server {
	return &Server{store: store, orch: orch, styles: stylesStore, guides: guides, hub: hub}
}

func (s *Server) Hub() *Hub { return s.hub }

// BuildMux wires all HTTP routes.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionSubtree)
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/styles", s.handleStyles)
	mux.HandleFunc("/api/styles/", s.handleStyleByName)
	mux.HandleFunc("/api/watch/", s.handleWatch)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, styles.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation), errors.Is(err, portable.ErrImportFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrBusy):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

type createSessionRequest struct {
	SeedText      string `json:"seedText,omitempty"`
	SeedImage     string `json:"seedImage,omitempty"` // base64
	SeedImageMime string `json:"seedImageMime,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.List())
	case http.MethodPost:
		var in createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		seed := engine.Seed{Text: strings.TrimSpace(in.SeedText)}
		if in.SeedImage != "" {
			data, err := base64.StdEncoding.DecodeString(in.SeedImage)
			if err != nil {
				http.Error(w, "seedImage is not valid base64", http.StatusBadRequest)
				return
			}
			mime := strings.TrimSpace(in.SeedImageMime)
			if mime == "" {
				mime = "image/png"
			}
			seed.Image = &llmclient.ImagePayload{MIMEType: mime, Data: data}
		}
		if seed.Text == "" && seed.Image == nil {
			http.Error(w, "seedText or seedImage is required", http.StatusBadRequest)
			return
		}
		sess, err := s.orch.CreateSession(r.Context(), seed)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSessionSubtree routes /api/sessions/{id}[/...].
func (s *Server) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleSessionByID(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "materialize":
		s.handleMaterialize(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "chain":
		s.handleChain(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "export":
		s.handleExport(w, r, sessionID)
	case len(parts) == 2 && parts[1] == "modules":
		s.handleAddModule(w, r, sessionID)
	case len(parts) == 3 && parts[1] == "modules":
		s.handleModule(w, r, sessionID, parts[2])
	case len(parts) == 4 && parts[1] == "modules" && parts[3] == "affordances":
		s.handleAffordances(w, r, sessionID, parts[2])
	case len(parts) == 4 && parts[1] == "variations" && parts[3] == "remix":
		s.handleRemix(w, r, sessionID, parts[2])
	case len(parts) == 4 && parts[1] == "variations" && parts[3] == "reroll":
		s.handleReroll(w, r, sessionID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.store.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.store.Get(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	go func() {
		if err := s.orch.MaterializeAll(context.Background(), sessionID); err != nil {
			log.Printf("materialize %s: %v", sessionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.store.Get(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	go func() {
		if err := s.orch.RunChain(context.Background(), sessionID); err != nil {
			log.Printf("chain %s: %v", sessionID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.store.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	doc, err := portable.Export(sess)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.guides != nil {
		if key, err := s.guides.PutGuide(r.Context(), sess.ID, doc); err != nil {
			log.Printf("guide upload %s: %v", sess.ID, err)
		} else {
			w.Header().Set("X-Styleforge-Artifact", key)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="style-guide-`+sess.ID+`.html"`)
	_, _ = w.Write(doc)
}

func (s *Server) handleAddModule(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	comp, variation, err := s.orch.AddModule(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"module": comp, "variation": variation})
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request, sessionID, moduleID string) {
	switch r.Method {
	case http.MethodDelete:
		if err := s.orch.DeleteModule(sessionID, moduleID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": moduleID})
	case http.MethodPut:
		var in model.DesignComponent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		in.ID = moduleID
		if err := s.store.UpdateModule(sessionID, in); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": moduleID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAffordances(w http.ResponseWriter, r *http.Request, sessionID, moduleID string) {
	var in struct {
		Affordances []string `json:"affordances"`
		Toggle      string   `json:"toggle,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := s.orch.UpdateAffordances(sessionID, moduleID, in.Affordances); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodPatch:
		if strings.TrimSpace(in.Toggle) == "" {
			http.Error(w, "toggle is required", http.StatusBadRequest)
			return
		}
		if err := s.orch.ToggleAffordance(sessionID, moduleID, in.Toggle); err != nil {
			writeError(w, err)
			return
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": moduleID})
}

func (s *Server) handleRemix(w http.ResponseWriter, r *http.Request, sessionID, variationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		Notes       string   `json:"notes"`
		Affordances []string `json:"affordances,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	go func() {
		if err := s.orch.Remix(context.Background(), sessionID, variationID, in.Notes, in.Affordances); err != nil {
			log.Printf("remix %s/%s: %v", sessionID, variationID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

func (s *Server) handleReroll(w http.ResponseWriter, r *http.Request, sessionID, variationID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	go func() {
		if err := s.orch.Reroll(context.Background(), sessionID, variationID); err != nil {
			log.Printf("reroll %s/%s: %v", sessionID, variationID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// handleImport accepts an exported style guide or a raw JSON session
// and appends it to the session list. A malformed payload is rejected
// without touching existing sessions.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	sess, err := portable.Import(data)
	if err != nil {
		writeError(w, err)
		return
	}
	// Re-importing a guide exported from this instance lands as a copy.
	if _, exists := s.store.Get(sess.ID); exists {
		sess.ID = uid.New("session")
	}
	if err := s.store.Append(sess); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rows, err := s.styles.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case http.MethodPost:
		var in struct {
			Name      string `json:"name"`
			SessionID string `json:"sessionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		sess, ok := s.store.Get(in.SessionID)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		if err := s.styles.Save(r.Context(), in.Name, sess); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"saved": in.Name})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStyleByName(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/styles/"), "/")
	if name == "" {
		http.Error(w, "style name is required", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		row, err := s.styles.Get(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	case http.MethodDelete:
		if err := s.styles.Delete(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/watch/"), "/")
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}
	s.handleWatchWS(w, r, sessionID)
}
