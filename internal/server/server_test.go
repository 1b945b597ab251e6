package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"styleforge/internal/engine"
	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/session"
	"styleforge/internal/styles"
)

func newTestServer(t *testing.T) (*Server, *session.Store, *engine.Orchestrator) {
	t.Helper()
	store := session.NewStore()
	llm := llmclient.NewFakeClient()
	opts := engine.Options{MaxRetries: 1, BackoffBase: time.Millisecond, RequestDelay: time.Millisecond}
	hub := NewHub()
	eng := engine.New(store, llm, opts, hub)
	orch := engine.NewOrchestrator(store, llm, eng, opts)
	stylesStore := styles.New(filepath.Join(t.TempDir(), "styles.json"))
	return New(store, orch, stylesStore, nil, hub), store, orch
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndFetchSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.BuildMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]string{"seedText": "warm paper terminal"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sess model.DesignSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.ID)
	require.Equal(t, "Paper Terminal", sess.StyleTheme)
	require.Len(t, sess.Architecture, 7) // six core modules plus the proposed niche one

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.DesignSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestCreateSessionRejectsEmptySeed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.BuildMux()
	rec := doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.BuildMux()
	rec := doJSON(t, mux, http.MethodGet, "/api/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, "/api/sessions/nope/materialize", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModuleLifecycleOverHTTP(t *testing.T) {
	srv, store, orch := newTestServer(t)
	mux := srv.BuildMux()

	sess, err := orch.CreateSession(context.Background(), engine.Seed{Text: "noir"})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/sessions/"+sess.ID+"/modules", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var added struct {
		Module model.DesignComponent `json:"module"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.NotEmpty(t, added.Module.ID)

	rec = doJSON(t, mux, http.MethodPut,
		"/api/sessions/"+sess.ID+"/modules/"+added.Module.ID+"/affordances",
		map[string]any{"affordances": []string{"keyboard focus ring"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPatch,
		"/api/sessions/"+sess.ID+"/modules/"+added.Module.ID+"/affordances",
		map[string]any{"toggle": "keyboard focus ring"})
	require.Equal(t, http.StatusOK, rec.Code)

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	comp, ok := got.Component(added.Module.ID)
	require.True(t, ok)
	require.Empty(t, comp.Affordances)

	rec = doJSON(t, mux, http.MethodDelete, "/api/sessions/"+sess.ID+"/modules/"+added.Module.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, _ = store.Get(sess.ID)
	_, ok = got.Component(added.Module.ID)
	require.False(t, ok)
}

func TestExportImportRoundTripOverHTTP(t *testing.T) {
	srv, store, orch := newTestServer(t)
	mux := srv.BuildMux()

	sess, err := orch.CreateSession(context.Background(), engine.Seed{Text: "noir"})
	require.NoError(t, err)
	require.NoError(t, orch.MaterializeAll(context.Background(), sess.ID))

	rec := doJSON(t, mux, http.MethodGet, "/api/sessions/"+sess.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Header().Get("Content-Disposition"), sess.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(rec.Body.Bytes()))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusCreated, rec2.Code)

	var imported model.DesignSession
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &imported))
	// The original is still present, so the import lands under a new id.
	require.NotEqual(t, sess.ID, imported.ID)
	require.Equal(t, sess.StyleTheme, imported.StyleTheme)

	got, ok := store.Get(imported.ID)
	require.True(t, ok)
	require.Len(t, got.Architecture, len(sess.Architecture))
}

func TestImportRejectsGarbage(t *testing.T) {
	srv, store, _ := newTestServer(t)
	mux := srv.BuildMux()

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader([]byte("<html>no payload</html>")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Empty(t, store.List())
}

func TestSavedStylesOverHTTP(t *testing.T) {
	srv, _, orch := newTestServer(t)
	mux := srv.BuildMux()

	sess, err := orch.CreateSession(context.Background(), engine.Seed{Text: "noir"})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/styles", map[string]string{"name": "noir", "sessionId": sess.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/styles/noir", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var row styles.SavedStyle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	require.Equal(t, sess.ID, row.Session.ID)

	rec = doJSON(t, mux, http.MethodDelete, "/api/styles/noir", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/styles/noir", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchRequiresSessionID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.BuildMux()
	rec := doJSON(t, mux, http.MethodGet, "/api/watch/", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
