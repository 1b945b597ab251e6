// Package styles persists a named collection of saved design sessions
// ("saved styles"). The default backend is a JSON file under a fixed
// path, loaded lazily at first use and written back on every change;
// a configured Postgres DSN switches to Postgres. Reads go through a
// small LRU cache.
package styles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"styleforge/internal/model"
)

var ErrNotFound = errors.New("styles: not found")

// SavedStyle is one entry of the collection.
type SavedStyle struct {
	Name    string              `json:"name"`
	SavedAt time.Time           `json:"savedAt"`
	Session model.DesignSession `json:"session"`
}

type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byName   map[string]SavedStyle

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, SavedStyle]
}

// New creates a file-backed store at path.
func New(path string) *Store {
	cache, _ := lru.New[string, SavedStyle](128)
	return &Store{path: path, byName: make(map[string]SavedStyle), cache: cache}
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, SavedStyle](128)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

// NewFromConfig picks the backend: Postgres when dsn is set, the JSON
// file at path otherwise. A bad DSN falls back to the file.
func NewFromConfig(path, dsn string) *Store {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS saved_styles (
    name     TEXT PRIMARY KEY,
    saved_at TIMESTAMPTZ NOT NULL,
    payload  JSONB NOT NULL
)`)
	})
	return s.schemaErr
}

func (s *Store) ensureLoaded() {
	s.loadOnce.Do(func() {
		if s.path == "" {
			return
		}
		data, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var rows []SavedStyle
		if err := json.Unmarshal(data, &rows); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			if strings.TrimSpace(row.Name) == "" {
				continue
			}
			s.byName[row.Name] = row
		}
	})
}

func (s *Store) persistFile() error {
	s.mu.RLock()
	rows := make([]SavedStyle, 0, len(s.byName))
	for _, row := range s.byName {
		rows = append(rows, row)
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].SavedAt.Before(rows[j].SavedAt) })

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Save upserts a session under name.
func (s *Store) Save(ctx context.Context, name string, sess model.DesignSession) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("styles: name is required")
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	row := SavedStyle{Name: name, SavedAt: time.Now(), Session: sess.Clone()}

	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			return err
		}
		payload, err := json.Marshal(row.Session)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
INSERT INTO saved_styles (name, saved_at, payload) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET saved_at = EXCLUDED.saved_at, payload = EXCLUDED.payload`,
			name, row.SavedAt, payload)
		if err != nil {
			return err
		}
		s.cache.Add(name, row)
		return nil
	}

	s.ensureLoaded()
	s.mu.Lock()
	s.byName[name] = row
	s.mu.Unlock()
	s.cache.Add(name, row)
	return s.persistFile()
}

// Get returns one saved style by name.
func (s *Store) Get(ctx context.Context, name string) (SavedStyle, error) {
	name = strings.TrimSpace(name)
	if row, ok := s.cache.Get(name); ok {
		return row, nil
	}

	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			return SavedStyle{}, err
		}
		var row SavedStyle
		var payload []byte
		err := s.db.QueryRowContext(ctx,
			`SELECT name, saved_at, payload FROM saved_styles WHERE name = $1`, name).
			Scan(&row.Name, &row.SavedAt, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return SavedStyle{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if err != nil {
			return SavedStyle{}, err
		}
		if err := json.Unmarshal(payload, &row.Session); err != nil {
			return SavedStyle{}, err
		}
		s.cache.Add(name, row)
		return row, nil
	}

	s.ensureLoaded()
	s.mu.RLock()
	row, ok := s.byName[name]
	s.mu.RUnlock()
	if !ok {
		return SavedStyle{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.cache.Add(name, row)
	return row, nil
}

// List returns all saved styles ordered by save time.
func (s *Store) List(ctx context.Context) ([]SavedStyle, error) {
	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT name, saved_at, payload FROM saved_styles ORDER BY saved_at`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []SavedStyle
		for rows.Next() {
			var row SavedStyle
			var payload []byte
			if err := rows.Scan(&row.Name, &row.SavedAt, &payload); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(payload, &row.Session); err != nil {
				return nil, err
			}
			out = append(out, row)
		}
		return out, rows.Err()
	}

	s.ensureLoaded()
	s.mu.RLock()
	out := make([]SavedStyle, 0, len(s.byName))
	for _, row := range s.byName {
		out = append(out, row)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

// Delete removes one saved style.
func (s *Store) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	s.cache.Remove(name)

	if s.db != nil {
		if err := s.ensureSchema(ctx); err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM saved_styles WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil
	}

	s.ensureLoaded()
	s.mu.Lock()
	_, ok := s.byName[name]
	delete(s.byName, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.persistFile()
}
