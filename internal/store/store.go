// Package store persists host state in SQLite: the project list and the relay
// configuration document.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lanehart/beam/internal/relay"
)

var ErrNotFound = errors.New("not found")

// Project is a directory the host has opened, with optional extra folders.
type Project struct {
	ID         string
	Name       string
	Path       string
	LastOpened time.Time
	Folders    []relay.ProjectFolder
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			last_opened TEXT NOT NULL,
			folders TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_path ON projects(path)`,
		`CREATE TABLE IF NOT EXISTS relay_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveProject inserts the project, or updates the existing row for the same
// path (reopening a directory refreshes it rather than duplicating it).
func (s *Store) SaveProject(ctx context.Context, p Project) error {
	if p.LastOpened.IsZero() {
		p.LastOpened = time.Now().UTC()
	}
	var folders any
	if len(p.Folders) > 0 {
		b, err := json.Marshal(p.Folders)
		if err != nil {
			return fmt.Errorf("marshal folders: %w", err)
		}
		folders = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO projects(id, name, path, last_opened, folders)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	name=excluded.name,
	last_opened=excluded.last_opened,
	folders=excluded.folders
`, p.ID, p.Name, p.Path, p.LastOpened.Format(time.RFC3339), folders)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *Store) RemoveProject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	return nil
}

func (s *Store) Project(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, last_opened, folders FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project, most recently opened first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, last_opened, folders FROM projects ORDER BY last_opened DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	var lastOpened string
	var folders sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &lastOpened, &folders); err != nil {
		return Project{}, err
	}
	if t, err := time.Parse(time.RFC3339, lastOpened); err == nil {
		p.LastOpened = t
	}
	if folders.Valid && folders.String != "" {
		_ = json.Unmarshal([]byte(folders.String), &p.Folders)
	}
	return p, nil
}

// Projects implements relay.ProjectSource.
func (s *Store) Projects() ([]relay.ProjectInfo, error) {
	list, err := s.ListProjects(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]relay.ProjectInfo, 0, len(list))
	for _, p := range list {
		out = append(out, relay.ProjectInfo{
			ID:         p.ID,
			Name:       p.Name,
			Path:       p.Path,
			LastOpened: p.LastOpened.Format(time.RFC3339),
			Folders:    p.Folders,
		})
	}
	return out, nil
}

// RelayConfig loads the persisted relay config document. The first read seeds
// the store with a freshly generated identity so the device id stays stable
// from then on.
func (s *Store) RelayConfig() (relay.Config, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM relay_config WHERE key = 'config'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		cfg := relay.DefaultConfig()
		if err := s.SetRelayConfig(cfg); err != nil {
			return relay.Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return relay.Config{}, fmt.Errorf("load relay config: %w", err)
	}
	var cfg relay.Config
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return relay.Config{}, fmt.Errorf("decode relay config: %w", err)
	}
	return cfg, nil
}

// SetRelayConfig stores the config as one JSON document.
func (s *Store) SetRelayConfig(cfg relay.Config) error {
	value, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode relay config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO relay_config (key, value) VALUES ('config', ?)`, string(value))
	if err != nil {
		return fmt.Errorf("save relay config: %w", err)
	}
	return nil
}
