package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// StoreConfig configures the subject profile store.
type StoreConfig struct {
	// Path is a local filesystem path to the profile database.
	// ":memory:" opens an ephemeral in-memory database.
	Path string
}

// Store is a SQLite-backed subject profile store implementing Source.
type Store struct {
	db *sql.DB
}

var _ Source = (*Store)(nil)

// OpenStore opens (creating if necessary) the profile database and
// applies the schema.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("profile store path is required")
	}

	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(filepath.Clean(path))
		if dir != "." && dir != string(filepath.Separator) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create profile store directory: %w", err)
			}
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if path != ":memory:" {
		pragmaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var mode string
		if err := db.QueryRowContext(pragmaCtx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		var busy int
		if err := db.QueryRowContext(pragmaCtx, "PRAGMA busy_timeout=5000").Scan(&busy); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS subjects (
		subject_id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("migrate profile store: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertProfile stores or replaces a subject's source record.
func (s *Store) UpsertProfile(ctx context.Context, p *SubjectProfile) error {
	if p == nil || strings.TrimSpace(p.SubjectID) == "" {
		return errors.New("subject_id is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO subjects (subject_id, profile, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET profile=excluded.profile, updated_at=excluded.updated_at`,
		p.SubjectID, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile loads a subject's source record.
func (s *Store) GetProfile(ctx context.Context, subjectID string) (*SubjectProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile FROM subjects WHERE subject_id = ?`, subjectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %q: %w", subjectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p SubjectProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

// LoadFacts derives a fresh fact set from the subject's stored profile.
func (s *Store) LoadFacts(ctx context.Context, subjectID string) (*FactSet, error) {
	p, err := s.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return Extract(p), nil
}
