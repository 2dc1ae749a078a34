// Package store persists tasks, deals, projects and invoices in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	appLog "bizcal/internal/log"
)

//go:embed migrations.sql
var migrationsFS embed.FS

var (
	ErrNotFound = errors.New("not found")
	// ErrVirtualTask is returned when a virtual occurrence is handed to a
	// write path; occurrences are never persisted.
	ErrVirtualTask = errors.New("virtual occurrences cannot be persisted")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// SQLite is the application store.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at cfg.Path and applies the schema.
// The caller is responsible for calling Close.
func Open(cfg Config) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Path, err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		pragmas = append([]string{fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())}, pragmas...)
	}
	applyPragmas(db, cfg.Path, pragmas)

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	appLog.Info("store opened", "path", cfg.Path)
	return s, nil
}

// applyPragmas runs each pragma; failures leave SQLite defaults in place
// and are logged.
func applyPragmas(db *sql.DB, path string, pragmas []string) {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			appLog.Warn("store: pragma failed", "pragma", p, "path", path, "error", err.Error())
		}
	}
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newID() string {
	return uuid.NewString()
}

// Times are stored as RFC3339Nano UTC strings; "" is the zero time.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// stampLayout is fixed-width so created_at/updated_at sort lexically.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

func stamp() string {
	return time.Now().UTC().Format(stampLayout)
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
