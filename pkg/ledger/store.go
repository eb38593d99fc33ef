// Package ledger persists render outcomes to a local sqlite database. The
// daemon reads it for status surfaces and prunes it on the maintenance
// schedule.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Entry is one recorded render outcome.
type Entry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	UserID     int64     `json:"user_id"`
	Direction  string    `json:"direction"`
	ImageCount int       `json:"image_count"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds ledger configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Store is the sqlite-backed render history.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the ledger database at the configured path.
func NewStore(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger.With().Str("component", "ledger").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.DBPath).Msg("Render ledger opened")
	return s, nil
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS renders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			direction TEXT NOT NULL,
			image_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_renders_created ON renders(created_at);
		CREATE INDEX IF NOT EXISTS idx_renders_user ON renders(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends one render outcome.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO renders (session_id, user_id, direction, image_count, status, duration_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		e.SessionID, e.UserID, e.Direction, e.ImageCount, e.Status, e.DurationMS, e.Error, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record render: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, user_id, direction, image_count, status, duration_ms, error, created_at FROM renders ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query renders: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Direction, &e.ImageCount, &e.Status, &e.DurationMS, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// CountByStatus returns render counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM renders GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count renders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// PruneBefore deletes entries older than the cutoff and reports how many
// were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM renders WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune renders: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.logger.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("Pruned render history")
	}
	return pruned, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
