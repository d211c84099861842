package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/presentum/presentum/internal/item"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added covering index on impressions
const currentSchemaVersion = 1

// SQLite is a durable Store backed by a single SQLite database.
// Uses WAL mode for concurrent read access; writes go through one
// connection to avoid SQLITE_BUSY churn.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open creates or opens a SQLite database at the given path (":memory:"
// for an ephemeral one). Applies required pragmas and migrations
// automatically; idempotent.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; keep a single connection ready.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries (used by the
// inspect CLI). Prefer the Store methods when available.
func (s *SQLite) DB() *sql.DB { return s.db }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		// New databases get the index from schema.sql; this covers
		// databases created before the index existed.
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_impressions_item
			ON impressions(item_id, surface, variant, kind, at_ms)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) Init(ctx context.Context) error {
	// Schema application happens in Open; Init just verifies liveness.
	return s.db.PingContext(ctx)
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM impressions`); err != nil {
		return fmt.Errorf("clear impressions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dismissals`); err != nil {
		return fmt.Errorf("clear dismissals: %w", err)
	}
	return nil
}

func (s *SQLite) ClearItem(ctx context.Context, key item.Key) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM impressions WHERE item_id = ? AND surface = ? AND variant = ?
	`, key.ID, string(key.Surface), key.Variant); err != nil {
		return fmt.Errorf("clear item impressions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM dismissals WHERE item_id = ? AND surface = ? AND variant = ?
	`, key.ID, string(key.Surface), key.Variant); err != nil {
		return fmt.Errorf("clear item dismissals: %w", err)
	}
	return nil
}

func (s *SQLite) RecordShown(ctx context.Context, key item.Key, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO impressions (item_id, surface, variant, kind, at_ms)
		VALUES (?, ?, ?, 'shown', ?)
	`, key.ID, string(key.Surface), key.Variant, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record shown %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) LastShown(ctx context.Context, key item.Key) (time.Time, bool, error) {
	// MAX() over an empty set yields a NULL row, not ErrNoRows.
	var atMS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(at_ms) FROM impressions
		WHERE item_id = ? AND surface = ? AND variant = ? AND kind = 'shown'
	`, key.ID, string(key.Surface), key.Variant).Scan(&atMS)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last shown %s: %w", key, err)
	}
	if !atMS.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(atMS.Int64).UTC(), true, nil
}

func (s *SQLite) ShownCount(ctx context.Context, key item.Key, since time.Time) (int, error) {
	sinceMS := int64(0)
	if !since.IsZero() {
		sinceMS = since.UnixMilli()
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM impressions
		WHERE item_id = ? AND surface = ? AND variant = ? AND kind = 'shown' AND at_ms >= ?
	`, key.ID, string(key.Surface), key.Variant, sinceMS).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("shown count %s: %w", key, err)
	}
	return count, nil
}

func (s *SQLite) RecordDismissed(ctx context.Context, key item.Key, at time.Time) error {
	// Latest dismissal wins.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dismissals (item_id, surface, variant, at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, surface, variant) DO UPDATE SET at_ms = excluded.at_ms
	`, key.ID, string(key.Surface), key.Variant, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record dismissed %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) DismissedAt(ctx context.Context, key item.Key) (time.Time, bool, error) {
	var atMS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT at_ms FROM dismissals
		WHERE item_id = ? AND surface = ? AND variant = ?
	`, key.ID, string(key.Surface), key.Variant).Scan(&atMS)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dismissed at %s: %w", key, err)
	}
	return time.UnixMilli(atMS).UTC(), true, nil
}

func (s *SQLite) RecordConverted(ctx context.Context, key item.Key, at time.Time, meta map[string]any) error {
	var metaJSON []byte
	if len(meta) > 0 {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("record converted %s: encode meta: %w", key, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO impressions (item_id, surface, variant, kind, at_ms, meta)
		VALUES (?, ?, ?, 'converted', ?, ?)
	`, key.ID, string(key.Surface), key.Variant, at.UnixMilli(), nullableText(metaJSON))
	if err != nil {
		return fmt.Errorf("record converted %s: %w", key, err)
	}
	return nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
