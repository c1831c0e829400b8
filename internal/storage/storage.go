// Package storage is the durable side of the engine: a SQLite-backed
// key-value slot holding the latest serialized conversation document, plus
// a bounded history of previous writes for recovery.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ConversationSlot is the fixed key under which the engine persists the
// latest serialized document.
const ConversationSlot = "conversation"

// historyKeep bounds slot_history per key; older revisions are pruned on
// every write.
const historyKeep = 20

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// SlotRevision is one historical write of a slot.
type SlotRevision struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	WrittenAt time.Time `json:"written_at"`
}

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// Storage is a thread-safe wrapper around a SQLite database.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// ============================= LIFECYCLE ==================================

// New opens (or creates) the SQLite database at dbPath, applies the
// recommended PRAGMAs, runs any pending migrations and returns a ready
// *Storage.
func New(dbPath string) (*Storage, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open db %q: %w", dbPath, err)
	}

	// Only one writer at a time for SQLite.
	conn.SetMaxOpenConns(1)

	// Apply PRAGMAs.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma %q: %w", p, err)
		}
	}

	s := &Storage{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// ============================ MIGRATIONS ==================================

// migrate ensures the schema_migrations table exists, then applies every
// unapplied Migration from the package-level Migrations slice.
func (s *Storage) migrate() error {
	const createMigTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`
	if _, err := s.db.Exec(createMigTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration v%d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration v%d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// ========================== SLOT OPERATIONS ===============================

// SaveSlot upserts the value under key and records a history revision,
// pruning history beyond the retention bound. The upsert and the history
// write share one transaction.
func (s *Storage) SaveSlot(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin save slot: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	); err != nil {
		return fmt.Errorf("storage: save slot %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO slot_history (id, key, value, written_at) VALUES (?, ?, ?, ?)",
		uuid.New().String(), key, value, now,
	); err != nil {
		return fmt.Errorf("storage: record slot history %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM slot_history WHERE key = ? AND id NOT IN (
			SELECT id FROM slot_history WHERE key = ? ORDER BY written_at DESC LIMIT ?
		)`,
		key, key, historyKeep,
	); err != nil {
		return fmt.Errorf("storage: prune slot history %q: %w", key, err)
	}

	return tx.Commit()
}

// LoadSlot returns the value stored under key. The boolean reports whether
// the slot exists.
func (s *Storage) LoadSlot(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM slots WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: load slot %q: %w", key, err)
	}
	return value, true, nil
}

// DeleteSlot removes the slot and its history. Used by "new conversation".
func (s *Storage) DeleteSlot(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin delete slot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM slots WHERE key = ?", key); err != nil {
		return fmt.Errorf("storage: delete slot %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM slot_history WHERE key = ?", key); err != nil {
		return fmt.Errorf("storage: delete slot history %q: %w", key, err)
	}

	return tx.Commit()
}

// SlotHistory returns up to limit revisions of key, newest first.
func (s *Storage) SlotHistory(ctx context.Context, key string, limit int) ([]SlotRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > historyKeep {
		limit = historyKeep
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, key, value, written_at FROM slot_history WHERE key = ? ORDER BY written_at DESC LIMIT ?",
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: slot history %q: %w", key, err)
	}
	defer rows.Close()

	var revs []SlotRevision
	for rows.Next() {
		var r SlotRevision
		if err := rows.Scan(&r.ID, &r.Key, &r.Value, &r.WrittenAt); err != nil {
			return nil, fmt.Errorf("storage: scan slot history: %w", err)
		}
		revs = append(revs, r)
	}
	return revs, rows.Err()
}
