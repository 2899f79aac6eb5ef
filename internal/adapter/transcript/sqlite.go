// Package transcript archives completed conversation history to SQLite.
// The archive is write-only from the pipeline's perspective; rows exist for
// audit and debugging, never for rebuilding conversation state.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"easel-ai/internal/domain"
)

// SQLiteStore implements usecase.Transcript using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate transcript db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript_items (
			item_id     TEXT NOT NULL,
			request_id  TEXT NOT NULL,
			kind        TEXT NOT NULL,
			payload     TEXT NOT NULL DEFAULT '{}',
			item_time   TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			PRIMARY KEY (item_id)
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_transcript_request ON transcript_items (request_id)`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Archive upserts the given history items under the request that completed
// them. Re-archiving an item (later requests archive the full history again)
// overwrites the previous row, which keeps acceptance-state changes visible.
func (s *SQLiteStore) Archive(ctx context.Context, requestID string, items []domain.HistoryItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_items (item_id, request_id, kind, payload, item_time, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			request_id = excluded.request_id,
			payload = excluded.payload,
			archived_at = excluded.archived_at
	`)
	if err != nil {
		return fmt.Errorf("prepare archive stmt: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, item := range items {
		payload, err := marshalPayload(item)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			item.ID, requestID, string(item.Kind), string(payload),
			item.Time.UTC().Format(time.RFC3339Nano), now,
		); err != nil {
			return fmt.Errorf("archive item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of archived items, optionally scoped to one
// request.
func (s *SQLiteStore) Count(ctx context.Context, requestID string) (int, error) {
	var n int
	var err error
	if requestID == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcript_items").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM transcript_items WHERE request_id = ?", requestID).Scan(&n)
	}
	return n, err
}

// Item returns one archived item's kind and decoded payload.
func (s *SQLiteStore) Item(ctx context.Context, itemID string) (kind string, payload map[string]any, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx,
		"SELECT kind, payload FROM transcript_items WHERE item_id = ?", itemID,
	).Scan(&kind, &raw)
	if err != nil {
		return "", nil, err
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", nil, fmt.Errorf("decode payload for %s: %w", itemID, err)
	}
	return kind, payload, nil
}

func marshalPayload(item domain.HistoryItem) ([]byte, error) {
	var body any
	switch item.Kind {
	case domain.HistoryPrompt:
		body = item.Prompt
	case domain.HistoryAction:
		body = item.Action
	case domain.HistoryContinuation:
		body = item.Continuation
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal history item %s: %w", item.ID, err)
	}
	return raw, nil
}
