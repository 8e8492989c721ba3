// Package journal persists console and network notifications forwarded by the
// extension so they can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/neboloop/browser-agent/internal/journal/migrations"
	"github.com/neboloop/browser-agent/internal/logging"
)

// Entry is one stored notification.
type Entry struct {
	ID         string          `json:"id"`
	ConnID     string          `json:"connectionId,omitempty"`
	Kind       string          `json:"kind"`
	TabID      *int64          `json:"tabId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Single writer; the recorder serializes inserts anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Infof("Journal initialized at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e, filling in the id and receive time when unset.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}

	var tab sql.NullInt64
	if e.TabID != nil {
		tab = sql.NullInt64{Int64: *e.TabID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, conn_id, kind, tab_id, payload, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ConnID, e.Kind, tab, string(e.Payload), e.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return e, fmt.Errorf("record %s: %w", e.Kind, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. An empty kind matches all kinds.
func (s *Store) Recent(ctx context.Context, kind string, limit int) ([]Entry, error) {
	query := `SELECT id, conn_id, kind, tab_id, payload, received_at FROM notifications`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY received_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e        Entry
			tab      sql.NullInt64
			payload  string
			received int64
		)
		if err := rows.Scan(&e.ID, &e.ConnID, &e.Kind, &tab, &payload, &received); err != nil {
			return nil, err
		}
		if tab.Valid {
			v := tab.Int64
			e.TabID = &v
		}
		e.Payload = json.RawMessage(payload)
		e.ReceivedAt = time.UnixMilli(received)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries received before cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}
