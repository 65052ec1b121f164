package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"content-router/src/routing"

	_ "modernc.org/sqlite"
)

const (
	createRoutingConfigTable = `
CREATE TABLE IF NOT EXISTS routing_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL,
	saved_at INTEGER NOT NULL,
	document TEXT NOT NULL
)`

	createDecisionsTable = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	strategy TEXT NOT NULL,
	selected_backend TEXT NOT NULL,
	category TEXT,
	size_bytes INTEGER,
	region TEXT,
	payload TEXT NOT NULL
)`

	createDecisionsIndex = `CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions (ts DESC)`

	upsertRoutingConfig = `
INSERT INTO routing_config (id, version, saved_at, document) VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at, document = excluded.document`

	insertDecision = `
INSERT OR REPLACE INTO decisions (id, ts, strategy, selected_backend, category, size_bytes, region, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLiteStore keeps routing state and decision history in a local SQLite file
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database and its schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, persistenceError("sqlite", "open", err)
	}
	// a single writer avoids SQLITE_BUSY between pooled connections
	conn.SetMaxOpenConns(1)

	for _, stmt := range []string{createRoutingConfigTable, createDecisionsTable, createDecisionsIndex} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, persistenceError("sqlite", "create schema", err)
		}
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) SaveRoutingConfig(ctx context.Context, doc routing.RoutingConfigDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal routing config: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, upsertRoutingConfig, doc.Version, time.Now().UnixNano(), string(data))
	return persistenceError("sqlite", "save routing config", err)
}

func (s *SQLiteStore) LoadRoutingConfig(ctx context.Context) (routing.RoutingConfigDocument, bool, error) {
	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT document FROM routing_config WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return routing.RoutingConfigDocument{}, false, nil
	}
	if err != nil {
		return routing.RoutingConfigDocument{}, false, persistenceError("sqlite", "load routing config", err)
	}

	var doc routing.RoutingConfigDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return routing.RoutingConfigDocument{}, false, persistenceError("sqlite", "decode routing config", err)
	}
	return doc, true, nil
}

// ArchiveDecisions inserts decisions in one transaction. Re-archiving a
// decision ID overwrites the earlier row.
func (s *SQLiteStore) ArchiveDecisions(ctx context.Context, decisions []routing.RoutingDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("sqlite", "begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertDecision)
	if err != nil {
		return persistenceError("sqlite", "prepare statement", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal decision %s: %w", d.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			d.ID,
			d.Timestamp.UnixNano(),
			string(d.Strategy),
			d.SelectedBackend,
			string(d.Category),
			d.SizeBytes,
			d.Region,
			string(payload),
		)
		if err != nil {
			return persistenceError("sqlite", "insert decision "+d.ID, err)
		}
	}

	return persistenceError("sqlite", "commit decisions", tx.Commit())
}

func (s *SQLiteStore) RecentDecisions(ctx context.Context, limit int) ([]routing.RoutingDecision, error) {
	if limit <= 0 {
		limit = routing.DefaultDecisionLogSize
	}
	rows, err := s.conn.QueryContext(ctx, `SELECT payload FROM decisions ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, persistenceError("sqlite", "query decisions", err)
	}
	defer rows.Close()

	var out []routing.RoutingDecision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, persistenceError("sqlite", "scan decision", err)
		}
		var d routing.RoutingDecision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			return nil, persistenceError("sqlite", "decode decision", err)
		}
		out = append(out, d)
	}
	return out, persistenceError("sqlite", "iterate decisions", rows.Err())
}

// BackendDecisionCounts returns how often each backend was selected since the given time
func (s *SQLiteStore) BackendDecisionCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT selected_backend, COUNT(*) FROM decisions WHERE ts >= ? GROUP BY selected_backend`, since.UnixNano())
	if err != nil {
		return nil, persistenceError("sqlite", "count decisions", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var backend string
		var n int64
		if err := rows.Scan(&backend, &n); err != nil {
			return nil, persistenceError("sqlite", "scan decision count", err)
		}
		counts[backend] = n
	}
	return counts, persistenceError("sqlite", "iterate decision counts", rows.Err())
}
