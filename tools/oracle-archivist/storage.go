// Command oracle-archivist mirrors published native/oracle values into a
// local SQLite store and periodically exports a rolling window to Parquet
// for operator dashboards and analytics. It sits outside the deterministic
// core: it is a best-effort reader of the chain's RPC surface, never a
// collaborator of push/calculate/read.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage wraps the archivist's backing SQLite database.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = fmt.Errorf("oracle-archivist storage path must be configured")

// Open initialises the backing store at path.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Update is one mirrored OracleUpdated observation.
type Update struct {
	OracleID    uint64
	Slot        uint8
	Value       string
	LastChanged int64
	RecordedAt  time.Time
}

// RecordUpdate mirrors one published OracleUpdated event.
func (s *Storage) RecordUpdate(ctx context.Context, u Update) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := u.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_updates(oracle_id, slot, value, last_changed, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, u.OracleID, u.Slot, u.Value, u.LastChanged, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert update: %w", err)
	}
	return nil
}

// LatestUpdate returns the most recently mirrored value for oracleID/slot.
func (s *Storage) LatestUpdate(ctx context.Context, oracleID uint64, slot uint8) (Update, error) {
	result := Update{OracleID: oracleID, Slot: slot}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT value, last_changed, recorded_at
        FROM oracle_updates
        WHERE oracle_id = ? AND slot = ?
        ORDER BY id DESC
        LIMIT 1
    `, oracleID, slot)
	if err := row.Scan(&result.Value, &result.LastChanged, &result.RecordedAt); err != nil {
		if err == sql.ErrNoRows {
			return result, fmt.Errorf("no mirrored value for oracle %d slot %d", oracleID, slot)
		}
		return result, fmt.Errorf("query latest update: %w", err)
	}
	return result, nil
}

// UpdatesSince returns every mirrored update recorded at or after cutoff, in
// recording order, for the Parquet export window.
func (s *Storage) UpdatesSince(ctx context.Context, cutoff time.Time) ([]Update, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT oracle_id, slot, value, last_changed, recorded_at
        FROM oracle_updates
        WHERE recorded_at >= ?
        ORDER BY id ASC
    `, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query updates since: %w", err)
	}
	defer rows.Close()
	var out []Update
	for rows.Next() {
		var u Update
		if err := rows.Scan(&u.OracleID, &u.Slot, &u.Value, &u.LastChanged, &u.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    oracle_id INTEGER NOT NULL,
    slot INTEGER NOT NULL,
    value TEXT NOT NULL,
    last_changed INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_updates_oracle_slot ON oracle_updates(oracle_id, slot, recorded_at);
`
