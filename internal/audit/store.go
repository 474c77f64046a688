// Package audit persists an append-only log of vdc host lifecycle
// events to Postgres, independent of the YAML property-tree
// persistence: it is never read back into the entity tree, only
// queried for history.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Event is one row in the audit_events table.
type Event struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	DSUID       string
	Kind        string
	Description string
	Details     map[string]interface{}
}

// Store writes Events to Postgres and reads them back for the admin
// API's history view.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and verifies the connection.
func Open(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the audit_events table if it does not already
// exist. Called once at startup rather than relying on an external
// migration tool, matching the scale of this single-table log.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			dsuid TEXT NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL,
			details JSONB
		)`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// Record inserts one event. ID and CreatedAt are filled in if unset.
func (s *Store) Record(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	var details []byte
	if ev.Details != nil {
		encoded, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
		details = encoded
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, created_at, dsuid, kind, description, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.CreatedAt, ev.DSUID, ev.Kind, ev.Description, details)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Filters narrows List to a dSUID and/or kind and/or time range. Zero
// values are unfiltered.
type Filters struct {
	DSUID string
	Kind  string
	Since time.Time
	Until time.Time
}

// List returns events matching filters, newest first, bounded by
// limit/offset.
func (s *Store) List(ctx context.Context, f Filters, limit, offset int) ([]*Event, error) {
	query := "SELECT id, created_at, dsuid, kind, description, details FROM audit_events WHERE 1=1"
	var args []interface{}
	n := 0

	if f.DSUID != "" {
		n++
		query += fmt.Sprintf(" AND dsuid = $%d", n)
		args = append(args, f.DSUID)
	}
	if f.Kind != "" {
		n++
		query += fmt.Sprintf(" AND kind = $%d", n)
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		n++
		query += fmt.Sprintf(" AND created_at <= $%d", n)
		args = append(args, f.Until)
	}

	n++
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
	args = append(args, limit)
	n++
	query += fmt.Sprintf(" OFFSET $%d", n)
	args = append(args, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.CreatedAt, &ev.DSUID, &ev.Kind, &ev.Description, &details); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if details != nil {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("audit: unmarshal details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
