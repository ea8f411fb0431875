// Package sqlevent implements event.Store on any sqlx database. The same
// queries run on Postgres (sharing the postgres source connection) and on
// a local SQLite file.
package sqlevent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/event"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	data         TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS events_aggregate_idx ON events (aggregate_id, created_at);
CREATE INDEX IF NOT EXISTS events_type_idx ON events (type, created_at);
`

// row is the scan target. Drivers return TEXT as string or []byte, and
// only a string field accepts both.
type row struct {
	ID          string    `db:"id"`
	AggregateID string    `db:"aggregate_id"`
	Type        string    `db:"type"`
	Data        string    `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r row) event() event.Event {
	return event.Event{
		ID:          r.ID,
		AggregateID: r.AggregateID,
		Type:        event.Type(r.Type),
		Data:        json.RawMessage(r.Data),
		CreatedAt:   r.CreatedAt,
	}
}

func toEvents(rows []row) []event.Event {
	events := make([]event.Event, len(rows))
	for i, r := range rows {
		events[i] = r.event()
	}
	return events
}

// Store implements event.Store with sqlx.
type Store struct {
	db    *sqlx.DB
	clock clock.Clock
}

// New returns a Store on an open database. Call Migrate before first use.
func New(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

// OpenSQLite opens (creating if needed) a SQLite history database at path
// with OTEL instrumentation and applies the schema.
func OpenSQLite(ctx context.Context, path string, clk clock.Clock) (*Store, error) {
	sqldb, err := otelsql.Open("sqlite", path,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite history: %w", err)
	}
	// SQLite allows a single writer.
	sqldb.SetMaxOpenConns(1)

	s := New(sqlx.NewDb(sqldb, "sqlite"), clk)
	if err := s.Migrate(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts events in one transaction, assigning IDs and timestamps
// where missing.
func (s *Store) Append(ctx context.Context, events ...event.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO events (id, aggregate_id, type, data, created_at) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.clock.Now().UTC()
		}
		data := string(e.Data)
		if data == "" {
			data = "null"
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.AggregateID, string(e.Type), data, e.CreatedAt); err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, type=%s): %w", e.AggregateID, e.Type, err)
		}
	}

	return tx.Commit()
}

// Load returns the events of one aggregate, oldest first.
func (s *Store) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, aggregate_id, type, data, created_at
		 FROM events WHERE aggregate_id = ? ORDER BY created_at ASC, id ASC`), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return toEvents(rows), nil
}

// LoadByType returns events of one type, oldest first.
func (s *Store) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, aggregate_id, type, data, created_at
		 FROM events WHERE type = ? ORDER BY created_at ASC, id ASC`), string(eventType))
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return toEvents(rows), nil
}
