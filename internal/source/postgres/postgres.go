// Package postgres provides the "postgres" source driver: community data
// kept in Postgres tables, read through sqlx with OTEL instrumentation.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/event/sqlevent"
	"github.com/jensholdgaard/cloverville/internal/source"
)

//go:embed migrations/001_initial.sql
var initialSchema string

func init() {
	source.Register("postgres", openPostgres)
}

func openPostgres(ctx context.Context, cfg config.SourceConfig, clk clock.Clock) (*source.Repositories, error) {
	db, err := Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	events := sqlevent.New(db, clk)
	if err := events.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &source.Repositories{
		Source: NewSource(db),
		Ledger: NewLedger(db),
		Events: events,
		Closer: db,
		Ping:   db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	sqldb, err := otelsql.Open("postgres", cfg.DSN(),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := sqlx.NewDb(sqldb, "postgres")
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Migrate creates the community tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, initialSchema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
