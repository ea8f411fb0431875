package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/event/sqlevent"
)

// Repositories groups what a source driver returns.
type Repositories struct {
	Source Source
	// Ledger changes the data. Read-only drivers leave it nil.
	Ledger Ledger
	// Events is the render history. Drivers without their own database
	// leave it nil and Open fills it in from the history config.
	Events event.Store
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver is a function that opens a source and returns Repositories.
type Driver func(ctx context.Context, cfg config.SourceConfig, clk clock.Clock) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories
// with Events, Closer and Ping always set.
func Open(ctx context.Context, cfg config.SourceConfig, hist config.HistoryConfig, clk clock.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown source driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	repos, err := d(ctx, cfg, clk)
	if err != nil {
		return nil, err
	}

	closers := multiCloser{}
	if repos.Closer != nil {
		closers = append(closers, repos.Closer)
	}

	if repos.Events == nil {
		repos.Events = event.Discard
		if hist.SQLitePath != "" {
			hs, err := sqlevent.OpenSQLite(ctx, hist.SQLitePath, clk)
			if err != nil {
				_ = closers.Close()
				return nil, fmt.Errorf("opening history: %w", err)
			}
			repos.Events = hs
			closers = append(closers, hs)
		}
	}
	repos.Closer = closers

	if repos.Ping == nil {
		repos.Ping = func(context.Context) error { return nil }
	}
	return repos, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
