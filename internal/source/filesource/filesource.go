// Package filesource provides the "file" source driver: the site's JSON
// files read from, and written back to, a local directory.
package filesource

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/source"
)

func init() {
	source.Register("file", openFile)
}

func openFile(_ context.Context, cfg config.SourceConfig, _ clock.Clock) (*source.Repositories, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory %s is not a directory", cfg.Dir)
	}

	fsys := os.DirFS(cfg.Dir)
	return &source.Repositories{
		Source: source.NewJSON(New(fsys)),
		Ledger: NewLedger(cfg.Dir),
		Ping: func(context.Context) error {
			_, err := fs.Stat(fsys, ".")
			return err
		},
	}, nil
}

// New returns a Fetcher reading resources from fsys.
func New(fsys fs.FS) source.Fetcher {
	return source.FetcherFunc(func(_ context.Context, name string) ([]byte, error) {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", source.ErrUnavailable, err)
		}
		return data, nil
	})
}
