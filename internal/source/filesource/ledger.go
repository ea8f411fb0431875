package filesource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jensholdgaard/cloverville/internal/source"
)

// Ledger writes changes back to the site's JSON files. Only files whose
// content changed are rewritten, each one atomically. A write that fails
// part way can leave earlier files updated.
type Ledger struct {
	mu  sync.Mutex
	dir string
	src *source.JSON
}

// NewLedger returns a Ledger over the site directory dir.
func NewLedger(dir string) *Ledger {
	return &Ledger{dir: dir, src: source.NewJSON(New(os.DirFS(dir)))}
}

func (l *Ledger) Update(ctx context.Context, fn func(*source.State) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := source.Load(ctx, l.src)
	if err != nil {
		return err
	}
	before, err := resources(st)
	if err != nil {
		return err
	}

	next := st.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Normalize()
	after, err := resources(next)
	if err != nil {
		return err
	}

	for _, name := range source.Resources {
		if bytes.Equal(before[name], after[name]) {
			continue
		}
		if err := writeFile(filepath.Join(l.dir, filepath.FromSlash(name)), after[name]); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func resources(st *source.State) (map[string][]byte, error) {
	values := map[string]any{
		source.MembersResource:       st.Members,
		source.TradeOffersResource:   st.Offers,
		source.GreenActionsResource:  st.Actions,
		source.CommunalTasksResource: st.Tasks,
		source.SettingsResource:      st.Settings,
	}
	out := make(map[string][]byte, len(values))
	for name, v := range values {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", name, err)
		}
		out[name] = append(data, '\n')
	}
	return out, nil
}

// writeFile replaces path with data through a temporary file in the same
// directory.
func writeFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".cloverville-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
