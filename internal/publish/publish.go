// Package publish renders the site directory into a static output
// directory.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/page"
	"github.com/jensholdgaard/cloverville/internal/pipeline"
)

// DefaultDebounce is how long Watch waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Result summarises one publish.
type Result struct {
	At             time.Time
	Pages          int
	Files          int
	FailedSections int
	Took           time.Duration
}

// Publisher renders every page of a site directory into an output
// directory and copies everything else.
type Publisher struct {
	site        string
	output      string
	concurrency int
	runner      *pipeline.Runner
	events      event.Store
	logger      *slog.Logger
	tracer      trace.Tracer
	clock       clock.Clock
	onPublish   func(Result)
}

// New creates a Publisher.
func New(site config.SiteConfig, pub config.PublishConfig, runner *pipeline.Runner, events event.Store, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Publisher {
	concurrency := pub.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Publisher{
		site:        site.Dir,
		output:      site.Output,
		concurrency: concurrency,
		runner:      runner,
		events:      events,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/cloverville/internal/publish"),
		clock:       clk,
	}
}

// OnPublish registers fn to run after every successful publish. Call it
// before Loop or Watch.
func (p *Publisher) OnPublish(fn func(Result)) {
	p.onPublish = fn
}

// Publish renders the whole site once. Section failures are reported in
// the Result; read and write failures abort the publish.
func (p *Publisher) Publish(ctx context.Context) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "Publisher.Publish",
		trace.WithAttributes(
			attribute.String("site", p.site),
			attribute.String("output", p.output),
		),
	)
	defer span.End()

	start := p.clock.Now()
	pages, files, err := p.scan()
	if err != nil {
		return Result{}, err
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, rel := range pages {
		g.Go(func() error {
			n, err := p.publishPage(gctx, rel)
			failed.Add(int64(n))
			return err
		})
	}
	for _, rel := range files {
		g.Go(func() error {
			return p.copyFile(rel)
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res := Result{
		At:             start,
		Pages:          len(pages),
		Files:          len(files),
		FailedSections: int(failed.Load()),
		Took:           p.clock.Now().Sub(start),
	}

	if err := p.events.Append(ctx, event.New(p.output, event.SitePublished, event.SitePublishedData{
		Output: p.output,
		Pages:  res.Pages,
		Files:  res.Files,
	})); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist publish event", slog.Any("error", err))
	}

	p.logger.InfoContext(ctx, "site published",
		slog.String("output", p.output),
		slog.Int("pages", res.Pages),
		slog.Int("files", res.Files),
		slog.Int("failed_sections", res.FailedSections),
		slog.Duration("took", res.Took),
	)
	if p.onPublish != nil {
		p.onPublish(res)
	}
	return res, nil
}

// scan lists site-relative paths of pages and other files. The output
// directory is skipped when it lives inside the site.
func (p *Publisher) scan() (pages, files []string, err error) {
	err = filepath.WalkDir(p.site, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p.isOutput(path) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.site, path)
		if err != nil {
			return err
		}
		if strings.EqualFold(filepath.Ext(rel), ".html") {
			pages = append(pages, rel)
		} else {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning site %s: %w", p.site, err)
	}
	return pages, files, nil
}

func (p *Publisher) isOutput(path string) bool {
	out, err := filepath.Abs(p.output)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == out
}

// publishPage renders one page and returns its number of failed sections.
func (p *Publisher) publishPage(ctx context.Context, rel string) (int, error) {
	f, err := os.Open(filepath.Join(p.site, rel))
	if err != nil {
		return 0, fmt.Errorf("opening page: %w", err)
	}
	doc, err := page.Parse(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("page %s: %w", rel, err)
	}

	report := p.runner.Run(ctx, filepath.ToSlash(rel), doc)

	err = p.writeFile(rel, func(w io.Writer) error { return doc.Render(w) })
	return report.Count(pipeline.Failed), err
}

func (p *Publisher) copyFile(rel string) error {
	src, err := os.Open(filepath.Join(p.site, rel))
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer src.Close()

	return p.writeFile(rel, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}

// writeFile writes to a temporary file next to the target and renames it
// into place, so readers of the output never see a partial file.
func (p *Publisher) writeFile(rel string, write func(io.Writer) error) error {
	dst := filepath.Join(p.output, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", rel, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting mode on %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("renaming %s: %w", rel, err)
	}
	return nil
}

// Loop publishes once immediately and then on every tick until ctx is
// cancelled. Failed publishes are logged and retried on the next tick.
func (p *Publisher) Loop(ctx context.Context, interval time.Duration) error {
	p.publishLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publishLogged(ctx)
		}
	}
}

// Watch publishes once and then again whenever something under the site
// directory, or any of the extra directories, changes. Bursts of changes
// within debounce trigger a single publish.
func (p *Publisher) Watch(ctx context.Context, debounce time.Duration, extra ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, root := range append([]string{p.site}, extra...) {
		if err := p.watchTree(w, root); err != nil {
			return err
		}
	}

	p.publishLogged(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if p.ignore(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := p.watchTree(w, ev.Name); err != nil {
						p.logger.WarnContext(ctx, "watching new directory", slog.String("dir", ev.Name), slog.Any("error", err))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.WarnContext(ctx, "watcher error", slog.Any("error", err))

		case <-fire:
			fire = nil
			p.publishLogged(ctx)
		}
	}
}

func (p *Publisher) watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p.isOutput(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// ignore reports whether a change comes from the publisher itself.
func (p *Publisher) ignore(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".publish-") {
		return true
	}
	out, err := filepath.Abs(p.output)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return abs == out || strings.HasPrefix(abs, out+string(filepath.Separator))
}

func (p *Publisher) publishLogged(ctx context.Context) {
	if _, err := p.Publish(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.ErrorContext(ctx, "publish failed", slog.Any("error", err))
	}
}
