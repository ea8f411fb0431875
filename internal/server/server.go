// Package server serves the site over HTTP, filling each page's sections
// on request.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/health"
	"github.com/jensholdgaard/cloverville/internal/page"
	"github.com/jensholdgaard/cloverville/internal/pipeline"
)

const (
	indexPage    = "index.html"
	defaultLimit = 50
	maxLimit     = 500
)

// Server renders site pages on request.
type Server struct {
	site   fs.FS
	runner *pipeline.Runner
	events event.Store
	health *health.Handler
	logger *slog.Logger
	tracer trace.Tracer
	tp     trace.TracerProvider
}

// New creates a Server for the pages and static files under site.Dir.
func New(site config.SiteConfig, runner *pipeline.Runner, events event.Store, h *health.Handler, logger *slog.Logger, tp trace.TracerProvider) *Server {
	return NewFS(os.DirFS(site.Dir), runner, events, h, logger, tp)
}

// NewFS creates a Server over an arbitrary file system.
func NewFS(site fs.FS, runner *pipeline.Runner, events event.Store, h *health.Handler, logger *slog.Logger, tp trace.TracerProvider) *Server {
	return &Server{
		site:   site,
		runner: runner,
		events: events,
		health: h,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/cloverville/internal/server"),
		tp:     tp,
	}
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Mount(mux)
	}
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /", s.handleFile)

	return otelhttp.NewHandler(mux, "cloverville",
		otelhttp.WithTracerProvider(s.tp),
	)
}

// ListenAndServe serves until ctx is cancelled, then shuts down within
// cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.servePage(w, r, indexPage)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if !fs.ValidPath(name) {
		http.NotFound(w, r)
		return
	}
	if strings.EqualFold(path.Ext(name), ".html") {
		s.servePage(w, r, name)
		return
	}
	http.ServeFileFS(w, r, s.site, name)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, name string) {
	ctx, span := s.tracer.Start(r.Context(), "Server.servePage",
		trace.WithAttributes(attribute.String("page", name)),
	)
	defer span.End()

	f, err := s.site.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(ctx, w, "opening page", err)
		return
	}
	doc, err := page.Parse(f)
	f.Close()
	if err != nil {
		s.fail(ctx, w, "parsing page", err)
		return
	}

	s.runner.Run(ctx, name, doc)

	if r.URL.Query().Get("menu") == "open" {
		if err := doc.ToggleMenu(); err != nil && !errors.Is(err, page.ErrNoMenu) {
			s.fail(ctx, w, "toggling menu", err)
			return
		}
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		s.fail(ctx, w, "rendering page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// historyResponse is the body of GET /api/history.
type historyResponse struct {
	Events []event.Event `json:"events"`
}

// handleHistory lists recent history events, newest last. Filters: type,
// aggregate and limit.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLimit)
	}

	var (
		events []event.Event
		err    error
	)
	switch {
	case q.Get("aggregate") != "":
		events, err = s.events.Load(ctx, q.Get("aggregate"))
	case q.Get("type") != "":
		t := event.Type(q.Get("type"))
		if !slices.Contains(event.Types, t) {
			http.Error(w, fmt.Sprintf("unknown event type %q", t), http.StatusBadRequest)
			return
		}
		events, err = s.events.LoadByType(ctx, t)
	default:
		events, err = s.loadAll(ctx)
	}
	if err != nil {
		s.fail(ctx, w, "loading history", err)
		return
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []event.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(historyResponse{Events: events})
}

func (s *Server) loadAll(ctx context.Context) ([]event.Event, error) {
	var all []event.Event
	for _, t := range event.Types {
		events, err := s.events.LoadByType(ctx, t)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	slices.SortStableFunc(all, func(a, b event.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return all, nil
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	s.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
