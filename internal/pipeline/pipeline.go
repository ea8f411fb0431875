// Package pipeline fills the sections of a page from a source.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/page"
	"github.com/jensholdgaard/cloverville/internal/render"
	"github.com/jensholdgaard/cloverville/internal/source"
)

const instrumentation = "github.com/jensholdgaard/cloverville/internal/pipeline"

// Outcome is what happened to one section.
type Outcome string

const (
	Rendered Outcome = "rendered"
	Skipped  Outcome = "skipped"
	Failed   Outcome = "failed"
)

// Section names, in the order they run.
const (
	PointsSection   = "points"
	GreenSection    = "green"
	CommunalSection = "communal"
	TradeSection    = "trade"
)

// SectionResult is the outcome of one section.
type SectionResult struct {
	Section string
	Outcome Outcome
	Items   int
	Err     error
}

// Report lists the outcome of every section of one page.
type Report struct {
	Page     string
	Sections []SectionResult
}

// Count returns how many sections ended with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, s := range r.Sections {
		if s.Outcome == o {
			n++
		}
	}
	return n
}

// Section returns the result for the named section.
func (r Report) Section(name string) (SectionResult, bool) {
	for _, s := range r.Sections {
		if s.Section == name {
			return s, true
		}
	}
	return SectionResult{}, false
}

// section fills one part of a page. Its primary surface decides whether it
// runs at all.
type section struct {
	name    string
	surface string
	fill    func(ctx context.Context, doc *page.Document, target *page.Surface) (int, error)
}

// Runner runs every section against a page.
type Runner struct {
	src      source.Source
	events   event.Store
	renderer render.Renderer
	logger   *slog.Logger
	tracer   trace.Tracer
	sections metric.Int64Counter
	clock    clock.Clock
}

// NewRunner creates a Runner.
func NewRunner(src source.Source, events event.Store, r render.Renderer, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) *Runner {
	counter, err := mp.Meter(instrumentation).Int64Counter("cloverville.sections",
		metric.WithDescription("Page sections processed, by outcome."),
	)
	if err != nil {
		logger.Warn("creating sections counter", slog.Any("error", err))
		counter = metricnoop.Int64Counter{}
	}
	return &Runner{
		src:      src,
		events:   events,
		renderer: r,
		logger:   logger,
		tracer:   tp.Tracer(instrumentation),
		sections: counter,
		clock:    clk,
	}
}

// Run fills every section of doc whose surface is present. A failing
// section leaves its surface untouched and does not stop the others.
func (r *Runner) Run(ctx context.Context, pageName string, doc *page.Document) Report {
	ctx, span := r.tracer.Start(ctx, "Runner.Run",
		trace.WithAttributes(attribute.String("page", pageName)),
	)
	defer span.End()

	report := Report{Page: pageName}
	for _, s := range r.plan() {
		report.Sections = append(report.Sections, r.runSection(ctx, pageName, doc, s))
	}

	if n := report.Count(Failed); n > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d sections failed", n))
	}
	return report
}

func (r *Runner) runSection(ctx context.Context, pageName string, doc *page.Document, s section) SectionResult {
	result := SectionResult{Section: s.name}

	target, ok := doc.Surface(s.surface)
	if !ok {
		result.Outcome = Skipped
		r.count(ctx, result)
		return result
	}

	ctx, span := r.tracer.Start(ctx, "Runner.section",
		trace.WithAttributes(
			attribute.String("page", pageName),
			attribute.String("section", s.name),
		),
	)
	defer span.End()

	start := r.clock.Now()
	items, err := s.fill(ctx, doc, target)
	aggregateID := pageName + "#" + s.name

	if err != nil {
		result.Outcome = Failed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		r.logger.ErrorContext(ctx, "section render failed",
			slog.String("page", pageName),
			slog.String("section", s.name),
			slog.Any("error", err),
		)
		r.record(ctx, event.New(aggregateID, event.SectionFailed, event.SectionFailedData{
			Page:    pageName,
			Section: s.name,
			Error:   err.Error(),
		}))
		r.count(ctx, result)
		return result
	}

	result.Outcome = Rendered
	result.Items = items
	span.SetAttributes(attribute.Int("items", items))

	r.logger.DebugContext(ctx, "section rendered",
		slog.String("page", pageName),
		slog.String("section", s.name),
		slog.Int("items", items),
		slog.Duration("took", r.clock.Now().Sub(start)),
	)
	r.record(ctx, event.New(aggregateID, event.SectionRendered, event.SectionRenderedData{
		Page:    pageName,
		Section: s.name,
		Items:   items,
	}))
	r.count(ctx, result)
	return result
}

func (r *Runner) record(ctx context.Context, e event.Event) {
	if err := r.events.Append(ctx, e); err != nil {
		r.logger.ErrorContext(ctx, "failed to persist history event",
			slog.String("type", string(e.Type)),
			slog.Any("error", err),
		)
	}
}

func (r *Runner) count(ctx context.Context, res SectionResult) {
	r.sections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("section", res.Section),
		attribute.String("outcome", string(res.Outcome)),
	))
}

func (r *Runner) plan() []section {
	return []section{
		{name: PointsSection, surface: page.TotalPoints, fill: r.fillPoints},
		{name: GreenSection, surface: page.GreenList, fill: r.fillGreen},
		{name: CommunalSection, surface: page.CommunalList, fill: r.fillCommunal},
		{name: TradeSection, surface: page.TradeList, fill: r.fillTrade},
	}
}

func (r *Runner) fillPoints(ctx context.Context, doc *page.Document, total *page.Surface) (int, error) {
	settings, err := r.src.Settings(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring settings: %w", err)
	}
	p := r.renderer.Points(settings)
	total.Replace(p.Total)
	if goal, ok := doc.Surface(page.GoalText); ok {
		goal.Replace(p.Goal)
	}
	if target, ok := doc.Surface(page.TargetText); ok {
		target.Replace(p.Target)
	}
	return 1, nil
}

func (r *Runner) fillGreen(ctx context.Context, _ *page.Document, list *page.Surface) (int, error) {
	actions, err := r.src.GreenActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring green actions: %w", err)
	}
	list.Replace(r.renderer.GreenActions(actions))
	return len(actions), nil
}

func (r *Runner) fillCommunal(ctx context.Context, _ *page.Document, list *page.Surface) (int, error) {
	tasks, err := r.src.CommunalTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring communal tasks: %w", err)
	}
	list.Replace(r.renderer.CommunalTasks(tasks))
	return len(tasks), nil
}

// fillTrade acquires the member directory before the offers, and only
// requests offers once the directory is complete.
func (r *Runner) fillTrade(ctx context.Context, _ *page.Document, list *page.Surface) (int, error) {
	members, err := r.src.Members(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring member directory: %w", err)
	}
	offers, err := r.src.TradeOffers(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring trade offers: %w", err)
	}
	list.Replace(r.renderer.TradeOffers(members, offers))
	return len(offers), nil
}
