package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jensholdgaard/cloverville/internal/bot"
	"github.com/jensholdgaard/cloverville/internal/event"
	"github.com/jensholdgaard/cloverville/internal/export"
	"github.com/jensholdgaard/cloverville/internal/health"
	"github.com/jensholdgaard/cloverville/internal/leader"
	"github.com/jensholdgaard/cloverville/internal/publish"
	"github.com/jensholdgaard/cloverville/internal/server"
)

func newRenderCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Publish the site once into the output directory",
		Long: `Renders every page of the site directory with the current community data
and writes the result, together with all other site files, to the output
directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.publisher().Publish(cmd.Context())
			if err != nil {
				return fmt.Errorf("publishing: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "published %d pages and %d files to %s\n", res.Pages, res.Files, a.cfg.Site.Output)
			if res.FailedSections > 0 {
				fmt.Fprintf(out, "%d sections failed and kept their original content\n", res.FailedSections)
				if strict {
					return fmt.Errorf("%d sections failed", res.FailedSections)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when any section fails")
	return cmd
}

func newPublishCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Keep the output directory up to date",
		Long: `Publishes the site, then republishes it on an interval or, with --watch,
whenever a file in the site or data directory changes.

Health endpoints are served on server.port. With leader_election enabled only
the replica holding the Lease publishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Publish.Interval
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			watch = watch || a.cfg.Publish.Watch

			h := health.NewHandler(a.clock, version, health.Checker{Name: "source", Check: a.repos.Ping})
			p := a.publisher()
			p.OnPublish(func(res publish.Result) { h.MarkPublished(res.At) })

			stopHealth := serveHealth(ctx, a, h)
			defer stopHealth()

			work := func(ctx context.Context) {
				h.SetReady(true)
				defer h.SetReady(false)

				var err error
				if watch {
					var extra []string
					if a.cfg.Source.Driver == "file" && a.cfg.Source.Dir != a.cfg.Site.Dir {
						extra = append(extra, a.cfg.Source.Dir)
					}
					a.logger.InfoContext(ctx, "watching for changes", slog.String("site", a.cfg.Site.Dir))
					err = p.Watch(ctx, publish.DefaultDebounce, extra...)
				} else {
					a.logger.InfoContext(ctx, "publishing on interval", slog.Duration("interval", interval))
					err = p.Loop(ctx, interval)
				}
				if err != nil {
					a.logger.ErrorContext(ctx, "publisher stopped", slog.Any("error", err))
					cancel()
				}
			}

			return runElected(ctx, a, work, cancel)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "republish when site or data files change")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "republish interval (overrides publish.interval)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the site, rendering pages on request",
		Long: `Serves every page of the site directory with its sections filled from the
current community data. Add ?menu=open to a page URL to show it with the
mobile navigation expanded.

Also serves /healthz, /readyz and /api/history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			h := health.NewHandler(a.clock, version, health.Checker{Name: "source", Check: a.repos.Ping})
			h.SetReady(true)

			srv := server.New(a.cfg.Site, a.runner(), a.repos.Events, h, a.logger, a.tel.TracerProvider)
			return srv.ListenAndServe(cmd.Context(), a.cfg.Server)
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Write the community data to an Excel workbook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "cloverville.xlsx"
			if len(args) == 1 {
				path = args[0]
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := export.Write(cmd.Context(), a.repos.Source, path); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func newBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Discord bot",
		Long: `Connects to Discord and answers the slash commands /offers, /green-actions,
/communal-tasks, /points and /member. With leader_election enabled only the
replica holding the Lease is connected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			h := health.NewHandler(a.clock, version, health.Checker{Name: "source", Check: a.repos.Ping})
			stopHealth := serveHealth(ctx, a, h)
			defer stopHealth()

			work := func(ctx context.Context) {
				discordBot, err := bot.New(a.cfg.Discord, a.repos.Source, a.logger, a.tel.TracerProvider)
				if err != nil {
					a.logger.ErrorContext(ctx, "creating bot failed", slog.Any("error", err))
					cancel()
					return
				}
				if err := discordBot.Start(ctx); err != nil {
					a.logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", err))
					cancel()
					return
				}

				h.SetReady(true)
				a.logger.InfoContext(ctx, "cloverville bot is running", slog.String("version", version))

				<-ctx.Done()

				h.SetReady(false)
				if err := discordBot.Stop(); err != nil {
					a.logger.Error("bot shutdown error", slog.Any("error", err))
				}
			}

			return runElected(ctx, a, work, cancel)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		eventType string
		aggregate string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent history",
		Long: `Lists recorded history events, oldest first. Filter with --type
(section.rendered, section.failed, site.published, activity.completed,
points.awarded, points.deducted, community.points_added, green.reset) or
--aggregate ("<page>#<section>", the output directory, an activity ID or
a member ID).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if eventType != "" && !slices.Contains(event.Types, event.Type(eventType)) {
				return fmt.Errorf("unknown event type %q", eventType)
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var events []event.Event
			switch {
			case aggregate != "":
				events, err = a.repos.Events.Load(ctx, aggregate)
			case eventType != "":
				events, err = a.repos.Events.LoadByType(ctx, event.Type(eventType))
			default:
				for _, t := range event.Types {
					var batch []event.Event
					batch, err = a.repos.Events.LoadByType(ctx, t)
					if err != nil {
						break
					}
					events = append(events, batch...)
				}
				slices.SortStableFunc(events, func(x, y event.Event) int {
					return x.CreatedAt.Compare(y.CreatedAt)
				})
			}
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tAGGREGATE\tDATA")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.UTC().Format(time.RFC3339), e.Type, e.AggregateID, e.Data)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&aggregate, "aggregate", "", "only events of this aggregate")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many events (0 for all)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// runElected runs work directly, or only while holding the Lease when
// leader election is enabled. Losing the Lease cancels the command.
func runElected(ctx context.Context, a *app, work func(context.Context), cancel context.CancelFunc) error {
	if !a.cfg.LeaderElection.Enabled {
		work(ctx)
		a.logger.Info("shutting down...")
		return nil
	}

	a.logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")
	if err := leader.Run(ctx, a.cfg.LeaderElection, a.logger, work, func() {
		a.logger.Info("lost leadership, shutting down...")
		cancel()
	}); err != nil {
		return fmt.Errorf("leader election: %w", err)
	}
	return nil
}

// serveHealth serves /healthz and /readyz on the configured port and
// returns a function that shuts the server down.
func serveHealth(ctx context.Context, a *app, h *health.Handler) func() {
	mux := http.NewServeMux()
	h.Mount(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.InfoContext(ctx, "starting health server", slog.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "health server error", slog.Any("error", err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("health server shutdown error", slog.Any("error", err))
		}
	}
}
