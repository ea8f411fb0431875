package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jensholdgaard/cloverville/internal/clock"
	"github.com/jensholdgaard/cloverville/internal/config"
	"github.com/jensholdgaard/cloverville/internal/pipeline"
	"github.com/jensholdgaard/cloverville/internal/publish"
	"github.com/jensholdgaard/cloverville/internal/render"
	"github.com/jensholdgaard/cloverville/internal/source"
	"github.com/jensholdgaard/cloverville/internal/telemetry"

	// Register source drivers so they are available via source.Open.
	_ "github.com/jensholdgaard/cloverville/internal/source/filesource"
	_ "github.com/jensholdgaard/cloverville/internal/source/httpsource"
	_ "github.com/jensholdgaard/cloverville/internal/source/postgres"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cloverville",
		Short: "Render and serve the Cloverville community site",
		Long: `cloverville fills the Cloverville site pages with community data:
points, green actions, communal tasks and trade offers.

Data comes from a directory of JSON files, an HTTP origin or Postgres.
Pages can be published as static files, served live, or queried from Discord.
Completing activities moves points between members and the community pool.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "config.yaml", "path to configuration file")

	root.AddCommand(
		newRenderCmd(),
		newPublishCmd(),
		newServeCmd(),
		newExportCmd(),
		newBotCmd(),
		newCompleteCmd(),
		newGreenCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

// app holds what every command shares once the configuration is loaded.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Provider
	logger *slog.Logger
	clock  clock.Clock
	repos  *source.Repositories
}

// setup loads the configuration, starts telemetry and opens the source.
func setup(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tel = telemetry.NewNopProvider()
	}
	logger := tel.Logger
	clk := clock.Real{}

	repos, err := source.Open(ctx, cfg.Source, cfg.History, clk)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("opening source (driver=%s): %w", cfg.Source.Driver, err)
	}
	logger.DebugContext(ctx, "source opened", slog.String("driver", cfg.Source.Driver))

	return &app{cfg: cfg, tel: tel, logger: logger, clock: clk, repos: repos}, nil
}

func (a *app) Close() {
	if err := a.repos.Closer.Close(); err != nil {
		a.logger.Error("closing source", slog.Any("error", err))
	}
	if err := a.tel.Shutdown(context.Background()); err != nil {
		slog.Error("telemetry shutdown error", slog.Any("error", err))
	}
}

func (a *app) runner() *pipeline.Runner {
	return pipeline.NewRunner(a.repos.Source, a.repos.Events, render.Renderer{Raw: a.cfg.Site.RawHTML},
		a.logger, a.tel.TracerProvider, a.tel.MeterProvider, a.clock)
}

func (a *app) publisher() *publish.Publisher {
	return publish.New(a.cfg.Site, a.cfg.Publish, a.runner(), a.repos.Events, a.logger, a.tel.TracerProvider, a.clock)
}
