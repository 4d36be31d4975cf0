package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plc-datalink/rfc1006/internal/api"
	"github.com/plc-datalink/rfc1006/internal/catalog"
	"github.com/plc-datalink/rfc1006/internal/config"
	"github.com/plc-datalink/rfc1006/internal/lifecycle"
	"github.com/plc-datalink/rfc1006/internal/logstate"
	"github.com/plc-datalink/rfc1006/internal/machines"
	"github.com/plc-datalink/rfc1006/internal/procscan"
	"github.com/plc-datalink/rfc1006/internal/render"
	"github.com/plc-datalink/rfc1006/internal/service"
	"github.com/plc-datalink/rfc1006/internal/store"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon and its HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, gf)
		},
	}
}

func runServe(cmd *cobra.Command, gf *globalFlags) error {
	cfg, err := gf.load()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging, true)
	defer logger.Sync()

	logger.Info("Starting datalinkd",
		zap.String("version", version),
		zap.String("collector", cfg.Collector.Binary),
		zap.String("config_dir", cfg.Collector.ConfigDir),
		zap.String("store", cfg.Store.Driver))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New(logger, func(ctx context.Context) error {
		return runDaemon(ctx, cfg, logger)
	})
	if err := svc.Run(ctx); err != nil {
		logger.Error("Daemon failed", zap.Error(err))
		return err
	}
	logger.Info("datalinkd stopped")
	return nil
}

// components are the store-independent parts shared by the daemon and the
// offline subcommands.
type components struct {
	locator    *procscan.Locator
	controller *lifecycle.Controller
	catalog    *catalog.Catalog
	state      *logstate.Inferrer
}

func buildComponents(cfg *config.Config, logger *zap.Logger) components {
	c := cfg.Collector
	locator := procscan.New(c.Binary, logger)
	return components{
		locator: locator,
		controller: lifecycle.New(
			render.NewWriter(c.ConfigDir, c.ConfigExt, logger),
			locator,
			procscan.Signaler{},
			lifecycle.NewExecLauncher(c.Binary, c.WatchConfig, logger),
			lifecycle.Options{
				StopGrace:     c.StopGrace.Duration,
				ResumeStagger: c.ResumeStagger.Duration,
			},
			logger,
		),
		catalog: catalog.New(c.ConfigDir, c.ConfigExt, locator, logger),
		state:   logstate.New(c.ConfigDir, cfg.State.TailLines, logger),
	}
}

func storeOptions(cfg *config.Config) store.Options {
	s := cfg.Store
	return store.Options{
		Driver:     s.Driver,
		URL:        s.URL,
		User:       s.User,
		Password:   s.Password,
		Database:   s.Database,
		SQLitePath: s.SQLitePath,
		Timeout:    s.Timeout.Duration,
	}
}

// runDaemon wires all components and serves the API until ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Collector.ConfigDir, 0755); err != nil {
		return fmt.Errorf("creating collector directory: %w", err)
	}

	st, err := store.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("opening profile store: %w", err)
	}
	defer st.Close()

	comp := buildComponents(cfg, logger)
	svc := machines.New(st, comp.controller, comp.catalog, comp.state, logger)

	if cfg.Collector.ResumeOnStart {
		results, err := svc.Resume(ctx)
		if err != nil {
			logger.Warn("Some collectors could not be resumed", zap.Error(err))
		}
		logger.Info("Resumed collectors", zap.Int("count", len(results)))
	}

	watcher, err := catalog.NewWatcher(cfg.Collector.ConfigDir, cfg.Collector.ConfigExt, 0, logger)
	if err != nil {
		logger.Warn("Collector directory watcher disabled", zap.Error(err))
	} else {
		go watcher.Run(ctx)
		go logChanges(watcher.Changes(), logger)
	}

	router := api.NewRouter(svc, cfg.HTTP.CORSOrigins, logger)
	return api.Serve(ctx, cfg.HTTP.Addr, router, shutdownTimeout, logger)
}

func logChanges(changes <-chan catalog.Change, logger *zap.Logger) {
	for ch := range changes {
		log := logger.Info
		if ch.Type == catalog.Modified {
			// Collectors append to their logs on every poll.
			log = logger.Debug
		}
		log("Collector artifact changed",
			zap.String("machine", ch.Machine),
			zap.String("artifact", string(ch.Kind)),
			zap.String("change", string(ch.Type)),
			zap.String("path", ch.Path))
	}
}
