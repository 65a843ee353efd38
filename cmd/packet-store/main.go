package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/internal/health"
	"github.com/gftdcojp/sensor-packet-store/internal/journal"
	"github.com/gftdcojp/sensor-packet-store/internal/metrics"
	"github.com/gftdcojp/sensor-packet-store/internal/serve"
	"github.com/gftdcojp/sensor-packet-store/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("packet-store %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger = logger.With(zap.String("device_id", cfg.DeviceID))

	jr, err := journal.NewBoltStore(cfg.Journal.Path, cfg.Journal.MaxHandshakes, logger.Named("journal"))
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jr.Close()

	reporter := health.NewReporter(health.ReporterConfig{Journal: jr, Logger: logger})

	st, err := buildStorage(ctx, cfg, reporter, logger)
	if err != nil {
		return err
	}
	if err := st.coord.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	var nc *nats.Conn
	if cfg.API.NATSResponder.Enabled {
		nc, err = natsutil.Connect(cfg.NATS, cfg.DeviceID, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// The worker outlives gctx only long enough to drain the inbound queue.
	g.Go(func() error { return st.coord.Run(gctx) })

	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, serve.HandlerConfig{
				DeviceID: cfg.DeviceID,
				Storage:  st.coord,
				Journal:  jr,
				Logger:   logger.Named("api"),
			})
		})
	}

	if nc != nil {
		g.Go(func() error {
			return serve.RunNATSResponder(gctx, nc, cfg.API.NATSResponder, serve.ResponderConfig{
				Storage: st.coord,
				Journal: jr,
				Logger:  logger.Named("nats-responder"),
			})
		})
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	if cfg.Observability.Health.Enabled {
		checker := metrics.NewHealthChecker(nc, jr, st.s3Client, st.coord)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, checker)
		})
	}

	status := st.coord.Status()
	logger.Info("packet-store started",
		zap.String("version", version),
		zap.Bool("flash_active", status.Flash.Active),
		zap.Int("flash_entries", status.Flash.Entries),
		zap.Bool("archive_active", status.Archive.Active),
		zap.Int("archive_buckets", status.Archive.Entries),
		zap.String("archive_backend", cfg.Storage.Archive.Backend),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if faults := reporter.Faults(); len(faults) > 0 {
		logger.Warn("shutting down with disabled tiers", zap.Int("faults", len(faults)))
	} else {
		logger.Info("shutting down")
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
