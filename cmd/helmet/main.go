package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/speedwagon-io/helmet/internal/buffer"
	"github.com/speedwagon-io/helmet/internal/collector"
	"github.com/speedwagon-io/helmet/internal/collector/adapters"
	"github.com/speedwagon-io/helmet/internal/config"
	"github.com/speedwagon-io/helmet/internal/health"
	"github.com/speedwagon-io/helmet/internal/lib/logger/sl"
	"github.com/speedwagon-io/helmet/internal/sender"
)

type options struct {
	configPath string
	dryRun     bool
	maxCycles  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "helmet",
		Short:        "Helmet monitoring runtime: crash and fatigue alerts with offline-safe telemetry",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.maxCycles < 0 {
				return fmt.Errorf("--max-cycles must not be negative")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log messages instead of publishing them")
	cmd.Flags().IntVar(&opts.maxCycles, "max-cycles", 0, "stop after this many cycles (0 runs until interrupted)")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	log := sl.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.File != "" {
		var logFile io.Closer
		log, logFile = sl.SetupFileLogger(cfg.Log.Level, cfg.Log.Format, sl.Rotation{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		defer logFile.Close()
	}

	log.Info("starting helmet runtime",
		slog.String("env", cfg.Env),
		slog.String("device_id", cfg.Device.ID),
		slog.String("protocol", cfg.Connectivity.Protocol),
		slog.Bool("dry_run", opts.dryRun),
	)

	sensors, err := adapters.New(log, cfg.Runtime)
	if err != nil {
		log.Error("failed to create sensor adapter", sl.Err(err))
		return err
	}

	client, err := sender.NewClient(ctx, log, cfg.Device.ID, cfg.Connectivity, newBroker(log, cfg, opts.dryRun))
	if err != nil {
		log.Error("failed to create telemetry client", sl.Err(err))
		return err
	}
	defer client.Close()

	store, err := newStore(log, cfg, opts.dryRun)
	if err != nil {
		log.Error("failed to create event store", sl.Err(err))
		return err
	}

	healthServer := health.NewServer(log, cfg.Health.Address)
	healthServer.SetTelemetrySource(client.HealthSnapshot)
	healthServer.AddChecker(health.NewTransportHealthChecker(client.HealthSnapshot))
	healthServer.AddChecker(health.NewBufferHealthChecker(store.Count, cfg.Storage.MaxItems))
	if sqliteStore, ok := store.(*buffer.SQLiteBuffer); ok {
		healthServer.AddChecker(health.NewStoreIntegrityChecker(sqliteStore.Undecodable))
	}

	if err := healthServer.Start(); err != nil {
		log.Error("failed to start health server", sl.Err(err))
		return err
	}

	manager := collector.NewManager(log, cfg, sensors, sensors, client, store,
		collector.WithMaxCycles(opts.maxCycles))

	manager.Start(ctx)
	manager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop health server", sl.Err(err))
	}

	if err := store.Close(); err != nil {
		log.Error("failed to close event store", sl.Err(err))
	}

	log.Info("helmet runtime stopped",
		slog.Int64("cycles", manager.Cycles()),
		slog.Any("faults", manager.Faults()),
	)

	return nil
}

// newBroker returns nil for protocols without a network transport; the
// client then keeps everything in its offline queue.
func newBroker(log *slog.Logger, cfg *config.Config, dryRun bool) sender.Broker {
	if dryRun {
		log.Info("dry-run mode: messages will be logged instead of published")
		return sender.NewLogBroker(log)
	}

	if !strings.EqualFold(cfg.Connectivity.Protocol, "mqtt") {
		log.Warn("no network transport for protocol", slog.String("protocol", cfg.Connectivity.Protocol))
		return nil
	}

	clientID := cfg.Connectivity.ClientID
	if clientID == "" {
		clientID = cfg.Device.ID
	}
	return sender.NewMQTTBroker(log, cfg.Connectivity, clientID)
}

func newStore(log *slog.Logger, cfg *config.Config, dryRun bool) (buffer.Buffer, error) {
	policy := buffer.Policy{
		Retention: cfg.Storage.Retention(),
		MaxItems:  cfg.Storage.MaxItems,
	}

	if dryRun {
		return buffer.NewMemoryBuffer(log, policy), nil
	}

	conflictPolicy, err := buffer.ParseConflictPolicy(cfg.Storage.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	var opts []buffer.Option
	if cfg.Storage.EncryptionRequired {
		sealer, err := buffer.NewSealer(cfg.Storage.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create payload sealer: %w", err)
		}
		opts = append(opts, buffer.WithSealer(sealer))
	}

	store, err := buffer.NewSQLiteBuffer(log, cfg.Storage.Path, policy, opts...)
	if err != nil {
		return nil, err
	}

	log.Info("event store opened",
		slog.String("path", cfg.Storage.Path),
		slog.Bool("encrypted", cfg.Storage.EncryptionRequired),
		slog.String("conflict_policy", string(conflictPolicy)),
	)
	return store, nil
}
