package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"paywallIndexer/internal/api"
	"paywallIndexer/internal/config"
	"paywallIndexer/internal/indexer"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Subscription contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", "", "optional .env file loaded before reading the environment")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill, then poll for new events and serve status",
		RunE:  runIndexer,
	}
	addEngineFlags(runCmd)
	runCmd.Flags().String("listen", ":8080", "status and metrics listen address")
	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run the historical backfill once and exit",
		RunE:  runBackfill,
	}
	addEngineFlags(backfillCmd)
	root.AddCommand(backfillCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the Postgres tables if they do not exist",
		RunE:  runSchema,
	}
	schemaCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	schemaCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(schemaCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC endpoint URL")
	cmd.Flags().String("contract", "", "subscription contract address")
	cmd.Flags().String("network", "sepolia", "network label")
	cmd.Flags().Uint64("start-block", 0, "explicit start block; unset means lookback from the chain head")
	cmd.Flags().Uint64("confirmations", 3, "blocks kept out of reach of processing")
	cmd.Flags().Uint64("lookback-blocks", 2000, "history scanned on first start without a start block")
	cmd.Flags().Uint64("chunk-size", 2000, "blocks per backfill chunk")
	cmd.Flags().String("poll-interval", "15s", "poll cadence (duration or milliseconds)")
	cmd.Flags().String("order", "kind", "apply order within a range (kind, global)")
	cmd.Flags().String("store", config.StorePostgres, "storage backend (postgres, memory)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("audit-out", "", "optional JSONL file receiving applied ledger records")
	cmd.Flags().Int("max-retries", 3, "startup retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial startup retry backoff")
	cmd.Flags().String("sentry-dsn", "", "optional Sentry DSN")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(cfgFile, envFile, cmd.Flags())
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reporter, flush, err := newReporter(cfg.SentryDSN, logger)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var engine *indexer.Engine
	configured := true
	if err := cfg.Validate(); err != nil {
		if !errors.Is(err, config.ErrNotConfigured) {
			return err
		}
		configured = false
		logger.Error("engine not initialized", zap.Error(err))
		reporter.Report(err, map[string]string{"stage": "config"})
		engine = indexer.NewEngine(engineConfig(cfg, "", indexer.OrderKind), nil, nil, logger)
	} else {
		deps, err := openDeps(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer deps.Close()
		engine = deps.engine(cfg, logger, indexer.WithReporter(reporter))
	}

	logger.Info("indexer start",
		zap.String("network", cfg.Network),
		zap.String("contract", cfg.Contract),
		zap.String("store", cfg.Store),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("listen", cfg.Listen),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.NewServer(engine, logger).Run(groupCtx, cfg.Listen)
	})
	if configured {
		group.Go(func() error {
			if err := engine.Start(groupCtx); err != nil {
				logger.Error("engine stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = group.Wait()
	logger.Info("indexer stop")
	return err
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reporter, flush, err := newReporter(cfg.SentryDSN, logger)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	engine := deps.engine(cfg, logger, indexer.WithReporter(reporter))
	if _, err := engine.Resolve(ctx); err != nil {
		return err
	}
	if err := engine.Backfill(ctx); err != nil {
		return err
	}

	status := engine.Status(ctx)
	logger.Info("backfill done",
		zap.Uint64("watermark", status.LastProcessedBlock),
		zap.Uint64("events", status.EventsProcessed),
	)
	return nil
}

func runSchema(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openPostgres(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("schema applied", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
