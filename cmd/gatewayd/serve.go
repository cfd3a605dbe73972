package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"wesgateway/internal/admission"
	"wesgateway/internal/config"
	"wesgateway/internal/db"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/httpapi"
	"wesgateway/internal/logging"
	"wesgateway/internal/queue"
	"wesgateway/internal/reconcile"
	"wesgateway/internal/storage"
	"wesgateway/internal/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway's HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Initialize(cfg.LogLevel, cfg.LogFormat)

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}

	runs := repositories.NewRunRepo(database.Conn())
	serviceInfo := repositories.NewServiceInfoRepo(database.Conn())
	workspace := storage.NewWorkspace(afero.NewOsFs(), cfg.StoragePath)

	telemetry, err := queue.NewTelemetry()
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	tracker := tracking.New(runs, telemetry, tracking.Options{
		PollingWait:     cfg.PollingWait,
		PollingAttempts: cfg.PollingAttempts,
		DefaultTimeout:  cfg.DefaultTimeout,
	})

	// NewEngine returns a typed-nil *NATSEngine when disabled; only promote
	// it to the queue.Engine interface when the concrete pointer is
	// actually non-nil, or admission.Controller would see a non-nil
	// interface wrapping a nil pointer and dispatch into it instead of
	// falling back to the inline tracker.
	natsEngine, err := queue.NewEngine(queue.FromConfig(cfg.NATS))
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	var engine queue.Engine
	if natsEngine != nil {
		engine = natsEngine
		defer natsEngine.Close()
	}

	admissionController := admission.New(runs, serviceInfo, workspace, engine, tracker, admission.Options{
		DBInsertAttempts: cfg.DBInsertAttempts,
		IDCharset:        cfg.IDCharset,
		IDLength:         cfg.IDLength,
		TimeoutPost:      cfg.TimeoutPost,
		TimeoutJob:       cfg.TimeoutJob,
		UpstreamHost:     cfg.UpstreamHost,
		UpstreamBasePath: cfg.UpstreamBasePath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if engine != nil {
		if err := startDispatchConsumer(ctx, natsEngine, tracker); err != nil {
			return fmt.Errorf("start dispatch consumer: %w", err)
		}

		if cfg.ReconcileEnabled {
			sweeper := reconcile.New(runs, engine, reconcile.Options{
				Interval:    cfg.ReconcileInterval,
				Grace:       cfg.ReconcileGrace,
				SoftTimeout: cfg.TimeoutJob,
			})
			if err := sweeper.Start(); err != nil {
				return fmt.Errorf("start reconciliation sweep: %w", err)
			}
			defer sweeper.Stop()
		}
	}

	server := httpapi.New(cfg, runs, serviceInfo, admissionController)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Info("received shutdown signal")
		cancel()
	}()

	logging.Info("wesgateway listening", "addr", cfg.ListenAddr)
	return server.Start(ctx)
}
