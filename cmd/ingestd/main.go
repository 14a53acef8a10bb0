// Package main implements the ingestd daemon: the control plane described
// in SPEC_FULL.md section 4 wired together and run until signalled to
// stop, following the teacher's cmd/ddb-pitr/main.go shape (parse
// configuration, construct dependencies, hand them to a coordinator-like
// component, run it).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docvault/ingestd/config"
	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/guardrails"
	"github.com/docvault/ingestd/ocrengine"
	"github.com/docvault/ingestd/ocrqueue"
	"github.com/docvault/ingestd/progress"
	"github.com/docvault/ingestd/registry"
	"github.com/docvault/ingestd/sourceclient"
	"github.com/docvault/ingestd/syncengine"
	"github.com/docvault/ingestd/workerpool"
	"github.com/docvault/ingestd/wsapi"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := dbpool.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	if err := dbpool.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("migrations applied")

	reg := registry.New(pool, logger)
	queue := ocrqueue.New(pool, logger)
	guard := guardrails.New(pool, logger)
	tracker := progress.NewTracker()
	store := syncengine.NewStore(pool, logger)
	backends := syncengine.NewDefaultBackends(sourceclient.NewFactory())

	engine := syncengine.New(store, reg, queue, tracker, backends, syncengine.Config{
		TickInterval:         cfg.SyncSchedulerInterval,
		MaxConcurrentSources: cfg.SyncMaxConcurrentSources,
		PerDirConcurrency:    cfg.SyncPerDirConcurrency,
		UploadRoot:           cfg.UploadPath,
	}, logger)

	processor := ocrengine.NewCommandProcessor(cfg.OCRCommand, []string{"stdout"}, cfg.OCRJobTimeout)
	workers := workerpool.New(guard, processor, reg, workerpool.Config{
		WorkerCount:        cfg.OCRWorkerCount,
		ConcurrencyLimit:   cfg.OCRConcurrencyLimit,
		JobTimeout:         cfg.OCRJobTimeout,
		StuckThreshold:     cfg.OCRStuckThreshold,
		ProgressInterval:   30 * time.Second,
		DequeueBackoffBase: 200 * time.Millisecond,
		DequeueBackoffCap:  10 * time.Second,
		MinConfidenceFor:   cfg.MinConfidenceFor,
	}, logger)

	server := wsapi.NewServer(wsapi.Config{
		Pool:              pool,
		Tracker:           tracker,
		Owners:            store,
		Verifier:          wsapi.NewJWTVerifier(cfg.JWTSecret),
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		Logger:            logger,
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}

	errCh := make(chan error, 3)
	go func() { errCh <- engine.Run(ctx) }()
	go func() { errCh <- workers.Run(ctx) }()
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	var runErr error
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	logger.Info("ingestd stopped")
	return runErr
}
