package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (env WHALE_* always applies)")
	source := flag.String("source", "", "Override ingestion source: none, replay, kafka or ws")
	replayFile := flag.String("replay-file", "", "Override ingestion.replay_file")
	httpAddr := flag.String("http-addr", "", "Override http.addr")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.Ingestion.Source = *source
	}
	if *replayFile != "" {
		cfg.Ingestion.ReplayFile = *replayFile
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.Pipeline.ShutdownTimeout + 10*time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	orch, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		Logger:  logger,
		Metrics: observability.DefaultMetrics,
	})
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}

	logger.Info("whale signal engine starting",
		zap.String("source", cfg.Ingestion.Source),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("http_addr", cfg.HTTP.Addr),
	)

	runErr := orch.Run(ctx)
	if runErr != nil {
		logger.Error("engine run failed", zap.Error(runErr))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer closeCancel()
	if err := orch.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	close(done)

	if runErr != nil {
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
