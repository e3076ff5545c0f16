package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whale-signal-engine/internal/activity"
	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/distribution"
	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/ingestion"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/orchestrator"
)

// collector keeps every published signal.
type collector struct {
	mu      sync.Mutex
	signals []*domain.Signal
}

func (c *collector) Name() string { return "replay" }

func (c *collector) Deliver(_ context.Context, d *domain.Delivery) error {
	c.mu.Lock()
	c.signals = append(c.signals, d.Signal)
	c.mu.Unlock()
	return nil
}

type report struct {
	Replay  ingestion.ReplayStats `json:"replay"`
	Signals []*domain.Signal      `json:"signals"`
	Feed    activity.FeedSummary  `json:"feed"`
}

func main() {
	file := flag.String("file", "", "JSON-lines file of raw transaction events (required)")
	configPath := flag.String("config", "", "Path to YAML config file")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	workers := flag.Int("workers", 1, "Engine workers; 1 keeps per-token order identical to the file")

	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Replays run fully in memory and publish nowhere but the report.
	cfg.Storage = config.StorageConfig{Backend: "memory"}
	cfg.Consumers = config.ConsumersConfig{}
	cfg.Distributor.SharedDedup = false
	cfg.Ingestion.Source = "none"
	cfg.Maintenance.Enabled = false
	cfg.Pipeline.Workers = *workers
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping replay", zap.String("signal", sig.String()))
		cancel()
	}()

	source := ingestion.NewReplaySource(*file, logger.Named("replay"))
	sink := &collector{}

	orch, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		Logger:             logger,
		Source:             source,
		ExitWhenSourceDone: true,
		DisableHTTP:        true,
		Consumers:          []distribution.Consumer{sink},
	})
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}

	runErr := orch.Run(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	if err := orch.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("replay failed", zap.Error(runErr))
	}

	sort.Slice(sink.signals, func(i, j int) bool {
		if sink.signals[i].CreatedAt != sink.signals[j].CreatedAt {
			return sink.signals[i].CreatedAt < sink.signals[j].CreatedAt
		}
		return sink.signals[i].SignalID < sink.signals[j].SignalID
	})

	rep := report{
		Replay:  source.Stats(),
		Signals: sink.signals,
		Feed:    orch.Feed.Summary(0, orch.Engine.LastEventTime()),
	}
	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Fatal("encode report", zap.Error(err))
		}
		return
	}
	printReport(rep)
}

func printReport(rep report) {
	fmt.Printf("Lines:    %d\n", rep.Replay.Lines)
	fmt.Printf("Accepted: %d\n", rep.Replay.Accepted)
	fmt.Printf("Rejected: %d\n", rep.Replay.Rejected)
	fmt.Printf("Invalid:  %d\n", rep.Replay.Invalid)
	fmt.Printf("Signals:  %d\n", len(rep.Signals))
	for _, s := range rep.Signals {
		fmt.Printf("  %s  %-20s %-4s %.3f  %s  %s\n",
			time.UnixMilli(s.CreatedAt).UTC().Format(time.RFC3339),
			s.PatternType, s.Direction, s.Confidence, s.TokenAddress, s.SignalID)
	}
	for _, a := range rep.Feed.Alerts {
		fmt.Printf("Alert:    %s %v\n", a.Type, a.Tokens)
	}
}
