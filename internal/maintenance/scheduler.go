// Package maintenance runs periodic housekeeping jobs on cron schedules.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"whale-signal-engine/internal/logging"
)

// ProfilePruner evicts idle wallet profiles. profile.Store implements it.
type ProfilePruner interface {
	Prune(ctx context.Context, idleBefore int64) int
}

// WindowSweeper retires idle token windows. pattern.Analyzer implements it.
type WindowSweeper interface {
	Sweep(ctx context.Context) int
}

// Config holds cron specs (with a seconds field) and the idle horizon.
// An empty schedule disables the job.
type Config struct {
	PruneSchedule string
	SweepSchedule string
	ProfileIdle   time.Duration
}

// DefaultConfig returns the default schedules.
func DefaultConfig() Config {
	return Config{
		PruneSchedule: "0 */10 * * * *",
		SweepSchedule: "30 * * * * *",
		ProfileIdle:   48 * time.Hour,
	}
}

type Options struct {
	Profiles ProfilePruner
	Analyzer WindowSweeper
	// Clock returns the current event time in unix ms. Pruning is skipped
	// while it returns 0.
	Clock  func() int64
	Logger *zap.Logger
}

// Scheduler owns a cron runner with the prune and sweep jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	opts    Options
	logger  *zap.Logger
	baseCtx context.Context
}

// New registers the configured jobs. Jobs run with baseCtx.
func New(baseCtx context.Context, cfg Config, opts Options) (*Scheduler, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.ProfileIdle <= 0 {
		cfg.ProfileIdle = DefaultConfig().ProfileIdle
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}

	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		baseCtx: baseCtx,
	}

	if opts.Profiles != nil && cfg.PruneSchedule != "" {
		if err := s.add(cfg.PruneSchedule, func(ctx context.Context) { s.RunPrune(ctx) }); err != nil {
			return nil, fmt.Errorf("prune schedule: %w", err)
		}
	}
	if opts.Analyzer != nil && cfg.SweepSchedule != "" {
		if err := s.add(cfg.SweepSchedule, func(ctx context.Context) { s.RunSweep(ctx) }); err != nil {
			return nil, fmt.Errorf("sweep schedule: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) add(schedule string, job func(context.Context)) error {
	_, err := s.cron.AddFunc(schedule, func() { job(s.baseCtx) })
	return err
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// RunPrune evicts profiles idle for longer than ProfileIdle in event time.
func (s *Scheduler) RunPrune(ctx context.Context) int {
	if s.opts.Profiles == nil {
		return 0
	}
	now := s.opts.Clock()
	if now <= 0 {
		return 0
	}
	cutoff := now - s.cfg.ProfileIdle.Milliseconds()
	n := s.opts.Profiles.Prune(ctx, cutoff)
	if n > 0 {
		s.logger.Info("pruned idle wallet profiles", zap.Int("pruned", n), zap.Int64("idle_before", cutoff))
	}
	return n
}

// RunSweep retires idle token windows.
func (s *Scheduler) RunSweep(ctx context.Context) int {
	if s.opts.Analyzer == nil {
		return 0
	}
	n := s.opts.Analyzer.Sweep(ctx)
	if n > 0 {
		s.logger.Info("retired idle token windows", zap.Int("retired", n))
	}
	return n
}

func (s *Scheduler) Start() {
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", s.Jobs()))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}
