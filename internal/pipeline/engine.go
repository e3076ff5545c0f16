// Package pipeline wires normalization, profiling, classification, pattern
// analysis, signal generation and distribution into one streaming engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whale-signal-engine/internal/activity"
	"whale-signal-engine/internal/classifier"
	"whale-signal-engine/internal/distribution"
	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/normalization"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/pattern"
	"whale-signal-engine/internal/profile"
	"whale-signal-engine/internal/signalgen"
)

// Errors returned by the engine.
var (
	ErrClosed         = errors.New("engine closed")
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
)

// Config controls queueing and the worker pool.
type Config struct {
	// QueueSize bounds normalized transactions waiting for a worker.
	QueueSize int
	Workers   int
	// ShutdownTimeout bounds Close when the caller's ctx has no deadline.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:       1024,
		Workers:         runtime.NumCPU(),
		ShutdownTimeout: 30 * time.Second,
	}
}

// ActivityBroadcaster receives every whale classification, e.g. the dashboard hub.
type ActivityBroadcaster interface {
	BroadcastActivity(a *domain.WhaleActivity)
}

// Options holds the engine components. Recorder, Tracker and Broadcaster are optional.
type Options struct {
	Normalizer  *normalization.Normalizer
	Profiles    *profile.Store
	Classifier  *classifier.Classifier
	Analyzer    *pattern.Analyzer
	Generator   *signalgen.Generator
	Distributor *distribution.Distributor

	Recorder    *activity.Recorder
	Tracker     *activity.Tracker
	Broadcaster ActivityBroadcaster

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Stats are engine counters since start.
type Stats struct {
	Ingested        int64 `json:"ingested"`
	Rejected        int64 `json:"rejected"`
	Processed       int64 `json:"processed"`
	ProfileFailures int64 `json:"profile_failures"`
	Whales          int64 `json:"whales"`
	Patterns        int64 `json:"patterns"`
	Signals         int64 `json:"signals"`
	Published       int64 `json:"published"`
	Duplicates      int64 `json:"duplicates"`
	LastEventTime   int64 `json:"last_event_time"`
	QueueDepth      int   `json:"queue_depth"`
	QueueCapacity   int   `json:"queue_capacity"`
	Wallets         int   `json:"wallets"`
	TokenWindows    int   `json:"token_windows"`
	Running         bool  `json:"running"`
}

type counters struct {
	ingested        atomic.Int64
	rejected        atomic.Int64
	processed       atomic.Int64
	profileFailures atomic.Int64
	whales          atomic.Int64
	patterns        atomic.Int64
	signals         atomic.Int64
	published       atomic.Int64
	duplicates      atomic.Int64
	lastEventTime   atomic.Int64
}

// Engine is the streaming whale detection engine.
//
// Ingest normalizes in the caller's goroutine and then blocks on a bounded
// queue. A fixed pool of workers drains the queue; each transaction runs
// classify+upsert, pattern analysis, signal generation and publish in order.
type Engine struct {
	cfg  Config
	opts Options

	logger  *zap.Logger
	metrics *observability.Metrics

	queue    chan *domain.Transaction
	mu       sync.RWMutex // guards closed against sends on queue
	closed   bool
	stopping chan struct{}
	stopOnce sync.Once

	started atomic.Bool
	running atomic.Bool
	group   *errgroup.Group
	cancel  context.CancelFunc

	stats counters
}

// New creates an engine. Start must be called before transactions are processed.
func New(cfg Config, opts Options) (*Engine, error) {
	switch {
	case opts.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case opts.Profiles == nil:
		return nil, errors.New("pipeline: profile store is required")
	case opts.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case opts.Analyzer == nil:
		return nil, errors.New("pipeline: analyzer is required")
	case opts.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case opts.Distributor == nil:
		return nil, errors.New("pipeline: distributor is required")
	}

	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return &Engine{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		metrics:  observability.OrDefault(opts.Metrics),
		queue:    make(chan *domain.Transaction, cfg.QueueSize),
		stopping: make(chan struct{}),
	}, nil
}

// Start launches the worker pool. Cancelling ctx stops the workers without draining.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.work(gctx)
			return nil
		})
	}
	e.group = g
	e.running.Store(true)

	e.logger.Info("engine started",
		zap.Int("workers", e.cfg.Workers),
		zap.Int("queue_size", e.cfg.QueueSize),
	)
	return nil
}

// Ingest normalizes a raw event and enqueues it. Rejections are returned as
// *normalization.MalformedInputError or *normalization.ClockSkewError.
// Ingest blocks while the queue is full.
func (e *Engine) Ingest(ctx context.Context, raw map[string]any) error {
	if e.isClosed() {
		return ErrClosed
	}

	tx, err := e.opts.Normalizer.Normalize(ctx, raw)
	if err != nil {
		kind, reason := normalization.Classify(err)
		e.metrics.RecordRejection(kind, reason)
		e.stats.rejected.Add(1)
		e.logger.Debug("event rejected",
			zap.String("kind", kind),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}

	return e.Submit(ctx, tx)
}

// Submit enqueues an already normalized transaction.
func (e *Engine) Submit(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil {
		return errors.New("pipeline: nil transaction")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	select {
	case e.queue <- tx:
		e.stats.ingested.Add(1)
		e.metrics.TransactionsIngested.Inc()
		e.metrics.QueueDepth.Set(float64(len(e.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopping:
		return ErrClosed
	}
}

// Close stops intake, drains queued transactions, flushes whale activity and
// closes the distributor. Steps still pending when ctx expires are abandoned.
func (e *Engine) Close(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopping) })

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error

	if e.started.Load() {
		done := make(chan struct{})
		go func() {
			_ = e.group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			e.cancel()
			<-done
			errs = append(errs, fmt.Errorf("drain workers: %w", ctx.Err()))
		}
		e.cancel()
		e.running.Store(false)
	}

	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush whale activity: %w", err))
		}
	}

	if err := e.opts.Distributor.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close distributor: %w", err))
	}

	st := e.Stats()
	e.logger.Info("engine stopped",
		zap.Int64("ingested", st.Ingested),
		zap.Int64("processed", st.Processed),
		zap.Int64("published", st.Published),
	)
	return errors.Join(errs...)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Ingested:        e.stats.ingested.Load(),
		Rejected:        e.stats.rejected.Load(),
		Processed:       e.stats.processed.Load(),
		ProfileFailures: e.stats.profileFailures.Load(),
		Whales:          e.stats.whales.Load(),
		Patterns:        e.stats.patterns.Load(),
		Signals:         e.stats.signals.Load(),
		Published:       e.stats.published.Load(),
		Duplicates:      e.stats.duplicates.Load(),
		LastEventTime:   e.stats.lastEventTime.Load(),
		QueueDepth:      len(e.queue),
		QueueCapacity:   cap(e.queue),
		Wallets:         e.opts.Profiles.Len(),
		TokenWindows:    e.opts.Analyzer.Len(),
		Running:         e.running.Load(),
	}
}

// LastEventTime returns the newest processed block time, or 0.
func (e *Engine) LastEventTime() int64 {
	return e.stats.lastEventTime.Load()
}

func (e *Engine) raiseLastEvent(at int64) bool {
	for {
		cur := e.stats.lastEventTime.Load()
		if at <= cur {
			return false
		}
		if e.stats.lastEventTime.CompareAndSwap(cur, at) {
			return true
		}
	}
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-e.queue:
			if !ok {
				return
			}
			e.metrics.QueueDepth.Set(float64(len(e.queue)))
			e.process(ctx, tx)
		}
	}
}

// process runs one transaction through classification, analysis and publishing.
func (e *Engine) process(ctx context.Context, tx *domain.Transaction) {
	start := time.Now()
	defer func() {
		e.metrics.ProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	res, _, err := e.opts.Profiles.UpsertClassified(ctx, tx, e.opts.Classifier.Func(tx))
	if err != nil {
		var failure *profile.ProfileUpdateFailure
		if errors.As(err, &failure) {
			e.stats.profileFailures.Add(1)
			e.metrics.ProfileUpdateFailures.Inc()
			e.logger.Warn("profile update failed, transaction dropped",
				zap.String("wallet", failure.Wallet),
				zap.String("signature", failure.Signature),
				zap.Int("attempts", failure.Attempts),
			)
			return
		}
		e.logger.Error("profile update error",
			zap.String("signature", tx.Signature),
			zap.Error(err),
		)
		return
	}

	e.stats.processed.Add(1)
	e.metrics.RecordClassification(res.ReasonCode)
	if e.raiseLastEvent(tx.BlockTime) {
		e.metrics.LastEventTime.Set(float64(tx.BlockTime))
	}

	if res.IsWhale {
		e.stats.whales.Add(1)
		e.recordWhale(domain.NewWhaleActivity(res))
	}

	patterns, err := e.opts.Analyzer.Observe(ctx, res)
	if err != nil {
		e.logger.Error("pattern analysis failed",
			zap.String("signature", tx.Signature),
			zap.Error(err),
		)
		return
	}

	for i := range patterns {
		e.stats.patterns.Add(1)
		e.emit(ctx, &patterns[i])
	}
}

func (e *Engine) recordWhale(a *domain.WhaleActivity) {
	e.logger.Debug("whale classified",
		zap.String("wallet", a.WalletAddress),
		zap.String("token", a.TokenAddress),
		zap.String("direction", string(a.Direction)),
		zap.String("value_quote", a.ValueQuote.String()),
		zap.String("reason", a.ReasonCode),
	)
	if e.opts.Tracker != nil {
		e.opts.Tracker.Record(a)
	}
	if e.opts.Recorder != nil {
		e.opts.Recorder.Record(a)
	}
	if e.opts.Broadcaster != nil {
		e.opts.Broadcaster.BroadcastActivity(a)
	}
}

func (e *Engine) emit(ctx context.Context, p *domain.Pattern) {
	sig, err := e.opts.Generator.Generate(p)
	if err != nil {
		e.logger.Error("signal generation failed",
			zap.String("pattern_type", string(p.PatternType)),
			zap.String("token", p.TokenAddress),
			zap.Error(err),
		)
		return
	}
	e.stats.signals.Add(1)

	published, err := e.opts.Distributor.Publish(ctx, sig)
	switch {
	case err != nil:
		e.logger.Error("signal publish failed",
			zap.String("signal_id", sig.SignalID),
			zap.Error(err),
		)
	case published:
		e.stats.published.Add(1)
		e.logger.Info("signal published",
			zap.String("signal_id", sig.SignalID),
			zap.String("token", sig.TokenAddress),
			zap.String("pattern_type", string(sig.PatternType)),
			zap.String("direction", string(sig.Direction)),
			zap.Float64("confidence", sig.Confidence),
		)
	default:
		e.stats.duplicates.Add(1)
	}
}
