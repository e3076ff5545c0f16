// Package distribution deduplicates signals and delivers them to downstream
// consumers asynchronously with per-consumer retry.
package distribution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/signalgen"
	"whale-signal-engine/internal/storage"
	"whale-signal-engine/internal/storage/memory"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("distributor closed")

// Consumer is a downstream signal sink. Deliver must be idempotent on
// signal id. Errors wrapped with backoff.Permanent are not retried.
type Consumer interface {
	Name() string
	Deliver(ctx context.Context, d *domain.Delivery) error
}

// Config controls dedup and delivery.
type Config struct {
	// DedupHorizon is how long a signal id is remembered, in event time.
	DedupHorizon    time.Duration
	MaxDedupEntries int
	// QueueSize bounds each consumer's pending deliveries.
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the default distributor configuration.
func DefaultConfig() Config {
	return Config{
		DedupHorizon:    30 * time.Minute,
		MaxDedupEntries: memory.DefaultMaxDedupEntries,
		QueueSize:       256,
		MaxAttempts:     5,
		InitialBackoff:  200 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
	}
}

// Options holds optional collaborators.
type Options struct {
	// Shared is consulted after the local dedup set, for multi-instance setups.
	Shared storage.DedupStore
	// MinHorizon raises DedupHorizon, typically the generator's longest validity.
	MinHorizon time.Duration
	// Now stamps deliveries and evaluates live confidence. Defaults to time.Now.
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

type consumerWorker struct {
	consumer Consumer
	queue    chan *domain.Signal
	done     chan struct{}
}

// Distributor publishes each signal id at most once per consumer.
type Distributor struct {
	cfg     Config
	local   *memory.DedupStore
	shared  storage.DedupStore
	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics

	workers []*consumerWorker

	mu     sync.RWMutex
	closed bool

	// cancels in-flight retries once Close gives up waiting
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a distributor and starts one delivery goroutine per consumer.
func New(cfg Config, consumers []Consumer, opts Options) *Distributor {
	if cfg.DedupHorizon < opts.MinHorizon {
		cfg.DedupHorizon = opts.MinHorizon
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Distributor{
		cfg:     cfg,
		local:   memory.NewDedupStore(cfg.MaxDedupEntries),
		shared:  opts.Shared,
		now:     opts.Now,
		logger:  logging.OrNop(opts.Logger),
		metrics: observability.OrDefault(opts.Metrics),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, c := range consumers {
		w := &consumerWorker{
			consumer: c,
			queue:    make(chan *domain.Signal, cfg.QueueSize),
			done:     make(chan struct{}),
		}
		d.workers = append(d.workers, w)
		go d.run(w)
	}
	return d
}

// Horizon returns the effective dedup horizon.
func (d *Distributor) Horizon() time.Duration {
	return d.cfg.DedupHorizon
}

// Publish hands sig to every consumer unless its id was already published
// within the dedup horizon. It never blocks on a consumer. Reports whether
// the signal was published.
func (d *Distributor) Publish(ctx context.Context, sig *domain.Signal) (bool, error) {
	if sig == nil || sig.SignalID == "" {
		return false, storage.ErrInvalidInput
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false, ErrClosed
	}

	fresh, err := d.markPublished(ctx, sig)
	if err != nil {
		return false, err
	}
	if !fresh {
		d.metrics.DuplicatesSuppressed.Inc()
		d.logger.Debug("duplicate signal suppressed", zap.String("signal_id", sig.SignalID))
		return false, nil
	}

	d.metrics.SignalsPublished.Inc()
	for _, w := range d.workers {
		select {
		case w.queue <- sig:
		default:
			d.metrics.DeliveriesDropped.WithLabelValues(w.consumer.Name()).Inc()
			d.logger.Warn("consumer queue full, delivery dropped",
				zap.String("consumer", w.consumer.Name()),
				zap.String("signal_id", sig.SignalID))
		}
	}
	return true, nil
}

func (d *Distributor) markPublished(ctx context.Context, sig *domain.Signal) (bool, error) {
	fresh, err := d.local.MarkPublished(ctx, sig.SignalID, sig.CreatedAt, d.cfg.DedupHorizon)
	if err != nil || !fresh || d.shared == nil {
		return fresh, err
	}

	sharedFresh, err := d.shared.MarkPublished(ctx, sig.SignalID, sig.CreatedAt, d.cfg.DedupHorizon)
	if err != nil {
		d.logger.Warn("shared dedup unavailable, using local decision",
			zap.String("signal_id", sig.SignalID), zap.Error(err))
		return true, nil
	}
	return sharedFresh, nil
}

// Close stops intake and drains consumer queues until ctx is done, then
// cancels in-flight retries and waits for the workers to exit.
func (d *Distributor) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		for _, w := range d.workers {
			<-w.done
		}
		close(drained)
	}()

	select {
	case <-drained:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-drained
		return ctx.Err()
	}
}

func (d *Distributor) run(w *consumerWorker) {
	defer close(w.done)
	name := w.consumer.Name()

	for sig := range w.queue {
		if d.ctx.Err() != nil {
			d.metrics.DeliveriesDropped.WithLabelValues(name).Inc()
			continue
		}
		d.deliver(w.consumer, sig)
	}
}

func (d *Distributor) deliver(c Consumer, sig *domain.Signal) {
	name := c.Name()
	start := time.Now()

	attempts := 0
	op := func() error {
		attempts++
		now := d.now()
		delivery := &domain.Delivery{
			DeliveryID:          uuid.NewString(),
			Consumer:            name,
			Signal:              sig,
			EffectiveConfidence: signalgen.EffectiveConfidence(sig, now.UnixMilli()),
			DeliveredAt:         now.UnixMilli(),
		}
		return c.Deliver(d.ctx, delivery)
	}

	err := backoff.Retry(op, d.retryPolicy())
	d.metrics.RecordDelivery(name, time.Since(start).Seconds(), err)
	if err != nil {
		d.logger.Error("signal delivery failed",
			zap.String("consumer", name),
			zap.String("signal_id", sig.SignalID),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
}

func (d *Distributor) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if d.cfg.InitialBackoff > 0 {
		b.InitialInterval = d.cfg.InitialBackoff
	}
	if d.cfg.MaxBackoff > 0 {
		b.MaxInterval = d.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), d.ctx)
}
