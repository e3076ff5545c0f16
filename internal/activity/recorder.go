// Package activity persists and summarizes whale classifications.
package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
)

// RecorderConfig controls batching.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBuffered bounds records held while the store is failing.
	MaxBuffered int
}

// DefaultRecorderConfig returns the default batching configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		MaxBuffered:   10_000,
	}
}

// Recorder batches whale activity into a WhaleActivityStore.
// A batch is written when BatchSize records are pending or FlushInterval elapses.
type Recorder struct {
	store   storage.WhaleActivityStore
	cfg     RecorderConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pending []*domain.WhaleActivity
	closed  bool

	flushMu sync.Mutex // serializes writes
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewRecorder creates a recorder and starts its flush loop.
func NewRecorder(store storage.WhaleActivityStore, cfg RecorderConfig, logger *zap.Logger, metrics *observability.Metrics) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = def.MaxBuffered
	}

	r := &Recorder{
		store:   store,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: observability.OrDefault(metrics),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record queues a record for persistence. It never blocks on the store.
// Records beyond MaxBuffered are dropped and counted.
func (r *Recorder) Record(a *domain.WhaleActivity) {
	if a == nil {
		return
	}

	r.mu.Lock()
	if r.closed || len(r.pending) >= r.cfg.MaxBuffered {
		r.mu.Unlock()
		r.metrics.WhaleActivityDropped.Inc()
		return
	}
	r.pending = append(r.pending, a)
	full := len(r.pending) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of records not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes every pending record.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	for {
		batch := r.take()
		if len(batch) == 0 {
			return nil
		}
		if err := r.store.InsertBulk(ctx, batch); err != nil {
			r.metrics.WhaleActivityFlushErrors.Inc()
			r.requeue(batch)
			return err
		}
		r.metrics.WhaleActivityRecorded.Add(float64(len(batch)))
	}
}

// Close stops the flush loop and writes what remains.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.Flush(ctx)
}

func (r *Recorder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		case <-r.kick:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushInterval*5)
		if err := r.Flush(ctx); err != nil {
			r.logger.Warn("whale activity flush failed",
				zap.Int("pending", r.Pending()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// take removes up to BatchSize records from the head of the buffer.
func (r *Recorder) take() []*domain.WhaleActivity {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.pending)
	if n > r.cfg.BatchSize {
		n = r.cfg.BatchSize
	}
	if n == 0 {
		return nil
	}
	batch := make([]*domain.WhaleActivity, n)
	copy(batch, r.pending[:n])
	r.pending = r.pending[n:]
	return batch
}

// requeue puts a failed batch back at the head, trimming to MaxBuffered.
func (r *Recorder) requeue(batch []*domain.WhaleActivity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make([]*domain.WhaleActivity, 0, len(batch)+len(r.pending))
	merged = append(merged, batch...)
	merged = append(merged, r.pending...)
	if over := len(merged) - r.cfg.MaxBuffered; over > 0 {
		r.metrics.WhaleActivityDropped.Add(float64(over))
		merged = merged[over:]
	}
	r.pending = merged
}
