package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/distribution"
	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/ingestion"
	"whale-signal-engine/internal/observability"
)

const (
	t0     = int64(1_704_067_200_000) // 2024-01-01T00:00:00Z
	minute = int64(60_000)
)

type recordingConsumer struct {
	mu         sync.Mutex
	deliveries []*domain.Delivery
}

func (c *recordingConsumer) Name() string { return "recording" }

func (c *recordingConsumer) Deliver(_ context.Context, d *domain.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
	return nil
}

func (c *recordingConsumer) all() []*domain.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.Delivery(nil), c.deliveries...)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Normalizer.ValidateAddresses = false
	cfg.Pipeline.Workers = 1
	cfg.Storage.Backend = "memory"
	cfg.Ingestion.Source = "none"
	return cfg
}

func replayLines() string {
	var b strings.Builder
	trades := []struct {
		wallet, dir string
		value       int64
		at          int64
	}{
		{"whale-w", "buy", 15000, t0},
		{"buyer-2", "buy", 20000, t0 + minute},
		{"buyer-3", "buy", 25000, t0 + 2*minute},
		{"buyer-4", "buy", 18000, t0 + 3*minute},
		{"seller-1", "sell", 12000, t0 + 4*minute},
	}
	for i, tr := range trades {
		fmt.Fprintf(&b, `{"signature":"tx-%d","wallet":%q,"token":"token-x","direction":%q,"amount":"%d","valueQuote":"%d","blockTime":%d}`+"\n",
			i+1, tr.wallet, tr.dir, tr.value/2, tr.value, tr.at)
	}
	return b.String()
}

func TestOrchestrator_ReplayEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	consumer := &recordingConsumer{}
	source := ingestion.NewReplayReader(strings.NewReader(replayLines()), nil)

	o, err := New(context.Background(), cfg, Options{
		Metrics:            observability.NewMetrics("test", prometheus.NewRegistry()),
		Source:             source,
		ExitWhenSourceDone: true,
		DisableHTTP:        true,
		Now:                func() time.Time { return time.UnixMilli(t0 + 5*minute) },
		Consumers:          []distribution.Consumer{consumer},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, o.Run(ctx))
	require.NoError(t, o.Close(ctx))

	assert.Equal(t, ingestion.ReplayStats{Lines: 5, Accepted: 5}, source.Stats())

	st := o.Engine.Stats()
	assert.Equal(t, int64(5), st.Processed)
	assert.Equal(t, int64(1), st.Published)
	assert.Equal(t, t0+4*minute, st.LastEventTime)

	deliveries := consumer.all()
	require.Len(t, deliveries, 1)
	sig := deliveries[0].Signal
	assert.Equal(t, domain.PatternAccumulation, sig.PatternType)
	assert.Equal(t, "token-x", sig.TokenAddress)

	stored, err := o.Signals.GetByID(context.Background(), sig.SignalID)
	require.NoError(t, err)
	assert.Equal(t, sig.CreatedAt, stored.CreatedAt)

	summary := o.Tracker.Summary(10)
	assert.Equal(t, 5, summary.WhalesTracked)

	feed := o.Feed.Summary(10, sig.CreatedAt)
	assert.Equal(t, int64(1), feed.TotalPublished)
	assert.Equal(t, map[string]int64{string(domain.PatternAccumulation): 1}, feed.ByPatternType)
	require.Len(t, feed.Recent, 1)
	assert.Equal(t, sig.SignalID, feed.Recent[0].SignalID)
}

func TestOrchestrator_RedisChannelRequiresRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Consumers.RedisChannel = "whale-signals"

	_, err := New(context.Background(), cfg, Options{
		Metrics:     observability.NewMetrics("test", prometheus.NewRegistry()),
		DisableHTTP: true,
	})
	assert.ErrorContains(t, err, "redis_addr")
}

func TestOrchestrator_RunUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"

	o, err := New(context.Background(), cfg, Options{
		Metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	require.NotNil(t, o.Hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return o.Engine.Stats().Running }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, o.Close(context.Background()))
}
