package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
	"whale-signal-engine/internal/storage/memory"
)

const t0 = int64(1_704_067_200_000) // minute aligned

func newTestStore(cfg Config, persist storage.WalletProfileStore) *Store {
	return NewStore(cfg, Options{
		Persistence: persist,
		Metrics:     observability.NewMetrics("test", prometheus.NewRegistry()),
	})
}

func newTx(wallet string, value int64, blockTime int64) *domain.Transaction {
	return &domain.Transaction{
		Signature:     fmt.Sprintf("%s-%d-%d", wallet, value, blockTime),
		WalletAddress: wallet,
		TokenAddress:  "token",
		Direction:     domain.DirectionBuy,
		Amount:        decimal.NewFromInt(1),
		ValueQuote:    decimal.NewFromInt(value),
		BlockTime:     blockTime,
	}
}

func TestStore_UpsertAccumulates(t *testing.T) {
	s := newTestStore(DefaultConfig(), nil)
	ctx := context.Background()

	p, err := s.Upsert(ctx, "w1", newTx("w1", 100, t0))
	require.NoError(t, err)
	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), p.TransactionCount)
	assert.Equal(t, t0, p.FirstSeen)

	p, err = s.Upsert(ctx, "w1", newTx("w1", 50, t0+1000))
	require.NoError(t, err)
	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(2), p.TransactionCount)
	assert.Equal(t, int64(2), p.WindowCount)
	assert.Equal(t, t0, p.FirstSeen)
	assert.Equal(t, t0+1000, p.LastSeen)
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpsertRejectsWalletMismatch(t *testing.T) {
	s := newTestStore(DefaultConfig(), nil)
	_, err := s.Upsert(context.Background(), "other", newTx("w1", 1, t0))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStore_LazyEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = time.Hour
	cfg.BucketGranularity = time.Minute
	s := newTestStore(cfg, nil)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "w1", newTx("w1", 100, t0))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "w1", newTx("w1", 50, t0+30*time.Minute.Milliseconds()))
	require.NoError(t, err)

	p, err := s.Upsert(ctx, "w1", newTx("w1", 10, t0+90*time.Minute.Milliseconds()))
	require.NoError(t, err)

	// the t0 bucket left the window; the +30m bucket is still inside
	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(60)), "rolling volume = %s", p.RollingVolume)
	assert.Equal(t, int64(2), p.WindowCount)
	assert.Equal(t, int64(3), p.TransactionCount)
	assert.Len(t, p.Buckets, 2)
}

func TestStore_OutOfWindowTransactionAddsNoVolume(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookback = time.Hour
	s := newTestStore(cfg, nil)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, "w1", newTx("w1", 100, t0+2*time.Hour.Milliseconds()))
	p, err := s.Upsert(ctx, "w1", newTx("w1", 999, t0))
	require.NoError(t, err)

	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), p.TransactionCount)
	assert.Equal(t, t0, p.FirstSeen)
}

func TestStore_ConcurrentSameWallet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockTimeout = 5 * time.Second
	s := newTestStore(cfg, nil)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// interleave block times so arrival order differs from event order
			bt := t0 + int64((i*37)%n)*1000
			_, err := s.Upsert(ctx, "whale", newTx("whale", int64(i+1), bt))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := s.Peek(ctx, "whale")
	require.NoError(t, err)

	want := int64(n * (n + 1) / 2)
	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(want)), "rolling volume = %s, want %d", p.RollingVolume, want)
	assert.Equal(t, int64(n), p.TransactionCount)
	assert.Equal(t, int64(n), p.WindowCount)
}

func TestStore_DifferentWalletsDoNotContend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 0
	s := newTestStore(cfg, nil)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "a", newTx("a", 1, t0))
	require.NoError(t, err)

	// hold a's lock
	e := s.entryFor("a")
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	_, err = s.Upsert(ctx, "b", newTx("b", 1, t0))
	assert.NoError(t, err)
}

func TestStore_LockTimeoutFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	s := newTestStore(cfg, nil)
	ctx := context.Background()

	e := s.entryFor("w1")
	e.sem <- struct{}{}

	_, err := s.Upsert(ctx, "w1", newTx("w1", 1, t0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)

	var failure *ProfileUpdateFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "w1", failure.Wallet)
	assert.Equal(t, 3, failure.Attempts)

	<-e.sem
	_, err = s.Upsert(ctx, "w1", newTx("w1", 1, t0))
	assert.NoError(t, err)
}

func TestStore_ContextCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockTimeout = time.Second
	s := newTestStore(cfg, nil)

	e := s.entryFor("w1")
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Upsert(ctx, "w1", newTx("w1", 1, t0))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestStore_UpsertClassifiedSeesPriorSnapshot(t *testing.T) {
	s := newTestStore(DefaultConfig(), nil)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, "w1", newTx("w1", 100, t0))

	var priorCount int64
	res, snap, err := s.UpsertClassified(ctx, newTx("w1", 500, t0+1000), func(prior *domain.WalletProfile) domain.ClassificationResult {
		priorCount = prior.TransactionCount
		return domain.ClassificationResult{IsWhale: true, ReasonCode: domain.ReasonRelative}
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), priorCount)
	assert.True(t, res.IsWhale)
	assert.NotNil(t, res.Transaction)
	assert.Equal(t, int64(2), snap.TransactionCount)
	assert.Equal(t, int64(1), snap.Tally.Whale)
	assert.Same(t, snap, res.Profile)
}

func TestStore_SetClusterAndClock(t *testing.T) {
	s := newTestStore(DefaultConfig(), nil)
	ctx := context.Background()

	_, _, ok := s.Clock(ctx, "w1")
	assert.False(t, ok)

	_, _ = s.Upsert(ctx, "w1", newTx("w1", 1, t0+5))
	_, _ = s.Upsert(ctx, "w1", newTx("w1", 1, t0))

	first, last, ok := s.Clock(ctx, "w1")
	require.True(t, ok)
	assert.Equal(t, t0, first)
	assert.Equal(t, t0+5, last)

	require.NoError(t, s.SetCluster(ctx, "w1", "cluster-1"))
	p, err := s.Peek(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, p.ClusterID)
	assert.Equal(t, "cluster-1", *p.ClusterID)
}

func TestStore_Persistence(t *testing.T) {
	persist := memory.NewWalletProfileStore()
	ctx := context.Background()

	s1 := newTestStore(DefaultConfig(), persist)
	_, err := s1.Upsert(ctx, "w1", newTx("w1", 100, t0))
	require.NoError(t, err)

	// a fresh store reloads the persisted profile on first touch
	s2 := newTestStore(DefaultConfig(), persist)
	p, err := s2.Upsert(ctx, "w1", newTx("w1", 50, t0+1000))
	require.NoError(t, err)
	assert.True(t, p.RollingVolume.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(2), p.TransactionCount)
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(DefaultConfig(), nil)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, "old", newTx("old", 1, t0))
	_, _ = s.Upsert(ctx, "new", newTx("new", 1, t0+10_000))

	pruned := s.Prune(ctx, t0+5_000)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, s.Len())

	_, err := s.Peek(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// pruned wallets start fresh when seen again
	p, err := s.Upsert(ctx, "old", newTx("old", 7, t0+20_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.TransactionCount)
}
