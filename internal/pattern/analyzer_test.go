package pattern

import (
	"context"
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
	"whale-signal-engine/internal/storage/memory"
)

const t0 = int64(1_704_067_200_000)

func newTestAnalyzer(cfg Config, opts Options) *Analyzer {
	opts.Metrics = observability.NewMetrics("test", prometheus.NewRegistry())
	return New(cfg, opts)
}

func whale(wallet, token string, dir domain.Direction, value int64, at int64) domain.ClassificationResult {
	return domain.ClassificationResult{
		Transaction: &domain.Transaction{
			Signature:     fmt.Sprintf("%s-%s-%d", wallet, token, at),
			WalletAddress: wallet,
			TokenAddress:  token,
			Direction:     dir,
			Amount:        decimal.NewFromInt(1),
			ValueQuote:    decimal.NewFromInt(value),
			BlockTime:     at,
		},
		IsWhale:    true,
		ReasonCode: domain.ReasonAbsolute,
	}
}

func ofType(patterns []domain.Pattern, pt domain.PatternType) (domain.Pattern, bool) {
	for _, p := range patterns {
		if p.PatternType == pt {
			return p, true
		}
	}
	return domain.Pattern{}, false
}

// observeAll feeds results in order and collects every pattern.
func observeAll(t *testing.T, a *Analyzer, results ...domain.ClassificationResult) []domain.Pattern {
	t.Helper()
	var out []domain.Pattern
	for _, r := range results {
		ps, err := a.Observe(context.Background(), r)
		require.NoError(t, err)
		out = append(out, ps...)
	}
	return out
}

func TestObserve_Accumulation(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})
	minute := time.Minute.Milliseconds()

	patterns := observeAll(t, a,
		whale("w1", "tok", domain.DirectionBuy, 15_000, t0),
		whale("s1", "tok", domain.DirectionSell, 11_000, t0+minute),
		whale("w2", "tok", domain.DirectionBuy, 20_000, t0+2*minute),
	)
	_, ok := ofType(patterns, domain.PatternAccumulation)
	assert.False(t, ok, "two buyers are below MinWallets")

	ps, err := a.Observe(context.Background(), whale("w3", "tok", domain.DirectionBuy, 30_000, t0+3*minute))
	require.NoError(t, err)

	p, ok := ofType(ps, domain.PatternAccumulation)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBuy, p.Direction)
	assert.Equal(t, []string{"w1", "w2", "w3"}, p.WalletAddresses)
	assert.Equal(t, t0+3*minute, p.ObservedAt)
	assert.Equal(t, "tok", p.TokenAddress)
	assert.GreaterOrEqual(t, p.Strength, DefaultConfig().MinStrength)
	assert.LessOrEqual(t, p.Strength, 1.0)
	assert.InDelta(t, 54_000.0/76_000.0, p.Factors.SizeSkew, 1e-9)
}

func TestObserve_SkewRatioBlocks(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})
	minute := time.Minute.Milliseconds()

	patterns := observeAll(t, a,
		whale("s1", "tok", domain.DirectionSell, 50_000, t0),
		whale("s2", "tok", domain.DirectionSell, 70_000, t0+minute),
		whale("w1", "tok", domain.DirectionBuy, 15_000, t0+2*minute),
		whale("w2", "tok", domain.DirectionBuy, 25_000, t0+3*minute),
		whale("w3", "tok", domain.DirectionBuy, 35_000, t0+4*minute),
	)
	// 3 buyers against 2 sellers is a 1.5 ratio
	_, ok := ofType(patterns, domain.PatternAccumulation)
	assert.False(t, ok)
}

func TestObserve_Distribution(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})
	minute := time.Minute.Milliseconds()

	patterns := observeAll(t, a,
		whale("s1", "tok", domain.DirectionSell, 15_000, t0),
		whale("s2", "tok", domain.DirectionSell, 40_000, t0+minute),
		whale("s3", "tok", domain.DirectionSell, 90_000, t0+2*minute),
	)
	p, ok := ofType(patterns, domain.PatternDistribution)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionSell, p.Direction)
	assert.Equal(t, 1.0, p.Factors.SizeSkew)
}

func TestObserve_IgnoresNonWhalesAndTransfers(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})

	r := whale("w1", "tok", domain.DirectionBuy, 1, t0)
	r.IsWhale = false
	ps, err := a.Observe(context.Background(), r)
	require.NoError(t, err)
	assert.Empty(t, ps)

	ps, err = a.Observe(context.Background(), whale("w1", "tok", domain.DirectionTransfer, 50_000, t0))
	require.NoError(t, err)
	assert.Empty(t, ps)

	assert.Equal(t, 0, a.Len())

	_, err = a.Observe(context.Background(), domain.ClassificationResult{IsWhale: true})
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestObserve_WindowExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 10 * time.Minute
	a := newTestAnalyzer(cfg, Options{})
	minute := time.Minute.Milliseconds()

	observeAll(t, a,
		whale("w1", "tok", domain.DirectionBuy, 15_000, t0),
		whale("w2", "tok", domain.DirectionBuy, 40_000, t0+minute),
	)

	// w1 leaves the window
	ps := observeAll(t, a, whale("w3", "tok", domain.DirectionBuy, 90_000, t0+11*minute))
	_, ok := ofType(ps, domain.PatternAccumulation)
	assert.False(t, ok)

	snap, ok := a.Snapshot("tok")
	require.True(t, ok)
	assert.Equal(t, 2, snap.Entries)
	assert.Equal(t, 2, snap.BuyWallets)
	assert.True(t, snap.BuyVolume.Equal(decimal.NewFromInt(130_000)))
	assert.Equal(t, t0+11*minute, snap.Watermark)

	// late arrivals behind the window are ignored
	ps = observeAll(t, a, whale("w4", "tok", domain.DirectionBuy, 60_000, t0))
	assert.Empty(t, ps)
	snap, _ = a.Snapshot("tok")
	assert.Equal(t, 2, snap.Entries)
}

func TestObserve_ClusterCoordination(t *testing.T) {
	profiles := &recordingAssigner{clusters: make(map[string]string)}
	graph := memory.NewClusterGraphStore()
	a := newTestAnalyzer(DefaultConfig(), Options{Assigner: profiles, Graph: graph})

	ps := observeAll(t, a, whale("c1", "tok", domain.DirectionBuy, 20_000, t0))
	assert.Empty(t, ps)

	ps = observeAll(t, a, whale("c2", "tok", domain.DirectionBuy, 21_000, t0+5_000))
	p, ok := ofType(ps, domain.PatternClusterCoordination)
	require.True(t, ok)

	assert.Equal(t, []string{"c1", "c2"}, p.WalletAddresses)
	assert.Equal(t, domain.DirectionBuy, p.Direction)
	assert.NotEmpty(t, p.ClusterID)
	assert.InDelta(t, 20_000.0/21_000.0, p.Factors.SizeSkew, 1e-9)

	assert.Equal(t, p.ClusterID, profiles.get("c1"))
	assert.Equal(t, p.ClusterID, profiles.get("c2"))

	members, err := graph.ClusterMembers(context.Background(), p.ClusterID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, members)

	// a similar-sized third wallet joins the existing cluster
	ps = observeAll(t, a, whale("c3", "tok", domain.DirectionBuy, 19_000, t0+10_000))
	p3, ok := ofType(ps, domain.PatternClusterCoordination)
	require.True(t, ok)
	assert.Equal(t, p.ClusterID, p3.ClusterID)
	assert.Equal(t, []string{"c1", "c2", "c3"}, p3.WalletAddresses)
}

func TestObserve_NoClusterForDissimilarOrDistant(t *testing.T) {
	profiles := &recordingAssigner{clusters: make(map[string]string)}
	a := newTestAnalyzer(DefaultConfig(), Options{Assigner: profiles})

	ps := observeAll(t, a,
		whale("a", "tok", domain.DirectionBuy, 10_000, t0),
		whale("b", "tok", domain.DirectionBuy, 50_000, t0+1_000),  // too different
		whale("c", "tok", domain.DirectionBuy, 10_100, t0+60_000), // outside sub-window
	)
	_, ok := ofType(ps, domain.PatternClusterCoordination)
	assert.False(t, ok)
	assert.Empty(t, profiles.clusters)
}

func TestObserve_ClusterIgnoresOppositeDirection(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})

	ps := observeAll(t, a,
		whale("a", "tok", domain.DirectionBuy, 20_000, t0),
		whale("b", "tok", domain.DirectionSell, 20_000, t0+1_000),
	)
	// grouped, but not acting in the same direction
	_, ok := ofType(ps, domain.PatternClusterCoordination)
	assert.False(t, ok)

	snap, _ := a.Snapshot("tok")
	assert.Equal(t, 1, snap.Clusters)
}

func TestObserve_KnownClusterFromProfile(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})

	known := "cluster-known"
	r := whale("a", "tok", domain.DirectionBuy, 20_000, t0)
	r.Profile = &domain.WalletProfile{WalletAddress: "a", ClusterID: &known}

	observeAll(t, a, r)
	ps := observeAll(t, a, whale("b", "tok", domain.DirectionBuy, 20_500, t0+2_000))

	p, ok := ofType(ps, domain.PatternClusterCoordination)
	require.True(t, ok)
	assert.Equal(t, known, p.ClusterID)
}

func TestObserve_TokensIndependent(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})
	minute := time.Minute.Milliseconds()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("tok-%d", i)
			for j := 0; j < 20; j++ {
				_, err := a.Observe(context.Background(),
					whale(fmt.Sprintf("w%d", j), token, domain.DirectionBuy, int64(10_000*(j+1)), t0+int64(j)*minute))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, a.Len())
	for i := 0; i < 8; i++ {
		snap, ok := a.Snapshot(fmt.Sprintf("tok-%d", i))
		require.True(t, ok)
		// 15m window keeps minutes 4..19
		assert.Equal(t, 16, snap.Entries)
	}
}

func TestSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = time.Minute
	a := newTestAnalyzer(cfg, Options{})

	observeAll(t, a,
		whale("a", "old", domain.DirectionBuy, 20_000, t0),
		whale("b", "new", domain.DirectionBuy, 20_000, t0+10*time.Minute.Milliseconds()),
	)
	require.Equal(t, 2, a.Len())

	assert.Equal(t, 1, a.Sweep(context.Background()))
	assert.Equal(t, 1, a.Len())

	_, ok := a.Snapshot("old")
	assert.False(t, ok)

	// a retired token starts a fresh window
	observeAll(t, a, whale("c", "old", domain.DirectionBuy, 20_000, t0+10*time.Minute.Milliseconds()))
	snap, ok := a.Snapshot("old")
	require.True(t, ok)
	assert.Equal(t, 1, snap.Entries)
}

func TestStrength(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig(), Options{})

	assert.InDelta(t, 1.0, a.strength(domain.PatternFactors{WalletFactor: 1, SizeSkew: 1, TimeConcentration: 1}), 1e-9)
	assert.InDelta(t, 0.4, a.strength(domain.PatternFactors{WalletFactor: 1}), 1e-9)
	assert.Equal(t, 0.0, a.strength(domain.PatternFactors{}))

	assert.InDelta(t, 1-0.36787944117, a.walletFactor(5), 1e-9)
	assert.Equal(t, 1.0, concentration(0, 1000))
	assert.Equal(t, 0.0, concentration(2000, 1000))
	assert.Equal(t, 0.5, concentration(500, 1000))
}

type recordingAssigner struct {
	mu       sync.Mutex
	clusters map[string]string
}

func (r *recordingAssigner) SetCluster(_ context.Context, wallet, clusterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clusters[wallet] = clusterID
	return nil
}

func (r *recordingAssigner) get(wallet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clusters[wallet]
}
