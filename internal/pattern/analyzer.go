// Package pattern detects accumulation, distribution and cluster-coordination
// shapes over per-token sliding windows of whale transactions.
package pattern

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/idhash"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
)

// ErrInvalidResult is returned for results without a transaction.
var ErrInvalidResult = errors.New("classification result has no transaction")

// Config holds the detection thresholds and strength weights.
type Config struct {
	Window          time.Duration
	MinWallets      int
	MinSkewRatio    float64
	SaturationCount int
	MinStrength     float64

	WalletWeight float64
	SkewWeight   float64
	TimeWeight   float64

	// ClusterSubWindow bounds both the grouping heuristic and coordination checks.
	ClusterSubWindow time.Duration
	// ClusterSizeSimilarity is the max/min value ratio under which two entries group.
	ClusterSizeSimilarity float64
	MinClusterWallets     int
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Window:                15 * time.Minute,
		MinWallets:            3,
		MinSkewRatio:          2.0,
		SaturationCount:       5,
		MinStrength:           0.3,
		WalletWeight:          0.4,
		SkewWeight:            0.3,
		TimeWeight:            0.3,
		ClusterSubWindow:      30 * time.Second,
		ClusterSizeSimilarity: 1.25,
		MinClusterWallets:     2,
	}
}

// ClusterAssigner records cluster membership on wallet profiles.
type ClusterAssigner interface {
	SetCluster(ctx context.Context, walletAddress, clusterID string) error
}

// Options holds optional collaborators.
type Options struct {
	Assigner ClusterAssigner
	Graph    storage.ClusterGraphStore
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Analyzer keeps one window per token. Windows of different tokens are
// analyzed in parallel; the same token serializes on its window lock.
type Analyzer struct {
	cfg      Config
	windows  sync.Map // token -> *tokenWindow
	count    atomic.Int64
	global   atomic.Int64 // max watermark over all windows
	assigner ClusterAssigner
	graph    storage.ClusterGraphStore
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New creates an analyzer.
func New(cfg Config, opts Options) *Analyzer {
	if cfg.MinClusterWallets < 2 {
		cfg.MinClusterWallets = 2
	}
	if cfg.SaturationCount <= 0 {
		cfg.SaturationCount = 1
	}
	if cfg.ClusterSizeSimilarity < 1 {
		cfg.ClusterSizeSimilarity = 1
	}
	return &Analyzer{
		cfg:      cfg,
		assigner: opts.Assigner,
		graph:    opts.Graph,
		logger:   logging.OrNop(opts.Logger),
		metrics:  observability.OrDefault(opts.Metrics),
	}
}

// assignment is a cluster membership change applied after the window lock is released.
type assignment struct {
	wallet    string
	clusterID string
}

// Observe adds a whale result to its token window and returns the patterns
// the arrival completes. Non-whale results and transfers are ignored.
func (a *Analyzer) Observe(ctx context.Context, res domain.ClassificationResult) ([]domain.Pattern, error) {
	tx := res.Transaction
	if tx == nil {
		return nil, ErrInvalidResult
	}
	if !res.IsWhale || !tx.Direction.IsTrade() {
		return nil, nil
	}

	var known string
	if res.Profile != nil && res.Profile.ClusterID != nil {
		known = *res.Profile.ClusterID
	}

	patterns, assigned := a.observe(tx, known)

	if len(assigned) > 0 {
		a.applyAssignments(ctx, tx.TokenAddress, tx.BlockTime, assigned)
	}
	for i := range patterns {
		a.metrics.RecordPattern(string(patterns[i].PatternType))
	}
	return patterns, nil
}

func (a *Analyzer) observe(tx *domain.Transaction, knownCluster string) ([]domain.Pattern, []assignment) {
	window := a.cfg.Window.Milliseconds()

	w := a.lockWindow(tx.TokenAddress)
	defer w.mu.Unlock()

	if tx.BlockTime < w.watermark-window {
		a.logger.Debug("late whale entry ignored",
			zap.String("token", tx.TokenAddress),
			zap.String("signature", tx.Signature),
			zap.Int64("block_time", tx.BlockTime),
			zap.Int64("watermark", w.watermark))
		return nil, nil
	}

	w.advance(tx.BlockTime, window)
	a.raiseGlobal(w.watermark)

	e := &windowEntry{wallet: tx.WalletAddress, dir: tx.Direction, value: tx.ValueQuote, at: tx.BlockTime}
	w.insert(e)

	if knownCluster != "" {
		if _, ok := w.clusters[e.wallet]; !ok {
			w.clusters[e.wallet] = knownCluster
		}
	}
	assigned := a.cluster(w, e)

	var patterns []domain.Pattern
	if p, ok := a.directional(w, e.dir); ok {
		patterns = append(patterns, p)
	}
	if p, ok := a.coordination(w, e); ok {
		patterns = append(patterns, p)
	}
	return patterns, assigned
}

// lockWindow returns the token's live window with its lock held.
func (a *Analyzer) lockWindow(token string) *tokenWindow {
	for {
		v, ok := a.windows.Load(token)
		if !ok {
			var loaded bool
			v, loaded = a.windows.LoadOrStore(token, newTokenWindow(token))
			if !loaded {
				a.metrics.TokenWindows.Set(float64(a.count.Add(1)))
			}
		}
		w := v.(*tokenWindow)
		w.mu.Lock()
		if !w.retired {
			return w
		}
		w.mu.Unlock()
	}
}

func (a *Analyzer) raiseGlobal(watermark int64) {
	for {
		cur := a.global.Load()
		if watermark <= cur || a.global.CompareAndSwap(cur, watermark) {
			return
		}
	}
}

// directional evaluates accumulation (buy) or distribution (sell).
func (a *Analyzer) directional(w *tokenWindow, dir domain.Direction) (domain.Pattern, bool) {
	side, opp := w.sides[dir], w.sides[dir.Opposite()]

	n, m := len(side.wallets), len(opp.wallets)
	if n < a.cfg.MinWallets || n == 0 {
		return domain.Pattern{}, false
	}
	if m > 0 && float64(n)/float64(m) < a.cfg.MinSkewRatio {
		return domain.Pattern{}, false
	}

	dv, ov := side.volume.InexactFloat64(), opp.volume.InexactFloat64()
	skew := 0.0
	if dv+ov > 0 {
		skew = math.Max(0, (dv-ov)/(dv+ov))
	}

	factors := domain.PatternFactors{
		WalletFactor:      a.walletFactor(n),
		SizeSkew:          skew,
		TimeConcentration: concentration(side.span(), a.cfg.Window.Milliseconds()),
	}
	strength := a.strength(factors)
	if strength < a.cfg.MinStrength {
		return domain.Pattern{}, false
	}

	pt := domain.PatternAccumulation
	if dir == domain.DirectionSell {
		pt = domain.PatternDistribution
	}
	return domain.Pattern{
		PatternType:     pt,
		WalletAddresses: side.sortedWallets(),
		TokenAddress:    w.token,
		Direction:       dir,
		Strength:        strength,
		ObservedAt:      w.watermark,
		Factors:         factors,
	}, true
}

// cluster groups e with same-token entries of similar size inside the
// sub-window. Returns the membership changes to apply.
func (a *Analyzer) cluster(w *tokenWindow, e *windowEntry) []assignment {
	sub := a.cfg.ClusterSubWindow.Milliseconds()

	var matches []string
	seen := map[string]struct{}{e.wallet: {}}
	for _, o := range w.around(e.at-sub, e.at+sub) {
		if _, dup := seen[o.wallet]; dup {
			continue
		}
		if !similar(e.value.InexactFloat64(), o.value.InexactFloat64(), a.cfg.ClusterSizeSimilarity) {
			continue
		}
		seen[o.wallet] = struct{}{}
		matches = append(matches, o.wallet)
	}
	if len(matches) == 0 {
		return nil
	}

	target := w.clusters[e.wallet]
	if target == "" {
		for _, m := range matches {
			if id := w.clusters[m]; id != "" {
				target = id
				break
			}
		}
	}
	if target == "" {
		target = idhash.ComputeClusterID(w.token, e.wallet, e.at)
	}

	var changed []assignment
	for _, wallet := range append([]string{e.wallet}, matches...) {
		if w.clusters[wallet] == target {
			continue
		}
		w.clusters[wallet] = target
		changed = append(changed, assignment{wallet: wallet, clusterID: target})
	}
	return changed
}

// coordination evaluates cluster-coordination for e's cluster.
func (a *Analyzer) coordination(w *tokenWindow, e *windowEntry) (domain.Pattern, bool) {
	cid := w.clusters[e.wallet]
	if cid == "" {
		return domain.Pattern{}, false
	}
	sub := a.cfg.ClusterSubWindow.Milliseconds()

	wallets := make(map[string]struct{})
	lo, hi := math.Inf(1), 0.0
	first, last := e.at, e.at
	for _, o := range w.around(e.at-sub, e.at+sub) {
		if o.dir != e.dir || w.clusters[o.wallet] != cid {
			continue
		}
		wallets[o.wallet] = struct{}{}
		v := o.value.InexactFloat64()
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		first, last = min(first, o.at), max(last, o.at)
	}
	if len(wallets) < a.cfg.MinClusterWallets {
		return domain.Pattern{}, false
	}

	similarity := 0.0
	if hi > 0 {
		similarity = lo / hi
	}
	factors := domain.PatternFactors{
		WalletFactor:      a.walletFactor(len(wallets)),
		SizeSkew:          similarity,
		TimeConcentration: concentration(last-first, sub),
	}
	strength := a.strength(factors)
	if strength < a.cfg.MinStrength {
		return domain.Pattern{}, false
	}

	members := make([]string, 0, len(wallets))
	for wlt := range wallets {
		members = append(members, wlt)
	}
	sort.Strings(members)

	return domain.Pattern{
		PatternType:     domain.PatternClusterCoordination,
		WalletAddresses: members,
		TokenAddress:    w.token,
		Direction:       e.dir,
		Strength:        strength,
		ObservedAt:      w.watermark,
		ClusterID:       cid,
		Factors:         factors,
	}, true
}

func (a *Analyzer) applyAssignments(ctx context.Context, token string, observedAt int64, assigned []assignment) {
	byCluster := make(map[string][]string)
	for _, as := range assigned {
		byCluster[as.clusterID] = append(byCluster[as.clusterID], as.wallet)
		a.metrics.ClustersAssigned.Inc()
		if a.assigner == nil {
			continue
		}
		if err := a.assigner.SetCluster(ctx, as.wallet, as.clusterID); err != nil {
			a.logger.Warn("set wallet cluster",
				zap.String("wallet", as.wallet),
				zap.String("cluster_id", as.clusterID),
				zap.Error(err))
		}
	}
	if a.graph == nil {
		return
	}
	for id, wallets := range byCluster {
		sort.Strings(wallets)
		if err := a.graph.LinkCluster(ctx, id, token, wallets, observedAt); err != nil {
			a.logger.Warn("link cluster graph",
				zap.String("cluster_id", id),
				zap.String("token", token),
				zap.Error(err))
		}
	}
}

// Sweep retires windows whose watermark trails the global watermark by more
// than two windows. Returns the number retired.
func (a *Analyzer) Sweep(_ context.Context) int {
	horizon := a.global.Load() - 2*a.cfg.Window.Milliseconds()
	retired := 0
	a.windows.Range(func(key, value any) bool {
		w := value.(*tokenWindow)
		w.mu.Lock()
		if w.watermark < horizon {
			w.retired = true
			a.windows.Delete(key)
			a.count.Add(-1)
			retired++
		}
		w.mu.Unlock()
		return true
	})
	a.metrics.TokenWindows.Set(float64(a.count.Load()))
	return retired
}

// Snapshot returns statistics for a token window.
func (a *Analyzer) Snapshot(token string) (WindowSnapshot, bool) {
	v, ok := a.windows.Load(token)
	if !ok {
		return WindowSnapshot{}, false
	}
	w := v.(*tokenWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return WindowSnapshot{}, false
	}
	return w.snapshot(), true
}

// Len returns the number of live token windows.
func (a *Analyzer) Len() int {
	return int(a.count.Load())
}

func (a *Analyzer) walletFactor(n int) float64 {
	return 1 - math.Exp(-float64(n)/float64(a.cfg.SaturationCount))
}

func (a *Analyzer) strength(f domain.PatternFactors) float64 {
	total := a.cfg.WalletWeight + a.cfg.SkewWeight + a.cfg.TimeWeight
	if total <= 0 {
		return 0
	}
	s := (a.cfg.WalletWeight*f.WalletFactor + a.cfg.SkewWeight*f.SizeSkew + a.cfg.TimeWeight*f.TimeConcentration) / total
	return clamp01(s)
}

// concentration is 1 for a zero span and falls linearly to 0 at the bound.
func concentration(span, bound int64) float64 {
	if bound <= 0 {
		return 1
	}
	return clamp01(1 - float64(span)/float64(bound))
}

func similar(v1, v2, maxRatio float64) bool {
	lo, hi := math.Min(v1, v2), math.Max(v1, v2)
	if lo <= 0 {
		return false
	}
	return hi/lo <= maxRatio
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
