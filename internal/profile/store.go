// Package profile holds per-wallet aggregated state with per-key serialized updates.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/storage"
)

// Config controls the lookback window and lock contention handling.
type Config struct {
	// Lookback is the rolling volume window.
	Lookback time.Duration
	// BucketGranularity is the eviction granule. Contributions are evicted
	// per bucket once the whole bucket has left the lookback window.
	BucketGranularity time.Duration
	// LockTimeout bounds a single lock acquisition attempt.
	LockTimeout time.Duration
	// MaxRetries is the number of additional attempts after a timeout.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns the default profile store configuration.
func DefaultConfig() Config {
	return Config{
		Lookback:          24 * time.Hour,
		BucketGranularity: time.Minute,
		LockTimeout:       250 * time.Millisecond,
		MaxRetries:        3,
		RetryDelay:        50 * time.Millisecond,
	}
}

// Options holds optional collaborators.
type Options struct {
	// Persistence backs the in-memory state. Nil means in-memory only.
	Persistence storage.WalletProfileStore
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// ClassifyFunc decides a transaction against the pre-update profile snapshot.
type ClassifyFunc func(prior *domain.WalletProfile) domain.ClassificationResult

// entry owns one wallet. sem is a one-slot semaphore guarding profile.
type entry struct {
	sem     chan struct{}
	profile *domain.WalletProfile
	removed bool

	// clock bounds, readable without the lock
	hasHistory atomic.Bool
	firstSeen  atomic.Int64
	lastSeen   atomic.Int64
}

// Store is the wallet profile store. Updates for one wallet serialize on
// that wallet's lock; different wallets never contend.
type Store struct {
	cfg     Config
	entries sync.Map // wallet -> *entry
	count   atomic.Int64
	persist storage.WalletProfileStore
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewStore creates a profile store.
func NewStore(cfg Config, opts Options) *Store {
	if cfg.BucketGranularity <= 0 {
		cfg.BucketGranularity = time.Millisecond
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Store{
		cfg:     cfg,
		persist: opts.Persistence,
		logger:  logging.OrNop(opts.Logger),
		metrics: observability.OrDefault(opts.Metrics),
	}
}

// Upsert applies tx to the wallet's profile and returns the updated snapshot.
func (s *Store) Upsert(ctx context.Context, walletAddress string, tx *domain.Transaction) (*domain.WalletProfile, error) {
	if tx == nil || walletAddress == "" || tx.WalletAddress != walletAddress {
		return nil, storage.ErrInvalidInput
	}
	_, snapshot, err := s.UpsertClassified(ctx, tx, nil)
	return snapshot, err
}

// UpsertClassified classifies tx against the prior profile and applies it,
// both inside the wallet's critical section. classify may be nil.
func (s *Store) UpsertClassified(ctx context.Context, tx *domain.Transaction, classify ClassifyFunc) (domain.ClassificationResult, *domain.WalletProfile, error) {
	if tx == nil || tx.WalletAddress == "" {
		return domain.ClassificationResult{}, nil, storage.ErrInvalidInput
	}

	e, err := s.lock(ctx, tx.WalletAddress, tx.Signature)
	if err != nil {
		return domain.ClassificationResult{}, nil, err
	}
	defer s.unlock(e)

	p := e.profile
	if p == nil {
		p = s.load(ctx, tx.WalletAddress)
	}

	reference := max(p.LastSeen, tx.BlockTime)
	s.evict(p, reference)

	res := domain.ClassificationResult{Transaction: tx}
	if classify != nil {
		res = classify(p.Clone())
		res.Transaction = tx
	}

	s.apply(p, tx, reference, classify != nil && res.IsWhale, classify != nil)
	e.profile = p
	e.firstSeen.Store(p.FirstSeen)
	e.lastSeen.Store(p.LastSeen)
	e.hasHistory.Store(true)

	s.save(ctx, p)
	s.metrics.ProfileUpdates.Inc()

	res.Profile = p.Clone()
	return res, res.Profile, nil
}

// SetCluster records the cluster a wallet was grouped into.
func (s *Store) SetCluster(ctx context.Context, walletAddress, clusterID string) error {
	if walletAddress == "" || clusterID == "" {
		return storage.ErrInvalidInput
	}

	e, err := s.lock(ctx, walletAddress, "")
	if err != nil {
		return err
	}
	defer s.unlock(e)

	p := e.profile
	if p == nil {
		p = s.load(ctx, walletAddress)
	}
	if p.ClusterID != nil && *p.ClusterID == clusterID {
		e.profile = p
		return nil
	}
	id := clusterID
	p.ClusterID = &id
	e.profile = p
	s.save(ctx, p)
	return nil
}

// Peek returns a snapshot of the wallet's profile. Returns storage.ErrNotFound
// for wallets not held in memory.
func (s *Store) Peek(ctx context.Context, walletAddress string) (*domain.WalletProfile, error) {
	v, ok := s.entries.Load(walletAddress)
	if !ok {
		return nil, storage.ErrNotFound
	}
	e := v.(*entry)

	if err := s.acquire(ctx, e); err != nil {
		return nil, err
	}
	defer s.unlock(e)

	if e.removed || e.profile == nil {
		return nil, storage.ErrNotFound
	}
	return e.profile.Clone(), nil
}

// Clock returns the first and last block times seen for a wallet.
// It reads atomics and never waits on the wallet lock.
func (s *Store) Clock(_ context.Context, walletAddress string) (firstSeen, lastSeen int64, ok bool) {
	v, found := s.entries.Load(walletAddress)
	if !found {
		return 0, 0, false
	}
	e := v.(*entry)
	if !e.hasHistory.Load() {
		return 0, 0, false
	}
	return e.firstSeen.Load(), e.lastSeen.Load(), true
}

// Prune drops in-memory profiles whose LastSeen is before idleBefore.
// Wallets currently locked are skipped. Returns the number pruned.
func (s *Store) Prune(_ context.Context, idleBefore int64) int {
	pruned := 0
	s.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		select {
		case e.sem <- struct{}{}:
		default:
			return true
		}
		if e.profile == nil || e.profile.LastSeen < idleBefore {
			e.removed = true
			s.entries.Delete(key)
			s.count.Add(-1)
			pruned++
		}
		<-e.sem
		return true
	})
	s.metrics.ProfilesTracked.Set(float64(s.count.Load()))
	return pruned
}

// Len returns the number of wallets held in memory.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// lock acquires the wallet's lock, retrying timeouts with a constant backoff.
func (s *Store) lock(ctx context.Context, wallet, signature string) (*entry, error) {
	attempts := 0
	op := func() (*entry, error) {
		attempts++
		for {
			e := s.entryFor(wallet)
			if err := s.acquire(ctx, e); err != nil {
				if errors.Is(err, ErrLockTimeout) {
					return nil, err
				}
				return nil, backoff.Permanent(err)
			}
			if !e.removed {
				return e, nil
			}
			// pruned while we waited; retry on the fresh entry
			<-e.sem
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxRetries)),
		ctx,
	)
	e, err := backoff.RetryWithData(op, b)
	if err == nil {
		return e, nil
	}
	if errors.Is(err, ErrLockTimeout) {
		return nil, &ProfileUpdateFailure{Wallet: wallet, Signature: signature, Attempts: attempts, Err: err}
	}
	return nil, fmt.Errorf("lock wallet %s: %w", wallet, err)
}

func (s *Store) acquire(ctx context.Context, e *entry) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.cfg.LockTimeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

func (s *Store) unlock(e *entry) {
	<-e.sem
}

func (s *Store) entryFor(wallet string) *entry {
	if v, ok := s.entries.Load(wallet); ok {
		return v.(*entry)
	}
	fresh := &entry{sem: make(chan struct{}, 1)}
	v, loaded := s.entries.LoadOrStore(wallet, fresh)
	if !loaded {
		s.metrics.ProfilesTracked.Set(float64(s.count.Add(1)))
	}
	return v.(*entry)
}

// load reads the persisted profile or starts an empty one. Called with the lock held.
func (s *Store) load(ctx context.Context, wallet string) *domain.WalletProfile {
	if s.persist != nil {
		p, err := s.persist.Load(ctx, wallet)
		if err == nil && p != nil {
			return p
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.metrics.ProfilePersistErrors.WithLabelValues("load").Inc()
			s.logger.Warn("load wallet profile", zap.String("wallet", wallet), zap.Error(err))
		}
	}
	return &domain.WalletProfile{WalletAddress: wallet, RollingVolume: decimal.Zero}
}

func (s *Store) save(ctx context.Context, p *domain.WalletProfile) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(ctx, p); err != nil {
		s.metrics.ProfilePersistErrors.WithLabelValues("save").Inc()
		s.logger.Warn("save wallet profile", zap.String("wallet", p.WalletAddress), zap.Error(err))
	}
}

// evict removes buckets that lie entirely before reference - lookback.
func (s *Store) evict(p *domain.WalletProfile, reference int64) {
	cutoff := reference - s.cfg.Lookback.Milliseconds()
	g := s.cfg.BucketGranularity.Milliseconds()
	if g <= 0 {
		g = 1
	}

	n := 0
	for n < len(p.Buckets) && p.Buckets[n].Start+g <= cutoff {
		p.RollingVolume = p.RollingVolume.Sub(p.Buckets[n].Volume)
		p.WindowCount -= p.Buckets[n].Count
		n++
	}
	if n > 0 {
		p.Buckets = append(p.Buckets[:0], p.Buckets[n:]...)
	}
}

func (s *Store) apply(p *domain.WalletProfile, tx *domain.Transaction, reference int64, whale, classified bool) {
	if p.TransactionCount == 0 {
		p.FirstSeen = tx.BlockTime
		p.LastSeen = tx.BlockTime
	} else {
		p.FirstSeen = min(p.FirstSeen, tx.BlockTime)
		p.LastSeen = max(p.LastSeen, tx.BlockTime)
	}
	p.TransactionCount++

	if classified {
		if whale {
			p.Tally.Whale++
		} else {
			p.Tally.NonWhale++
		}
	}

	// a transaction already older than the window counts, but adds no volume
	if tx.BlockTime < reference-s.cfg.Lookback.Milliseconds() {
		return
	}

	g := s.cfg.BucketGranularity.Milliseconds()
	if g <= 0 {
		g = 1
	}
	start := floorDiv(tx.BlockTime, g) * g

	i := sort.Search(len(p.Buckets), func(i int) bool { return p.Buckets[i].Start >= start })
	if i < len(p.Buckets) && p.Buckets[i].Start == start {
		p.Buckets[i].Volume = p.Buckets[i].Volume.Add(tx.ValueQuote)
		p.Buckets[i].Count++
	} else {
		p.Buckets = append(p.Buckets, domain.VolumeBucket{})
		copy(p.Buckets[i+1:], p.Buckets[i:])
		p.Buckets[i] = domain.VolumeBucket{Start: start, Volume: tx.ValueQuote, Count: 1}
	}
	p.RollingVolume = p.RollingVolume.Add(tx.ValueQuote)
	p.WindowCount++
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
