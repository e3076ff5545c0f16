package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

// WalletProfileStore implements storage.WalletProfileStore using PostgreSQL.
// Volume buckets are stored as JSONB.
type WalletProfileStore struct {
	pool *Pool
}

// NewWalletProfileStore creates a new WalletProfileStore.
func NewWalletProfileStore(pool *Pool) *WalletProfileStore {
	return &WalletProfileStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletProfileStore = (*WalletProfileStore)(nil)

// Load retrieves a profile by wallet address. Returns ErrNotFound if not exists.
func (s *WalletProfileStore) Load(ctx context.Context, walletAddress string) (p *domain.WalletProfile, err error) {
	defer func(start time.Time) { observe("load_wallet_profile", start, err) }(time.Now())

	query := `
		SELECT
			wallet_address, rolling_volume::text, transaction_count, window_count,
			first_seen, last_seen, whale_count, non_whale_count, cluster_id, buckets
		FROM wallet_profiles
		WHERE wallet_address = $1
	`

	var (
		profile domain.WalletProfile
		volume  string
		buckets []byte
	)
	err = s.pool.QueryRow(ctx, query, walletAddress).Scan(
		&profile.WalletAddress, &volume, &profile.TransactionCount, &profile.WindowCount,
		&profile.FirstSeen, &profile.LastSeen, &profile.Tally.Whale, &profile.Tally.NonWhale,
		&profile.ClusterID, &buckets,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load wallet profile: %w", err)
	}

	profile.RollingVolume, err = decimal.NewFromString(volume)
	if err != nil {
		return nil, fmt.Errorf("parse rolling volume: %w", err)
	}
	if len(buckets) > 0 {
		if err = json.Unmarshal(buckets, &profile.Buckets); err != nil {
			return nil, fmt.Errorf("decode volume buckets: %w", err)
		}
	}
	return &profile, nil
}

// Save inserts or replaces the profile for its wallet address.
func (s *WalletProfileStore) Save(ctx context.Context, p *domain.WalletProfile) (err error) {
	if p == nil || p.WalletAddress == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("save_wallet_profile", start, err) }(time.Now())

	buckets := p.Buckets
	if buckets == nil {
		buckets = []domain.VolumeBucket{}
	}
	encoded, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("encode volume buckets: %w", err)
	}

	query := `
		INSERT INTO wallet_profiles (
			wallet_address, rolling_volume, transaction_count, window_count,
			first_seen, last_seen, whale_count, non_whale_count, cluster_id, buckets, updated_at
		) VALUES (
			$1, $2::numeric, $3, $4,
			$5, $6, $7, $8, $9, $10, now()
		)
		ON CONFLICT (wallet_address) DO UPDATE SET
			rolling_volume = EXCLUDED.rolling_volume,
			transaction_count = EXCLUDED.transaction_count,
			window_count = EXCLUDED.window_count,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			whale_count = EXCLUDED.whale_count,
			non_whale_count = EXCLUDED.non_whale_count,
			cluster_id = EXCLUDED.cluster_id,
			buckets = EXCLUDED.buckets,
			updated_at = now()
	`

	_, err = s.pool.Exec(ctx, query,
		p.WalletAddress, p.RollingVolume.String(), p.TransactionCount, p.WindowCount,
		p.FirstSeen, p.LastSeen, p.Tally.Whale, p.Tally.NonWhale, p.ClusterID, encoded,
	)
	if err != nil {
		return fmt.Errorf("save wallet profile: %w", err)
	}
	return nil
}
