package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

func TestWalletProfileStore_SaveAndLoad(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWalletProfileStore(pool)
	ctx := context.Background()

	profile := &domain.WalletProfile{
		WalletAddress:    "wallet-1",
		RollingVolume:    decimal.RequireFromString("25000.123456789"),
		TransactionCount: 7,
		WindowCount:      3,
		FirstSeen:        1_704_067_200_000,
		LastSeen:         1_704_070_800_000,
		Tally:            domain.ClassificationTally{Whale: 2, NonWhale: 5},
		Buckets: []domain.VolumeBucket{
			{Start: 1_704_067_200_000, Volume: decimal.NewFromInt(5000), Count: 1},
			{Start: 1_704_070_800_000, Volume: decimal.RequireFromString("20000.123456789"), Count: 2},
		},
	}

	require.NoError(t, store.Save(ctx, profile))

	got, err := store.Load(ctx, "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, "wallet-1", got.WalletAddress)
	assert.True(t, profile.RollingVolume.Equal(got.RollingVolume), "rolling volume %s", got.RollingVolume)
	assert.Equal(t, int64(7), got.TransactionCount)
	assert.Equal(t, int64(3), got.WindowCount)
	assert.Equal(t, profile.FirstSeen, got.FirstSeen)
	assert.Equal(t, profile.LastSeen, got.LastSeen)
	assert.Equal(t, profile.Tally, got.Tally)
	assert.Nil(t, got.ClusterID)
	require.Len(t, got.Buckets, 2)
	assert.True(t, got.Buckets[1].Volume.Equal(profile.Buckets[1].Volume))
	assert.Equal(t, int64(2), got.Buckets[1].Count)
}

func TestWalletProfileStore_SaveOverwrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWalletProfileStore(pool)
	ctx := context.Background()

	profile := &domain.WalletProfile{
		WalletAddress:    "wallet-1",
		RollingVolume:    decimal.NewFromInt(100),
		TransactionCount: 1,
		WindowCount:      1,
		FirstSeen:        1000,
		LastSeen:         1000,
	}
	require.NoError(t, store.Save(ctx, profile))

	profile.RollingVolume = decimal.NewFromInt(300)
	profile.TransactionCount = 2
	profile.WindowCount = 2
	profile.LastSeen = 2000
	profile.ClusterID = ptr("cluster-abc")
	require.NoError(t, store.Save(ctx, profile))

	got, err := store.Load(ctx, "wallet-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(got.RollingVolume))
	assert.Equal(t, int64(2), got.TransactionCount)
	assert.Equal(t, int64(2000), got.LastSeen)
	require.NotNil(t, got.ClusterID)
	assert.Equal(t, "cluster-abc", *got.ClusterID)
	assert.Empty(t, got.Buckets)
}

func TestWalletProfileStore_Load_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWalletProfileStore(pool)

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWalletProfileStore_Save_InvalidInput(t *testing.T) {
	store := NewWalletProfileStore(nil)

	assert.ErrorIs(t, store.Save(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Save(context.Background(), &domain.WalletProfile{}), storage.ErrInvalidInput)
}
