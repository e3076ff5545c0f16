package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/storage"
)

func activity(sig, token string, blockTime int64) *domain.WhaleActivity {
	return &domain.WhaleActivity{
		Signature:     sig,
		WalletAddress: "wallet-" + sig,
		TokenAddress:  token,
		Direction:     domain.DirectionBuy,
		Amount:        decimal.RequireFromString("1234.5"),
		ValueQuote:    decimal.RequireFromString("15000.000000001"),
		BlockTime:     blockTime,
		Venue:         "raydium",
		SizeRatio:     6.5,
		ReasonCode:    domain.ReasonAbsoluteRelative,
	}
}

func TestWhaleActivityStore_InsertBulk(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWhaleActivityStore(conn)
	ctx := context.Background()

	// Test empty insert
	assert.NoError(t, store.InsertBulk(ctx, nil))

	a := activity("sig-1", "token-1", 1000)
	a.ClusterID = "cluster-1"
	require.NoError(t, store.InsertBulk(ctx, []*domain.WhaleActivity{a}))

	got, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0].Signature)
	assert.Equal(t, "wallet-sig-1", got[0].WalletAddress)
	assert.Equal(t, domain.DirectionBuy, got[0].Direction)
	assert.True(t, a.Amount.Equal(got[0].Amount))
	assert.True(t, a.ValueQuote.Equal(got[0].ValueQuote), "value %s", got[0].ValueQuote)
	assert.Equal(t, int64(1000), got[0].BlockTime)
	assert.Equal(t, "raydium", got[0].Venue)
	assert.Equal(t, 6.5, got[0].SizeRatio)
	assert.Equal(t, domain.ReasonAbsoluteRelative, got[0].ReasonCode)
	assert.Equal(t, "cluster-1", got[0].ClusterID)
}

func TestWhaleActivityStore_InsertBulk_DuplicatesIgnored(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWhaleActivityStore(conn)
	ctx := context.Background()

	first := activity("sig-1", "token-1", 1000)
	require.NoError(t, store.InsertBulk(ctx, []*domain.WhaleActivity{first, first}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.WhaleActivity{first, activity("sig-2", "token-1", 2000)}))

	got, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sig-2", got[0].Signature)
	assert.Equal(t, "sig-1", got[1].Signature)
}

func TestWhaleActivityStore_InsertBulk_InvalidInput(t *testing.T) {
	store := NewWhaleActivityStore(nil)

	err := store.InsertBulk(context.Background(), []*domain.WhaleActivity{{}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestWhaleActivityStore_ListByToken(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWhaleActivityStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.WhaleActivity{
		activity("a", "token-1", 3000),
		activity("b", "token-1", 1000),
		activity("c", "token-1", 5000),
		activity("d", "token-2", 2000),
	}))

	got, err := store.ListByToken(ctx, "token-1", 1000, 3000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Signature)
	assert.Equal(t, "a", got[1].Signature)

	got, err = store.ListByToken(ctx, "token-1", 4000, 3000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWhaleActivityStore_ListRecent_Limit(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWhaleActivityStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.WhaleActivity{
		activity("a", "token-1", 1000),
		activity("b", "token-2", 2000),
		activity("c", "token-3", 3000),
	}))

	got, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Signature)
	assert.Equal(t, "b", got[1].Signature)
}
