package normalization

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-signal-engine/internal/domain"
)

const testNow = int64(1_704_067_200_000)

func testAddress(seed byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return base58.Encode(b)
}

// offCurveAddress finds a 32-byte key that is not a valid ed25519 point.
func offCurveAddress(t *testing.T) string {
	t.Helper()
	for seed := 1; seed < 256; seed++ {
		b := make([]byte, 32)
		for i := range b {
			b[i] = byte(seed*7 + i*13)
		}
		if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
			return base58.Encode(b)
		}
	}
	t.Fatal("no off-curve key found")
	return ""
}

type fakeClock struct {
	first, last int64
	ok          bool
}

func (c fakeClock) Clock(context.Context, string) (int64, int64, bool) {
	return c.first, c.last, c.ok
}

func newTestNormalizer(cfg Config, opts ...Option) *Normalizer {
	opts = append([]Option{WithNow(func() int64 { return testNow })}, opts...)
	return New(cfg, opts...)
}

func validEvent() map[string]any {
	return map[string]any{
		"signature":  "sig-1",
		"wallet":     testAddress(1),
		"token":      testAddress(100),
		"direction":  "BUY",
		"amount":     "1500.25",
		"valueQuote": 15000.0,
		"blockTime":  testNow,
		"venue":      "raydium",
	}
}

func TestNormalize_Valid(t *testing.T) {
	n := newTestNormalizer(DefaultConfig())

	tx, err := n.Normalize(context.Background(), validEvent())
	require.NoError(t, err)

	assert.Equal(t, "sig-1", tx.Signature)
	assert.Equal(t, domain.DirectionBuy, tx.Direction)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("1500.25")))
	assert.True(t, tx.ValueQuote.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, testNow, tx.BlockTime)
	assert.Equal(t, "raydium", tx.Venue)
}

func TestNormalize_AliasesAndDefaults(t *testing.T) {
	n := newTestNormalizer(DefaultConfig())

	raw := map[string]any{
		"walletAddress":        testAddress(2),
		"mint":                 testAddress(101),
		"side":                 "sell",
		"tokenAmount":          json.Number("42"),
		"valueInQuoteCurrency": json.Number("12000.5"),
		"timestamp":            json.Number("1704067190"), // seconds
	}

	tx, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionSell, tx.Direction)
	assert.Equal(t, int64(1704067190000), tx.BlockTime)
	assert.Equal(t, DefaultVenue, tx.Venue)
	assert.Len(t, tx.Signature, 64, "missing signature should be derived")

	again, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Signature, again.Signature)
}

func TestNormalize_Malformed(t *testing.T) {
	n := newTestNormalizer(DefaultConfig())

	tests := []struct {
		name   string
		mutate func(map[string]any)
		reason string
	}{
		{"missing wallet", func(m map[string]any) { delete(m, "wallet") }, ReasonMissingField},
		{"missing token", func(m map[string]any) { delete(m, "token") }, ReasonMissingField},
		{"missing value", func(m map[string]any) { delete(m, "valueQuote") }, ReasonMissingField},
		{"missing time", func(m map[string]any) { delete(m, "blockTime") }, ReasonMissingField},
		{"bad direction", func(m map[string]any) { m["direction"] = "hold" }, ReasonInvalidDirection},
		{"string garbage", func(m map[string]any) { m["amount"] = "lots" }, ReasonInvalidNumber},
		{"bool amount", func(m map[string]any) { m["amount"] = true }, ReasonInvalidNumber},
		{"nan value", func(m map[string]any) { m["valueQuote"] = math.NaN() }, ReasonInvalidNumber},
		{"inf value", func(m map[string]any) { m["valueQuote"] = math.Inf(1) }, ReasonInvalidNumber},
		{"negative value", func(m map[string]any) { m["valueQuote"] = -1.0 }, ReasonNegativeValue},
		{"negative amount", func(m map[string]any) { m["amount"] = "-5" }, ReasonNegativeValue},
		{"bad wallet", func(m map[string]any) { m["wallet"] = "0xWhale" }, ReasonInvalidAddress},
		{"short token", func(m map[string]any) { m["token"] = "abc" }, ReasonInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validEvent()
			tt.mutate(raw)

			_, err := n.Normalize(context.Background(), raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedInput))
			assert.False(t, errors.Is(err, ErrClockSkew))

			kind, reason := Classify(err)
			assert.Equal(t, KindMalformed, kind)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestNormalize_AddressValidationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidateAddresses = false
	n := newTestNormalizer(cfg)

	raw := validEvent()
	raw["wallet"] = "0xWhale"
	raw["token"] = "TOKEN"

	tx, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "0xWhale", tx.WalletAddress)
}

func TestNormalize_ProgramAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectOffCurveWallets = true
	n := newTestNormalizer(cfg)

	raw := validEvent()
	raw["wallet"] = base58.Encode(edwards25519.NewGeneratorPoint().Bytes())
	_, err := n.Normalize(context.Background(), raw)
	require.NoError(t, err, "on-curve wallet should pass")

	raw["wallet"] = offCurveAddress(t)
	_, err = n.Normalize(context.Background(), raw)
	require.Error(t, err)
	_, reason := Classify(err)
	assert.Equal(t, ReasonProgramAddress, reason)
}

func TestNormalize_ClockSkew(t *testing.T) {
	skew := 2 * time.Minute
	cfg := DefaultConfig()
	cfg.MaxOutOfOrderSkew = skew
	first := testNow - int64(time.Hour/time.Millisecond)
	last := testNow - int64(10*time.Minute/time.Millisecond)

	tests := []struct {
		name      string
		blockTime int64
		reason    string
	}{
		{"future", testNow + cfg.MaxFutureSkew.Milliseconds() + 1, ReasonFutureTimestamp},
		{"before first seen", first - skew.Milliseconds() - 1, ReasonBeforeFirstSeen},
		{"out of order", last - skew.Milliseconds() - 1, ReasonOutOfOrder},
	}

	n := newTestNormalizer(cfg, WithWalletClock(fakeClock{first: first, last: last, ok: true}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validEvent()
			raw["blockTime"] = tt.blockTime

			_, err := n.Normalize(context.Background(), raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrClockSkew))
			assert.False(t, errors.Is(err, ErrMalformedInput))

			kind, reason := Classify(err)
			assert.Equal(t, KindClockSkew, kind)
			assert.Equal(t, tt.reason, reason)
		})
	}

	t.Run("within skew", func(t *testing.T) {
		raw := validEvent()
		raw["blockTime"] = last - skew.Milliseconds()
		_, err := n.Normalize(context.Background(), raw)
		require.NoError(t, err)
	})
}

func TestSortTransactions(t *testing.T) {
	txs := []*domain.Transaction{
		{Signature: "c", WalletAddress: "w1", BlockTime: 2},
		{Signature: "b", WalletAddress: "w2", BlockTime: 1},
		{Signature: "a", WalletAddress: "w1", BlockTime: 1},
	}

	SortTransactions(txs)

	assert.Equal(t, "a", txs[0].Signature)
	assert.Equal(t, "b", txs[1].Signature)
	assert.Equal(t, "c", txs[2].Signature)
}
