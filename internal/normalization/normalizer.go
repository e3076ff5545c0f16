// Package normalization converts raw listener events into canonical transactions.
package normalization

import (
	"context"
	"strings"
	"time"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/idhash"
)

// DefaultVenue is used when an event carries no venue tag.
const DefaultVenue = "unknown"

// WalletClock exposes the time bounds already observed for a wallet.
type WalletClock interface {
	// Clock returns the first and last block times seen for wallet.
	// ok is false for wallets that have no history.
	Clock(ctx context.Context, wallet string) (firstSeen, lastSeen int64, ok bool)
}

// Config controls normalizer validation.
type Config struct {
	// MaxFutureSkew is how far past the local clock a block time may be.
	MaxFutureSkew time.Duration
	// MaxOutOfOrderSkew is how far behind a wallet's history a block time may be.
	MaxOutOfOrderSkew time.Duration
	// ValidateAddresses requires wallet and token to be 32-byte base58 keys.
	ValidateAddresses bool
	// RejectOffCurveWallets rejects wallets that are program-derived addresses.
	RejectOffCurveWallets bool
}

// DefaultConfig returns the default normalizer configuration.
func DefaultConfig() Config {
	return Config{
		MaxFutureSkew:     30 * time.Second,
		MaxOutOfOrderSkew: 2 * time.Minute,
		ValidateAddresses: true,
	}
}

// Normalizer validates raw events. It is safe for concurrent use.
type Normalizer struct {
	cfg   Config
	clock WalletClock
	now   func() int64
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithWalletClock enables per-wallet ordering checks.
func WithWalletClock(c WalletClock) Option {
	return func(n *Normalizer) { n.clock = c }
}

// WithNow overrides the wall clock, in Unix milliseconds.
func WithNow(now func() int64) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a normalizer.
func New(cfg Config, opts ...Option) *Normalizer {
	n := &Normalizer{
		cfg: cfg,
		now: func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts a raw event into a Transaction.
// Errors are *MalformedInputError or *ClockSkewError.
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]any) (*domain.Transaction, error) {
	if raw == nil {
		return nil, missing("event")
	}

	wallet, key, ok := stringField(raw, walletKeys)
	if !ok {
		return nil, missing(key)
	}
	token, key, ok := stringField(raw, tokenKeys)
	if !ok {
		return nil, missing(key)
	}

	dirRaw, key, ok := stringField(raw, directionKeys)
	if !ok {
		return nil, missing(key)
	}
	direction, ok := parseDirection(dirRaw)
	if !ok {
		return nil, &MalformedInputError{Reason: ReasonInvalidDirection, Field: key, Detail: dirRaw}
	}

	amount, err := decimalField(raw, amountKeys)
	if err != nil {
		return nil, err
	}
	value, err := decimalField(raw, valueKeys)
	if err != nil {
		return nil, err
	}
	blockTime, err := timestampField(raw, timeKeys)
	if err != nil {
		return nil, err
	}

	if n.cfg.ValidateAddresses {
		if err := n.validateAddresses(wallet, token); err != nil {
			return nil, err
		}
	}

	if err := n.checkClock(ctx, wallet, blockTime); err != nil {
		return nil, err
	}

	venue, _, ok := stringField(raw, venueKeys)
	if !ok {
		venue = DefaultVenue
	}

	signature, _, ok := stringField(raw, signatureKeys)
	if !ok {
		signature = idhash.ComputeTransactionID(wallet, token, string(direction), amount.String(), value.String(), blockTime)
	}

	return &domain.Transaction{
		Signature:     signature,
		WalletAddress: wallet,
		TokenAddress:  token,
		Direction:     direction,
		Amount:        amount,
		ValueQuote:    value,
		BlockTime:     blockTime,
		Venue:         venue,
	}, nil
}

func (n *Normalizer) validateAddresses(wallet, token string) error {
	walletKey, ok := decodeAddress(wallet)
	if !ok {
		return &MalformedInputError{Reason: ReasonInvalidAddress, Field: "wallet", Detail: wallet}
	}
	if _, ok := decodeAddress(token); !ok {
		return &MalformedInputError{Reason: ReasonInvalidAddress, Field: "token", Detail: token}
	}
	if n.cfg.RejectOffCurveWallets && !isOnCurve(walletKey) {
		return &MalformedInputError{Reason: ReasonProgramAddress, Field: "wallet", Detail: wallet}
	}
	return nil
}

func (n *Normalizer) checkClock(ctx context.Context, wallet string, blockTime int64) error {
	if n.cfg.MaxFutureSkew > 0 {
		limit := n.now() + n.cfg.MaxFutureSkew.Milliseconds()
		if blockTime > limit {
			return &ClockSkewError{Reason: ReasonFutureTimestamp, Wallet: wallet, BlockTime: blockTime, Reference: limit}
		}
	}

	if n.clock == nil {
		return nil
	}
	firstSeen, lastSeen, ok := n.clock.Clock(ctx, wallet)
	if !ok {
		return nil
	}

	skew := n.cfg.MaxOutOfOrderSkew.Milliseconds()
	if bound := firstSeen - skew; blockTime < bound {
		return &ClockSkewError{Reason: ReasonBeforeFirstSeen, Wallet: wallet, BlockTime: blockTime, Reference: bound}
	}
	if bound := lastSeen - skew; blockTime < bound {
		return &ClockSkewError{Reason: ReasonOutOfOrder, Wallet: wallet, BlockTime: blockTime, Reference: bound}
	}
	return nil
}

func parseDirection(s string) (domain.Direction, bool) {
	switch strings.ToLower(s) {
	case "buy", "bid", "long":
		return domain.DirectionBuy, true
	case "sell", "ask", "short":
		return domain.DirectionSell, true
	case "transfer":
		return domain.DirectionTransfer, true
	default:
		return "", false
	}
}
