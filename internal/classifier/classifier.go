// Package classifier decides whether a transaction is whale activity.
package classifier

import (
	"github.com/shopspring/decimal"

	"whale-signal-engine/internal/domain"
)

// Config holds the whale thresholds.
type Config struct {
	// AbsoluteThreshold is the quote value at or above which any transaction is a whale.
	AbsoluteThreshold decimal.Decimal
	// RelativeMultiple is the multiple of the wallet's in-window average
	// at or above which a transaction is a whale.
	RelativeMultiple decimal.Decimal
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		AbsoluteThreshold: decimal.NewFromInt(10_000),
		RelativeMultiple:  decimal.NewFromInt(5),
	}
}

// Classifier applies the absolute and baseline-relative triggers.
// It is stateless and safe for concurrent use.
type Classifier struct {
	cfg Config
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify decides tx against the wallet's pre-update profile.
// A nil or empty profile yields absolute-only classification.
func (c *Classifier) Classify(tx *domain.Transaction, profile *domain.WalletProfile) domain.ClassificationResult {
	res := domain.ClassificationResult{Transaction: tx}

	absolute := tx.ValueQuote.GreaterThanOrEqual(c.cfg.AbsoluteThreshold)

	relative := false
	if baseline, ok := profile.AverageSize(); ok {
		res.SizeRatioToBaseline = tx.ValueQuote.Div(baseline).InexactFloat64()
		if c.cfg.RelativeMultiple.IsPositive() {
			relative = tx.ValueQuote.GreaterThanOrEqual(baseline.Mul(c.cfg.RelativeMultiple))
		}
	}

	switch {
	case absolute && relative:
		res.ReasonCode = domain.ReasonAbsoluteRelative
	case absolute:
		res.ReasonCode = domain.ReasonAbsolute
	case relative:
		res.ReasonCode = domain.ReasonRelative
	default:
		res.ReasonCode = domain.ReasonBelowThreshold
	}
	res.IsWhale = absolute || relative
	return res
}

// Func adapts the classifier for profile.Store.UpsertClassified.
func (c *Classifier) Func(tx *domain.Transaction) func(prior *domain.WalletProfile) domain.ClassificationResult {
	return func(prior *domain.WalletProfile) domain.ClassificationResult {
		return c.Classify(tx, prior)
	}
}
