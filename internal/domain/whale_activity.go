package domain

import "github.com/shopspring/decimal"

// WhaleActivity is a persisted whale classification.
// Corresponds to whale_activity table in ClickHouse.
type WhaleActivity struct {
	Signature     string          `json:"signature"`
	WalletAddress string          `json:"wallet_address"`
	TokenAddress  string          `json:"token_address"`
	Direction     Direction       `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	ValueQuote    decimal.Decimal `json:"value_quote"`
	BlockTime     int64           `json:"block_time"` // ms
	Venue         string          `json:"venue,omitempty"`
	SizeRatio     float64         `json:"size_ratio"`
	ReasonCode    string          `json:"reason_code"`
	ClusterID     string          `json:"cluster_id,omitempty"` // empty when unclustered
}

// NewWhaleActivity flattens a whale classification result.
func NewWhaleActivity(res ClassificationResult) *WhaleActivity {
	tx := res.Transaction
	a := &WhaleActivity{
		Signature:     tx.Signature,
		WalletAddress: tx.WalletAddress,
		TokenAddress:  tx.TokenAddress,
		Direction:     tx.Direction,
		Amount:        tx.Amount,
		ValueQuote:    tx.ValueQuote,
		BlockTime:     tx.BlockTime,
		Venue:         tx.Venue,
		SizeRatio:     res.SizeRatioToBaseline,
		ReasonCode:    res.ReasonCode,
	}
	if res.Profile != nil && res.Profile.ClusterID != nil {
		a.ClusterID = *res.Profile.ClusterID
	}
	return a
}
