package domain

import "github.com/shopspring/decimal"

// WalletProfile is the aggregated per-wallet state kept by the profile store.
type WalletProfile struct {
	WalletAddress    string
	RollingVolume    decimal.Decimal // sum of ValueQuote inside the lookback window
	TransactionCount int64           // lifetime transaction count
	WindowCount      int64           // transactions still inside the lookback window
	FirstSeen        int64           // ms
	LastSeen         int64           // ms
	Tally            ClassificationTally
	ClusterID        *string // set by the pattern analyzer
	Buckets          []VolumeBucket
}

// ClassificationTally counts prior classification outcomes for a wallet.
type ClassificationTally struct {
	Whale    int64 `json:"whale"`
	NonWhale int64 `json:"non_whale"`
}

// VolumeBucket holds the contributions of one eviction granule.
type VolumeBucket struct {
	Start  int64           `json:"start"`  // bucket start (ms)
	Volume decimal.Decimal `json:"volume"` // summed ValueQuote
	Count  int64           `json:"count"`  // transactions in bucket
}

// Clone returns a deep copy of the profile.
func (p *WalletProfile) Clone() *WalletProfile {
	if p == nil {
		return nil
	}
	c := *p
	if p.ClusterID != nil {
		id := *p.ClusterID
		c.ClusterID = &id
	}
	if p.Buckets != nil {
		c.Buckets = make([]VolumeBucket, len(p.Buckets))
		copy(c.Buckets, p.Buckets)
	}
	return &c
}

// AverageSize returns the in-window average transaction value.
// ok is false when there is no usable baseline.
func (p *WalletProfile) AverageSize() (avg decimal.Decimal, ok bool) {
	if p == nil || p.TransactionCount == 0 || p.WindowCount == 0 || !p.RollingVolume.IsPositive() {
		return decimal.Zero, false
	}
	return p.RollingVolume.Div(decimal.NewFromInt(p.WindowCount)), true
}
