package domain

// PatternType identifies a detected behavioral shape.
type PatternType string

// Pattern types
const (
	PatternAccumulation        PatternType = "accumulation"
	PatternDistribution        PatternType = "distribution"
	PatternClusterCoordination PatternType = "cluster_coordination"
)

// PatternTypes lists every known pattern type.
var PatternTypes = []PatternType{
	PatternAccumulation,
	PatternDistribution,
	PatternClusterCoordination,
}

// Pattern is a multi-transaction shape observed in a token window.
type Pattern struct {
	PatternType     PatternType    `json:"pattern_type"`
	WalletAddresses []string       `json:"wallet_addresses"` // sorted, distinct
	TokenAddress    string         `json:"token_address"`
	Direction       Direction      `json:"direction"`
	Strength        float64        `json:"strength"`             // [0, 1]
	ObservedAt      int64          `json:"observed_at"`          // event time (ms)
	ClusterID       string         `json:"cluster_id,omitempty"` // cluster_coordination only
	Factors         PatternFactors `json:"factors"`
}

// PatternFactors are the strength components before weighting.
type PatternFactors struct {
	WalletFactor      float64 `json:"wallet_factor"`
	SizeSkew          float64 `json:"size_skew"`
	TimeConcentration float64 `json:"time_concentration"`
}
