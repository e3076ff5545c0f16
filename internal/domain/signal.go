package domain

// DecayShape selects how effective confidence decays toward expiry.
type DecayShape string

// Decay shapes
const (
	DecayLinear      DecayShape = "linear"
	DecayExponential DecayShape = "exponential"
)

// DecayParams parameterize the decay accessor.
type DecayParams struct {
	Shape DecayShape `json:"shape"`
	Rate  float64    `json:"rate,omitempty"` // exponential only
}

// Signal is the externally visible trading signal.
// Confidence is the raw value at creation; decay is applied at read time.
type Signal struct {
	SignalID      string      `json:"signal_id"` // deterministic hash
	TokenAddress  string      `json:"token_address"`
	Direction     Direction   `json:"direction"`
	Confidence    float64     `json:"confidence"`
	CreatedAt     int64       `json:"created_at"` // ms
	ExpiresAt     int64       `json:"expires_at"` // ms
	PatternType   PatternType `json:"pattern_type"`
	SourcePattern *Pattern    `json:"source_pattern,omitempty"`
	Decay         DecayParams `json:"decay"`
}

// Expired reports whether the signal is inert at now.
func (s *Signal) Expired(now int64) bool {
	return now >= s.ExpiresAt
}

// Delivery is the record handed to a downstream consumer.
type Delivery struct {
	DeliveryID          string  `json:"delivery_id"`
	Consumer            string  `json:"consumer"`
	Signal              *Signal `json:"signal"`
	EffectiveConfidence float64 `json:"effective_confidence"`
	DeliveredAt         int64   `json:"delivered_at"` // ms
}
