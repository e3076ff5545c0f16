package domain

// Classification reason codes
const (
	ReasonAbsolute         = "absolute"
	ReasonRelative         = "relative"
	ReasonAbsoluteRelative = "absolute,relative"
	ReasonBelowThreshold   = "below_threshold"
)

// ClassificationResult is the per-transaction whale decision.
type ClassificationResult struct {
	Transaction         *Transaction
	IsWhale             bool
	SizeRatioToBaseline float64 // value / in-window average, 0 without baseline
	ReasonCode          string
	Profile             *WalletProfile // post-update snapshot
}
