package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/signalgen"
)

// Signal feed alert types.
const (
	AlertHighConfidence = "high_confidence"
	AlertMultiPattern   = "multi_pattern"
)

const (
	// feedAverageLookback is how many recent signals the confidence averages cover.
	feedAverageLookback = 5
	// highConfidenceLookback is how many recent signals are checked for high confidence.
	highConfidenceLookback = 3
	// confirmationLookback is how many recent signals are checked for repeated tokens.
	confirmationLookback = 5
	// confirmationMinimum is how often a token must repeat to be confirmed.
	confirmationMinimum = 2
)

// FeedConfig configures the signal feed.
type FeedConfig struct {
	// Recent is how many published signals are held.
	Recent int
	// HighConfidence is the inclusive raw confidence that raises an alert.
	HighConfidence float64
}

// DefaultFeedConfig returns the default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{Recent: 20, HighConfidence: 0.9}
}

// FeedSummary is a point-in-time view of published signals.
type FeedSummary struct {
	TotalPublished        int64            `json:"total_published"`
	ByPatternType         map[string]int64 `json:"by_pattern_type"`
	AverageConfidence     float64          `json:"average_confidence"`
	AverageLiveConfidence float64          `json:"average_live_confidence"`
	ActiveRecent          int              `json:"active_recent"`
	LastPublishedAt       int64            `json:"last_published_at"`
	Alerts                []Alert          `json:"alerts"`
	Recent                []*domain.Signal `json:"recent"`
}

// SignalFeed summarizes published signals. It is registered as a
// distribution consumer so it sees each signal once, after dedup.
type SignalFeed struct {
	cfg FeedConfig

	mu        sync.RWMutex
	ring      []*domain.Signal
	next      int
	full      bool
	total     int64
	byPattern map[string]int64
	lastAt    int64
}

// NewSignalFeed creates an empty feed.
func NewSignalFeed(cfg FeedConfig) *SignalFeed {
	def := DefaultFeedConfig()
	if cfg.Recent <= 0 {
		cfg.Recent = def.Recent
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	return &SignalFeed{
		cfg:       cfg,
		ring:      make([]*domain.Signal, cfg.Recent),
		byPattern: make(map[string]int64),
	}
}

func (f *SignalFeed) Name() string { return "signal_feed" }

// Deliver records the delivered signal.
func (f *SignalFeed) Deliver(_ context.Context, d *domain.Delivery) error {
	if d == nil || d.Signal == nil {
		return fmt.Errorf("signal feed: empty delivery")
	}
	f.Record(d.Signal)
	return nil
}

// Record adds a published signal.
func (f *SignalFeed) Record(sig *domain.Signal) {
	if sig == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ring[f.next] = sig
	f.next = (f.next + 1) % len(f.ring)
	if f.next == 0 {
		f.full = true
	}
	f.total++
	f.byPattern[string(sig.PatternType)]++
	if sig.CreatedAt > f.lastAt {
		f.lastAt = sig.CreatedAt
	}
}

// Summary returns feed statistics with up to recent signals attached.
// Live confidence is evaluated at now.
func (f *SignalFeed) Summary(recent int, now int64) FeedSummary {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := FeedSummary{
		TotalPublished:  f.total,
		ByPatternType:   make(map[string]int64, len(f.byPattern)),
		LastPublishedAt: f.lastAt,
		Recent:          f.recent(recent),
	}
	for k, v := range f.byPattern {
		s.ByPatternType[k] = v
	}

	if held := f.recent(feedAverageLookback); len(held) > 0 {
		var raw, live float64
		for _, sig := range held {
			raw += sig.Confidence
			live += signalgen.EffectiveConfidence(sig, now)
		}
		s.AverageConfidence = raw / float64(len(held))
		s.AverageLiveConfidence = live / float64(len(held))
	}
	for _, sig := range f.recent(0) {
		if !sig.Expired(now) {
			s.ActiveRecent++
		}
	}

	s.Alerts = f.alerts()
	return s
}

func (f *SignalFeed) recent(n int) []*domain.Signal {
	held := f.next
	if f.full {
		held = len(f.ring)
	}
	if n <= 0 || n > held {
		n = held
	}

	out := make([]*domain.Signal, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, f.ring[(f.next-i+len(f.ring))%len(f.ring)])
	}
	return out
}

func (f *SignalFeed) alerts() []Alert {
	out := []Alert{}

	var high []string
	for _, sig := range f.recent(highConfidenceLookback) {
		if sig.Confidence >= f.cfg.HighConfidence {
			high = append(high, sig.TokenAddress)
		}
	}
	if len(high) > 0 {
		out = append(out, Alert{
			Type:    AlertHighConfidence,
			Count:   len(high),
			Message: fmt.Sprintf("%d high confidence signals", len(high)),
			Tokens:  high,
		})
	}

	counts := make(map[string]int)
	for _, sig := range f.recent(confirmationLookback) {
		counts[sig.TokenAddress]++
	}
	var confirmed []string
	for token, n := range counts {
		if n >= confirmationMinimum {
			confirmed = append(confirmed, token)
		}
	}
	if len(confirmed) > 0 {
		sort.Strings(confirmed)
		out = append(out, Alert{
			Type:    AlertMultiPattern,
			Count:   len(confirmed),
			Message: "tokens confirmed by repeated signals",
			Tokens:  confirmed,
		})
	}
	return out
}
