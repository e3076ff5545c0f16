// Package signalgen turns detected patterns into scored, time-bounded signals.
package signalgen

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/idhash"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
)

var (
	// ErrUnknownPatternType is returned for patterns without a configured multiplier.
	ErrUnknownPatternType = errors.New("unknown pattern type")
	// ErrInvalidValidity is returned when a pattern type has no positive validity window.
	ErrInvalidValidity = errors.New("invalid validity window")
)

// Config holds per-pattern-type scoring and lifetime parameters.
type Config struct {
	TimeBucket  time.Duration
	Multipliers map[domain.PatternType]float64
	Validity    map[domain.PatternType]time.Duration
	Decay       domain.DecayParams
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{
		TimeBucket: 5 * time.Minute,
		Multipliers: map[domain.PatternType]float64{
			domain.PatternAccumulation:        0.9,
			domain.PatternDistribution:        0.9,
			domain.PatternClusterCoordination: 0.75,
		},
		Validity: map[domain.PatternType]time.Duration{
			domain.PatternAccumulation:        30 * time.Minute,
			domain.PatternDistribution:        30 * time.Minute,
			domain.PatternClusterCoordination: 5 * time.Minute,
		},
		Decay: domain.DecayParams{Shape: domain.DecayLinear},
	}
}

// Generator is stateless apart from its configuration.
type Generator struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a generator.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Generator {
	if cfg.Decay.Shape == "" {
		cfg.Decay.Shape = domain.DecayLinear
	}
	return &Generator{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: observability.OrDefault(metrics),
	}
}

// Generate scores p and derives the signal's identity and lifetime.
// CreatedAt is the pattern's event time so replays reproduce the same ids.
func (g *Generator) Generate(p *domain.Pattern) (*domain.Signal, error) {
	if p == nil {
		return nil, fmt.Errorf("generate signal: %w", ErrUnknownPatternType)
	}
	mult, ok := g.cfg.Multipliers[p.PatternType]
	if !ok {
		return nil, fmt.Errorf("generate signal for %q: %w", p.PatternType, ErrUnknownPatternType)
	}
	validity := g.cfg.Validity[p.PatternType]
	if validity <= 0 {
		return nil, fmt.Errorf("generate signal for %q: %w", p.PatternType, ErrInvalidValidity)
	}

	dir, err := direction(p)
	if err != nil {
		return nil, err
	}

	createdAt := p.ObservedAt
	src := *p
	src.WalletAddresses = append([]string(nil), p.WalletAddresses...)

	sig := &domain.Signal{
		SignalID:      idhash.ComputeSignalID(p.PatternType, p.TokenAddress, createdAt, g.cfg.TimeBucket.Milliseconds()),
		TokenAddress:  p.TokenAddress,
		Direction:     dir,
		Confidence:    clamp01(p.Strength * mult),
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt + validity.Milliseconds(),
		PatternType:   p.PatternType,
		SourcePattern: &src,
		Decay:         g.cfg.Decay,
	}

	g.metrics.RecordSignal(string(p.PatternType))
	g.logger.Debug("signal generated",
		zap.String("signal_id", sig.SignalID),
		zap.String("pattern_type", string(sig.PatternType)),
		zap.String("token", sig.TokenAddress),
		zap.Float64("confidence", sig.Confidence))
	return sig, nil
}

// LongestValidity returns the longest configured validity window.
func (g *Generator) LongestValidity() time.Duration {
	var longest time.Duration
	for _, v := range g.cfg.Validity {
		longest = max(longest, v)
	}
	return longest
}

func direction(p *domain.Pattern) (domain.Direction, error) {
	switch p.PatternType {
	case domain.PatternAccumulation:
		return domain.DirectionBuy, nil
	case domain.PatternDistribution:
		return domain.DirectionSell, nil
	case domain.PatternClusterCoordination:
		if !p.Direction.IsTrade() {
			return "", fmt.Errorf("cluster pattern direction %q: %w", p.Direction, ErrUnknownPatternType)
		}
		return p.Direction, nil
	default:
		return "", fmt.Errorf("pattern type %q: %w", p.PatternType, ErrUnknownPatternType)
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
