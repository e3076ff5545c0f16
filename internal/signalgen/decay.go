package signalgen

import (
	"math"

	"whale-signal-engine/internal/domain"
)

// EffectiveConfidence returns the signal's confidence decayed to now.
// It is non-increasing in now, equals Confidence at or before CreatedAt
// and is 0 at and after ExpiresAt.
func EffectiveConfidence(s *domain.Signal, now int64) float64 {
	if s == nil {
		return 0
	}
	if now <= s.CreatedAt {
		return s.Confidence
	}
	validity := s.ExpiresAt - s.CreatedAt
	if validity <= 0 || now >= s.ExpiresAt {
		return 0
	}
	x := float64(now-s.CreatedAt) / float64(validity)

	switch s.Decay.Shape {
	case domain.DecayExponential:
		k := s.Decay.Rate
		if k <= 0 {
			return s.Confidence * (1 - x)
		}
		return s.Confidence * (math.Exp(-k*x) - math.Exp(-k)) / (1 - math.Exp(-k))
	default:
		return s.Confidence * math.Max(0, 1-x)
	}
}
