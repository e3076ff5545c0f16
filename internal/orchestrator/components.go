package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"whale-signal-engine/internal/activity"
	"whale-signal-engine/internal/classifier"
	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/distribution"
	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/maintenance"
	"whale-signal-engine/internal/normalization"
	"whale-signal-engine/internal/pattern"
	"whale-signal-engine/internal/pipeline"
	"whale-signal-engine/internal/profile"
	"whale-signal-engine/internal/signalgen"
)

// Mapping from the loaded configuration to component configs.

func normalizerConfig(c config.NormalizerConfig) normalization.Config {
	return normalization.Config{
		MaxFutureSkew:         c.MaxFutureSkew,
		MaxOutOfOrderSkew:     c.MaxOutOfOrderSkew,
		ValidateAddresses:     c.ValidateAddresses,
		RejectOffCurveWallets: c.RejectOffCurveWallets,
	}
}

func profileConfig(c config.ProfileConfig) profile.Config {
	return profile.Config{
		Lookback:          c.Lookback,
		BucketGranularity: c.BucketGranularity,
		LockTimeout:       c.LockTimeout,
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
	}
}

func classifierConfig(c config.ClassifierConfig) (classifier.Config, error) {
	threshold, err := c.Threshold()
	if err != nil {
		return classifier.Config{}, err
	}
	return classifier.Config{
		AbsoluteThreshold: threshold,
		RelativeMultiple:  decimal.NewFromFloat(c.RelativeMultiple),
	}, nil
}

func patternConfig(c config.PatternConfig) pattern.Config {
	return pattern.Config{
		Window:                c.Window,
		MinWallets:            c.MinWallets,
		MinSkewRatio:          c.MinSkewRatio,
		SaturationCount:       c.SaturationCount,
		MinStrength:           c.MinStrength,
		WalletWeight:          c.WalletWeight,
		SkewWeight:            c.SkewWeight,
		TimeWeight:            c.TimeWeight,
		ClusterSubWindow:      c.ClusterSubWindow,
		ClusterSizeSimilarity: c.ClusterSizeSimilarity,
		MinClusterWallets:     c.MinClusterWallets,
	}
}

func signalConfig(c config.SignalConfig) signalgen.Config {
	return signalgen.Config{
		TimeBucket: c.TimeBucket,
		Multipliers: map[domain.PatternType]float64{
			domain.PatternAccumulation:        c.Accumulation.Multiplier,
			domain.PatternDistribution:        c.Distribution.Multiplier,
			domain.PatternClusterCoordination: c.ClusterCoordination.Multiplier,
		},
		Validity: map[domain.PatternType]time.Duration{
			domain.PatternAccumulation:        c.Accumulation.Validity,
			domain.PatternDistribution:        c.Distribution.Validity,
			domain.PatternClusterCoordination: c.ClusterCoordination.Validity,
		},
		Decay: domain.DecayParams{
			Shape: domain.DecayShape(c.DecayShape),
			Rate:  c.DecayRate,
		},
	}
}

func distributorConfig(c config.DistributorConfig) distribution.Config {
	return distribution.Config{
		DedupHorizon:    c.DedupHorizon,
		MaxDedupEntries: c.MaxDedupEntries,
		QueueSize:       c.QueueSize,
		MaxAttempts:     c.MaxAttempts,
		InitialBackoff:  c.InitialBackoff,
		MaxBackoff:      c.MaxBackoff,
	}
}

func pipelineConfig(c config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		QueueSize:       c.QueueSize,
		Workers:         c.Workers,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

func recorderConfig(c config.PipelineConfig) activity.RecorderConfig {
	return activity.RecorderConfig{
		BatchSize:     c.ActivityBatch,
		FlushInterval: c.ActivityFlush,
	}
}

func feedConfig(c config.ConsumersConfig) activity.FeedConfig {
	return activity.FeedConfig{
		Recent:         c.FeedRecent,
		HighConfidence: c.FeedHighConf,
	}
}

func maintenanceConfig(c config.MaintenanceConfig) maintenance.Config {
	return maintenance.Config{
		PruneSchedule: c.PruneSchedule,
		SweepSchedule: c.SweepSchedule,
		ProfileIdle:   c.ProfileIdle,
	}
}
