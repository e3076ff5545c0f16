// Package config loads engine configuration from a YAML file, .env and WHALE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"whale-signal-engine/internal/logging"
)

// Config is the complete engine configuration.
type Config struct {
	Log         logging.Config    `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Normalizer  NormalizerConfig  `mapstructure:"normalizer"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Pattern     PatternConfig     `mapstructure:"pattern"`
	Signal      SignalConfig      `mapstructure:"signal"`
	Distributor DistributorConfig `mapstructure:"distributor"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Consumers   ConsumersConfig   `mapstructure:"consumers"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// NormalizerConfig configures raw event validation.
type NormalizerConfig struct {
	MaxFutureSkew         time.Duration `mapstructure:"max_future_skew"`
	MaxOutOfOrderSkew     time.Duration `mapstructure:"max_out_of_order_skew"`
	ValidateAddresses     bool          `mapstructure:"validate_addresses"`
	RejectOffCurveWallets bool          `mapstructure:"reject_off_curve_wallets"`
}

// ProfileConfig configures the wallet profile store.
type ProfileConfig struct {
	Lookback          time.Duration `mapstructure:"lookback"`
	BucketGranularity time.Duration `mapstructure:"bucket_granularity"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
}

// ClassifierConfig holds the whale thresholds.
type ClassifierConfig struct {
	AbsoluteThreshold string  `mapstructure:"absolute_threshold"` // decimal string
	RelativeMultiple  float64 `mapstructure:"relative_multiple"`
}

// PatternConfig tunes the per-token pattern analyzer.
type PatternConfig struct {
	Window                time.Duration `mapstructure:"window"`
	MinWallets            int           `mapstructure:"min_wallets"`
	MinSkewRatio          float64       `mapstructure:"min_skew_ratio"`
	SaturationCount       int           `mapstructure:"saturation_count"`
	MinStrength           float64       `mapstructure:"min_strength"`
	WalletWeight          float64       `mapstructure:"wallet_weight"`
	SkewWeight            float64       `mapstructure:"skew_weight"`
	TimeWeight            float64       `mapstructure:"time_weight"`
	ClusterSubWindow      time.Duration `mapstructure:"cluster_sub_window"`
	ClusterSizeSimilarity float64       `mapstructure:"cluster_size_similarity"`
	MinClusterWallets     int           `mapstructure:"min_cluster_wallets"`
}

// PatternSignalConfig is the scoring and lifetime of one pattern type.
type PatternSignalConfig struct {
	Multiplier float64       `mapstructure:"multiplier"`
	Validity   time.Duration `mapstructure:"validity"`
}

// SignalConfig configures signal generation and decay.
type SignalConfig struct {
	TimeBucket          time.Duration       `mapstructure:"time_bucket"`
	DecayShape          string              `mapstructure:"decay_shape"`
	DecayRate           float64             `mapstructure:"decay_rate"`
	Accumulation        PatternSignalConfig `mapstructure:"accumulation"`
	Distribution        PatternSignalConfig `mapstructure:"distribution"`
	ClusterCoordination PatternSignalConfig `mapstructure:"cluster_coordination"`
}

// DistributorConfig configures dedup and delivery retries.
type DistributorConfig struct {
	DedupHorizon    time.Duration `mapstructure:"dedup_horizon"`
	MaxDedupEntries int           `mapstructure:"max_dedup_entries"`
	SharedDedup     bool          `mapstructure:"shared_dedup"` // redis SET NX
	QueueSize       int           `mapstructure:"queue_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

// PipelineConfig sizes the engine queue and worker pool.
type PipelineConfig struct {
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ActivityBatch   int           `mapstructure:"activity_batch"`
	ActivityFlush   time.Duration `mapstructure:"activity_flush"`
	RecentWhales    int           `mapstructure:"recent_whales"`
}

// StorageConfig selects backends and their connection settings.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // memory | postgres
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
}

// ConsumersConfig enables downstream signal consumers.
type ConsumersConfig struct {
	KafkaBrokers    []string `mapstructure:"kafka_brokers"`
	KafkaTopic      string   `mapstructure:"kafka_topic"`
	WebhookURLs     []string `mapstructure:"webhook_urls"`
	SlackWebhookURL string   `mapstructure:"slack_webhook_url"`
	SlackMinConf    float64  `mapstructure:"slack_min_confidence"`
	RedisChannel    string   `mapstructure:"redis_channel"`
	Dashboard       bool     `mapstructure:"dashboard"`
	PersistSignals  bool     `mapstructure:"persist_signals"`
	FeedRecent      int      `mapstructure:"feed_recent"`
	FeedHighConf    float64  `mapstructure:"feed_high_confidence"`
}

// IngestionConfig selects the raw event source.
type IngestionConfig struct {
	Source       string   `mapstructure:"source"` // none | replay | kafka | ws
	ReplayFile   string   `mapstructure:"replay_file"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroup   string   `mapstructure:"kafka_group"`
	WSEndpoint   string   `mapstructure:"ws_endpoint"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	ProfileIdle   time.Duration `mapstructure:"profile_idle"`
}

// defaultProfileIdle matches maintenance.DefaultConfig.
const defaultProfileIdle = 48 * time.Hour

// Load reads configuration. An empty path reads environment only.
// A .env file in the working directory is applied first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("WHALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_stacktrace", true)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("normalizer.max_future_skew", "30s")
	v.SetDefault("normalizer.max_out_of_order_skew", "2m")
	v.SetDefault("normalizer.validate_addresses", true)
	v.SetDefault("normalizer.reject_off_curve_wallets", false)

	v.SetDefault("profile.lookback", "24h")
	v.SetDefault("profile.bucket_granularity", "1m")
	v.SetDefault("profile.lock_timeout", "250ms")
	v.SetDefault("profile.max_retries", 3)
	v.SetDefault("profile.retry_delay", "50ms")

	v.SetDefault("classifier.absolute_threshold", "10000")
	v.SetDefault("classifier.relative_multiple", 5.0)

	v.SetDefault("pattern.window", "15m")
	v.SetDefault("pattern.min_wallets", 3)
	v.SetDefault("pattern.min_skew_ratio", 2.0)
	v.SetDefault("pattern.saturation_count", 5)
	v.SetDefault("pattern.min_strength", 0.3)
	v.SetDefault("pattern.wallet_weight", 0.4)
	v.SetDefault("pattern.skew_weight", 0.3)
	v.SetDefault("pattern.time_weight", 0.3)
	v.SetDefault("pattern.cluster_sub_window", "30s")
	v.SetDefault("pattern.cluster_size_similarity", 1.25)
	v.SetDefault("pattern.min_cluster_wallets", 2)

	v.SetDefault("signal.time_bucket", "5m")
	v.SetDefault("signal.decay_shape", "linear")
	v.SetDefault("signal.decay_rate", 3.0)
	v.SetDefault("signal.accumulation.multiplier", 0.9)
	v.SetDefault("signal.accumulation.validity", "30m")
	v.SetDefault("signal.distribution.multiplier", 0.9)
	v.SetDefault("signal.distribution.validity", "30m")
	v.SetDefault("signal.cluster_coordination.multiplier", 0.75)
	v.SetDefault("signal.cluster_coordination.validity", "5m")

	v.SetDefault("distributor.dedup_horizon", "30m")
	v.SetDefault("distributor.max_dedup_entries", 100000)
	v.SetDefault("distributor.shared_dedup", false)
	v.SetDefault("distributor.queue_size", 256)
	v.SetDefault("distributor.max_attempts", 5)
	v.SetDefault("distributor.initial_backoff", "200ms")
	v.SetDefault("distributor.max_backoff", "10s")

	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.shutdown_timeout", "20s")
	v.SetDefault("pipeline.activity_batch", 500)
	v.SetDefault("pipeline.activity_flush", "5s")
	v.SetDefault("pipeline.recent_whales", 100)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.neo4j_uri", "")
	v.SetDefault("storage.neo4j_user", "neo4j")
	v.SetDefault("storage.neo4j_password", "")

	v.SetDefault("consumers.kafka_brokers", []string{})
	v.SetDefault("consumers.kafka_topic", "whale-signals")
	v.SetDefault("consumers.webhook_urls", []string{})
	v.SetDefault("consumers.slack_webhook_url", "")
	v.SetDefault("consumers.slack_min_confidence", 0.5)
	v.SetDefault("consumers.redis_channel", "")
	v.SetDefault("consumers.dashboard", true)
	v.SetDefault("consumers.persist_signals", true)
	v.SetDefault("consumers.feed_recent", 20)
	v.SetDefault("consumers.feed_high_confidence", 0.9)

	v.SetDefault("ingestion.source", "none")
	v.SetDefault("ingestion.replay_file", "")
	v.SetDefault("ingestion.kafka_brokers", []string{})
	v.SetDefault("ingestion.kafka_topic", "whale-transactions")
	v.SetDefault("ingestion.kafka_group", "whale-signal-engine")
	v.SetDefault("ingestion.ws_endpoint", "")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.prune_schedule", "0 */10 * * * *")
	v.SetDefault("maintenance.sweep_schedule", "30 * * * * *")
	v.SetDefault("maintenance.profile_idle", defaultProfileIdle.String())
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Classifier.Threshold(); err != nil {
		errs = append(errs, err)
	}
	if c.Classifier.RelativeMultiple < 0 {
		errs = append(errs, errors.New("classifier.relative_multiple must be >= 0"))
	}
	if c.Profile.Lookback <= 0 {
		errs = append(errs, errors.New("profile.lookback must be positive"))
	}
	if c.Profile.BucketGranularity <= 0 || c.Profile.BucketGranularity > c.Profile.Lookback {
		errs = append(errs, errors.New("profile.bucket_granularity must be in (0, lookback]"))
	}
	if c.Profile.LockTimeout <= 0 {
		errs = append(errs, errors.New("profile.lock_timeout must be positive"))
	}
	if c.Pattern.Window <= 0 {
		errs = append(errs, errors.New("pattern.window must be positive"))
	}
	if c.Pattern.MinWallets < 1 {
		errs = append(errs, errors.New("pattern.min_wallets must be >= 1"))
	}
	if c.Pattern.MinClusterWallets < 2 {
		errs = append(errs, errors.New("pattern.min_cluster_wallets must be >= 2"))
	}
	if c.Pattern.ClusterSizeSimilarity < 1 {
		errs = append(errs, errors.New("pattern.cluster_size_similarity must be >= 1"))
	}
	if c.Pattern.WalletWeight+c.Pattern.SkewWeight+c.Pattern.TimeWeight <= 0 {
		errs = append(errs, errors.New("pattern weights must sum to a positive value"))
	}
	for name, ps := range map[string]PatternSignalConfig{
		"accumulation":         c.Signal.Accumulation,
		"distribution":         c.Signal.Distribution,
		"cluster_coordination": c.Signal.ClusterCoordination,
	} {
		if ps.Validity <= 0 {
			errs = append(errs, fmt.Errorf("signal.%s.validity must be positive", name))
		}
		if ps.Multiplier < 0 {
			errs = append(errs, fmt.Errorf("signal.%s.multiplier must be >= 0", name))
		}
	}
	if c.Signal.DecayShape != "linear" && c.Signal.DecayShape != "exponential" {
		errs = append(errs, fmt.Errorf("signal.decay_shape %q not supported", c.Signal.DecayShape))
	}
	if c.Pipeline.QueueSize < 1 || c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.queue_size and pipeline.workers must be >= 1"))
	}
	if c.Distributor.QueueSize < 1 || c.Distributor.MaxAttempts < 1 {
		errs = append(errs, errors.New("distributor.queue_size and distributor.max_attempts must be >= 1"))
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q not supported", c.Storage.Backend))
	}
	if c.Distributor.SharedDedup && c.Storage.RedisAddr == "" {
		errs = append(errs, errors.New("distributor.shared_dedup requires storage.redis_addr"))
	}
	if c.Maintenance.Enabled && c.Maintenance.PruneSchedule != "" {
		idle := c.Maintenance.ProfileIdle
		if idle <= 0 {
			idle = defaultProfileIdle
		}
		if idle < c.Profile.Lookback {
			errs = append(errs, errors.New("maintenance.profile_idle must be >= profile.lookback"))
		}
	}
	switch c.Ingestion.Source {
	case "none":
	case "replay":
		if c.Ingestion.ReplayFile == "" {
			errs = append(errs, errors.New("ingestion.replay_file is required for replay source"))
		}
	case "kafka":
		if len(c.Ingestion.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("ingestion.kafka_brokers is required for kafka source"))
		}
	case "ws":
		if c.Ingestion.WSEndpoint == "" {
			errs = append(errs, errors.New("ingestion.ws_endpoint is required for ws source"))
		}
	default:
		errs = append(errs, fmt.Errorf("ingestion.source %q not supported", c.Ingestion.Source))
	}

	return errors.Join(errs...)
}

// Threshold parses the absolute whale threshold.
func (c ClassifierConfig) Threshold() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.AbsoluteThreshold))
	if err != nil {
		return decimal.Zero, fmt.Errorf("classifier.absolute_threshold %q: %w", c.AbsoluteThreshold, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("classifier.absolute_threshold must be >= 0")
	}
	return d, nil
}

// LongestValidity returns the longest configured signal validity window.
func (c SignalConfig) LongestValidity() time.Duration {
	longest := c.Accumulation.Validity
	for _, d := range []time.Duration{c.Distribution.Validity, c.ClusterCoordination.Validity} {
		if d > longest {
			longest = d
		}
	}
	return longest
}
