// Package orchestrator builds the engine and its collaborators from
// configuration and runs them together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whale-signal-engine/internal/activity"
	"whale-signal-engine/internal/classifier"
	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/distribution"
	"whale-signal-engine/internal/httpapi"
	"whale-signal-engine/internal/ingestion"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/maintenance"
	"whale-signal-engine/internal/normalization"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/pattern"
	"whale-signal-engine/internal/pipeline"
	"whale-signal-engine/internal/profile"
	"whale-signal-engine/internal/signalgen"
	"whale-signal-engine/internal/storage"
)

// Options override parts of the configured wiring.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Source replaces the configured ingestion source.
	Source ingestion.Source
	// ExitWhenSourceDone makes Run return once the source finishes instead
	// of serving until ctx is done.
	ExitWhenSourceDone bool
	// DisableHTTP skips the HTTP server.
	DisableHTTP bool
	// Now overrides the wall clock for normalization, delivery stamps and
	// the API's reference time.
	Now func() time.Time
	// Consumers are appended to the configured consumers.
	Consumers []distribution.Consumer
}

// Orchestrator owns every long-lived component of one engine instance.
type Orchestrator struct {
	cfg     config.Config
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	Engine      *pipeline.Engine
	Profiles    *profile.Store
	Analyzer    *pattern.Analyzer
	Tracker     *activity.Tracker
	Feed        *activity.SignalFeed
	Signals     storage.SignalStore
	Distributor *distribution.Distributor
	Hub         *distribution.Hub

	source    ingestion.Source
	scheduler *maintenance.Scheduler
	server    *httpapi.Server

	res *resources
}

// New connects the configured backends and builds the engine.
// Nothing runs until Run is called.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *Orchestrator, err error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{
		cfg:     cfg,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		metrics: observability.OrDefault(opts.Metrics),
	}

	o.res, err = openResources(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			o.res.close(o.logger)
		}
	}()

	if err := o.build(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) build() error {
	cfg := o.cfg
	nowMs := func() int64 { return o.opts.Now().UnixMilli() }

	o.Profiles = profile.NewStore(profileConfig(cfg.Profile), profile.Options{
		Persistence: o.res.profiles,
		Logger:      o.logger.Named("profile"),
		Metrics:     o.metrics,
	})

	normalizer := normalization.New(normalizerConfig(cfg.Normalizer),
		normalization.WithWalletClock(o.Profiles),
		normalization.WithNow(nowMs),
	)

	ccfg, err := classifierConfig(cfg.Classifier)
	if err != nil {
		return err
	}

	o.Analyzer = pattern.New(patternConfig(cfg.Pattern), pattern.Options{
		Assigner: o.Profiles,
		Graph:    o.res.graph,
		Logger:   o.logger.Named("pattern"),
		Metrics:  o.metrics,
	})

	generator := signalgen.New(signalConfig(cfg.Signal), o.logger.Named("signal"), o.metrics)

	consumers, err := o.consumers()
	if err != nil {
		return err
	}
	o.Distributor = distribution.New(distributorConfig(cfg.Distributor), consumers, distribution.Options{
		Shared:     o.res.dedup,
		MinHorizon: generator.LongestValidity(),
		Now:        o.opts.Now,
		Logger:     o.logger.Named("distributor"),
		Metrics:    o.metrics,
	})

	o.Tracker = activity.NewTracker(cfg.Pipeline.RecentWhales)
	recorder := activity.NewRecorder(o.res.activity, recorderConfig(cfg.Pipeline), o.logger.Named("activity"), o.metrics)

	var broadcaster pipeline.ActivityBroadcaster
	if o.Hub != nil {
		broadcaster = o.Hub
	}

	o.Engine, err = pipeline.New(pipelineConfig(cfg.Pipeline), pipeline.Options{
		Normalizer:  normalizer,
		Profiles:    o.Profiles,
		Classifier:  classifier.New(ccfg),
		Analyzer:    o.Analyzer,
		Generator:   generator,
		Distributor: o.Distributor,
		Recorder:    recorder,
		Tracker:     o.Tracker,
		Broadcaster: broadcaster,
		Logger:      o.logger.Named("engine"),
		Metrics:     o.metrics,
	})
	if err != nil {
		return err
	}

	if o.source, err = o.buildSource(); err != nil {
		return err
	}

	if cfg.Maintenance.Enabled {
		o.scheduler, err = maintenance.New(context.Background(), maintenanceConfig(cfg.Maintenance), maintenance.Options{
			Profiles: o.Profiles,
			Analyzer: o.Analyzer,
			Clock:    o.Engine.LastEventTime,
			Logger:   o.logger.Named("maintenance"),
		})
		if err != nil {
			return err
		}
	}

	if !o.opts.DisableHTTP && cfg.HTTP.Addr != "" {
		apiOpts := httpapi.Options{
			Engine:  o.Engine,
			Tracker: o.Tracker,
			Feed:    o.Feed,
			Signals: o.Signals,
			Windows: o.Analyzer,
			Now:     nowMs,
			Logger:  o.logger.Named("http"),
			Debug:   cfg.Log.Development,
		}
		if o.Hub != nil {
			apiOpts.Dashboard = o.Hub.Handler()
		}
		o.server = httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(apiOpts), o.logger.Named("http"))
	}
	return nil
}

// consumers builds the configured signal consumers. Persisted signals back
// the /signals routes, so the store consumer comes first.
func (o *Orchestrator) consumers() ([]distribution.Consumer, error) {
	c := o.cfg.Consumers
	var out []distribution.Consumer

	if c.PersistSignals {
		o.Signals = o.res.signals
		out = append(out, distribution.NewStoreConsumer(o.res.signals))
	}
	o.Feed = activity.NewSignalFeed(feedConfig(c))
	out = append(out, o.Feed)
	if c.Dashboard {
		o.Hub = distribution.NewHub(distribution.DefaultHubConfig(), o.logger.Named("hub"))
		o.res.onClose("dashboard hub", func() error { o.Hub.Close(); return nil })
		out = append(out, o.Hub)
	}
	if len(c.KafkaBrokers) > 0 {
		kc, err := distribution.NewKafkaConsumer(c.KafkaBrokers, c.KafkaTopic)
		if err != nil {
			return nil, err
		}
		o.res.onClose("kafka producer", kc.Close)
		out = append(out, kc)
	}
	for i, url := range c.WebhookURLs {
		name := "webhook"
		if i > 0 {
			name = fmt.Sprintf("webhook-%d", i)
		}
		out = append(out, distribution.NewWebhookConsumer(name, url, nil))
	}
	if c.SlackWebhookURL != "" {
		out = append(out, distribution.NewSlackConsumer(c.SlackWebhookURL, c.SlackMinConf, nil))
	}
	if c.RedisChannel != "" {
		if o.res.redis == nil {
			return nil, errors.New("consumers.redis_channel requires storage.redis_addr")
		}
		out = append(out, distribution.NewRedisConsumer(o.res.redis, c.RedisChannel))
	}
	out = append(out, o.opts.Consumers...)
	return out, nil
}

func (o *Orchestrator) buildSource() (ingestion.Source, error) {
	if o.opts.Source != nil {
		return o.opts.Source, nil
	}
	in := o.cfg.Ingestion
	logger := o.logger.Named("ingestion")

	switch in.Source {
	case "replay":
		return ingestion.NewReplaySource(in.ReplayFile, logger), nil
	case "kafka":
		src, err := ingestion.NewKafkaSource(in.KafkaBrokers, in.KafkaTopic, in.KafkaGroup, logger)
		if err != nil {
			return nil, err
		}
		o.res.onClose("kafka consumer group", src.Close)
		return src, nil
	case "ws":
		return ingestion.NewWSSource(in.WSEndpoint, ingestion.DefaultWSConfig(), logger), nil
	default:
		return nil, nil
	}
}

// Run starts the engine and everything around it. It returns when ctx is
// done, when a component fails, or when the source finishes and
// ExitWhenSourceDone is set. Close must still be called.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Engine.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if o.scheduler != nil {
		o.scheduler.Start()
		defer o.scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	if o.server != nil {
		g.Go(func() error { return o.server.Run(runCtx) })
	}
	if o.source != nil {
		g.Go(func() error {
			o.logger.Info("ingestion source started", zap.String("source", o.source.Name()))
			err := o.source.Run(runCtx, o.Engine)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s source: %w", o.source.Name(), err)
			}
			o.logger.Info("ingestion source finished", zap.String("source", o.source.Name()))
			if o.opts.ExitWhenSourceDone {
				stop()
			}
			return nil
		})
	}
	g.Go(func() error {
		<-runCtx.Done()
		return nil
	})

	return g.Wait()
}

// Close drains the engine, then releases backends in reverse order of
// acquisition.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if err := o.Engine.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.res.close(o.logger)...)
	return errors.Join(errs...)
}
