package orchestrator

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whale-signal-engine/internal/config"
	"whale-signal-engine/internal/storage"
	chstore "whale-signal-engine/internal/storage/clickhouse"
	"whale-signal-engine/internal/storage/memory"
	"whale-signal-engine/internal/storage/migrations"
	neo4jstore "whale-signal-engine/internal/storage/neo4j"
	pgstore "whale-signal-engine/internal/storage/postgres"
	redisstore "whale-signal-engine/internal/storage/redis"
)

type closer struct {
	name string
	fn   func() error
}

// resources are the storage backends selected by configuration.
type resources struct {
	profiles storage.WalletProfileStore // nil: in-memory only
	signals  storage.SignalStore
	activity storage.WhaleActivityStore
	dedup    storage.DedupStore        // nil: local dedup only
	graph    storage.ClusterGraphStore // nil: no graph
	redis    *goredis.Client

	closers []closer
}

func (r *resources) onClose(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// close runs closers in reverse order.
func (r *resources) close(logger *zap.Logger) []error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errs
}

func openResources(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *resources, err error) {
	st := cfg.Storage
	r := &resources{
		signals:  memory.NewSignalStore(),
		activity: memory.NewWhaleActivityStore(),
	}
	defer func() {
		if err != nil {
			r.close(logger)
		}
	}()

	if st.Backend == "postgres" {
		pool, err := pgstore.NewPool(ctx, st.PostgresDSN)
		if err != nil {
			return nil, err
		}
		r.onClose("postgres", func() error { pool.Close(); return nil })

		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		r.profiles = pgstore.NewWalletProfileStore(pool)
		r.signals = pgstore.NewSignalStore(pool)
		logger.Info("postgres storage ready", zap.Strings("migrations_applied", applied))
	}

	if st.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, st.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		r.onClose("clickhouse", conn.Close)
		r.activity = chstore.NewWhaleActivityStore(conn)
		logger.Info("clickhouse activity store ready")
	}

	if st.RedisAddr != "" {
		client, err := redisstore.NewClient(ctx, st.RedisAddr, st.RedisPassword, st.RedisDB)
		if err != nil {
			return nil, err
		}
		r.onClose("redis", client.Close)
		r.redis = client
		if cfg.Distributor.SharedDedup {
			r.dedup = redisstore.NewDedupStore(client, redisstore.DefaultKeyPrefix)
		}
		logger.Info("redis ready", zap.Bool("shared_dedup", r.dedup != nil))
	}

	if st.Neo4jURI != "" {
		driver, err := neo4jstore.NewDriver(ctx, st.Neo4jURI, st.Neo4jUser, st.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		r.onClose("neo4j", func() error { return driver.Close(context.Background()) })

		graph := neo4jstore.NewClusterGraphStore(driver, "")
		if err := graph.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("neo4j schema: %w", err)
		}
		r.graph = graph
		logger.Info("neo4j cluster graph ready")
	}

	return r, nil
}
