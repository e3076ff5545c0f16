// Package httpapi serves engine state, active signals and the dashboard
// websocket over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whale-signal-engine/internal/activity"
	"whale-signal-engine/internal/logging"
	"whale-signal-engine/internal/observability"
	"whale-signal-engine/internal/pattern"
	"whale-signal-engine/internal/pipeline"
	"whale-signal-engine/internal/storage"
)

// StatsProvider reports engine counters. pipeline.Engine implements it.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// WindowReader exposes token window snapshots. pattern.Analyzer implements it.
type WindowReader interface {
	Snapshot(token string) (pattern.WindowSnapshot, bool)
}

// Options wires the API to engine components. Nil components disable
// their routes with 503 Service Unavailable.
type Options struct {
	Engine  StatsProvider
	Tracker *activity.Tracker
	// Feed adds the published signal summary to /signals.
	Feed    *activity.SignalFeed
	Signals storage.SignalStore
	Windows WindowReader
	// Dashboard serves /ws when set.
	Dashboard http.Handler
	// Metrics serves /metrics. Defaults to the Prometheus default gatherer.
	Metrics http.Handler
	// Now returns the reference time in unix ms for live confidence.
	Now    func() int64
	Logger *zap.Logger
	Debug  bool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Handler()
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	logger := logging.OrNop(opts.Logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	h := &handler{opts: opts, logger: logger}
	h.register(r)
	return r
}

// requestLogger logs every request at debug level.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Server runs the router on an address until its context is done.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, router http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logging.OrNop(logger),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
