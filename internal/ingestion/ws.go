package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whale-signal-engine/internal/logging"
)

// WSConfig configures the websocket source.
type WSConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval between ping frames.
	PingInterval time.Duration
	// ReadTimeout is reset by every message and pong.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	// Subscribe is sent after every (re)connect when non-nil.
	Subscribe any
}

// DefaultWSConfig returns the default websocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// WSSource reads raw events from a websocket feed. Each text message holds
// one event object or an array of them. The connection is re-established
// with exponential backoff until ctx is done.
type WSSource struct {
	endpoint string
	cfg      WSConfig
	logger   *zap.Logger
}

// NewWSSource creates a websocket source for endpoint.
func NewWSSource(endpoint string, cfg WSConfig, logger *zap.Logger) *WSSource {
	def := DefaultWSConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(def.MaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	return &WSSource{endpoint: endpoint, cfg: cfg, logger: logging.OrNop(logger)}
}

func (s *WSSource) Name() string { return "ws" }

// Run reads until ctx is done or the sink fails.
func (s *WSSource) Run(ctx context.Context, sink Sink) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.ReconnectDelay
	policy.MaxInterval = s.cfg.MaxReconnectDelay
	policy.MaxElapsedTime = 0

	for {
		conn, err := s.connect(ctx)
		if err == nil {
			policy.Reset()
			err = s.session(ctx, conn, sink)
			var fatal *sinkError
			if errors.As(err, &fatal) {
				return fatal.err
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		delay := policy.NextBackOff()
		s.logger.Warn("websocket disconnected, reconnecting",
			zap.String("endpoint", s.endpoint),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// sinkError marks a failure that must stop the source.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }

func (s *WSSource) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if s.cfg.Subscribe != nil {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteJSON(s.cfg.Subscribe); err != nil {
			conn.Close()
			return nil, fmt.Errorf("write subscribe: %w", err)
		}
	}

	s.logger.Info("websocket connected", zap.String("endpoint", s.endpoint))
	return conn, nil
}

// session reads one connection until it fails. The ping loop and ctx
// watcher share writeMu with the close frame.
func (s *WSSource) session(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
				writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		events, err := DecodeEvents(message)
		if err != nil {
			s.logger.Debug("websocket message skipped", zap.Error(err))
			continue
		}
		for _, ev := range events {
			if _, err := push(ctx, sink, ev, s.logger); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &sinkError{err: err}
			}
		}
	}
}
