package distribution

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/logging"
)

// Hub channels
const (
	ChannelSignal        = "signal"
	ChannelWhaleActivity = "whale_activity"
)

// HubMessage is the envelope pushed to dashboard clients.
type HubMessage struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// HubConfig configures dashboard connections.
type HubConfig struct {
	// SendBuffer is the per-client outbound buffer. Slow clients are dropped when it fills.
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans signals and whale activity out to dashboard websocket clients.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a dashboard hub.
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultHubConfig().SendBuffer
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logging.OrNop(logger),
		clients: make(map[*hubClient]struct{}),
	}
}

func (h *Hub) Name() string { return "dashboard" }

// Deliver broadcasts a signal delivery. It never blocks on a client.
func (h *Hub) Deliver(_ context.Context, d *domain.Delivery) error {
	return h.broadcast(HubMessage{Channel: ChannelSignal, Data: d})
}

// BroadcastActivity pushes a whale classification to dashboard clients.
func (h *Hub) BroadcastActivity(a *domain.WhaleActivity) {
	if err := h.broadcast(HubMessage{Channel: ChannelWhaleActivity, Data: a}); err != nil {
		h.logger.Warn("broadcast whale activity", zap.Error(err))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg HubMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	var slow []*hubClient
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Debug("dropping slow dashboard client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
	return nil
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readLoop discards client messages and detects disconnects.
func (h *Hub) readLoop(c *hubClient) {
	defer h.wg.Done()
	defer h.remove(c)

	if h.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		})
	}
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer h.wg.Done()
	defer func() { _ = c.conn.Close() }()

	var tick <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			h.setWriteDeadline(c)
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-tick:
			h.setWriteDeadline(c)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) setWriteDeadline(c *hubClient) {
	if h.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Handler returns ServeWS as an http.Handler.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
