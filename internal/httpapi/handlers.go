package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"whale-signal-engine/internal/domain"
	"whale-signal-engine/internal/signalgen"
	"whale-signal-engine/internal/storage"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 500
	defaultRecent      = 20
)

type handler struct {
	opts   Options
	logger *zap.Logger
}

// signalView is a signal with its decayed confidence at the reference time.
type signalView struct {
	*domain.Signal
	EffectiveConfidence float64 `json:"effective_confidence"`
	Expired             bool    `json:"expired"`
}

func (h *handler) register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/status", h.status)
	r.GET("/activity", h.activity)
	r.GET("/signals", h.listSignals)
	r.GET("/signals/:id", h.getSignal)
	r.GET("/tokens/:token/window", h.tokenWindow)
	r.GET("/metrics", gin.WrapH(h.opts.Metrics))
	if h.opts.Dashboard != nil {
		r.GET("/ws", gin.WrapH(h.opts.Dashboard))
	}
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) status(c *gin.Context) {
	if h.opts.Engine == nil {
		fail(c, http.StatusServiceUnavailable, "engine unavailable")
		return
	}
	ok(c, h.opts.Engine.Stats(), nil)
}

func (h *handler) activity(c *gin.Context) {
	if h.opts.Tracker == nil {
		fail(c, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	recent := intQuery(c, "recent", defaultRecent)
	if recent < 0 {
		recent = 0
	}
	ok(c, h.opts.Tracker.Summary(recent), nil)
}

// listSignals serves active signals, or every stored signal of a token when
// ?token= is set. ?at= overrides the reference time in unix ms.
func (h *handler) listSignals(c *gin.Context) {
	if h.opts.Signals == nil {
		fail(c, http.StatusServiceUnavailable, "signal store unavailable")
		return
	}
	now := int64Query(c, "at", h.opts.Now())
	limit := intQuery(c, "limit", defaultSignalLimit)
	if limit <= 0 || limit > maxSignalLimit {
		limit = maxSignalLimit
	}

	var (
		signals []*domain.Signal
		err     error
	)
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		signals, err = h.opts.Signals.ListByToken(c.Request.Context(), token, limit)
	} else {
		signals, err = h.opts.Signals.ListActive(c.Request.Context(), now, limit)
	}
	if err != nil {
		h.logger.Warn("list signals failed", zap.Error(err))
		fail(c, http.StatusBadGateway, err.Error())
		return
	}

	views := make([]signalView, 0, len(signals))
	for _, s := range signals {
		views = append(views, view(s, now))
	}
	meta := map[string]any{"at": now, "count": len(views)}
	if h.opts.Feed != nil {
		meta["feed"] = h.opts.Feed.Summary(intQuery(c, "recent", 0), now)
	}
	ok(c, views, meta)
}

func (h *handler) getSignal(c *gin.Context) {
	if h.opts.Signals == nil {
		fail(c, http.StatusServiceUnavailable, "signal store unavailable")
		return
	}
	sig, err := h.opts.Signals.GetByID(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "signal not found")
		return
	case err != nil:
		fail(c, http.StatusBadGateway, err.Error())
		return
	}
	now := int64Query(c, "at", h.opts.Now())
	ok(c, view(sig, now), map[string]any{"at": now})
}

func (h *handler) tokenWindow(c *gin.Context) {
	if h.opts.Windows == nil {
		fail(c, http.StatusServiceUnavailable, "analyzer unavailable")
		return
	}
	snap, found := h.opts.Windows.Snapshot(c.Param("token"))
	if !found {
		fail(c, http.StatusNotFound, "no live window for token")
		return
	}
	ok(c, snap, nil)
}

func view(s *domain.Signal, now int64) signalView {
	return signalView{
		Signal:              s,
		EffectiveConfidence: signalgen.EffectiveConfidence(s, now),
		Expired:             s.Expired(now),
	}
}
