package activity

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"whale-signal-engine/internal/domain"
)

// Dominant actions reported by the tracker.
const (
	ActionAccumulation = "accumulation"
	ActionDistribution = "distribution"
	ActionNeutral      = "neutral"
)

// Alert types.
const (
	AlertAccumulation = "accumulation"
	AlertDistribution = "distribution"
)

// alertLookback is how many of the most recent whales feed alerts.
const alertLookback = 5

// alertMinimum is how many same-direction whales in the lookback raise an alert.
const alertMinimum = 3

// TokenFlow is the net whale flow for one token. Buys add, sells subtract.
type TokenFlow struct {
	TokenAddress string          `json:"token_address"`
	NetFlow      decimal.Decimal `json:"net_flow"`
	Buys         int64           `json:"buys"`
	Sells        int64           `json:"sells"`
}

// Alert flags a burst among the most recent whales or signals.
type Alert struct {
	Type    string   `json:"type"`
	Count   int      `json:"count"`
	Message string   `json:"message"`
	Tokens  []string `json:"tokens,omitempty"`
}

// Summary is a point-in-time view of tracked whale activity.
type Summary struct {
	WhalesTracked  int                     `json:"whales_tracked"`
	Transactions   int64                   `json:"transactions"`
	TotalVolume    decimal.Decimal         `json:"total_volume"`
	Buys           int64                   `json:"buys"`
	Sells          int64                   `json:"sells"`
	BuySellRatio   float64                 `json:"buy_sell_ratio"`
	NetFlow        decimal.Decimal         `json:"net_flow"`
	DominantAction string                  `json:"dominant_action"`
	TopTokens      []TokenFlow             `json:"top_tokens"`
	Alerts         []Alert                 `json:"alerts"`
	Recent         []*domain.WhaleActivity `json:"recent"`
}

// Tracker keeps running whale statistics and a bounded list of recent whales.
type Tracker struct {
	mu        sync.RWMutex
	ring      []*domain.WhaleActivity
	next      int
	full      bool
	wallets   map[string]struct{}
	txs       int64
	volume    decimal.Decimal
	buys      int64
	sells     int64
	netFlow   decimal.Decimal
	tokens    map[string]*TokenFlow
	topTokens int
}

// NewTracker creates a tracker remembering the last recent whales.
func NewTracker(recent int) *Tracker {
	if recent <= 0 {
		recent = 50
	}
	return &Tracker{
		ring:      make([]*domain.WhaleActivity, recent),
		wallets:   make(map[string]struct{}),
		tokens:    make(map[string]*TokenFlow),
		topTokens: 10,
	}
}

// Record adds a whale classification to the statistics.
func (t *Tracker) Record(a *domain.WhaleActivity) {
	if a == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ring[t.next] = a
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}

	t.wallets[a.WalletAddress] = struct{}{}
	t.txs++
	t.volume = t.volume.Add(a.ValueQuote)

	flow, ok := t.tokens[a.TokenAddress]
	if !ok {
		flow = &TokenFlow{TokenAddress: a.TokenAddress}
		t.tokens[a.TokenAddress] = flow
	}
	switch a.Direction {
	case domain.DirectionBuy:
		t.buys++
		flow.Buys++
		flow.NetFlow = flow.NetFlow.Add(a.ValueQuote)
		t.netFlow = t.netFlow.Add(a.ValueQuote)
	case domain.DirectionSell:
		t.sells++
		flow.Sells++
		flow.NetFlow = flow.NetFlow.Sub(a.ValueQuote)
		t.netFlow = t.netFlow.Sub(a.ValueQuote)
	}
}

// Recent returns up to n recent whales, newest first. n <= 0 returns all held.
func (t *Tracker) Recent(n int) []*domain.WhaleActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recent(n)
}

func (t *Tracker) recent(n int) []*domain.WhaleActivity {
	held := t.next
	if t.full {
		held = len(t.ring)
	}
	if n <= 0 || n > held {
		n = held
	}

	out := make([]*domain.WhaleActivity, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

// Summary returns the current statistics with up to recent whales attached.
func (t *Tracker) Summary(recent int) Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{
		WhalesTracked: len(t.wallets),
		Transactions:  t.txs,
		TotalVolume:   t.volume,
		Buys:          t.buys,
		Sells:         t.sells,
		NetFlow:       t.netFlow,
		Recent:        t.recent(recent),
	}

	switch {
	case t.sells > 0:
		s.BuySellRatio = float64(t.buys) / float64(t.sells)
	case t.buys > 0:
		s.BuySellRatio = float64(t.buys)
	}

	switch t.netFlow.Sign() {
	case 1:
		s.DominantAction = ActionAccumulation
	case -1:
		s.DominantAction = ActionDistribution
	default:
		s.DominantAction = ActionNeutral
	}

	flows := make([]TokenFlow, 0, len(t.tokens))
	for _, f := range t.tokens {
		flows = append(flows, *f)
	}
	sort.Slice(flows, func(i, j int) bool {
		ai, aj := flows[i].NetFlow.Abs(), flows[j].NetFlow.Abs()
		if c := ai.Cmp(aj); c != 0 {
			return c > 0
		}
		return flows[i].TokenAddress < flows[j].TokenAddress
	})
	if len(flows) > t.topTokens {
		flows = flows[:t.topTokens]
	}
	s.TopTokens = flows

	s.Alerts = alerts(t.recent(alertLookback))
	return s
}

func alerts(recent []*domain.WhaleActivity) []Alert {
	var buys, sells int
	for _, a := range recent {
		switch a.Direction {
		case domain.DirectionBuy:
			buys++
		case domain.DirectionSell:
			sells++
		}
	}

	out := []Alert{}
	if buys >= alertMinimum {
		out = append(out, Alert{Type: AlertAccumulation, Count: buys, Message: "whales accumulating recently"})
	}
	if sells >= alertMinimum {
		out = append(out, Alert{Type: AlertDistribution, Count: sells, Message: "whales distributing recently"})
	}
	return out
}
