package pattern

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"whale-signal-engine/internal/domain"
)

// windowEntry is one whale transaction held in a token window.
type windowEntry struct {
	wallet string
	dir    domain.Direction
	value  decimal.Decimal
	at     int64
}

// sideAggregate is the incremental per-direction state of a window.
type sideAggregate struct {
	wallets map[string]int // wallet -> entries in window
	volume  decimal.Decimal
	times   []int64 // sorted
}

func newSideAggregate() *sideAggregate {
	return &sideAggregate{wallets: make(map[string]int), volume: decimal.Zero}
}

func (a *sideAggregate) add(e *windowEntry) {
	a.wallets[e.wallet]++
	a.volume = a.volume.Add(e.value)
	i := sort.Search(len(a.times), func(i int) bool { return a.times[i] > e.at })
	a.times = append(a.times, 0)
	copy(a.times[i+1:], a.times[i:])
	a.times[i] = e.at
}

func (a *sideAggregate) remove(e *windowEntry) {
	if n := a.wallets[e.wallet]; n <= 1 {
		delete(a.wallets, e.wallet)
	} else {
		a.wallets[e.wallet] = n - 1
	}
	a.volume = a.volume.Sub(e.value)
	i := sort.Search(len(a.times), func(i int) bool { return a.times[i] >= e.at })
	if i < len(a.times) && a.times[i] == e.at {
		a.times = append(a.times[:i], a.times[i+1:]...)
	}
}

func (a *sideAggregate) span() int64 {
	if len(a.times) < 2 {
		return 0
	}
	return a.times[len(a.times)-1] - a.times[0]
}

func (a *sideAggregate) sortedWallets() []string {
	out := make([]string, 0, len(a.wallets))
	for w := range a.wallets {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// tokenWindow is the sliding event-time window of one token.
// Every field is guarded by mu.
type tokenWindow struct {
	mu        sync.Mutex
	token     string
	retired   bool
	watermark int64
	entries   []*windowEntry // sorted by at
	sides     map[domain.Direction]*sideAggregate
	walletN   map[string]int    // wallet -> entries in window, any side
	clusters  map[string]string // wallet -> cluster id
}

func newTokenWindow(token string) *tokenWindow {
	return &tokenWindow{
		token: token,
		sides: map[domain.Direction]*sideAggregate{
			domain.DirectionBuy:  newSideAggregate(),
			domain.DirectionSell: newSideAggregate(),
		},
		walletN:  make(map[string]int),
		clusters: make(map[string]string),
	}
}

// advance moves the watermark to at (if later) and expires entries older than
// watermark - window. Only the expired entries are touched.
func (w *tokenWindow) advance(at, window int64) {
	if at > w.watermark {
		w.watermark = at
	}
	cutoff := w.watermark - window
	n := 0
	for n < len(w.entries) && w.entries[n].at < cutoff {
		w.drop(w.entries[n])
		n++
	}
	if n > 0 {
		w.entries = append(w.entries[:0], w.entries[n:]...)
	}
}

func (w *tokenWindow) insert(e *windowEntry) {
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].at > e.at })
	w.entries = append(w.entries, nil)
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e

	w.sides[e.dir].add(e)
	w.walletN[e.wallet]++
}

func (w *tokenWindow) drop(e *windowEntry) {
	w.sides[e.dir].remove(e)
	if n := w.walletN[e.wallet]; n <= 1 {
		delete(w.walletN, e.wallet)
		delete(w.clusters, e.wallet)
	} else {
		w.walletN[e.wallet] = n - 1
	}
}

// around returns the entries with at in [from, to].
func (w *tokenWindow) around(from, to int64) []*windowEntry {
	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].at >= from })
	j := sort.Search(len(w.entries), func(j int) bool { return w.entries[j].at > to })
	if i >= j {
		return nil
	}
	return w.entries[i:j]
}

// WindowSnapshot summarizes a token window.
type WindowSnapshot struct {
	TokenAddress string          `json:"token_address"`
	Watermark    int64           `json:"watermark"`
	Entries      int             `json:"entries"`
	BuyWallets   int             `json:"buy_wallets"`
	SellWallets  int             `json:"sell_wallets"`
	BuyVolume    decimal.Decimal `json:"buy_volume"`
	SellVolume   decimal.Decimal `json:"sell_volume"`
	Clusters     int             `json:"clusters"`
}

func (w *tokenWindow) snapshot() WindowSnapshot {
	buy, sell := w.sides[domain.DirectionBuy], w.sides[domain.DirectionSell]
	distinct := make(map[string]struct{}, len(w.clusters))
	for _, id := range w.clusters {
		distinct[id] = struct{}{}
	}
	return WindowSnapshot{
		TokenAddress: w.token,
		Watermark:    w.watermark,
		Entries:      len(w.entries),
		BuyWallets:   len(buy.wallets),
		SellWallets:  len(sell.wallets),
		BuyVolume:    buy.volume,
		SellVolume:   sell.volume,
		Clusters:     len(distinct),
	}
}
