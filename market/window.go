package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrMalformedTrade marks an event rejected at ingestion.
	ErrMalformedTrade = errors.New("malformed trade event")
	// ErrUntrackedCoin marks an event for a coin the aggregator was not configured with.
	ErrUntrackedCoin = errors.New("untracked coin")
	// ErrUnknownWindow marks a query for a window length that was not configured.
	ErrUnknownWindow = errors.New("unknown window length")
)

// ImbalanceSnapshot is a derived, read-only view of one coin's window.
type ImbalanceSnapshot struct {
	Coin           string
	Window         time.Duration
	Imbalance      float64
	BuyVolume      float64
	SellVolume     float64
	LargeBuyCount  int
	LargeSellCount int
	NetLargeFlow   float64
	Trades         int
	Ts             time.Time
}

// storedTrade pins the large-trade classification at ingestion time so a
// later threshold change never reclassifies history.
type storedTrade struct {
	ev    TradeEvent
	large bool
}

type coinBucket struct {
	mu     sync.RWMutex
	trades []storedTrade
}

// WindowAggregator maintains per-coin rolling windows of trade prints and
// computes order-flow imbalance on demand. All configured window lengths
// share one per-coin event log; each query applies its own cutoff.
//
// Concurrency: one feed goroutine records per coin, any number of readers
// query. Each coin has its own lock; there is no global lock across coins.
type WindowAggregator struct {
	windows    []time.Duration
	maxWindow  time.Duration
	thresholds map[string]float64
	clock      Clock

	buckets map[string]*coinBucket
	dropped atomic.Uint64
}

// NewWindowAggregator builds an aggregator for the given coins and window
// lengths. Window lengths must be positive; thresholds maps coin to the
// large-trade notional cutoff (0 or absent disables large-trade counting).
func NewWindowAggregator(coins []string, windows []time.Duration, thresholds map[string]float64, clock Clock) (*WindowAggregator, error) {
	if len(coins) == 0 {
		return nil, errors.New("at least one coin is required")
	}
	if len(windows) == 0 {
		return nil, errors.New("at least one window length is required")
	}
	ws := make([]time.Duration, len(windows))
	copy(ws, windows)
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	for _, w := range ws {
		if w <= 0 {
			return nil, fmt.Errorf("window length must be > 0, got %s", w)
		}
	}
	if clock == nil {
		clock = SystemClock
	}
	th := make(map[string]float64, len(thresholds))
	for coin, v := range thresholds {
		if v < 0 {
			return nil, fmt.Errorf("large-trade threshold for %s must be >= 0", coin)
		}
		th[coin] = v
	}
	buckets := make(map[string]*coinBucket, len(coins))
	for _, coin := range coins {
		if coin == "" {
			return nil, errors.New("empty coin name")
		}
		buckets[coin] = &coinBucket{}
	}
	return &WindowAggregator{
		windows:    ws,
		maxWindow:  ws[len(ws)-1],
		thresholds: th,
		clock:      clock,
		buckets:    buckets,
	}, nil
}

// Windows returns the configured window lengths, ascending.
func (a *WindowAggregator) Windows() []time.Duration {
	out := make([]time.Duration, len(a.windows))
	copy(out, a.windows)
	return out
}

// ShortestWindow returns the smallest configured window length.
func (a *WindowAggregator) ShortestWindow() time.Duration { return a.windows[0] }

// Dropped returns the count of events rejected at ingestion.
func (a *WindowAggregator) Dropped() uint64 { return a.dropped.Load() }

// Record appends the event to the coin's log and trims entries that have
// aged past the largest window. Events are applied in arrival order.
func (a *WindowAggregator) Record(ev TradeEvent) error {
	if !ev.Valid() {
		a.dropped.Add(1)
		return fmt.Errorf("%w: coin=%q price=%v size=%v side=%q", ErrMalformedTrade, ev.Coin, ev.Price, ev.Size, ev.Side)
	}
	b, ok := a.buckets[ev.Coin]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUntrackedCoin, ev.Coin)
	}
	large := false
	if th := a.thresholds[ev.Coin]; th > 0 && ev.Notional >= th {
		large = true
	}
	cutoff := a.clock.Now().Add(-a.maxWindow)

	b.mu.Lock()
	b.trades = append(b.trades, storedTrade{ev: ev, large: large})
	// Front-only trim: arrival order is monotone enough that everything
	// before the first in-window entry is also expired.
	i := 0
	for ; i < len(b.trades); i++ {
		if !b.trades[i].ev.Ts.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		b.trades = append(b.trades[:0], b.trades[i:]...)
	}
	b.mu.Unlock()
	return nil
}

// Query computes the imbalance snapshot for one coin and window length.
// The snapshot is a consistent copy; it never exposes partial state.
func (a *WindowAggregator) Query(coin string, window time.Duration) (ImbalanceSnapshot, error) {
	b, ok := a.buckets[coin]
	if !ok {
		return ImbalanceSnapshot{}, fmt.Errorf("%w: %s", ErrUntrackedCoin, coin)
	}
	known := false
	for _, w := range a.windows {
		if w == window {
			known = true
			break
		}
	}
	if !known {
		return ImbalanceSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownWindow, window)
	}

	now := a.clock.Now()
	cutoff := now.Add(-window)
	snap := ImbalanceSnapshot{Coin: coin, Window: window, Ts: now}

	b.mu.RLock()
	for _, st := range b.trades {
		if st.ev.Ts.Before(cutoff) {
			continue
		}
		if st.ev.Side == Buy {
			snap.BuyVolume += st.ev.Notional
		} else {
			snap.SellVolume += st.ev.Notional
		}
		if st.large {
			if st.ev.Side == Buy {
				snap.LargeBuyCount++
				snap.NetLargeFlow += st.ev.Notional
			} else {
				snap.LargeSellCount++
				snap.NetLargeFlow -= st.ev.Notional
			}
		}
		snap.Trades++
	}
	b.mu.RUnlock()

	snap.Imbalance = Imbalance(snap.BuyVolume, snap.SellVolume)
	return snap, nil
}

// QueryAll computes snapshots for every configured window of one coin.
func (a *WindowAggregator) QueryAll(coin string) ([]ImbalanceSnapshot, error) {
	out := make([]ImbalanceSnapshot, 0, len(a.windows))
	for _, w := range a.windows {
		snap, err := a.Query(coin, w)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
