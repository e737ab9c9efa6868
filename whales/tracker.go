package whales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/metrics"
)

// PositionSource pulls the latest position snapshot (coin -> signed size)
// for one account. Implemented by the gateway REST client.
type PositionSource interface {
	Positions(ctx context.Context, account string) (map[string]float64, error)
}

// TrackerConfig configures the cohort poller.
type TrackerConfig struct {
	Accounts       []string
	Coins          []string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	MaxAccounts    int // cohort cap, default 50
	MaxChanges     int // recent-delta ring capacity, default 200
}

// Tracker polls every cohort account's positions on a timer, classifies
// deltas and answers consensus queries. One poll goroutine writes, any
// number of readers query.
type Tracker struct {
	cfg      TrackerConfig
	source   PositionSource
	detector *DeltaDetector
	log      *logger.Logger

	mu      sync.RWMutex
	changes []PositionDelta

	pollErrors atomic.Uint64

	startMu  sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewTracker validates the config and builds a tracker. An empty cohort
// is valid: the poll loop idles and Consensus reports no data.
func NewTracker(cfg TrackerConfig, source PositionSource, log *logger.Logger) (*Tracker, error) {
	if source == nil {
		return nil, errors.New("position source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0, got %s", cfg.PollInterval)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxAccounts <= 0 {
		cfg.MaxAccounts = 50
	}
	if cfg.MaxChanges <= 0 {
		cfg.MaxChanges = 200
	}
	if len(cfg.Accounts) > cfg.MaxAccounts {
		cfg.Accounts = cfg.Accounts[:cfg.MaxAccounts]
	}
	return &Tracker{
		cfg:      cfg,
		source:   source,
		detector: NewDeltaDetector(),
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the poll loop. Idempotent while running.
func (t *Tracker) Start(ctx context.Context) error {
	t.startMu.Lock()
	if t.started {
		t.startMu.Unlock()
		return errors.New("tracker already started")
	}
	// Rebuild channels when restarting after a Stop.
	select {
	case <-t.stopChan:
		t.stopChan = make(chan struct{})
		t.doneChan = make(chan struct{})
	default:
	}
	t.started = true
	t.startMu.Unlock()

	t.log.Info("whale tracker starting",
		zap.Int("accounts", len(t.cfg.Accounts)),
		zap.Duration("poll_interval", t.cfg.PollInterval))

	go t.run(ctx)
	return nil
}

// Stop signals the poll loop and waits for it to drain.
func (t *Tracker) Stop() {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if !t.started {
		return
	}
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	<-t.doneChan
	t.started = false
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.doneChan)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.PollOnce(ctx)
		}
	}
}

// PollOnce fetches every account's positions once. A failing account is
// skipped for this cycle; it never aborts the poll.
func (t *Tracker) PollOnce(ctx context.Context) {
	now := time.Now()
	for _, account := range t.cfg.Accounts {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		default:
		}
		reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
		positions, err := t.source.Positions(reqCtx, account)
		cancel()
		if err != nil {
			t.pollErrors.Add(1)
			metrics.IncrementPollError("whales")
			t.log.Warn("position poll failed",
				zap.String("account", account),
				zap.Error(err))
			continue
		}
		deltas := t.detector.Update(account, positions, now)
		if len(deltas) == 0 {
			continue
		}
		t.appendChanges(deltas)
		for _, d := range deltas {
			t.log.LogSignal("whale_delta", d.Coin, map[string]interface{}{
				"account": d.Account,
				"kind":    string(d.Kind),
				"prev":    d.PrevSize,
				"new":     d.NewSize,
			})
		}
	}
	for _, coin := range t.cfg.Coins {
		longPct, _ := t.Consensus(coin)
		metrics.WhaleLongPct.WithLabelValues(coin).Set(longPct)
	}
}

func (t *Tracker) appendChanges(deltas []PositionDelta) {
	t.mu.Lock()
	t.changes = append(t.changes, deltas...)
	if over := len(t.changes) - t.cfg.MaxChanges; over > 0 {
		t.changes = append(t.changes[:0], t.changes[over:]...)
	}
	t.mu.Unlock()
}

// Consensus returns long/short fractions for coin over the cohort's latest
// snapshots. Accounts with no position in coin do not count.
func (t *Tracker) Consensus(coin string) (longPct, shortPct float64) {
	sizes := make([]float64, 0, len(t.cfg.Accounts))
	for _, account := range t.cfg.Accounts {
		sizes = append(sizes, t.detector.Size(account, coin))
	}
	return Consensus(sizes)
}

// RecentChanges returns up to n latest deltas for coin, oldest first.
func (t *Tracker) RecentChanges(coin string, n int) []PositionDelta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []PositionDelta
	for _, d := range t.changes {
		if d.Coin == coin {
			out = append(out, d)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// PollErrors returns the count of failed account polls.
func (t *Tracker) PollErrors() uint64 { return t.pollErrors.Load() }
