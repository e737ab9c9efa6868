// Package sim replays recorded trade prints through the rolling
// windows, for offline inspection of the order-flow signal.
package sim

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"hyperliquid-signals-go/market"
)

// RecordedTrade is one JSONL line of a capture file.
type RecordedTrade struct {
	Coin string  `json:"coin"`
	Side string  `json:"side"`
	Px   float64 `json:"px"`
	Sz   float64 `json:"sz"`
	Time int64   `json:"time"` // epoch millis
}

// ManualClock is a settable clock so replayed windows cut off at the
// capture's timestamps instead of wall time.
type ManualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// ReplayConfig describes the windows to rebuild during replay.
type ReplayConfig struct {
	Coins      []string
	Windows    []time.Duration
	Thresholds map[string]float64 // large-trade notional per coin
}

// Replayer feeds recorded prints into a window aggregator, advancing a
// manual clock to each print's timestamp. Malformed lines are dropped
// and counted, matching the live feed's behavior.
type Replayer struct {
	agg   *market.WindowAggregator
	clock *ManualClock

	Accepted int
	Dropped  int
}

// BuildReplayer assembles a replayer with in-memory components.
func BuildReplayer(cfg ReplayConfig) (*Replayer, error) {
	clock := &ManualClock{}
	agg, err := market.NewWindowAggregator(cfg.Coins, cfg.Windows, cfg.Thresholds, clock)
	if err != nil {
		return nil, err
	}
	return &Replayer{agg: agg, clock: clock}, nil
}

// Aggregator exposes the rebuilt windows for querying after a replay.
func (r *Replayer) Aggregator() *market.WindowAggregator { return r.agg }

// Clock exposes the replay clock; it rests at the last print's time.
func (r *Replayer) Clock() *ManualClock { return r.clock }

// ReplayReader consumes JSONL prints from rd until EOF. Lines that fail
// to parse or validate count as dropped; prints for untracked coins are
// skipped silently.
func (r *Replayer) ReplayReader(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec RecordedTrade
		if err := json.Unmarshal(line, &rec); err != nil {
			r.Dropped++
			continue
		}
		ev := market.NewTradeEvent(rec.Coin, rec.Px, rec.Sz, sideOf(rec.Side), time.UnixMilli(rec.Time))
		r.clock.Set(ev.Ts)
		if err := r.agg.Record(ev); err != nil {
			if errors.Is(err, market.ErrUntrackedCoin) {
				continue
			}
			r.Dropped++
			continue
		}
		r.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan capture: %w", err)
	}
	return nil
}

// ReplayFile consumes a JSONL capture file.
func (r *Replayer) ReplayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return r.ReplayReader(f)
}

func sideOf(s string) market.Side {
	if len(s) > 0 && (s[0] == 'B' || s[0] == 'b') {
		return market.Buy
	}
	return market.Sell
}
