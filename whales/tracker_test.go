package whales

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hyperliquid-signals-go/infrastructure/logger"
)

type stubSource struct {
	mu        sync.Mutex
	positions map[string]map[string]float64
	failing   map[string]bool
}

func (s *stubSource) Positions(ctx context.Context, account string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[account] {
		return nil, errors.New("source unavailable")
	}
	out := make(map[string]float64, len(s.positions[account]))
	for coin, size := range s.positions[account] {
		out[coin] = size
	}
	return out, nil
}

func (s *stubSource) set(account string, positions map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions == nil {
		s.positions = make(map[string]map[string]float64)
	}
	s.positions[account] = positions
}

func newTestTracker(t *testing.T, src PositionSource, accounts ...string) *Tracker {
	t.Helper()
	tr, err := NewTracker(TrackerConfig{
		Accounts:     accounts,
		Coins:        []string{"ETH"},
		PollInterval: time.Hour, // poll driven manually in tests
	}, src, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tr
}

func TestNewTrackerValidation(t *testing.T) {
	src := &stubSource{}
	if _, err := NewTracker(TrackerConfig{Accounts: []string{"a"}}, src, logger.Nop()); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
	if _, err := NewTracker(TrackerConfig{Accounts: []string{"a"}, PollInterval: time.Second}, nil, logger.Nop()); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestEmptyCohortIsValid(t *testing.T) {
	tr, err := NewTracker(TrackerConfig{
		Coins:        []string{"ETH"},
		PollInterval: time.Hour,
	}, &stubSource{}, logger.Nop())
	if err != nil {
		t.Fatalf("empty cohort must construct: %v", err)
	}

	tr.PollOnce(context.Background())
	long, short := tr.Consensus("ETH")
	if long != 0 || short != 0 {
		t.Fatalf("consensus = (%f, %f), want no data (0, 0)", long, short)
	}

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Stop()
}

func TestDeltasEmitStructuredEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.log")
	lg, err := logger.New(logger.Config{
		Level:      "info",
		Format:     "json",
		Outputs:    []string{"file"},
		OutputFile: path,
	})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	src := &stubSource{}
	src.set("a", map[string]float64{"ETH": 5})
	tr, err := NewTracker(TrackerConfig{
		Accounts:     []string{"a"},
		Coins:        []string{"ETH"},
		PollInterval: time.Hour,
	}, src, lg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr.PollOnce(context.Background())
	_ = lg.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"event":"whale_delta"`) {
		t.Fatalf("log missing whale_delta event: %s", out)
	}
	for _, field := range []string{`"account":"a"`, `"kind":"OPENED"`, `"coin":"ETH"`} {
		if !strings.Contains(out, field) {
			t.Errorf("log missing %s: %s", field, out)
		}
	}
	if strings.Contains(out, "_schema_error") {
		t.Errorf("whale_delta emission must satisfy its schema: %s", out)
	}
}

func TestTrackerConsensus(t *testing.T) {
	src := &stubSource{}
	src.set("a", map[string]float64{"ETH": 5})
	src.set("b", map[string]float64{"ETH": 1})
	src.set("c", map[string]float64{"ETH": -2})
	src.set("d", map[string]float64{"SOL": 9}) // no ETH position

	tr := newTestTracker(t, src, "a", "b", "c", "d")
	tr.PollOnce(context.Background())

	long, short := tr.Consensus("ETH")
	if long < 0.66 || long > 0.67 {
		t.Fatalf("long = %f, want 2/3", long)
	}
	if short < 0.33 || short > 0.34 {
		t.Fatalf("short = %f, want 1/3", short)
	}
}

func TestTrackerFailingAccountSkipped(t *testing.T) {
	src := &stubSource{failing: map[string]bool{"b": true}}
	src.set("a", map[string]float64{"ETH": 5})

	tr := newTestTracker(t, src, "a", "b")
	tr.PollOnce(context.Background())

	if tr.PollErrors() != 1 {
		t.Fatalf("poll errors = %d, want 1", tr.PollErrors())
	}
	// The failing account must not poison consensus.
	long, short := tr.Consensus("ETH")
	if long != 1 || short != 0 {
		t.Fatalf("consensus = %f/%f, want 1/0", long, short)
	}
}

func TestTrackerRecentChanges(t *testing.T) {
	src := &stubSource{}
	src.set("a", map[string]float64{"ETH": 10})
	tr := newTestTracker(t, src, "a")
	tr.PollOnce(context.Background())

	src.set("a", map[string]float64{"ETH": -5})
	tr.PollOnce(context.Background())

	changes := tr.RecentChanges("ETH", 10)
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3 (opened, closed, opened)", len(changes))
	}
	if changes[0].Kind != Opened || changes[1].Kind != Closed || changes[2].Kind != Opened {
		t.Fatalf("unexpected change kinds: %+v", changes)
	}
}

func TestTrackerChangeRingBounded(t *testing.T) {
	src := &stubSource{}
	tr, err := NewTracker(TrackerConfig{
		Accounts:     []string{"a"},
		PollInterval: time.Hour,
		MaxChanges:   4,
	}, src, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		size := float64(i + 1)
		if i%2 == 1 {
			size = -size
		}
		src.set("a", map[string]float64{"ETH": size})
		tr.PollOnce(context.Background())
	}
	if got := len(tr.RecentChanges("ETH", 0)); got > 4 {
		t.Fatalf("ring grew past cap: %d", got)
	}
}

func TestTrackerStartStop(t *testing.T) {
	src := &stubSource{}
	src.set("a", map[string]float64{"ETH": 1})
	tr, err := NewTracker(TrackerConfig{
		Accounts:     []string{"a"},
		PollInterval: 10 * time.Millisecond,
	}, src, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(ctx); err == nil {
		t.Fatalf("second start must fail while running")
	}

	deadline := time.After(2 * time.Second)
	for {
		long, _ := tr.Consensus("ETH")
		if long == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poll loop never applied the snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}
	tr.Stop()
	tr.Stop() // idempotent
}
