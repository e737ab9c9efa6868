package funding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"hyperliquid-signals-go/infrastructure/alert"
	"hyperliquid-signals-go/infrastructure/logger"
)

type stubSource struct {
	mu   sync.Mutex
	ctxs map[string]Context
	err  error
}

func (s *stubSource) AssetContexts(ctx context.Context) (map[string]Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]Context, len(s.ctxs))
	for k, v := range s.ctxs {
		out[k] = v
	}
	return out, nil
}

func (s *stubSource) set(coin string, c Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctxs == nil {
		s.ctxs = make(map[string]Context)
	}
	s.ctxs[coin] = c
}

func newDetector(t *testing.T, src Source) *Detector {
	t.Helper()
	d, err := NewDetector(Config{
		Coins:        []string{"ETH"},
		PollInterval: time.Hour,
	}, src, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d
}

func TestNewDetectorValidation(t *testing.T) {
	src := &stubSource{}
	if _, err := NewDetector(Config{PollInterval: time.Second}, src, logger.Nop()); err == nil {
		t.Fatalf("expected error for empty coins")
	}
	if _, err := NewDetector(Config{Coins: []string{"ETH"}}, src, logger.Nop()); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
	if _, err := NewDetector(Config{Coins: []string{"ETH"}, PollInterval: time.Second}, nil, logger.Nop()); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestFirstPollHasNoZScore(t *testing.T) {
	src := &stubSource{}
	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1000})
	d := newDetector(t, src)
	d.PollOnce(context.Background())

	sig, ok := d.Latest("ETH")
	if !ok {
		t.Fatalf("expected a signal")
	}
	if sig.HasZScore {
		t.Fatalf("single observation must not carry a z-score")
	}
	if sig.Anomaly {
		t.Fatalf("insufficient history must not be an anomaly")
	}
}

func TestConstantFundingNeverAnomalous(t *testing.T) {
	src := &stubSource{}
	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1000})
	d := newDetector(t, src)
	for i := 0; i < 20; i++ {
		d.PollOnce(context.Background())
		time.Sleep(time.Millisecond) // strictly increasing observation timestamps
	}
	sig, _ := d.Latest("ETH")
	if sig.HasZScore {
		t.Fatalf("flat history has zero spread, must report no z-score")
	}
	if sig.Anomaly {
		t.Fatalf("flat history must never be an anomaly")
	}
}

func TestFundingSpikeFlagsAnomaly(t *testing.T) {
	src := &stubSource{}
	d := newDetector(t, src)
	rates := []float64{0.0001, 0.00012, 0.00009, 0.00011, 0.0001}
	for _, r := range rates {
		src.set("ETH", Context{FundingRate: r, OpenInterest: 1000})
		d.PollOnce(context.Background())
		time.Sleep(time.Millisecond)
	}
	src.set("ETH", Context{FundingRate: 0.01, OpenInterest: 1000})
	d.PollOnce(context.Background())

	sig, _ := d.Latest("ETH")
	if !sig.HasZScore {
		t.Fatalf("expected a z-score after %d observations", len(rates)+1)
	}
	if sig.ZScore <= 2.0 {
		t.Fatalf("z-score = %f, want > 2 for a 100x spike", sig.ZScore)
	}
	if !sig.Anomaly {
		t.Fatalf("spike must be flagged as anomaly")
	}
}

func TestOIJumpFlagsAnomaly(t *testing.T) {
	src := &stubSource{}
	d := newDetector(t, src)
	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1000})
	d.PollOnce(context.Background())
	time.Sleep(time.Millisecond)

	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1500})
	d.PollOnce(context.Background())

	sig, _ := d.Latest("ETH")
	if math.Abs(sig.OIChangePct-50) > 1e-9 {
		t.Fatalf("oi change = %f, want 50", sig.OIChangePct)
	}
	if !sig.Anomaly {
		t.Fatalf("50%% OI jump must be flagged even without a z-score")
	}
}

func TestAnomalyNotifiesAlerts(t *testing.T) {
	mock := alert.NewMockChannel("mock")
	src := &stubSource{}
	d, err := NewDetector(Config{
		Coins:        []string{"ETH"},
		PollInterval: time.Hour,
		Alerts:       alert.NewManager([]alert.Channel{mock}, time.Minute),
	}, src, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1000})
	d.PollOnce(context.Background())
	if mock.Count() != 0 {
		t.Fatalf("first poll must not alert, got %d", mock.Count())
	}
	time.Sleep(time.Millisecond)

	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1500})
	d.PollOnce(context.Background())

	if mock.Count() != 1 {
		t.Fatalf("OI jump must alert once, got %d", mock.Count())
	}
	got := mock.GetAlerts()[0]
	if got.Level != "WARNING" {
		t.Errorf("level = %s, want WARNING", got.Level)
	}
	if !strings.Contains(got.Message, "ETH") {
		t.Errorf("message = %q, want the coin named", got.Message)
	}
}

func TestSourceFailureKeepsLastSignal(t *testing.T) {
	src := &stubSource{}
	src.set("ETH", Context{FundingRate: 0.0001, OpenInterest: 1000})
	d := newDetector(t, src)
	d.PollOnce(context.Background())

	src.mu.Lock()
	src.err = errors.New("source unavailable")
	src.mu.Unlock()
	d.PollOnce(context.Background())

	if _, ok := d.Latest("ETH"); !ok {
		t.Fatalf("failed poll must not discard the last signal")
	}
	if d.PollErrors() != 1 {
		t.Fatalf("poll errors = %d, want 1", d.PollErrors())
	}
}

func TestMalformedRateDropped(t *testing.T) {
	src := &stubSource{}
	src.set("ETH", Context{FundingRate: math.NaN(), OpenInterest: 1000})
	d := newDetector(t, src)
	d.PollOnce(context.Background())
	if _, ok := d.Latest("ETH"); ok {
		t.Fatalf("NaN funding rate must be dropped, not published")
	}
}
