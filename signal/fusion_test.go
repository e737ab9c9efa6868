package signal

import (
	"context"
	"math"
	"testing"
	"time"

	"hyperliquid-signals-go/funding"
	"hyperliquid-signals-go/infrastructure/alert"
	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/market"
	"hyperliquid-signals-go/vault"
)

type stubOrderflow struct {
	snap map[string]market.ImbalanceSnapshot
	err  error
}

func (s *stubOrderflow) Query(coin string, window time.Duration) (market.ImbalanceSnapshot, error) {
	if s.err != nil {
		return market.ImbalanceSnapshot{}, s.err
	}
	return s.snap[coin], nil
}

func (s *stubOrderflow) ShortestWindow() time.Duration { return 5 * time.Minute }

type stubWhales struct {
	long, short map[string]float64
}

func (s *stubWhales) Consensus(coin string) (float64, float64) {
	return s.long[coin], s.short[coin]
}

type stubVault struct {
	signals map[string]vault.Signal
}

func (s *stubVault) Latest(coin string) (vault.Signal, bool) {
	sig, ok := s.signals[coin]
	return sig, ok
}

type stubFunding struct {
	signals map[string]funding.Signal
}

func (s *stubFunding) Latest(coin string) (funding.Signal, bool) {
	sig, ok := s.signals[coin]
	return sig, ok
}

func allSources() Components {
	return Components{
		Orderflow: &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{}},
		Whales:    &stubWhales{long: map[string]float64{}, short: map[string]float64{}},
		Vault:     &stubVault{signals: map[string]vault.Signal{}},
		Funding:   &stubFunding{signals: map[string]funding.Signal{}},
		Logger:    logger.Nop(),
	}
}

func testConfig() Config {
	return Config{
		Coins:    []string{"ETH"},
		Interval: time.Second,
		Weights:  DefaultWeights(),
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config, *Components)
	}{
		{"no coins", func(c *Config, _ *Components) { c.Coins = nil }},
		{"zero interval", func(c *Config, _ *Components) { c.Interval = 0 }},
		{"bad weights", func(c *Config, _ *Components) { c.Weights = Weights{Orderflow: 1, Whales: 1} }},
		{"inverted thresholds", func(c *Config, _ *Components) { c.LeanThreshold = 0.7; c.StrongThreshold = 0.3 }},
		{"missing source", func(_ *Config, comps *Components) { comps.Whales = nil }},
		{"missing logger", func(_ *Config, comps *Components) { comps.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			comps := allSources()
			tt.mutate(&cfg, &comps)
			if _, err := New(cfg, comps); err == nil {
				t.Error("expected construction error")
			}
		})
	}
}

func TestFuseAllComponents(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 0.8},
	}}
	comps.Whales = &stubWhales{
		long:  map[string]float64{"ETH": 0.75},
		short: map[string]float64{"ETH": 0.25},
	}
	// z = 0.4 flips to -0.2; z = -0.2 flips to +0.1 at threshold 2.
	comps.Vault = &stubVault{signals: map[string]vault.Signal{
		"ETH": {Coin: "ETH", ZScore: 0.4, HasZScore: true},
	}}
	comps.Funding = &stubFunding{signals: map[string]funding.Signal{
		"ETH": {Coin: "ETH", ZScore: -0.2, HasZScore: true},
	}}

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := e.fuse("ETH", time.Now())

	// 0.3*0.8 + 0.25*0.5 + 0.25*(-0.2) + 0.2*0.1 = 0.335
	if math.Abs(c.Score-0.335) > 1e-9 {
		t.Errorf("Score = %f, want 0.335", c.Score)
	}
	if c.Recommendation != LeanLong {
		t.Errorf("Recommendation = %s, want LEAN_LONG", c.Recommendation)
	}
	for name, want := range map[string]float64{
		ComponentOrderflow: 0.3,
		ComponentWhales:    0.25,
		ComponentHLP:       0.25,
		ComponentFunding:   0.2,
	} {
		if math.Abs(c.Weights[name]-want) > 1e-9 {
			t.Errorf("weight %s = %f, want %f", name, c.Weights[name], want)
		}
	}
}

func TestFuseRenormalizesMissingComponent(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 0.4},
	}}
	comps.Whales = &stubWhales{
		long:  map[string]float64{"ETH": 1.0},
		short: map[string]float64{"ETH": 0},
	}
	comps.Vault = &stubVault{signals: map[string]vault.Signal{
		"ETH": {Coin: "ETH", ZScore: 1.0, HasZScore: true},
	}}
	// Funding has no z-score yet: its weight is redistributed.
	comps.Funding = &stubFunding{signals: map[string]funding.Signal{
		"ETH": {Coin: "ETH", HasZScore: false},
	}}

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := e.fuse("ETH", time.Now())

	// Remaining weights 0.3/0.25/0.25 over a 0.8 sum.
	for name, want := range map[string]float64{
		ComponentOrderflow: 0.375,
		ComponentWhales:    0.3125,
		ComponentHLP:       0.3125,
		ComponentFunding:   0,
	} {
		if math.Abs(c.Weights[name]-want) > 1e-9 {
			t.Errorf("weight %s = %f, want %f", name, c.Weights[name], want)
		}
	}
	want := 0.375*0.4 + 0.3125*1.0 + 0.3125*(-0.5)
	if math.Abs(c.Score-want) > 1e-9 {
		t.Errorf("Score = %f, want %f", c.Score, want)
	}
}

func TestFuseNoComponentsIsNeutral(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{err: market.ErrUntrackedCoin}

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := e.fuse("ETH", time.Now())

	if c.Score != 0 {
		t.Errorf("Score = %f, want 0", c.Score)
	}
	if c.Recommendation != Neutral {
		t.Errorf("Recommendation = %s, want NEUTRAL", c.Recommendation)
	}
	for name, w := range c.Weights {
		if w != 0 {
			t.Errorf("weight %s = %f, want 0", name, w)
		}
	}
}

func TestFuseUnpositionedWhalesUnavailable(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 1.0},
	}}
	// (0, 0) consensus means no positioned accounts, not a flat stance.

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := e.fuse("ETH", time.Now())

	if math.Abs(c.Weights[ComponentOrderflow]-1.0) > 1e-9 {
		t.Errorf("orderflow weight = %f, want 1.0", c.Weights[ComponentOrderflow])
	}
	if c.Weights[ComponentWhales] != 0 {
		t.Errorf("whales weight = %f, want 0", c.Weights[ComponentWhales])
	}
	if math.Abs(c.Score-1.0) > 1e-9 {
		t.Errorf("Score = %f, want 1.0", c.Score)
	}
}

func TestRunCyclePublishesAtomically(t *testing.T) {
	cfg := testConfig()
	cfg.Coins = []string{"ETH", "SOL"}
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 0.5},
		"SOL": {Coin: "SOL", Imbalance: -0.5},
	}}

	e, err := New(cfg, comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok := e.Latest("ETH"); ok {
		t.Error("no composite expected before the first cycle")
	}

	e.RunCycle(time.Now())

	if e.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", e.Cycles())
	}
	all := e.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d composites, want 2", len(all))
	}
	if all[0].Coin != "ETH" || all[1].Coin != "SOL" {
		t.Errorf("All() order = [%s, %s], want [ETH, SOL]", all[0].Coin, all[1].Coin)
	}
	eth, ok := e.Latest("ETH")
	if !ok {
		t.Fatal("ETH composite missing after cycle")
	}
	if math.Abs(eth.Score-0.5) > 1e-9 {
		t.Errorf("ETH score = %f, want 0.5", eth.Score)
	}
}

func TestRunCycleAlertsOnStrongSignal(t *testing.T) {
	mock := alert.NewMockChannel("mock")
	comps := allSources()
	comps.Alerts = alert.NewManager([]alert.Channel{mock}, time.Minute)
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 0.9},
	}}

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.RunCycle(time.Now())

	if mock.Count() != 1 {
		t.Fatalf("alert count = %d, want 1", mock.Count())
	}
	got := mock.GetAlerts()[0]
	if got.Level != "WARNING" {
		t.Errorf("alert level = %s, want WARNING", got.Level)
	}
}

func TestUpdateWeights(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 1.0},
	}}
	comps.Vault = &stubVault{signals: map[string]vault.Signal{
		"ETH": {Coin: "ETH", ZScore: -4, HasZScore: true},
	}}

	e, err := New(testConfig(), comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.UpdateWeights(Weights{Orderflow: 0.9, Whales: 0.2}); err == nil {
		t.Error("invalid weights should be rejected")
	}

	if err := e.UpdateWeights(Weights{Orderflow: 1.0}); err != nil {
		t.Fatalf("UpdateWeights: %v", err)
	}
	c := e.fuse("ETH", time.Now())
	// All weight on orderflow: the vault's +1 contrarian score is ignored.
	if math.Abs(c.Score-1.0) > 1e-9 {
		t.Errorf("Score = %f, want 1.0", c.Score)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	comps := allSources()
	comps.Orderflow = &stubOrderflow{snap: map[string]market.ImbalanceSnapshot{
		"ETH": {Coin: "ETH", Imbalance: 0.1},
	}}
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond

	e, err := New(cfg, comps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	time.Sleep(35 * time.Millisecond)
	e.Stop()
	cycles := e.Cycles()
	if cycles == 0 {
		t.Error("expected at least one cycle while running")
	}

	// Stop is idempotent and the engine restarts cleanly.
	e.Stop()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	e.Stop()
}
