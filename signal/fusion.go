package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hyperliquid-signals-go/funding"
	"hyperliquid-signals-go/infrastructure/alert"
	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/market"
	"hyperliquid-signals-go/metrics"
	"hyperliquid-signals-go/vault"
)

// OrderflowSource answers window queries. Implemented by market.WindowAggregator.
type OrderflowSource interface {
	Query(coin string, window time.Duration) (market.ImbalanceSnapshot, error)
	ShortestWindow() time.Duration
}

// WhaleSource answers consensus queries. Implemented by whales.Tracker.
type WhaleSource interface {
	Consensus(coin string) (longPct, shortPct float64)
}

// VaultSource provides the latest vault signal. Implemented by vault.Sentiment.
type VaultSource interface {
	Latest(coin string) (vault.Signal, bool)
}

// FundingSource provides the latest funding signal. Implemented by funding.Detector.
type FundingSource interface {
	Latest(coin string) (funding.Signal, bool)
}

// Config configures the fusion engine.
type Config struct {
	Coins           []string
	Interval        time.Duration // fusion cadence
	Weights         Weights
	LeanThreshold   float64 // default 0.2
	StrongThreshold float64 // default 0.6
	ZThreshold      float64 // z-score magnitude mapping to full contrarian score, default 2.0
}

// Components are the engine's read-only inputs. Alerts is optional.
type Components struct {
	Orderflow OrderflowSource
	Whales    WhaleSource
	Vault     VaultSource
	Funding   FundingSource
	Logger    *logger.Logger
	Alerts    *alert.Manager
}

// FusionEngine recomputes one composite per tracked coin on a fixed
// cadence. Each cycle reads consistent snapshots from its sources,
// renormalizes weights over the components that actually have data, and
// swaps the published results atomically. It owns no producer state.
type FusionEngine struct {
	cfg   Config
	comps Components

	mu     sync.RWMutex
	latest map[string]Composite

	cycles atomic.Uint64

	startMu  sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// New validates the config and components and builds the engine.
// Weight and threshold mistakes are construction-time failures.
func New(cfg Config, comps Components) (*FusionEngine, error) {
	if len(cfg.Coins) == 0 {
		return nil, errors.New("at least one coin is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("fusion interval must be > 0, got %s", cfg.Interval)
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	if cfg.LeanThreshold == 0 {
		cfg.LeanThreshold = 0.2
	}
	if cfg.StrongThreshold == 0 {
		cfg.StrongThreshold = 0.6
	}
	if cfg.LeanThreshold <= 0 || cfg.StrongThreshold <= cfg.LeanThreshold || cfg.StrongThreshold > 1 {
		return nil, fmt.Errorf("thresholds must satisfy 0 < lean < strong <= 1, got lean=%f strong=%f",
			cfg.LeanThreshold, cfg.StrongThreshold)
	}
	if cfg.ZThreshold == 0 {
		cfg.ZThreshold = 2.0
	}
	if cfg.ZThreshold < 0 {
		return nil, fmt.Errorf("z threshold must be > 0, got %f", cfg.ZThreshold)
	}
	if comps.Orderflow == nil || comps.Whales == nil || comps.Vault == nil || comps.Funding == nil {
		return nil, errors.New("all four signal sources are required")
	}
	if comps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &FusionEngine{
		cfg:      cfg,
		comps:    comps,
		latest:   make(map[string]Composite),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the fusion loop.
func (e *FusionEngine) Start(ctx context.Context) error {
	e.startMu.Lock()
	if e.started {
		e.startMu.Unlock()
		return errors.New("fusion engine already started")
	}
	select {
	case <-e.stopChan:
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	default:
	}
	e.started = true
	e.startMu.Unlock()

	e.comps.Logger.Info("fusion engine starting",
		zap.Strings("coins", e.cfg.Coins),
		zap.Duration("interval", e.cfg.Interval))

	go e.run(ctx)
	return nil
}

// Stop signals the loop and waits for the in-flight cycle to finish.
func (e *FusionEngine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.started {
		return
	}
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	<-e.doneChan
	e.started = false
}

func (e *FusionEngine) run(ctx context.Context) {
	defer close(e.doneChan)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.RunCycle(time.Now())
		}
	}
}

// RunCycle computes a fresh composite for every coin and publishes the
// whole set in one swap, so readers never see a half-updated cycle.
func (e *FusionEngine) RunCycle(now time.Time) {
	cycleStart := time.Now()
	defer func() {
		metrics.FusionCycleDuration.Observe(time.Since(cycleStart).Seconds())
	}()

	next := make(map[string]Composite, len(e.cfg.Coins))
	for _, coin := range e.cfg.Coins {
		next[coin] = e.fuse(coin, now)
	}

	e.mu.Lock()
	e.latest = next
	e.mu.Unlock()
	e.cycles.Add(1)
	metrics.FusionCycles.Inc()

	for _, c := range next {
		metrics.UpdateComposite(c.Coin, c.Score)
		e.comps.Logger.LogSignal("composite", c.Coin, map[string]interface{}{
			"score":          c.Score,
			"recommendation": string(c.Recommendation),
		})
		if e.comps.Alerts != nil && (c.Recommendation == StrongLong || c.Recommendation == StrongShort) {
			_ = e.comps.Alerts.SendWarning(
				fmt.Sprintf("composite %s on %s", c.Recommendation, c.Coin),
				map[string]interface{}{"score": c.Score},
			)
		}
	}
}

// componentScore pairs a score with whether its source had data.
type componentScore struct {
	score     float64
	available bool
}

// fuse computes one coin's composite from the current source snapshots.
//
// A component without data contributes nothing: its weight is removed and
// the remaining weights are renormalized so one dark source cannot drag a
// decisive reading toward neutral. With no components at all the score is
// 0 and the recommendation NEUTRAL.
func (e *FusionEngine) fuse(coin string, now time.Time) Composite {
	parts := map[string]componentScore{
		ComponentOrderflow: e.orderflowScore(coin),
		ComponentWhales:    e.whaleScore(coin),
		ComponentHLP:       e.hlpScore(coin),
		ComponentFunding:   e.fundingScore(coin),
	}
	e.mu.RLock()
	w := e.cfg.Weights
	e.mu.RUnlock()
	base := map[string]float64{
		ComponentOrderflow: w.Orderflow,
		ComponentWhales:    w.Whales,
		ComponentHLP:       w.HLP,
		ComponentFunding:   w.Funding,
	}

	weightSum := 0.0
	for name, part := range parts {
		if part.available {
			weightSum += base[name]
		}
	}

	scores := make(map[string]float64, len(parts))
	effective := make(map[string]float64, len(parts))
	composite := 0.0
	for name, part := range parts {
		scores[name] = part.score
		if part.available && weightSum > 0 {
			w := base[name] / weightSum
			effective[name] = w
			composite += w * part.score
		} else {
			effective[name] = 0
		}
	}

	return Composite{
		Coin:           coin,
		Scores:         scores,
		Weights:        effective,
		Score:          composite,
		Recommendation: Recommend(composite, e.cfg.LeanThreshold, e.cfg.StrongThreshold),
		Ts:             now,
	}
}

// orderflowScore is the imbalance at the shortest window, used directly
// as a directional score. A clean query counts as available even with an
// empty window; only a failed source is missing data.
func (e *FusionEngine) orderflowScore(coin string) componentScore {
	window := e.comps.Orderflow.ShortestWindow()
	snap, err := e.comps.Orderflow.Query(coin, window)
	if err != nil {
		e.comps.Logger.Warn("orderflow unavailable",
			zap.String("coin", coin), zap.Error(err))
		return componentScore{}
	}
	metrics.UpdateOrderflow(coin, window.String(), snap.Imbalance)
	return componentScore{score: snap.Imbalance, available: true}
}

// whaleScore is long% minus short%. A cohort with no positioned accounts
// reads (0, 0), which is "no data", not a neutral stance.
func (e *FusionEngine) whaleScore(coin string) componentScore {
	longPct, shortPct := e.comps.Whales.Consensus(coin)
	if longPct == 0 && shortPct == 0 {
		return componentScore{}
	}
	return componentScore{score: longPct - shortPct, available: true}
}

// hlpScore is contrarian on the vault-exposure z-score.
func (e *FusionEngine) hlpScore(coin string) componentScore {
	sig, ok := e.comps.Vault.Latest(coin)
	if !ok || !sig.HasZScore {
		return componentScore{}
	}
	return componentScore{score: ContrarianScore(sig.ZScore, e.cfg.ZThreshold), available: true}
}

// fundingScore is contrarian on the funding-rate z-score.
func (e *FusionEngine) fundingScore(coin string) componentScore {
	sig, ok := e.comps.Funding.Latest(coin)
	if !ok || !sig.HasZScore {
		return componentScore{}
	}
	return componentScore{score: ContrarianScore(sig.ZScore, e.cfg.ZThreshold), available: true}
}

// UpdateWeights swaps the fusion weights at runtime, used by config hot
// reload. Invalid weights are rejected and the current set stays.
func (e *FusionEngine) UpdateWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Weights = w
	e.mu.Unlock()
	e.comps.Logger.Info("fusion weights updated",
		zap.Float64("orderflow", w.Orderflow),
		zap.Float64("whales", w.Whales),
		zap.Float64("hlp", w.HLP),
		zap.Float64("funding", w.Funding))
	return nil
}

// Latest returns the most recently published composite for coin.
func (e *FusionEngine) Latest(coin string) (Composite, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.latest[coin]
	return c, ok
}

// All returns the most recently published composites, in coin order.
func (e *FusionEngine) All() []Composite {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Composite, 0, len(e.latest))
	for _, coin := range e.cfg.Coins {
		if c, ok := e.latest[coin]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Cycles returns the number of completed fusion cycles.
func (e *FusionEngine) Cycles() uint64 { return e.cycles.Load() }
