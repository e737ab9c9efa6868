// Package funding polls per-coin funding rate and open interest and flags
// anomalies against a rolling z-score history.
package funding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hyperliquid-signals-go/infrastructure/alert"
	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/metrics"
	"hyperliquid-signals-go/stats"
)

// Context is one coin's perp context from the snapshot source.
type Context struct {
	FundingRate  float64
	OpenInterest float64
}

// Source pulls the latest perp contexts for all coins.
// Implemented by the gateway REST client.
type Source interface {
	AssetContexts(ctx context.Context) (map[string]Context, error)
}

// Signal is the published funding view for one coin.
// HasZScore is false while the history is too short or flat; that is
// "no signal", not a zero anomaly.
type Signal struct {
	Coin         string
	Rate         float64
	ZScore       float64
	HasZScore    bool
	OpenInterest float64
	OIChangePct  float64
	Anomaly      bool
	Ts           time.Time
}

// Config configures the detector.
type Config struct {
	Coins            []string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	Retention        time.Duration // z-score history retention, default 7d
	AnomalyThreshold float64       // default 2.0
	OIJumpPct        float64       // open-interest jump percent also flagged, default 20
	MinSamples       int           // minimum history before a z-score, default 2
	Alerts           *alert.Manager // optional, notified when an anomaly trips
}

// Detector polls the source on a timer and keeps the latest Signal per coin.
type Detector struct {
	cfg     Config
	source  Source
	zscores *stats.ZScoreTracker
	log     *logger.Logger

	mu     sync.RWMutex
	latest map[string]Signal
	lastOI map[string]float64

	pollErrors atomic.Uint64

	startMu  sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewDetector validates the config and builds a detector.
func NewDetector(cfg Config, source Source, log *logger.Logger) (*Detector, error) {
	if source == nil {
		return nil, errors.New("source is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if len(cfg.Coins) == 0 {
		return nil, errors.New("at least one coin is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0, got %s", cfg.PollInterval)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 2.0
	}
	if cfg.OIJumpPct <= 0 {
		cfg.OIJumpPct = 20.0
	}
	var opts []stats.Option
	if cfg.MinSamples > 0 {
		opts = append(opts, stats.WithMinSamples(cfg.MinSamples))
	}
	zs, err := stats.NewZScoreTracker(cfg.Retention, cfg.AnomalyThreshold, opts...)
	if err != nil {
		return nil, fmt.Errorf("build z-score tracker: %w", err)
	}
	return &Detector{
		cfg:      cfg,
		source:   source,
		zscores:  zs,
		log:      log,
		latest:   make(map[string]Signal),
		lastOI:   make(map[string]float64),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the poll loop.
func (d *Detector) Start(ctx context.Context) error {
	d.startMu.Lock()
	if d.started {
		d.startMu.Unlock()
		return errors.New("detector already started")
	}
	select {
	case <-d.stopChan:
		d.stopChan = make(chan struct{})
		d.doneChan = make(chan struct{})
	default:
	}
	d.started = true
	d.startMu.Unlock()

	d.log.Info("funding detector starting",
		zap.Strings("coins", d.cfg.Coins),
		zap.Duration("poll_interval", d.cfg.PollInterval))

	go d.run(ctx)
	return nil
}

// Stop signals the poll loop and waits for it to drain.
func (d *Detector) Stop() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started {
		return
	}
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	<-d.doneChan
	d.started = false
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.doneChan)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.PollOnce(ctx)
		}
	}
}

// PollOnce fetches the contexts once and updates the per-coin signals.
// A failing source leaves the previous signals in place.
func (d *Detector) PollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	ctxs, err := d.source.AssetContexts(reqCtx)
	cancel()
	if err != nil {
		d.pollErrors.Add(1)
		metrics.IncrementPollError("funding")
		d.log.Warn("funding poll failed", zap.Error(err))
		return
	}
	now := time.Now()
	for _, coin := range d.cfg.Coins {
		pc, ok := ctxs[coin]
		if !ok {
			continue
		}
		if math.IsNaN(pc.FundingRate) || math.IsInf(pc.FundingRate, 0) {
			d.log.Warn("dropping malformed funding rate",
				zap.String("coin", coin), zap.Float64("rate", pc.FundingRate))
			continue
		}
		key := "funding:" + coin
		if err := d.zscores.Observe(key, pc.FundingRate, now); err != nil {
			d.log.Warn("funding observation rejected",
				zap.String("coin", coin), zap.Error(err))
			continue
		}
		z, hasZ := d.zscores.ZScore(key)
		if hasZ {
			metrics.FundingZScore.WithLabelValues(coin).Set(z)
		}

		d.mu.Lock()
		oiChangePct := 0.0
		if prev, ok := d.lastOI[coin]; ok && prev != 0 {
			oiChangePct = (pc.OpenInterest - prev) / prev * 100.0
		}
		d.lastOI[coin] = pc.OpenInterest
		anomaly := (hasZ && math.Abs(z) >= d.cfg.AnomalyThreshold) ||
			math.Abs(oiChangePct) >= d.cfg.OIJumpPct
		d.latest[coin] = Signal{
			Coin:         coin,
			Rate:         pc.FundingRate,
			ZScore:       z,
			HasZScore:    hasZ,
			OpenInterest: pc.OpenInterest,
			OIChangePct:  oiChangePct,
			Anomaly:      anomaly,
			Ts:           now,
		}
		d.mu.Unlock()

		if anomaly {
			d.log.LogSignal("funding_anomaly", coin, map[string]interface{}{
				"rate":          pc.FundingRate,
				"zscore":        z,
				"oi_change_pct": oiChangePct,
			})
			if d.cfg.Alerts != nil {
				_ = d.cfg.Alerts.SendWarning(
					fmt.Sprintf("funding anomaly on %s", coin),
					map[string]interface{}{"rate": pc.FundingRate, "zscore": z},
				)
			}
		}
	}
}

// Latest returns the newest signal for coin.
func (d *Detector) Latest(coin string) (Signal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.latest[coin]
	return s, ok
}

// Signals returns the newest signal for every coin that has one.
func (d *Detector) Signals() []Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Signal, 0, len(d.latest))
	for _, coin := range d.cfg.Coins {
		if s, ok := d.latest[coin]; ok {
			out = append(out, s)
		}
	}
	return out
}

// PollErrors returns the count of failed polls.
func (d *Detector) PollErrors() uint64 { return d.pollErrors.Load() }
