// Package vault tracks the HLP vault's per-coin notional exposure and
// scores it against a rolling z-score history. Heavy vault exposure one
// way is read as crowd positioning, which the fusion layer scores
// contrarian.
package vault

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

// Direction is the sign of the vault's exposure.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Flat  Direction = "FLAT"
)

// Source pulls the vault's positions and current mid prices.
// Implemented by the gateway REST client.
type Source interface {
	VaultPositions(ctx context.Context) (map[string]float64, error)
	Mids(ctx context.Context) (map[string]float64, error)
}

// Signal is the published vault view for one coin.
type Signal struct {
	Coin      string
	Exposure  float64 // signed notional, size * mid
	ZScore    float64
	HasZScore bool
	Direction Direction
	Extreme   bool
	Ts        time.Time
}

// Config configures the sentiment poller.
type Config struct {
	Coins            []string
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	Retention        time.Duration // default 7d
	AnomalyThreshold float64       // default 2.0
	MinSamples       int           // default 2
	Alerts           *alert.Manager // optional, notified when exposure turns extreme
}

// Sentiment polls the vault state on a timer and keeps the latest Signal
// per coin.
type Sentiment struct {
	cfg     Config
	source  Source
	zscores *stats.ZScoreTracker
	log     *logger.Logger

	mu     sync.RWMutex
	latest map[string]Signal

	pollErrors atomic.Uint64

	startMu  sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSentiment validates the config and builds the poller.
func NewSentiment(cfg Config, source Source, log *logger.Logger) (*Sentiment, error) {
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
	var opts []stats.Option
	if cfg.MinSamples > 0 {
		opts = append(opts, stats.WithMinSamples(cfg.MinSamples))
	}
	zs, err := stats.NewZScoreTracker(cfg.Retention, cfg.AnomalyThreshold, opts...)
	if err != nil {
		return nil, fmt.Errorf("build z-score tracker: %w", err)
	}
	return &Sentiment{
		cfg:      cfg,
		source:   source,
		zscores:  zs,
		log:      log,
		latest:   make(map[string]Signal),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start launches the poll loop.
func (s *Sentiment) Start(ctx context.Context) error {
	s.startMu.Lock()
	if s.started {
		s.startMu.Unlock()
		return errors.New("sentiment poller already started")
	}
	select {
	case <-s.stopChan:
		s.stopChan = make(chan struct{})
		s.doneChan = make(chan struct{})
	default:
	}
	s.started = true
	s.startMu.Unlock()

	s.log.Info("vault sentiment starting",
		zap.Strings("coins", s.cfg.Coins),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	go s.run(ctx)
	return nil
}

// Stop signals the poll loop and waits for it to drain.
func (s *Sentiment) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.started {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.doneChan
	s.started = false
}

func (s *Sentiment) run(ctx context.Context) {
	defer close(s.doneChan)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce fetches positions and mids once and updates per-coin signals.
// Any failure leaves the previous signals in place for this cycle.
func (s *Sentiment) PollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	positions, err := s.source.VaultPositions(reqCtx)
	if err != nil {
		s.pollErrors.Add(1)
		metrics.IncrementPollError("vault")
		s.log.Warn("vault positions poll failed", zap.Error(err))
		return
	}
	mids, err := s.source.Mids(reqCtx)
	if err != nil {
		s.pollErrors.Add(1)
		metrics.IncrementPollError("vault")
		s.log.Warn("mids poll failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, coin := range s.cfg.Coins {
		size := positions[coin] // absent means no exposure
		mid := mids[coin]
		exposure := size * mid
		if math.IsNaN(exposure) || math.IsInf(exposure, 0) {
			s.log.Warn("dropping malformed vault exposure",
				zap.String("coin", coin),
				zap.Float64("size", size),
				zap.Float64("mid", mid))
			continue
		}
		key := "hlp:" + coin
		if err := s.zscores.Observe(key, exposure, now); err != nil {
			s.log.Warn("vault observation rejected",
				zap.String("coin", coin), zap.Error(err))
			continue
		}
		z, hasZ := s.zscores.ZScore(key)
		if hasZ {
			metrics.VaultZScore.WithLabelValues(coin).Set(z)
		}

		dir := Flat
		if exposure > 0 {
			dir = Long
		} else if exposure < 0 {
			dir = Short
		}
		extreme := hasZ && math.Abs(z) >= s.cfg.AnomalyThreshold
		s.mu.Lock()
		s.latest[coin] = Signal{
			Coin:      coin,
			Exposure:  exposure,
			ZScore:    z,
			HasZScore: hasZ,
			Direction: dir,
			Extreme:   extreme,
			Ts:        now,
		}
		s.mu.Unlock()

		if extreme {
			s.log.LogSignal("vault_extreme", coin, map[string]interface{}{
				"exposure":  exposure,
				"zscore":    z,
				"direction": string(dir),
			})
			if s.cfg.Alerts != nil {
				_ = s.cfg.Alerts.SendWarning(
					fmt.Sprintf("vault exposure extreme on %s", coin),
					map[string]interface{}{"exposure": exposure, "zscore": z},
				)
			}
		}
	}
}

// Latest returns the newest signal for coin.
func (s *Sentiment) Latest(coin string) (Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.latest[coin]
	return sig, ok
}

// Signals returns the newest signal for every coin that has one.
func (s *Sentiment) Signals() []Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signal, 0, len(s.latest))
	for _, coin := range s.cfg.Coins {
		if sig, ok := s.latest[coin]; ok {
			out = append(out, sig)
		}
	}
	return out
}

// PollErrors returns the count of failed polls.
func (s *Sentiment) PollErrors() uint64 { return s.pollErrors.Load() }
