// Package stats provides rolling statistics over bounded metric histories.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrStaleObservation marks an observation whose timestamp does not advance
// the history. Histories require strictly increasing timestamps.
var ErrStaleObservation = errors.New("observation timestamp not after last")

// ErrBadValue marks a NaN/Inf observation rejected at ingestion.
var ErrBadValue = errors.New("non-finite observation value")

type point struct {
	ts    time.Time
	value float64
}

// ZScoreTracker keeps a bounded time series per metric key and computes a
// rolling z-score of the latest value against the retained history.
//
// A z-score is only reported once the history holds at least minSamples
// points and has non-zero spread; otherwise the metric has no signal, which
// is distinct from a zero anomaly.
type ZScoreTracker struct {
	retention  time.Duration
	minSamples int
	threshold  float64
	now        func() time.Time

	mu   sync.RWMutex
	hist map[string][]point
}

// Option tunes a ZScoreTracker.
type Option func(*ZScoreTracker)

// WithMinSamples overrides the minimum history size (default 2).
func WithMinSamples(n int) Option {
	return func(t *ZScoreTracker) {
		if n >= 2 {
			t.minSamples = n
		}
	}
}

// WithNow overrides the query clock, used for retention pruning at read
// time. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(t *ZScoreTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewZScoreTracker builds a tracker with the given retention and anomaly
// threshold. Both must be positive; this is a construction-time failure.
func NewZScoreTracker(retention time.Duration, anomalyThreshold float64, opts ...Option) (*ZScoreTracker, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be > 0, got %s", retention)
	}
	if anomalyThreshold <= 0 {
		return nil, fmt.Errorf("anomaly threshold must be > 0, got %f", anomalyThreshold)
	}
	t := &ZScoreTracker{
		retention:  retention,
		minSamples: 2,
		threshold:  anomalyThreshold,
		now:        time.Now,
		hist:       make(map[string][]point),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Threshold returns the configured anomaly threshold.
func (t *ZScoreTracker) Threshold() float64 { return t.threshold }

// Observe appends a value to the key's history and prunes entries older
// than the retention window.
func (t *ZScoreTracker) Observe(key string, value float64, ts time.Time) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: key=%s value=%v", ErrBadValue, key, value)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	hist := t.hist[key]
	if n := len(hist); n > 0 && !ts.After(hist[n-1].ts) {
		return fmt.Errorf("%w: key=%s ts=%s last=%s", ErrStaleObservation, key, ts, hist[n-1].ts)
	}
	hist = append(hist, point{ts: ts, value: value})
	t.hist[key] = prune(hist, ts.Add(-t.retention))
	return nil
}

// ZScore returns the z-score of the latest observation for key, pruning
// entries older than the retention window against the query clock first.
// ok is false when the retained history is too short or has zero spread.
func (t *ZScoreTracker) ZScore(key string) (z float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hist := prune(t.hist[key], t.now().Add(-t.retention))
	t.hist[key] = hist
	if len(hist) < t.minSamples {
		return 0, false
	}
	mean, std := meanStd(hist)
	if std == 0 {
		return 0, false
	}
	return (hist[len(hist)-1].value - mean) / std, true
}

// IsAnomaly reports whether the latest z-score magnitude reaches the
// threshold. Insufficient history is never an anomaly.
func (t *ZScoreTracker) IsAnomaly(key string) bool {
	z, ok := t.ZScore(key)
	return ok && math.Abs(z) >= t.threshold
}

// Len returns the number of retained points for key.
func (t *ZScoreTracker) Len(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hist[key])
}

// Latest returns the newest retained value for key.
func (t *ZScoreTracker) Latest(key string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hist := t.hist[key]
	if len(hist) == 0 {
		return 0, false
	}
	return hist[len(hist)-1].value, true
}

func prune(hist []point, cutoff time.Time) []point {
	i := 0
	for ; i < len(hist); i++ {
		if !hist[i].ts.Before(cutoff) {
			break
		}
	}
	if i == 0 {
		return hist
	}
	return append(hist[:0], hist[i:]...)
}

// meanStd computes the population mean and standard deviation.
func meanStd(hist []point) (mean, std float64) {
	n := float64(len(hist))
	sum := 0.0
	for _, p := range hist {
		sum += p.value
	}
	mean = sum / n
	ss := 0.0
	for _, p := range hist {
		d := p.value - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / n)
}
