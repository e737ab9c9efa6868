// Package signal fuses order-flow, whale-consensus, vault-sentiment and
// funding-anomaly components into one composite score per coin.
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Recommendation is the categorical read of a composite score.
type Recommendation string

const (
	StrongLong  Recommendation = "STRONG_LONG"
	LeanLong    Recommendation = "LEAN_LONG"
	Neutral     Recommendation = "NEUTRAL"
	LeanShort   Recommendation = "LEAN_SHORT"
	StrongShort Recommendation = "STRONG_SHORT"
)

// Component names used in score and weight maps.
const (
	ComponentOrderflow = "orderflow"
	ComponentWhales    = "whales"
	ComponentHLP       = "hlp"
	ComponentFunding   = "funding"
)

// Weights assigns fusion weight to each component. Must sum to 1.
type Weights struct {
	Orderflow float64 `yaml:"orderflow"`
	Whales    float64 `yaml:"whales"`
	HLP       float64 `yaml:"hlp"`
	Funding   float64 `yaml:"funding"`
}

// DefaultWeights mirrors the production defaults.
func DefaultWeights() Weights {
	return Weights{Orderflow: 0.3, Whales: 0.25, HLP: 0.25, Funding: 0.2}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Orderflow + w.Whales + w.HLP + w.Funding
}

// Validate requires the weights to be non-negative and sum to 1.
func (w Weights) Validate() error {
	if w.Orderflow < 0 || w.Whales < 0 || w.HLP < 0 || w.Funding < 0 {
		return errors.New("weights must be >= 0")
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0, got %f", w.Sum())
	}
	return nil
}

// Normalized scales the weights so they sum to 1. Errors when all zero.
func (w Weights) Normalized() (Weights, error) {
	sum := w.Sum()
	if sum <= 0 {
		return Weights{}, errors.New("weights sum must be > 0")
	}
	return Weights{
		Orderflow: w.Orderflow / sum,
		Whales:    w.Whales / sum,
		HLP:       w.HLP / sum,
		Funding:   w.Funding / sum,
	}, nil
}

// Composite is one fusion result. Published once per cycle per coin and
// never mutated afterwards.
type Composite struct {
	Coin           string
	Scores         map[string]float64 // component -> score in [-1, 1]
	Weights        map[string]float64 // effective (renormalized) weights
	Score          float64
	Recommendation Recommendation
	Ts             time.Time
}

// Flatten renders the composite as a flat key/value record. Scores stay
// floats, the timestamp is RFC3339Nano, and the recommendation is its
// fixed token; the record round-trips losslessly through JSON.
func (c Composite) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"coin":           c.Coin,
		"score":          c.Score,
		"recommendation": string(c.Recommendation),
		"ts":             c.Ts.UTC().Format(time.RFC3339Nano),
	}
	for name, score := range c.Scores {
		out["score_"+name] = score
	}
	for name, weight := range c.Weights {
		out["weight_"+name] = weight
	}
	return out
}

// ContrarianScore maps a z-score to a directional score for the opposite
// side: -sign(z) * min(|z|/threshold, 1). An extreme reading one way is
// scored as a signal for the reversal.
func ContrarianScore(z, threshold float64) float64 {
	if threshold <= 0 || z == 0 {
		return 0
	}
	magnitude := math.Min(math.Abs(z)/threshold, 1)
	if z > 0 {
		return -magnitude
	}
	return magnitude
}

// Recommend buckets a composite score using symmetric thresholds.
func Recommend(score, lean, strong float64) Recommendation {
	switch {
	case score >= strong:
		return StrongLong
	case score >= lean:
		return LeanLong
	case score <= -strong:
		return StrongShort
	case score <= -lean:
		return LeanShort
	default:
		return Neutral
	}
}
