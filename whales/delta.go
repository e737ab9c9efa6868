// Package whales tracks a cohort of large accounts: position snapshots,
// per-account position deltas, and long/short consensus per coin.
package whales

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DeltaKind classifies a position change between two snapshots.
type DeltaKind string

const (
	Opened    DeltaKind = "OPENED"
	Increased DeltaKind = "INCREASED"
	Decreased DeltaKind = "DECREASED"
	Closed    DeltaKind = "CLOSED"
)

// PositionDelta describes one classified change for (account, coin).
type PositionDelta struct {
	Account  string
	Coin     string
	Kind     DeltaKind
	PrevSize float64
	NewSize  float64
	Ts       time.Time
}

// DeltaDetector compares successive position snapshots per account.
// The new snapshot supersedes the stored one; nothing is merged.
type DeltaDetector struct {
	mu   sync.Mutex
	last map[string]map[string]float64
}

func NewDeltaDetector() *DeltaDetector {
	return &DeltaDetector{last: make(map[string]map[string]float64)}
}

// Update classifies the changes between the stored snapshot for account and
// the new one, then replaces the stored snapshot. A sign flip emits CLOSED
// followed by OPENED so a full reversal never masquerades as a reduction.
// Coins absent from the new snapshot are treated as size 0. Non-finite
// sizes are dropped from the snapshot.
func (d *DeltaDetector) Update(account string, positions map[string]float64, ts time.Time) []PositionDelta {
	clean := make(map[string]float64, len(positions))
	for coin, size := range positions {
		if coin == "" || math.IsNaN(size) || math.IsInf(size, 0) {
			continue
		}
		clean[coin] = size
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.last[account]

	coins := make(map[string]struct{}, len(prev)+len(clean))
	for coin := range prev {
		coins[coin] = struct{}{}
	}
	for coin := range clean {
		coins[coin] = struct{}{}
	}
	ordered := make([]string, 0, len(coins))
	for coin := range coins {
		ordered = append(ordered, coin)
	}
	sort.Strings(ordered)

	var deltas []PositionDelta
	for _, coin := range ordered {
		prevSize := prev[coin]
		newSize := clean[coin]
		deltas = append(deltas, classify(account, coin, prevSize, newSize, ts)...)
	}

	d.last[account] = clean
	return deltas
}

// Snapshot returns a copy of the stored positions for account.
func (d *DeltaDetector) Snapshot(account string) map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[account]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(prev))
	for coin, size := range prev {
		out[coin] = size
	}
	return out
}

// Size returns the stored size for (account, coin), 0 when absent.
func (d *DeltaDetector) Size(account, coin string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[account][coin]
}

func classify(account, coin string, prevSize, newSize float64, ts time.Time) []PositionDelta {
	switch {
	case prevSize == newSize:
		return nil
	case prevSize == 0:
		return []PositionDelta{{Account: account, Coin: coin, Kind: Opened, PrevSize: 0, NewSize: newSize, Ts: ts}}
	case newSize == 0:
		return []PositionDelta{{Account: account, Coin: coin, Kind: Closed, PrevSize: prevSize, NewSize: 0, Ts: ts}}
	case prevSize*newSize < 0:
		// Sign flip: close out the old side, open the new one.
		return []PositionDelta{
			{Account: account, Coin: coin, Kind: Closed, PrevSize: prevSize, NewSize: 0, Ts: ts},
			{Account: account, Coin: coin, Kind: Opened, PrevSize: 0, NewSize: newSize, Ts: ts},
		}
	case math.Abs(newSize) > math.Abs(prevSize):
		return []PositionDelta{{Account: account, Coin: coin, Kind: Increased, PrevSize: prevSize, NewSize: newSize, Ts: ts}}
	default:
		return []PositionDelta{{Account: account, Coin: coin, Kind: Decreased, PrevSize: prevSize, NewSize: newSize, Ts: ts}}
	}
}
