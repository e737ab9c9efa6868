package market

import (
	"math"
	"time"
)

// Side is the taker side of a trade print.
type Side string

const (
	Buy  Side = "B"
	Sell Side = "S"
)

// TradeEvent is a normalized trade print from the public feed.
// Immutable once created; Notional = Price * Size.
type TradeEvent struct {
	Coin     string
	Price    float64
	Size     float64
	Side     Side
	Notional float64
	Ts       time.Time
}

// NewTradeEvent builds a TradeEvent with the notional precomputed.
func NewTradeEvent(coin string, price, size float64, side Side, ts time.Time) TradeEvent {
	return TradeEvent{
		Coin:     coin,
		Price:    price,
		Size:     size,
		Side:     side,
		Notional: price * size,
		Ts:       ts,
	}
}

// Valid reports whether the event is well-formed enough to enter a window.
// Rejects NaN/Inf prices, non-positive sizes and unknown sides.
func (t TradeEvent) Valid() bool {
	if t.Coin == "" {
		return false
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return false
	}
	if math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size <= 0 {
		return false
	}
	if t.Side != Buy && t.Side != Sell {
		return false
	}
	return !t.Ts.IsZero()
}
