package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"hyperliquid-signals-go/market"
)

// ErrNonTradeMessage marks feed frames that are not trade batches
// (subscription acks, pongs, other channels).
var ErrNonTradeMessage = errors.New("non-trade message")

// envelope is the feed's outer frame.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// wsTrade is one raw trade print from the trades channel.
type wsTrade struct {
	Coin string      `json:"coin"`
	Side string      `json:"side"`
	Px   stringFloat `json:"px"`
	Sz   stringFloat `json:"sz"`
	Time int64       `json:"time"` // epoch millis
	Hash string      `json:"hash"`
	Tid  int64       `json:"tid"`
}

// ParseTrades decodes one feed frame into trade events. Frames from
// other channels return ErrNonTradeMessage. Individual prints that fail
// validation are skipped and counted in dropped rather than failing the
// whole batch.
func ParseTrades(raw []byte) (events []market.TradeEvent, dropped int, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, err
	}
	if env.Channel != "trades" {
		return nil, 0, ErrNonTradeMessage
	}
	var trades []wsTrade
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return nil, 0, err
	}

	events = make([]market.TradeEvent, 0, len(trades))
	for _, t := range trades {
		ev := market.NewTradeEvent(
			t.Coin,
			float64(t.Px),
			float64(t.Sz),
			normalizeSide(t.Side),
			time.UnixMilli(t.Time),
		)
		if !ev.Valid() {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped, nil
}

// normalizeSide maps the feed's side markers onto B/S. The feed uses
// "B" for taker buys and "A" (ask) for taker sells.
func normalizeSide(s string) market.Side {
	if len(s) > 0 && (s[0] == 'B' || s[0] == 'b') {
		return market.Buy
	}
	return market.Sell
}
