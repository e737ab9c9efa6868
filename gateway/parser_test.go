package gateway

import (
	"errors"
	"testing"
	"time"

	"hyperliquid-signals-go/market"
)

func TestParseTrades(t *testing.T) {
	raw := []byte(`{
		"channel": "trades",
		"data": [
			{"coin":"ETH","side":"B","px":"2500.5","sz":"10.0","time":1700000000000,"tid":1},
			{"coin":"SOL","side":"A","px":"150.25","sz":"4","time":1700000000500,"tid":2}
		]
	}`)

	events, dropped, err := ParseTrades(raw)
	if err != nil {
		t.Fatalf("ParseTrades: %v", err)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	eth := events[0]
	if eth.Coin != "ETH" || eth.Side != market.Buy {
		t.Errorf("first event = %+v", eth)
	}
	if eth.Price != 2500.5 || eth.Size != 10.0 {
		t.Errorf("price/size = %f/%f", eth.Price, eth.Size)
	}
	if eth.Notional != 25005.0 {
		t.Errorf("notional = %f, want 25005", eth.Notional)
	}
	if !eth.Ts.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("ts = %s", eth.Ts)
	}

	if events[1].Side != market.Sell {
		t.Errorf("ask side should map to sell, got %s", events[1].Side)
	}
}

func TestParseTradesDropsMalformed(t *testing.T) {
	raw := []byte(`{
		"channel": "trades",
		"data": [
			{"coin":"ETH","side":"B","px":"2500.5","sz":"10.0","time":1700000000000},
			{"coin":"ETH","side":"B","px":"0","sz":"1","time":1700000000000},
			{"coin":"ETH","side":"X","px":"2500","sz":"1","time":1700000000000},
			{"coin":"","side":"B","px":"2500","sz":"1","time":1700000000000}
		]
	}`)

	events, dropped, err := ParseTrades(raw)
	if err != nil {
		t.Fatalf("ParseTrades: %v", err)
	}
	// "X" normalizes to sell; only the zero price and empty coin fall out.
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestParseTradesNonTradeChannel(t *testing.T) {
	for _, raw := range []string{
		`{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`,
		`{"channel":"pong"}`,
	} {
		_, _, err := ParseTrades([]byte(raw))
		if !errors.Is(err, ErrNonTradeMessage) {
			t.Errorf("ParseTrades(%s) error = %v, want ErrNonTradeMessage", raw, err)
		}
	}
}

func TestParseTradesGarbage(t *testing.T) {
	if _, _, err := ParseTrades([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, _, err := ParseTrades([]byte(`{"channel":"trades","data":"nope"}`)); err == nil {
		t.Error("expected error for non-array data")
	}
}

func TestNormalizeSide(t *testing.T) {
	tests := []struct {
		in   string
		want market.Side
	}{
		{"B", market.Buy},
		{"Buy", market.Buy},
		{"b", market.Buy},
		{"A", market.Sell},
		{"S", market.Sell},
		{"", market.Sell},
	}
	for _, tt := range tests {
		if got := normalizeSide(tt.in); got != tt.want {
			t.Errorf("normalizeSide(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
