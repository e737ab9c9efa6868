package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/market"
	"hyperliquid-signals-go/metrics"
)

// WSConfig configures the trade feed connection.
type WSConfig struct {
	URL            string
	ReconnectDelay time.Duration // base backoff, scales with consecutive failures, default 3s
	MaxReconnects  int           // consecutive failures before giving up, default 10
	PingInterval   time.Duration // default 20s
	ReadTimeout    time.Duration // default 60s
}

// TradeHandler receives each parsed trade print.
type TradeHandler func(market.TradeEvent)

// WSClient maintains the feed connection: it subscribes to the trades
// channel per coin, replays all subscriptions after a reconnect, and
// pushes parsed prints to the handler. Malformed prints are dropped and
// counted, never fatal.
type WSClient struct {
	cfg     WSConfig
	log     *logger.Logger
	handler TradeHandler

	mu    sync.Mutex
	conn  *websocket.Conn
	coins []string

	dropped atomic.Uint64

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	onFatalError func(error)

	startMu sync.Mutex
	started bool
}

// NewWSClient builds a feed client with defaults filled in.
func NewWSClient(cfg WSConfig, log *logger.Logger, handler TradeHandler) (*WSClient, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if handler == nil {
		return nil, errors.New("trade handler is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultWSEndpoint
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &WSClient{cfg: cfg, log: log, handler: handler}, nil
}

// SetFatalErrorHandler installs a callback fired when reconnection is
// exhausted, so the main program can shut down instead of running blind.
func (w *WSClient) SetFatalErrorHandler(fn func(error)) {
	w.onFatalError = fn
}

// SubscribeTrades registers a coin's trades channel. Safe before or
// after Start; live connections get the subscribe frame immediately.
func (w *WSClient) SubscribeTrades(coin string) error {
	if coin == "" {
		return errors.New("coin required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.coins {
		if c == coin {
			return nil
		}
	}
	w.coins = append(w.coins, coin)
	if w.conn != nil {
		return w.sendSubscribe(w.conn, coin)
	}
	return nil
}

// Start launches the connection loop.
func (w *WSClient) Start() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if w.started {
		return errors.New("feed already started")
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})
	w.started = true

	go w.run()
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (w *WSClient) Stop() {
	w.startMu.Lock()
	defer w.startMu.Unlock()
	if !w.started {
		return
	}
	w.cancel()
	w.mu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
	<-w.done
	w.started = false
}

// Dropped returns the count of malformed prints discarded so far.
func (w *WSClient) Dropped() uint64 { return w.dropped.Load() }

func (w *WSClient) run() {
	defer close(w.done)
	retries := 0
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(w.ctx, w.cfg.URL, nil)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			retries++
			if retries >= w.cfg.MaxReconnects {
				fatal := errors.New("feed reconnection exhausted: " + err.Error())
				w.log.Error("trade feed gave up", zap.Int("retries", retries), zap.Error(err))
				if w.onFatalError != nil {
					w.onFatalError(fatal)
				}
				return
			}
			backoff := time.Duration(retries) * w.cfg.ReconnectDelay
			w.log.Warn("feed dial failed",
				zap.Int("attempt", retries),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		w.mu.Lock()
		w.conn = conn
		replayErr := w.replaySubscriptions(conn)
		w.mu.Unlock()
		if replayErr != nil {
			w.log.Warn("subscription replay failed", zap.Error(replayErr))
			conn.Close()
			continue
		}

		metrics.FeedConnected.Set(1)
		w.log.LogFeed("connected", map[string]interface{}{"url": w.cfg.URL})
		retries = 0

		w.readLoop(conn)

		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		metrics.FeedConnected.Set(0)
		if w.ctx.Err() != nil {
			return
		}
		w.log.LogFeed("disconnected", nil)
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *WSClient) replaySubscriptions(conn *websocket.Conn) error {
	for _, coin := range w.coins {
		if err := w.sendSubscribe(conn, coin); err != nil {
			return err
		}
	}
	return nil
}

// sendSubscribe writes one subscribe frame. Callers hold w.mu.
func (w *WSClient) sendSubscribe(conn *websocket.Conn, coin string) error {
	return conn.WriteJSON(map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]string{
			"type": "trades",
			"coin": coin,
		},
	})
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	stopPing := make(chan struct{})
	defer close(stopPing)
	go w.pingLoop(conn, stopPing)

	conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil {
				w.log.Warn("feed read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))

		events, dropped, err := ParseTrades(msg)
		if err != nil {
			if !errors.Is(err, ErrNonTradeMessage) {
				w.dropped.Add(1)
				metrics.MalformedTrades.Inc()
				w.log.Warn("unparseable feed frame", zap.Error(err))
			}
			continue
		}
		if dropped > 0 {
			w.dropped.Add(uint64(dropped))
			metrics.MalformedTrades.Add(float64(dropped))
		}
		for _, ev := range events {
			w.handler(ev)
		}
	}
}

// pingLoop keeps the connection alive; the exchange drops idle clients.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			err := conn.WriteJSON(map[string]string{"method": "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
