// Package metrics provides Prometheus metrics for the signal engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedConnected is 1 while the trade feed WebSocket is up.
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsig_feed_connected",
		Help: "Trade feed connection state (1 connected, 0 down)",
	})

	// TradesIngested counts accepted trade prints per coin.
	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsig_trades_ingested_total",
		Help: "Trade prints accepted into the rolling windows",
	}, []string{"coin"})

	// MalformedTrades counts prints dropped at the feed boundary.
	MalformedTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsig_malformed_trades_total",
		Help: "Trade prints dropped for failing validation",
	})

	// PollErrors counts failed REST polls by producer.
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsig_poll_errors_total",
		Help: "Failed REST polls by source",
	}, []string{"source"})

	// FusionCycles counts completed fusion cycles.
	FusionCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsig_fusion_cycles_total",
		Help: "Completed fusion cycles",
	})

	// FusionCycleDuration observes how long each fusion cycle takes.
	FusionCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlsig_fusion_cycle_seconds",
		Help:    "Fusion cycle duration",
		Buckets: prometheus.DefBuckets,
	})

	// OrderflowImbalance is the latest imbalance per coin and window.
	OrderflowImbalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsig_orderflow_imbalance",
		Help: "Order-flow imbalance in [-1, 1]",
	}, []string{"coin", "window"})

	// WhaleLongPct is the latest long share of the positioned cohort.
	WhaleLongPct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsig_whale_long_pct",
		Help: "Fraction of positioned whale accounts that are long",
	}, []string{"coin"})

	// VaultZScore is the latest vault-exposure z-score per coin.
	VaultZScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsig_vault_zscore",
		Help: "Vault exposure z-score",
	}, []string{"coin"})

	// FundingZScore is the latest funding-rate z-score per coin.
	FundingZScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsig_funding_zscore",
		Help: "Funding rate z-score",
	}, []string{"coin"})

	// CompositeScore is the latest fused score per coin.
	CompositeScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsig_composite_score",
		Help: "Fused composite score in [-1, 1]",
	}, []string{"coin"})
)

// UpdateOrderflow records one window's imbalance reading.
func UpdateOrderflow(coin, window string, imbalance float64) {
	OrderflowImbalance.WithLabelValues(coin, window).Set(imbalance)
}

// UpdateComposite records one coin's fused score.
func UpdateComposite(coin string, score float64) {
	CompositeScore.WithLabelValues(coin).Set(score)
}

// IncrementPollError counts one failed poll for a producer.
func IncrementPollError(source string) {
	PollErrors.WithLabelValues(source).Inc()
}

// IncrementTrades counts one accepted print.
func IncrementTrades(coin string) {
	TradesIngested.WithLabelValues(coin).Inc()
}

// StartMetricsServer exposes /metrics on addr in the background.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
