package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hyperliquid-signals-go/config"
	"hyperliquid-signals-go/funding"
	"hyperliquid-signals-go/gateway"
	"hyperliquid-signals-go/infrastructure/alert"
	"hyperliquid-signals-go/infrastructure/logger"
	"hyperliquid-signals-go/internal/app"
	"hyperliquid-signals-go/market"
	"hyperliquid-signals-go/metrics"
	fusion "hyperliquid-signals-go/signal"
	"hyperliquid-signals-go/vault"
	"hyperliquid-signals-go/whales"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	metricsAddr := flag.String("metricsAddr", "", "metrics listen address, overrides config")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	if len(cfg.Logging.Outputs) > 0 {
		logCfg.Outputs = cfg.Logging.Outputs
	}
	logCfg.OutputFile = cfg.Logging.OutputFile
	logCfg.ErrorFile = cfg.Logging.ErrorFile
	lg, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Close()

	addr := cfg.Metrics.Addr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		metrics.StartMetricsServer(addr)
		lg.Info("metrics server listening", zap.String("addr", addr))
	}

	alerts := alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", os.Stdout),
	}, 5*time.Minute)

	restClient := gateway.NewRESTClient(gateway.RESTConfig{
		BaseURL:        cfg.Gateway.RESTEndpoint,
		MaxRequestsSec: cfg.Gateway.MaxRequestsSec,
	})

	windows, err := cfg.Orderflow.WindowDurations()
	if err != nil {
		log.Fatalf("orderflow windows: %v", err)
	}
	aggregator, err := market.NewWindowAggregator(cfg.Coins, windows, cfg.Orderflow.LargeThresholds, market.SystemClock)
	if err != nil {
		log.Fatalf("init window aggregator: %v", err)
	}

	feed, err := gateway.NewWSClient(gateway.WSConfig{URL: cfg.Gateway.WSEndpoint}, lg, func(ev market.TradeEvent) {
		if err := aggregator.Record(ev); err != nil {
			return
		}
		metrics.IncrementTrades(ev.Coin)
	})
	if err != nil {
		log.Fatalf("init trade feed: %v", err)
	}
	for _, coin := range cfg.Coins {
		if err := feed.SubscribeTrades(coin); err != nil {
			log.Fatalf("subscribe %s: %v", coin, err)
		}
	}

	whalePoll, err := cfg.Whales.PollDuration()
	if err != nil {
		log.Fatalf("whale poll interval: %v", err)
	}
	tracker, err := whales.NewTracker(whales.TrackerConfig{
		Accounts:     cfg.Whales.Accounts,
		Coins:        cfg.Coins,
		PollInterval: whalePoll,
		MaxAccounts:  cfg.Whales.MaxAccounts,
		MaxChanges:   cfg.Whales.MaxChanges,
	}, restClient, lg)
	if err != nil {
		log.Fatalf("init whale tracker: %v", err)
	}

	fundingPoll, err := cfg.Funding.PollDuration()
	if err != nil {
		log.Fatalf("funding poll interval: %v", err)
	}
	fundingRetention, err := cfg.Funding.RetentionDuration()
	if err != nil {
		log.Fatalf("funding retention: %v", err)
	}
	detector, err := funding.NewDetector(funding.Config{
		Coins:            cfg.Coins,
		PollInterval:     fundingPoll,
		Retention:        fundingRetention,
		AnomalyThreshold: cfg.Funding.AnomalyThreshold,
		OIJumpPct:        cfg.Funding.OIJumpPct,
		MinSamples:       cfg.Funding.MinSamples,
		Alerts:           alerts,
	}, restClient, lg)
	if err != nil {
		log.Fatalf("init funding detector: %v", err)
	}

	vaultPoll, err := cfg.Vault.PollDuration()
	if err != nil {
		log.Fatalf("vault poll interval: %v", err)
	}
	vaultRetention, err := cfg.Vault.RetentionDuration()
	if err != nil {
		log.Fatalf("vault retention: %v", err)
	}
	sentiment, err := vault.NewSentiment(vault.Config{
		Coins:            cfg.Coins,
		PollInterval:     vaultPoll,
		Retention:        vaultRetention,
		AnomalyThreshold: cfg.Vault.AnomalyThreshold,
		MinSamples:       cfg.Vault.MinSamples,
		Alerts:           alerts,
	}, &gateway.VaultAdapter{Client: restClient, Address: cfg.Vault.Address}, lg)
	if err != nil {
		log.Fatalf("init vault sentiment: %v", err)
	}

	fusionInterval, err := cfg.Signal.IntervalDuration()
	if err != nil {
		log.Fatalf("fusion interval: %v", err)
	}
	weights := fusion.DefaultWeights()
	if cfg.Signal.Weights != (config.WeightsConfig{}) {
		weights = fusion.Weights{
			Orderflow: cfg.Signal.Weights.Orderflow,
			Whales:    cfg.Signal.Weights.Whales,
			HLP:       cfg.Signal.Weights.HLP,
			Funding:   cfg.Signal.Weights.Funding,
		}
	}
	engine, err := fusion.New(fusion.Config{
		Coins:           cfg.Coins,
		Interval:        fusionInterval,
		Weights:         weights,
		LeanThreshold:   cfg.Signal.LeanThreshold,
		StrongThreshold: cfg.Signal.StrongThreshold,
		ZThreshold:      cfg.Signal.ZThreshold,
	}, fusion.Components{
		Orderflow: aggregator,
		Whales:    tracker,
		Vault:     sentiment,
		Funding:   detector,
		Logger:    lg,
		Alerts:    alerts,
	})
	if err != nil {
		log.Fatalf("init fusion engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatalErr := make(chan error, 1)
	feed.SetFatalErrorHandler(func(err error) {
		select {
		case fatalErr <- err:
		default:
		}
	})

	watcher, err := config.NewWatcher(*cfgPath, config.DefaultWatcherConfig(), func(next config.AppConfig) {
		w := fusion.Weights{
			Orderflow: next.Signal.Weights.Orderflow,
			Whales:    next.Signal.Weights.Whales,
			HLP:       next.Signal.Weights.HLP,
			Funding:   next.Signal.Weights.Funding,
		}
		if err := engine.UpdateWeights(w); err != nil {
			lg.Warn("reloaded weights rejected", zap.Error(err))
			return
		}
		lg.Info("config reloaded")
	})
	if err != nil {
		log.Fatalf("init config watcher: %v", err)
	}

	lc := app.NewLifecycleManager(lg)
	lc.Register(app.Component{Name: "trade_feed", Start: func(context.Context) error { return feed.Start() }, Stop: feed.Stop})
	lc.Register(app.Component{Name: "whale_tracker", Start: tracker.Start, Stop: tracker.Stop})
	lc.Register(app.Component{Name: "funding_detector", Start: detector.Start, Stop: detector.Stop})
	lc.Register(app.Component{Name: "vault_sentiment", Start: sentiment.Start, Stop: sentiment.Stop})
	lc.Register(app.Component{Name: "fusion_engine", Start: engine.Start, Stop: engine.Stop})
	lc.Register(app.Component{Name: "config_watcher", Start: watcher.Start, Stop: func() { _ = watcher.Stop() }})

	if err := lc.StartAll(ctx); err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	lg.Info("signal engine running",
		zap.Strings("coins", cfg.Coins),
		zap.Int("whale_accounts", len(cfg.Whales.Accounts)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		lg.Info("shutdown signal received")
	case err := <-fatalErr:
		lg.Error("trade feed failed permanently", zap.Error(err))
		_ = alerts.SendCritical("trade feed failed permanently", map[string]interface{}{
			"error": err.Error(),
		})
	}

	cancel()
	lc.StopAll()
	lg.Info("signal engine stopped")
}
