package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validate ensures required fields are present and tunables are sane.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if len(cfg.Coins) == 0 {
		return errors.New("coins list is required")
	}
	for _, coin := range cfg.Coins {
		if strings.TrimSpace(coin) == "" {
			return errors.New("coins must not contain blanks")
		}
	}

	if len(cfg.Orderflow.Windows) == 0 {
		return errors.New("orderflow.windows is required")
	}
	windows, err := cfg.Orderflow.WindowDurations()
	if err != nil {
		return fmt.Errorf("orderflow: %w", err)
	}
	for i, w := range windows {
		if w <= 0 {
			return fmt.Errorf("orderflow window %q must be > 0", cfg.Orderflow.Windows[i])
		}
	}
	for coin, threshold := range cfg.Orderflow.LargeThresholds {
		if threshold < 0 {
			return fmt.Errorf("orderflow.largeThresholds[%s] must be >= 0", coin)
		}
	}

	if _, err := cfg.Whales.PollDuration(); err != nil {
		return fmt.Errorf("whales.pollInterval: %w", err)
	}
	if cfg.Whales.MaxAccounts < 0 || cfg.Whales.MaxChanges < 0 {
		return errors.New("whales limits must be >= 0")
	}

	if cfg.Vault.Address == "" {
		return errors.New("vault.address is required (or HLSIG_VAULT_ADDRESS)")
	}
	if err := validatePoller("vault", cfg.Vault.PollInterval, cfg.Vault.Retention,
		cfg.Vault.AnomalyThreshold, cfg.Vault.MinSamples); err != nil {
		return err
	}
	if err := validatePoller("funding", cfg.Funding.PollInterval, cfg.Funding.Retention,
		cfg.Funding.AnomalyThreshold, cfg.Funding.MinSamples); err != nil {
		return err
	}
	if cfg.Funding.OIJumpPct < 0 {
		return errors.New("funding.oiJumpPct must be >= 0")
	}

	if _, err := cfg.Signal.IntervalDuration(); err != nil {
		return fmt.Errorf("signal.interval: %w", err)
	}
	w := cfg.Signal.Weights
	if w.Orderflow < 0 || w.Whales < 0 || w.HLP < 0 || w.Funding < 0 {
		return errors.New("signal.weights must be >= 0")
	}
	sum := w.Orderflow + w.Whales + w.HLP + w.Funding
	if sum != 0 && math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("signal.weights must sum to 1.0, got %f", sum)
	}
	if cfg.Signal.LeanThreshold < 0 || cfg.Signal.StrongThreshold < 0 {
		return errors.New("signal thresholds must be >= 0")
	}
	if cfg.Signal.LeanThreshold != 0 && cfg.Signal.StrongThreshold != 0 &&
		cfg.Signal.StrongThreshold <= cfg.Signal.LeanThreshold {
		return errors.New("signal.strongThreshold must exceed signal.leanThreshold")
	}

	if cfg.Gateway.MaxRequestsSec < 0 {
		return errors.New("gateway.maxRequestsSec must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func validatePoller(name, interval, retention string, threshold float64, minSamples int) error {
	if _, err := parseDuration(interval, time.Minute); err != nil {
		return fmt.Errorf("%s.pollInterval: %w", name, err)
	}
	if _, err := parseDuration(retention, time.Hour); err != nil {
		return fmt.Errorf("%s.retention: %w", name, err)
	}
	if threshold < 0 {
		return fmt.Errorf("%s.anomalyThreshold must be >= 0", name)
	}
	if minSamples < 0 {
		return fmt.Errorf("%s.minSamples must be >= 0", name)
	}
	return nil
}
