// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Coins     []string        `yaml:"coins"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Orderflow OrderflowConfig `yaml:"orderflow"`
	Whales    WhalesConfig    `yaml:"whales"`
	Vault     VaultConfig     `yaml:"vault"`
	Funding   FundingConfig   `yaml:"funding"`
	Signal    SignalConfig    `yaml:"signal"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GatewayConfig struct {
	RESTEndpoint   string  `yaml:"restEndpoint"`
	WSEndpoint     string  `yaml:"wsEndpoint"`
	MaxRequestsSec float64 `yaml:"maxRequestsSec"`
}

// OrderflowConfig shapes the rolling trade windows. Windows and
// intervals are duration strings ("5m", "1h").
type OrderflowConfig struct {
	Windows         []string           `yaml:"windows"`
	LargeThresholds map[string]float64 `yaml:"largeThresholds"` // per-coin notional, USD
}

type WhalesConfig struct {
	Accounts     []string `yaml:"accounts"`
	PollInterval string   `yaml:"pollInterval"`
	MaxAccounts  int      `yaml:"maxAccounts"`
	MaxChanges   int      `yaml:"maxChanges"`
}

type VaultConfig struct {
	Address          string  `yaml:"address"`
	PollInterval     string  `yaml:"pollInterval"`
	Retention        string  `yaml:"retention"`
	AnomalyThreshold float64 `yaml:"anomalyThreshold"`
	MinSamples       int     `yaml:"minSamples"`
}

type FundingConfig struct {
	PollInterval     string  `yaml:"pollInterval"`
	Retention        string  `yaml:"retention"`
	AnomalyThreshold float64 `yaml:"anomalyThreshold"`
	OIJumpPct        float64 `yaml:"oiJumpPct"`
	MinSamples       int     `yaml:"minSamples"`
}

type SignalConfig struct {
	Interval        string        `yaml:"interval"`
	Weights         WeightsConfig `yaml:"weights"`
	LeanThreshold   float64       `yaml:"leanThreshold"`
	StrongThreshold float64       `yaml:"strongThreshold"`
	ZThreshold      float64       `yaml:"zThreshold"`
}

type WeightsConfig struct {
	Orderflow float64 `yaml:"orderflow"`
	Whales    float64 `yaml:"whales"`
	HLP       float64 `yaml:"hlp"`
	Funding   float64 `yaml:"funding"`
}

type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment-specific
// fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("HLSIG_REST_ENDPOINT"); v != "" {
		cfg.Gateway.RESTEndpoint = v
	}
	if v := os.Getenv("HLSIG_WS_ENDPOINT"); v != "" {
		cfg.Gateway.WSEndpoint = v
	}
	if v := os.Getenv("HLSIG_VAULT_ADDRESS"); v != "" {
		cfg.Vault.Address = v
	}
	return cfg, Validate(cfg)
}

// WindowDurations parses the configured window strings, ascending order
// not required here; the aggregator sorts.
func (c OrderflowConfig) WindowDurations() ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(c.Windows))
	for _, w := range c.Windows {
		d, err := time.ParseDuration(w)
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", w, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// parseDuration parses a duration string, returning fallback when empty.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// PollDuration returns the whale poll interval, default 60s.
func (c WhalesConfig) PollDuration() (time.Duration, error) {
	return parseDuration(c.PollInterval, 60*time.Second)
}

// PollDuration returns the vault poll interval, default 5m.
func (c VaultConfig) PollDuration() (time.Duration, error) {
	return parseDuration(c.PollInterval, 5*time.Minute)
}

// RetentionDuration returns the vault z-score retention, default 7 days.
func (c VaultConfig) RetentionDuration() (time.Duration, error) {
	return parseDuration(c.Retention, 7*24*time.Hour)
}

// PollDuration returns the funding poll interval, default 5m.
func (c FundingConfig) PollDuration() (time.Duration, error) {
	return parseDuration(c.PollInterval, 5*time.Minute)
}

// RetentionDuration returns the funding z-score retention, default 7 days.
func (c FundingConfig) RetentionDuration() (time.Duration, error) {
	return parseDuration(c.Retention, 7*24*time.Hour)
}

// IntervalDuration returns the fusion cadence, default 60s.
func (c SignalConfig) IntervalDuration() (time.Duration, error) {
	return parseDuration(c.Interval, 60*time.Second)
}
