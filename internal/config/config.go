// Package config loads and validates the engine's declarative configuration
// file (spec.md §6), following the corpus's load-expand-decode-normalize-
// validate pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Orchestration OrchestrationConfig          `yaml:"orchestration"`
	Strategies    map[string]map[string]interface{} `yaml:"strategies"`
	MarketData    MarketDataConfig             `yaml:"market_data"`
	Broker        BrokerConfig                 `yaml:"broker"`
	Monitoring    MonitoringConfig             `yaml:"monitoring"`
	Market        MarketConfig                 `yaml:"market"`
	Safety        SafetyConfig                 `yaml:"safety"`
	Risk          RiskConfig                   `yaml:"risk"`
}

// OrchestrationConfig is orchestration.* (spec.md §6).
type OrchestrationConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Mode              string `yaml:"mode"` // sequential | parallel
	MaxParallelWorkers int   `yaml:"max_parallel_workers"`
	TickIntervalS     int    `yaml:"tick_interval_s"`
	FallbackToLegacy  bool   `yaml:"fallback_to_legacy"`
	DryRun            bool   `yaml:"dry_run"`
}

// ProviderConfig is one entry of market_data.providers[]. APIKey carries a
// cleartext key for local/dev use; APIKeyEncrypted/APIKeySalt carry an
// at-rest blob produced by internal/secrets.Box.Seal and take precedence
// when both are set (SPEC_FULL.md §4.13).
type ProviderConfig struct {
	Name            string `yaml:"name"`
	Enabled         bool   `yaml:"enabled"`
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	APIKeyEncrypted string `yaml:"api_key_encrypted"`
	APIKeySalt      string `yaml:"api_key_salt"`
}

// MarketDataConfig is market_data.*.
type MarketDataConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// BrokerAccount is one entry of broker.accounts[]. APIKey carries a
// cleartext key for local/dev use; APIKeyEncrypted/APIKeySalt carry an
// at-rest blob produced by internal/secrets.Box.Seal and take precedence
// when both are set (SPEC_FULL.md §4.13).
type BrokerAccount struct {
	Name            string `yaml:"name"`
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	APIKeyEncrypted string `yaml:"api_key_encrypted"`
	APIKeySalt      string `yaml:"api_key_salt"`
	AccountID       string `yaml:"account_id"`
}

// BrokerConfig is broker.*.
type BrokerConfig struct {
	Accounts       []BrokerAccount `yaml:"accounts"`
	DefaultAccount string          `yaml:"default_account"`
}

// MonitoringConfig is monitoring.*.
type MonitoringConfig struct {
	PollingIntervalS int `yaml:"polling_interval_s"`
}

// MarketConfig is market.*.
type MarketConfig struct {
	Timezone       string `yaml:"timezone"`
	HolidaysSource string `yaml:"holidays_source"`
}

// SafetyConfig gates live trading (SPEC_FULL.md §4.15).
type SafetyConfig struct {
	LiveTradingEnabled bool   `yaml:"live_trading_enabled"`
	TOTPSecretEnv      string `yaml:"totp_secret_env"`
}

// RiskConfig mirrors internal/risk.Limits in config form.
type RiskConfig struct {
	MaxNotionalLeverage  float64 `yaml:"max_notional_leverage"`
	MaxCapitalAllocation float64 `yaml:"max_capital_allocation"`
}

// Load reads .env (if present), reads and expands the YAML file at
// configPath, decodes with unknown-field rejection, normalizes defaults,
// and validates.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	_ = godotenv.Load() // optional; missing .env is not an error

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is an operator-supplied CLI flag, not untrusted input
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Normalize fills in defaults the spec names explicitly (spec.md §4.8: tick
// interval default 30s; §4.1 provider ordering is whatever the list order
// is, unchanged).
func (c *Config) Normalize() {
	if c.Orchestration.Mode == "" {
		c.Orchestration.Mode = "sequential"
	}
	if c.Orchestration.TickIntervalS <= 0 {
		c.Orchestration.TickIntervalS = 30
	}
	if c.Orchestration.MaxParallelWorkers <= 0 {
		c.Orchestration.MaxParallelWorkers = 1
	}
	if c.Monitoring.PollingIntervalS <= 0 {
		c.Monitoring.PollingIntervalS = 30
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = "America/New_York"
	}
	if c.Risk.MaxNotionalLeverage <= 0 {
		c.Risk.MaxNotionalLeverage = 2.0
	}
	if c.Risk.MaxCapitalAllocation <= 0 {
		c.Risk.MaxCapitalAllocation = 0.5
	}
}

// Validate checks cross-field invariants the YAML schema itself cannot
// express.
func (c *Config) Validate() error {
	switch c.Orchestration.Mode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("orchestration.mode must be 'sequential' or 'parallel'")
	}
	if len(c.MarketData.Providers) == 0 {
		return fmt.Errorf("market_data.providers must list at least one provider")
	}
	if len(c.Broker.Accounts) == 0 {
		return fmt.Errorf("broker.accounts must list at least one account")
	}
	if c.Broker.DefaultAccount == "" {
		c.Broker.DefaultAccount = c.Broker.Accounts[0].Name
	}
	found := false
	for _, a := range c.Broker.Accounts {
		if a.Name == c.Broker.DefaultAccount {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("broker.default_account %q does not match any broker.accounts entry", c.Broker.DefaultAccount)
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone %q: %w", c.Market.Timezone, err)
	}
	if c.Risk.MaxNotionalLeverage <= 0 || c.Risk.MaxCapitalAllocation <= 0 {
		return fmt.Errorf("risk limits must be positive")
	}
	for _, a := range c.Broker.Accounts {
		if a.APIKeyEncrypted != "" && a.APIKeySalt == "" {
			return fmt.Errorf("broker account %q sets api_key_encrypted without api_key_salt", a.Name)
		}
	}
	for _, p := range c.MarketData.Providers {
		if p.APIKeyEncrypted != "" && p.APIKeySalt == "" {
			return fmt.Errorf("market data provider %q sets api_key_encrypted without api_key_salt", p.Name)
		}
	}
	return nil
}

// TickInterval returns orchestration.tick_interval_s as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Orchestration.TickIntervalS) * time.Second
}

// DefaultBrokerAccount returns the account matching broker.default_account.
func (c *Config) DefaultBrokerAccount() BrokerAccount {
	for _, a := range c.Broker.Accounts {
		if a.Name == c.Broker.DefaultAccount {
			return a
		}
	}
	return c.Broker.Accounts[0]
}
