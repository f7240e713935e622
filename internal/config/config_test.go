package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
orchestration:
  enabled: true
market_data:
  providers:
    - name: primary
      enabled: true
      base_url: https://example.test
      api_key: ${TEST_API_KEY}
broker:
  accounts:
    - name: main
      base_url: https://broker.test
      api_key: x
      account_id: "1"
strategies:
  manual:
    enabled: true
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ValidConfigAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_API_KEY", "expanded-key")
	path := writeConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sequential", cfg.Orchestration.Mode)
	assert.Equal(t, 30, cfg.Orchestration.TickIntervalS)
	assert.Equal(t, 1, cfg.Orchestration.MaxParallelWorkers)
	assert.Equal(t, "America/New_York", cfg.Market.Timezone)
	assert.Equal(t, 2.0, cfg.Risk.MaxNotionalLeverage)
	assert.Equal(t, 0.5, cfg.Risk.MaxCapitalAllocation)
	assert.Equal(t, "main", cfg.Broker.DefaultAccount)
	assert.Equal(t, "expanded-key", cfg.MarketData.Providers[0].APIKey)
	assert.Equal(t, 30*time.Second, cfg.TickInterval())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, validYAML+"\nnot_a_real_field: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsBadMode(t *testing.T) {
	const yaml = `
orchestration:
  enabled: true
  mode: chaotic
market_data:
  providers:
    - name: primary
      enabled: true
      base_url: https://example.test
broker:
  accounts:
    - name: main
      base_url: https://broker.test
      api_key: x
      account_id: "1"
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEmptyProviders(t *testing.T) {
	const yaml = `
broker:
  accounts:
    - name: main
      base_url: https://broker.test
      api_key: x
      account_id: "1"
market_data:
  providers: []
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMismatchedDefaultAccount(t *testing.T) {
	const yaml = `
market_data:
  providers:
    - name: primary
      enabled: true
broker:
  accounts:
    - name: main
      account_id: "1"
  default_account: doesnotexist
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsBadTimezone(t *testing.T) {
	const yaml = `
market:
  timezone: Not/AZone
market_data:
  providers:
    - name: primary
      enabled: true
broker:
  accounts:
    - name: main
      account_id: "1"
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsEncryptedKeyWithoutSalt(t *testing.T) {
	const yaml = `
market_data:
  providers:
    - name: primary
      enabled: true
broker:
  accounts:
    - name: main
      account_id: "1"
      api_key_encrypted: deadbeef
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "api_key_salt")
}

func TestDefaultBrokerAccount_FallsBackToFirstWhenUnset(t *testing.T) {
	c := &Config{
		Orchestration: OrchestrationConfig{Mode: "sequential"},
		MarketData:    MarketDataConfig{Providers: []ProviderConfig{{Name: "primary"}}},
		Broker:        BrokerConfig{Accounts: []BrokerAccount{{Name: "only"}}},
		Market:        MarketConfig{Timezone: "UTC"},
		Risk:          RiskConfig{MaxNotionalLeverage: 1, MaxCapitalAllocation: 1},
	}
	require.NoError(t, c.Validate())
	assert.Equal(t, "only", c.DefaultBrokerAccount().Name)
}
