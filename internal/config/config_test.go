package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
app:
  env: prod
brokers:
  - id: alpha
    kind: sim
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9870", cfg.App.HTTPAddr)

	assert.Equal(t, 0.4, cfg.Routing.WeightSpeed)
	assert.Equal(t, 0.3, cfg.Routing.WeightCost)
	assert.Equal(t, 0.2, cfg.Routing.WeightLiquidity)
	assert.Equal(t, 0.1, cfg.Routing.WeightHealth)
	assert.Equal(t, 4, cfg.Routing.MaxLegs)

	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30, cfg.Resilience.OpenCooldownSec)
	assert.Equal(t, 3, cfg.Resilience.RetryMaxAttempts)

	assert.Equal(t, 1_000_000.0, cfg.Risk.MaxOrderValueUSD)
	assert.Equal(t, 0.25, cfg.Risk.ConcentrationLimit)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
routing:
  weight_speed: 0.7
  weight_cost: 0.1
  weight_liquidity: 0.1
  weight_health: 0.1
  max_legs: 2
resilience:
  failure_threshold: 9
brokers:
  - id: alpha
    kind: sim
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Routing.WeightSpeed)
	assert.Equal(t, 2, cfg.Routing.MaxLegs)
	assert.Equal(t, 9, cfg.Resilience.FailureThreshold)
}

func TestLoadFollowsIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  http_addr: ":7000"
  log_level: debug
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  log_level: warn
brokers:
  - id: alpha
    kind: sim
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.App.HTTPAddr, "included file contributes its keys")
	assert.Equal(t, "warn", cfg.App.LogLevel, "the including file wins on conflict")
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"duplicate broker id",
			"brokers:\n  - id: alpha\n    kind: sim\n  - id: alpha\n    kind: sim\n",
			"duplicate id",
		},
		{
			"binance without credentials",
			"brokers:\n  - id: bnc\n    kind: binance\n",
			"api_key",
		},
		{
			"unknown broker kind",
			"brokers:\n  - id: x\n    kind: carrier-pigeon\n",
			"unknown kind",
		},
		{
			"concentration out of range",
			"risk:\n  concentration_limit: 1.5\nbrokers:\n  - id: alpha\n    kind: sim\n",
			"concentration_limit",
		},
		{
			"telegram enabled without token",
			"notify:\n  telegram:\n    enabled: true\nbrokers:\n  - id: alpha\n    kind: sim\n",
			"bot_token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestResolveCapabilitiesInline(t *testing.T) {
	b := BrokerConfig{ID: "alpha", Kind: "sim", LotSize: 10, FeeRate: 0.002, AvgLatencyMs: 30, LiquidityUnits: 5000}

	caps, err := b.ResolveCapabilities()
	require.NoError(t, err)
	assert.Equal(t, 10.0, caps.LotSize)
	assert.Equal(t, 0.002, caps.FeeRate)
	assert.Equal(t, 5000.0, caps.LiquidityUnits)
}

func TestResolveCapabilitiesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "caps.yaml", `
symbols: [AAPL, MSFT]
lot_size: 100
fee_rate: 0.0005
avg_latency_ms: 12
liquidity_units: 250000
max_order_value: 2000000
`)
	b := BrokerConfig{ID: "alpha", Kind: "sim", LotSize: 1, CapabilitiesFile: path}

	caps, err := b.ResolveCapabilities()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, caps.Symbols)
	assert.Equal(t, 100.0, caps.LotSize)
	assert.Equal(t, 2_000_000.0, caps.MaxOrderValue)
	assert.True(t, caps.Supports("AAPL"))
	assert.False(t, caps.Supports("TSLA"))
}

func TestResolveCapabilitiesMissingFile(t *testing.T) {
	b := BrokerConfig{ID: "alpha", Kind: "sim", CapabilitiesFile: "/does/not/exist.yaml"}
	_, err := b.ResolveCapabilities()
	assert.Error(t, err)
}

func TestWeightsWatcherFileOverridesInitial(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "weights.yaml", `
weight_speed: 0.6
weight_cost: 0.2
`)

	w, err := NewWeightsWatcher(path, Weights{Speed: 0.4, Cost: 0.3, Liquidity: 0.2, Health: 0.1})
	require.NoError(t, err)

	got := w.Current()
	assert.Equal(t, 0.6, got.Speed)
	assert.Equal(t, 0.2, got.Cost)
	assert.Equal(t, 0.2, got.Liquidity, "keys absent from the file keep the initial value")
	assert.Equal(t, 0.1, got.Health)
}

func TestWeightsWatcherSubscribeDeliversImmediately(t *testing.T) {
	w, err := NewWeightsWatcher("", Weights{Speed: 0.5, Cost: 0.5})
	require.NoError(t, err)

	var got Weights
	w.Subscribe(func(next Weights) { got = next })
	assert.Equal(t, 0.5, got.Speed)
	assert.Equal(t, 0.5, got.Cost)
}

func TestWeightsWatcherRejectsAllZero(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "weights.yaml", `
weight_speed: 0
weight_cost: 0
weight_liquidity: 0
weight_health: 0
`)

	_, err := NewWeightsWatcher(path, Weights{Speed: 0.4, Cost: 0.3, Liquidity: 0.2, Health: 0.1})
	assert.Error(t, err)
}
