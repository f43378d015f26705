package config

import "strings"

// Config is the static configuration object handed to the engine at startup.
type Config struct {
	App        AppConfig        `toml:"app"`
	Routing    RoutingConfig    `toml:"routing"`
	Resilience ResilienceConfig `toml:"resilience"`
	Risk       RiskConfig       `toml:"risk"`
	Account    AccountConfig    `toml:"account"`
	Notify     NotifyConfig     `toml:"notify"`
	Brokers    []BrokerConfig   `toml:"brokers"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	StorePath string `toml:"store_path"`
}

// RoutingConfig holds the allocation weights and split policy.
type RoutingConfig struct {
	WeightSpeed     float64 `toml:"weight_speed"`
	WeightCost      float64 `toml:"weight_cost"`
	WeightLiquidity float64 `toml:"weight_liquidity"`
	WeightHealth    float64 `toml:"weight_health"`

	HealthFloor       float64 `toml:"health_floor"`
	SplitThresholdUSD float64 `toml:"split_threshold_usd"`
	MaxLegs           int     `toml:"max_legs"`

	// WeightsFile, when set, is watched for changes and reloaded without a
	// restart.
	WeightsFile string `toml:"weights_file"`
}

// ResilienceConfig tunes circuit breakers, heartbeats and dispatch retries.
type ResilienceConfig struct {
	FailureThreshold   int     `toml:"failure_threshold"`
	FailureWindowSec   int     `toml:"failure_window_seconds"`
	OpenCooldownSec    int     `toml:"open_cooldown_seconds"`
	CooldownMaxSec     int     `toml:"cooldown_max_seconds"`
	CooldownMultiplier float64 `toml:"cooldown_multiplier"`

	HeartbeatIntervalSec int `toml:"heartbeat_interval_seconds"`
	ProbeTimeoutSec      int `toml:"probe_timeout_seconds"`
	DispatchTimeoutSec   int `toml:"dispatch_timeout_seconds"`
	ReconcileTimeoutSec  int `toml:"reconcile_timeout_seconds"`

	RetryMaxAttempts int `toml:"retry_max_attempts"`
	RetryBaseMs      int `toml:"retry_base_ms"`
	RetryMaxMs       int `toml:"retry_max_ms"`
}

type RiskConfig struct {
	MaxOrderValueUSD     float64 `toml:"max_order_value_usd"`
	ConcentrationLimit   float64 `toml:"concentration_limit"`
	SessionOpenMinute    int     `toml:"session_open_minute"`
	SessionCloseMinute   int     `toml:"session_close_minute"`
	RequireSettledFunds  bool    `toml:"require_settled_funds"`
	WarnOrderValueUSD    float64 `toml:"warn_order_value_usd"`
	DefaultLotSize       float64 `toml:"default_lot_size"`
	DefaultTickSize      float64 `toml:"default_tick_size"`
	SkipSessionCheck     bool    `toml:"skip_session_check"`
	ConcentrationWarning float64 `toml:"concentration_warning"`
}

// AccountConfig seeds the account snapshot risk checks run against when no
// live account feed is wired up (the sim deployment).
type AccountConfig struct {
	CashAvailableUSD float64            `toml:"cash_available_usd"`
	SettledCashUSD   float64            `toml:"settled_cash_usd"`
	TotalEquityUSD   float64            `toml:"total_equity_usd"`
	MarkPrices       map[string]float64 `toml:"mark_prices"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// BrokerConfig declares one venue session. Kind selects the adapter
// implementation registered at startup.
type BrokerConfig struct {
	ID               string  `toml:"id"`
	Kind             string  `toml:"kind"` // "sim" | "binance"
	APIKey           string  `toml:"api_key"`
	APISecret        string  `toml:"api_secret"`
	APIURL           string  `toml:"api_url"`
	CapabilitiesFile string  `toml:"capabilities_file"`
	LotSize          float64 `toml:"lot_size"`
	FeeRate          float64 `toml:"fee_rate"`
	AvgLatencyMs     float64 `toml:"avg_latency_ms"`
	LiquidityUnits   float64 `toml:"liquidity_units"`
}

// keySet tracks which config paths were explicitly present in the file, so
// defaults never override an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, fields ...fieldDefault) {
	for _, f := range fields {
		if f.apply == nil {
			continue
		}
		if keys.isSet(f.key) {
			continue
		}
		if f.need == nil || f.need() {
			f.apply()
		}
	}
}

func stringFieldDefault(key string, target *string, fallback string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = fallback },
	}
}
