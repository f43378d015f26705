package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9870"
	defaultAppStore    = "data/smartroute.db"

	defaultWeightSpeed     = 0.4
	defaultWeightCost      = 0.3
	defaultWeightLiquidity = 0.2
	defaultWeightHealth    = 0.1
	defaultHealthFloor     = 0.2
	defaultSplitThreshold  = 10_000
	defaultMaxLegs         = 4

	defaultFailureThreshold   = 5
	defaultFailureWindowSec   = 60
	defaultOpenCooldownSec    = 30
	defaultCooldownMaxSec     = 600
	defaultCooldownMultiplier = 2.0
	defaultHeartbeatSec       = 10
	defaultProbeTimeoutSec    = 3
	defaultDispatchTimeoutSec = 5
	defaultReconcileSec       = 5
	defaultRetryAttempts      = 3
	defaultRetryBaseMs        = 200
	defaultRetryMaxMs         = 5000

	defaultMaxOrderValue      = 1_000_000
	defaultConcentrationLimit = 0.25
	defaultConcentrationWarn  = 0.15
	defaultLotSize            = 1
	defaultTickSize           = 0.01
	defaultSessionOpenMinute  = 0
	defaultSessionCloseMinute = 24 * 60
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Routing.applyDefaults(keys)
	c.Resilience.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.store_path", &a.StorePath, defaultAppStore),
	)
}

func (r *RoutingConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "routing.weight_speed",
			need:  func() bool { return r.WeightSpeed <= 0 },
			apply: func() { r.WeightSpeed = defaultWeightSpeed },
		},
		fieldDefault{
			key:   "routing.weight_cost",
			need:  func() bool { return r.WeightCost <= 0 },
			apply: func() { r.WeightCost = defaultWeightCost },
		},
		fieldDefault{
			key:   "routing.weight_liquidity",
			need:  func() bool { return r.WeightLiquidity <= 0 },
			apply: func() { r.WeightLiquidity = defaultWeightLiquidity },
		},
		fieldDefault{
			key:   "routing.weight_health",
			need:  func() bool { return r.WeightHealth <= 0 },
			apply: func() { r.WeightHealth = defaultWeightHealth },
		},
		fieldDefault{
			key:   "routing.health_floor",
			need:  func() bool { return r.HealthFloor <= 0 },
			apply: func() { r.HealthFloor = defaultHealthFloor },
		},
		fieldDefault{
			key:   "routing.split_threshold_usd",
			need:  func() bool { return r.SplitThresholdUSD <= 0 },
			apply: func() { r.SplitThresholdUSD = defaultSplitThreshold },
		},
		fieldDefault{
			key:   "routing.max_legs",
			need:  func() bool { return r.MaxLegs <= 0 },
			apply: func() { r.MaxLegs = defaultMaxLegs },
		},
	)
}

func (r *ResilienceConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "resilience.failure_threshold",
			need:  func() bool { return r.FailureThreshold <= 0 },
			apply: func() { r.FailureThreshold = defaultFailureThreshold },
		},
		fieldDefault{
			key:   "resilience.failure_window_seconds",
			need:  func() bool { return r.FailureWindowSec <= 0 },
			apply: func() { r.FailureWindowSec = defaultFailureWindowSec },
		},
		fieldDefault{
			key:   "resilience.open_cooldown_seconds",
			need:  func() bool { return r.OpenCooldownSec <= 0 },
			apply: func() { r.OpenCooldownSec = defaultOpenCooldownSec },
		},
		fieldDefault{
			key:   "resilience.cooldown_max_seconds",
			need:  func() bool { return r.CooldownMaxSec <= 0 },
			apply: func() { r.CooldownMaxSec = defaultCooldownMaxSec },
		},
		fieldDefault{
			key:   "resilience.cooldown_multiplier",
			need:  func() bool { return r.CooldownMultiplier < 1 },
			apply: func() { r.CooldownMultiplier = defaultCooldownMultiplier },
		},
		fieldDefault{
			key:   "resilience.heartbeat_interval_seconds",
			need:  func() bool { return r.HeartbeatIntervalSec <= 0 },
			apply: func() { r.HeartbeatIntervalSec = defaultHeartbeatSec },
		},
		fieldDefault{
			key:   "resilience.probe_timeout_seconds",
			need:  func() bool { return r.ProbeTimeoutSec <= 0 },
			apply: func() { r.ProbeTimeoutSec = defaultProbeTimeoutSec },
		},
		fieldDefault{
			key:   "resilience.dispatch_timeout_seconds",
			need:  func() bool { return r.DispatchTimeoutSec <= 0 },
			apply: func() { r.DispatchTimeoutSec = defaultDispatchTimeoutSec },
		},
		fieldDefault{
			key:   "resilience.reconcile_timeout_seconds",
			need:  func() bool { return r.ReconcileTimeoutSec <= 0 },
			apply: func() { r.ReconcileTimeoutSec = defaultReconcileSec },
		},
		fieldDefault{
			key:   "resilience.retry_max_attempts",
			need:  func() bool { return r.RetryMaxAttempts <= 0 },
			apply: func() { r.RetryMaxAttempts = defaultRetryAttempts },
		},
		fieldDefault{
			key:   "resilience.retry_base_ms",
			need:  func() bool { return r.RetryBaseMs <= 0 },
			apply: func() { r.RetryBaseMs = defaultRetryBaseMs },
		},
		fieldDefault{
			key:   "resilience.retry_max_ms",
			need:  func() bool { return r.RetryMaxMs <= 0 },
			apply: func() { r.RetryMaxMs = defaultRetryMaxMs },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_order_value_usd",
			need:  func() bool { return r.MaxOrderValueUSD <= 0 },
			apply: func() { r.MaxOrderValueUSD = defaultMaxOrderValue },
		},
		fieldDefault{
			key:   "risk.concentration_limit",
			need:  func() bool { return r.ConcentrationLimit <= 0 },
			apply: func() { r.ConcentrationLimit = defaultConcentrationLimit },
		},
		fieldDefault{
			key:   "risk.concentration_warning",
			need:  func() bool { return r.ConcentrationWarning <= 0 },
			apply: func() { r.ConcentrationWarning = defaultConcentrationWarn },
		},
		fieldDefault{
			key:   "risk.default_lot_size",
			need:  func() bool { return r.DefaultLotSize <= 0 },
			apply: func() { r.DefaultLotSize = defaultLotSize },
		},
		fieldDefault{
			key:   "risk.default_tick_size",
			need:  func() bool { return r.DefaultTickSize <= 0 },
			apply: func() { r.DefaultTickSize = defaultTickSize },
		},
		fieldDefault{
			key:   "risk.session_close_minute",
			need:  func() bool { return r.SessionCloseMinute <= 0 },
			apply: func() { r.SessionCloseMinute = defaultSessionCloseMinute },
		},
	)
	if !keys.isSet("risk.session_open_minute") && r.SessionOpenMinute < 0 {
		r.SessionOpenMinute = defaultSessionOpenMinute
	}
}
