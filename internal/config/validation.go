package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Routing.validate(); err != nil {
		return err
	}
	if err := c.Resilience.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Account.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return validateBrokers(c.Brokers)
}

func (r *RoutingConfig) validate() error {
	sum := r.WeightSpeed + r.WeightCost + r.WeightLiquidity + r.WeightHealth
	if sum <= 0 {
		return fmt.Errorf("routing weights must sum to a positive value")
	}
	if r.HealthFloor < 0 || r.HealthFloor >= 1 {
		return fmt.Errorf("routing.health_floor must be in [0,1)")
	}
	if r.MaxLegs < 1 {
		return fmt.Errorf("routing.max_legs must be >= 1")
	}
	return nil
}

func (r *ResilienceConfig) validate() error {
	if r.FailureThreshold < 1 {
		return fmt.Errorf("resilience.failure_threshold must be >= 1")
	}
	if r.CooldownMultiplier < 1 {
		return fmt.Errorf("resilience.cooldown_multiplier must be >= 1")
	}
	if r.CooldownMaxSec < r.OpenCooldownSec {
		return fmt.Errorf("resilience.cooldown_max_seconds must be >= open_cooldown_seconds")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.ConcentrationLimit <= 0 || r.ConcentrationLimit > 1 {
		return fmt.Errorf("risk.concentration_limit must be in (0,1]")
	}
	if r.SessionOpenMinute < 0 || r.SessionOpenMinute >= 24*60 {
		return fmt.Errorf("risk.session_open_minute out of range")
	}
	if r.SessionCloseMinute <= r.SessionOpenMinute || r.SessionCloseMinute > 24*60 {
		return fmt.Errorf("risk.session_close_minute must be after session_open_minute")
	}
	return nil
}

func (a *AccountConfig) validate() error {
	if a.CashAvailableUSD < 0 || a.SettledCashUSD < 0 || a.TotalEquityUSD < 0 {
		return fmt.Errorf("account balances cannot be negative")
	}
	for sym, price := range a.MarkPrices {
		if price <= 0 {
			return fmt.Errorf("account.mark_prices[%s] must be positive", sym)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token required when telegram is enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id required when telegram is enabled")
	}
	return nil
}

func validateBrokers(brokers []BrokerConfig) error {
	seen := make(map[string]bool, len(brokers))
	for i, b := range brokers {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return fmt.Errorf("brokers[%d]: id cannot be empty", i)
		}
		if seen[id] {
			return fmt.Errorf("brokers[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		switch strings.TrimSpace(b.Kind) {
		case "sim":
		case "binance":
			if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
				return fmt.Errorf("brokers[%d] (%s): binance requires api_key and api_secret", i, id)
			}
		default:
			return fmt.Errorf("brokers[%d] (%s): unknown kind %q", i, id, b.Kind)
		}
	}
	return nil
}
