package app

import (
	"context"
	"fmt"
	"time"

	"smartroute/internal/alert"
	"smartroute/internal/backoff"
	"smartroute/internal/broker"
	binanceadapter "smartroute/internal/broker/binance"
	"smartroute/internal/broker/sim"
	"smartroute/internal/circuit"
	"smartroute/internal/config"
	"smartroute/internal/connection"
	"smartroute/internal/exec"
	"smartroute/internal/logger"
	"smartroute/internal/position"
	"smartroute/internal/risk"
	"smartroute/internal/routing"
	"smartroute/internal/store"
	"smartroute/internal/store/gormstore"
	apihttp "smartroute/internal/transport/http/api"
)

// AppBuilder assembles the engine. The adapter and store factories are
// swappable so tests can plug in scripted venues and an in-memory store.
type AppBuilder struct {
	cfg *config.Config

	adapterFn func(config.BrokerConfig, *config.Config) (broker.Adapter, error)
	storeFn   func(*config.Config) (store.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithAdapterFactory overrides venue adapter construction.
func WithAdapterFactory(fn func(config.BrokerConfig, *config.Config) (broker.Adapter, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.adapterFn = fn }
}

// WithStore overrides the persistence layer.
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(*config.Config) (store.Store, error) { return st, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		adapterFn: buildAdapter,
		storeFn:   buildStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	st, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	conns := connection.NewManager(connectionConfig(cfg.Resilience))
	adapters := make([]broker.Adapter, 0, len(cfg.Brokers))
	for _, bc := range cfg.Brokers {
		adapter, err := b.adapterFn(bc, cfg)
		if err != nil {
			return nil, fmt.Errorf("broker %s: %w", bc.ID, err)
		}
		caps, err := bc.ResolveCapabilities()
		if err != nil {
			return nil, fmt.Errorf("broker %s capabilities: %w", bc.ID, err)
		}
		if err := conns.Register(adapter, caps); err != nil {
			return nil, fmt.Errorf("register broker %s: %w", bc.ID, err)
		}
		adapters = append(adapters, adapter)
		logger.Infof("✓ broker %s (%s) registered", bc.ID, bc.Kind)
	}

	validator := risk.NewValidator(cfg.Risk)
	router := routing.NewRouter(cfg.Routing, cfg.Risk.DefaultLotSize)

	weights, err := config.NewWeightsWatcher(cfg.Routing.WeightsFile, config.Weights{
		Speed:     cfg.Routing.WeightSpeed,
		Cost:      cfg.Routing.WeightCost,
		Liquidity: cfg.Routing.WeightLiquidity,
		Health:    cfg.Routing.WeightHealth,
	})
	if err != nil {
		return nil, fmt.Errorf("weights watcher: %w", err)
	}
	weights.Subscribe(router.SetWeights)

	var notifier alert.TextNotifier
	if cfg.Notify.Telegram.Enabled {
		notifier = alert.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		logger.Infof("✓ telegram notifier enabled")
	}
	alerts := alert.NewPublisher(notifier)
	positions := position.NewAggregator()
	accounts := risk.NewStaticSource(risk.AccountState{
		CashAvailable: cfg.Account.CashAvailableUSD,
		SettledCash:   cfg.Account.SettledCashUSD,
		TotalEquity:   cfg.Account.TotalEquityUSD,
		MarkPrices:    cfg.Account.MarkPrices,
	})

	coord := exec.NewCoordinator(
		exec.Config{
			ReconcileInterval: time.Duration(cfg.Resilience.ReconcileTimeoutSec) * time.Second,
		},
		conns, router, validator, accounts, st, alerts, positions,
	)

	// Adapters that can push fills feed the coordinator directly.
	for _, adapter := range adapters {
		if sub, ok := adapter.(broker.FillSubscriber); ok {
			if err := sub.SubscribeFills(ctx, coord.HandleBrokerEvent); err != nil {
				return nil, fmt.Errorf("subscribe fills on %s: %w", adapter.Name(), err)
			}
		}
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Orders:    coord,
		Brokers:   conns,
		Positions: positions,
	})
	if err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}

	return &App{
		cfg:     cfg,
		conns:   conns,
		coord:   coord,
		server:  server,
		store:   st,
		weights: weights,
	}, nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	return gormstore.NewGormStore(cfg.App.StorePath)
}

func buildAdapter(bc config.BrokerConfig, cfg *config.Config) (broker.Adapter, error) {
	switch bc.Kind {
	case "sim":
		opts := []sim.Option{sim.WithFillDelay(200 * time.Millisecond)}
		for sym, price := range cfg.Account.MarkPrices {
			opts = append(opts, sim.WithMarkPrice(sym, price))
		}
		return sim.New(bc.ID, opts...), nil
	case "binance":
		caps, err := bc.ResolveCapabilities()
		if err != nil {
			return nil, err
		}
		return binanceadapter.New(binanceadapter.Config{
			Name:      bc.ID,
			APIKey:    bc.APIKey,
			APISecret: bc.APISecret,
			BaseURL:   bc.APIURL,
		}, caps), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", bc.Kind)
	}
}

func connectionConfig(r config.ResilienceConfig) connection.Config {
	return connection.Config{
		Breaker: circuit.Config{
			Threshold:          r.FailureThreshold,
			Window:             time.Duration(r.FailureWindowSec) * time.Second,
			Cooldown:           time.Duration(r.OpenCooldownSec) * time.Second,
			CooldownMax:        time.Duration(r.CooldownMaxSec) * time.Second,
			CooldownMultiplier: r.CooldownMultiplier,
		},
		Retry: backoff.Policy{
			MaxAttempts: r.RetryMaxAttempts,
			BaseDelay:   time.Duration(r.RetryBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(r.RetryMaxMs) * time.Millisecond,
			Multiplier:  2,
		},
		HeartbeatInterval: time.Duration(r.HeartbeatIntervalSec) * time.Second,
		ProbeTimeout:      time.Duration(r.ProbeTimeoutSec) * time.Second,
		DispatchTimeout:   time.Duration(r.DispatchTimeoutSec) * time.Second,
	}
}
