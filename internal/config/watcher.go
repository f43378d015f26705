package config

import (
	"fmt"
	"strings"
	"sync"

	"smartroute/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Weights is the hot-reloadable slice of RoutingConfig. Changing allocation
// weights must not require restarting live broker sessions.
type Weights struct {
	Speed     float64 `toml:"weight_speed"`
	Cost      float64 `toml:"weight_cost"`
	Liquidity float64 `toml:"weight_liquidity"`
	Health    float64 `toml:"weight_health"`
}

func (w Weights) validate() error {
	if w.Speed+w.Cost+w.Liquidity+w.Health <= 0 {
		return fmt.Errorf("routing weights must sum to a positive value")
	}
	return nil
}

type WeightsListener func(Weights)

// WeightsWatcher watches a weights file and pushes updates to listeners.
type WeightsWatcher struct {
	mu        sync.RWMutex
	current   Weights
	listeners []WeightsListener
}

// NewWeightsWatcher loads the weights file and starts watching it. The
// initial value comes from the routing section; the file only overrides.
func NewWeightsWatcher(path string, initial Weights) (*WeightsWatcher, error) {
	w := &WeightsWatcher{current: initial}
	path = strings.TrimSpace(path)
	if path == "" {
		return w, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading weights file failed (%s): %w", path, err)
	}
	if err := w.apply(v); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.apply(v); err != nil {
			logger.Errorf("weights reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("routing weights reloaded from %s", evt.Name)
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

func (w *WeightsWatcher) apply(v *viper.Viper) error {
	next := w.Current()
	if v.IsSet("weight_speed") {
		next.Speed = v.GetFloat64("weight_speed")
	}
	if v.IsSet("weight_cost") {
		next.Cost = v.GetFloat64("weight_cost")
	}
	if v.IsSet("weight_liquidity") {
		next.Liquidity = v.GetFloat64("weight_liquidity")
	}
	if v.IsSet("weight_health") {
		next.Health = v.GetFloat64("weight_health")
	}
	if err := next.validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	return nil
}

func (w *WeightsWatcher) Current() Weights {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a listener and immediately delivers the current value.
func (w *WeightsWatcher) Subscribe(fn WeightsListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	cur := w.current
	w.mu.Unlock()
	fn(cur)
}

func (w *WeightsWatcher) notify() {
	w.mu.RLock()
	listeners := append([]WeightsListener(nil), w.listeners...)
	cur := w.current
	w.mu.RUnlock()
	for _, fn := range listeners {
		fn(cur)
	}
}
