package risk

import (
	"context"
	"sync"
)

// StaticSource serves an account snapshot seeded from configuration and
// kept current by the engine: exposure follows the position book, mark
// prices can be refreshed by market data.
type StaticSource struct {
	mu    sync.RWMutex
	state AccountState
}

func NewStaticSource(state AccountState) *StaticSource {
	if state.ExposureBySymbol == nil {
		state.ExposureBySymbol = make(map[string]float64)
	}
	if state.MarkPrices == nil {
		state.MarkPrices = make(map[string]float64)
	}
	return &StaticSource{state: state}
}

func (s *StaticSource) Snapshot(ctx context.Context) (AccountState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	out.ExposureBySymbol = make(map[string]float64, len(s.state.ExposureBySymbol))
	for k, v := range s.state.ExposureBySymbol {
		out.ExposureBySymbol[k] = v
	}
	out.MarkPrices = make(map[string]float64, len(s.state.MarkPrices))
	for k, v := range s.state.MarkPrices {
		out.MarkPrices[k] = v
	}
	return out, nil
}

func (s *StaticSource) SetMarkPrice(symbol string, price float64) {
	s.mu.Lock()
	s.state.MarkPrices[symbol] = price
	s.mu.Unlock()
}

// SetExposure replaces the tracked notional exposure for a symbol.
func (s *StaticSource) SetExposure(symbol string, notional float64) {
	s.mu.Lock()
	s.state.ExposureBySymbol[symbol] = notional
	s.mu.Unlock()
}

func (s *StaticSource) AdjustCash(delta float64) {
	s.mu.Lock()
	s.state.CashAvailable += delta
	if s.state.CashAvailable < 0 {
		s.state.CashAvailable = 0
	}
	s.mu.Unlock()
}
