package exec

import (
	"context"
	"sync"

	"smartroute/internal/store"
)

// memStore is an in-memory Store for coordinator tests.
type memStore struct {
	mu     sync.Mutex
	orders map[string]store.OrderRecord
	legs   map[string]store.LegRecord
	events []store.EventRecord
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[string]store.OrderRecord),
		legs:   make(map[string]store.LegRecord),
	}
}

func (m *memStore) SaveOrder(ctx context.Context, rec store.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[rec.OrderID] = rec
	return nil
}

func (m *memStore) SaveLeg(ctx context.Context, rec store.LegRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs[rec.LegID] = rec
	return nil
}

func (m *memStore) AppendEvent(ctx context.Context, rec store.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uint(len(m.events) + 1)
	m.events = append(m.events, rec)
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, orderID string) (*store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.orders[orderID]; ok {
		out := rec
		return &out, nil
	}
	return nil, nil
}

func (m *memStore) ListOpenOrders(ctx context.Context) ([]store.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OrderRecord
	for _, rec := range m.orders {
		switch rec.State {
		case string(OrderFilled), string(OrderRejected), string(OrderCancelled):
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *memStore) ListLegs(ctx context.Context, orderID string) ([]store.LegRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.LegRecord
	for _, rec := range m.legs {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ListEvents(ctx context.Context, orderID string, limit int) ([]store.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.EventRecord
	for _, rec := range m.events {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) eventTypes(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, rec := range m.events {
		if rec.OrderID == orderID {
			out = append(out, rec.Type)
		}
	}
	return out
}
