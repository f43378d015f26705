package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/circuit"
	"smartroute/internal/logger"
)

// Manager is the broker connection registry. It is the only owner of
// per-connection health, breaker and heartbeat state; callers interact with
// snapshots and guarded calls.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	conns map[string]*conn

	handlerMu     sync.Mutex
	onCircuitOpen func(brokerID string)

	now func() time.Time
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:   cfg.withDefaults(),
		conns: make(map[string]*conn),
		now:   time.Now,
	}
}

// Register adds a broker session to the registry. Registering an id twice is
// an error; remove the old session first.
func (m *Manager) Register(adapter broker.Adapter, caps broker.Capabilities) error {
	if adapter == nil {
		return fmt.Errorf("nil adapter")
	}
	id := adapter.Name()
	if id == "" {
		return fmt.Errorf("adapter has empty name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[id]; exists {
		return fmt.Errorf("broker %s already registered", id)
	}
	c := newConn(id, adapter, caps, m.cfg.Breaker)
	c.breaker.SetStateChangeHandler(m.breakerStateChanged)
	m.conns[id] = c
	logger.Infof("broker %s registered", id)
	return nil
}

// Remove destroys a connection. Pending guarded calls finish against the old
// record.
func (m *Manager) Remove(brokerID string) {
	m.mu.Lock()
	delete(m.conns, brokerID)
	m.mu.Unlock()
	logger.Infof("broker %s removed", brokerID)
}

// SetCircuitOpenHandler installs the hook invoked whenever any broker's
// breaker trips open. The execution coordinator uses it to start failover.
func (m *Manager) SetCircuitOpenHandler(fn func(brokerID string)) {
	m.handlerMu.Lock()
	m.onCircuitOpen = fn
	m.handlerMu.Unlock()
}

func (m *Manager) breakerStateChanged(name string, from, to circuit.State) {
	logger.Warnf("broker %s circuit %s -> %s", name, from, to)
	if to != circuit.StateOpen {
		return
	}
	m.handlerMu.Lock()
	fn := m.onCircuitOpen
	m.handlerMu.Unlock()
	if fn != nil {
		fn(name)
	}
}

func (m *Manager) get(brokerID string) (*conn, bool) {
	m.mu.RLock()
	c, ok := m.conns[brokerID]
	m.mu.RUnlock()
	return c, ok
}

// Adapter exposes the raw adapter for a broker, mainly for reconciliation
// polls that manage their own guarding.
func (m *Manager) Adapter(brokerID string) (broker.Adapter, bool) {
	c, ok := m.get(brokerID)
	if !ok {
		return nil, false
	}
	return c.adapter, true
}

// Snapshot returns the current view of one connection.
func (m *Manager) Snapshot(brokerID string) (Snapshot, bool) {
	c, ok := m.get(brokerID)
	if !ok {
		return Snapshot{}, false
	}
	return c.snapshot(m.cfg, m.now()), true
}

// All returns snapshots for every registered broker, sorted by id.
func (m *Manager) All() []Snapshot {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	now := m.now()
	out := make([]Snapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.snapshot(m.cfg, now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out
}

// GetHealthy returns routable snapshots. Brokers whose circuit is open (or
// probing) and offline brokers stay registered but are filtered out. A nil
// ids slice means "all brokers".
func (m *Manager) GetHealthy(brokerIDs []string) []Snapshot {
	var all []Snapshot
	if brokerIDs == nil {
		all = m.All()
	} else {
		for _, id := range brokerIDs {
			if snap, ok := m.Snapshot(id); ok {
				all = append(all, snap)
			}
		}
	}
	out := all[:0]
	for _, snap := range all {
		if snap.Routable() || snap.State == StateConnecting {
			out = append(out, snap)
		}
	}
	return out
}

// ReportSuccess records a successful call against a broker.
func (m *Manager) ReportSuccess(brokerID string, latency time.Duration) {
	if c, ok := m.get(brokerID); ok {
		c.recordSuccess(latency, m.cfg.SuccessAlpha)
	}
}

// ReportFailure records a failed call. Only connectivity failures count
// against the circuit breaker.
func (m *Manager) ReportFailure(brokerID string, kind broker.ErrorKind) {
	if c, ok := m.get(brokerID); ok {
		c.recordFailure(kind)
	}
}

// ExecuteGuarded runs fn against a broker through its breaker, with the
// configured retry policy for connectivity failures. Every attempt carries
// the dispatch timeout; outcome reporting is handled here so call sites
// cannot forget it.
func (m *Manager) ExecuteGuarded(ctx context.Context, brokerID string, fn func(ctx context.Context, a broker.Adapter) error) error {
	c, ok := m.get(brokerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBroker, brokerID)
	}

	attempt := func() error {
		if !c.breaker.Allow() {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, brokerID)
		}
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
		defer cancel()

		start := m.now()
		err := fn(callCtx, c.adapter)
		if err == nil {
			c.recordSuccess(m.now().Sub(start), m.cfg.SuccessAlpha)
			return nil
		}
		c.recordFailure(broker.KindOf(err))
		return err
	}

	retryable := func(err error) bool {
		if errors.Is(err, ErrCircuitOpen) {
			return false
		}
		return broker.IsConnectivity(err) && ctx.Err() == nil
	}
	return m.cfg.Retry.Retry(ctx, attempt, retryable)
}
