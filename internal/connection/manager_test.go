package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartroute/internal/backoff"
	"smartroute/internal/broker"
	"smartroute/internal/broker/sim"
	"smartroute/internal/circuit"
)

func testManagerConfig() Config {
	return Config{
		Breaker: circuit.Config{Threshold: 3, Window: time.Minute, Cooldown: 30 * time.Second},
		Retry:   backoff.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func registerSim(t *testing.T, m *Manager, name string) *sim.Venue {
	t.Helper()
	v := sim.New(name)
	require.NoError(t, m.Register(v, v.Capabilities()))
	return v
}

func TestRegisterDuplicate(t *testing.T) {
	m := NewManager(testManagerConfig())
	registerSim(t, m, "alpha")

	err := m.Register(sim.New("alpha"), broker.Capabilities{})
	assert.Error(t, err)
}

func TestGetHealthyFiltersOpenCircuits(t *testing.T) {
	m := NewManager(testManagerConfig())
	registerSim(t, m, "alpha")
	registerSim(t, m, "beta")

	for i := 0; i < 3; i++ {
		m.ReportFailure("beta", broker.KindConnectivity)
	}

	snap, ok := m.Snapshot("beta")
	require.True(t, ok)
	assert.Equal(t, StateCircuitOpen, snap.State)

	healthy := m.GetHealthy(nil)
	require.Len(t, healthy, 1)
	assert.Equal(t, "alpha", healthy[0].BrokerID)
}

func TestVenueRejectionDoesNotTripBreaker(t *testing.T) {
	m := NewManager(testManagerConfig())
	registerSim(t, m, "alpha")

	for i := 0; i < 10; i++ {
		m.ReportFailure("alpha", broker.KindVenueRejection)
	}

	snap, ok := m.Snapshot("alpha")
	require.True(t, ok)
	assert.Equal(t, circuit.StateClosed, snap.CircuitState)
	assert.Len(t, m.GetHealthy(nil), 1)
}

func TestExecuteGuardedRetriesConnectivity(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Retry = backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	m := NewManager(cfg)
	v := registerSim(t, m, "alpha")
	v.FailNextPlacements(
		broker.NewConnectivityError("alpha", errors.New("conn reset")),
		broker.NewConnectivityError("alpha", errors.New("conn reset")),
	)

	err := m.ExecuteGuarded(context.Background(), "alpha", func(ctx context.Context, a broker.Adapter) error {
		_, err := a.PlaceLeg(ctx, broker.LegRequest{LegID: "l1", ClientOrderID: "l1", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 10})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.PlaceCalls(), "two connectivity failures then one success")
}

func TestExecuteGuardedDoesNotRetryRejection(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Retry = backoff.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	m := NewManager(cfg)
	v := registerSim(t, m, "alpha")
	v.FailNextPlacements(broker.NewVenueRejection("alpha", "2010", "insufficient balance"))

	err := m.ExecuteGuarded(context.Background(), "alpha", func(ctx context.Context, a broker.Adapter) error {
		_, err := a.PlaceLeg(ctx, broker.LegRequest{LegID: "l1", ClientOrderID: "l1"})
		return err
	})
	require.Error(t, err)
	assert.True(t, broker.IsVenueRejection(err))
	assert.Equal(t, int64(1), v.PlaceCalls())
}

func TestExecuteGuardedOpenCircuitFailsFast(t *testing.T) {
	m := NewManager(testManagerConfig())
	v := registerSim(t, m, "alpha")
	for i := 0; i < 3; i++ {
		m.ReportFailure("alpha", broker.KindConnectivity)
	}

	err := m.ExecuteGuarded(context.Background(), "alpha", func(ctx context.Context, a broker.Adapter) error {
		_, err := a.PlaceLeg(ctx, broker.LegRequest{LegID: "l1", ClientOrderID: "l1"})
		return err
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(0), v.PlaceCalls())
}

func TestExecuteGuardedUnknownBroker(t *testing.T) {
	m := NewManager(testManagerConfig())
	err := m.ExecuteGuarded(context.Background(), "ghost", func(ctx context.Context, a broker.Adapter) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrUnknownBroker)
}

func TestCircuitOpenHandlerFires(t *testing.T) {
	m := NewManager(testManagerConfig())
	registerSim(t, m, "alpha")

	tripped := make(chan string, 1)
	m.SetCircuitOpenHandler(func(brokerID string) { tripped <- brokerID })

	for i := 0; i < 3; i++ {
		m.ReportFailure("alpha", broker.KindConnectivity)
	}

	select {
	case id := <-tripped:
		assert.Equal(t, "alpha", id)
	case <-time.After(time.Second):
		t.Fatal("circuit open handler was not invoked")
	}
}

func TestHealthScoreDegradesWithFailures(t *testing.T) {
	m := NewManager(testManagerConfig())
	registerSim(t, m, "alpha")

	m.ReportSuccess("alpha", 20*time.Millisecond)
	before, _ := m.Snapshot("alpha")

	m.ReportFailure("alpha", broker.KindConnectivity)
	m.ReportFailure("alpha", broker.KindConnectivity)
	after, _ := m.Snapshot("alpha")

	assert.Less(t, after.HealthScore, before.HealthScore)
	assert.Equal(t, StateDegraded, after.State)
	assert.Equal(t, 2, after.ConsecutiveFailures)
}

func TestHeartbeatProbeRecovers(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Breaker.Cooldown = 10 * time.Millisecond
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m := NewManager(cfg)
	registerSim(t, m, "alpha")

	for i := 0; i < 3; i++ {
		m.ReportFailure("alpha", broker.KindConnectivity)
	}
	snap, _ := m.Snapshot("alpha")
	require.Equal(t, StateCircuitOpen, snap.State)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.RunHeartbeats(ctx)

	// The cooldown expires, the next heartbeat serves as the half-open
	// probe, succeeds, and the breaker closes again.
	assert.Eventually(t, func() bool {
		s, _ := m.Snapshot("alpha")
		return s.State == StateConnected && s.CircuitState == circuit.StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}
