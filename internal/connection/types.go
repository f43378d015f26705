// Package connection owns the live broker sessions: one registry entry per
// venue with health scoring, circuit breaking and heartbeat probing. Nothing
// outside this package mutates connection state.
package connection

import (
	"errors"
	"time"

	"smartroute/internal/backoff"
	"smartroute/internal/broker"
	"smartroute/internal/circuit"
)

type State string

const (
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateDegraded    State = "degraded"
	StateCircuitOpen State = "circuit_open"
	StateOffline     State = "offline"
)

var (
	ErrUnknownBroker = errors.New("unknown broker")
	ErrCircuitOpen   = errors.New("broker circuit open")
)

// Snapshot is a read-only copy of one connection's current condition. The
// router scores candidates from snapshots so it never touches live state.
type Snapshot struct {
	BrokerID            string
	State               State
	HealthScore         float64
	LastHeartbeat       time.Time
	ConsecutiveFailures int
	AvgLatencyMs        float64
	CircuitState        circuit.State
	Capabilities        broker.Capabilities
}

// Routable reports whether the broker may receive new legs.
func (s Snapshot) Routable() bool {
	return s.State == StateConnected || s.State == StateDegraded
}

// Config tunes health scoring and resilience behavior for every connection.
type Config struct {
	Breaker           circuit.Config
	Retry             backoff.Policy
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration
	DispatchTimeout   time.Duration

	// LatencyRefMs is the latency at which the latency component of the
	// health score crosses 0.5.
	LatencyRefMs float64
	// SuccessAlpha is the EWMA smoothing factor for the success rate.
	SuccessAlpha float64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 5 * time.Second
	}
	if c.LatencyRefMs <= 0 {
		c.LatencyRefMs = 250
	}
	if c.SuccessAlpha <= 0 || c.SuccessAlpha > 1 {
		c.SuccessAlpha = 0.2
	}
	return c
}
