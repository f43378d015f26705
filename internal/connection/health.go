package connection

import (
	"sync"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/circuit"
)

// conn is the owned, mutable record for one broker session. All mutation
// happens through Manager methods while holding conn.mu.
type conn struct {
	id      string
	adapter broker.Adapter
	breaker *circuit.Breaker

	mu                  sync.Mutex
	caps                broker.Capabilities
	offline             bool
	successRate         float64 // EWMA over call outcomes
	avgLatencyMs        float64 // EWMA over observed call latency
	lastHeartbeat       time.Time
	consecutiveFailures int
	seenTraffic         bool
}

func newConn(id string, adapter broker.Adapter, caps broker.Capabilities, breakerCfg circuit.Config) *conn {
	c := &conn{
		id:           id,
		adapter:      adapter,
		caps:         caps,
		breaker:      circuit.NewBreaker(id, breakerCfg),
		successRate:  1,
		avgLatencyMs: caps.AvgLatencyMs,
	}
	return c
}

func (c *conn) recordSuccess(latency time.Duration, alpha float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seenTraffic = true
	c.consecutiveFailures = 0
	c.successRate = (1-alpha)*c.successRate + alpha
	if latency > 0 {
		ms := float64(latency.Milliseconds())
		if c.avgLatencyMs <= 0 {
			c.avgLatencyMs = ms
		} else {
			c.avgLatencyMs = (1-alpha)*c.avgLatencyMs + alpha*ms
		}
	}
	c.breaker.RecordSuccess()
}

func (c *conn) recordFailure(kind broker.ErrorKind) {
	c.mu.Lock()
	c.seenTraffic = true
	if kind == broker.KindConnectivity {
		c.consecutiveFailures++
		c.successRate = (1 - 0.2) * c.successRate
	}
	c.mu.Unlock()
	// Venue-level rejections are order failures, not connection failures.
	if kind == broker.KindConnectivity {
		c.breaker.RecordFailure()
	}
}

func (c *conn) markHeartbeat(at time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

// snapshot derives the externally visible view, including the composite
// health score: an exponentially weighted blend of success rate, latency and
// heartbeat freshness.
func (c *conn) snapshot(cfg Config, now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.breaker.State()
	state := StateConnected
	switch {
	case c.offline:
		state = StateOffline
	case cs == circuit.StateOpen || cs == circuit.StateHalfOpen:
		state = StateCircuitOpen
	case !c.seenTraffic && c.lastHeartbeat.IsZero():
		state = StateConnecting
	case c.consecutiveFailures > 0:
		state = StateDegraded
	}

	return Snapshot{
		BrokerID:            c.id,
		State:               state,
		HealthScore:         c.healthScoreLocked(cfg, now),
		LastHeartbeat:       c.lastHeartbeat,
		ConsecutiveFailures: c.consecutiveFailures,
		AvgLatencyMs:        c.avgLatencyMs,
		CircuitState:        cs,
		Capabilities:        c.caps,
	}
}

func (c *conn) healthScoreLocked(cfg Config, now time.Time) float64 {
	latencyScore := 1.0
	if c.avgLatencyMs > 0 {
		latencyScore = cfg.LatencyRefMs / (cfg.LatencyRefMs + c.avgLatencyMs)
	}

	heartbeatScore := 1.0
	if !c.lastHeartbeat.IsZero() {
		age := now.Sub(c.lastHeartbeat)
		stale := 10 * cfg.HeartbeatInterval
		switch {
		case age <= cfg.HeartbeatInterval:
			heartbeatScore = 1
		case age >= stale:
			heartbeatScore = 0
		default:
			heartbeatScore = 1 - float64(age-cfg.HeartbeatInterval)/float64(stale-cfg.HeartbeatInterval)
		}
	}

	score := 0.5*c.successRate + 0.3*latencyScore + 0.2*heartbeatScore
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
