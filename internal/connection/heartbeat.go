package connection

import (
	"context"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/logger"
)

// RunHeartbeats probes every registered broker on a fixed interval until ctx
// is cancelled. Heartbeats are decoupled from trading traffic so a quiet
// broker still degrades (and recovers) on schedule; the probe also serves as
// the half-open trial call after a cooldown.
func (m *Manager) RunHeartbeats(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		go m.probe(ctx, c)
	}
}

func (m *Manager) probe(ctx context.Context, c *conn) {
	if !c.breaker.Allow() {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.now()
	err := c.adapter.Heartbeat(probeCtx)
	if err != nil {
		kind := broker.KindOf(err)
		c.recordFailure(kind)
		logger.Debugf("heartbeat %s failed (%s): %v", c.id, kind, err)
		return
	}
	c.recordSuccess(m.now().Sub(start), m.cfg.SuccessAlpha)
	c.markHeartbeat(m.now())
}
