package exec

import (
	"context"

	"smartroute/internal/alert"
	"smartroute/internal/broker"
	"smartroute/internal/logger"
)

// dispatchLeg pushes one pending leg to its venue. The order lock is
// released around the network call and reacquired to fold in the result.
func (c *Coordinator) dispatchLeg(ctx context.Context, o *order, legID string) {
	o.mu.Lock()
	l := o.legs[legID]
	if l == nil || l.State != broker.LegPending || o.Halted || o.UserCancelled {
		o.mu.Unlock()
		return
	}
	prev := o.State
	l.State = broker.LegSent
	l.SentAt = c.now()
	brokerID := l.BrokerID
	req := broker.LegRequest{
		LegID:         l.LegID,
		ClientOrderID: l.LegID, // venue-side client id, makes placement idempotent
		Symbol:        o.Request.Symbol,
		Side:          o.Request.Side,
		Quantity:      l.Quantity,
		OrderType:     o.Request.OrderType,
		LimitPrice:    o.Request.LimitPrice,
		TriggerPrice:  o.Request.TriggerPrice,
		Validity:      o.Request.Validity,
	}
	c.persistLegLocked(l)
	c.publishLocked(o, alert.EventLegDispatched, l.snapshot())
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()

	var placed broker.PlaceResult
	err := c.conns.ExecuteGuarded(ctx, brokerID, func(ctx context.Context, a broker.Adapter) error {
		res, perr := a.PlaceLeg(ctx, req)
		if perr == nil {
			placed = res
		}
		return perr
	})

	o.mu.Lock()
	l = o.legs[legID]
	if l == nil {
		o.mu.Unlock()
		return
	}
	prev = o.State
	var staleCancel string
	switch {
	case err == nil:
		if l.BrokerOrderID == "" {
			l.BrokerOrderID = placed.BrokerOrderID
		}
		// The placement response is the venue's acknowledgement; a push
		// event may already have advanced the leg past Sent.
		if l.State == broker.LegSent {
			c.transitionLegLocked(o, l, broker.LegAcked, "")
		}
		// The order may have been cancelled or resolved while the
		// placement was in flight; the venue now holds a live order
		// nobody wants.
		if (o.UserCancelled || l.State.Terminal()) && l.BrokerOrderID != "" {
			staleCancel = l.BrokerOrderID
		}
	case broker.IsVenueRejection(err):
		if !l.State.Terminal() {
			c.transitionLegLocked(o, l, broker.LegRejected, err.Error())
		}
	default:
		// Connectivity failure after retries: the venue may or may not
		// hold the order. The leg stays Sent until reconciliation
		// confirms its disposition.
		logger.Warnf("order %s leg %s: dispatch to %s unresolved: %v", o.OrderID, legID, brokerID, err)
	}
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()

	if staleCancel != "" {
		c.cancelLegAtVenue(brokerID, o.OrderID, staleCancel)
	}
}

// transitionLegLocked applies a local leg state change, persists the leg and
// publishes the change. Caller holds o.mu and owns order-level recompute.
func (c *Coordinator) transitionLegLocked(o *order, l *leg, to broker.LegState, reason string) {
	if l.State == to {
		return
	}
	from := l.State
	l.State = to
	if reason != "" {
		l.Reason = reason
	}
	logger.Infof("order %s leg %s: %s -> %s (%s)", o.OrderID, l.LegID, from, to, reason)
	c.persistLegLocked(l)
	c.publishLocked(o, alert.EventLegStatusChanged, l.snapshot())
}

// finishMutationLocked recomputes the aggregate, persists it and publishes
// an order-level event when the derived state moved. Caller holds o.mu.
func (c *Coordinator) finishMutationLocked(o *order, prev OrderState) {
	o.recompute()
	c.persistOrderLocked(o)
	if o.State != prev {
		logger.Infof("order %s: %s -> %s (filled %.8g/%.8g)", o.OrderID, prev, o.State, o.Filled, o.Request.Quantity)
		c.publishLocked(o, alert.EventOrderStateChange, o.snapshot())
	}
}
