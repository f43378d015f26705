package exec

import (
	"smartroute/internal/alert"
	"smartroute/internal/broker"
	"smartroute/internal/logger"
	"smartroute/internal/position"
)

// fillEpsilon absorbs float noise when comparing cumulative quantities.
const fillEpsilon = 1e-9

// HandleBrokerEvent folds one venue push event into the owning order.
// Events may arrive duplicated, out of order, or for legs the engine has
// already resolved; application is idempotent on (legID, sequence) and
// cumulative quantities never move backwards.
func (c *Coordinator) HandleBrokerEvent(evt broker.FillEvent) {
	o, ok := c.orderForLeg(evt.LegID)
	if !ok {
		logger.Warnf("venue event from %s for unknown leg %s, dropped", evt.BrokerID, evt.LegID)
		return
	}

	var rerouteQty float64
	var rerouteExclude string

	o.mu.Lock()
	l := o.legs[evt.LegID]
	if l == nil {
		o.mu.Unlock()
		return
	}
	prev := o.State
	c.applyVenueEventLocked(o, l, evt)
	if l.failoverPending && l.State.Terminal() {
		l.failoverPending = false
		if rem := l.remaining(); l.State != broker.LegFilled && rem > fillEpsilon && !o.UserCancelled && !o.Halted {
			rerouteQty = rem
			rerouteExclude = l.BrokerID
			o.rerouting = true
		}
	}
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()

	if rerouteQty > 0 {
		c.rerouteRemainder(o, rerouteQty, rerouteExclude)
	}
}

// applyVenueEventLocked is the single place venue state enters a leg.
// Caller holds o.mu.
func (c *Coordinator) applyVenueEventLocked(o *order, l *leg, evt broker.FillEvent) {
	if o.Halted {
		logger.Warnf("order %s halted, event seq=%d for leg %s ignored", o.OrderID, evt.Sequence, l.LegID)
		return
	}
	// Duplicate or out-of-order delivery from the same venue stream.
	if evt.Sequence != 0 && evt.Sequence <= l.LastSequence {
		logger.Debugf("order %s leg %s: stale sequence %d <= %d, dropped", o.OrderID, l.LegID, evt.Sequence, l.LastSequence)
		return
	}
	if evt.BrokerOrderID != "" && l.BrokerOrderID == "" {
		l.BrokerOrderID = evt.BrokerOrderID
	}

	// A cumulative quantity above the leg's allocation means the engine's
	// view and the venue's view have diverged; stop touching this order.
	if evt.FilledQuantity > l.Quantity+fillEpsilon {
		c.haltLocked(o, l, evt)
		return
	}
	// Lower cumulative quantity than already confirmed is a stale event.
	if evt.FilledQuantity+fillEpsilon < l.FilledQuantity {
		logger.Debugf("order %s leg %s: stale cumulative %.8g < %.8g, dropped", o.OrderID, l.LegID, evt.FilledQuantity, l.FilledQuantity)
		return
	}
	if evt.Sequence != 0 {
		l.LastSequence = evt.Sequence
	}

	if delta := evt.FilledQuantity - l.FilledQuantity; delta > fillEpsilon {
		price := incrementalPrice(l.FilledQuantity, l.AvgFillPrice, evt.FilledQuantity, evt.AvgFillPrice)
		c.positions.ApplyFill(position.Fill{
			BrokerID:  l.BrokerID,
			Symbol:    o.Request.Symbol,
			Side:      o.Request.Side,
			Quantity:  delta,
			Price:     price,
			Timestamp: evt.Timestamp,
		})
		l.FilledQuantity = evt.FilledQuantity
		if evt.AvgFillPrice > 0 {
			l.AvgFillPrice = evt.AvgFillPrice
		}
		// A fill snapshot without an explicit state advance still means
		// the leg is at least partially filled.
		if evt.State == "" || evt.State == broker.LegAcked {
			if l.FilledQuantity >= l.Quantity-fillEpsilon {
				c.transitionLegLocked(o, l, broker.LegFilled, "")
			} else if l.State == broker.LegSent || l.State == broker.LegAcked {
				c.transitionLegLocked(o, l, broker.LegPartiallyFilled, "")
			}
		}
	}

	if evt.State != "" && legalTransition(l.State, evt.State) {
		c.transitionLegLocked(o, l, evt.State, evt.Reason)
	} else if evt.State != "" && evt.State != l.State {
		logger.Debugf("order %s leg %s: transition %s -> %s not allowed, state kept", o.OrderID, l.LegID, l.State, evt.State)
	}
	c.persistLegLocked(l)
}

// haltLocked freezes the order for manual review after an irreconcilable
// venue report. No further automated routing touches a halted order.
func (c *Coordinator) haltLocked(o *order, l *leg, evt broker.FillEvent) {
	o.Halted = true
	logger.Errorf("order %s leg %s: venue reports %.8g filled against allocation %.8g, order halted",
		o.OrderID, l.LegID, evt.FilledQuantity, l.Quantity)
	c.persistOrderLocked(o)
	c.publishLocked(o, alert.EventAuditHalt, map[string]any{
		"leg_id":          l.LegID,
		"broker_id":       l.BrokerID,
		"reason":          ReasonOverfill,
		"reported_filled": evt.FilledQuantity,
		"leg_quantity":    l.Quantity,
	})
}

// legalTransition encodes the leg state machine. Terminal states never
// regress and fills never precede dispatch.
func legalTransition(from, to broker.LegState) bool {
	if from == to || from.Terminal() {
		return false
	}
	switch from {
	case broker.LegPending, broker.LegSent:
		return to == broker.LegAcked || to == broker.LegPartiallyFilled ||
			to == broker.LegFilled || to == broker.LegRejected || to == broker.LegCancelled
	case broker.LegAcked:
		return to == broker.LegPartiallyFilled || to == broker.LegFilled ||
			to == broker.LegRejected || to == broker.LegCancelled
	case broker.LegPartiallyFilled:
		return to == broker.LegFilled || to == broker.LegCancelled
	}
	return false
}

// incrementalPrice derives the price of the newly confirmed slice from the
// change in cumulative notional. Falls back to the venue's average when the
// notional view is incomplete.
func incrementalPrice(prevQty, prevAvg, newQty, newAvg float64) float64 {
	delta := newQty - prevQty
	if newAvg > 0 && prevQty > 0 && prevAvg > 0 && delta > 0 {
		if p := (newQty*newAvg - prevQty*prevAvg) / delta; p > 0 {
			return p
		}
	}
	if newAvg > 0 {
		return newAvg
	}
	return prevAvg
}
