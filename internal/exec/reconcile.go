package exec

import (
	"context"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/logger"
)

// RunReconciler periodically resolves legs whose venue-side disposition is
// unknown: dispatches that timed out, and acknowledged legs stranded on a
// broker whose circuit opened. A leg is never moved to a terminal state on
// timeout alone; the venue is always asked first.
func (c *Coordinator) RunReconciler(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()
	logger.Infof("reconciler running every %s", c.cfg.ReconcileInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.reconcileOnce(ctx)
		}
	}
}

type reconcileTarget struct {
	order    *order
	legID    string
	brokerID string
	// pollID is the broker order id when known, otherwise the leg id
	// (which doubles as the venue-side client order id).
	pollID   string
	unplaced bool
}

func (c *Coordinator) reconcileOnce(ctx context.Context) {
	c.mu.RLock()
	all := make([]*order, 0, len(c.orders))
	for _, o := range c.orders {
		all = append(all, o)
	}
	c.mu.RUnlock()

	now := c.now()
	var targets []reconcileTarget
	var retries []deferredReroute
	var cancels []pendingCancel
	for _, o := range all {
		o.mu.Lock()
		if o.Halted || o.State.Terminal() {
			o.mu.Unlock()
			continue
		}
		if r := o.rerouteRetry; r != nil {
			o.rerouteRetry = nil
			retries = append(retries, deferredReroute{o, r.qty, r.exclude})
		}
		for _, id := range o.legOrder {
			l := o.legs[id]
			if l == nil || l.State.Terminal() {
				continue
			}
			switch {
			case o.UserCancelled && l.BrokerOrderID != "":
				// A venue-side cancel that failed or was never issued;
				// re-issue it and poll so the leg resolves.
				cancels = append(cancels, pendingCancel{l.BrokerID, o.OrderID, l.BrokerOrderID})
				targets = append(targets, reconcileTarget{o, l.LegID, l.BrokerID, l.BrokerOrderID, false})
			case l.failoverPending:
				targets = append(targets, reconcileTarget{o, l.LegID, l.BrokerID, pollID(l), false})
			case l.State == broker.LegSent && l.BrokerOrderID != "" && now.Sub(l.SentAt) > c.cfg.SentGrace:
				targets = append(targets, reconcileTarget{o, l.LegID, l.BrokerID, l.BrokerOrderID, false})
			case l.State == broker.LegSent && l.BrokerOrderID == "" && now.Sub(l.SentAt) > c.cfg.UnplacedGrace:
				targets = append(targets, reconcileTarget{o, l.LegID, l.BrokerID, l.LegID, true})
			}
		}
		o.mu.Unlock()
	}

	for _, pc := range cancels {
		c.cancelLegAtVenue(pc.brokerID, pc.orderID, pc.brokerOrderID)
	}
	for _, t := range targets {
		c.reconcileLeg(ctx, t)
	}
	for _, r := range retries {
		c.rerouteRemainder(r.order, r.qty, r.exclude)
	}
}

type deferredReroute struct {
	order   *order
	qty     float64
	exclude string
}

type pendingCancel struct {
	brokerID      string
	orderID       string
	brokerOrderID string
}

func pollID(l *leg) string {
	if l.BrokerOrderID != "" {
		return l.BrokerOrderID
	}
	return l.LegID
}

// reconcileLeg asks the venue for the leg's current state and folds the
// answer through the normal event path. A venue that rejects the lookup for
// a never-acknowledged leg proves the order was never placed, which is the
// one case where cancellation without a venue event is sound.
func (c *Coordinator) reconcileLeg(ctx context.Context, t reconcileTarget) {
	var status broker.LegStatus
	err := c.conns.ExecuteGuarded(ctx, t.brokerID, func(ctx context.Context, a broker.Adapter) error {
		st, perr := a.PollStatus(ctx, t.pollID)
		if perr == nil {
			status = st
		}
		return perr
	})
	switch {
	case err == nil:
		c.HandleBrokerEvent(broker.FillEvent{
			BrokerID:       t.brokerID,
			LegID:          t.legID,
			BrokerOrderID:  status.BrokerOrderID,
			Sequence:       status.Sequence,
			State:          status.State,
			FilledQuantity: status.FilledQuantity,
			AvgFillPrice:   status.AvgFillPrice,
			Timestamp:      status.UpdatedAt,
		})
	case t.unplaced && broker.IsVenueRejection(err):
		logger.Infof("leg %s: venue %s has no record of it, treating dispatch as failed", t.legID, t.brokerID)
		o := t.order
		o.mu.Lock()
		if !o.UserCancelled && !o.Halted {
			// Keep the order open across the cancel below until the
			// replacement leg is attached or routing proves exhausted.
			o.rerouting = true
		}
		o.mu.Unlock()
		c.HandleBrokerEvent(broker.FillEvent{
			BrokerID:  t.brokerID,
			LegID:     t.legID,
			State:     broker.LegCancelled,
			Reason:    ReasonDispatchFailed,
			Timestamp: c.now(),
		})
		c.retryUnplaced(t)
	default:
		// Broker still unreachable; try again next tick.
		logger.Debugf("leg %s: reconcile poll against %s failed: %v", t.legID, t.brokerID, err)
	}
}

// retryUnplaced re-routes the quantity of a leg whose placement provably
// never reached the venue.
func (c *Coordinator) retryUnplaced(t reconcileTarget) {
	o := t.order
	o.mu.Lock()
	l := o.legs[t.legID]
	if l == nil || l.State != broker.LegCancelled || o.UserCancelled || o.Halted {
		prev := o.State
		o.rerouting = false
		c.finishMutationLocked(o, prev)
		o.mu.Unlock()
		return
	}
	qty := l.remaining()
	o.mu.Unlock()
	if qty > fillEpsilon {
		c.rerouteRemainder(o, qty, t.brokerID)
		return
	}
	o.mu.Lock()
	prev := o.State
	o.rerouting = false
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()
}
