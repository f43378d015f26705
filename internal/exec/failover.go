package exec

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"smartroute/internal/alert"
	"smartroute/internal/broker"
	"smartroute/internal/connection"
	"smartroute/internal/logger"
	"smartroute/internal/routing"
)

// onCircuitOpen runs whenever a broker's breaker trips. Every working order
// with exposure on that broker is examined: legs the venue never
// acknowledged are cancelled and their quantity re-routed immediately;
// acknowledged legs keep their state until reconciliation learns their fate.
func (c *Coordinator) onCircuitOpen(brokerID string) {
	c.mu.RLock()
	affected := make([]*order, 0, len(c.orders))
	for _, o := range c.orders {
		affected = append(affected, o)
	}
	c.mu.RUnlock()

	for _, o := range affected {
		c.handleBrokerFailure(o, brokerID)
	}
}

func (c *Coordinator) handleBrokerFailure(o *order, brokerID string) {
	var rerouteQty float64

	o.mu.Lock()
	if o.Halted || o.UserCancelled || o.State.Terminal() {
		o.mu.Unlock()
		return
	}
	prev := o.State
	awaiting := 0
	for _, id := range o.legOrder {
		l := o.legs[id]
		if l == nil || l.BrokerID != brokerID || l.State.Terminal() {
			continue
		}
		switch {
		case l.State == broker.LegPending:
			c.transitionLegLocked(o, l, broker.LegCancelled, ReasonBrokerUnavailable)
			rerouteQty += l.Quantity
		case l.State == broker.LegSent && l.BrokerOrderID == "":
			// Dispatched but never acknowledged: the venue does not hold
			// this order, so the quantity can move elsewhere now.
			c.transitionLegLocked(o, l, broker.LegCancelled, ReasonBrokerUnavailable)
			rerouteQty += l.Quantity
		default:
			// The venue acknowledged this leg and may be filling it.
			// Its remainder re-routes only once reconciliation confirms
			// a terminal state.
			l.failoverPending = true
			awaiting++
		}
	}
	if rerouteQty > 0 {
		o.rerouting = true
	}
	if rerouteQty > 0 || awaiting > 0 {
		logger.Warnf("order %s: broker %s unavailable, rerouting %.8g now, %d leg(s) awaiting reconciliation",
			o.OrderID, brokerID, rerouteQty, awaiting)
		c.publishLocked(o, alert.EventRoutingFailover, map[string]any{
			"broker_id":     brokerID,
			"reroute_qty":   rerouteQty,
			"awaiting_legs": awaiting,
			"plan_version":  o.Plan.Version,
		})
	}
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()

	if rerouteQty > 0 {
		c.rerouteRemainder(o, rerouteQty, brokerID)
	}
}

// rerouteRemainder routes qty of the order's unfilled quantity to brokers
// other than excludeBroker under a new plan version. Risk checks re-run
// against a fresh account snapshot; warnings acknowledged on the original
// submission stay acknowledged.
func (c *Coordinator) rerouteRemainder(o *order, qty float64, excludeBroker string) {
	ctx := context.Background()

	o.mu.Lock()
	if o.Halted || o.UserCancelled || o.State.Terminal() {
		prev := o.State
		o.rerouting = false
		c.finishMutationLocked(o, prev)
		o.mu.Unlock()
		return
	}
	req := o.Request
	req.Quantity = qty
	o.mu.Unlock()

	acct, err := c.accounts.Snapshot(ctx)
	if err != nil {
		// Transient: leave the remainder parked and let the reconciler
		// retry on its next tick instead of giving up on the order.
		logger.Errorf("order %s: reroute deferred, account snapshot failed: %v", o.OrderID, err)
		c.deferReroute(o, qty, excludeBroker)
		return
	}
	res := c.validator.Validate(req, acct)
	if !res.Passed(req.WarningsAcknowledged) {
		logger.Errorf("order %s: reroute of %.8g rejected by risk: %v", o.OrderID, qty, (&ValidationError{Findings: res.Findings}).Error())
		c.markRouteExhausted(o)
		return
	}

	candidates := excludeCandidates(c.conns.GetHealthy(nil), excludeBroker)
	plan, err := c.router.Route(req, acct.MarkPrices[req.Symbol], candidates)
	if err != nil {
		if errors.Is(err, routing.ErrNoViableBroker) {
			logger.Errorf("order %s: no viable broker for remainder %.8g", o.OrderID, qty)
		} else {
			logger.Errorf("order %s: reroute failed: %v", o.OrderID, err)
		}
		c.markRouteExhausted(o)
		return
	}

	c.attachPlan(o, plan, excludeBroker)
}

// attachPlan appends the new plan's legs to the order under a bumped plan
// version and dispatches them.
func (c *Coordinator) attachPlan(o *order, plan routing.Plan, excludeBroker string) {
	now := c.now()
	newLegs := make([]*leg, 0, len(plan.Legs))
	for _, alloc := range plan.Legs {
		newLegs = append(newLegs, &leg{
			LegID:     uuid.NewString(),
			OrderID:   o.OrderID,
			BrokerID:  alloc.BrokerID,
			Quantity:  alloc.Quantity,
			State:     broker.LegPending,
			CreatedAt: now,
		})
	}

	c.mu.Lock()
	for _, l := range newLegs {
		c.byLeg[l.LegID] = o.OrderID
	}
	c.mu.Unlock()

	o.mu.Lock()
	if o.Halted || o.UserCancelled {
		prev := o.State
		o.rerouting = false
		c.finishMutationLocked(o, prev)
		o.mu.Unlock()
		return
	}
	prev := o.State
	o.rerouting = false
	plan.Version = o.Plan.Version + 1
	o.Plan = plan
	for _, l := range newLegs {
		o.legs[l.LegID] = l
		o.legOrder = append(o.legOrder, l.LegID)
		c.persistLegLocked(l)
	}
	logger.Infof("order %s: plan v%d routes %.8g across %d leg(s), %s excluded",
		o.OrderID, plan.Version, plan.TotalQuantity(), len(plan.Legs), excludeBroker)
	c.publishLocked(o, alert.EventRoutingFailover, o.snapshot())
	c.finishMutationLocked(o, prev)
	pending := c.pendingLegsLocked(o)
	o.mu.Unlock()

	for _, legID := range pending {
		go c.dispatchLeg(context.Background(), o, legID)
	}
}

func (c *Coordinator) markRouteExhausted(o *order) {
	o.mu.Lock()
	prev := o.State
	o.routeExhausted = true
	o.rerouting = false
	c.finishMutationLocked(o, prev)
	o.mu.Unlock()
}

// rerouteRetry is a re-route parked by a transient failure, picked up by the
// next reconciliation pass.
type rerouteRetry struct {
	qty     float64
	exclude string
}

func (c *Coordinator) deferReroute(o *order, qty float64, excludeBroker string) {
	o.mu.Lock()
	o.rerouteRetry = &rerouteRetry{qty: qty, exclude: excludeBroker}
	o.mu.Unlock()
}

func excludeCandidates(candidates []connection.Snapshot, exclude string) []connection.Snapshot {
	out := make([]connection.Snapshot, 0, len(candidates))
	for _, s := range candidates {
		if s.BrokerID != exclude {
			out = append(out, s)
		}
	}
	return out
}
