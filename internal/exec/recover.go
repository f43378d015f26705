package exec

import (
	"context"
	"encoding/json"
	"fmt"

	"smartroute/internal/broker"
	"smartroute/internal/logger"
	"smartroute/internal/position"
)

// Recover rebuilds the coordinator's working set from the store after a
// restart. Pending legs are re-dispatched, Sent legs are left for the
// reconciler to resolve against the venues, and confirmed fills are folded
// back into the position book.
func (c *Coordinator) Recover(ctx context.Context) error {
	recs, err := c.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}

	var fills []position.Fill
	var dispatch []struct {
		o     *order
		legID string
	}

	for _, rec := range recs {
		o := &order{
			OrderID:      rec.OrderID,
			State:        OrderState(rec.State),
			Filled:       rec.FilledQuantity,
			AvgFillPrice: rec.AvgFillPrice,
			Halted:       rec.Halted,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			legs:         make(map[string]*leg),
		}
		if err := json.Unmarshal(rec.Request, &o.Request); err != nil {
			logger.Errorf("recover order %s: bad request payload: %v", rec.OrderID, err)
			continue
		}
		if len(rec.Plan) > 0 {
			if err := json.Unmarshal(rec.Plan, &o.Plan); err != nil {
				logger.Errorf("recover order %s: bad plan payload: %v", rec.OrderID, err)
			}
		}

		legRecs, err := c.store.ListLegs(ctx, rec.OrderID)
		if err != nil {
			return fmt.Errorf("list legs for %s: %w", rec.OrderID, err)
		}
		for _, lr := range legRecs {
			l := &leg{
				LegID:          lr.LegID,
				OrderID:        lr.OrderID,
				BrokerID:       lr.BrokerID,
				BrokerOrderID:  lr.BrokerOrderID,
				Quantity:       lr.Quantity,
				State:          broker.LegState(lr.State),
				FilledQuantity: lr.FilledQuantity,
				AvgFillPrice:   lr.AvgFillPrice,
				LastSequence:   lr.LastSequence,
				Reason:         lr.Reason,
				CreatedAt:      lr.CreatedAt,
			}
			// Legs that were in flight when the process died must be
			// confirmed against the venue, not re-sent.
			if l.State == broker.LegSent {
				l.SentAt = c.now()
			}
			o.legs[l.LegID] = l
			o.legOrder = append(o.legOrder, l.LegID)

			if l.FilledQuantity > fillEpsilon {
				fills = append(fills, position.Fill{
					BrokerID:  l.BrokerID,
					Symbol:    o.Request.Symbol,
					Side:      o.Request.Side,
					Quantity:  l.FilledQuantity,
					Price:     l.AvgFillPrice,
					Timestamp: lr.UpdatedAt,
				})
			}
			if l.State == broker.LegPending && !o.Halted {
				dispatch = append(dispatch, struct {
					o     *order
					legID string
				}{o, l.LegID})
			}
		}
		o.recompute()

		c.mu.Lock()
		c.orders[o.OrderID] = o
		c.byClient[o.Request.ClientOrderID] = o.OrderID
		for id := range o.legs {
			c.byLeg[id] = o.OrderID
		}
		c.mu.Unlock()
	}

	if len(fills) > 0 {
		c.positions.Replay(fills)
	}
	logger.Infof("recovered %d open order(s), re-dispatching %d pending leg(s)", len(recs), len(dispatch))
	for _, d := range dispatch {
		go c.dispatchLeg(context.WithoutCancel(ctx), d.o, d.legID)
	}
	return nil
}
