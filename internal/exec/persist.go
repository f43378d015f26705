package exec

import (
	"context"
	"encoding/json"

	"smartroute/internal/alert"
	"smartroute/internal/logger"
	"smartroute/internal/store"
)

// Persistence is write-through: every mutation lands in the store before the
// order lock is released, so a restart resumes from the last applied event.
// Store failures are logged, not propagated; the in-memory aggregate stays
// authoritative while the process lives.

func (c *Coordinator) persistOrderLocked(o *order) {
	reqJSON, _ := json.Marshal(o.Request)
	planJSON, _ := json.Marshal(o.Plan)
	rec := store.OrderRecord{
		OrderID:        o.OrderID,
		ClientOrderID:  o.Request.ClientOrderID,
		Symbol:         o.Request.Symbol,
		Side:           string(o.Request.Side),
		Quantity:       o.Request.Quantity,
		State:          string(o.State),
		FilledQuantity: o.Filled,
		AvgFillPrice:   o.AvgFillPrice,
		PlanVersion:    o.Plan.Version,
		Halted:         o.Halted,
		Request:        reqJSON,
		Plan:           planJSON,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if err := c.store.SaveOrder(context.Background(), rec); err != nil {
		logger.Errorf("persist order %s: %v", o.OrderID, err)
	}
}

func (c *Coordinator) persistLegLocked(l *leg) {
	rec := store.LegRecord{
		LegID:          l.LegID,
		OrderID:        l.OrderID,
		BrokerID:       l.BrokerID,
		BrokerOrderID:  l.BrokerOrderID,
		State:          string(l.State),
		Quantity:       l.Quantity,
		FilledQuantity: l.FilledQuantity,
		AvgFillPrice:   l.AvgFillPrice,
		LastSequence:   l.LastSequence,
		Reason:         l.Reason,
		CreatedAt:      l.CreatedAt,
	}
	if err := c.store.SaveLeg(context.Background(), rec); err != nil {
		logger.Errorf("persist leg %s: %v", l.LegID, err)
	}
}

// publishLocked stamps the order's event sequence, fans the event out to
// subscribers and appends it to the journal. Caller holds o.mu, which is
// what guarantees per-order ordering on the stream.
func (c *Coordinator) publishLocked(o *order, typ alert.EventType, payload any) {
	evt := alert.Event{
		Type:      typ,
		OrderID:   o.OrderID,
		Sequence:  o.nextSeq(),
		Timestamp: c.now(),
		Payload:   payload,
	}
	c.alerts.Publish(evt)

	body, _ := json.Marshal(payload)
	legID := ""
	if snap, ok := payload.(LegSnapshot); ok {
		legID = snap.LegID
	}
	rec := store.EventRecord{
		OrderID: o.OrderID,
		LegID:   legID,
		Type:    string(typ),
		Payload: body,
	}
	if err := c.store.AppendEvent(context.Background(), rec); err != nil {
		logger.Errorf("journal %s for order %s: %v", typ, o.OrderID, err)
	}
}
