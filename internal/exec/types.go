package exec

import (
	"sync"
	"time"

	"smartroute/internal/broker"
	"smartroute/internal/routing"
)

// OrderState is the derived state of the aggregated order. It is terminal
// only once every leg is terminal.
type OrderState string

const (
	OrderWorking         OrderState = "working"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderRejected        OrderState = "rejected"
	OrderCancelled       OrderState = "cancelled"
)

func (s OrderState) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// Cancellation and rejection reasons surfaced on legs and orders.
const (
	ReasonBrokerUnavailable = "broker_unavailable"
	ReasonDispatchFailed    = "dispatch_failed"
	ReasonUserCancelled     = "user_cancelled"
	ReasonNoViableBroker    = "no_viable_broker"
	ReasonOverfill          = "overfill_conflict"
)

// leg is one (order, broker) slice. Owned by the parent order; mutated only
// while holding the order lock.
type leg struct {
	LegID          string
	OrderID        string
	BrokerID       string
	Quantity       float64
	State          broker.LegState
	FilledQuantity float64
	AvgFillPrice   float64
	BrokerOrderID  string
	LastSequence   int64
	Reason         string
	SentAt         time.Time
	CreatedAt      time.Time

	// failoverPending marks an acked leg whose broker failed; the unfilled
	// remainder reroutes once the venue confirms cancellation.
	failoverPending bool
}

func (l *leg) remaining() float64 { return l.Quantity - l.FilledQuantity }

// order is the aggregate over all legs of one clientOrderId. All mutation is
// serialized by mu (single-writer per aggregate); the lock is never held
// across a network call.
type order struct {
	mu sync.Mutex

	OrderID       string
	Request       broker.OrderRequest
	Plan          routing.Plan
	State         OrderState
	Filled        float64
	AvgFillPrice  float64
	Halted        bool
	UserCancelled bool
	// routeExhausted is set when a failover re-route found no viable broker
	// for the unfilled remainder.
	routeExhausted bool
	// rerouting holds the aggregate open while a replacement plan for
	// cancelled quantity is still being built.
	rerouting bool
	// rerouteRetry carries a re-route deferred by a transient failure so
	// the reconciler can pick it up.
	rerouteRetry *rerouteRetry
	CreatedAt    time.Time
	UpdatedAt    time.Time

	legs     map[string]*leg
	legOrder []string // insertion order, for stable snapshots
	eventSeq int64
}

func (o *order) nextSeq() int64 {
	o.eventSeq++
	return o.eventSeq
}

// recompute derives filled quantity, average price and aggregate state from
// the legs. Caller holds o.mu.
func (o *order) recompute() {
	var filled, notional float64
	allTerminal := true
	allFilled := true
	anyRejected := false
	for _, l := range o.legs {
		filled += l.FilledQuantity
		notional += l.FilledQuantity * l.AvgFillPrice
		if !l.State.Terminal() {
			allTerminal = false
		}
		if l.State != broker.LegFilled {
			allFilled = false
		}
		if l.State == broker.LegRejected {
			anyRejected = true
		}
	}
	o.Filled = filled
	if filled > 0 {
		o.AvgFillPrice = notional / filled
	}

	switch {
	case len(o.legs) == 0:
		o.State = OrderWorking
	case allFilled:
		o.State = OrderFilled
	case allTerminal && o.rerouting && !o.UserCancelled:
		// Cancelled quantity is still being re-routed; the replacement leg
		// is not attached yet.
		if filled > 0 {
			o.State = OrderPartiallyFilled
		} else {
			o.State = OrderWorking
		}
	case allTerminal && filled > 0:
		o.State = OrderPartiallyFilled
	case allTerminal && o.UserCancelled:
		o.State = OrderCancelled
	case allTerminal && (anyRejected || o.routeExhausted):
		o.State = OrderRejected
	case allTerminal:
		o.State = OrderCancelled
	case filled > 0:
		o.State = OrderPartiallyFilled
	default:
		o.State = OrderWorking
	}
	o.UpdatedAt = time.Now()
}

// LegSnapshot and OrderSnapshot are the read-only views handed to callers
// and serialized onto the event stream.
type LegSnapshot struct {
	LegID          string          `json:"leg_id"`
	OrderID        string          `json:"order_id"`
	BrokerID       string          `json:"broker_id"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`
	Quantity       float64         `json:"quantity"`
	State          broker.LegState `json:"state"`
	FilledQuantity float64         `json:"filled_quantity"`
	AvgFillPrice   float64         `json:"avg_fill_price"`
	Reason         string          `json:"reason,omitempty"`
}

type OrderSnapshot struct {
	OrderID        string              `json:"order_id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           broker.Side         `json:"side"`
	Quantity       float64             `json:"quantity"`
	State          OrderState          `json:"state"`
	FilledQuantity float64             `json:"filled_quantity"`
	AvgFillPrice   float64             `json:"avg_fill_price"`
	PlanVersion    int                 `json:"plan_version"`
	Halted         bool                `json:"halted"`
	Plan           routing.Plan        `json:"plan"`
	Legs           []LegSnapshot       `json:"legs"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (l *leg) snapshot() LegSnapshot {
	return LegSnapshot{
		LegID:          l.LegID,
		OrderID:        l.OrderID,
		BrokerID:       l.BrokerID,
		BrokerOrderID:  l.BrokerOrderID,
		Quantity:       l.Quantity,
		State:          l.State,
		FilledQuantity: l.FilledQuantity,
		AvgFillPrice:   l.AvgFillPrice,
		Reason:         l.Reason,
	}
}

// snapshot copies the aggregate view. Caller holds o.mu.
func (o *order) snapshot() OrderSnapshot {
	legs := make([]LegSnapshot, 0, len(o.legOrder))
	for _, id := range o.legOrder {
		if l, ok := o.legs[id]; ok {
			legs = append(legs, l.snapshot())
		}
	}
	return OrderSnapshot{
		OrderID:        o.OrderID,
		ClientOrderID:  o.Request.ClientOrderID,
		Symbol:         o.Request.Symbol,
		Side:           o.Request.Side,
		Quantity:       o.Request.Quantity,
		State:          o.State,
		FilledQuantity: o.Filled,
		AvgFillPrice:   o.AvgFillPrice,
		PlanVersion:    o.Plan.Version,
		Halted:         o.Halted,
		Plan:           o.Plan,
		Legs:           legs,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}
