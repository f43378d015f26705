// Package sim is a deterministic in-memory venue. It backs the "sim" broker
// kind at runtime and gives tests a venue whose acknowledgements, fills,
// rejections and outages are all scriptable.
package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"smartroute/internal/broker"
)

// Option tweaks venue behavior at construction.
type Option func(*Venue)

// WithCapabilities replaces the default capability sheet.
func WithCapabilities(caps broker.Capabilities) Option {
	return func(v *Venue) { v.caps = caps }
}

// WithFillDelay makes accepted legs fill automatically after d. Zero keeps
// fills manual (tests drive them with PushFill).
func WithFillDelay(d time.Duration) Option {
	return func(v *Venue) { v.fillDelay = d }
}

// WithMarkPrice sets the price automatic fills execute at per symbol.
func WithMarkPrice(symbol string, price float64) Option {
	return func(v *Venue) { v.markPrices[symbol] = price }
}

type simOrder struct {
	brokerOrderID string
	leg           broker.LegRequest
	state         broker.LegState
	filled        float64
	avgPrice      float64
	sequence      int64
	reason        string
	updatedAt     time.Time
}

// Venue implements broker.Adapter and broker.FillSubscriber.
type Venue struct {
	name      string
	caps      broker.Capabilities
	fillDelay time.Duration

	mu         sync.Mutex
	orders     map[string]*simOrder // keyed by broker order id
	byClient   map[string]string    // client order id -> broker order id
	markPrices map[string]float64
	subs       []func(broker.FillEvent)
	nextID     int64

	// scripted failures, consumed in order
	placeErrs     []error
	cancelErrs    []error
	heartbeatErr  atomic.Value // error
	placeCalls    atomic.Int64
	cancelCalls   atomic.Int64
	pollCalls     atomic.Int64
	heartbeatHits atomic.Int64
}

func New(name string, opts ...Option) *Venue {
	v := &Venue{
		name: name,
		caps: broker.Capabilities{
			LotSize:        1,
			TickSize:       0.01,
			FeeRate:        0.001,
			AvgLatencyMs:   20,
			LiquidityUnits: 1_000_000,
		},
		orders:     make(map[string]*simOrder),
		byClient:   make(map[string]string),
		markPrices: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Venue) Name() string                      { return v.name }
func (v *Venue) Capabilities() broker.Capabilities { return v.caps }

// FailNextPlacements scripts errs to be returned, in order, by upcoming
// PlaceLeg calls before normal behavior resumes.
func (v *Venue) FailNextPlacements(errs ...error) {
	v.mu.Lock()
	v.placeErrs = append(v.placeErrs, errs...)
	v.mu.Unlock()
}

// FailNextCancels scripts errs to be returned, in order, by upcoming
// CancelLeg calls before normal behavior resumes.
func (v *Venue) FailNextCancels(errs ...error) {
	v.mu.Lock()
	v.cancelErrs = append(v.cancelErrs, errs...)
	v.mu.Unlock()
}

// SetHeartbeatError makes Heartbeat return err until cleared with nil.
func (v *Venue) SetHeartbeatError(err error) {
	if err == nil {
		v.heartbeatErr.Store(errNone{})
		return
	}
	v.heartbeatErr.Store(err)
}

type errNone struct{}

func (errNone) Error() string { return "" }

func (v *Venue) PlaceLeg(ctx context.Context, req broker.LegRequest) (broker.PlaceResult, error) {
	v.placeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return broker.PlaceResult{}, err
	}

	v.mu.Lock()
	if len(v.placeErrs) > 0 {
		err := v.placeErrs[0]
		v.placeErrs = v.placeErrs[1:]
		v.mu.Unlock()
		return broker.PlaceResult{}, err
	}
	// Placement is idempotent on the client order id.
	if id, ok := v.byClient[req.ClientOrderID]; ok {
		v.mu.Unlock()
		return broker.PlaceResult{BrokerOrderID: id}, nil
	}
	v.nextID++
	id := fmt.Sprintf("%s-%d", v.name, v.nextID)
	o := &simOrder{
		brokerOrderID: id,
		leg:           req,
		state:         broker.LegAcked,
		sequence:      1,
		updatedAt:     time.Now(),
	}
	v.orders[id] = o
	v.byClient[req.ClientOrderID] = id
	delay := v.fillDelay
	v.mu.Unlock()

	if delay > 0 {
		go v.autoFill(id, delay)
	}
	return broker.PlaceResult{BrokerOrderID: id}, nil
}

// autoFill completes an accepted order at the configured mark price.
func (v *Venue) autoFill(brokerOrderID string, delay time.Duration) {
	time.Sleep(delay)
	v.mu.Lock()
	o, ok := v.orders[brokerOrderID]
	if !ok || o.state.Terminal() || o.state == broker.LegCancelled {
		v.mu.Unlock()
		return
	}
	price := v.markPrices[o.leg.Symbol]
	if o.leg.OrderType == broker.OrderTypeLimit && o.leg.LimitPrice > 0 {
		price = o.leg.LimitPrice
	}
	if price <= 0 {
		price = 100
	}
	o.filled = o.leg.Quantity
	o.avgPrice = price
	o.state = broker.LegFilled
	o.sequence++
	o.updatedAt = time.Now()
	evt := v.eventLocked(o)
	v.mu.Unlock()
	v.emit(evt)
}

// Fill partially or fully fills an order by hand. quantity is cumulative.
func (v *Venue) Fill(brokerOrderID string, cumulative, price float64) {
	v.mu.Lock()
	o, ok := v.orders[brokerOrderID]
	if !ok || o.state.Terminal() {
		v.mu.Unlock()
		return
	}
	o.filled = cumulative
	if o.avgPrice == 0 {
		o.avgPrice = price
	} else {
		o.avgPrice = (o.avgPrice + price) / 2
	}
	if cumulative >= o.leg.Quantity {
		o.state = broker.LegFilled
	} else {
		o.state = broker.LegPartiallyFilled
	}
	o.sequence++
	o.updatedAt = time.Now()
	evt := v.eventLocked(o)
	v.mu.Unlock()
	v.emit(evt)
}

// Reject moves a working order to rejected with a venue reason.
func (v *Venue) Reject(brokerOrderID, reason string) {
	v.mu.Lock()
	o, ok := v.orders[brokerOrderID]
	if !ok || o.state.Terminal() {
		v.mu.Unlock()
		return
	}
	o.state = broker.LegRejected
	o.reason = reason
	o.sequence++
	o.updatedAt = time.Now()
	evt := v.eventLocked(o)
	v.mu.Unlock()
	v.emit(evt)
}

func (v *Venue) CancelLeg(ctx context.Context, brokerOrderID string) error {
	v.cancelCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	if len(v.cancelErrs) > 0 {
		err := v.cancelErrs[0]
		v.cancelErrs = v.cancelErrs[1:]
		v.mu.Unlock()
		return err
	}
	o, ok := v.resolveLocked(brokerOrderID)
	if !ok {
		v.mu.Unlock()
		return broker.NewVenueRejection(v.name, "UNKNOWN_ORDER", "no such order: "+brokerOrderID)
	}
	if o.state.Terminal() {
		v.mu.Unlock()
		return nil
	}
	o.state = broker.LegCancelled
	o.sequence++
	o.updatedAt = time.Now()
	evt := v.eventLocked(o)
	v.mu.Unlock()
	v.emit(evt)
	return nil
}

func (v *Venue) PollStatus(ctx context.Context, brokerOrderID string) (broker.LegStatus, error) {
	v.pollCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return broker.LegStatus{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.resolveLocked(brokerOrderID)
	if !ok {
		return broker.LegStatus{}, broker.NewVenueRejection(v.name, "UNKNOWN_ORDER", "no such order: "+brokerOrderID)
	}
	return broker.LegStatus{
		BrokerOrderID:  o.brokerOrderID,
		State:          o.state,
		FilledQuantity: o.filled,
		AvgFillPrice:   o.avgPrice,
		Sequence:       o.sequence,
		UpdatedAt:      o.updatedAt,
	}, nil
}

// resolveLocked accepts either the venue id or the client order id, the
// same lookup rule real venues offer for reconciliation.
func (v *Venue) resolveLocked(id string) (*simOrder, bool) {
	if o, ok := v.orders[id]; ok {
		return o, true
	}
	if mapped, ok := v.byClient[id]; ok {
		return v.orders[mapped], true
	}
	return nil, false
}

func (v *Venue) Heartbeat(ctx context.Context) error {
	v.heartbeatHits.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if stored := v.heartbeatErr.Load(); stored != nil {
		if err, ok := stored.(error); ok {
			if _, none := err.(errNone); !none {
				return err
			}
		}
	}
	return nil
}

func (v *Venue) SubscribeFills(ctx context.Context, callback func(broker.FillEvent)) error {
	v.mu.Lock()
	v.subs = append(v.subs, callback)
	v.mu.Unlock()
	return nil
}

func (v *Venue) eventLocked(o *simOrder) broker.FillEvent {
	return broker.FillEvent{
		BrokerID:       v.name,
		LegID:          o.leg.LegID,
		BrokerOrderID:  o.brokerOrderID,
		Sequence:       o.sequence,
		State:          o.state,
		FilledQuantity: o.filled,
		AvgFillPrice:   o.avgPrice,
		Reason:         o.reason,
		Timestamp:      o.updatedAt,
	}
}

func (v *Venue) emit(evt broker.FillEvent) {
	v.mu.Lock()
	subs := make([]func(broker.FillEvent), len(v.subs))
	copy(subs, v.subs)
	v.mu.Unlock()
	for _, fn := range subs {
		fn(evt)
	}
}

// PlaceCalls reports how many placements the venue has seen. Tests use it
// to assert retry and failover behavior.
func (v *Venue) PlaceCalls() int64  { return v.placeCalls.Load() }
func (v *Venue) PollCalls() int64   { return v.pollCalls.Load() }
func (v *Venue) CancelCalls() int64 { return v.cancelCalls.Load() }

// BrokerOrderIDFor maps a client (leg) id to the venue id once placed.
func (v *Venue) BrokerOrderIDFor(clientOrderID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.byClient[clientOrderID]
	return id, ok
}
