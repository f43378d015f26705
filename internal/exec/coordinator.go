// Package exec owns the order lifecycle: it validates, routes, dispatches
// legs to venue adapters, folds asynchronous venue events into per-leg and
// aggregate state, and re-routes around failed brokers. Each order is a
// single-writer aggregate guarded by its own mutex; the mutex is never held
// across a network call.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartroute/internal/alert"
	"smartroute/internal/broker"
	"smartroute/internal/connection"
	"smartroute/internal/logger"
	"smartroute/internal/position"
	"smartroute/internal/risk"
	"smartroute/internal/routing"
	"smartroute/internal/store"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderTerminal = errors.New("order already terminal")
	ErrOrderHalted   = errors.New("order halted pending manual review")
)

// ValidationError carries the risk findings a rejected submission produced.
type ValidationError struct {
	Findings []risk.Finding
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		msgs = append(msgs, fmt.Sprintf("[%s/%s] %s", f.Severity, f.Category, f.Message))
	}
	return "order rejected: " + strings.Join(msgs, "; ")
}

// AccountSource supplies the account view risk checks run against. In
// production it aggregates venue account endpoints; tests stub it.
type AccountSource interface {
	Snapshot(ctx context.Context) (risk.AccountState, error)
}

// Config tunes the coordinator's background reconciliation.
type Config struct {
	// ReconcileInterval is how often stuck legs are re-examined.
	ReconcileInterval time.Duration
	// SentGrace is how long a dispatched leg may sit without a venue
	// acknowledgement before reconciliation polls the venue for it.
	SentGrace time.Duration
	// UnplacedGrace is how long a leg whose placement call failed without
	// a venue order id waits for a late push event before the engine
	// treats it as never placed.
	UnplacedGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Second
	}
	if c.SentGrace <= 0 {
		c.SentGrace = 10 * time.Second
	}
	if c.UnplacedGrace <= 0 {
		c.UnplacedGrace = 15 * time.Second
	}
	return c
}

type Coordinator struct {
	cfg       Config
	conns     *connection.Manager
	router    *routing.Router
	validator *risk.Validator
	accounts  AccountSource
	store     store.Store
	alerts    *alert.Publisher
	positions *position.Aggregator

	mu       sync.RWMutex
	orders   map[string]*order // orderID -> aggregate
	byClient map[string]string // clientOrderID -> orderID
	byLeg    map[string]string // legID -> orderID

	now func() time.Time
}

func NewCoordinator(
	cfg Config,
	conns *connection.Manager,
	router *routing.Router,
	validator *risk.Validator,
	accounts AccountSource,
	st store.Store,
	alerts *alert.Publisher,
	positions *position.Aggregator,
) *Coordinator {
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		conns:     conns,
		router:    router,
		validator: validator,
		accounts:  accounts,
		store:     st,
		alerts:    alerts,
		positions: positions,
		orders:    make(map[string]*order),
		byClient:  make(map[string]string),
		byLeg:     make(map[string]string),
		now:       time.Now,
	}
	conns.SetCircuitOpenHandler(c.onCircuitOpen)
	return c
}

// SubmitOrder validates, routes and dispatches a new order. Re-submitting
// the same ClientOrderID returns the existing order without side effects.
func (c *Coordinator) SubmitOrder(ctx context.Context, req broker.OrderRequest) (OrderSnapshot, error) {
	if req.ClientOrderID == "" {
		return OrderSnapshot{}, errors.New("client_order_id is required")
	}

	if snap, ok := c.lookupByClient(req.ClientOrderID); ok {
		logger.Infof("order %s: duplicate submission of client id %s, returning existing", snap.OrderID, req.ClientOrderID)
		return snap, nil
	}

	acct, err := c.accounts.Snapshot(ctx)
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("account snapshot: %w", err)
	}
	res := c.validator.Validate(req, acct)
	if !res.Passed(req.WarningsAcknowledged) {
		findings := append(res.Errors(), res.Warnings()...)
		return OrderSnapshot{}, &ValidationError{Findings: findings}
	}

	mark := acct.MarkPrices[req.Symbol]
	plan, err := c.router.Route(req, mark, c.conns.GetHealthy(nil))
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("route order %s: %w", req.ClientOrderID, err)
	}

	o := c.createOrder(req, plan)
	if o == nil {
		// Lost a registration race on the same client id.
		if snap, ok := c.lookupByClient(req.ClientOrderID); ok {
			return snap, nil
		}
		return OrderSnapshot{}, fmt.Errorf("register order %s", req.ClientOrderID)
	}

	o.mu.Lock()
	snap := o.snapshot()
	c.persistOrderLocked(o)
	c.publishLocked(o, alert.EventOrderAccepted, snap)
	pending := c.pendingLegsLocked(o)
	o.mu.Unlock()

	for _, legID := range pending {
		go c.dispatchLeg(context.WithoutCancel(ctx), o, legID)
	}
	return snap, nil
}

// createOrder builds the aggregate and its legs from a fresh plan and
// registers it in the indexes. Returns nil if the client id was taken.
func (c *Coordinator) createOrder(req broker.OrderRequest, plan routing.Plan) *order {
	now := c.now()
	o := &order{
		OrderID:   uuid.NewString(),
		Request:   req,
		Plan:      plan,
		State:     OrderWorking,
		CreatedAt: now,
		UpdatedAt: now,
		legs:      make(map[string]*leg),
	}
	for _, alloc := range plan.Legs {
		l := &leg{
			LegID:     uuid.NewString(),
			OrderID:   o.OrderID,
			BrokerID:  alloc.BrokerID,
			Quantity:  alloc.Quantity,
			State:     broker.LegPending,
			CreatedAt: now,
		}
		o.legs[l.LegID] = l
		o.legOrder = append(o.legOrder, l.LegID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.byClient[req.ClientOrderID]; taken {
		return nil
	}
	c.orders[o.OrderID] = o
	c.byClient[req.ClientOrderID] = o.OrderID
	for id := range o.legs {
		c.byLeg[id] = o.OrderID
	}
	return o
}

// CancelOrder cancels whatever has not filled. Pending legs cancel locally;
// legs already at a venue are cancelled there and confirmed by the venue's
// own event.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) (OrderSnapshot, error) {
	o, ok := c.get(orderID)
	if !ok {
		return OrderSnapshot{}, ErrOrderNotFound
	}

	type remoteCancel struct {
		brokerID      string
		brokerOrderID string
	}
	var remote []remoteCancel

	o.mu.Lock()
	if o.State.Terminal() {
		snap := o.snapshot()
		o.mu.Unlock()
		return snap, ErrOrderTerminal
	}
	o.UserCancelled = true
	for _, l := range o.legs {
		switch {
		case l.State == broker.LegPending:
			c.transitionLegLocked(o, l, broker.LegCancelled, ReasonUserCancelled)
		case !l.State.Terminal() && l.BrokerOrderID != "":
			remote = append(remote, remoteCancel{l.BrokerID, l.BrokerOrderID})
		}
	}
	o.recompute()
	c.persistOrderLocked(o)
	snap := o.snapshot()
	o.mu.Unlock()

	for _, rc := range remote {
		rc := rc
		go c.cancelLegAtVenue(rc.brokerID, orderID, rc.brokerOrderID)
	}
	return snap, nil
}

// cancelLegAtVenue asks a venue to cancel one live leg. A failed cancel is
// only logged; the reconciler re-issues it until the venue confirms.
func (c *Coordinator) cancelLegAtVenue(brokerID, orderID, brokerOrderID string) {
	err := c.conns.ExecuteGuarded(context.Background(), brokerID, func(ctx context.Context, a broker.Adapter) error {
		return a.CancelLeg(ctx, brokerOrderID)
	})
	if err != nil {
		logger.Warnf("order %s: cancel at %s failed: %v", orderID, brokerID, err)
	}
}

// GetOrder returns the current aggregate view.
func (c *Coordinator) GetOrder(orderID string) (OrderSnapshot, error) {
	o, ok := c.get(orderID)
	if !ok {
		return OrderSnapshot{}, ErrOrderNotFound
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(), nil
}

// ListOrders returns every order the coordinator tracks, newest first.
func (c *Coordinator) ListOrders() []OrderSnapshot {
	c.mu.RLock()
	all := make([]*order, 0, len(c.orders))
	for _, o := range c.orders {
		all = append(all, o)
	}
	c.mu.RUnlock()

	snaps := make([]OrderSnapshot, 0, len(all))
	for _, o := range all {
		o.mu.Lock()
		snaps = append(snaps, o.snapshot())
		o.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.After(snaps[j].CreatedAt) })
	return snaps
}

func (c *Coordinator) get(orderID string) (*order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[orderID]
	return o, ok
}

func (c *Coordinator) lookupByClient(clientOrderID string) (OrderSnapshot, bool) {
	c.mu.RLock()
	orderID, ok := c.byClient[clientOrderID]
	o := c.orders[orderID]
	c.mu.RUnlock()
	if !ok || o == nil {
		return OrderSnapshot{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(), true
}

func (c *Coordinator) orderForLeg(legID string) (*order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	orderID, ok := c.byLeg[legID]
	if !ok {
		return nil, false
	}
	o, ok := c.orders[orderID]
	return o, ok
}

func (c *Coordinator) pendingLegsLocked(o *order) []string {
	var ids []string
	for _, id := range o.legOrder {
		if l := o.legs[id]; l != nil && l.State == broker.LegPending {
			ids = append(ids, id)
		}
	}
	return ids
}
