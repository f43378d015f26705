package broker

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type Validity string

const (
	ValidityDay Validity = "day"
	ValidityIOC Validity = "ioc"
	ValidityGTC Validity = "gtc"
)

// LegState tracks one leg through its lifecycle at a single venue.
type LegState string

const (
	LegPending         LegState = "pending"
	LegSent            LegState = "sent"
	LegAcked           LegState = "acked"
	LegPartiallyFilled LegState = "partially_filled"
	LegFilled          LegState = "filled"
	LegRejected        LegState = "rejected"
	LegCancelled       LegState = "cancelled"
)

// Terminal reports whether no further venue events are expected for the leg.
func (s LegState) Terminal() bool {
	return s == LegFilled || s == LegRejected || s == LegCancelled
}

// OrderRequest is the validated inbound order the engine routes. Immutable
// once accepted; ClientOrderID doubles as the idempotency key.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      float64
	OrderType     OrderType
	LimitPrice    float64
	TriggerPrice  float64
	Validity      Validity

	// WarningsAcknowledged lets the caller accept WARNING-level risk
	// findings up front.
	WarningsAcknowledged bool
}

// ValueAt returns the notional order value at the given reference price.
// Limit orders price themselves.
func (r OrderRequest) ValueAt(markPrice float64) float64 {
	price := markPrice
	if r.OrderType == OrderTypeLimit && r.LimitPrice > 0 {
		price = r.LimitPrice
	}
	if price <= 0 {
		return 0
	}
	return r.Quantity * price
}

// LegRequest is the venue-agnostic order slice handed to an Adapter.
type LegRequest struct {
	LegID         string
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      float64
	OrderType     OrderType
	LimitPrice    float64
	TriggerPrice  float64
	Validity      Validity
}

// PlaceResult carries the venue-assigned identifier for a placed leg.
type PlaceResult struct {
	BrokerOrderID string
}

// LegStatus is the venue's view of a leg, normalized. FilledQuantity is
// cumulative; Sequence orders events from the same venue.
type LegStatus struct {
	BrokerOrderID  string
	State          LegState
	FilledQuantity float64
	AvgFillPrice   float64
	Sequence       int64
	UpdatedAt      time.Time
}

// FillEvent is an asynchronous status push from a venue. Events may arrive
// out of order or duplicated; FilledQuantity is always cumulative.
type FillEvent struct {
	BrokerID       string
	LegID          string
	BrokerOrderID  string
	Sequence       int64
	State          LegState
	FilledQuantity float64
	AvgFillPrice   float64
	Reason         string
	Timestamp      time.Time
}

// Capabilities describes static venue characteristics the router scores on.
type Capabilities struct {
	Symbols        []string `yaml:"symbols"`
	LotSize        float64  `yaml:"lot_size"`
	TickSize       float64  `yaml:"tick_size"`
	FeeRate        float64  `yaml:"fee_rate"`
	AvgLatencyMs   float64  `yaml:"avg_latency_ms"`
	LiquidityUnits float64  `yaml:"liquidity_units"`
	MaxOrderValue  float64  `yaml:"max_order_value"`
}

// Supports reports whether the venue trades the given symbol. An empty
// symbol list means unrestricted.
func (c Capabilities) Supports(symbol string) bool {
	if len(c.Symbols) == 0 {
		return true
	}
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
