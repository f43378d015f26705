// Package binance adapts Binance spot trading to the engine's venue
// contract. REST errors are normalized into the engine's error vocabulary:
// API errors from the venue are rejections, except for the 10xx server and
// network codes, which count as connectivity like every non-API failure.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"smartroute/internal/broker"
)

type Config struct {
	Name        string
	APIKey      string
	APISecret   string
	BaseURL     string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "binance"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

type Adapter struct {
	cfg    Config
	caps   broker.Capabilities
	client *gobinance.Client

	mu      sync.Mutex
	symbols map[string]string // client order id -> symbol, for cancel/poll
}

func New(cfg Config, caps broker.Capabilities) *Adapter {
	final := cfg.withDefaults()
	client := gobinance.NewClient(final.APIKey, final.APISecret)
	if url := strings.TrimSpace(final.BaseURL); url != "" {
		client.BaseURL = url
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Adapter{
		cfg:     final,
		caps:    caps,
		client:  client,
		symbols: make(map[string]string),
	}
}

func (a *Adapter) Name() string                      { return a.cfg.Name }
func (a *Adapter) Capabilities() broker.Capabilities { return a.caps }

func (a *Adapter) PlaceLeg(ctx context.Context, req broker.LegRequest) (broker.PlaceResult, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(req.ClientOrderID)

	switch req.OrderType {
	case broker.OrderTypeLimit:
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(timeInForce(req.Validity)).
			Price(formatQty(req.LimitPrice))
	case broker.OrderTypeStop:
		svc = svc.Type(gobinance.OrderTypeStopLossLimit).
			TimeInForce(timeInForce(req.Validity)).
			Price(formatQty(req.LimitPrice)).
			StopPrice(formatQty(req.TriggerPrice))
	default:
		svc = svc.Type(gobinance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return broker.PlaceResult{}, a.normalizeErr(err)
	}

	a.mu.Lock()
	a.symbols[req.ClientOrderID] = req.Symbol
	a.mu.Unlock()

	return broker.PlaceResult{BrokerOrderID: compositeID(req.Symbol, resp.OrderID)}, nil
}

func (a *Adapter) CancelLeg(ctx context.Context, brokerOrderID string) error {
	symbol, orderID, clientID, err := a.resolve(brokerOrderID)
	if err != nil {
		return err
	}
	svc := a.client.NewCancelOrderService().Symbol(symbol)
	if orderID != 0 {
		svc = svc.OrderID(orderID)
	} else {
		svc = svc.OrigClientOrderID(clientID)
	}
	if _, err := svc.Do(ctx); err != nil {
		return a.normalizeErr(err)
	}
	return nil
}

func (a *Adapter) PollStatus(ctx context.Context, brokerOrderID string) (broker.LegStatus, error) {
	symbol, orderID, clientID, err := a.resolve(brokerOrderID)
	if err != nil {
		return broker.LegStatus{}, err
	}
	svc := a.client.NewGetOrderService().Symbol(symbol)
	if orderID != 0 {
		svc = svc.OrderID(orderID)
	} else {
		svc = svc.OrigClientOrderID(clientID)
	}
	o, err := svc.Do(ctx)
	if err != nil {
		return broker.LegStatus{}, a.normalizeErr(err)
	}

	filled := parseFloat(o.ExecutedQuantity)
	var avg float64
	if quote := parseFloat(o.CummulativeQuoteQuantity); quote > 0 && filled > 0 {
		avg = quote / filled
	}
	return broker.LegStatus{
		BrokerOrderID:  compositeID(symbol, o.OrderID),
		State:          legState(o.Status),
		FilledQuantity: filled,
		AvgFillPrice:   avg,
		Sequence:       o.UpdateTime,
		UpdatedAt:      time.UnixMilli(o.UpdateTime),
	}, nil
}

func (a *Adapter) Heartbeat(ctx context.Context) error {
	if err := a.client.NewPingService().Do(ctx); err != nil {
		return a.normalizeErr(err)
	}
	return nil
}

// resolve splits a composite "SYMBOL:orderID" venue id. A bare id is
// treated as a client order id and its symbol recovered from the placement
// map.
func (a *Adapter) resolve(id string) (symbol string, orderID int64, clientID string, err error) {
	if sym, rest, ok := strings.Cut(id, ":"); ok {
		n, perr := strconv.ParseInt(rest, 10, 64)
		if perr != nil {
			return "", 0, "", fmt.Errorf("malformed venue order id %q: %w", id, perr)
		}
		return sym, n, "", nil
	}
	a.mu.Lock()
	sym, ok := a.symbols[id]
	a.mu.Unlock()
	if !ok {
		return "", 0, "", broker.NewVenueRejection(a.cfg.Name, "UNKNOWN_ORDER", "no symbol known for "+id)
	}
	return sym, 0, id, nil
}

func (a *Adapter) normalizeErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// 10xx codes report server or network trouble, not a decision
		// about the order.
		if apiErr.Code <= -1000 && apiErr.Code > -1100 {
			return broker.NewConnectivityError(a.cfg.Name, err)
		}
		return broker.NewVenueRejection(a.cfg.Name, strconv.FormatInt(apiErr.Code, 10), apiErr.Message)
	}
	return broker.NewConnectivityError(a.cfg.Name, err)
}

func compositeID(symbol string, orderID int64) string {
	return fmt.Sprintf("%s:%d", symbol, orderID)
}

func sideType(s broker.Side) gobinance.SideType {
	if s == broker.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func timeInForce(v broker.Validity) gobinance.TimeInForceType {
	switch v {
	case broker.ValidityIOC:
		return gobinance.TimeInForceTypeIOC
	default:
		return gobinance.TimeInForceTypeGTC
	}
}

func legState(s gobinance.OrderStatusType) broker.LegState {
	switch s {
	case gobinance.OrderStatusTypeNew:
		return broker.LegAcked
	case gobinance.OrderStatusTypePartiallyFilled:
		return broker.LegPartiallyFilled
	case gobinance.OrderStatusTypeFilled:
		return broker.LegFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired:
		return broker.LegCancelled
	case gobinance.OrderStatusTypeRejected:
		return broker.LegRejected
	default:
		return broker.LegAcked
	}
}

func formatQty(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
