package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartroute/internal/broker"
	"smartroute/internal/connection"
	"smartroute/internal/exec"
	"smartroute/internal/position"
	"smartroute/internal/risk"
)

type fakeOrders struct {
	submitted []broker.OrderRequest
	submitErr error
	orders    map[string]exec.OrderSnapshot
	cancelErr error
	events    []broker.FillEvent
}

func (f *fakeOrders) SubmitOrder(_ context.Context, req broker.OrderRequest) (exec.OrderSnapshot, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return exec.OrderSnapshot{}, f.submitErr
	}
	return exec.OrderSnapshot{OrderID: "ord-1", ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, State: exec.OrderWorking}, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID string) (exec.OrderSnapshot, error) {
	if f.cancelErr != nil {
		return exec.OrderSnapshot{}, f.cancelErr
	}
	return exec.OrderSnapshot{OrderID: orderID, State: exec.OrderCancelled}, nil
}

func (f *fakeOrders) GetOrder(orderID string) (exec.OrderSnapshot, error) {
	snap, ok := f.orders[orderID]
	if !ok {
		return exec.OrderSnapshot{}, exec.ErrOrderNotFound
	}
	return snap, nil
}

func (f *fakeOrders) ListOrders() []exec.OrderSnapshot {
	out := make([]exec.OrderSnapshot, 0, len(f.orders))
	for _, s := range f.orders {
		out = append(out, s)
	}
	return out
}

func (f *fakeOrders) HandleBrokerEvent(evt broker.FillEvent) {
	f.events = append(f.events, evt)
}

type fakeBrokers struct{ snaps []connection.Snapshot }

func (f *fakeBrokers) All() []connection.Snapshot { return f.snaps }
func (f *fakeBrokers) Snapshot(id string) (connection.Snapshot, bool) {
	for _, s := range f.snaps {
		if s.BrokerID == id {
			return s, true
		}
	}
	return connection.Snapshot{}, false
}

func newTestServer(t *testing.T, orders *fakeOrders) (*Server, *fakeOrders) {
	t.Helper()
	if orders == nil {
		orders = &fakeOrders{orders: map[string]exec.OrderSnapshot{}}
	}
	positions := position.NewAggregator()
	positions.ApplyFill(position.Fill{BrokerID: "alpha", Symbol: "AAPL", Side: broker.SideBuy, Quantity: 10, Price: 100})
	s, err := NewServer(ServerConfig{
		Orders:    orders,
		Brokers:   &fakeBrokers{snaps: []connection.Snapshot{{BrokerID: "alpha", State: connection.StateConnected, HealthScore: 0.9}}},
		Positions: positions,
	})
	require.NoError(t, err)
	return s, orders
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitOrderAccepted(t *testing.T) {
	s, orders := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/orders", map[string]any{
		"client_order_id": "c-1",
		"symbol":          "AAPL",
		"side":            "buy",
		"quantity":        10,
		"order_type":      "market",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, orders.submitted, 1)
	assert.Equal(t, broker.ValidityDay, orders.submitted[0].Validity, "validity defaults when omitted")

	var got exec.OrderSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ord-1", got.OrderID)
}

func TestSubmitOrderSchemaViolations(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing symbol", map[string]any{"client_order_id": "c", "side": "buy", "quantity": 1, "order_type": "market"}},
		{"zero quantity", map[string]any{"client_order_id": "c", "symbol": "AAPL", "side": "buy", "quantity": 0, "order_type": "market"}},
		{"bad side", map[string]any{"client_order_id": "c", "symbol": "AAPL", "side": "hold", "quantity": 1, "order_type": "market"}},
		{"limit without price", map[string]any{"client_order_id": "c", "symbol": "AAPL", "side": "buy", "quantity": 1, "order_type": "limit"}},
		{"stop without trigger", map[string]any{"client_order_id": "c", "symbol": "AAPL", "side": "sell", "quantity": 1, "order_type": "stop"}},
		{"unknown field", map[string]any{"client_order_id": "c", "symbol": "AAPL", "side": "buy", "quantity": 1, "order_type": "market", "leverage": 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, orders := newTestServer(t, nil)
			w := doJSON(t, s, http.MethodPost, "/api/orders", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, orders.submitted, "rejected bodies never reach the engine")
		})
	}
}

func TestSubmitOrderRiskFindingsReturned(t *testing.T) {
	orders := &fakeOrders{
		orders: map[string]exec.OrderSnapshot{},
		submitErr: &exec.ValidationError{Findings: []risk.Finding{
			{Severity: risk.SeverityError, Category: risk.CategoryFunds, Message: "order value exceeds available cash"},
		}},
	}
	s, _ := newTestServer(t, orders)

	w := doJSON(t, s, http.MethodPost, "/api/orders", map[string]any{
		"client_order_id": "c-1",
		"symbol":          "AAPL",
		"side":            "buy",
		"quantity":        10,
		"order_type":      "market",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "available cash")
}

func TestGetOrder(t *testing.T) {
	orders := &fakeOrders{orders: map[string]exec.OrderSnapshot{
		"ord-1": {OrderID: "ord-1", State: exec.OrderWorking},
	}}
	s, _ := newTestServer(t, orders)

	w := doJSON(t, s, http.MethodGet, "/api/orders/ord-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOrderStatusMapping(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := doJSON(t, s, http.MethodDelete, "/api/orders/ord-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	orders := &fakeOrders{orders: map[string]exec.OrderSnapshot{}, cancelErr: exec.ErrOrderNotFound}
	s, _ = newTestServer(t, orders)
	w = doJSON(t, s, http.MethodDelete, "/api/orders/ord-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	orders = &fakeOrders{orders: map[string]exec.OrderSnapshot{}, cancelErr: exec.ErrOrderTerminal}
	s, _ = newTestServer(t, orders)
	w = doJSON(t, s, http.MethodDelete, "/api/orders/ord-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListBrokersAndGet(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/api/brokers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alpha")

	w = doJSON(t, s, http.MethodGet, "/api/brokers/alpha", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/brokers/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPositionsEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AAPL")

	w = doJSON(t, s, http.MethodGet, "/api/positions/AAPL", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "consolidated")
}

func TestBrokerEventWebhookEngineShape(t *testing.T) {
	s, orders := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/brokers/alpha/events", map[string]any{
		"leg_id":          "leg-1",
		"broker_order_id": "alpha-1",
		"sequence":        3,
		"state":           "partially_filled",
		"filled_quantity": 4.0,
		"avg_fill_price":  101.5,
		"timestamp_ms":    1700000000000,
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, orders.events, 1)
	evt := orders.events[0]
	assert.Equal(t, "alpha", evt.BrokerID)
	assert.Equal(t, "leg-1", evt.LegID)
	assert.Equal(t, broker.LegPartiallyFilled, evt.State)
	assert.Equal(t, int64(3), evt.Sequence)
	assert.Equal(t, 4.0, evt.FilledQuantity)
}

func TestBrokerEventWebhookExecutionReport(t *testing.T) {
	s, orders := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/brokers/binance-main/events", map[string]any{
		"e": "executionReport",
		"s": "BTCUSDT",
		"c": "leg-9",
		"i": 445566,
		"X": "PARTIALLY_FILLED",
		"z": "0.50000000",
		"Z": "15000.00",
		"L": "30000.00",
		"E": 1700000000123,
	})

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, orders.events, 1)
	evt := orders.events[0]
	assert.Equal(t, "binance-main", evt.BrokerID)
	assert.Equal(t, "leg-9", evt.LegID)
	assert.Equal(t, broker.LegPartiallyFilled, evt.State)
	assert.Equal(t, 0.5, evt.FilledQuantity)
	assert.Equal(t, 30000.0, evt.AvgFillPrice)
}

func TestBrokerEventWebhookRejectsGarbage(t *testing.T) {
	s, orders := newTestServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/brokers/alpha/events", map[string]any{"payload": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, orders.events)
}

func TestServerRequiresOrderService(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
