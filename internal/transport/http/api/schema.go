package apihttp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"smartroute/internal/broker"
)

// orderSchema validates submissions before they reach the engine, so the
// coordinator only ever sees structurally sound requests.
const orderSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["client_order_id", "symbol", "side", "quantity", "order_type"],
  "additionalProperties": false,
  "properties": {
    "client_order_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "symbol": {"type": "string", "minLength": 1, "maxLength": 32},
    "side": {"enum": ["buy", "sell"]},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "order_type": {"enum": ["market", "limit", "stop"]},
    "limit_price": {"type": "number", "exclusiveMinimum": 0},
    "trigger_price": {"type": "number", "exclusiveMinimum": 0},
    "validity": {"enum": ["day", "ioc", "gtc"]},
    "warnings_acknowledged": {"type": "boolean"}
  },
  "allOf": [
    {
      "if": {"properties": {"order_type": {"const": "limit"}}},
      "then": {"required": ["limit_price"]}
    },
    {
      "if": {"properties": {"order_type": {"const": "stop"}}},
      "then": {"required": ["trigger_price"]}
    }
  ]
}`

var compiledOrderSchema = jsonschema.MustCompileString("order.schema.json", orderSchema)

type orderPayload struct {
	ClientOrderID        string  `json:"client_order_id"`
	Symbol               string  `json:"symbol"`
	Side                 string  `json:"side"`
	Quantity             float64 `json:"quantity"`
	OrderType            string  `json:"order_type"`
	LimitPrice           float64 `json:"limit_price"`
	TriggerPrice         float64 `json:"trigger_price"`
	Validity             string  `json:"validity"`
	WarningsAcknowledged bool    `json:"warnings_acknowledged"`
}

// DecodeOrderRequest parses and schema-validates a submission body.
func DecodeOrderRequest(body []byte) (broker.OrderRequest, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return broker.OrderRequest{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := compiledOrderSchema.Validate(raw); err != nil {
		return broker.OrderRequest{}, fmt.Errorf("schema: %w", err)
	}
	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return broker.OrderRequest{}, fmt.Errorf("invalid json: %w", err)
	}
	validity := broker.Validity(p.Validity)
	if validity == "" {
		validity = broker.ValidityDay
	}
	return broker.OrderRequest{
		ClientOrderID:        p.ClientOrderID,
		Symbol:               p.Symbol,
		Side:                 broker.Side(p.Side),
		Quantity:             p.Quantity,
		OrderType:            broker.OrderType(p.OrderType),
		LimitPrice:           p.LimitPrice,
		TriggerPrice:         p.TriggerPrice,
		Validity:             validity,
		WarningsAcknowledged: p.WarningsAcknowledged,
	}, nil
}

type fillEventPayload struct {
	LegID          string  `json:"leg_id"`
	BrokerOrderID  string  `json:"broker_order_id"`
	Sequence       int64   `json:"sequence"`
	State          string  `json:"state"`
	FilledQuantity float64 `json:"filled_quantity"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	Reason         string  `json:"reason"`
	Timestamp      int64   `json:"timestamp_ms"`
}

// DecodeFillEvent parses an engine-shaped venue event from a webhook body.
func DecodeFillEvent(brokerID string, body []byte) (broker.FillEvent, error) {
	var p fillEventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return broker.FillEvent{}, fmt.Errorf("invalid json: %w", err)
	}
	if p.LegID == "" {
		return broker.FillEvent{}, fmt.Errorf("leg_id is required")
	}
	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.UnixMilli(p.Timestamp)
	}
	return broker.FillEvent{
		BrokerID:       brokerID,
		LegID:          p.LegID,
		BrokerOrderID:  p.BrokerOrderID,
		Sequence:       p.Sequence,
		State:          broker.LegState(p.State),
		FilledQuantity: p.FilledQuantity,
		AvgFillPrice:   p.AvgFillPrice,
		Reason:         p.Reason,
		Timestamp:      ts,
	}, nil
}
