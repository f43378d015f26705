package binance

import (
	"fmt"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/tidwall/gjson"

	"smartroute/internal/broker"
)

// NormalizeExecutionReport converts a raw user-data-stream executionReport
// payload into the engine's event shape. The stream's clientOrderId carries
// the engine's leg id, which is how the event finds its way home.
func NormalizeExecutionReport(brokerID string, payload []byte) (broker.FillEvent, error) {
	root := gjson.ParseBytes(payload)
	if typ := root.Get("e").String(); typ != "executionReport" {
		return broker.FillEvent{}, fmt.Errorf("not an executionReport: %q", typ)
	}

	legID := root.Get("c").String()
	if legID == "" {
		// Cancels report the original id under C.
		legID = root.Get("C").String()
	}
	if legID == "" {
		return broker.FillEvent{}, fmt.Errorf("executionReport without a client order id")
	}

	symbol := root.Get("s").String()
	filled := root.Get("z").Float()
	var avg float64
	if quote := root.Get("Z").Float(); quote > 0 && filled > 0 {
		avg = quote / filled
	} else {
		avg = root.Get("L").Float()
	}

	return broker.FillEvent{
		BrokerID:       brokerID,
		LegID:          legID,
		BrokerOrderID:  compositeID(symbol, root.Get("i").Int()),
		Sequence:       root.Get("E").Int(),
		State:          legState(gobinance.OrderStatusType(root.Get("X").String())),
		FilledQuantity: filled,
		AvgFillPrice:   avg,
		Reason:         root.Get("r").String(),
		Timestamp:      time.UnixMilli(root.Get("E").Int()),
	}, nil
}
