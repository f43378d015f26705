package routing

import "time"

type Strategy string

const (
	StrategySingle Strategy = "single"
	StrategySplit  Strategy = "split"
)

// Allocation assigns part of an order to one broker. Rank preserves the
// score order the allocation was made in.
type Allocation struct {
	BrokerID string  `json:"broker_id"`
	Quantity float64 `json:"quantity"`
	Rank     int     `json:"rank"`
}

// Plan is an immutable allocation of one order across brokers. A re-route
// never mutates a plan; it produces a new one with a higher version.
type Plan struct {
	PlanID          string       `json:"plan_id"`
	Version         int          `json:"version"`
	Strategy        Strategy     `json:"strategy"`
	Legs            []Allocation `json:"legs"`
	EstimatedCost   float64      `json:"estimated_cost"`
	EstimatedTimeMs float64      `json:"estimated_time_ms"`
	CreatedAt       time.Time    `json:"created_at"`
}

// TotalQuantity sums the plan's allocations.
func (p Plan) TotalQuantity() float64 {
	var total float64
	for _, leg := range p.Legs {
		total += leg.Quantity
	}
	return total
}
