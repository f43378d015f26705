// Package store defines the persistence contract for orders, legs and the
// append-only event journal the coordinator replays after a restart.
package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

type OrderRecord struct {
	OrderID        string         `gorm:"primaryKey;size:64" json:"order_id"`
	ClientOrderID  string         `gorm:"uniqueIndex;size:64" json:"client_order_id"`
	Symbol         string         `gorm:"index;size:32" json:"symbol"`
	Side           string         `gorm:"size:8" json:"side"`
	Quantity       float64        `json:"quantity"`
	State          string         `gorm:"index;size:24" json:"state"`
	FilledQuantity float64        `json:"filled_quantity"`
	AvgFillPrice   float64        `json:"avg_fill_price"`
	PlanVersion    int            `json:"plan_version"`
	Halted         bool           `json:"halted"`
	Request        datatypes.JSON `json:"request"`
	Plan           datatypes.JSON `json:"plan"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

type LegRecord struct {
	LegID          string    `gorm:"primaryKey;size:64" json:"leg_id"`
	OrderID        string    `gorm:"index;size:64" json:"order_id"`
	BrokerID       string    `gorm:"index;size:32" json:"broker_id"`
	BrokerOrderID  string    `gorm:"size:64" json:"broker_order_id"`
	State          string    `gorm:"size:24" json:"state"`
	Quantity       float64   `json:"quantity"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	LastSequence   int64     `json:"last_sequence"`
	Reason         string    `gorm:"size:64" json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (LegRecord) TableName() string { return "order_legs" }

// EventRecord is one entry in the append-only journal. Never updated or
// deleted; replay rebuilds coordinator state.
type EventRecord struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string         `gorm:"index;size:64" json:"order_id"`
	LegID     string         `gorm:"index;size:64" json:"leg_id,omitempty"`
	Type      string         `gorm:"size:32" json:"type"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func (EventRecord) TableName() string { return "order_events" }

type Store interface {
	SaveOrder(ctx context.Context, rec OrderRecord) error
	SaveLeg(ctx context.Context, rec LegRecord) error
	AppendEvent(ctx context.Context, rec EventRecord) error

	GetOrder(ctx context.Context, orderID string) (*OrderRecord, error)
	ListOpenOrders(ctx context.Context) ([]OrderRecord, error)
	ListLegs(ctx context.Context, orderID string) ([]LegRecord, error)
	ListEvents(ctx context.Context, orderID string, limit int) ([]EventRecord, error)

	Close() error
}
