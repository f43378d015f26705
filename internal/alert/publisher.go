// Package alert emits the engine's outbound event stream. Consumers
// (notification, UI, analytics) subscribe; the engine only publishes.
package alert

import (
	"fmt"
	"sync"
	"time"

	"smartroute/internal/logger"
)

type EventType string

const (
	EventOrderAccepted    EventType = "OrderAccepted"
	EventLegDispatched    EventType = "LegDispatched"
	EventLegStatusChanged EventType = "LegStatusChanged"
	EventOrderStateChange EventType = "OrderStateChanged"
	EventRoutingFailover  EventType = "RoutingFailover"
	EventAuditHalt        EventType = "AuditHalt"
)

// Event carries a snapshot of the entity that changed. Sequence is
// monotonic per order; the coordinator publishes under the order lock, so
// subscribers observe each order's events in order.
type Event struct {
	Type      EventType `json:"type"`
	OrderID   string    `json:"order_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type Subscriber func(Event)

// TextNotifier mirrors the minimal notification interface so the publisher
// can push operator-facing messages without knowing the transport.
type TextNotifier interface {
	SendText(text string) error
}

type Publisher struct {
	mu       sync.RWMutex
	subs     []Subscriber
	notifier TextNotifier
}

func NewPublisher(notifier TextNotifier) *Publisher {
	return &Publisher{notifier: notifier}
}

func (p *Publisher) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Publish delivers the event to every subscriber synchronously. Failover and
// audit events additionally go to the operator notifier.
func (p *Publisher) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	p.mu.RLock()
	subs := append([]Subscriber(nil), p.subs...)
	notifier := p.notifier
	p.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}

	if notifier == nil {
		return
	}
	switch evt.Type {
	case EventRoutingFailover, EventAuditHalt:
		go func() {
			msg := fmt.Sprintf("[smartroute] %s order=%s %v", evt.Type, evt.OrderID, evt.Payload)
			if err := notifier.SendText(msg); err != nil {
				logger.Warnf("notifier send failed: %v", err)
			}
		}()
	}
}
