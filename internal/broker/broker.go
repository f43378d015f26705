// Package broker defines the venue adapter boundary. Every brokerage the
// engine can route to is represented by one Adapter implementation that
// translates generic leg requests into venue-specific calls and normalizes
// responses and errors into the engine's vocabulary.
package broker

import "context"

type Adapter interface {
	Name() string

	// PlaceLeg submits one leg to the venue and returns the venue-assigned
	// order id. The caller owns retry and failover policy.
	PlaceLeg(ctx context.Context, req LegRequest) (PlaceResult, error)

	CancelLeg(ctx context.Context, brokerOrderID string) error

	// PollStatus fetches the venue's current view of a previously placed leg.
	// Used by reconciliation when push events are missing or a dispatch
	// timed out without a definitive answer.
	PollStatus(ctx context.Context, brokerOrderID string) (LegStatus, error)

	// Heartbeat performs a cheap liveness probe against the venue.
	Heartbeat(ctx context.Context) error

	Capabilities() Capabilities
}

// FillSubscriber is implemented by adapters that can push fill events
// instead of relying on polling.
type FillSubscriber interface {
	SubscribeFills(ctx context.Context, callback func(FillEvent)) error
}
