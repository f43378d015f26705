package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind separates connection-level failures, which count against a
// venue's circuit breaker, from order-level failures, which do not.
type ErrorKind int

const (
	// KindConnectivity covers timeouts and unreachable venues. Retriable,
	// counted by the circuit breaker.
	KindConnectivity ErrorKind = iota
	// KindVenueRejection covers business rejections (bad symbol, margin,
	// rule violation). Surfaced immediately, never retried.
	KindVenueRejection
	// KindValidation covers requests the adapter refuses to send at all.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindVenueRejection:
		return "venue_rejection"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a normalized venue error.
type Error struct {
	Kind    ErrorKind
	Broker  string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker %s: %s (%s): %s", e.Broker, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("broker %s: %s: %s", e.Broker, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewConnectivityError(brokerID string, err error) *Error {
	return &Error{Kind: KindConnectivity, Broker: brokerID, Message: errText(err), Err: err}
}

func NewVenueRejection(brokerID, code, message string) *Error {
	return &Error{Kind: KindVenueRejection, Broker: brokerID, Code: code, Message: message}
}

func errText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

// KindOf classifies an arbitrary adapter error. Anything that is not an
// explicit venue rejection is treated as connectivity so the breaker stays
// conservative about flaky transports.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindConnectivity
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindConnectivity
	}
	return KindConnectivity
}

func IsConnectivity(err error) bool   { return err != nil && KindOf(err) == KindConnectivity }
func IsVenueRejection(err error) bool { return err != nil && KindOf(err) == KindVenueRejection }
