package domain

import "errors"

var (
	// ErrDecode marks an inbound frame that could not be turned into an Event.
	ErrDecode = errors.New("pulseflow: malformed frame")
	// ErrDelivery marks a failed attempt to hand a frame to a subscriber.
	ErrDelivery = errors.New("pulseflow: delivery failed")
	// ErrSession marks a transport failure that ended a producer or subscriber session.
	ErrSession = errors.New("pulseflow: session failed")
	// ErrSessionClosed is returned by transports when the remote side closed cleanly.
	ErrSessionClosed = errors.New("pulseflow: session closed")
	// ErrInvalidConfig is returned when configuration is rejected at startup.
	ErrInvalidConfig = errors.New("pulseflow: invalid configuration")
	// ErrSubscriberClosed is returned when delivering to a subscriber that was already closed.
	ErrSubscriberClosed = errors.New("pulseflow: subscriber closed")
)
