package hmip

import "errors"

var (
	// ErrUnauthorized is returned when the cloud rejects the auth token (HTTP 401/403).
	ErrUnauthorized = errors.New("hmip: unauthorized")

	// ErrRequestFailed is returned for any other non-2xx REST reply.
	ErrRequestFailed = errors.New("hmip: request failed")

	// ErrLookupFailed is returned when the REST/WebSocket hosts cannot be resolved.
	ErrLookupFailed = errors.New("hmip: host lookup failed")

	// ErrNotLookedUp is returned when a request is made before Lookup succeeded.
	ErrNotLookedUp = errors.New("hmip: hosts not looked up")

	// ErrNoController is returned by Device control methods on a device
	// that is not bound to a Controller.
	ErrNoController = errors.New("hmip: device has no controller")

	// ErrChannelNotFound is returned when a device lacks the addressed channel.
	ErrChannelNotFound = errors.New("hmip: functional channel not found")

	// ErrInvalidEvent is returned for push messages that cannot be decoded.
	ErrInvalidEvent = errors.New("hmip: invalid push event")
)
