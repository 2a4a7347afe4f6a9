package hmip

import "errors"

var (
	// ErrInvalidTopic is returned for messages on topics the bridge does not handle.
	ErrInvalidTopic = errors.New("hmip bridge: invalid topic")

	// ErrInvalidMessage is returned when a command or request payload cannot be decoded.
	ErrInvalidMessage = errors.New("hmip bridge: invalid message")
)
