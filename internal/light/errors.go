package light

import "errors"

var (
	// ErrEntityNotFound is returned for service calls addressing unknown entities.
	ErrEntityNotFound = errors.New("light: entity not found")

	// ErrInvalidParameters is returned when service data fails validation.
	ErrInvalidParameters = errors.New("light: invalid service parameters")

	// ErrUnknownService is returned for services other than turn_on, turn_off and toggle.
	ErrUnknownService = errors.New("light: unknown service")
)
