package entity

import "errors"

var (
	// ErrEntityNotFound is returned when no state exists for an entity id.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrInvalidEntityID is returned for ids not of the form <domain>.<object_id>.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")
)
