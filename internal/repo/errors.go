package repo

import "errors"

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when an active record already holds the
	// requested name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrInvalidTransition is returned when a status commit finds the record
	// no longer in the expected source state.
	ErrInvalidTransition = errors.New("invalid status transition")
)
