package store

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStepLocked is returned when a forward step transition is attempted
	// before the prior step's artifact exists. The stored step is unchanged.
	ErrStepLocked = errors.New("workflow step locked")
)
