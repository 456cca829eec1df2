package job

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when a job does not exist or has expired.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidMetadata is returned when a stored record cannot be decoded.
	// Callers treat this as an internal error, not a missing job.
	ErrInvalidMetadata = errors.New("invalid job metadata")
)
