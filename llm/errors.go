package llm

import "errors"

// Errors are classified as transient or fatal so the retry loop knows
// whether another attempt can help. Rate limits and upstream outages are
// transient; bad requests and auth failures are fatal.

// TransientError marks an error as retryable.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks an error as permanent.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as permanent.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether another attempt might succeed.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether retrying is pointless.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}
