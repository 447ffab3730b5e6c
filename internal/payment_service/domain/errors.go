package domain

import "errors"

var (
	// ErrNotFound is returned when a transaction does not exist.
	ErrNotFound = errors.New("transaction not found")
	// ErrValidation marks malformed input to checkout or method processing.
	// Never retried automatically; surfaced as a correctable caller error.
	ErrValidation = errors.New("validation failed")
	// ErrTransport marks a gateway/network failure. Surfaced verbatim; the
	// caller decides whether to re-invoke the same phase.
	ErrTransport = errors.New("transport failure")
	// ErrMissingCorrelation is returned when a status operation is attempted
	// on a record that never acquired a gateway transaction id. Distinct from
	// "pending": it indicates a caller bug or a checkout that never completed.
	ErrMissingCorrelation = errors.New("missing gateway transaction id")
	// ErrInvalidStateTransition is returned for any move outside the
	// transition table, including approval of a non-pending-validation record.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)
