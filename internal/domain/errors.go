package domain

import "errors"

// Retrieval errors. Callers match them with errors.Is; the wrapping message
// carries the detail.
var (
	// ErrInvalidArgument indicates a malformed retrieve request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIndexUnavailable indicates the dense or sparse index could not serve the call.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrDeadlineExceeded indicates the call ran past its timeout.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrStreamConsumed is returned when a result stream is read a second time.
	ErrStreamConsumed = errors.New("stream already consumed")

	ErrNotFound = errors.New("not found")
)
