package models

import "errors"

var (
	// ErrInvalidInput marks requests the caller can fix: bad files, missing columns, empty questions.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotInitialized is returned when a question arrives before any document was processed.
	ErrNotInitialized = errors.New("no document has been processed for this session")
	// ErrExternalService wraps failures of the embedding, completion or vector backends.
	ErrExternalService = errors.New("external service failure")
)
