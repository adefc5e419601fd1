package analysis

import "errors"

var (
	// ErrStoreUnavailable means the record store is not configured or could not be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrNotFound covers both absent records and records owned by someone else.
	ErrNotFound = errors.New("analysis not found")
	// ErrDeleteFailed means the lookup succeeded but the delete itself failed.
	ErrDeleteFailed = errors.New("analysis delete failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)
