// Package apperr defines the sentinel errors shared across services.
package apperr

import "errors"

var (
	// ErrNotFound means the link (or log entry) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the caller supplied malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUpload means the object-storage relay failed or returned an
	// unusable URL.
	ErrUpload = errors.New("upload failed")
	// ErrNoLogEntry means an operation required an existing log entry and
	// the link has none.
	ErrNoLogEntry = errors.New("no log entry recorded")
)
