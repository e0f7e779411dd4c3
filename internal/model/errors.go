package model

import "errors"

// Sentinel error kinds for the ingest scheduler. Callers should use
// errors.Is against these; call sites wrap with fmt.Errorf("...: %w", ...)
// to add context.
var (
	ErrBadRange        = errors.New("requested_start must be on or before requested_end")
	ErrBadWindow       = errors.New("window_days must be >= 1")
	ErrBadInput        = errors.New("invalid input")
	ErrNoUniverseMatch = errors.New("no symbols matched the universe filter")
	ErrNotFound        = errors.New("not found")
	ErrStoreFailure    = errors.New("store failure")
)
