package core

import "errors"

var (
	// ErrToolNotFound is returned when the model calls a name that is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrSessionNotFound is returned by operations that require a stored session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStorageNotReady signals that the backing table or keyspace does not exist yet.
	// Adapters return it (wrapped) so callers can Create and retry once.
	ErrStorageNotReady = errors.New("storage not ready")

	// ErrInvalidConfig is returned when options fail validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoModel is returned when an agent is constructed without a model gateway.
	ErrNoModel = errors.New("no model configured")
)
