package models

import "errors"

// Error taxonomy shared across packages. Call sites wrap these with
// fmt.Errorf("...: %w", ...) and callers match with errors.Is.
var (
	// ErrInvalidAddress marks malformed IP or CIDR input.
	ErrInvalidAddress = errors.New("invalid IP address or CIDR")

	// ErrValidation marks a rule or group that violates construction
	// constraints (unknown attribute, out-of-range value, duplicate name).
	ErrValidation = errors.New("validation failed")

	// ErrLookupFailed marks an unreachable geo provider or a malformed
	// provider payload.
	ErrLookupFailed = errors.New("geo lookup failed")

	// ErrPersistence marks a failed read or write of a persisted document.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound marks an absent group, score or blacklist entry on an
	// operation that requires presence.
	ErrNotFound = errors.New("not found")
)
