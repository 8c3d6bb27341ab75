package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPersistenceAnomaly marks a write that reported a conflict but whose row
	// cannot be read back afterwards.
	ErrPersistenceAnomaly = errors.New("persistence anomaly")
	// ErrUpstream wraps failures from the language-model service.
	ErrUpstream = errors.New("upstream model service failed")
)
