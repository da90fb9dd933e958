package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no verified caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput is returned for a missing or malformed session identifier.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaMissing reports that the backing schema for session history is absent.
	// FallbackStore consumes it and switches to pointer mode.
	ErrSchemaMissing = errors.New("session schema missing")

	// ErrStorageFailure is the kind attached to every non-recoverable store fault.
	ErrStorageFailure = errors.New("storage failure")

	// ErrSessionNotFound is returned by TouchLastActive when the identifier is no longer active.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAccountNotFound is returned by pointer stores when the account row does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// OpError attaches the originating operation to an error.
//
// Kind is one of the sentinels above; Err is the underlying cause (may be nil).
// errors.Is matches both.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opErr(op string, kind, err error) error {
	return OpError{Op: op, Kind: kind, Err: err}
}

// IsUnauthenticated reports whether err represents ErrUnauthenticated.
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsStorageFailure reports whether err represents ErrStorageFailure.
func IsStorageFailure(err error) bool { return errors.Is(err, ErrStorageFailure) }
