package contract

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAllPending          = errors.New("all pending")
	ErrAlreadyInstantiated = errors.New("contract already instantiated")
	ErrStateNotFound       = errors.New("contract state not found")
)

// ValidationError reports malformed caller input. Nothing is committed when it is returned.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// StorageError wraps a persistence failure. The call is aborted with no writes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Kind maps an error returned by Contract to a short label for logs, metrics and HTTP status mapping.
func Kind(err error) string {
	var verr *ValidationError
	var serr *StorageError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAllPending):
		return "all_pending"
	case errors.Is(err, ErrAlreadyInstantiated):
		return "already_instantiated"
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &serr):
		return "storage"
	default:
		return "internal"
	}
}
