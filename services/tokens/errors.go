package tokens

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-entity lookups and targeted
// mutations when the referenced token does not exist.
var ErrNotFound = errors.New("token not found")

// ValidationError reports user-correctable bad input with a reason
// that is safe to surface verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// StorageError wraps a persistence failure. Callers surface it
// generically; the wrapped detail goes to the log.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token storage: %s", e.Err.Error())
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
