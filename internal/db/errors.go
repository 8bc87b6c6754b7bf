package db

import (
	"errors"
	"fmt"
)

// ErrStorage wraps every engine-level failure (disk, corruption, lock
// contention). Not-found is a nil result, never an error, so callers can
// tell "nothing there" from "storage broken" when deciding whether to retry.
var ErrStorage = errors.New("storage error")

// WrapErr wraps an engine error under ErrStorage with the failing operation.
// Returns nil for nil.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
