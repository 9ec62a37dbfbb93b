package lp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace is returned when the block device cannot fit an allocation
	ErrNoSpace = errors.New("not enough space on super device")

	// ErrGroupFull is returned when a resize would exceed a group's maximum size
	ErrGroupFull = errors.New("partition group is full")

	// ErrExists is returned when adding a partition or group that already exists
	ErrExists = errors.New("already exists")

	// ErrNotFound is returned for unknown partition or group names
	ErrNotFound = errors.New("not found")
)

// InvalidDataError reports metadata that failed validation. Geometry and
// table failures are never recoverable.
type InvalidDataError struct {
	// What names the structure that failed, e.g. "geometry"
	What string

	// Reason describes the failed check
	Reason string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.What, e.Reason)
}

func invalid(what, format string, args ...interface{}) error {
	return &InvalidDataError{What: what, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidData reports whether err is or wraps an InvalidDataError.
func IsInvalidData(err error) bool {
	var e *InvalidDataError
	return errors.As(err, &e)
}
