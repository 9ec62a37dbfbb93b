package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReconnect is returned when a step needs the device to reboot
	// but no ReconnectFunc was configured
	ErrNoReconnect = errors.New("device must reboot but no reconnect function is configured")

	// ErrNoSlot is returned when a slot is requested on a device without slots
	ErrNoSlot = errors.New("no slot available")

	// ErrNoImages is returned when a product directory holds nothing to flash
	ErrNoImages = errors.New("no images found")
)

// RequirementError reports a product directory that does not match the
// connected device.
type RequirementError struct {
	Path string
	Err  error
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *RequirementError) Unwrap() error {
	return e.Err
}

// PartitionError reports the partition an operation failed on.
type PartitionError struct {
	Partition string
	Op        string
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Partition, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}
