package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCommandTooLong is returned for commands above MaxCommandSize bytes
	ErrCommandTooLong = errors.New("command too long")

	// ErrMalformedFrame is returned for status frames shorter than a prefix
	ErrMalformedFrame = errors.New("status malformed")

	// ErrInvalidArgument is returned for arguments the device cannot accept
	ErrInvalidArgument = errors.New("invalid argument")
)

// DeviceError is a FAIL answer from the device.
type DeviceError struct {
	// Message is the device's text, unchanged
	Message string

	// Cause is an optional underlying error
	Cause error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("remote: %s", e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// TransportError is a failure on the host side of the exchange, such as a
// read or write error on the transport. The device never sent Message.
type TransportError struct {
	// Message describes the failed step, for example "status read failed: EOF"
	Message string

	// Err is the transport or context error
	Err error
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError means the device stopped sending frames for longer than the
// read timeout. It is distinct from DeviceError so callers can tell an
// unresponsive device from one that refused.
type TimeoutError struct {
	// Info holds the INFO lines received before the timeout
	Info []string
}

func (e *TimeoutError) Error() string {
	if len(e.Info) == 0 {
		return "timed out waiting for device response"
	}
	return fmt.Sprintf("timed out waiting for device response after: %s", strings.Join(e.Info, "; "))
}

// Timeout reports true so TimeoutError satisfies the net.Error convention.
func (e *TimeoutError) Timeout() bool {
	return true
}

// UnknownResponseError is a status frame with an unrecognized prefix.
type UnknownResponseError struct {
	// Frame is the complete frame as received
	Frame string
}

func (e *UnknownResponseError) Error() string {
	return fmt.Sprintf("unknown response: %q", e.Frame)
}

// IsDeviceError returns true if err is or wraps a DeviceError.
func IsDeviceError(err error) bool {
	var e *DeviceError
	return errors.As(err, &e)
}

// IsTransportError returns true if err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsTimeout returns true if err is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}
