package bootimg

import (
	"errors"

	"github.com/hashicorp/errwrap"
)

var (
	// ErrNotBootImage is returned when the boot magic is missing
	ErrNotBootImage = errors.New("not an Android boot image")

	// ErrUnsupportedVersion is returned for header versions above 4
	ErrUnsupportedVersion = errors.New("unsupported boot image header version")

	// ErrTruncated is returned when an image ends before its payloads do
	ErrTruncated = errors.New("boot image truncated")

	// ErrFieldTooLong is returned when a name or command line does not fit
	ErrFieldTooLong = errors.New("field too long")

	// ErrNotVbmeta is returned when the AVB magic is missing
	ErrNotVbmeta = errors.New("not a vbmeta image")
)

// eMsg wraps err with the action that failed. Both halves stay reachable
// through errwrap.Wrapper.
func eMsg(err error, action string) error {
	return errwrap.Wrapf(action+": {{err}}", err)
}

// Causes splits an error produced by this package into the failed action
// and the underlying error. Other errors are returned as the only element.
func Causes(err error) []error {
	if w, ok := err.(errwrap.Wrapper); ok {
		return w.WrappedErrors()
	}
	return []error{err}
}
