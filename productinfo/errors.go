package productinfo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedVersion is returned for fastboot-info.txt files newer than
// this package understands.
var ErrUnsupportedVersion = errors.New("unsupported fastboot-info version")

// SyntaxError reports a malformed line.
type SyntaxError struct {
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// MismatchError reports a device that does not satisfy a requirement.
type MismatchError struct {
	Rule   Rule
	Device string
}

func (e *MismatchError) Error() string {
	if e.Rule.Reject {
		return fmt.Sprintf("device %s %q is rejected (line %d)", e.Rule.Name, e.Device, e.Rule.Line)
	}
	return fmt.Sprintf("device %s %q does not match %s (line %d)",
		e.Rule.Name, e.Device, strings.Join(e.Rule.Values, "|"), e.Rule.Line)
}
