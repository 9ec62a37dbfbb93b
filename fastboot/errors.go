package fastboot

import (
	"errors"
	"fmt"
)

// ErrUnexpectedResponse is returned when the device answers with a valid
// status that does not fit the exchange, such as OKAY to a download.
var ErrUnexpectedResponse = errors.New("unexpected response")

// VariableError indicates that a variable could not be read or interpreted.
type VariableError struct {
	Name  string
	Value string
	Err   error
}

func (e *VariableError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("variable %s: invalid value %q: %v", e.Name, e.Value, e.Err)
	}
	return fmt.Sprintf("variable %s: %v", e.Name, e.Err)
}

func (e *VariableError) Unwrap() error {
	return e.Err
}
