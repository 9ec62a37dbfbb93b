package protocol

import "fmt"

// Result is the outcome of one exchange with the device.
type Result int

const (
	// Success means the device answered OKAY
	Success Result = iota

	// Fail means the device answered FAIL or the transport failed
	Fail

	// Text is used for TEXT messages passed to callbacks
	Text

	// Data means the device announced a data phase
	Data

	// Info is used for INFO messages passed to callbacks
	Info

	// Unknown means the device answered with an unrecognized prefix
	Unknown

	// Timeout means no terminal frame arrived within the idle timeout
	Timeout
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case Fail:
		return "Fail"
	case Text:
		return "Text"
	case Data:
		return "Data"
	case Info:
		return "Info"
	case Unknown:
		return "Unknown"
	case Timeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Frame is one decoded status frame.
type Frame struct {
	// Kind is Success, Fail, Info, Text, Data or Unknown
	Kind Result

	// Payload is the frame content after the prefix. For Unknown frames it
	// is the whole frame.
	Payload string

	// DataSize is the announced length of a DATA frame
	DataSize int64
}

// Message is an INFO or TEXT line received while a command runs.
type Message struct {
	// Kind is Info or Text
	Kind Result

	// Content is the message without its prefix
	Content string
}

// Response is the accumulated result of one command. A new Response is
// produced for every command.
type Response struct {
	// Result is the terminal state of the exchange
	Result Result

	// Message is the payload of the terminal frame
	Message string

	// DataSize is set when Result is Data
	DataSize int64

	// Info holds every INFO line in arrival order
	Info []string

	// Text is the concatenation of every TEXT payload
	Text string

	// Hash is the hex SHA-256 of the payload of a successful download
	Hash string

	// Cause is the transport or context error behind a Fail, if any
	Cause error
}

// Err converts a failed response into an error. Success and Data return nil.
// Device messages are carried unchanged; a Fail with a Cause came from the
// host side and becomes a TransportError.
func (r *Response) Err() error {
	switch r.Result {
	case Success, Data:
		return nil
	case Timeout:
		return &TimeoutError{Info: r.Info}
	case Unknown:
		return &UnknownResponseError{Frame: r.Message}
	default:
		if r.Cause != nil {
			return &TransportError{Message: r.Message, Err: r.Cause}
		}
		return &DeviceError{Message: r.Message}
	}
}
