package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseStatusFrame decodes one status frame received from the device.
// The first four bytes select the kind, the rest is the payload.
//
// Frame structure:
//
//	[PREFIX(4)][PAYLOAD(0..252)]
//
// A DATA frame carries the announced size as 8 hex digits. Frames with an
// unrecognized prefix decode to Unknown with the whole frame as payload.
func ParseStatusFrame(frame []byte) (Frame, error) {
	if len(frame) < PrefixSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes", ErrMalformedFrame, len(frame))
	}

	prefix := string(frame[:PrefixSize])
	payload := string(frame[PrefixSize:])

	switch prefix {
	case PrefixOkay:
		return Frame{Kind: Success, Payload: payload}, nil
	case PrefixFail:
		return Frame{Kind: Fail, Payload: payload}, nil
	case PrefixInfo:
		return Frame{Kind: Info, Payload: payload}, nil
	case PrefixText:
		return Frame{Kind: Text, Payload: payload}, nil
	case PrefixData:
		size, err := ParseDataSize(payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: Data, Payload: payload, DataSize: size}, nil
	default:
		return Frame{Kind: Unknown, Payload: string(frame)}, nil
	}
}

// ParseDataSize decodes the hex size carried by a DATA frame.
func ParseDataSize(payload string) (int64, error) {
	s := strings.TrimSpace(payload)
	if s == "" {
		return 0, fmt.Errorf("%w: empty DATA size", ErrMalformedFrame)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid DATA size %q", ErrMalformedFrame, payload)
	}
	return int64(n), nil
}

// ParseVariableLine splits one INFO line of a "getvar:all" response into
// its name and value. The split happens at the last colon so names that
// contain colons, such as "partition-size:system_a", survive intact.
func ParseVariableLine(line string) (name, value string, ok bool) {
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:i])
	value = strings.TrimLeft(line[i+1:], " \t")
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

// ParseBool interprets a yes/no variable value. Only "yes" and "1" are true.
func ParseBool(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	return v == "yes" || v == "1"
}

// ParseSize interprets a size variable such as max-download-size or
// partition-size. Devices report these as 0x-prefixed hex or as decimal.
func ParseSize(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("%w: empty size", ErrInvalidArgument)
	}

	var (
		n   uint64
		err error
	)
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		n, err = strconv.ParseUint(v[2:], 16, 63)
	} else {
		n, err = strconv.ParseUint(v, 10, 63)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: invalid size %q", ErrInvalidArgument, value)
	}
	return int64(n), nil
}
