package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseStatusFrame(t *testing.T) {
	tests := []struct {
		name         string
		frame        string
		wantKind     Result
		wantPayload  string
		wantDataSize int64
		wantErr      bool
	}{
		{name: "okay with message", frame: "OKAYDONE", wantKind: Success, wantPayload: "DONE"},
		{name: "bare okay", frame: "OKAY", wantKind: Success, wantPayload: ""},
		{name: "fail", frame: "FAILERROR_MESSAGE", wantKind: Fail, wantPayload: "ERROR_MESSAGE"},
		{name: "info", frame: "INFOerasing...", wantKind: Info, wantPayload: "erasing..."},
		{name: "text", frame: "TEXTpart", wantKind: Text, wantPayload: "part"},
		{name: "data", frame: "DATA00000400", wantKind: Data, wantPayload: "00000400", wantDataSize: 0x400},
		{name: "data uppercase hex", frame: "DATA0000ABCD", wantKind: Data, wantPayload: "0000ABCD", wantDataSize: 0xABCD},
		{name: "unknown prefix keeps whole frame", frame: "WHATisthis", wantKind: Unknown, wantPayload: "WHATisthis"},
		{name: "short frame", frame: "OK", wantErr: true},
		{name: "empty frame", frame: "", wantErr: true},
		{name: "bad data size", frame: "DATAzzzz", wantErr: true},
		{name: "missing data size", frame: "DATA", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatusFrame([]byte(tt.frame))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Fatalf("error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Payload != tt.wantPayload {
				t.Errorf("Payload = %q, want %q", got.Payload, tt.wantPayload)
			}
			if got.DataSize != tt.wantDataSize {
				t.Errorf("DataSize = %d, want %d", got.DataSize, tt.wantDataSize)
			}
		})
	}
}

func TestParseVariableLine(t *testing.T) {
	tests := []struct {
		line      string
		wantName  string
		wantValue string
		wantOK    bool
	}{
		{line: "product: walleye", wantName: "product", wantValue: "walleye", wantOK: true},
		{line: "partition-size:system_a: 0x100000", wantName: "partition-size:system_a", wantValue: "0x100000", wantOK: true},
		{line: "  has-slot:boot:yes", wantName: "has-slot:boot", wantValue: "yes", wantOK: true},
		{line: "empty-value:", wantName: "empty-value", wantValue: "", wantOK: true},
		{line: "no colon here", wantOK: false},
		{line: ":orphan", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, value, ok := ParseVariableLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if name != tt.wantName || value != tt.wantValue {
				t.Errorf("ParseVariableLine(%q) = (%q, %q), want (%q, %q)", tt.line, name, value, tt.wantName, tt.wantValue)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for value, want := range map[string]bool{
		"yes": true, "YES": true, "1": true, " yes ": true,
		"no": false, "0": false, "": false, "true": false,
	} {
		if got := ParseBool(value); got != want {
			t.Errorf("ParseBool(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "0x10000000", want: 256 << 20},
		{value: "0X400", want: 0x400},
		{value: "268435456", want: 256 << 20},
		{value: " 4096 ", want: 4096},
		{value: "", wantErr: true},
		{value: "0x", wantErr: true},
		{value: "lots", wantErr: true},
		{value: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSize(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestResponseErr(t *testing.T) {
	cause := errors.New("usb: pipe stalled")

	tests := []struct {
		name    string
		resp    Response
		check   func(error) bool
		wantMsg string
	}{
		{name: "success", resp: Response{Result: Success}, check: func(err error) bool { return err == nil }},
		{name: "data", resp: Response{Result: Data, DataSize: 16}, check: func(err error) bool { return err == nil }},
		{
			name:    "device failure keeps message",
			resp:    Response{Result: Fail, Message: "partition does not exist"},
			check:   IsDeviceError,
			wantMsg: "partition does not exist",
		},
		{
			name:  "transport failure wraps cause",
			resp:  Response{Result: Fail, Message: "status read failed: usb: pipe stalled", Cause: cause},
			check: func(err error) bool {
				return IsTransportError(err) && !IsDeviceError(err) && errors.Is(err, cause)
			},
			wantMsg: "status read failed: usb: pipe stalled",
		},
		{
			name:    "timeout",
			resp:    Response{Result: Timeout, Info: []string{"erasing"}},
			check:   IsTimeout,
			wantMsg: "erasing",
		},
		{
			name:    "unknown",
			resp:    Response{Result: Unknown, Message: "BLAH"},
			check:   func(err error) bool { var u *UnknownResponseError; return errors.As(err, &u) },
			wantMsg: "BLAH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Err()
			if !tt.check(err) {
				t.Fatalf("Err() = %v (%T), unexpected type", err, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Err() = %q, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestResultString(t *testing.T) {
	if got := Timeout.String(); got != "Timeout" {
		t.Errorf("Timeout.String() = %q", got)
	}
	if got := Result(42).String(); got != "Result(42)" {
		t.Errorf("Result(42).String() = %q", got)
	}
}
