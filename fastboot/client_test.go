package fastboot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/moffa90/go-fastboot/protocol"
)

// readItem is one scripted answer to a Read call.
type readItem struct {
	data []byte
	err  error
}

// MockDevice simulates a fastboot device for testing. Reads return scripted
// frames in order; writes are recorded one entry per call.
type MockDevice struct {
	reads    []readItem
	readIdx  int
	writes   [][]byte
	writeErr error
	shortBy  int

	// emptyErr is returned once the script is exhausted
	emptyErr error
}

func NewMockDevice() *MockDevice {
	return &MockDevice{emptyErr: io.EOF}
}

func (m *MockDevice) Read(p []byte) (int, error) {
	if m.readIdx >= len(m.reads) {
		return 0, m.emptyErr
	}
	item := m.reads[m.readIdx]
	m.readIdx++
	if item.err != nil {
		return 0, item.err
	}
	n := copy(p, item.data)
	return n, nil
}

func (m *MockDevice) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return len(p) - m.shortBy, nil
}

// AddResponse queues status frames.
func (m *MockDevice) AddResponse(frames ...string) {
	for _, f := range frames {
		m.reads = append(m.reads, readItem{data: []byte(f)})
	}
}

// AddData queues raw payload bytes returned by upload reads.
func (m *MockDevice) AddData(data []byte) {
	m.reads = append(m.reads, readItem{data: data})
}

// AddReadError queues a read failure.
func (m *MockDevice) AddReadError(err error) {
	m.reads = append(m.reads, readItem{err: err})
}

// Commands returns every write as a string.
func (m *MockDevice) Commands() []string {
	out := make([]string, len(m.writes))
	for i, w := range m.writes {
		out[i] = string(w)
	}
	return out
}

// DeadlineDevice is a MockDevice that also implements SetReadDeadline and
// reports an expired deadline once the script runs out.
type DeadlineDevice struct {
	*MockDevice
	deadlines []time.Time
}

func NewDeadlineDevice() *DeadlineDevice {
	m := NewMockDevice()
	m.emptyErr = os.ErrDeadlineExceeded
	return &DeadlineDevice{MockDevice: m}
}

func (d *DeadlineDevice) SetReadDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	return nil
}

// SlowDevice is a MockDevice whose reads each take delay.
type SlowDevice struct {
	*MockDevice
	delay time.Duration
}

func (d *SlowDevice) Read(p []byte) (int, error) {
	time.Sleep(d.delay)
	return d.MockDevice.Read(p)
}

// Mock logger for testing
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

func TestNew(t *testing.T) {
	device := NewMockDevice()

	tests := []struct {
		name    string
		options []Option
		check   func(*testing.T, Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c Config) {
				if c.ReadTimeout != protocol.DefaultReadTimeout {
					t.Errorf("ReadTimeout = %v, want %v", c.ReadTimeout, protocol.DefaultReadTimeout)
				}
				if c.TransferChunkSize != protocol.DefaultTransferChunkSize {
					t.Errorf("TransferChunkSize = %d, want %d", c.TransferChunkSize, protocol.DefaultTransferChunkSize)
				}
				if c.Retries != protocol.DefaultRetries {
					t.Errorf("Retries = %d, want %d", c.Retries, protocol.DefaultRetries)
				}
			},
		},
		{
			name:    "custom options",
			options: []Option{WithReadTimeout(time.Second), WithTransferChunkSize(512), WithRetries(7), WithLogger(&MockLogger{})},
			check: func(t *testing.T, c Config) {
				if c.ReadTimeout != time.Second || c.TransferChunkSize != 512 || c.Retries != 7 || c.Logger == nil {
					t.Errorf("options not applied: %+v", c)
				}
			},
		},
		{
			name:    "invalid values ignored",
			options: []Option{WithReadTimeout(0), WithTransferChunkSize(-1), WithRetries(-2)},
			check: func(t *testing.T, c Config) {
				if c.ReadTimeout != protocol.DefaultReadTimeout || c.TransferChunkSize != protocol.DefaultTransferChunkSize || c.Retries != protocol.DefaultRetries {
					t.Errorf("invalid options changed config: %+v", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(device, tt.options...)
			tt.check(t, c.config)
		})
	}
}

func TestNewPanicsWithNilDevice(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil) should panic")
		}
	}()
	New(nil)
}

func TestRawCommandScenarios(t *testing.T) {
	tests := []struct {
		name        string
		frames      []string
		wantResult  protocol.Result
		wantMessage string
		wantInfo    []string
		wantText    string
		wantSize    int64
		wantErr     bool
	}{
		{
			name:        "okay",
			frames:      []string{"OKAYDONE"},
			wantResult:  protocol.Success,
			wantMessage: "DONE",
		},
		{
			name:        "fail",
			frames:      []string{"FAILERROR_MESSAGE"},
			wantResult:  protocol.Fail,
			wantMessage: "ERROR_MESSAGE",
			wantErr:     true,
		},
		{
			name:       "info accumulation",
			frames:     []string{"INFOline one", "INFOline two", "OKAY"},
			wantResult: protocol.Success,
			wantInfo:   []string{"line one", "line two"},
		},
		{
			name:       "text concatenation",
			frames:     []string{"TEXThello ", "TEXTworld", "OKAY"},
			wantResult: protocol.Success,
			wantText:   "hello world",
		},
		{
			name:        "data",
			frames:      []string{"DATA00000400"},
			wantResult:  protocol.Data,
			wantMessage: "00000400",
			wantSize:    0x400,
		},
		{
			name:        "unknown prefix",
			frames:      []string{"WEIRDframe"},
			wantResult:  protocol.Unknown,
			wantMessage: "WEIRDframe",
			wantErr:     true,
		},
		{
			name:        "malformed frame",
			frames:      []string{"OK"},
			wantResult:  protocol.Fail,
			wantMessage: "status malformed",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := NewMockDevice()
			device.AddResponse(tt.frames...)
			c := New(device)

			resp, err := c.RawCommand(context.Background(), "getvar:product")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if resp.Result != tt.wantResult {
				t.Errorf("Result = %v, want %v", resp.Result, tt.wantResult)
			}
			if !strings.HasPrefix(resp.Message, tt.wantMessage) {
				t.Errorf("Message = %q, want prefix %q", resp.Message, tt.wantMessage)
			}
			if strings.Join(resp.Info, "|") != strings.Join(tt.wantInfo, "|") {
				t.Errorf("Info = %q, want %q", resp.Info, tt.wantInfo)
			}
			if resp.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", resp.Text, tt.wantText)
			}
			if resp.DataSize != tt.wantSize {
				t.Errorf("DataSize = %d, want %d", resp.DataSize, tt.wantSize)
			}
			if got := device.Commands(); len(got) != 1 || got[0] != "getvar:product" {
				t.Errorf("commands = %q, want [getvar:product]", got)
			}
		})
	}
}

func TestRawCommandDeviceErrorMessage(t *testing.T) {
	device := NewMockDevice()
	device.AddResponse("FAILpartition table doesn't exist")
	c := New(device)

	_, err := c.RawCommand(context.Background(), "flash:nope")
	var devErr *protocol.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("error = %v, want *protocol.DeviceError", err)
	}
	if devErr.Message != "partition table doesn't exist" {
		t.Errorf("Message = %q, want exact device text", devErr.Message)
	}
}

func TestRawCommandWriteFailures(t *testing.T) {
	t.Run("short write", func(t *testing.T) {
		device := NewMockDevice()
		device.shortBy = 1
		resp, err := New(device).RawCommand(context.Background(), "reboot")
		if err == nil {
			t.Fatal("expected error")
		}
		if resp.Message != "command write failed (short transfer)" {
			t.Errorf("Message = %q", resp.Message)
		}
		if len(device.writes) != 1 {
			t.Errorf("short write retried: %d writes", len(device.writes))
		}
	})

	t.Run("write error", func(t *testing.T) {
		device := NewMockDevice()
		device.writeErr = errors.New("pipe broken")
		resp, err := New(device).RawCommand(context.Background(), "reboot")
		if !errors.Is(err, device.writeErr) {
			t.Fatalf("error = %v, want wrapped write error", err)
		}
		if !strings.HasPrefix(resp.Message, "command write failed: ") {
			t.Errorf("Message = %q", resp.Message)
		}
	})

	t.Run("too long", func(t *testing.T) {
		device := NewMockDevice()
		_, err := New(device).RawCommand(context.Background(), "oem "+strings.Repeat("x", protocol.MaxCommandSize))
		if !errors.Is(err, protocol.ErrCommandTooLong) {
			t.Fatalf("error = %v, want ErrCommandTooLong", err)
		}
		if len(device.writes) != 0 {
			t.Error("oversized command reached the device")
		}
	})
}

func TestHandleResponseReadFailures(t *testing.T) {
	t.Run("transient errors are retried", func(t *testing.T) {
		device := NewMockDevice()
		device.AddReadError(syscall.EINTR)
		device.AddReadError(syscall.EAGAIN)
		device.AddResponse("OKAY")
		resp := New(device).HandleResponse(context.Background())
		if resp.Result != protocol.Success {
			t.Errorf("Result = %v, want Success", resp.Result)
		}
	})

	t.Run("retries are bounded", func(t *testing.T) {
		device := NewMockDevice()
		for i := 0; i < 3; i++ {
			device.AddReadError(syscall.EINTR)
		}
		device.AddResponse("OKAY")
		resp := New(device, WithRetries(2)).HandleResponse(context.Background())
		if resp.Result != protocol.Fail {
			t.Fatalf("Result = %v, want Fail", resp.Result)
		}
		if !strings.HasPrefix(resp.Message, "status read failed: ") {
			t.Errorf("Message = %q", resp.Message)
		}
	})

	t.Run("empty reads are retried", func(t *testing.T) {
		device := NewMockDevice()
		device.AddData(nil)
		device.AddResponse("OKAYfine")
		resp := New(device).HandleResponse(context.Background())
		if resp.Result != protocol.Success || resp.Message != "fine" {
			t.Errorf("got %v %q, want Success fine", resp.Result, resp.Message)
		}
	})

	t.Run("many empty reads before the answer", func(t *testing.T) {
		device := NewMockDevice()
		for i := 0; i < 8; i++ {
			device.AddData(nil)
		}
		device.AddResponse("OKAY")
		resp := New(device, WithReadTimeout(time.Second), WithRetries(2)).HandleResponse(context.Background())
		if resp.Result != protocol.Success {
			t.Errorf("Result = %v %q, want Success", resp.Result, resp.Message)
		}
	})

	t.Run("silent device times out", func(t *testing.T) {
		device := NewMockDevice()
		device.emptyErr = nil // every read returns no bytes and no error
		start := time.Now()
		resp := New(device, WithReadTimeout(50*time.Millisecond)).HandleResponse(context.Background())
		if resp.Result != protocol.Timeout {
			t.Fatalf("Result = %v %q, want Timeout", resp.Result, resp.Message)
		}
		if !protocol.IsTimeout(resp.Err()) || protocol.IsDeviceError(resp.Err()) {
			t.Errorf("Err() = %v, want TimeoutError only", resp.Err())
		}
		if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
			t.Errorf("timed out after %v, before the idle timeout", elapsed)
		}
	})

	t.Run("hard error", func(t *testing.T) {
		device := NewMockDevice()
		resp := New(device).HandleResponse(context.Background())
		if resp.Result != protocol.Fail || !errors.Is(resp.Err(), io.EOF) {
			t.Errorf("got %v %v, want Fail wrapping EOF", resp.Result, resp.Err())
		}
		if !protocol.IsTransportError(resp.Err()) || protocol.IsDeviceError(resp.Err()) {
			t.Errorf("Err() = %T, want TransportError", resp.Err())
		}
	})

	t.Run("info lines reset the idle timer", func(t *testing.T) {
		device := &SlowDevice{MockDevice: NewMockDevice(), delay: 60 * time.Millisecond}
		device.AddResponse("INFOstep", "INFOstep", "INFOstep", "INFOstep", "OKAY")
		resp := New(device, WithReadTimeout(100*time.Millisecond)).HandleResponse(context.Background())
		if resp.Result != protocol.Success {
			t.Fatalf("Result = %v, want Success", resp.Result)
		}
		if len(resp.Info) != 4 {
			t.Errorf("Info = %q, want 4 lines", resp.Info)
		}
	})

	t.Run("quiet stretch after info times out", func(t *testing.T) {
		device := &SlowDevice{MockDevice: NewMockDevice(), delay: 60 * time.Millisecond}
		device.AddResponse("INFOstep")
		for i := 0; i < 4; i++ {
			device.AddData(nil)
		}
		device.AddResponse("OKAY")
		resp := New(device, WithReadTimeout(100*time.Millisecond)).HandleResponse(context.Background())
		if resp.Result != protocol.Timeout {
			t.Fatalf("Result = %v, want Timeout", resp.Result)
		}
		if len(resp.Info) != 1 {
			t.Errorf("Info = %q, want 1 line", resp.Info)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		device := NewDeadlineDevice()
		device.AddResponse("INFOworking")
		resp := New(device, WithReadTimeout(time.Second)).HandleResponse(context.Background())
		if resp.Result != protocol.Timeout {
			t.Fatalf("Result = %v, want Timeout", resp.Result)
		}
		if !protocol.IsTimeout(resp.Err()) || protocol.IsDeviceError(resp.Err()) {
			t.Errorf("Err() = %v, want TimeoutError only", resp.Err())
		}
		if len(resp.Info) != 1 {
			t.Errorf("Info = %q, want the line received before the timeout", resp.Info)
		}
		if len(device.deadlines) == 0 {
			t.Error("read deadline was never set")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		device := NewMockDevice()
		device.AddResponse("OKAY")
		resp := New(device).HandleResponse(ctx)
		if resp.Result != protocol.Fail || !errors.Is(resp.Err(), context.Canceled) {
			t.Errorf("got %v %v, want Fail wrapping context.Canceled", resp.Result, resp.Err())
		}
	})
}

func TestMessageCallback(t *testing.T) {
	device := NewMockDevice()
	device.AddResponse("INFOerasing", "TEXTpartial", "OKAY")

	var got []protocol.Message
	c := New(device, WithMessageCallback(func(m protocol.Message) { got = append(got, m) }))
	if _, err := c.RawCommand(context.Background(), "erase:cache"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 || got[0].Kind != protocol.Info || got[0].Content != "erasing" || got[1].Kind != protocol.Text {
		t.Errorf("messages = %+v", got)
	}
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("fastboot"), 300) // 2400 bytes

	device := NewMockDevice()
	device.AddResponse("DATA00000960", "OKAY")

	var progress []Progress
	c := New(device,
		WithTransferChunkSize(1000),
		WithProgressCallback(func(p Progress) { progress = append(progress, p) }),
	)

	resp, err := c.Download(context.Background(), payload)
	if err != nil {
		t.Fatalf("Download() unexpected error: %v", err)
	}
	if resp.Hash != protocol.HashBytes(payload) {
		t.Errorf("Hash = %s, want %s", resp.Hash, protocol.HashBytes(payload))
	}

	cmds := device.Commands()
	if cmds[0] != "download:00000960" {
		t.Errorf("command = %q, want download:00000960", cmds[0])
	}
	if len(cmds) != 4 {
		t.Fatalf("writes = %d, want command + 3 chunks", len(cmds))
	}
	if len(device.writes[1]) != 1000 || len(device.writes[3]) != 400 {
		t.Errorf("chunk sizes = %d/%d/%d", len(device.writes[1]), len(device.writes[2]), len(device.writes[3]))
	}
	if !bytes.Equal(bytes.Join(device.writes[1:], nil), payload) {
		t.Error("payload on the wire differs from input")
	}

	if len(progress) != 3 || progress[2].BytesDone != 2400 || progress[2].Percentage != 100 {
		t.Errorf("progress = %+v", progress)
	}
}

func TestDownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		frames  []string
		check   func(error) bool
		wantCmd int
	}{
		{
			name:    "device refuses",
			frames:  []string{"FAILdata too large"},
			check:   protocol.IsDeviceError,
			wantCmd: 1,
		},
		{
			name:    "okay instead of data",
			frames:  []string{"OKAY"},
			check:   func(err error) bool { return errors.Is(err, ErrUnexpectedResponse) },
			wantCmd: 1,
		},
		{
			name:    "size mismatch",
			frames:  []string{"DATA00000004"},
			check:   func(err error) bool { return errors.Is(err, ErrUnexpectedResponse) },
			wantCmd: 1,
		},
		{
			name:    "flash verification fails",
			frames:  []string{"DATA00000010", "FAILbad image"},
			check:   protocol.IsDeviceError,
			wantCmd: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := NewMockDevice()
			device.AddResponse(tt.frames...)
			resp, err := New(device).Download(context.Background(), make([]byte, 16))
			if !tt.check(err) {
				t.Fatalf("error = %v, unexpected", err)
			}
			if resp == nil {
				t.Fatal("response is nil")
			}
			if resp.Hash != "" {
				t.Error("Hash set on failed download")
			}
			if len(device.writes) != tt.wantCmd {
				t.Errorf("writes = %d, want %d", len(device.writes), tt.wantCmd)
			}
		})
	}
}

func TestDownloadStreamShortSource(t *testing.T) {
	device := NewMockDevice()
	device.AddResponse("DATA00000010")

	_, err := New(device).DownloadStream(context.Background(), bytes.NewReader(make([]byte, 8)), 16)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestUpload(t *testing.T) {
	payload := []byte("kernel log line 1\nkernel log line 2\n")

	device := NewMockDevice()
	device.AddResponse("DATA00000024")
	device.AddData(payload[:10])
	device.AddData(payload[10:])
	device.AddResponse("OKAY")

	var out bytes.Buffer
	resp, err := New(device).UploadFile(context.Background(), "last_kmsg", &out)
	if err != nil {
		t.Fatalf("UploadFile() unexpected error: %v", err)
	}
	if resp.Result != protocol.Success {
		t.Errorf("Result = %v", resp.Result)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("uploaded %q, want %q", out.Bytes(), payload)
	}
	if device.Commands()[0] != "upload:last_kmsg" {
		t.Errorf("command = %q", device.Commands()[0])
	}
}

func TestUploadTruncated(t *testing.T) {
	device := NewMockDevice()
	device.AddResponse("DATA00000100")
	device.AddData([]byte("short"))

	var out bytes.Buffer
	_, err := New(device).GetStaged(context.Background(), &out)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want io.ErrUnexpectedEOF", err)
	}
	if out.String() != "short" {
		t.Errorf("partial output = %q", out.String())
	}
}

func TestUploadEmptyReads(t *testing.T) {
	t.Run("gaps in the data phase are tolerated", func(t *testing.T) {
		device := NewMockDevice()
		device.AddResponse("DATA00000008")
		device.AddData([]byte("abcd"))
		for i := 0; i < 6; i++ {
			device.AddData(nil)
		}
		device.AddData([]byte("efgh"))
		device.AddResponse("OKAY")

		var out bytes.Buffer
		if _, err := New(device, WithReadTimeout(time.Second)).GetStaged(context.Background(), &out); err != nil {
			t.Fatalf("GetStaged() unexpected error: %v", err)
		}
		if out.String() != "abcdefgh" {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("silent data phase times out", func(t *testing.T) {
		device := NewMockDevice()
		device.AddResponse("DATA00000008")
		device.AddData([]byte("abcd"))
		device.emptyErr = nil

		var out bytes.Buffer
		_, err := New(device, WithReadTimeout(50*time.Millisecond)).GetStaged(context.Background(), &out)
		if !protocol.IsTimeout(err) || protocol.IsDeviceError(err) {
			t.Fatalf("error = %v, want TimeoutError", err)
		}
	})
}
