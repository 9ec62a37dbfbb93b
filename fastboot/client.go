package fastboot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/moffa90/go-fastboot/protocol"
)

// emptyReadInterval is the pause after a read that returned no bytes.
const emptyReadInterval = time.Millisecond

// Client drives the fastboot command/response exchange over a device
// transport. It owns the per-session variable and slot caches.
//
// The protocol is half-duplex with one command in flight, so a Client is
// not safe for concurrent use.
type Client struct {
	device io.ReadWriter
	config Config

	vars  map[string]string
	slots map[string]bool
}

// readDeadliner is implemented by transports that can bound a blocking read,
// such as net.Conn and the transports in package transport.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// New creates a new Client with the given device and options.
// The device must implement io.ReadWriter; one Write carries one command
// and one Read returns at most one status frame.
//
// Example:
//
//	device, _ := transport.DialTCP(ctx, "192.168.1.20:5554")
//	client := fastboot.New(device,
//	    fastboot.WithProgressCallback(progressFunc),
//	    fastboot.WithReadTimeout(time.Minute),
//	)
func New(device io.ReadWriter, opts ...Option) *Client {
	if device == nil {
		panic("device cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		device: device,
		config: cfg,
		vars:   make(map[string]string),
		slots:  make(map[string]bool),
	}
}

// Reconnect replaces the underlying transport, for example after the device
// rebooted into fastbootd, and drops every cached value.
func (c *Client) Reconnect(device io.ReadWriter) {
	if device == nil {
		panic("device cannot be nil")
	}
	c.device = device
	c.InvalidateCache()
}

// Device returns the current transport.
func (c *Client) Device() io.ReadWriter {
	return c.device
}

// HandleResponse reads status frames until a terminal one arrives and
// returns the accumulated response. It never returns nil.
//
// INFO lines are collected in Response.Info and TEXT payloads are
// concatenated into Response.Text; both restart the idle timer. OKAY, FAIL,
// DATA and unknown prefixes end the exchange. When no frame arrives within
// the read timeout the result is Timeout.
func (c *Client) HandleResponse(ctx context.Context) *protocol.Response {
	resp := &protocol.Response{}
	buf := make([]byte, protocol.MaxResponseSize)
	last := time.Now()
	failures := 0

	defer c.clearReadDeadline()

	for {
		if err := ctx.Err(); err != nil {
			return failed(resp, "status read failed: "+err.Error(), err)
		}

		remaining := c.config.ReadTimeout - time.Since(last)
		if remaining <= 0 {
			resp.Result = protocol.Timeout
			return resp
		}
		c.setReadDeadline(ctx, remaining)

		n, err := c.device.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return failed(resp, "status read failed: "+ctxErr.Error(), ctxErr)
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				resp.Result = protocol.Timeout
				return resp
			}
			if isTransient(err) && failures < c.config.Retries {
				failures++
				c.logDebug("transient read failure", "error", err, "attempt", failures)
				continue
			}
			return failed(resp, "status read failed: "+err.Error(), err)
		}

		if n == 0 {
			// nothing yet; only the idle timeout ends a quiet exchange
			select {
			case <-ctx.Done():
			case <-time.After(emptyReadInterval):
			}
			continue
		}
		failures = 0

		frame, err := protocol.ParseStatusFrame(buf[:n])
		if err != nil {
			return failed(resp, err.Error(), err)
		}

		switch frame.Kind {
		case protocol.Info:
			resp.Info = append(resp.Info, frame.Payload)
			c.notify(protocol.Message{Kind: protocol.Info, Content: frame.Payload})
			last = time.Now()

		case protocol.Text:
			resp.Text += frame.Payload
			c.notify(protocol.Message{Kind: protocol.Text, Content: frame.Payload})
			last = time.Now()

		case protocol.Data:
			resp.Result = protocol.Data
			resp.Message = frame.Payload
			resp.DataSize = frame.DataSize
			return resp

		default:
			// Success, Fail and Unknown all end the exchange with the
			// payload as message.
			resp.Result = frame.Kind
			resp.Message = frame.Payload
			return resp
		}
	}
}

// RawCommand sends cmd unchanged and waits for the final status.
//
// The returned error is non-nil for any result other than Success or Data;
// the response is still returned so callers can inspect INFO lines. The
// response is nil only when the command could not be encoded.
//
// Example:
//
//	resp, err := client.RawCommand(ctx, "oem device-info")
//	for _, line := range resp.Info {
//	    fmt.Println(line)
//	}
func (c *Client) RawCommand(ctx context.Context, cmd string) (*protocol.Response, error) {
	frame, err := protocol.BuildCommand(cmd)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, frame)
}

// Download sends data to the device's download buffer.
func (c *Client) Download(ctx context.Context, data []byte) (*protocol.Response, error) {
	return c.DownloadStream(ctx, bytes.NewReader(data), int64(len(data)))
}

// DownloadStream announces size bytes with a download command, streams them
// from r once the device answers DATA, and returns the final status. On
// success Response.Hash holds the SHA-256 of everything sent.
//
// r must yield at least size bytes. Data is written in TransferChunkSize
// pieces and ProgressCallback is invoked after each one.
func (c *Client) DownloadStream(ctx context.Context, r io.Reader, size int64) (*protocol.Response, error) {
	cmd, err := protocol.BuildDownloadCmd(size)
	if err != nil {
		return nil, err
	}

	resp := c.exchange(ctx, cmd)
	if err := expectData(resp, size); err != nil {
		return resp, err
	}

	c.logDebug("download accepted", "size", size)

	digest := protocol.NewDigest()
	if err := c.writeData(ctx, io.TeeReader(r, digest), size); err != nil {
		return failed(&protocol.Response{}, "data write failed: "+err.Error(), err), err
	}

	final := c.HandleResponse(ctx)
	if final.Result == protocol.Success {
		final.Hash = digest.Hex()
	}
	return final, final.Err()
}

// Upload sends cmd, expects the device to answer DATA, copies exactly the
// announced number of bytes to w and returns the final status. It serves
// "upload:<file>", "fetch:..." and "get_staged".
func (c *Client) Upload(ctx context.Context, cmd string, w io.Writer) (*protocol.Response, error) {
	frame, err := protocol.BuildCommand(cmd)
	if err != nil {
		return nil, err
	}

	resp := c.exchange(ctx, frame)
	if err := expectData(resp, -1); err != nil {
		return resp, err
	}

	c.logDebug("upload started", "command", cmd, "size", resp.DataSize)

	if err := c.readData(ctx, w, resp.DataSize); err != nil {
		return failed(&protocol.Response{}, "data read failed: "+err.Error(), err), err
	}

	final := c.HandleResponse(ctx)
	return final, final.Err()
}

// send writes an encoded command and converts the response into an error.
func (c *Client) send(ctx context.Context, frame []byte) (*protocol.Response, error) {
	resp := c.exchange(ctx, frame)
	return resp, resp.Err()
}

// exchange writes one command and runs the read loop. Short writes are
// reported as failures and never retried.
func (c *Client) exchange(ctx context.Context, frame []byte) *protocol.Response {
	resp := &protocol.Response{}
	if err := ctx.Err(); err != nil {
		return failed(resp, "command write failed: "+err.Error(), err)
	}

	c.logDebug("command", "cmd", string(frame))

	n, err := c.device.Write(frame)
	if err != nil {
		return failed(resp, "command write failed: "+err.Error(), err)
	}
	if n != len(frame) {
		return failed(resp, "command write failed (short transfer)", io.ErrShortWrite)
	}

	resp = c.HandleResponse(ctx)
	if resp.Result == protocol.Fail {
		c.logDebug("command failed", "cmd", string(frame), "message", resp.Message)
	}
	return resp
}

// writeData streams size bytes from r to the device.
func (c *Client) writeData(ctx context.Context, r io.Reader, size int64) error {
	start := time.Now()
	buf := make([]byte, min(int64(c.config.TransferChunkSize), size))

	var done int64
	for done < size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		chunk := buf[:min(int64(len(buf)), size-done)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("source ended after %d of %d bytes: %w", done, size, io.ErrUnexpectedEOF)
			}
			return fmt.Errorf("read source: %w", err)
		}

		n, err := c.device.Write(chunk)
		if err != nil {
			return err
		}
		if n != len(chunk) {
			return io.ErrShortWrite
		}

		done += int64(n)
		c.reportProgress(PhaseDownload, done, size, start)
	}
	return nil
}

// readData copies exactly size bytes from the device to w.
func (c *Client) readData(ctx context.Context, w io.Writer, size int64) error {
	start := time.Now()
	buf := make([]byte, min(int64(c.config.TransferChunkSize), max(size, 1)))
	defer c.clearReadDeadline()

	var done int64
	last := start
	for done < size {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		c.setReadDeadline(ctx, c.config.ReadTimeout)

		n, err := c.device.Read(buf[:min(int64(len(buf)), size-done)])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write output: %w", werr)
			}
			done += int64(n)
			last = time.Now()
			c.reportProgress(PhaseUpload, done, size, start)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("device sent %d of %d bytes: %w", done, size, io.ErrUnexpectedEOF)
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return &protocol.TimeoutError{}
			}
			return err
		}

		if n == 0 {
			if time.Since(last) >= c.config.ReadTimeout {
				return &protocol.TimeoutError{}
			}
			select {
			case <-ctx.Done():
			case <-time.After(emptyReadInterval):
			}
		}
	}
	return nil
}

// setReadDeadline bounds the next read by the idle timeout or the context
// deadline, whichever comes first.
func (c *Client) setReadDeadline(ctx context.Context, timeout time.Duration) {
	d, ok := c.device.(readDeadliner)
	if !ok {
		return
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.SetReadDeadline(deadline); err != nil {
		c.logDebug("set read deadline failed", "error", err)
	}
}

func (c *Client) clearReadDeadline() {
	if d, ok := c.device.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Time{})
	}
}

// expectData checks that resp opened a data phase. A size of -1 accepts
// any announced length.
func expectData(resp *protocol.Response, size int64) error {
	switch {
	case resp.Result == protocol.Data:
		if size >= 0 && resp.DataSize != size {
			return fmt.Errorf("%w: device announced %d bytes, expected %d", ErrUnexpectedResponse, resp.DataSize, size)
		}
		return nil
	case resp.Result == protocol.Success:
		return fmt.Errorf("%w: got OKAY where DATA was expected", ErrUnexpectedResponse)
	default:
		return resp.Err()
	}
}

// isTransient reports whether a read error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func failed(resp *protocol.Response, msg string, cause error) *protocol.Response {
	resp.Result = protocol.Fail
	resp.Message = msg
	resp.Cause = cause
	return resp
}

// notify forwards an INFO or TEXT line to the message callback.
func (c *Client) notify(m protocol.Message) {
	if m.Kind == protocol.Info {
		c.logDebug("device info", "message", m.Content)
	}
	if c.config.MessageCallback != nil {
		c.config.MessageCallback(m)
	}
}

// Step reports a human-readable step through the step callback and the logger.
func (c *Client) Step(msg string) {
	c.logInfo(msg)
	if c.config.StepCallback != nil {
		c.config.StepCallback(msg)
	}
}

// reportProgress calls the progress callback if configured.
func (c *Client) reportProgress(phase string, done, total int64, start time.Time) {
	if c.config.ProgressCallback == nil {
		return
	}
	pct := 100.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	c.config.ProgressCallback(Progress{
		Phase:       phase,
		BytesDone:   done,
		TotalBytes:  total,
		Percentage:  pct,
		ElapsedTime: time.Since(start),
	})
}

// logDebug logs a debug message if a logger is configured.
func (c *Client) logDebug(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (c *Client) logInfo(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (c *Client) logError(msg string, keysAndValues ...interface{}) {
	if c.config.Logger != nil {
		c.config.Logger.Error(msg, keysAndValues...)
	}
}
