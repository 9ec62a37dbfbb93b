package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// UDP packet ids.
const (
	udpIDError    byte = 0x00
	udpIDQuery    byte = 0x01
	udpIDInit     byte = 0x02
	udpIDFastboot byte = 0x03
)

const (
	udpFlagContinuation byte = 0x01

	udpHeaderSize = 4

	// UDPVersion is the protocol version offered during initialization
	UDPVersion = 1

	// UDPHostMaxPacketSize is the largest packet the host accepts
	UDPHostMaxPacketSize = 2048

	// UDPMinPacketSize is the smallest packet size a device may negotiate
	UDPMinPacketSize = 512

	// UDPResponseTimeout bounds the wait for one response packet
	UDPResponseTimeout = 500 * time.Millisecond

	// UDPMaxAttempts bounds transmissions of one packet
	UDPMaxAttempts = 10

	udpPollInterval = 5 * time.Millisecond
)

// ErrDeviceReported is returned when the device answers with an error packet.
var ErrDeviceReported = errors.New("device reported an error")

// UDPConn is a fastboot-over-UDP connection.
//
// Every Write is sent as one or more packets, each acknowledged by the
// device. Data carried by the acknowledgements is buffered for Read.
type UDPConn struct {
	conn net.Conn

	mu            sync.Mutex
	seq           uint16
	maxData       int
	pending       [][]byte
	readDeadline  time.Time
	attempts      int
	responseLimit time.Duration
}

// DialUDP connects to a device at addr (host:port) and runs the query and
// initialization exchange.
func DialUDP(ctx context.Context, addr string) (*UDPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, err := NewUDPConn(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewUDPConn runs the handshake over a connected datagram socket.
func NewUDPConn(ctx context.Context, conn net.Conn) (*UDPConn, error) {
	c := &UDPConn{
		conn:          conn,
		maxData:       UDPMinPacketSize - udpHeaderSize,
		attempts:      UDPMaxAttempts,
		responseLimit: UDPResponseTimeout,
	}
	if err := c.handshake(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *UDPConn) handshake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// the query is answered with the sequence number to continue from
	resp, _, err := c.exchange(ctx, udpIDQuery, 0, nil)
	if err != nil {
		return fmt.Errorf("%w: query: %v", ErrHandshake, err)
	}
	if len(resp) < 2 {
		return fmt.Errorf("%w: query reply of %d bytes", ErrHandshake, len(resp))
	}
	c.seq = binary.BigEndian.Uint16(resp)

	offer := make([]byte, 4)
	binary.BigEndian.PutUint16(offer[0:2], UDPVersion)
	binary.BigEndian.PutUint16(offer[2:4], UDPHostMaxPacketSize)
	resp, _, err = c.exchange(ctx, udpIDInit, 0, offer)
	if err != nil {
		return fmt.Errorf("%w: init: %v", ErrHandshake, err)
	}
	if len(resp) < 4 {
		return fmt.Errorf("%w: init reply of %d bytes", ErrHandshake, len(resp))
	}

	version := binary.BigEndian.Uint16(resp[0:2])
	packetSize := int(binary.BigEndian.Uint16(resp[2:4]))
	if version < UDPVersion {
		return fmt.Errorf("%w: device protocol version %d", ErrHandshake, version)
	}
	if packetSize < UDPMinPacketSize {
		return fmt.Errorf("%w: device packet size %d below %d", ErrHandshake, packetSize, UDPMinPacketSize)
	}
	c.maxData = min(packetSize, UDPHostMaxPacketSize) - udpHeaderSize
	return nil
}

// exchange sends one packet with the current sequence number and returns
// the data and flags of the matching response. The sequence number
// advances once the response arrived.
func (c *UDPConn) exchange(ctx context.Context, id, flags byte, data []byte) ([]byte, byte, error) {
	pkt := make([]byte, udpHeaderSize+len(data))
	pkt[0] = id
	pkt[1] = flags
	binary.BigEndian.PutUint16(pkt[2:4], c.seq)
	copy(pkt[udpHeaderSize:], data)

	buf := make([]byte, UDPHostMaxPacketSize)
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if _, err := c.conn.Write(pkt); err != nil {
			return nil, 0, err
		}

		deadline := time.Now().Add(c.responseLimit)
		for {
			_ = c.conn.SetReadDeadline(deadline)
			n, err := c.conn.Read(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				return nil, 0, err
			}
			if n < udpHeaderSize || binary.BigEndian.Uint16(buf[2:4]) != c.seq {
				// stale or truncated packet
				continue
			}

			switch buf[0] {
			case udpIDError:
				return nil, 0, fmt.Errorf("%w: %s", ErrDeviceReported, buf[udpHeaderSize:n])
			case id:
				c.seq++
				return append([]byte(nil), buf[udpHeaderSize:n]...), buf[1], nil
			}
		}
	}

	return nil, 0, fmt.Errorf("no response after %d attempts: %w", c.attempts, os.ErrDeadlineExceeded)
}

// send transmits data as fastboot packets and buffers any reply data,
// polling while the device flags more to come.
func (c *UDPConn) send(ctx context.Context, data []byte) error {
	for {
		n := min(len(data), c.maxData)
		var flags byte
		if n < len(data) {
			flags = udpFlagContinuation
		}

		resp, rflags, err := c.exchange(ctx, udpIDFastboot, flags, data[:n])
		if err != nil {
			return err
		}
		if len(resp) > 0 {
			c.pending = append(c.pending, resp)
		}
		data = data[n:]

		if len(data) == 0 && rflags&udpFlagContinuation == 0 {
			return nil
		}
	}
}

// Write sends p to the device.
func (c *UDPConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(context.Background(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read returns data from the oldest buffered reply packet, polling the
// device with empty packets until it has some or the read deadline passes.
// Bytes of two packets are never returned by the same Read.
func (c *UDPConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) == 0 {
		if !c.readDeadline.IsZero() && time.Now().After(c.readDeadline) {
			return 0, os.ErrDeadlineExceeded
		}
		if err := c.send(context.Background(), nil); err != nil {
			return 0, err
		}
		if len(c.pending) == 0 {
			time.Sleep(udpPollInterval)
		}
	}

	n := copy(p, c.pending[0])
	if n < len(c.pending[0]) {
		c.pending[0] = c.pending[0][n:]
	} else {
		c.pending = c.pending[1:]
	}
	return n, nil
}

// SetReadDeadline bounds how long Read polls for data.
func (c *UDPConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

// Close closes the socket.
func (c *UDPConn) Close() error {
	return c.conn.Close()
}
