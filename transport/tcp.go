package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	tcpHandshake      = "FB01"
	tcpLengthSize     = 8
	tcpHandshakeLimit = 10 * time.Second
)

// TCPConn is a fastboot-over-TCP connection.
type TCPConn struct {
	conn net.Conn

	readMu  sync.Mutex
	msgLeft uint64
	lenBuf  [tcpLengthSize]byte
	lenHave int // prefix bytes already read

	writeMu sync.Mutex
}

// DialTCP connects to a device at addr (host:port) and performs the
// version handshake.
func DialTCP(ctx context.Context, addr string) (*TCPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, err := NewTCPConn(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewTCPConn performs the handshake over an established connection.
func NewTCPConn(ctx context.Context, conn net.Conn) (*TCPConn, error) {
	_ = conn.SetDeadline(handshakeDeadline(ctx, tcpHandshakeLimit))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	if _, err := conn.Write([]byte(tcpHandshake)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	resp := make([]byte, len(tcpHandshake))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if string(resp[:2]) != "FB" {
		return nil, fmt.Errorf("%w: unexpected reply %q", ErrHandshake, resp)
	}

	return &TCPConn{conn: conn}, nil
}

// Read reads from the current message. A new message's length prefix is
// consumed when the previous message is exhausted.
func (c *TCPConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	for c.msgLeft == 0 {
		// a deadline can interrupt the prefix; keep what arrived
		n, err := io.ReadFull(c.conn, c.lenBuf[c.lenHave:])
		c.lenHave += n
		if err != nil {
			return 0, err
		}
		c.lenHave = 0
		c.msgLeft = binary.BigEndian.Uint64(c.lenBuf[:])
	}

	if uint64(len(p)) > c.msgLeft {
		p = p[:c.msgLeft]
	}
	n, err := io.ReadFull(c.conn, p)
	c.msgLeft -= uint64(n)
	return n, err
}

// Write sends p as one message.
func (c *TCPConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var hdr [tcpLengthSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(p)))

	bufs := net.Buffers{hdr[:], p}
	if _, err := bufs.WriteTo(c.conn); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline sets the deadline for subsequent reads.
func (c *TCPConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *TCPConn) Close() error {
	return c.conn.Close()
}
