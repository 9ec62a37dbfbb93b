package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the fastboot network port for both TCP and UDP.
const DefaultPort = 5554

var (
	// ErrHandshake is returned when the device answers the connection
	// handshake with something unexpected
	ErrHandshake = errors.New("handshake failed")

	// ErrInvalidTarget is returned for a malformed device address
	ErrInvalidTarget = errors.New("invalid target")
)

// Conn is a connection to a network fastboot device.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Target is a parsed device address.
type Target struct {
	// Network is "tcp" or "udp"
	Network string

	// Address is host:port
	Address string
}

func (t Target) String() string {
	return t.Network + ":" + t.Address
}

// Parse parses "tcp:host[:port]" or "udp:host[:port]". The port defaults
// to DefaultPort.
func Parse(s string) (Target, error) {
	network, rest, ok := strings.Cut(s, ":")
	if !ok || (network != "tcp" && network != "udp") {
		return Target{}, fmt.Errorf("%w %q: want tcp:host[:port] or udp:host[:port]", ErrInvalidTarget, s)
	}
	if rest == "" {
		return Target{}, fmt.Errorf("%w %q: missing host", ErrInvalidTarget, s)
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		// no port given; a bare IPv6 address may still be bracketed
		host, port = strings.Trim(rest, "[]"), strconv.Itoa(DefaultPort)
	}
	if host == "" {
		return Target{}, fmt.Errorf("%w %q: missing host", ErrInvalidTarget, s)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return Target{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidTarget, s, port)
	}

	return Target{Network: network, Address: net.JoinHostPort(host, port)}, nil
}

// Dial parses target and connects to it.
func Dial(ctx context.Context, target string) (Conn, error) {
	t, err := Parse(target)
	if err != nil {
		return nil, err
	}
	if t.Network == "udp" {
		return DialUDP(ctx, t.Address)
	}
	return DialTCP(ctx, t.Address)
}

// handshakeDeadline bounds a connection handshake by ctx.
func handshakeDeadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}
