// Package transport owns the physical connection to the sensor: a TCP client
// socket or a serial device. Reads never block; a zero-length read with a nil
// error means no data has arrived yet.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/logging"
)

// Kind selects the connection type.
type Kind string

const (
	KindTCP    Kind = "tcp"
	KindSerial Kind = "serial"
)

var (
	// ErrConnection wraps any failure to open or use the connection.
	ErrConnection = errors.New("connection error")
	// ErrClosed reports an orderly close by the peer.
	ErrClosed = errors.New("connection closed by peer")
	// ErrNotConnected is returned by I/O on a closed Conn.
	ErrNotConnected = errors.New("not connected")
	ErrConfig       = errors.New("invalid transport parameters")
)

// Conn is one open connection. Implementations are not safe for concurrent
// use; the driver owns its Conn from a single goroutine.
type Conn interface {
	// ReadNonBlocking reads whatever is available into p. It returns 0, nil
	// when nothing is available, ErrClosed when the peer closed the stream
	// and an ErrConnection-wrapped error on any other failure.
	ReadNonBlocking(p []byte) (int, error)
	// Write is a best-effort non-blocking send for TCP (short writes are
	// possible) and a blocking write for serial.
	Write(p []byte) (int, error)
	// Close releases the handle, restoring saved device settings first.
	// It is idempotent.
	Close() error
}

// Params describes the endpoint to connect to.
type Params struct {
	Kind Kind
	// TCP
	Host        string
	Port        int
	DialTimeout time.Duration
	// Serial
	Device string
	Baud   int
}

func (p Params) Addr() string {
	if p.Kind == KindSerial {
		return p.Device
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Validate checks parameters without touching the network or devices.
// Baud rates are not checked here; unsupported values fall back at Open.
func (p Params) Validate() error {
	switch p.Kind {
	case KindTCP:
		if p.Host == "" {
			return fmt.Errorf("%w: empty host", ErrConfig)
		}
		if ip := net.ParseIP(p.Host); ip != nil && ip.To4() == nil {
			return fmt.Errorf("%w: %s is not an IPv4 address", ErrConfig, p.Host)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrConfig, p.Port)
		}
	case KindSerial:
		if p.Device == "" {
			return fmt.Errorf("%w: empty serial device", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q (use tcp|serial)", ErrConfig, p.Kind)
	}
	return nil
}

// Hooks for tests.
var (
	dialTCPFn    = dialTCP
	openSerialFn = openSerial
)

// Open connects according to p.
func Open(ctx context.Context, p Params, l *slog.Logger) (Conn, error) {
	if l == nil {
		l = logging.L()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Kind == KindTCP {
		return dialTCPFn(ctx, p)
	}
	baud, ok := NormalizeBaud(p.Baud)
	if !ok {
		l.Warn("unsupported_baud", "baud", p.Baud, "used", baud)
	}
	p.Baud = baud
	return openSerialFn(p)
}

const defaultDialTimeout = 5 * time.Second

func dialTCP(ctx context.Context, p Params) (Conn, error) {
	to := p.DialTimeout
	if to <= 0 {
		to = defaultDialTimeout
	}
	d := net.Dialer{Timeout: to}
	c, err := d.DialContext(ctx, "tcp4", p.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, p.Addr(), err)
	}
	tc := c.(*net.TCPConn)
	_ = tc.SetNoDelay(true)
	return newTCPConn(tc)
}
