// Package driver runs the sensor read cycle: one non-blocking read, frame
// extraction, and dispatch to converters. It also writes wheel-speed input
// back to the sensor. A Driver belongs to one goroutine; nothing here locks.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/dmi"
	"github.com/kstaniek/go-fp-driver/internal/frame"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

const (
	defaultReadSize = 4096
	// reclaimThreshold is the capacity above which an empty carry-over
	// buffer is released instead of reused.
	reclaimThreshold = 16 * 1024
)

// ErrNotConnected is returned by I/O while no connection is open.
var ErrNotConnected = transport.ErrNotConnected

// Opener opens a transport connection.
type Opener func(ctx context.Context, p transport.Params, l *slog.Logger) (transport.Conn, error)

// Dispatcher receives every complete frame in stream order.
type Dispatcher interface {
	Dispatch(f frame.Frame) bool
}

var _ Dispatcher = (*convert.Registry)(nil)

type Driver struct {
	params   transport.Params
	log      *slog.Logger
	open     Opener
	scanner  *frame.Scanner
	dispatch Dispatcher

	conn    transport.Conn
	acc     []byte
	readBuf []byte

	week  uint16
	towMs uint32
}

type Option func(*Driver)

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithOpener replaces transport.Open, mainly for tests.
func WithOpener(o Opener) Option { return func(d *Driver) { d.open = o } }

func WithScanner(s *frame.Scanner) Option { return func(d *Driver) { d.scanner = s } }

// WithReadSize sets the maximum number of bytes taken per read.
func WithReadSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.readBuf = make([]byte, n)
		}
	}
}

// New returns a disconnected driver.
func New(p transport.Params, disp Dispatcher, opts ...Option) *Driver {
	d := &Driver{
		params:   p,
		log:      logging.L(),
		open:     transport.Open,
		scanner:  frame.NewScanner(),
		dispatch: disp,
		readBuf:  make([]byte, defaultReadSize),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect opens the configured connection. It is a no-op while connected.
func (d *Driver) Connect(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}
	c, err := d.open(ctx, d.params, d.log)
	if err != nil {
		metrics.SetConnected(false)
		metrics.IncError(metrics.ErrConnect)
		return err
	}
	d.conn = c
	d.acc = d.acc[:0]
	metrics.SetConnected(true)
	d.log.Info("sensor_connected", "kind", string(d.params.Kind), "addr", d.params.Addr())
	return nil
}

func (d *Driver) Connected() bool { return d.conn != nil }

// RunOnce performs one read cycle and reports how many bytes it read.
// Frames completed by those bytes are dispatched in order before it
// returns. Any read failure, including an orderly close by the peer, closes
// the connection and is returned; framing problems never are.
func (d *Driver) RunOnce() (int, error) {
	if d.conn == nil {
		return 0, ErrNotConnected
	}
	n, err := d.conn.ReadNonBlocking(d.readBuf)
	if err != nil {
		metrics.IncError(metrics.ErrSensorRead)
		d.drop("read", err)
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	metrics.AddRxBytes(n)
	d.acc = append(d.acc, d.readBuf[:n]...)
	res := d.scanner.Scan(d.acc, d.handle)
	metrics.AddSkipped(res.Skipped)
	for i := 0; i < res.Malformed; i++ {
		metrics.IncMalformed()
	}
	rest := copy(d.acc, d.acc[res.Consumed:])
	d.acc = d.acc[:rest]
	if rest == 0 && cap(d.acc) > reclaimThreshold {
		d.acc = nil
	}
	return n, nil
}

// ReadSize is the most a single RunOnce reads.
func (d *Driver) ReadSize() int { return len(d.readBuf) }

func (d *Driver) handle(f frame.Frame) {
	metrics.IncFrame(f.Protocol.String())
	if d.dispatch != nil {
		d.dispatch.Dispatch(f)
	}
}

// Pending reports how many bytes are held back waiting for the rest of a
// frame.
func (d *Driver) Pending() int { return len(d.acc) }

// SetTime sets the GPS time stamped on subsequent wheel-speed frames.
func (d *Driver) SetTime(week uint16, towMs uint32) {
	d.week, d.towMs = week, towMs
}

// SendWheelSpeeds encodes 1, 2 or 4 readings and writes them once. Other
// reading counts are ignored. A short write on TCP is logged, not retried.
func (d *Driver) SendWheelSpeeds(speeds []int32) error {
	b := dmi.Encode(d.week, d.towMs, speeds)
	if b == nil {
		d.log.Debug("dmi_skipped", "readings", len(speeds))
		return nil
	}
	if d.conn == nil {
		return ErrNotConnected
	}
	n, err := d.conn.Write(b)
	if err != nil {
		metrics.IncError(metrics.ErrSensorWrite)
		d.drop("write", err)
		return err
	}
	if n < len(b) {
		d.log.Debug("dmi_short_write", "wrote", n, "len", len(b))
	}
	metrics.IncDMITx()
	return nil
}

// Close releases the connection and discards any partial frame.
func (d *Driver) Close() error {
	d.acc = nil
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	metrics.SetDisconnected()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (d *Driver) drop(op string, cause error) {
	lvl := slog.LevelWarn
	if errors.Is(cause, transport.ErrClosed) {
		lvl = slog.LevelInfo
	}
	d.log.Log(context.Background(), lvl, "sensor_"+op+"_failed", "error", cause)
	if err := d.Close(); err != nil {
		d.log.Warn("sensor_close_error", "error", err)
	}
}
