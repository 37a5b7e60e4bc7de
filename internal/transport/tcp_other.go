//go:build !unix

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// pollWindow bounds how long a "non-blocking" read may wait on platforms
// without direct descriptor access.
const pollWindow = time.Millisecond

type tcpConn struct {
	c      *net.TCPConn
	closed atomic.Bool
}

func newTCPConn(c *net.TCPConn) (Conn, error) { return &tcpConn{c: c}, nil }

func (t *tcpConn) ReadNonBlocking(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrNotConnected
	}
	_ = t.c.SetReadDeadline(time.Now().Add(pollWindow))
	n, err := t.c.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return n, nil
	case errors.Is(err, io.EOF):
		if n > 0 {
			return n, nil
		}
		return 0, ErrClosed
	}
	return n, fmt.Errorf("%w: read: %w", ErrConnection, err)
}

func (t *tcpConn) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrNotConnected
	}
	_ = t.c.SetWriteDeadline(time.Now().Add(pollWindow))
	n, err := t.c.Write(p)
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	return n, nil
}

func (t *tcpConn) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.c.Close()
}
