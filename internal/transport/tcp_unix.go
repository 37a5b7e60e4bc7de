//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// tcpConn reads and writes the socket descriptor directly so that an empty
// receive buffer returns EAGAIN instead of parking in the runtime poller.
type tcpConn struct {
	c      *net.TCPConn
	raw    syscall.RawConn
	closed atomic.Bool
}

func newTCPConn(c *net.TCPConn) (Conn, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &tcpConn{c: c, raw: raw}, nil
}

func retryable(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func (t *tcpConn) ReadNonBlocking(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrNotConnected
	}
	var n int
	var rerr error
	err := t.raw.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), p)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("%w: read: %w", ErrConnection, err)
	}
	switch {
	case rerr != nil && retryable(rerr):
		return 0, nil
	case rerr != nil:
		return 0, fmt.Errorf("%w: read: %w", ErrConnection, rerr)
	case n == 0 && len(p) > 0:
		return 0, ErrClosed
	}
	return n, nil
}

func (t *tcpConn) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, ErrNotConnected
	}
	var n int
	var werr error
	err := t.raw.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	if werr != nil {
		if retryable(werr) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: write: %w", ErrConnection, werr)
	}
	return n, nil
}

func (t *tcpConn) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.c.Close()
}
