//go:build linux

package transport

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var baudFlags = map[int]uint32{
	9600:    unix.B9600,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// serialConn drives a tty in raw mode with VMIN=0/VTIME=0 so reads return
// immediately. The settings found at open are put back on Close.
type serialConn struct {
	mu   sync.Mutex
	fd   int
	path string
	orig *unix.Termios
}

func openSerial(p Params) (Conn, error) {
	// O_NONBLOCK keeps open from waiting on carrier detect; it is cleared
	// again once the line is configured so writes block.
	fd, err := unix.Open(p.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, p.Device, err)
	}
	orig, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is not a tty: %w", ErrConnection, p.Device, err)
	}
	t := rawTermios(*orig, baudFlags[p.Baud])
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &t); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: configure %s: %w", ErrConnection, p.Device, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, orig)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, p.Device, err)
	}
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
	return &serialConn{fd: fd, path: p.Device, orig: orig}, nil
}

// rawTermios turns off echo, signals, software flow control and all
// input/output processing, then sets 8N1 at the given speed.
func rawTermios(t unix.Termios, speed uint32) unix.Termios {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return t
}

func (s *serialConn) ReadNonBlocking(p []byte) (int, error) {
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	if fd < 0 {
		return 0, ErrNotConnected
	}
	n, err := unix.Read(fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read %s: %w", ErrConnection, s.path, err)
	}
	// A tty cannot signal end of stream; n == 0 is "nothing yet".
	return n, nil
}

func (s *serialConn) Write(p []byte) (int, error) {
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	if fd < 0 {
		return 0, ErrNotConnected
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, fmt.Errorf("%w: write %s: %w", ErrConnection, s.path, err)
		}
		written += n
	}
	return written, nil
}

func (s *serialConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	var rerr error
	if s.orig != nil {
		rerr = unix.IoctlSetTermios(s.fd, unix.TCSETS, s.orig)
	}
	cerr := unix.Close(s.fd)
	s.fd = -1
	return errors.Join(rerr, cerr)
}
