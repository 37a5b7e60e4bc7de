//go:build !linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Outside linux the port is driven through tarm/serial. tarm rounds
// ReadTimeout up to whole deciseconds, so an idle read blocks for ~100ms.
// Previous line settings are not restored on close.
const serialReadTimeout = time.Millisecond

type serialConn struct {
	mu   sync.Mutex
	port *serial.Port
	path string
}

func openSerial(p Params) (Conn, error) {
	port, err := serial.OpenPort(&serial.Config{Name: p.Device, Baud: p.Baud, ReadTimeout: serialReadTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, p.Device, err)
	}
	return &serialConn{port: port, path: p.Device}, nil
}

func (s *serialConn) get() *serial.Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *serialConn) ReadNonBlocking(b []byte) (int, error) {
	port := s.get()
	if port == nil {
		return 0, ErrNotConnected
	}
	n, err := port.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %s: %w", ErrConnection, s.path, err)
	}
	return n, nil
}

func (s *serialConn) Write(b []byte) (int, error) {
	port := s.get()
	if port == nil {
		return 0, ErrNotConnected
	}
	n, err := port.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: write %s: %w", ErrConnection, s.path, err)
	}
	return n, nil
}

func (s *serialConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
