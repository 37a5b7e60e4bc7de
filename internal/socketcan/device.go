//go:build linux

// Package socketcan reads classic CAN frames from a Linux raw CAN socket.
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-fp-driver/internal/can"
)

// ErrNoFrame is returned by ReadFrame when the receive timeout passes
// without traffic.
var ErrNoFrame = errors.New("no frame")

// Dev is the minimal interface the wheel-speed source needs.
// Implemented by *Device in production and by fakes in tests.
type Dev interface {
	ReadFrame(*can.Frame) error
	Close() error
}

type Device struct {
	fd int
}

// Open binds a raw CAN socket on iface. When id is non-zero the kernel
// filters for that identifier (standard or extended by its size).
// Reads time out after rxTimeout so callers can observe cancellation.
func Open(iface string, id uint32, rxTimeout time.Duration) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	if id != 0 {
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, []unix.CanFilter{filterFor(id)}); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set filter: %w", err)
		}
	}
	if rxTimeout > 0 {
		tv := unix.NsecToTimeval(rxTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set rx timeout: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func filterFor(id uint32) unix.CanFilter {
	if id > can.CAN_SFF_MASK {
		return unix.CanFilter{Id: id | can.CAN_EFF_FLAG, Mask: can.CAN_EFF_FLAG | can.CAN_RTR_FLAG | can.CAN_EFF_MASK}
	}
	return unix.CanFilter{Id: id, Mask: can.CAN_EFF_FLAG | can.CAN_RTR_FLAG | can.CAN_SFF_MASK}
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return ErrNoFrame
		}
		return err
	}
	return parseFrame(buf[:n], fr)
}

// parseFrame decodes struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel uses host byte order; little-endian hosts are assumed.
func parseFrame(b []byte, fr *can.Frame) error {
	if len(b) != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", len(b))
	}
	dlc := int(b[4])
	if dlc > 8 {
		dlc = 8
	}
	fr.CANID = binary.LittleEndian.Uint32(b[0:4])
	fr.Len = uint8(dlc)
	fr.Data = [8]byte{}
	copy(fr.Data[:], b[8:8+dlc])
	return nil
}
