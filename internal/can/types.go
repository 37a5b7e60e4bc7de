// Package can holds the classic CAN frame type used by the wheel-speed
// input path.
package can

import (
	"encoding/binary"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// Frame is a classic CAN frame. CANID keeps the EFF/RTR/ERR flags in its
// upper bits like SocketCAN; only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [8]byte
}

// ID returns the identifier without flag bits.
func (f Frame) ID() uint32 {
	if f.CANID&CAN_EFF_FLAG != 0 {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// WheelSpeeds decodes the payload as Len/2 signed 16-bit little-endian
// readings. Only 2, 4 and 8 byte payloads of data frames qualify.
func (f Frame) WheelSpeeds() ([]int32, error) {
	if f.CANID&(CAN_RTR_FLAG|CAN_ERR_FLAG) != 0 {
		return nil, fmt.Errorf("not a data frame: %#x", f.CANID)
	}
	switch f.Len {
	case 2, 4, 8:
	default:
		return nil, fmt.Errorf("wheel speed frame with %d bytes", f.Len)
	}
	out := make([]int32, f.Len/2)
	for i := range out {
		out[i] = int32(int16(binary.LittleEndian.Uint16(f.Data[2*i:])))
	}
	return out, nil
}
