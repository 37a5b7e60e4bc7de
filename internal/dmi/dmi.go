// Package dmi encodes RAWDMI wheel-speed input messages for the sensor.
package dmi

import (
	"encoding/binary"

	"github.com/kstaniek/go-fp-driver/internal/frame"
)

const (
	// MsgID is the RAWDMI message id.
	MsgID uint16 = 2269

	payloadLen = 20
	// FrameLen is the encoded size of one RAWDMI message.
	FrameLen = 3 + 1 + 2 + 2 + 4 + payloadLen + 4

	// MaskPaired marks a two-reading message whose values are averaged
	// front and rear axle speeds rather than individual wheels.
	MaskPaired uint32 = 1 << 11
)

// Sync is the short-header sync pattern RAWDMI is sent with.
var Sync = frame.ShortSync

// Frame is one RAWDMI message. Values beyond the reading count are zero.
type Frame struct {
	Week   uint16
	TowMs  uint32
	Values [4]int32
	Mask   uint32
}

// New builds a frame from 1, 2 or 4 readings. Any other count yields ok=false.
func New(week uint16, towMs uint32, speeds []int32) (Frame, bool) {
	f := Frame{Week: week, TowMs: towMs}
	switch len(speeds) {
	case 1:
		f.Mask = 1 << 0
	case 2:
		f.Mask = 1<<0 | 1<<1 | MaskPaired
	case 4:
		f.Mask = 1<<0 | 1<<1 | 1<<2 | 1<<3
	default:
		return Frame{}, false
	}
	copy(f.Values[:], speeds)
	return f, true
}

// MarshalBinary encodes the frame with its CRC32 trailer.
func (f Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, FrameLen))
}

// AppendBinary appends the encoded frame to b.
func (f Frame) AppendBinary(b []byte) ([]byte, error) {
	le := binary.LittleEndian
	b = append(b, Sync[:]...)
	b = append(b, payloadLen)
	b = le.AppendUint16(b, MsgID)
	b = le.AppendUint16(b, f.Week)
	b = le.AppendUint32(b, f.TowMs)
	for _, v := range f.Values {
		b = le.AppendUint32(b, uint32(v))
	}
	b = le.AppendUint32(b, f.Mask)
	return frame.AppendCRC(b), nil
}

// Encode is the one-shot form used by the driver: nil for an unsupported
// reading count.
func Encode(week uint16, towMs uint32, speeds []int32) []byte {
	f, ok := New(week, towMs, speeds)
	if !ok {
		return nil
	}
	b, _ := f.MarshalBinary()
	return b
}
