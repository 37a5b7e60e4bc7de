package frame

import (
	"encoding/binary"
	"fmt"
)

// compactFrame builds sync | len | id | payload | crc.
func compactFrame(sync [3]byte, id uint16, payload []byte) []byte {
	b := append([]byte(nil), sync[:]...)
	b = append(b, byte(len(payload)))
	b = binary.LittleEndian.AppendUint16(b, id)
	b = append(b, payload...)
	return AppendCRC(b)
}

// shortFrame builds an OEM7 short-header frame.
func shortFrame(id, week uint16, ms uint32, payload []byte) []byte {
	b := append([]byte(nil), ShortSync[:]...)
	b = append(b, byte(len(payload)))
	b = binary.LittleEndian.AppendUint16(b, id)
	b = binary.LittleEndian.AppendUint16(b, week)
	b = binary.LittleEndian.AppendUint32(b, ms)
	b = append(b, payload...)
	return AppendCRC(b)
}

// longFrame builds an OEM7 long-header frame with a 28-byte header.
func longFrame(id, week uint16, ms uint32, payload []byte) []byte {
	h := make([]byte, 28)
	copy(h, LongSync[:])
	h[3] = 28
	binary.LittleEndian.PutUint16(h[4:6], id)
	binary.LittleEndian.PutUint16(h[8:10], uint16(len(payload)))
	binary.LittleEndian.PutUint16(h[14:16], week)
	binary.LittleEndian.PutUint32(h[16:20], ms)
	b := append(h, payload...)
	return AppendCRC(b)
}

// sentence wraps body with '$', a correct checksum and CRLF.
func sentence(body string) []byte {
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, xorSum([]byte(body))))
}
