package frame

import (
	"encoding/binary"
	"hash/crc32"
)

// crcLen is the size of the little-endian CRC32 trailer on every binary frame.
const crcLen = 4

// CRC32 computes the receiver's block CRC: reflected 0xEDB88320 polynomial,
// zero initial register and no final inversion. hash/crc32 pre- and
// post-inverts the register, so both inversions are undone here.
func CRC32(p []byte) uint32 {
	return ^crc32.Update(^uint32(0), crc32.IEEETable, p)
}

// AppendCRC appends the little-endian CRC32 of b to b.
func AppendCRC(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, CRC32(b))
}
