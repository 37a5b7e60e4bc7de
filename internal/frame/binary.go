package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// MaxFrameSize bounds a binary frame. Headers declaring more are treated as
// noise so a corrupted length can't make the scanner wait for megabytes.
const MaxFrameSize = 16 << 10

// Layout describes one binary header convention keyed by its 3-byte sync.
type Layout struct {
	Name string
	Sync [3]byte
	// need is the number of leading bytes size requires.
	need int
	// size reports header length, payload length and message id; ok=false
	// rejects an implausible header.
	size func(b []byte) (headerLen, payloadLen int, id uint16, ok bool)
	// stamp extracts GPS week / ms-of-week from a complete header, if any.
	stamp func(hdr []byte) (uint16, uint32)
}

// Sync markers of the two OEM7 header conventions.
var (
	LongSync  = [3]byte{0xAA, 0x44, 0x12}
	ShortSync = [3]byte{0xAA, 0x44, 0x13}
)

// LongHeader is the OEM7 long header: byte 3 carries the header length, the
// message length is a u16 at offset 8 and GPS time sits at offsets 14..19.
var LongHeader = Layout{
	Name: "long",
	Sync: LongSync,
	need: 10,
	size: func(b []byte) (int, int, uint16, bool) {
		hl := int(b[3])
		if hl < 20 {
			return 0, 0, 0, false
		}
		return hl, int(binary.LittleEndian.Uint16(b[8:10])), binary.LittleEndian.Uint16(b[4:6]), true
	},
	stamp: func(h []byte) (uint16, uint32) {
		return binary.LittleEndian.Uint16(h[14:16]), binary.LittleEndian.Uint32(h[16:20])
	},
}

// ShortHeaderLen is the fixed size of an OEM7 short header.
const ShortHeaderLen = 12

// ShortHeader is the OEM7 short header: u8 length, u16 id, u16 week, u32 ms.
var ShortHeader = Layout{
	Name: "short",
	Sync: ShortSync,
	need: 6,
	size: func(b []byte) (int, int, uint16, bool) {
		return ShortHeaderLen, int(b[3]), binary.LittleEndian.Uint16(b[4:6]), true
	},
	stamp: func(h []byte) (uint16, uint32) {
		return binary.LittleEndian.Uint16(h[6:8]), binary.LittleEndian.Uint32(h[8:12])
	},
}

// Compact returns the minimal layout: sync, u8 payload length, u16 id,
// payload, CRC32. It carries no time fields.
func Compact(sync [3]byte) Layout {
	return Layout{
		Name: "compact",
		Sync: sync,
		need: 6,
		size: func(b []byte) (int, int, uint16, bool) {
			return 6, int(b[3]), binary.LittleEndian.Uint16(b[4:6]), true
		},
	}
}

// DefaultLayouts are recognized when a Scanner is built without options.
func DefaultLayouts() []Layout { return []Layout{LongHeader, ShortHeader} }

// ParseSync decodes a 3-byte sync marker written as 6 hex digits.
func ParseSync(s string) ([3]byte, error) {
	var sync [3]byte
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x"))
	if err != nil || len(b) != len(sync) {
		return sync, fmt.Errorf("sync %q: want 6 hex digits", s)
	}
	copy(sync[:], b)
	return sync, nil
}

// ParseLayouts maps long|short|compact to layouts in the given order. The
// first layout that recognizes a header wins, so list the preferred one
// first when two share a sync. compactSync is the marker of the compact
// layout.
func ParseLayouts(names []string, compactSync [3]byte) ([]Layout, error) {
	out := make([]Layout, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		switch n {
		case "long":
			out = append(out, LongHeader)
		case "short":
			out = append(out, ShortHeader)
		case "compact":
			out = append(out, Compact(compactSync))
		default:
			return nil, fmt.Errorf("unknown binary layout %q (use long|short|compact)", n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no binary layout selected")
	}
	return out, nil
}

func (l Layout) match(b []byte) Match {
	n := min(len(b), len(l.Sync))
	if n == 0 || !bytes.Equal(b[:n], l.Sync[:n]) {
		return noMatch()
	}
	if len(b) < l.need {
		return incomplete()
	}
	hl, pl, id, ok := l.size(b)
	total := hl + pl + crcLen
	if !ok || total > MaxFrameSize {
		return corrupt()
	}
	if len(b) < total {
		return incomplete()
	}
	want := binary.LittleEndian.Uint32(b[total-crcLen : total])
	if CRC32(b[:total-crcLen]) != want {
		return corrupt()
	}
	f := Frame{
		Protocol: Binary,
		Raw:      b[:total:total],
		ID:       id,
		Header:   b[:hl:hl],
		Payload:  b[hl : total-crcLen : total-crcLen],
		Checksum: want,
	}
	if l.stamp != nil {
		f.Week, f.TowMs = l.stamp(f.Header)
	}
	return Match{Status: Complete, Frame: f}
}

// MatchBinary tries every layout at offset 0 of b. The first layout that
// reports Complete or Incomplete wins; a partial sync at the end of b is
// Incomplete.
func MatchBinary(b []byte, layouts []Layout) Match {
	res := noMatch()
	for _, l := range layouts {
		m := l.match(b)
		if m.Status != NoMatch {
			return m
		}
		if m.Corrupt {
			res = m
		}
	}
	return res
}
