// Package frame carves binary (OEM7-style) and ascii (NMEA-style) frames out
// of an arbitrarily fragmented byte stream.
package frame

import (
	"bytes"
	"strings"
)

// Protocol tags the framing scheme a Frame was recognized by.
type Protocol uint8

const (
	Binary Protocol = iota + 1
	Ascii
)

func (p Protocol) String() string {
	switch p {
	case Binary:
		return "binary"
	case Ascii:
		return "ascii"
	default:
		return "unknown"
	}
}

// Frame is one complete message. Raw, Header and Payload alias the scanned
// buffer; use Clone to keep a frame past the Scan callback.
type Frame struct {
	Protocol Protocol
	Raw      []byte
	// Binary: message id, header bytes (sync included) and GPS time when the
	// header convention carries it.
	ID     uint16
	Header []byte
	Week   uint16
	TowMs  uint32
	// Payload is the message body for binary frames and the text between
	// '$' and '*' for ascii frames.
	Payload []byte
	// Checksum is the CRC32 trailer (binary) or the two-hex checksum (ascii).
	Checksum uint32
}

// Tokens splits an ascii frame body on ','. Binary frames have no tokens.
func (f Frame) Tokens() []string {
	if f.Protocol != Ascii {
		return nil
	}
	return strings.Split(string(f.Payload), ",")
}

// Key returns the two-level ascii key (vendor/talker tag, sentence type).
// Missing levels are empty strings.
func (f Frame) Key() (string, string) {
	if f.Protocol != Ascii {
		return "", ""
	}
	first, rest, _ := bytes.Cut(f.Payload, []byte{','})
	second, _, _ := bytes.Cut(rest, []byte{','})
	return string(first), string(second)
}

// ChecksumOK reports whether the ascii checksum matches the XOR of the body.
// Binary frames only ever reach callers with a valid CRC.
func (f Frame) ChecksumOK() bool {
	if f.Protocol != Ascii {
		return true
	}
	return uint32(xorSum(f.Payload)) == f.Checksum
}

// Clone returns a deep copy whose slices no longer alias the scan buffer.
func (f Frame) Clone() Frame {
	g := f
	g.Raw = append([]byte(nil), f.Raw...)
	if f.Header != nil {
		g.Header = g.Raw[:len(f.Header)]
	}
	if f.Payload != nil {
		off := 1 // past '$'
		if f.Protocol == Binary {
			off = len(f.Header)
		}
		g.Payload = g.Raw[off : off+len(f.Payload)]
	}
	return g
}
