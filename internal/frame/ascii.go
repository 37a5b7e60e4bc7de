package frame

// MaxAsciiLen bounds the body of an ascii sentence.
const MaxAsciiLen = 1024

const (
	asciiStart = '$'
	asciiStar  = '*'
)

// MatchAscii recognizes "$body*HH" followed by an optional "\r\n" at offset
// 0 of b. With strict set, a checksum mismatch is a corrupt NoMatch.
func MatchAscii(b []byte, strict bool) Match {
	if len(b) == 0 || b[0] != asciiStart {
		return noMatch()
	}
	star := -1
	for i := 1; i < len(b); i++ {
		c := b[i]
		if c == asciiStar {
			star = i
			break
		}
		if c == asciiStart || c < 0x20 || c > 0x7e || i > MaxAsciiLen {
			return noMatch()
		}
	}
	if star < 0 {
		// '$' plus a full-length body may still be followed by '*'.
		if len(b) > MaxAsciiLen+1 {
			return noMatch()
		}
		return incomplete()
	}
	if len(b) < star+3 {
		return incomplete()
	}
	hi, ok1 := unhex(b[star+1])
	lo, ok2 := unhex(b[star+2])
	if !ok1 || !ok2 {
		return noMatch()
	}
	sum := hi<<4 | lo

	end := star + 3
	// The terminator decides where the frame ends, so wait for it.
	if end == len(b) {
		return incomplete()
	}
	if b[end] == '\r' {
		end++
		if end == len(b) {
			return incomplete()
		}
	}
	if b[end] == '\n' {
		end++
	}

	body := b[1:star:star]
	if strict && xorSum(body) != sum {
		return corrupt()
	}
	return Match{Status: Complete, Frame: Frame{
		Protocol: Ascii,
		Raw:      b[:end:end],
		Payload:  body,
		Checksum: uint32(sum),
	}}
}

func xorSum(p []byte) byte {
	var s byte
	for _, c := range p {
		s ^= c
	}
	return s
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
