package frame

// Scanner finds frames of both protocols in a byte buffer. Binary is always
// tried before ascii at each offset. A Scanner holds no buffer state; the
// caller retains buf[Result.Consumed:] for the next pass.
type Scanner struct {
	layouts []Layout
	strict  bool
}

type Option func(*Scanner)

// WithLayouts replaces the recognized binary header conventions.
func WithLayouts(l ...Layout) Option {
	return func(s *Scanner) { s.layouts = append([]Layout(nil), l...) }
}

// WithStrictAscii makes ascii checksum mismatches a resync condition.
func WithStrictAscii(on bool) Option { return func(s *Scanner) { s.strict = on } }

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{layouts: DefaultLayouts()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result summarizes one Scan pass.
type Result struct {
	// Consumed leading bytes are done with; the rest must be carried over.
	Consumed int
	Frames   int
	// Skipped counts single-byte resync advances.
	Skipped int
	// Malformed counts offsets rejected by checksum or header checks.
	Malformed int
}

// Next classifies the bytes at offset 0 of b. A binary Incomplete ends the
// decision without consulting the ascii matcher.
func (s *Scanner) Next(b []byte) Match {
	m := MatchBinary(b, s.layouts)
	if m.Status != NoMatch {
		return m
	}
	a := MatchAscii(b, s.strict)
	if a.Status == NoMatch && m.Corrupt {
		a.Corrupt = true
	}
	return a
}

// Scan extracts frames from buf in order and hands each to fn before looking
// for the next one. Frames alias buf and are valid only during fn. The pass
// stops at the first Incomplete offset or at the end of buf.
func (s *Scanner) Scan(buf []byte, fn func(Frame)) Result {
	var r Result
	off := 0
	for off < len(buf) {
		m := s.Next(buf[off:])
		switch m.Status {
		case Complete:
			fn(m.Frame)
			r.Frames++
			off += len(m.Frame.Raw)
			continue
		case Incomplete:
			r.Consumed = off
			return r
		}
		if m.Corrupt {
			r.Malformed++
		}
		r.Skipped++
		off++
	}
	r.Consumed = off
	return r
}
