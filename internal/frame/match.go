package frame

// Status is the outcome of trying one framing scheme at one offset.
type Status uint8

const (
	// NoMatch: no frame starts here; the caller may advance one byte.
	NoMatch Status = iota
	// Incomplete: a frame may start here but more bytes are needed.
	Incomplete
	// Complete: Match.Frame holds a whole frame starting at offset 0.
	Complete
)

func (s Status) String() string {
	switch s {
	case NoMatch:
		return "no-match"
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	default:
		return "invalid"
	}
}

// Match is the result variant returned by the matchers.
type Match struct {
	Status Status
	Frame  Frame
	// Corrupt marks a NoMatch caused by a failed checksum or an insane header
	// rather than by the absence of a start marker.
	Corrupt bool
}

func noMatch() Match    { return Match{Status: NoMatch} }
func corrupt() Match    { return Match{Status: NoMatch, Corrupt: true} }
func incomplete() Match { return Match{Status: Incomplete} }
