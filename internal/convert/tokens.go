package convert

import (
	"fmt"
	"math"
	"strconv"
)

// tokenReader walks FP_A tokens, remembering the first parse error.
// Empty float fields (not available on the receiver) read as NaN.
type tokenReader struct {
	toks []string
	i    int
	err  error
}

func newTokenReader(toks []string, want int, version string) (*tokenReader, error) {
	if len(toks) != want {
		return nil, fmt.Errorf("%w: got %d want %d", ErrTokenCount, len(toks), want)
	}
	if toks[2] != version {
		return nil, fmt.Errorf("%w: %q", ErrVersion, toks[2])
	}
	return &tokenReader{toks: toks, i: 3}, nil
}

func (r *tokenReader) next() string {
	if r.i >= len(r.toks) {
		if r.err == nil {
			r.err = fmt.Errorf("%w: read past token %d", ErrTokenCount, r.i)
		}
		return ""
	}
	s := r.toks[r.i]
	r.i++
	return s
}

func (r *tokenReader) float() float64 {
	s := r.next()
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: token %d %q", ErrField, r.i-1, s)
	}
	return v
}

func (r *tokenReader) int() int {
	s := r.next()
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: token %d %q", ErrField, r.i-1, s)
	}
	return v
}

func (r *tokenReader) str() string { return r.next() }

func (r *tokenReader) stamp() GpsTime {
	return GpsTime{Week: r.int(), Tow: r.float()}
}

func (r *tokenReader) vec3() (v [3]float64) {
	for i := range v {
		v[i] = r.float()
	}
	return v
}

func (r *tokenReader) vec4() (v [4]float64) {
	for i := range v {
		v[i] = r.float()
	}
	return v
}

func (r *tokenReader) vec6() (v [6]float64) {
	for i := range v {
		v[i] = r.float()
	}
	return v
}
