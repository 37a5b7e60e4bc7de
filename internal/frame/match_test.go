package frame

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchBinaryPartialSync(t *testing.T) {
	layouts := DefaultLayouts()
	cases := []struct {
		in   []byte
		want Status
	}{
		{[]byte{0xAA}, Incomplete},
		{[]byte{0xAA, 0x44}, Incomplete},
		{[]byte{0xAA, 0x44, 0x13}, Incomplete},
		{[]byte{0xAA, 0x45}, NoMatch},
		{[]byte{0xAA, 0x44, 0x14, 0, 0, 0, 0}, NoMatch},
		{[]byte{'$'}, NoMatch},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchBinary(tc.in, layouts).Status, "% X", tc.in)
	}
}

func TestMatchBinaryOversizedIsCorrupt(t *testing.T) {
	h := make([]byte, 10)
	copy(h, LongSync[:])
	h[3] = 28
	h[8], h[9] = 0xFF, 0xFF
	m := MatchBinary(h, DefaultLayouts())
	assert.Equal(t, NoMatch, m.Status)
	assert.True(t, m.Corrupt)
}

func TestMatchAscii(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Status
		raw  int
	}{
		{"start only", "$", Incomplete, 0},
		{"no star yet", "$FP,ODOMETRY,2", Incomplete, 0},
		{"half checksum", "$FP,A*1", Incomplete, 0},
		{"no terminator yet", "$FP,A*1A", Incomplete, 0},
		{"cr without lf yet", "$FP,A*1A\r", Incomplete, 0},
		{"crlf", "$FP,A*1A\r\nrest", Complete, 10},
		{"lf only", "$FP,A*1A\n$", Complete, 9},
		{"next sentence follows", "$FP,A*1A$FP", Complete, 8},
		{"bad hex", "$FP,A*ZZ\r\n", NoMatch, 0},
		{"control byte", "$FP\x01,A*1A\r\n", NoMatch, 0},
		{"restart inside", "$FP$GP,A*1A\r\n", NoMatch, 0},
		{"not a start", "FP,A*1A\r\n", NoMatch, 0},
	}
	for _, tc := range cases {
		m := MatchAscii([]byte(tc.in), false)
		assert.Equal(t, tc.want, m.Status, tc.name)
		if tc.want == Complete {
			assert.Len(t, m.Frame.Raw, tc.raw, tc.name)
			assert.Equal(t, "FP,A", string(m.Frame.Payload), tc.name)
		}
	}
}

func TestMatchAsciiTooLong(t *testing.T) {
	b := make([]byte, MaxAsciiLen+2)
	b[0] = '$'
	for i := 1; i < len(b); i++ {
		b[i] = 'x'
	}
	assert.Equal(t, NoMatch, MatchAscii(b, false).Status)
	assert.Equal(t, Incomplete, MatchAscii(b[:MaxAsciiLen], false).Status)
	assert.Equal(t, Incomplete, MatchAscii(b[:MaxAsciiLen+1], false).Status, "a full-length body may still end")
}

func TestMatchAsciiBodyLengthLimit(t *testing.T) {
	for _, tc := range []struct {
		body int
		want int
	}{
		{MaxAsciiLen - 1, 1},
		{MaxAsciiLen, 1},
		{MaxAsciiLen + 1, 0},
	} {
		body := "FP,TEXT,1,INFO," + strings.Repeat("A", tc.body-len("FP,TEXT,1,INFO,"))
		stream := sentence(body)
		s := NewScanner()
		whole, _ := collect(s, stream)
		assert.Len(t, whole, tc.want, "body %d whole", tc.body)
		for _, sizes := range [][]int{{1}, {7}, {MaxAsciiLen}, {MaxAsciiLen + 1}} {
			got := feedChunked(s, stream, sizes)
			assert.Len(t, got, tc.want, "body %d chunk sizes %v", tc.body, sizes)
		}
	}
}

func TestMatchAsciiStrict(t *testing.T) {
	good := sentence("FP,TF,2,2300,1.0,ECEF,FP_POI,1,2,3,1,0,0,0")
	m := MatchAscii(good, true)
	assert.Equal(t, Complete, m.Status)
	assert.True(t, m.Frame.ChecksumOK())

	bad := append([]byte(nil), good...)
	bad[3] = 'Q'
	m = MatchAscii(bad, true)
	assert.Equal(t, NoMatch, m.Status)
	assert.True(t, m.Corrupt)
}

func TestParseLayouts(t *testing.T) {
	sync, err := ParseSync("0xAA4413")
	assert.NoError(t, err)
	assert.Equal(t, ShortSync, sync)
	_, err = ParseSync("AA44")
	assert.Error(t, err)

	l, err := ParseLayouts([]string{"Compact", "long", "compact"}, sync)
	assert.NoError(t, err)
	if assert.Len(t, l, 2) {
		assert.Equal(t, "compact", l[0].Name)
		assert.Equal(t, ShortSync, l[0].Sync)
		assert.Equal(t, "long", l[1].Name)
	}
	_, err = ParseLayouts([]string{"oem4"}, sync)
	assert.Error(t, err)
	_, err = ParseLayouts(nil, sync)
	assert.Error(t, err)
}

func TestCompactLayoutSelectedByName(t *testing.T) {
	l, err := ParseLayouts([]string{"compact"}, ShortSync)
	assert.NoError(t, err)
	fr := compactFrame(ShortSync, 0x1234, []byte{1, 2, 3, 4})
	frames, _ := collect(NewScanner(WithLayouts(l...)), fr)
	if assert.Len(t, frames, 1) {
		assert.Len(t, frames[0].Raw, 14)
		assert.Equal(t, uint16(0x1234), frames[0].ID)
	}
}
