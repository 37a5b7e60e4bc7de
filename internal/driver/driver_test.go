package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/dmi"
	"github.com/kstaniek/go-fp-driver/internal/frame"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn replays chunks, one per read, then reports no data (or err).
type fakeConn struct {
	chunks [][]byte
	err    error
	writes [][]byte
	short  int
	werr   error
	closed int
}

func (f *fakeConn) ReadNonBlocking(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		return 0, nil
	}
	c := f.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		f.chunks[0] = c[n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.werr != nil {
		return 0, f.werr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.short > 0 {
		return f.short, nil
	}
	return len(p), nil
}

func (f *fakeConn) Close() error { f.closed++; return nil }

func opener(c *fakeConn) Opener {
	return func(context.Context, transport.Params, *slog.Logger) (transport.Conn, error) { return c, nil }
}

type seenConverter struct{ calls [][]string }

func (*seenConverter) Category() convert.Category { return "PROP" }

func (s *seenConverter) Convert(f frame.Frame, emit convert.Emit) error {
	s.calls = append(s.calls, f.Tokens())
	return nil
}

func newDriver(t *testing.T, c *fakeConn, reg *convert.Registry, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithOpener(opener(c)), WithLogger(logging.Discard())}, opts...)
	var disp Dispatcher
	if reg != nil {
		disp = reg
	}
	d := New(transport.Params{Kind: transport.KindTCP, Host: "127.0.0.1", Port: 21000}, disp, opts...)
	require.NoError(t, d.Connect(context.Background()))
	return d
}

func TestSentenceFragmentedAcrossReads(t *testing.T) {
	msg := []byte("$PROP,MSGTYPE,field1,field2*1A\r\n")
	c := &fakeConn{chunks: [][]byte{msg[:5], msg[5:20], msg[20:]}}
	reg := convert.NewRegistry(nil, convert.WithLogger(logging.Discard()))
	conv := &seenConverter{}
	reg.HandleAscii("PROP", "MSGTYPE", conv)
	d := newDriver(t, c, reg)

	for i := 0; i < 4; i++ {
		_, err := d.RunOnce()
		require.NoError(t, err)
		if i < 2 {
			assert.Empty(t, conv.calls, "dispatched before the sentence was complete")
			assert.NotZero(t, d.Pending())
		}
	}
	require.Len(t, conv.calls, 1)
	assert.Equal(t, []string{"PROP", "MSGTYPE", "field1", "field2"}, conv.calls[0])
	assert.Zero(t, d.Pending())
}

func TestUnregisteredBinaryDropped(t *testing.T) {
	fr := []byte{0xAA, 0x44, 0x13, 4, 0x34, 0x12, 1, 2, 3, 4}
	fr = frame.AppendCRC(fr)
	require.Len(t, fr, 14)

	reg := convert.NewRegistry(nil, convert.WithLogger(logging.Discard()))
	sc := frame.NewScanner(frame.WithLayouts(frame.Compact(frame.ShortSync)))
	c := &fakeConn{chunks: [][]byte{fr}}
	d := newDriver(t, c, reg, WithScanner(sc))

	before := metrics.Snap()
	n, err := d.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	after := metrics.Snap()
	assert.Equal(t, before.BinaryFrames+1, after.BinaryFrames)
	assert.Equal(t, before.Unhandled+1, after.Unhandled)
	assert.Zero(t, d.Pending())
}

func TestPairedWheelSpeedsWrittenOnce(t *testing.T) {
	c := &fakeConn{}
	d := newDriver(t, c, nil)
	d.SetTime(2231, 1500)

	require.NoError(t, d.SendWheelSpeeds([]int32{100, 200}))
	require.Len(t, c.writes, 1)
	b := c.writes[0]
	require.Len(t, b, dmi.FrameLen)
	assert.Equal(t, uint32(0b100000000011), binary.LittleEndian.Uint32(b[28:32]))
	assert.Equal(t, uint16(2231), binary.LittleEndian.Uint16(b[6:8]))
	assert.Equal(t, uint32(1500), binary.LittleEndian.Uint32(b[8:12]))
	assert.Zero(t, frame.CRC32(b))
}

func TestUnsupportedReadingCountWritesNothing(t *testing.T) {
	c := &fakeConn{}
	d := newDriver(t, c, nil)
	for _, n := range []int{0, 3, 5} {
		require.NoError(t, d.SendWheelSpeeds(make([]int32, n)))
	}
	assert.Empty(t, c.writes)
}

func TestShortWriteIsNotRetried(t *testing.T) {
	c := &fakeConn{short: 10}
	d := newDriver(t, c, nil)
	require.NoError(t, d.SendWheelSpeeds([]int32{1}))
	assert.Len(t, c.writes, 1)
	assert.True(t, d.Connected())
}

func TestReadErrorClosesConnection(t *testing.T) {
	c := &fakeConn{chunks: [][]byte{[]byte("$FP,TE")}, err: transport.ErrClosed}
	d := newDriver(t, c, nil)

	_, err := d.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 6, d.Pending())

	_, err = d.RunOnce()
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.False(t, d.Connected())
	assert.Equal(t, 1, c.closed)
	assert.Zero(t, d.Pending(), "partial frame must be discarded on teardown")

	_, err = d.RunOnce()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, d.SendWheelSpeeds([]int32{1}), ErrNotConnected)
}

func TestWriteErrorClosesConnection(t *testing.T) {
	c := &fakeConn{werr: transport.ErrConnection}
	d := newDriver(t, c, nil)
	assert.ErrorIs(t, d.SendWheelSpeeds([]int32{1, 2, 3, 4}), transport.ErrConnection)
	assert.False(t, d.Connected())
}

func TestConnectFailure(t *testing.T) {
	boom := errors.New("refused")
	d := New(transport.Params{Kind: transport.KindTCP, Host: "127.0.0.1", Port: 1}, nil,
		WithLogger(logging.Discard()),
		WithOpener(func(context.Context, transport.Params, *slog.Logger) (transport.Conn, error) { return nil, boom }))
	before := metrics.Snap().ConnectFailed
	assert.ErrorIs(t, d.Connect(context.Background()), boom)
	assert.False(t, d.Connected())
	assert.Equal(t, before+1, metrics.Snap().ConnectFailed)
}

func TestGarbageBetweenFramesIsSkipped(t *testing.T) {
	out := []convert.Record{}
	reg := convert.Build([]string{"TEXT"}, func(r convert.Record) { out = append(out, r) }, convert.WithLogger(logging.Discard()))
	stream := []byte("\x00\x01zz$FP,TEXT,1,INFO,a*00\r\n\xff\xfe$FP,TEXT,1,WARN,b*00\r\n")
	c := &fakeConn{chunks: [][]byte{stream}}
	d := newDriver(t, c, reg, WithReadSize(7))
	for len(c.chunks) > 0 {
		n, err := d.RunOnce()
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 7)
	}
	require.Len(t, out, 2)
	assert.Equal(t, convert.Text{Level: "INFO", Text: "a"}, out[0].Data)
	assert.Equal(t, convert.Text{Level: "WARN", Text: "b"}, out[1].Data)
}

func TestCloseIdempotent(t *testing.T) {
	c := &fakeConn{}
	d := newDriver(t, c, nil)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, c.closed)
}
