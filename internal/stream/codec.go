// Package stream is the wire format of the record stream: a hello exchange
// followed by CBOR data items. The driver sends records; clients send
// wheel-speed commands.
package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/go-fp-driver/internal/convert"
)

// Record is the wire shape of one convert.Record.
type Record struct {
	Category string `cbor:"category"`
	Data     any    `cbor:"data"`
}

// Command is one client request. Speeds are forwarded to the sensor; when
// Week and TowMs are both present they replace the GPS time stamped on
// outgoing frames. A non-nil Subscribe replaces the client's category
// filter (empty means everything).
type Command struct {
	Speeds    []int32  `cbor:"speeds,omitempty"`
	Week      *uint16  `cbor:"week,omitempty"`
	TowMs     *uint32  `cbor:"tow_ms,omitempty"`
	Subscribe []string `cbor:"subscribe,omitempty"`
}

// HasTime reports whether the command sets the GPS time.
func (c Command) HasTime() bool { return c.Week != nil && c.TowMs != nil }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 16, MaxMapPairs: 16, MaxNestedLevels: 4}).DecMode(); err != nil {
		panic(err)
	}
}

// Codec batches records onto a writer.
type Codec struct {
	buf bytes.Buffer
}

// EncodeTo writes recs as consecutive CBOR items with a single Write.
func (c *Codec) EncodeTo(w io.Writer, recs []convert.Record) (int, error) {
	c.buf.Reset()
	enc := encMode.NewEncoder(&c.buf)
	for _, r := range recs {
		if err := enc.Encode(Record{Category: string(r.Category), Data: r.Data}); err != nil {
			return 0, fmt.Errorf("encode %s: %w", r.Category, err)
		}
	}
	return w.Write(c.buf.Bytes())
}

// Encode returns recs as consecutive CBOR items.
func (c *Codec) Encode(recs []convert.Record) ([]byte, error) {
	var b bytes.Buffer
	if _, err := c.EncodeTo(&b, recs); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// CommandDecoder reads wheel-speed commands from a client stream.
type CommandDecoder struct{ dec *cbor.Decoder }

func NewCommandDecoder(r io.Reader) *CommandDecoder {
	return &CommandDecoder{dec: decMode.NewDecoder(r)}
}

// Next decodes one command. io.EOF marks a clean end of stream.
func (d *CommandDecoder) Next() (Command, error) {
	var c Command
	err := d.dec.Decode(&c)
	return c, err
}

// EncodeCommand is the client side of Next.
func EncodeCommand(c Command) ([]byte, error) { return encMode.Marshal(c) }

// DecodeRecord decodes one record item; Data decodes to generic CBOR values.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	err := cbor.Unmarshal(b, &r)
	return r, err
}
