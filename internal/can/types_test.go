package can

import (
	"encoding/binary"
	"testing"
)

func speedFrame(vals ...int16) Frame {
	f := Frame{CANID: 0x321, Len: uint8(2 * len(vals))}
	for i, v := range vals {
		binary.LittleEndian.PutUint16(f.Data[2*i:], uint16(v))
	}
	return f
}

func TestWheelSpeeds(t *testing.T) {
	for _, vals := range [][]int16{{100}, {100, -200}, {1, 2, 3, -4}} {
		got, err := speedFrame(vals...).WheelSpeeds()
		if err != nil {
			t.Fatalf("%v: %v", vals, err)
		}
		if len(got) != len(vals) {
			t.Fatalf("%v: got %v", vals, got)
		}
		for i := range vals {
			if got[i] != int32(vals[i]) {
				t.Fatalf("%v: got %v", vals, got)
			}
		}
	}
}

func TestWheelSpeedsRejects(t *testing.T) {
	bad := []Frame{
		speedFrame(1, 2, 3),
		{CANID: 0x321, Len: 1},
		{CANID: 0x321 | CAN_RTR_FLAG, Len: 2},
		{CANID: 0x321 | CAN_ERR_FLAG, Len: 8},
	}
	for _, f := range bad {
		if _, err := f.WheelSpeeds(); err == nil {
			t.Fatalf("accepted %+v", f)
		}
	}
}

func TestID(t *testing.T) {
	if id := (Frame{CANID: 0x12345 | CAN_EFF_FLAG}).ID(); id != 0x12345 {
		t.Fatalf("eff id %#x", id)
	}
	if id := (Frame{CANID: 0x7FF}).ID(); id != 0x7FF {
		t.Fatalf("sff id %#x", id)
	}
}
