//go:build linux

package socketcan

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-fp-driver/internal/can"
)

func TestParseFrame(t *testing.T) {
	var raw [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(raw[0:4], 0x123)
	raw[4] = 4
	copy(raw[8:], []byte{0x64, 0x00, 0x38, 0xFF, 0xAA, 0xBB})

	var fr can.Frame
	if err := parseFrame(raw[:], &fr); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fr.ID() != 0x123 || fr.Len != 4 {
		t.Fatalf("unexpected frame %+v", fr)
	}
	if fr.Data[4] != 0 {
		t.Fatalf("bytes beyond dlc leaked: % x", fr.Data)
	}
	speeds, err := fr.WheelSpeeds()
	if err != nil || speeds[0] != 100 || speeds[1] != -200 {
		t.Fatalf("speeds=%v err=%v", speeds, err)
	}
}

func TestParseFrameShort(t *testing.T) {
	var fr can.Frame
	if err := parseFrame(make([]byte, 8), &fr); err == nil {
		t.Fatal("expected short read error")
	}
}

func TestFilterFor(t *testing.T) {
	if f := filterFor(0x123); f.Id != 0x123 || f.Mask&can.CAN_EFF_FLAG == 0 {
		t.Fatalf("sff filter %+v", f)
	}
	if f := filterFor(0x18FF0001); f.Id&can.CAN_EFF_FLAG == 0 {
		t.Fatalf("eff filter %+v", f)
	}
}
