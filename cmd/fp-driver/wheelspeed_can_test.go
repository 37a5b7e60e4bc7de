//go:build linux

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-fp-driver/internal/can"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/socketcan"
	"github.com/kstaniek/go-fp-driver/internal/stream"
)

// fakeCANDev replays frames, then times out like an idle bus.
type fakeCANDev struct {
	mu     sync.Mutex
	frames []can.Frame
	errs   []error
	closed bool
}

func (d *fakeCANDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}
	if len(d.frames) == 0 {
		time.Sleep(time.Millisecond)
		return socketcan.ErrNoFrame
	}
	*fr = d.frames[0]
	d.frames = d.frames[1:]
	return nil
}

func (d *fakeCANDev) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func TestCANWheelSpeedsPushesCommands(t *testing.T) {
	dev := &fakeCANDev{
		errs: []error{errors.New("bus off")},
		frames: []can.Frame{
			{CANID: 0x100, Len: 4, Data: [8]byte{0x10, 0x00, 0xF0, 0xFF}},
			{CANID: 0x100, Len: 3},                    // ignored: odd length
			{CANID: 0x100 | can.CAN_RTR_FLAG, Len: 2}, // ignored: remote frame
			{CANID: 0x100, Len: 2, Data: [8]byte{0x05, 0x00}},
		},
	}
	openCANDevice = func(string, uint32, time.Duration) (socketcan.Dev, error) { return dev, nil }
	defer func() {
		openCANDevice = func(iface string, id uint32, to time.Duration) (socketcan.Dev, error) {
			return socketcan.Open(iface, id, to)
		}
	}()
	var slept []time.Duration
	sleepFn = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleepFn = time.Sleep }()

	var mu sync.Mutex
	var got []stream.Command
	push := func(c stream.Command) error {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	cleanup, err := startCANWheelSpeeds(ctx, &appConfig{wsCANIf: "vcan0", wsCANID: 0x100}, push, logging.Discard(), &wg)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	cleanup()

	assert.Equal(t, []int32{16, -16}, got[0].Speeds)
	assert.Equal(t, []int32{5}, got[1].Speeds)
	assert.Equal(t, []time.Duration{rxBackoffMin}, slept)
	assert.True(t, dev.closed)
}
