//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/can"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/socketcan"
	"github.com/kstaniek/go-fp-driver/internal/stream"
)

// openCANDevice is a hook for tests.
var openCANDevice = func(iface string, id uint32, rxTimeout time.Duration) (socketcan.Dev, error) {
	return socketcan.Open(iface, id, rxTimeout)
}

// startCANWheelSpeeds reads wheel-speed frames from a SocketCAN interface
// and hands each decoded set of readings to push. The returned cleanup
// closes the socket.
func startCANWheelSpeeds(ctx context.Context, cfg *appConfig, push func(stream.Command) error, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	dev, err := openCANDevice(cfg.wsCANIf, uint32(cfg.wsCANID), canReadTimeout)
	if err != nil {
		return func() {}, fmt.Errorf("socketcan open %s: %w", cfg.wsCANIf, err)
	}
	l.Info("wheel_speed_can_open", "if", cfg.wsCANIf, "id", fmt.Sprintf("%#x", cfg.wsCANID))
	var once sync.Once
	closeDev := func() { once.Do(func() { _ = dev.Close() }) }
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("wheel_speed_can_end")
		defer closeDev()
		backoff := rxBackoffMin
		for {
			if ctx.Err() != nil {
				return
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, socketcan.ErrNoFrame) {
					continue
				}
				metrics.IncError(metrics.ErrCANRead)
				l.Warn("wheel_speed_can_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			backoff = rxBackoffMin
			speeds, err := fr.WheelSpeeds()
			if err != nil {
				l.Debug("wheel_speed_frame_ignored", "error", err)
				continue
			}
			// Overflow is counted by the queue hook.
			_ = push(stream.Command{Speeds: speeds})
		}
	}()
	return closeDev, nil
}
