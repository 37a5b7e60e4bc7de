package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/driver"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/stream"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

// runner is the only goroutine touching the driver. Everything else talks
// to it through the command queue.
type runner struct {
	drv      *driver.Driver
	queue    *transport.TxQueue[stream.Command]
	interval time.Duration
	log      *slog.Logger

	connected atomic.Bool
}

func newCommandQueue(size int, l *slog.Logger) *transport.TxQueue[stream.Command] {
	return transport.NewTxQueue[stream.Command](size, transport.QueueHooks{
		OnDrop: func() error {
			metrics.IncDMIDropped()
			metrics.IncError(metrics.ErrDMIOverflow)
			l.Debug("command_queue_full")
			return transport.ErrTxOverflow
		},
	})
}

// run connects, reads and applies queued commands until ctx is done.
// Connection failures back off exponentially between rxBackoffMin and
// rxBackoffMax; a dropped connection is reopened on the next cycle.
func (r *runner) run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	defer func() {
		if err := r.drv.Close(); err != nil {
			r.log.Warn("sensor_close_error", "error", err)
		}
		r.connected.Store(false)
	}()
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		if !r.drv.Connected() {
			if err := r.drv.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.log.Warn("sensor_connect_failed", "error", err, "backoff", backoff)
				// Stale wheel speeds are worthless after a reconnect.
				r.queue.Drain(r.apply)
				sleepFn(backoff)
				backoff *= 2
				if backoff > rxBackoffMax {
					backoff = rxBackoffMax
				}
				continue
			}
			backoff = rxBackoffMin
			r.connected.Store(true)
		}
		r.cycle()
		r.connected.Store(r.drv.Connected())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// cycle applies pending commands, then reads until the connection runs
// dry or maxReadsPerTick is reached.
func (r *runner) cycle() {
	r.queue.Drain(r.apply)
	for i := 0; i < maxReadsPerTick; i++ {
		n, err := r.drv.RunOnce()
		if err != nil || n < r.drv.ReadSize() {
			return
		}
	}
}

func (r *runner) apply(cmd stream.Command) {
	if cmd.HasTime() {
		r.drv.SetTime(*cmd.Week, *cmd.TowMs)
	}
	if len(cmd.Speeds) == 0 {
		return
	}
	if err := r.drv.SendWheelSpeeds(cmd.Speeds); err != nil && !errors.Is(err, driver.ErrNotConnected) {
		r.log.Debug("wheel_speed_send_failed", "error", err)
	}
}
