package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx_bytes", snap.RxBytes,
					"binary_frames", snap.BinaryFrames,
					"ascii_frames", snap.AsciiFrames,
					"malformed", snap.Malformed,
					"skipped", snap.Skipped,
					"unhandled", snap.Unhandled,
					"records", snap.Records,
					"dmi_tx", snap.DMITx,
					"dmi_dropped", snap.DMIDropped,
					"stream_tx", snap.StreamTx,
					"hub_drops", snap.HubDrops,
					"clients", snap.HubClients,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
