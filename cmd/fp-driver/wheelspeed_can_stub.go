//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-fp-driver/internal/stream"
)

// Placeholder so non-linux builds compile; SocketCAN is linux only.
func startCANWheelSpeeds(ctx context.Context, cfg *appConfig, push func(stream.Command) error, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	return func() {}, fmt.Errorf("socketcan wheel speeds unsupported on this platform")
}
