//go:build !deadlock

// Package syncutil provides the mutex types used by the hub and the record
// server. Building with -tags deadlock swaps in go-deadlock detectors.
package syncutil

import "sync"

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
