package main

import "time"

const (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// maxReadsPerTick bounds back-to-back reads while the sensor keeps the
	// read buffer full, so queued wheel speeds are not starved.
	maxReadsPerTick = 64
	// canReadTimeout is how long a CAN read may block before cancellation
	// is checked again.
	canReadTimeout = 200 * time.Millisecond
)

// sleepFn is a hook for tests.
var sleepFn = time.Sleep
