package core

import "time"

// Forever makes a periodic task repeat until canceled.
const Forever = -1

// TaskHandle identifies a registered periodic task. The zero value is never issued.
type TaskHandle uint64

// Scheduler runs every callback on one goroutine, one at a time.
// Callbacks must return quickly and never block.
type Scheduler interface {
	// RegisterPeriodic runs fn every interval, iterations times or Forever.
	RegisterPeriodic(interval time.Duration, iterations int, fn func()) TaskHandle

	// Cancel removes a task. Canceling an unknown or finished task is a no-op.
	Cancel(h TaskHandle)

	// Post runs fn once on the scheduler goroutine. Safe to call from any goroutine.
	Post(fn func())
}
