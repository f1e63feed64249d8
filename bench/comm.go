package bench

import (
	"context"
	"time"

	"github.com/unixpickle/collbench/payload"
)

// A Communicator is one participant's handle on a
// collective-communication backend.
//
// Collective calls may return before the work completes on
// the device; Synchronize waits for all queued work.
// Backends with synchronous collectives implement
// Synchronize as a no-op.
//
// A failed collective is not retried. The error should be
// treated as fatal for the whole group.
type Communicator interface {
	Rank() int
	WorldSize() int

	// AllReduce replaces buf with the element-wise sum of
	// every participant's buf.
	AllReduce(ctx context.Context, buf payload.Buffer) error

	// Barrier returns once every participant has called it.
	Barrier(ctx context.Context) error

	Synchronize(ctx context.Context) error

	// Close releases the communication context.
	Close() error
}

// A Clock is a monotonic time source.
type Clock interface {
	Now() time.Duration
}

// Clocked is implemented by communicators with their own
// notion of time, such as simulated networks.
type Clocked interface {
	Clock() Clock
}

// WallClock measures real elapsed time with the monotonic
// clock reading of time.Time.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a clock that starts at 0.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the time since the clock was created.
func (w *WallClock) Now() time.Duration {
	return time.Since(w.start)
}
