// Package fake provides a deterministic communicator with
// fixed per-call latency, for testing benchmarks without
// hardware.
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/payload"
)

// ErrClosed is returned by calls on a closed Backend.
var ErrClosed = errors.New("fake: communicator is closed")

// ErrInjected is the failure returned once FailAfter
// all-reduce calls have been made.
var ErrInjected = errors.New("fake: injected communication failure")

// A Clock is a manual clock that only moves when advanced.
type Clock struct {
	lock sync.Mutex
	now  time.Duration
}

// Now returns the current time.
func (c *Clock) Now() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now += d
}

// Backend is a single participant whose collectives cost a
// fixed amount of virtual time.
//
// AllReduce behaves like an asynchronous device collective:
// it returns at once and queues Latency worth of work. The
// clock only moves when Synchronize drains the queue or a
// Barrier is issued. The buffer contents are left as they
// are, as if every participant contributed zeros.
type Backend struct {
	Latency        time.Duration
	BarrierLatency time.Duration

	// FailAfter, if positive, makes every all-reduce after
	// the first FailAfter calls return ErrInjected.
	FailAfter int

	rank      int
	worldSize int
	clock     *Clock

	lock    sync.Mutex
	pending time.Duration
	closed  bool
	stats   Stats
}

// Stats counts the calls made to a Backend.
type Stats struct {
	AllReduces   int
	Barriers     int
	Synchronizes int
	Closes       int

	// Elements is the total number of elements passed to
	// AllReduce.
	Elements int64
}

// New creates a Backend for one participant.
func New(rank, worldSize int, latency time.Duration) *Backend {
	return &Backend{
		Latency:   latency,
		rank:      rank,
		worldSize: worldSize,
		clock:     &Clock{},
	}
}

// Rank returns the participant's rank.
func (b *Backend) Rank() int {
	return b.rank
}

// WorldSize returns the number of participants.
func (b *Backend) WorldSize() int {
	return b.worldSize
}

// Clock returns the Backend's virtual clock, which the
// benchmark runner uses in place of the wall clock.
func (b *Backend) Clock() bench.Clock {
	return b.clock
}

// ManualClock returns the underlying clock so tests can
// move it.
func (b *Backend) ManualClock() *Clock {
	return b.clock
}

// Stats returns a snapshot of the call counters.
func (b *Backend) Stats() Stats {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.stats
}

// AllReduce queues Latency of simulated work.
func (b *Backend) AllReduce(ctx context.Context, buf payload.Buffer) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	if b.FailAfter > 0 && b.stats.AllReduces >= b.FailAfter {
		return ErrInjected
	}
	b.stats.AllReduces++
	b.stats.Elements += int64(len(buf))
	b.pending += b.Latency
	return nil
}

// Barrier advances the clock by BarrierLatency.
func (b *Backend) Barrier(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	b.stats.Barriers++
	b.clock.Advance(b.BarrierLatency)
	return nil
}

// Synchronize waits for all queued work by advancing the
// clock past it.
func (b *Backend) Synchronize(ctx context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	b.stats.Synchronizes++
	b.clock.Advance(b.pending)
	b.pending = 0
	return nil
}

// Close marks the Backend as closed.
func (b *Backend) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.stats.Closes++
	return nil
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed {
		return ErrClosed
	}
	return ctx.Err()
}
