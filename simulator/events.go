// Package simulator runs simulated participants against a
// virtual clock.
//
// Participants are Goroutines started through an
// EventLoop. Virtual time only advances once every
// participant is blocked waiting for an event, so local
// computation is free unless a participant charges for it
// with Sleep.
package simulator

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/unixpickle/essentials"
)

// An EventStream is a uni-directional channel of events
// that are passed through an EventLoop.
//
// It is only safe to use an EventStream on one EventLoop
// at once.
type EventStream struct {
	loop    *EventLoop
	pending []interface{}
}

// An Event is a message received on some EventStream.
type Event struct {
	Message interface{}
	Stream  *EventStream
}

// A Timer is a single send that will happen in the
// (virtual) future.
type Timer struct {
	time  time.Duration
	event *Event
}

// Time gets the virtual time when the timer fires.
func (t *Timer) Time() time.Duration {
	return t.time
}

// A Handle is a Goroutine's mechanism for accessing an
// EventLoop. Goroutines should not share Handles.
type Handle struct {
	*EventLoop

	// Empty while the Goroutine is running in real time.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll waits for the next event from a set of streams.
//
// Streams earlier in the argument list take priority when
// several have buffered events.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		for _, stream := range streams {
			if len(stream.pending) > 0 {
				msg := stream.pending[0]
				essentials.OrderedDelete(&stream.pending, 0)
				ch <- &Event{Message: msg, Stream: stream}
				return
			}
		}
		h.pollStreams = streams
		h.pollChan = ch
	})
	return <-ch
}

// Schedule creates a Timer for delivering an event after
// a virtual delay.
func (h *Handle) Schedule(stream *EventStream, msg interface{}, delay time.Duration) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	if delay < 0 {
		panic(fmt.Sprintf("invalid delay: %s", delay))
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:  h.time + delay,
			event: &Event{Message: msg, Stream: stream},
		}
		h.timers = append(h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if the timer is scheduled.
//
// If the timer is not scheduled, this has no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		for i, timer := range h.timers {
			if timer == t {
				essentials.UnorderedDelete(&h.timers, i)
				return
			}
		}
	})
}

// Sleep waits for virtual time to elapse.
func (h *Handle) Sleep(delay time.Duration) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop is a global scheduler for events in a
// simulated distributed system.
//
// All Goroutines which access an EventLoop should be
// started using the EventLoop.Go() method.
type EventLoop struct {
	lock    sync.Mutex
	timers  []*Timer
	handles []*Handle

	time time.Duration

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop whose clock starts
// at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs a function in a Goroutine and passes it a new
// handle to the EventLoop.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.lock.Lock()
	e.handles = append(e.handles, h)
	e.lock.Unlock()
	go func() {
		defer e.modifyHandles(func() {
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
		f(h)
	}()
}

// Run runs the loop and blocks until all handles have
// been closed.
//
// It is not safe to run the loop from more than one
// Goroutine at once.
//
// Returns with an error if there is a deadlock.
func (e *EventLoop) Run() error {
	e.lock.Lock()
	if e.running {
		e.lock.Unlock()
		panic("EventLoop is already running.")
	}
	e.running = true
	e.lock.Unlock()

	defer func() {
		e.lock.Lock()
		e.running = false
		e.lock.Unlock()
	}()

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// MustRun is like Run, but it panics if there is a
// deadlock.
func (e *EventLoop) MustRun() {
	if err := e.Run(); err != nil {
		panic(err)
	}
}

// Time gets the current virtual time.
func (e *EventLoop) Time() time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// Now is an alias for Time so that a Handle can be used as
// a clock.
func (e *EventLoop) Now() time.Duration {
	return e.Time()
}

// modify calls f while holding the loop lock.
//
// f must not make scheduling changes; use modifyHandles
// for that.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify(), but it wakes the loop
// afterwards so it can re-check the handles.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step runs the next event on the loop, if possible.
//
// The first return value is false once the loop can no
// longer run, and the error is non-nil if that was due to
// a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	}

	for _, h := range e.handles {
		if len(h.pollStreams) == 0 {
			// Do not run the loop while a Goroutine is
			// doing work in real-time.
			return true, nil
		}
	}

	for len(e.timers) > 0 {
		// Shuffle so that two timers with the same deadline
		// don't execute in a deterministic order.
		indices := rand.Perm(len(e.timers))

		minTimerIdx := indices[0]
		for _, i := range indices[1:] {
			if e.timers[i].time < e.timers[minTimerIdx].time {
				minTimerIdx = i
			}
		}
		timer := e.timers[minTimerIdx]

		essentials.UnorderedDelete(&e.timers, minTimerIdx)
		if timer.time > e.time {
			e.time = timer.time
		}
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, errors.New("deadlock: all Handles are polling")
}

func (e *EventLoop) deliver(event *Event) bool {
	// Shuffle the handles so that two receivers don't get
	// messages in a deterministic order.
	indices := rand.Perm(len(e.handles))
	for _, i := range indices {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}
