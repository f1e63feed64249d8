package simulator

import (
	"fmt"
	"testing"
	"time"
)

func ExampleEventLoop() {
	loop := NewEventLoop()
	stream := loop.Stream()
	loop.Go(func(h *Handle) {
		msg := h.Poll(stream).Message
		fmt.Println(msg, h.Time())
	})
	loop.Go(func(h *Handle) {
		h.Schedule(stream, "Hello, world!", 15500*time.Millisecond)
	})
	loop.Run()
	// Output: Hello, world! 15.5s
}

func TestEventLoopTimer(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	value := make(chan interface{}, 1)
	loop.Go(func(h *Handle) {
		value <- h.Poll(stream).Message
	})
	loop.Go(func(h *Handle) {
		h.Schedule(stream, 1337, 15*time.Microsecond)
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 15*time.Microsecond {
		t.Errorf("time should be 15us but is %s", loop.Time())
	}
	select {
	case val := <-value:
		if val != 1337 {
			t.Errorf("value should be 1337 but is %v", val)
		}
	default:
		t.Error("timer never fired")
	}
}

func TestEventLoopTimerOrder(t *testing.T) {
	loop := NewEventLoop()

	stream1 := loop.Stream()
	stream2 := loop.Stream()

	values := make(chan interface{}, 2)

	for _, stream := range []*EventStream{stream1, stream2} {
		s := stream
		loop.Go(func(h *Handle) {
			event := h.Poll(s)
			if event.Stream != s {
				t.Error("incorrect stream")
			}
			values <- event.Message
		})
	}

	loop.Go(func(h *Handle) {
		h.Schedule(stream1, 123, 5*time.Second)
		h.Schedule(stream2, 1339, 7*time.Second)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	if loop.Time() != 7*time.Second {
		t.Errorf("time should be 7s but got %s", loop.Time())
	}

	if val := <-values; val != 123 {
		t.Errorf("value 1 should be 123 but got %v", val)
	}
	if val := <-values; val != 1339 {
		t.Errorf("value 2 should be 1339 but got %v", val)
	}
}

// TestEventLoopMultiConsumer tests that the EventLoop
// properly supports multiple Goroutines reading from the
// same event stream.
func TestEventLoopMultiConsumer(t *testing.T) {
	orderings := map[[3]int]bool{}
	for i := 0; i < 2000; i++ {
		loop := NewEventLoop()
		stream := loop.Stream()
		var ordering [3]int
		for j := 0; j < 3; j++ {
			idx := j
			loop.Go(func(h *Handle) {
				ordering[idx] = h.Poll(stream).Message.(int)
			})
		}
		loop.Go(func(h *Handle) {
			h.Schedule(stream, 1, time.Second)
			h.Schedule(stream, 2, 2*time.Second)
			h.Schedule(stream, 3, 3*time.Second)
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		orderings[ordering] = true
	}
	if len(orderings) != 6 {
		t.Errorf("expected 6 possible orderings but saw %d", len(orderings))
	}
}

// TestEventLoopBuffering tests that messages sent to an
// EventStream are queued if no Goroutine is polling it.
func TestEventLoopBuffering(t *testing.T) {
	loop := NewEventLoop()

	readFirst := loop.Stream()
	readSecond := loop.Stream()
	neverRead := loop.Stream()

	value := make(chan interface{}, 1)

	loop.Go(func(h *Handle) {
		h.Poll(readFirst)
		value <- h.Poll(readSecond).Message
	})

	loop.Go(func(h *Handle) {
		h.Schedule(readSecond, 1337, 3*time.Second)
		h.Sleep(2 * time.Second)
		h.Schedule(neverRead, 321, 4*time.Second)
		h.Schedule(readFirst, 123, 7*time.Second)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}

	if loop.Time() != 9*time.Second {
		t.Errorf("time should be 9s but got %s", loop.Time())
	}

	if val := <-value; val != 1337 {
		t.Errorf("expected 1337 but got %v", val)
	}
}

func TestEventLoopCancel(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	values := make(chan interface{}, 2)
	loop.Go(func(h *Handle) {
		timer := h.Schedule(stream, 1, time.Second)
		h.Schedule(stream, 2, 2*time.Second)
		h.Cancel(timer)
		values <- h.Poll(stream).Message
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if val := <-values; val != 2 {
		t.Errorf("expected 2 but got %v", val)
	}
	if loop.Time() != 2*time.Second {
		t.Errorf("time should be 2s but got %s", loop.Time())
	}
}

// TestEventLoopDeadlocks makes sure that the event loop
// can detect deadlocks.
func TestEventLoopDeadlocks(t *testing.T) {
	loop := NewEventLoop()

	stream1 := loop.Stream()
	stream2 := loop.Stream()

	loop.Go(func(h *Handle) {
		h.Poll(stream1)
		h.Schedule(stream2, 1337, 0)
	})

	loop.Go(func(h *Handle) {
		time.Sleep(time.Second / 4)
		h.Poll(stream2)
		h.Schedule(stream1, 1337, 0)
	})

	if loop.Run() == nil {
		t.Error("did not detect deadlock")
	}
}
