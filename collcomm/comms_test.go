package collcomm

import (
	"testing"
	"time"

	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/collbench/simulator"
)

func TestCommsStashesLaterOperations(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
	network := simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(2, 1e6), nodes, time.Millisecond)
	var received []float32
	SpawnComms(loop, network, nodes, func(c *Comms) {
		other := c.Ports[1-c.Index()]
		if c.Index() == 0 {
			// The large first message is overtaken by the
			// small message of the next operation.
			big := payload.New(100000)
			big.Fill(1)
			c.Send(other, big)
			c.Begin()
			c.Send(other, constVector(2))
			return
		}
		for i := 0; i < 2; i++ {
			vec, _ := c.Recv()
			received = append(received, vec[0].Float32())
			c.Begin()
		}
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Errorf("unexpected messages: %v", received)
	}
}

func TestCommsDropsFinishedOperations(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := []*simulator.Node{simulator.NewNode(), simulator.NewNode()}
	network := simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(2, 1e6), nodes, time.Millisecond)
	var received []float32
	SpawnComms(loop, network, nodes, func(c *Comms) {
		other := c.Ports[1-c.Index()]
		if c.Index() == 0 {
			c.Send(other, constVector(1))
			c.Begin()
			c.Send(other, constVector(2))
			return
		}
		c.Handle.Sleep(time.Second)
		c.Begin()
		vec, _ := c.Recv()
		received = append(received, vec[0].Float32())
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if len(received) != 1 || received[0] != 2 {
		t.Errorf("unexpected messages: %v", received)
	}
}

func TestBarrier(t *testing.T) {
	loop := simulator.NewEventLoop()
	nodes := make([]*simulator.Node, 5)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	network := simulator.NewSwitcherNetwork(simulator.NewGreedyDropSwitcher(5, 1e6), nodes, time.Millisecond)
	exitTimes := make([]time.Duration, len(nodes))
	SpawnComms(loop, network, nodes, func(c *Comms) {
		c.Handle.Sleep(time.Duration(c.Index()) * time.Second)
		c.Barrier()
		exitTimes[c.Index()] = c.Handle.Time()
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for i, exit := range exitTimes {
		if exit < 4*time.Second {
			t.Errorf("node %d left the barrier at %s, before the last node arrived", i, exit)
		}
	}
}

func TestSum(t *testing.T) {
	loop := simulator.NewEventLoop()
	var res payload.Buffer
	loop.Go(func(h *simulator.Handle) {
		res = Sum(h, constVector(1), constVector(2), constVector(3))
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if res[0].Float32() != 6 {
		t.Errorf("expected 6 but got %f", res[0].Float32())
	}
	if expected := 3 * FlopTime; loop.Time() != expected {
		t.Errorf("expected %s of compute but got %s", expected, loop.Time())
	}
}

func constVector(x float32) payload.Buffer {
	res := payload.New(1)
	res.Fill(x)
	return res
}
