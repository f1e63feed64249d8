// Package collcomm provides the per-node view of a
// simulated network that collective algorithms run on.
package collcomm

import (
	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/collbench/simulator"
	"github.com/unixpickle/essentials"
)

// HeaderSize is the number of bytes added to every message
// on the simulated wire.
const HeaderSize = 16

// Comms manages a set of connections between a bunch of
// nodes.
// During a collective operation, each node has a local
// Comms object that represents its view of the world.
//
// A Comms object may run many collective operations in a
// row. Each node must call Begin before every operation so
// that messages belonging to a later operation (sent by a
// faster node) are held back until this node catches up.
type Comms struct {
	// Handle is the node's main Goroutine's handle on the
	// event loop.
	Handle *simulator.Handle

	// Port is the current node's port.
	Port *simulator.Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	Ports []*simulator.Port

	// Network is the network connecting the nodes.
	Network simulator.Network

	op      int
	stashed []*simulator.Message
}

// envelope tags a message with the operation it belongs
// to.
type envelope struct {
	op   int
	body interface{}
}

// SpawnComms creates Comms objects for every node in a
// network and calls f for each node in its own Goroutine.
func SpawnComms(loop *simulator.EventLoop, network simulator.Network, nodes []*simulator.Node,
	f func(c *Comms)) {
	ports := make([]*simulator.Port, len(nodes))
	for i, node := range nodes {
		ports[i] = node.Port(loop)
	}
	for i := range nodes {
		port := ports[i]
		loop.Go(func(h *simulator.Handle) {
			f(&Comms{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Begin starts the next collective operation.
func (c *Comms) Begin() {
	c.op++
}

// Bcast sends a vector to every other node.
func (c *Comms) Bcast(vec payload.Buffer) {
	messages := make([]*simulator.Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, c.message(port, vec, VectorSize(vec)))
	}
	c.Network.Send(c.Handle, messages...)
}

// Send schedules a vector to be sent to the destination.
func (c *Comms) Send(dst *simulator.Port, vec payload.Buffer) {
	c.SendMessage(dst, vec, VectorSize(vec))
}

// SendMessage schedules an arbitrary message with the
// given wire size (in bytes, excluding the header).
func (c *Comms) SendMessage(dst *simulator.Port, body interface{}, size float64) {
	c.Network.Send(c.Handle, c.message(dst, body, size))
}

// Recv receives the next vector.
func (c *Comms) Recv() (payload.Buffer, *simulator.Port) {
	body, source := c.RecvMessage()
	return body.(payload.Buffer), source
}

// RecvMessage receives the next message of the current
// operation.
func (c *Comms) RecvMessage() (interface{}, *simulator.Port) {
	for i, msg := range c.stashed {
		env := msg.Message.(*envelope)
		if env.op == c.op {
			essentials.OrderedDelete(&c.stashed, i)
			return env.body, msg.Source
		}
	}
	for {
		msg := c.Port.Recv(c.Handle)
		env := msg.Message.(*envelope)
		if env.op == c.op {
			return env.body, msg.Source
		} else if env.op > c.op {
			c.stashed = append(c.stashed, msg)
		}
		// Trailing ACKs of a finished operation are dropped.
	}
}

// Barrier blocks until every node has entered the
// barrier.
//
// The barrier is its own operation; Begin is called
// internally.
func (c *Comms) Barrier() {
	c.Begin()
	for _, port := range c.Ports {
		if port != c.Port {
			c.SendMessage(port, nil, 0)
		}
	}
	for i := 0; i < len(c.Ports)-1; i++ {
		c.RecvMessage()
	}
}

// Index returns the current node's index in the list of
// nodes.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *simulator.Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

func (c *Comms) message(dst *simulator.Port, body interface{}, size float64) *simulator.Message {
	return &simulator.Message{
		Source:  c.Port,
		Dest:    dst,
		Message: &envelope{op: c.op, body: body},
		Size:    size + HeaderSize,
	}
}

// VectorSize gets the wire size of a vector.
func VectorSize(vec payload.Buffer) float64 {
	return float64(vec.Bytes())
}
