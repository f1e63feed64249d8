package allreduce

import (
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/payload"
)

// A NaiveAllreducer sends every vector from every node to
// every other node.
type NaiveAllreducer struct{}

// Allreduce runs fn() on all of the nodes' vectors on
// every node.
func (n NaiveAllreducer) Allreduce(c *collcomm.Comms, data payload.Buffer,
	fn collcomm.ReduceFn) payload.Buffer {
	gatheredVecs := make([]payload.Buffer, len(c.Ports))

	c.Bcast(data)

	for i := 0; i < len(gatheredVecs)-1; i++ {
		incoming, source := c.Recv()
		gatheredVecs[c.IndexOf(source)] = incoming
	}

	gatheredVecs[c.Index()] = data

	return fn(c.Handle, gatheredVecs...)
}
