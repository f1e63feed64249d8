package allreduce

import (
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/payload"
)

// A RingAllreducer performs a reduce-scatter followed by an
// all-gather around a ring of nodes.
//
// Every node sends and receives 2*(n-1)/n times the vector
// size, which is the traffic model behind bus bandwidth.
type RingAllreducer struct{}

type ringChunk struct {
	step int
	data payload.Buffer
}

// Allreduce calls fn on one chunk at a time as chunks
// travel around the ring.
func (r RingAllreducer) Allreduce(c *collcomm.Comms, data payload.Buffer,
	fn collcomm.ReduceFn) payload.Buffer {
	n := c.Size()
	if n == 1 {
		return fn(c.Handle, data)
	}
	res := append(payload.Buffer{}, data...)
	if len(data) == 0 {
		return res
	}

	idx := c.Index()
	next := c.Ports[(idx+1)%n]
	chunk := func(i int) payload.Buffer {
		i = ((i % n) + n) % n
		return res[i*len(res)/n : (i+1)*len(res)/n]
	}

	// Chunks from the previous node may overtake each
	// other on some networks.
	early := map[int]payload.Buffer{}
	recv := func(step int) payload.Buffer {
		if vec, ok := early[step]; ok {
			delete(early, step)
			return vec
		}
		for {
			body, _ := c.RecvMessage()
			msg := body.(*ringChunk)
			if msg.step == step {
				return msg.data
			}
			early[msg.step] = msg.data
		}
	}
	send := func(step int, vec payload.Buffer) {
		msg := &ringChunk{step: step, data: append(payload.Buffer{}, vec...)}
		c.SendMessage(next, msg, collcomm.VectorSize(vec))
	}

	for step := 0; step < n-1; step++ {
		send(step, chunk(idx-step))
		dst := chunk(idx - step - 1)
		copy(dst, fn(c.Handle, dst, recv(step)))
	}
	for step := 0; step < n-1; step++ {
		send(n-1+step, chunk(idx+1-step))
		copy(chunk(idx-step), recv(n-1+step))
	}

	return res
}
