// Package simnet runs a whole group of participants
// against a simulated network fabric in one process.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collcomm/allreduce"
	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/collbench/simulator"
)

// ErrClosed is returned by calls on a closed Communicator.
var ErrClosed = errors.New("simnet: communicator is closed")

// A Fabric describes the simulated cluster.
type Fabric struct {
	WorldSize int

	// LocalWorld is the number of devices per host.
	// Defaults to 1.
	LocalWorld int

	// Latency is added to every message.
	Latency time.Duration

	// InterRate is the per-device NIC rate in bytes per
	// second.
	InterRate float64

	// IntraRate is the device-to-device rate inside a host.
	// If 0, hosts are not modeled and every link uses
	// InterRate.
	IntraRate float64

	// Algorithm defaults to a RingAllreducer.
	Algorithm allreduce.Allreducer

	// Reduce defaults to collcomm.Sum.
	Reduce collcomm.ReduceFn
}

// Validate checks the fabric parameters.
func (f *Fabric) Validate() error {
	if f.WorldSize < 1 {
		return fmt.Errorf("simnet: world size must be positive, got %d", f.WorldSize)
	}
	if f.LocalWorld < 0 || (f.LocalWorld > 0 && f.WorldSize%f.LocalWorld != 0) {
		return fmt.Errorf("simnet: local world %d does not divide world size %d", f.LocalWorld, f.WorldSize)
	}
	if f.InterRate <= 0 {
		return fmt.Errorf("simnet: NIC rate must be positive, got %g", f.InterRate)
	}
	if f.IntraRate < 0 || f.Latency < 0 {
		return errors.New("simnet: rates and latency must be non-negative")
	}
	return nil
}

// Run starts one participant per rank, each in its own
// Goroutine on a shared virtual clock, and waits for all
// of them to finish.
//
// If a participant stops communicating while others still
// wait on it, the simulation detects the deadlock and Run
// returns an error.
func (f *Fabric) Run(ctx context.Context, fn func(ctx context.Context, c *Communicator) error) error {
	if err := f.Validate(); err != nil {
		return err
	}
	nodes := make([]*simulator.Node, f.WorldSize)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	loop := simulator.NewEventLoop()
	errs := make([]error, f.WorldSize)
	collcomm.SpawnComms(loop, f.network(nodes), nodes, func(c *collcomm.Comms) {
		comm := &Communicator{comms: c, algorithm: f.algorithm(), reduce: f.reduce()}
		if err := fn(ctx, comm); err != nil {
			errs[c.Index()] = fmt.Errorf("rank %d: %w", c.Index(), err)
		}
	})
	if err := loop.Run(); err != nil {
		errs = append(errs, fmt.Errorf("simnet: %w", err))
	}
	return errors.Join(errs...)
}

func (f *Fabric) network(nodes []*simulator.Node) simulator.Network {
	var switcher simulator.Switcher
	if f.IntraRate > 0 && f.LocalWorld > 1 {
		switcher = &simulator.HostSwitcher{
			Nodes:      len(nodes),
			LocalWorld: f.LocalWorld,
			IntraRate:  f.IntraRate,
			InterRate:  f.InterRate,
		}
	} else {
		switcher = simulator.NewGreedyDropSwitcher(len(nodes), f.InterRate)
	}
	return simulator.NewSwitcherNetwork(switcher, nodes, f.Latency)
}

func (f *Fabric) algorithm() allreduce.Allreducer {
	if f.Algorithm == nil {
		return allreduce.RingAllreducer{}
	}
	return f.Algorithm
}

func (f *Fabric) reduce() collcomm.ReduceFn {
	if f.Reduce == nil {
		return collcomm.Sum
	}
	return f.Reduce
}

// A Communicator is one simulated participant.
//
// It must only be used from the Goroutine that Fabric.Run
// handed it to.
type Communicator struct {
	comms     *collcomm.Comms
	algorithm allreduce.Allreducer
	reduce    collcomm.ReduceFn
	closed    bool
}

// Rank returns the participant's rank.
func (c *Communicator) Rank() int {
	return c.comms.Index()
}

// WorldSize returns the number of participants.
func (c *Communicator) WorldSize() int {
	return c.comms.Size()
}

// Clock returns the simulation's virtual clock.
func (c *Communicator) Clock() bench.Clock {
	return c.comms.Handle
}

// AllReduce sums buf across the fabric in place.
func (c *Communicator) AllReduce(ctx context.Context, buf payload.Buffer) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.comms.Begin()
	copy(buf, c.algorithm.Allreduce(c.comms, buf, c.reduce))
	return nil
}

// Barrier waits for every participant.
func (c *Communicator) Barrier(ctx context.Context) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.comms.Barrier()
	return nil
}

// Synchronize does nothing, since simulated collectives
// have completed by the time they return.
func (c *Communicator) Synchronize(ctx context.Context) error {
	return c.check(ctx)
}

// Close marks the communicator as closed.
func (c *Communicator) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return nil
}

func (c *Communicator) check(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	return ctx.Err()
}
