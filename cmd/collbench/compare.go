package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collcomm/allreduce"
	"github.com/unixpickle/collbench/collective/simnet"
	"github.com/unixpickle/collbench/payload"
)

// A network describes one simulated configuration in the
// comparison table.
type network struct {
	NumNodes int
	Latency  time.Duration
	Rate     float64
}

var compareNetworks = []network{
	{NumNodes: 2, Latency: 100 * time.Millisecond, Rate: 1e6},
	{NumNodes: 16, Latency: time.Millisecond, Rate: 1e6},
	{NumNodes: 32, Latency: 100 * time.Millisecond, Rate: 1e6},
	{NumNodes: 32, Latency: 100 * time.Millisecond, Rate: 1e9},
	{NumNodes: 32, Latency: 100 * time.Microsecond, Rate: 1e9},
}

func newCompareCmd() *cobra.Command {
	var sizes []int
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Print a markdown table of simulated all-reduce times per algorithm",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return compareAlgorithms(cmd.Context(), cmd.OutOrStdout(), compareNetworks, sizes)
		},
	}
	cmd.Flags().IntSliceVar(&sizes, "sizes", []int{10, 10000, 1000000}, "vector sizes in elements")
	return cmd
}

// compareAlgorithms times a single all-reduce of every
// algorithm on every network and vector size.
func compareAlgorithms(ctx context.Context, w io.Writer, networks []network, sizes []int) error {
	names := allreduce.Names()

	fmt.Fprint(w, "| Nodes | Latency | NIC rate | Size ")
	for _, name := range names {
		fmt.Fprintf(w, "| %s ", name)
	}
	fmt.Fprintln(w, "|")
	for i := 0; i < 4+len(names); i++ {
		fmt.Fprint(w, "|:--")
	}
	fmt.Fprintln(w, "|")

	for _, net := range networks {
		for _, size := range sizes {
			fmt.Fprintf(
				w,
				"| %d | %s | %s | %d ",
				net.NumNodes,
				net.Latency,
				strconv.FormatFloat(net.Rate, 'E', -1, 64),
				size,
			)
			for _, name := range names {
				algo, err := allreduce.ByName(name)
				if err != nil {
					return err
				}
				elapsed, err := timeAllreduce(ctx, net, algo, size)
				if err != nil {
					return fmt.Errorf("%s on %d nodes: %w", name, net.NumNodes, err)
				}
				fmt.Fprintf(w, "| %f ", elapsed.Seconds())
			}
			fmt.Fprintln(w, "|")
		}
	}
	return nil
}

// timeAllreduce returns the virtual time for all nodes to
// finish one all-reduce.
func timeAllreduce(ctx context.Context, net network, algo allreduce.Allreducer, size int) (time.Duration, error) {
	fabric := &simnet.Fabric{
		WorldSize: net.NumNodes,
		Latency:   net.Latency,
		InterRate: net.Rate,
		Algorithm: algo,
		Reduce:    collcomm.FakeSum,
	}
	finish := make([]time.Duration, net.NumNodes)
	err := fabric.Run(ctx, func(ctx context.Context, c *simnet.Communicator) error {
		defer c.Close()
		if err := c.AllReduce(ctx, payload.New(int64(size))); err != nil {
			return err
		}
		finish[c.Rank()] = c.Clock().Now()
		return nil
	})
	var elapsed time.Duration
	for _, t := range finish {
		if t > elapsed {
			elapsed = t
		}
	}
	return elapsed, err
}
