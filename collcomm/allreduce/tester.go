package allreduce

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/collbench/simulator"
)

// RunAllreducerTests runs a battery of tests on an
// Allreducer.
//
// Vectors hold small integers so that bfloat16 sums are
// exact regardless of reduction order.
func RunAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, numNodes := range []int{1, 2, 5, 15, 16, 17} {
		for _, size := range []int{0, 1, 1337} {
			for _, randomized := range []bool{false, true} {
				testName := fmt.Sprintf("Nodes=%d,Size=%d,Random=%v", numNodes, size, randomized)
				t.Run(testName, func(t *testing.T) {
					vectors, sum := randomVectors(numNodes, size)
					loop := simulator.NewEventLoop()
					nodes, network := testNetwork(numNodes, randomized)
					results := make([]payload.Buffer, numNodes)
					collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
						results[c.Index()] = reducer.Allreduce(c, vectors[c.Index()], collcomm.Sum)
					})

					if err := loop.Run(); err != nil {
						t.Fatal(err)
					}

					verifyReductionResults(t, results, sum)
				})
			}
		}
	}
}

// RunRepeatedAllreducerTests checks that an Allreducer can
// run many times in a row on the same Comms objects, with
// barriers in between, as a benchmark does.
func RunRepeatedAllreducerTests(t *testing.T, reducer Allreducer) {
	for _, randomized := range []bool{false, true} {
		t.Run(fmt.Sprintf("Random=%v", randomized), func(t *testing.T) {
			const numNodes = 6
			const rounds = 4
			loop := simulator.NewEventLoop()
			nodes, network := testNetwork(numNodes, randomized)
			inputs := make([][]payload.Buffer, rounds)
			sums := make([]payload.Buffer, rounds)
			for i := range inputs {
				inputs[i], sums[i] = randomVectors(numNodes, 100+i)
			}
			results := make([][]payload.Buffer, rounds)
			for i := range results {
				results[i] = make([]payload.Buffer, numNodes)
			}
			collcomm.SpawnComms(loop, network, nodes, func(c *collcomm.Comms) {
				for i := 0; i < rounds; i++ {
					if i%2 == 1 {
						c.Barrier()
					}
					c.Begin()
					results[i][c.Index()] = reducer.Allreduce(c, inputs[i][c.Index()], collcomm.Sum)
				}
			})
			if err := loop.Run(); err != nil {
				t.Fatal(err)
			}
			for i := range results {
				verifyReductionResults(t, results[i], sums[i])
			}
		})
	}
}

func randomVectors(numNodes, size int) ([]payload.Buffer, payload.Buffer) {
	vectors := make([]payload.Buffer, numNodes)
	sum := make([]float32, size)
	for i := range vectors {
		vectors[i] = payload.New(int64(size))
		for j := range vectors[i] {
			x := float32(rand.Intn(9) - 4)
			vectors[i][j] = payload.FromFloat32(x)
			sum[j] += x
		}
	}
	res := payload.New(int64(size))
	for i, x := range sum {
		res[i] = payload.FromFloat32(x)
	}
	return vectors, res
}

func testNetwork(numNodes int, randomized bool) ([]*simulator.Node, simulator.Network) {
	nodes := make([]*simulator.Node, numNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	if randomized {
		return nodes, simulator.RandomNetwork{MaxDelay: time.Millisecond}
	}
	switcher := simulator.NewGreedyDropSwitcher(numNodes, 1e6)
	return nodes, simulator.NewSwitcherNetwork(switcher, nodes, 100*time.Microsecond)
}

func verifyReductionResults(t *testing.T, results []payload.Buffer, expected payload.Buffer) {
	for i, res := range results {
		if len(res) != len(expected) {
			t.Errorf("result %d has length %d but expected %d", i, len(res), len(expected))
			continue
		}
		if !res.Equal(results[0]) {
			t.Errorf("result %d is not identical to result 0", i)
		}
	}
	for i, x := range expected {
		if actual := results[0][i]; actual != x {
			t.Errorf("sum is incorrect (expected %f but got %f at component %d)",
				x.Float32(), actual.Float32(), i)
			break
		}
	}
}
