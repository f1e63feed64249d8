package simulator

import (
	"math"
	"testing"
)

func TestGreedyDropSwitcher(t *testing.T) {
	switcher := &GreedyDropSwitcher{
		SendRates: []float64{1.0, 2.0, 3.0},
		RecvRates: []float64{2.0, 1.0, 1.0},
	}
	inputMatrices := [][]float64{
		{
			0.0, 1.0, 0.0,
			0.0, 0.0, 1.0,
			1.0, 0.0, 0.0,
		},
		{
			1.0, 1.0, 1.0,
			1.0, 1.0, 1.0,
			1.0, 1.0, 1.0,
		},
	}
	outputMatrices := [][]float64{
		{
			0.0, 1.0, 0.0,
			0.0, 0.0, 1.0,
			2.0, 0.0, 0.0,
		},
		{
			1.0 / 3.0, 1.0 / 6.0, 1.0 / 6.0,
			2.0 / 3.0, 2.0 / 6.0, 2.0 / 6.0,
			3.0 / 3.0, 3.0 / 6.0, 3.0 / 6.0,
		},
	}
	for i, input := range inputMatrices {
		connMat := &ConnMat{numNodes: 3, rates: input}
		switcher.SwitchedRates(connMat)
		checkRates(t, i, connMat, outputMatrices[i])
	}
}

func TestHostSwitcher(t *testing.T) {
	switcher := &HostSwitcher{
		Nodes:      4,
		LocalWorld: 2,
		IntraRate:  100,
		InterRate:  10,
	}
	if !switcher.SameHost(0, 1) || switcher.SameHost(1, 2) {
		t.Fatal("unexpected host assignment")
	}
	inputMatrices := [][]float64{
		// A ring: 0->1 and 2->3 stay on-host.
		{
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
			1, 0, 0, 0,
		},
		// Node 0 sends to everybody; node 3 sends to 0.
		{
			0, 1, 1, 1,
			0, 0, 0, 0,
			0, 0, 0, 0,
			1, 0, 0, 0,
		},
	}
	outputMatrices := [][]float64{
		{
			0, 100, 0, 0,
			0, 0, 10, 0,
			0, 0, 0, 100,
			10, 0, 0, 0,
		},
		{
			0, 100, 5, 5,
			0, 0, 0, 0,
			0, 0, 0, 0,
			10, 0, 0, 0,
		},
	}
	for i, input := range inputMatrices {
		connMat := &ConnMat{numNodes: 4, rates: input}
		switcher.SwitchedRates(connMat)
		checkRates(t, i, connMat, outputMatrices[i])
	}
}

func checkRates(t *testing.T, idx int, actual *ConnMat, expected []float64) {
	for j, x := range actual.rates {
		if math.Abs(x-expected[j]) > 0.001 {
			t.Errorf("test %d: expected %v but got %v", idx, expected, actual.rates)
			return
		}
	}
}
