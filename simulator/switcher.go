package simulator

// A Switcher is a switching algorithm that determines how
// rapidly data flows in a graph of nodes.
// One job of the Switcher is to decide how to deal with
// oversubscription.
type Switcher interface {
	// Apply the switching algorithm to compute the
	// transfer rates of every connection.
	//
	// The mat argument is passed in with 1's wherever a
	// node wants to send data to another node, and 0's
	// everywhere else.
	//
	// When the function returns, mat indicates the rate
	// of data between every pair of nodes.
	SwitchedRates(mat *ConnMat)
}

// A GreedyDropSwitcher emulates a switch where outgoing
// data is spread evenly across a node's outputs, and
// inputs to a node are dropped uniformly at random when a
// node is oversubscribed.
//
// This is equivalent to first normalizing the rows of a
// connection matrix, and then normalizing the columns.
type GreedyDropSwitcher struct {
	SendRates []float64
	RecvRates []float64
}

// NewGreedyDropSwitcher creates a GreedyDropSwitcher with
// uniform upload and download rates across all nodes.
func NewGreedyDropSwitcher(numNodes int, rate float64) *GreedyDropSwitcher {
	rates := make([]float64, numNodes)
	for i := range rates {
		rates[i] = rate
	}
	return &GreedyDropSwitcher{
		SendRates: rates,
		RecvRates: rates,
	}
}

// NumNodes gets the number of nodes the switch expects.
func (g *GreedyDropSwitcher) NumNodes() int {
	return len(g.SendRates)
}

// SwitchedRates performs the switching algorithm.
func (g *GreedyDropSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != g.NumNodes() {
		panic("unexpected number of nodes")
	}

	// Split upload traffic evenly across sockets.
	for src := 0; src < g.NumNodes(); src++ {
		numDests := mat.SumSource(src)
		if numDests > 0 {
			mat.ScaleSource(src, g.SendRates[src]/numDests)
		}
	}

	// Drop download traffic in proportion to the number
	// of incoming packets from each socket.
	for dst := 0; dst < g.NumNodes(); dst++ {
		incomingRate := mat.SumDest(dst)
		if incomingRate > g.RecvRates[dst] {
			mat.ScaleDest(dst, g.RecvRates[dst]/incomingRate)
		}
	}
}

// A HostSwitcher models devices grouped onto hosts.
//
// Node i lives on host i / LocalWorld. Traffic between two
// devices on the same host uses the intra-host link (e.g.
// NVLink) and traffic between hosts uses the device's NIC.
// The two link classes have independent send and receive
// budgets, each shared greedily like a GreedyDropSwitcher.
type HostSwitcher struct {
	Nodes      int
	LocalWorld int
	IntraRate  float64
	InterRate  float64
}

// SameHost checks if two nodes share a host.
func (h *HostSwitcher) SameHost(a, b int) bool {
	local := h.LocalWorld
	if local < 1 {
		local = 1
	}
	return a/local == b/local
}

// SwitchedRates performs the switching algorithm.
func (h *HostSwitcher) SwitchedRates(mat *ConnMat) {
	if mat.NumNodes() != h.Nodes {
		panic("unexpected number of nodes")
	}
	rate := func(intra bool) float64 {
		if intra {
			return h.IntraRate
		}
		return h.InterRate
	}

	for src := 0; src < h.Nodes; src++ {
		for _, intra := range []bool{true, false} {
			var count float64
			for dst := 0; dst < h.Nodes; dst++ {
				if h.SameHost(src, dst) == intra {
					count += mat.Get(src, dst)
				}
			}
			if count == 0 {
				continue
			}
			for dst := 0; dst < h.Nodes; dst++ {
				if h.SameHost(src, dst) == intra {
					mat.Set(src, dst, mat.Get(src, dst)*rate(intra)/count)
				}
			}
		}
	}

	for dst := 0; dst < h.Nodes; dst++ {
		for _, intra := range []bool{true, false} {
			var incoming float64
			for src := 0; src < h.Nodes; src++ {
				if h.SameHost(src, dst) == intra {
					incoming += mat.Get(src, dst)
				}
			}
			if incoming <= rate(intra) {
				continue
			}
			for src := 0; src < h.Nodes; src++ {
				if h.SameHost(src, dst) == intra {
					mat.Set(src, dst, mat.Get(src, dst)*rate(intra)/incoming)
				}
			}
		}
	}
}
