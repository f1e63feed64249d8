// Package allreduce implements algorithms for summing
// vectors across many different connected Nodes.
package allreduce

import (
	"fmt"
	"sort"

	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/payload"
)

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across nodes.
//
// Every node must call Allreduce with a vector of the same
// length. Callers that reuse a Comms object must call
// Begin() before each operation.
type Allreducer interface {
	Allreduce(c *collcomm.Comms, data payload.Buffer, fn collcomm.ReduceFn) payload.Buffer
}

var allreducers = map[string]Allreducer{
	"naive":  NaiveAllreducer{},
	"tree":   TreeAllreducer{},
	"stream": StreamAllreducer{},
	"ring":   RingAllreducer{},
}

// Names lists the algorithms known to ByName.
func Names() []string {
	var res []string
	for name := range allreducers {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// ByName looks up an Allreducer by its lowercase name.
func ByName(name string) (Allreducer, error) {
	if a, ok := allreducers[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown all-reduce algorithm %q (options: %v)", name, Names())
}
