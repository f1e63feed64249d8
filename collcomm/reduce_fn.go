package collcomm

import (
	"time"

	"github.com/unixpickle/collbench/payload"
	"github.com/unixpickle/collbench/simulator"
)

// FlopTime is the amount of virtual time it takes to
// perform a single floating-point operation.
const FlopTime = time.Nanosecond

// A ReduceFn is an operation that reduces many vectors
// into a single vector.
//
// The result must not alias any of the inputs.
type ReduceFn func(h *simulator.Handle, vecs ...payload.Buffer) payload.Buffer

// Sum is a ReduceFn that computes a vector sum.
//
// Partial sums are kept in float32 and rounded once.
func Sum(h *simulator.Handle, vecs ...payload.Buffer) payload.Buffer {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("mismatching lengths")
		}
	}
	acc := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			acc[i] += x.Float32()
		}
	}
	res := make(payload.Buffer, len(acc))
	for i, x := range acc {
		res[i] = payload.FromFloat32(x)
	}

	// Simulate computation time.
	h.Sleep(FlopTime * time.Duration(len(vecs)*len(vecs[0])))

	return res
}

// FakeSum is a ReduceFn that charges the same virtual time
// as Sum but skips the arithmetic and returns zeros.
//
// It is useful for timing runs on huge vectors.
func FakeSum(h *simulator.Handle, vecs ...payload.Buffer) payload.Buffer {
	h.Sleep(FlopTime * time.Duration(len(vecs)*len(vecs[0])))
	return make(payload.Buffer, len(vecs[0]))
}
