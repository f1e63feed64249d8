// Package payload implements the bfloat16 buffers that are
// passed through collective operations.
package payload

import "math"

// ElementSize is the number of bytes in one element.
const ElementSize = 2

// A BF16 is a bfloat16 value stored as its bit pattern.
//
// The bit pattern is the upper half of the equivalent
// IEEE-754 float32.
type BF16 uint16

// FromFloat32 rounds a float32 to the nearest BF16, with
// ties going to even.
func FromFloat32(f float32) BF16 {
	bits := math.Float32bits(f)
	if f != f {
		// Keep the sign and force a quiet NaN.
		return BF16(bits>>16) | 0x40
	}
	bits += 0x7fff + ((bits >> 16) & 1)
	return BF16(bits >> 16)
}

// Float32 converts the value to a float32 exactly.
func (b BF16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// A Buffer is a contiguous run of elements.
//
// Sub-slices of a Buffer share storage with it, so a large
// Buffer can serve as the working buffer for any smaller
// size without reallocation.
type Buffer []BF16

// MaxElements is the largest Buffer that New will
// allocate. It stays below the runtime's allocation limit.
const MaxElements = min(1<<46, math.MaxInt/ElementSize)

// New allocates a zeroed Buffer with n elements.
//
// Callers must check n against MaxElements first.
func New(n int64) Buffer {
	if n < 0 || n > MaxElements {
		panic("buffer length out of range")
	}
	return make(Buffer, n)
}

// ElementsFor returns the number of elements needed to hold
// at least the given number of bytes.
//
// The result is never less than 1.
func ElementsFor(bytes int64) int64 {
	n := bytes / ElementSize
	if bytes%ElementSize != 0 {
		n++
	}
	if n < 1 {
		return 1
	}
	return n
}

// Bytes gets the size of the buffer in bytes.
func (b Buffer) Bytes() int64 {
	return int64(len(b)) * ElementSize
}

// Fill sets every element to v.
func (b Buffer) Fill(v float32) {
	x := FromFloat32(v)
	for i := range b {
		b[i] = x
	}
}

// Float32s converts the buffer to float32 values.
func (b Buffer) Float32s() []float32 {
	res := make([]float32, len(b))
	for i, x := range b {
		res[i] = x.Float32()
	}
	return res
}

// Equal checks if two buffers have the same bits.
func (b Buffer) Equal(other Buffer) bool {
	if len(b) != len(other) {
		return false
	}
	for i, x := range b {
		if other[i] != x {
			return false
		}
	}
	return true
}

// AddInPlace adds other into b element-wise.
//
// Accumulation happens in float32 and is rounded back to
// bfloat16 once per element.
func (b Buffer) AddInPlace(other Buffer) {
	if len(b) != len(other) {
		panic("mismatching lengths")
	}
	for i, x := range other {
		b[i] = FromFloat32(b[i].Float32() + x.Float32())
	}
}
