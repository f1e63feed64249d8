package payload

import (
	"math"
	"testing"
)

func TestBF16RoundTrip(t *testing.T) {
	for _, x := range []float32{0, 1, -1, 2.5, 256, -3.75, 65536} {
		if actual := FromFloat32(x).Float32(); actual != x {
			t.Errorf("expected %f but got %f", x, actual)
		}
	}
}

func TestBF16Rounding(t *testing.T) {
	// 1 + 2^-8 is exactly halfway between two bfloat16
	// values; it should round to the even one (1.0).
	half := float32(1 + math.Pow(2, -8))
	if actual := FromFloat32(half).Float32(); actual != 1 {
		t.Errorf("expected 1 but got %f", actual)
	}
	above := float32(1 + math.Pow(2, -8) + math.Pow(2, -12))
	if actual := FromFloat32(above).Float32(); actual != float32(1+math.Pow(2, -7)) {
		t.Errorf("unexpected rounding result %f", actual)
	}
	nan := FromFloat32(float32(math.NaN())).Float32()
	if !math.IsNaN(float64(nan)) {
		t.Errorf("expected NaN but got %f", nan)
	}
}

func TestElementsFor(t *testing.T) {
	cases := map[int64]int64{
		0:             1,
		1:             1,
		2:             1,
		3:             2,
		4:             2,
		1023:          512,
		math.MaxInt64: 1 << 62,
	}
	for bytes, expected := range cases {
		if actual := ElementsFor(bytes); actual != expected {
			t.Errorf("ElementsFor(%d): expected %d but got %d", bytes, expected, actual)
		}
	}
}

func TestBufferViews(t *testing.T) {
	buf := New(16)
	view := buf[:4]
	view.Fill(3)
	if buf[3].Float32() != 3 || buf[4].Float32() != 0 {
		t.Error("view does not share storage with buffer")
	}
	if view.Bytes() != 8 {
		t.Errorf("expected 8 bytes but got %d", view.Bytes())
	}
	other := New(4)
	other.Fill(2)
	view.AddInPlace(other)
	for i, x := range view.Float32s() {
		if x != 5 {
			t.Errorf("element %d: expected 5 but got %f", i, x)
		}
	}
	if view.Equal(other) || !other.Equal(other[:]) {
		t.Error("unexpected Equal result")
	}
}
