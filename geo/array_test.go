package geo

import (
	"math"
	"testing"
)

func TestArray2SetAndAt(t *testing.T) {
	a := NewArray2(2, 3)
	a.Set(1, 2, 4.5)
	if got := a.At(1, 2); got != 4.5 {
		t.Fatalf("At(1,2) = %v, want 4.5", got)
	}
	if a.At(0, 0) != 0 {
		t.Fatalf("expected zero-filled array, got %v at (0,0)", a.At(0, 0))
	}
}

func TestNewArray2Filled(t *testing.T) {
	a := NewArray2Filled(2, 2, 7)
	for i, v := range a.Data {
		if v != 7 {
			t.Fatalf("Data[%d] = %v, want 7", i, v)
		}
	}
}

func TestArray2RowIsAView(t *testing.T) {
	a := NewArray2(2, 3)
	row := a.Row(1)
	row[0] = 9
	if a.At(1, 0) != 9 {
		t.Fatalf("Row should share backing storage, At(1,0) = %v", a.At(1, 0))
	}
}

func TestArray2CloneIsIndependent(t *testing.T) {
	a := NewArray2(1, 2)
	a.Set(0, 0, 1)
	clone := a.Clone()
	clone.Set(0, 0, 2)
	if a.At(0, 0) != 1 {
		t.Fatalf("mutating clone affected original, got %v", a.At(0, 0))
	}
}

func TestMask2OrUnionsInPlace(t *testing.T) {
	a := NewMask2(1, 3)
	b := NewMask2(1, 3)
	a.Set(0, 0, true)
	b.Set(0, 1, true)
	a.Or(b)
	want := []bool{true, true, false}
	for g, w := range want {
		if a.At(0, g) != w {
			t.Fatalf("a[0][%d] = %v, want %v", g, a.At(0, g), w)
		}
	}
}

func TestMaskNaNsSetsMaskWhereValueIsNaN(t *testing.T) {
	values := NewArray2(1, 3)
	values.Set(0, 1, math.NaN())
	mask := NewMask2(1, 3)
	MaskNaNs(values, mask)
	if mask.At(0, 0) || !mask.At(0, 1) || mask.At(0, 2) {
		t.Fatalf("unexpected mask after MaskNaNs: %v", mask.Data)
	}
}

func TestStrictlyIncreasing(t *testing.T) {
	if !StrictlyIncreasing([]int64{1, 2, 3}) {
		t.Fatalf("expected strictly increasing sequence to pass")
	}
	if StrictlyIncreasing([]int64{1, 1, 2}) {
		t.Fatalf("expected repeated value to fail")
	}
	if StrictlyIncreasing([]int64{3, 2, 1}) {
		t.Fatalf("expected decreasing sequence to fail")
	}
}

func TestFingerprintKeyDistinguishesDifferingFields(t *testing.T) {
	a := Fingerprint{GatePoints: 100, NGates: 10, SystemID: "sys1"}
	b := a
	b.SystemID = "sys2"
	if a.Key() == b.Key() {
		t.Fatalf("expected differing system ID to produce differing keys")
	}
	c := a
	if a.Key() != c.Key() {
		t.Fatalf("expected identical fingerprints to produce identical keys")
	}
}

func TestRoundDeci(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{1.25, 13},
		{1.24, 12},
		{-1.25, -13},
		{0, 0},
	}
	for _, c := range cases {
		if got := RoundDeci(c.in); got != c.want {
			t.Fatalf("RoundDeci(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCloseEnough(t *testing.T) {
	if !CloseEnough([]float64{1, 2, 3}, []float64{1.0000001, 2, 3}, 1e-3) {
		t.Fatalf("expected values within tolerance to match")
	}
	if CloseEnough([]float64{1, 2}, []float64{1, 2, 3}, 1) {
		t.Fatalf("expected length mismatch to fail")
	}
	if CloseEnough([]float64{1, 2}, []float64{1, 5}, 1) {
		t.Fatalf("expected out-of-tolerance values to fail")
	}
}
