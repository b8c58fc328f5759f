package rolling

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/atmos-lidar/lidarcore/geo"
)

func TestMeanOverRangeUniform(t *testing.T) {
	r := []float64{0, 30, 60, 90, 120}
	arr := geo.NewArray2(1, 5)
	for g := range r {
		arr.Set(0, g, float64(g))
	}
	mask := geo.NewMask2(1, 5)
	out := MeanOverRange(r, arr, mask, 60)
	// window=60 => half=30, gate 2 (r=60) covers gates with |r-60|<=30 => gates 1..3
	got := out.At(0, 2)
	want := (1.0 + 2.0 + 3.0) / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMeanOverRangeAllMaskedIsNaN(t *testing.T) {
	r := []float64{0, 10, 20}
	arr := geo.NewArray2(1, 3)
	mask := geo.NewMask2(1, 3)
	for g := range r {
		mask.Set(0, g, true)
	}
	out := MeanOverRange(r, arr, mask, 100)
	if !math.IsNaN(out.At(0, 1)) {
		t.Fatalf("expected NaN when every sample in window is masked, got %v", out.At(0, 1))
	}
}

func TestMedianOverRangeOddWindow(t *testing.T) {
	r := []float64{0, 10, 20, 30, 40}
	arr := geo.NewArray2(1, 5)
	vals := []float64{5, 1, 9, 3, 100}
	for g, v := range vals {
		arr.Set(0, g, v)
	}
	mask := geo.NewMask2(1, 5)
	out := MedianOverRange(r, arr, mask, 30, 1, false)
	// gate 2 (r=20): half window 15, covers r in (5,35) => gates 1,2,3 -> values 1,9,3 median 3
	if got := out.At(0, 2); got != 3 {
		t.Fatalf("got %v want 3", got)
	}
}

func TestVarOverRangeConstantIsZero(t *testing.T) {
	r := []float64{0, 10, 20, 30}
	arr := geo.NewArray2Filled(1, 4, 7)
	mask := geo.NewMask2(1, 4)
	out := VarOverRange(r, arr, mask, 25)
	for g := 0; g < 4; g++ {
		if math.Abs(out.At(0, g)) > 1e-9 {
			t.Fatalf("expected zero variance for constant input, gate %d got %v", g, out.At(0, g))
		}
	}
}

func TestMeanOverTimeRespectsWindow(t *testing.T) {
	time := []int64{0, 1_000_000, 2_000_000, 3_000_000}
	arr := geo.NewArray2(4, 1)
	for t := range time {
		arr.Set(t, 0, float64(t))
	}
	mask := geo.NewMask2(4, 1)
	out := MeanOverTime(time, arr, mask, 2_000_000)
	// half window = 1e6 us = 1s: index 1 (t=1s) covers indices within 1s -> 0,1,2
	got := out.At(1, 0)
	want := (0.0 + 1.0 + 2.0) / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMeanOverTimeMatchesReferenceMeanOnFullSpanWindow(t *testing.T) {
	time := []int64{0, 1_000_000, 2_000_000, 3_000_000, 4_000_000}
	vals := []float64{2, 4, 9, 1, 7}
	arr := geo.NewArray2(5, 1)
	for i, v := range vals {
		arr.Set(i, 0, v)
	}
	mask := geo.NewMask2(5, 1)
	out := MeanOverTime(time, arr, mask, 100_000_000) // window wider than the whole series
	want := stat.Mean(vals, nil)
	for k := range vals {
		if math.Abs(out.At(k, 0)-want) > 1e-9 {
			t.Fatalf("mean at %d = %v, want %v", k, out.At(k, 0), want)
		}
	}
}

func TestNextValidAndPrevValid(t *testing.T) {
	mask := geo.NewMask2(5, 1)
	mask.Set(0, 0, true)
	mask.Set(2, 0, true)
	mask.Set(3, 0, true)

	next := NextValid(mask)
	want := []int{1, 1, 4, 4, 4}
	for t, w := range want {
		if next[t] != w {
			t.Fatalf("next[%d] = %d, want %d", t, next[t], w)
		}
	}

	prev := PrevValid(mask)
	wantPrev := []int{-1, 1, 1, 1, 4}
	for t, w := range wantPrev {
		if prev[t] != w {
			t.Fatalf("prev[%d] = %d, want %d", t, prev[t], w)
		}
	}
}

func TestVarOverTimeWithWindowMatchesManualVariance(t *testing.T) {
	time := []int64{0, 1_000_000, 2_000_000, 3_000_000, 4_000_000}
	arr := geo.NewArray2(5, 1)
	for i, v := range []float64{1, 2, 3, 100, 5} {
		arr.Set(i, 0, v)
	}
	mask := geo.NewMask2(5, 1)
	res := VarOverTimeWithWindow(time, arr, mask, 2_000_000)

	k := 2
	idx := k*1 + 0
	if res.NSamples[idx] != 3 {
		t.Fatalf("nsamples = %d, want 3", res.NSamples[idx])
	}
	if res.WindowStart[idx] != time[1] || res.WindowStop[idx] != time[3] {
		t.Fatalf("window = [%d,%d], want [%d,%d]", res.WindowStart[idx], res.WindowStop[idx], time[1], time[3])
	}
	want := 6338.0 / 3.0
	if math.Abs(res.Variance.At(k, 0)-want) > 1e-6 {
		t.Fatalf("variance = %v, want %v", res.Variance.At(k, 0), want)
	}
}

func TestVarOverTimeWithWindowSkipsMaskedForWindowBounds(t *testing.T) {
	time := []int64{0, 1_000_000, 2_000_000, 3_000_000, 4_000_000}
	arr := geo.NewArray2(5, 1)
	for i, v := range []float64{1, 2, 3, 100, 5} {
		arr.Set(i, 0, v)
	}
	mask := geo.NewMask2(5, 1)
	mask.Set(1, 0, true)
	res := VarOverTimeWithWindow(time, arr, mask, 2_000_000)

	idx := 2
	if res.NSamples[idx] != 2 {
		t.Fatalf("nsamples = %d, want 2", res.NSamples[idx])
	}
	if res.WindowStart[idx] != time[2] || res.WindowStop[idx] != time[3] {
		t.Fatalf("window = [%d,%d], want [%d,%d]", res.WindowStart[idx], res.WindowStop[idx], time[2], time[3])
	}
}
