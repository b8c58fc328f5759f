// Package rolling implements the two-pointer rolling-window kernels of
// spec §4.K: mean, variance and median over an irregular coordinate axis
// (time or range), using the same prefix-sum technique the teacher's
// BackgroundGrid uses for its ring-accumulated running stats
// (internal/lidar/background.go), generalized from a fixed ring index to
// an arbitrary monotonically increasing coordinate.
//
// The mean and variance kernels use prefix sums and share the numerical
// instability the original implementation calls out explicitly: summing
// then differencing large partial sums loses precision when S(i,j)**2 is
// large relative to the variance itself. Callers that need a numerically
// robust variance should prefer the median kernel's outlier detection
// instead of trusting rolling variance near the noise floor.
package rolling

import (
	"math"
	"sort"

	"github.com/atmos-lidar/lidarcore/geo"
)

// MeanOverTime computes, for every time index k, the mean of arr[i..j][*]
// over all unmasked samples whose time lies within window/2 of time[k]
// (spec §4.K "rolling window over time"). arr and mask are T×G; time must
// be strictly increasing (spec invariant 1). window is in the same units
// as time (microseconds).
func MeanOverTime(time []int64, arr geo.Array2, mask geo.Mask2, window float64) geo.Array2 {
	T, G := arr.Rows, arr.Cols
	out := geo.NewArray2Filled(T, G, math.NaN())
	if T == 0 {
		return out
	}

	x := arr.Clone()
	nCount := make([]int, T*G)
	for t := 0; t < T; t++ {
		for g := 0; g < G; g++ {
			if mask.At(t, g) {
				x.Set(t, g, 0)
			} else {
				nCount[x.Idx(t, g)] = 1
			}
		}
	}
	xCum := cumsumCols(x)
	nCum := cumsumIntCols(nCount, T, G)

	halfWindow := int64(window / 2)
	i, j := 0, 0
	for k := 0; k < T; k++ {
		t := time[k]
		for i+1 < T && t-time[i+1] >= halfWindow {
			i++
		}
		for j+1 < T && time[j]-t < halfWindow {
			j++
		}
		// i and j may each sit one sample beyond the half-window; the
		// reduction covers [lo, hi], the samples within it.
		lo, hi := i, j
		if t-time[lo] > halfWindow {
			lo++
		}
		if time[hi]-t > halfWindow {
			hi--
		}
		for g := 0; g < G; g++ {
			n := nCum[hi*G+g] - nCum[lo*G+g] + nCount[lo*G+g]
			if n == 0 {
				continue
			}
			s := xCum.At(hi, g) - xCum.At(lo, g) + x.At(lo, g)
			out.Set(k, g, s/float64(n))
		}
	}
	return out
}

// MeanOverRange computes, for every gate index k, the mean over unmasked
// samples whose radial distance lies within window/2 of radialDistance[k]
// (spec §4.K "rolling window over range"). window is in meters.
func MeanOverRange(radialDistance []float64, arr geo.Array2, mask geo.Mask2, window float64) geo.Array2 {
	T, G := arr.Rows, arr.Cols
	out := geo.NewArray2Filled(T, G, math.NaN())
	if G == 0 {
		return out
	}

	x := arr.Clone()
	nCount := make([]bool, T*G)
	for t := 0; t < T; t++ {
		for g := 0; g < G; g++ {
			if mask.At(t, g) {
				x.Set(t, g, 0)
			} else {
				nCount[x.Idx(t, g)] = true
			}
		}
	}
	xCumT, nCumT := cumsumRowsTransposed(x, nCount, T, G)

	halfWindow := window / 2
	i, j := 0, 0
	for k := 0; k < G; k++ {
		r := radialDistance[k]
		for i+1 < G && r-radialDistance[i+1] >= halfWindow {
			i++
		}
		for j+1 < G && radialDistance[j]-r < halfWindow {
			j++
		}
		lo, hi := i, j
		if r-radialDistance[lo] > halfWindow {
			lo++
		}
		if radialDistance[hi]-r > halfWindow {
			hi--
		}
		for t := 0; t < T; t++ {
			n := nCumT[t*G+hi] - nCumT[t*G+lo]
			if nCount[x.Idx(t, lo)] {
				n++
			}
			if n == 0 {
				continue
			}
			s := xCumT[t*G+hi] - xCumT[t*G+lo] + x.At(t, lo)
			out.Set(t, k, s/float64(n))
		}
	}
	return out
}

// VarOverRange computes the rolling variance over range, the same window
// semantics as MeanOverRange (spec §4.K). Numerically unstable per the
// prefix-sum caveat above; intended for coarse noise-floor estimation
// only.
func VarOverRange(radialDistance []float64, arr geo.Array2, mask geo.Mask2, window float64) geo.Array2 {
	T, G := arr.Rows, arr.Cols
	out := geo.NewArray2Filled(T, G, math.NaN())
	if G == 0 {
		return out
	}

	x := arr.Clone()
	x2 := geo.NewArray2(T, G)
	nCount := make([]bool, T*G)
	for t := 0; t < T; t++ {
		for g := 0; g < G; g++ {
			if mask.At(t, g) {
				x.Set(t, g, 0)
			} else {
				nCount[x.Idx(t, g)] = true
			}
			x2.Set(t, g, x.At(t, g)*x.At(t, g))
		}
	}
	xCumT, nCumT := cumsumRowsTransposed(x, nCount, T, G)
	x2CumT, _ := cumsumRowsTransposed(x2, nCount, T, G)

	halfWindow := window / 2
	i, j := 0, 0
	for k := 0; k < G; k++ {
		r := radialDistance[k]
		for i+1 < G && r-radialDistance[i+1] >= halfWindow {
			i++
		}
		for j+1 < G && radialDistance[j]-r < halfWindow {
			j++
		}
		lo, hi := i, j
		if r-radialDistance[lo] > halfWindow {
			lo++
		}
		if radialDistance[hi]-r > halfWindow {
			hi--
		}
		for t := 0; t < T; t++ {
			n := nCumT[t*G+hi] - nCumT[t*G+lo]
			if nCount[x.Idx(t, lo)] {
				n++
			}
			if n == 0 {
				continue
			}
			s := xCumT[t*G+hi] - xCumT[t*G+lo] + x.At(t, lo)
			s2 := x2CumT[t*G+hi] - x2CumT[t*G+lo] + x2.At(t, lo)
			nf := float64(n)
			out.Set(t, k, (s2-s*s/nf)/nf)
		}
	}
	return out
}

// VarianceWindow is VarOverTimeWithWindow's result: the variance itself
// plus, per cell, the auxiliary effective-window bookkeeping consumers
// like package turbulence need (spec §4.K "used to report the effective
// window start/stop for variance consumers"). WindowStart, WindowStop
// and NSamples are flat T*G slices, index t*G+g.
type VarianceWindow struct {
	Variance    geo.Array2
	WindowStart []int64
	WindowStop  []int64
	NSamples    []int
}

// VarOverTimeWithWindow computes the rolling variance over time (the
// same window semantics as MeanOverTime) and additionally reports, per
// cell, the timestamps of the first and last unmasked sample actually
// inside the window and the count of unmasked samples. window_start and
// window_stop are computed from NextValid/PrevValid rather than from the
// raw two-pointer bounds, since those bounds may themselves sit on a
// masked sample.
func VarOverTimeWithWindow(time []int64, arr geo.Array2, mask geo.Mask2, window float64) VarianceWindow {
	T, G := arr.Rows, arr.Cols
	variance := geo.NewArray2Filled(T, G, math.NaN())
	windowStart := make([]int64, T*G)
	windowStop := make([]int64, T*G)
	nsamples := make([]int, T*G)
	if T == 0 {
		return VarianceWindow{variance, windowStart, windowStop, nsamples}
	}

	x := arr.Clone()
	x2 := geo.NewArray2(T, G)
	nCount := make([]int, T*G)
	for t := 0; t < T; t++ {
		for g := 0; g < G; g++ {
			if mask.At(t, g) {
				x.Set(t, g, 0)
			} else {
				nCount[x.Idx(t, g)] = 1
			}
			x2.Set(t, g, x.At(t, g)*x.At(t, g))
		}
	}
	xCum := cumsumCols(x)
	x2Cum := cumsumCols(x2)
	nCum := cumsumIntCols(nCount, T, G)
	next := NextValid(mask)
	prev := PrevValid(mask)

	halfWindow := int64(window / 2)
	i, j := 0, 0
	for k := 0; k < T; k++ {
		t := time[k]
		for i+1 < T && t-time[i+1] >= halfWindow {
			i++
		}
		for j+1 < T && time[j]-t < halfWindow {
			j++
		}
		lo, hi := i, j
		if t-time[lo] > halfWindow {
			lo++
		}
		if time[hi]-t > halfWindow {
			hi--
		}
		for g := 0; g < G; g++ {
			n := nCum[hi*G+g] - nCum[lo*G+g] + nCount[lo*G+g]
			idx := k*G + g
			nsamples[idx] = n
			if n == 0 {
				continue
			}
			s := xCum.At(hi, g) - xCum.At(lo, g) + x.At(lo, g)
			s2 := x2Cum.At(hi, g) - x2Cum.At(lo, g) + x2.At(lo, g)
			nf := float64(n)
			variance.Set(k, g, (s2-s*s/nf)/nf)

			if ns := next[lo*G+g]; ns >= 0 && ns <= hi {
				windowStart[idx] = time[ns]
			}
			if pv := prev[hi*G+g]; pv >= 0 && pv >= lo {
				windowStop[idx] = time[pv]
			}
		}
	}
	return VarianceWindow{variance, windowStart, windowStop, nsamples}
}

// NextValid returns, per cell, the smallest time index t' >= t at the
// same gate with mask false, or -1 if every later sample at that gate is
// masked (spec §4.K). Computed by a single reverse scan per gate.
func NextValid(mask geo.Mask2) []int {
	T, G := mask.Rows, mask.Cols
	out := make([]int, T*G)
	for g := 0; g < G; g++ {
		next := -1
		for t := T - 1; t >= 0; t-- {
			if !mask.At(t, g) {
				next = t
			}
			out[t*G+g] = next
		}
	}
	return out
}

// PrevValid returns, per cell, the largest time index t' <= t at the
// same gate with mask false, or -1 if every earlier sample at that gate
// is masked (spec §4.K). Computed by a single forward scan per gate.
func PrevValid(mask geo.Mask2) []int {
	T, G := mask.Rows, mask.Cols
	out := make([]int, T*G)
	for g := 0; g < G; g++ {
		prev := -1
		for t := 0; t < T; t++ {
			if !mask.At(t, g) {
				prev = t
			}
			out[t*G+g] = prev
		}
	}
	return out
}

// MedianOverRange computes the rolling median over range using a
// windowed nanmedian (spec §4.K). Unlike Mean/Var, the median is
// recomputed by sorting each window rather than via a running accumulator
// — the original implementation notes no incremental median exists for
// this window shape. stride > 1 skips gates and linearly interpolates the
// skipped ones when fillGaps is true, extrapolating at the ends.
func MedianOverRange(radialDistance []float64, arr geo.Array2, mask geo.Mask2, window float64, stride int, fillGaps bool) geo.Array2 {
	T, G := arr.Rows, arr.Cols
	out := geo.NewArray2Filled(T, G, math.NaN())
	if G == 0 {
		return out
	}
	if stride < 1 {
		stride = 1
	}

	halfWindow := window / 2
	i, j := 0, 0
	computed := make([]int, 0, G/stride+1)
	for k := 0; k < G; k += stride {
		r := radialDistance[k]
		for i+1 < G && r-radialDistance[i+1] >= halfWindow {
			i++
		}
		for j+1 < G && radialDistance[j]-r < halfWindow {
			j++
		}
		lo, hi := i, j
		if r-radialDistance[lo] > halfWindow {
			lo++
		}
		if radialDistance[hi]-r > halfWindow {
			hi--
		}
		computed = append(computed, k)
		for t := 0; t < T; t++ {
			out.Set(t, k, windowMedian(arr, mask, t, lo, hi))
		}
	}

	if stride == 1 || !fillGaps {
		return out
	}
	for t := 0; t < T; t++ {
		interpolateGaps(radialDistance, out.Row(t), computed)
	}
	return out
}

func windowMedian(arr geo.Array2, mask geo.Mask2, t, i, j int) float64 {
	vals := make([]float64, 0, j-i+1)
	for g := i; g <= j; g++ {
		if mask.At(t, g) {
			continue
		}
		v := arr.At(t, g)
		if math.IsNaN(v) {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// interpolateGaps linearly interpolates row[g] for g not in computed,
// using the values at computed indices, extrapolating at the ends with
// the nearest computed slope.
func interpolateGaps(x []float64, row []float64, computed []int) {
	if len(computed) == 0 {
		return
	}
	if len(computed) == 1 {
		v := row[computed[0]]
		for g := range row {
			row[g] = v
		}
		return
	}
	last := len(computed) - 1
	for g := range row {
		lo := sort.SearchInts(computed, g)
		switch {
		case lo < len(computed) && computed[lo] == g:
			// already computed, nothing to fill
		case lo == 0:
			a, b := computed[0], computed[1]
			row[g] = lerp(x[a], row[a], x[b], row[b], x[g])
		case lo > last:
			a, b := computed[last-1], computed[last]
			row[g] = lerp(x[a], row[a], x[b], row[b], x[g])
		default:
			a, b := computed[lo-1], computed[lo]
			row[g] = lerp(x[a], row[a], x[b], row[b], x[g])
		}
	}
}

func lerp(x0, y0, x1, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

func cumsumCols(a geo.Array2) geo.Array2 {
	out := geo.NewArray2(a.Rows, a.Cols)
	for g := 0; g < a.Cols; g++ {
		var running float64
		for t := 0; t < a.Rows; t++ {
			running += a.At(t, g)
			out.Set(t, g, running)
		}
	}
	return out
}

func cumsumIntCols(n []int, rows, cols int) []int {
	out := make([]int, rows*cols)
	for g := 0; g < cols; g++ {
		running := 0
		for t := 0; t < rows; t++ {
			running += n[t*cols+g]
			out[t*cols+g] = running
		}
	}
	return out
}

// cumsumRowsTransposed returns, per row t, the cumulative sum of x[t][:]
// and the cumulative unmasked count, both indexed [t*cols+g] so that
// cum[t*cols+j] - cum[t*cols+i] + x.At(t,i) reproduces the Python
// S(i,j)/N(i,j) recurrence without transposing the backing array.
func cumsumRowsTransposed(x geo.Array2, present []bool, rows, cols int) (cum []float64, nCum []int) {
	cum = make([]float64, rows*cols)
	nCum = make([]int, rows*cols)
	for t := 0; t < rows; t++ {
		var running float64
		nRunning := 0
		for g := 0; g < cols; g++ {
			running += x.At(t, g)
			if present[t*cols+g] {
				nRunning++
			}
			cum[t*cols+g] = running
			nCum[t*cols+g] = nRunning
		}
	}
	return cum, nCum
}
