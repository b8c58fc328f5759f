package noise

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"github.com/atmos-lidar/lidarcore/geo"
)

// CorrectIntensityNoiseBias removes the residual per-profile linear trend
// left in bg-corrected intensity after background subtraction (spec
// §4.N.3): cells identified as noise-only by LocateNoise are fit to
// intensity = a*range + b per profile, and every cell in that profile is
// divided by the fitted trend. radialDistance <= 90 m is always excluded
// from the fit, matching the near-instrument exclusion used throughout
// this package.
func CorrectIntensityNoiseBias(radialDistance []float64, intensity geo.Array2) geo.Array2 {
	noiseMask := LocateNoise(intensity)
	for t := 0; t < noiseMask.Rows; t++ {
		row := noiseMask.Row(t)
		for g, r := range radialDistance {
			if r <= 90 {
				row[g] = false
			}
		}
	}

	out := geo.NewArray2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		var idx []int
		for g := 0; g < intensity.Cols; g++ {
			if noiseMask.At(t, g) {
				idx = append(idx, g)
			}
		}
		if len(idx) < 2 {
			copy(out.Row(t), intensity.Row(t))
			continue
		}
		A := mat.NewDense(len(idx), 2, nil)
		b := mat.NewVecDense(len(idx), nil)
		for i, g := range idx {
			A.Set(i, 0, radialDistance[g])
			A.Set(i, 1, 1)
			b.SetVec(i, intensity.At(t, g))
		}
		var x mat.VecDense
		if err := x.SolveVec(A, b); err != nil {
			copy(out.Row(t), intensity.Row(t))
			continue
		}
		for g, r := range radialDistance {
			fit := x.AtVec(0)*r + x.AtVec(1)
			out.Set(t, g, intensity.At(t, g)/fit)
		}
	}
	return out
}

// LocateNoise returns a mask where true marks a cell believed to contain
// only noise (spec §4.N.3 "noise-only cell detection"): normalized
// intensity below a threshold, a 5x5 median-filtered version below a
// tighter threshold, and a Gaussian-blurred union of both below a third
// threshold, all three conditions failing to indicate signal.
func LocateNoise(intensity geo.Array2) geo.Mask2 {
	const intensityThreshold = 1.008
	const medianThreshold = 1.002
	const gaussianThreshold = 0.02

	normalized := geo.NewArray2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		scale := medianOf(intensity.Row(t))
		for g := 0; g < intensity.Cols; g++ {
			normalized.Set(t, g, intensity.At(t, g)/scale)
		}
	}

	intensityMask := geo.NewMask2(intensity.Rows, intensity.Cols)
	for i, v := range normalized.Data {
		intensityMask.Data[i] = v > intensityThreshold
	}

	medianFiltered := medianFilter2D(normalized, 5)
	medianMask := geo.NewMask2(intensity.Rows, intensity.Cols)
	for i, v := range medianFiltered.Data {
		medianMask.Data[i] = v > medianThreshold
	}

	// The candidate-gate set fed to the Gaussian blur is the union of the
	// two per-row gate-index sets above, the same group-then-pick-
	// dominant-set idiom raw/select.go uses lo for over header-fingerprint
	// groups, applied here to signal-candidate gates instead.
	combined := geo.NewArray2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		union := lo.Union(trueIndices(intensityMask.Row(t)), trueIndices(medianMask.Row(t)))
		for _, g := range union {
			combined.Set(t, g, 1)
		}
	}
	blurred := gaussianBlur(combined, 8, 16)
	gaussianMask := geo.NewMask2(intensity.Rows, intensity.Cols)
	for i, v := range blurred.Data {
		gaussianMask.Data[i] = v > gaussianThreshold
	}

	out := geo.NewMask2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		signal := lo.Union(trueIndices(intensityMask.Row(t)), trueIndices(medianMask.Row(t)), trueIndices(gaussianMask.Row(t)))
		outRow := out.Row(t)
		for g := range outRow {
			outRow[g] = true
		}
		for _, g := range signal {
			outRow[g] = false
		}
	}
	return out
}

// trueIndices returns the gate indices where row is true, as the index
// set lo.Union operates on.
func trueIndices(row []bool) []int {
	idx := make([]int, 0, len(row))
	for g, v := range row {
		if v {
			idx = append(idx, g)
		}
	}
	return idx
}

// medianFilter2D applies a kernel×kernel median filter (odd kernel,
// edges clamped to the array border, matching scipy's default "reflect"
// boundary closely enough for mask thresholding purposes).
func medianFilter2D(a geo.Array2, kernel int) geo.Array2 {
	half := kernel / 2
	out := geo.NewArray2(a.Rows, a.Cols)
	window := make([]float64, 0, kernel*kernel)
	for t := 0; t < a.Rows; t++ {
		for g := 0; g < a.Cols; g++ {
			window = window[:0]
			for dt := -half; dt <= half; dt++ {
				tt := clamp(t+dt, 0, a.Rows-1)
				for dg := -half; dg <= half; dg++ {
					gg := clamp(g+dg, 0, a.Cols-1)
					window = append(window, a.At(tt, gg))
				}
			}
			out.Set(t, g, medianOf(window))
		}
	}
	return out
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// gaussianBlur applies a separable discrete Gaussian kernel of the given
// sigma, truncated to +/-radius samples per axis.
func gaussianBlur(a geo.Array2, sigma float64, radius int) geo.Array2 {
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := geo.NewArray2(a.Rows, a.Cols)
	for t := 0; t < a.Rows; t++ {
		for g := 0; g < a.Cols; g++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				gg := clamp(g+k, 0, a.Cols-1)
				acc += a.At(t, gg) * kernel[k+radius]
			}
			tmp.Set(t, g, acc)
		}
	}
	out := geo.NewArray2(a.Rows, a.Cols)
	for t := 0; t < a.Rows; t++ {
		for g := 0; g < a.Cols; g++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				tt := clamp(t+k, 0, a.Rows-1)
				acc += tmp.At(tt, g) * kernel[k+radius]
			}
			out.Set(t, g, acc)
		}
	}
	return out
}
