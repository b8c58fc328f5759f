// Package noise implements the mask-refinement and background-correction
// kernels of spec §4.N: one-hot removal, rolling-median noise detection,
// background clustering and curve fitting, and per-profile intensity-bias
// correction. Algorithms are grounded on product/noise.py and
// product/noise_utils.py; the clustering (a hand-written 2-means) and the
// fits are grounded on the same files but reimplemented on top of
// gonum/mat and gonum/optimize instead of scikit-learn/scipy, the way the
// rest of this module substitutes gonum for scipy throughout.
package noise

import (
	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/rolling"
)

// RemoveOneHot masks an isolated surviving (unmasked) cell along each row
// (gate axis) that has a masked range-neighbor on every side (spec
// §4.N.4, testable property 6: "no surviving cell is isolated, i.e. both
// range-neighbours are masked"). A cell already masked stays masked
// unconditionally — this never clears noise, it only extends it to
// isolated valid cells. Rows shorter than 3 gates are returned unchanged,
// matching the reference implementation's guard.
func RemoveOneHot(m geo.Mask2) geo.Mask2 {
	out := m.Clone()
	if m.Cols < 3 {
		return out
	}
	for t := 0; t < m.Rows; t++ {
		row := m.Row(t)
		outRow := out.Row(t)
		outRow[0] = row[0] || row[1]
		outRow[m.Cols-1] = row[m.Cols-1] || row[m.Cols-2]
		for g := 1; g < m.Cols-1; g++ {
			outRow[g] = row[g] || (row[g-1] && row[g+1])
		}
	}
	return out
}

// DetectStareNoise refines mask by comparing each radial-velocity sample
// against a 150 m rolling median with a threshold of 2 m/s (spec §4.N.4),
// then removes one-hot survivors. mask is the caller's existing coarse
// mask (e.g. from background/intensity thresholds); cells already marked
// remain marked.
func DetectStareNoise(radialDistance []float64, radialVelocity geo.Array2, mask geo.Mask2) geo.Mask2 {
	const window = 150.0
	const threshold = 2.0
	median := rolling.MedianOverRange(radialDistance, radialVelocity, mask, window, 1, false)

	newMask := geo.NewMask2(mask.Rows, mask.Cols)
	for i := range newMask.Data {
		diff := radialVelocity.Data[i] - median.Data[i]
		if diff < 0 {
			diff = -diff
		}
		newMask.Data[i] = diff > threshold || mask.Data[i]
	}
	return RemoveOneHot(newMask)
}

// DetectWindNoise is the wind-product analogue of DetectStareNoise (spec
// §4.N.4): it operates on vertical wind speed over height instead of
// radial velocity over radial distance, with a caller-supplied window and
// stride so callers can trade resolution for evaluation cost, filling
// skipped gates by linear interpolation.
func DetectWindNoise(height []float64, w geo.Array2, mask geo.Mask2, window float64, stride int) geo.Mask2 {
	const threshold = 2.0
	median := rolling.MedianOverRange(height, w, mask, window, stride, true)

	newMask := geo.NewMask2(mask.Rows, mask.Cols)
	for i := range newMask.Data {
		diff := w.Data[i] - median.Data[i]
		if diff < 0 {
			diff = -diff
		}
		newMask.Data[i] = diff > threshold || mask.Data[i]
	}
	return RemoveOneHot(newMask)
}
