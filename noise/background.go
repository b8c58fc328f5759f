package noise

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/atmos-lidar/lidarcore/geo"
)

// FitMethod selects the background curve model of spec §4.N.2.
type FitMethod int

const (
	FitLinear FitMethod = iota
	FitExponential
	FitExponentialLinear
)

// CorrectBackground clusters bg's profiles into at most two groups
// (spec §4.N.1), fits each group's background curve with FitBackground,
// and returns the corrected signal with the same shape as bg (spec
// §4.N.2). This is the background half of the stare correction pipeline;
// the caller divides the raw intensity by (measured bg / corrected bg)
// as described in spec §4.N.3.
func CorrectBackground(bg geo.Array2, radialDistance []float64) geo.Array2 {
	labels := ClusterBackgroundProfiles(bg, radialDistance)
	out := geo.NewArray2(bg.Rows, bg.Cols)
	for _, label := range uniqueLabels(labels) {
		rows := rowsWithLabel(labels, label)
		sub := selectRows(bg, rows)
		fit := FitBackground(sub, radialDistance, nil)
		for i, t := range rows {
			copy(out.Row(t), fit.Row(i))
		}
	}
	return out
}

// ClusterBackgroundProfiles splits background profiles into two clusters
// when the normalized-median signal clearly separates into two levels
// (spec §4.N.1): the ratio of cluster-center distance to cluster width
// must exceed 3, otherwise every profile is assigned cluster 0.
func ClusterBackgroundProfiles(bg geo.Array2, radialDistance []float64) []int {
	labels := make([]int, bg.Rows)
	if bg.Rows < 2 {
		return labels
	}

	lo, hi := 90.0, 1500.0
	profileMedian := make([]float64, bg.Rows)
	for t := 0; t < bg.Rows; t++ {
		scale := medianOf(bg.Row(t))
		var band []float64
		for g, r := range radialDistance {
			if r > lo && r < hi {
				band = append(band, bg.At(t, g)/scale)
			}
		}
		profileMedian[t] = medianOf(band)
	}

	c0, c1, assign := kmeans2(profileMedian)
	var w0min, w0max, w1min, w1max float64
	w0min, w0max = math.Inf(1), math.Inf(-1)
	w1min, w1max = math.Inf(1), math.Inf(-1)
	for i, label := range assign {
		v := profileMedian[i]
		if label == 0 {
			w0min, w0max = math.Min(w0min, v), math.Max(w0max, v)
		} else {
			w1min, w1max = math.Min(w1min, v), math.Max(w1max, v)
		}
	}
	width0, width1 := w0max-w0min, w1max-w1min
	maxWidth := math.Max(width0, width1)
	centerDist := math.Abs(c0 - c1)
	if maxWidth == 0 || math.Abs(maxWidth) < 1e-12 {
		return labels
	}
	if centerDist/maxWidth > 3 {
		return assign
	}
	return labels
}

// kmeans2 runs 2-means on 1-D data, iterating assignment/update to a
// fixed point (cluster counts are tiny — a handful of background
// profiles per measurement period — so a few iterations always converge).
func kmeans2(x []float64) (c0, c1 float64, assign []int) {
	sorted := append([]float64(nil), x...)
	minV, maxV := sorted[0], sorted[0]
	for _, v := range sorted {
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}
	c0, c1 = minV, maxV
	assign = make([]int, len(x))
	for iter := 0; iter < 50; iter++ {
		changed := false
		for i, v := range x {
			d0, d1 := math.Abs(v-c0), math.Abs(v-c1)
			label := 0
			if d1 < d0 {
				label = 1
			}
			if assign[i] != label {
				assign[i] = label
				changed = true
			}
		}
		var sum0, sum1 float64
		var n0, n1 int
		for i, v := range x {
			if assign[i] == 0 {
				sum0 += v
				n0++
			} else {
				sum1 += v
				n1++
			}
		}
		if n0 > 0 {
			c0 = sum0 / float64(n0)
		}
		if n1 > 0 {
			c1 = sum1 / float64(n1)
		}
		if !changed && iter > 0 {
			break
		}
	}
	return c0, c1, assign
}

func medianOf(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func uniqueLabels(labels []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func rowsWithLabel(labels []int, label int) []int {
	var out []int
	for i, l := range labels {
		if l == label {
			out = append(out, i)
		}
	}
	return out
}

func selectRows(a geo.Array2, rows []int) geo.Array2 {
	out := geo.NewArray2(len(rows), a.Cols)
	for i, r := range rows {
		copy(out.Row(i), a.Row(r))
	}
	return out
}

// detectPeaks flags radial-distance columns where the mean normalized
// background signal has a sharp downward second difference (spec §4.N.2
// "peaks are excluded from the fit"), spreading each flagged index to its
// immediate neighbors.
func detectPeaks(bg geo.Array2, radialDistance []float64) []bool {
	normalized := geo.NewArray2(bg.Rows, bg.Cols)
	for t := 0; t < bg.Rows; t++ {
		scale := medianOf(bg.Row(t))
		for g := 0; g < bg.Cols; g++ {
			normalized.Set(t, g, bg.At(t, g)/scale)
		}
	}
	colMean := make([]float64, bg.Cols)
	for g := 0; g < bg.Cols; g++ {
		var sum float64
		for t := 0; t < bg.Rows; t++ {
			sum += normalized.At(t, g)
		}
		colMean[g] = sum / float64(bg.Rows)
	}
	diff2 := make([]float64, bg.Cols)
	for g := 1; g < bg.Cols-1; g++ {
		diff2[g] = colMean[g+1] - 2*colMean[g] + colMean[g-1]
	}
	raw := make([]bool, bg.Cols)
	for g := 1; g < bg.Cols-1; g++ {
		raw[g] = diff2[g] < -0.01
	}
	out := make([]bool, bg.Cols)
	for g := range raw {
		if !raw[g] {
			continue
		}
		out[g] = true
		if g > 0 {
			out[g-1] = true
		}
		if g < len(out)-1 {
			out[g+1] = true
		}
	}
	return out
}

func fitMask(radialDistance []float64, peaks []bool, lo, hi float64) []int {
	var idx []int
	for g, r := range radialDistance {
		if r > lo && (hi == 0 || r < hi) && !peaks[g] {
			idx = append(idx, g)
		}
	}
	return idx
}

// FitBackground fits every profile in bg to the curve named by method
// (spec §4.N.2). When method is nil, the fit type is inferred by
// comparing residual sums of squares of all three candidate curves
// (spec §4.N.2 "model selection").
func FitBackground(bg geo.Array2, radialDistance []float64, method *FitMethod) geo.Array2 {
	peaks := detectPeaks(bg, radialDistance)
	m := FitLinear
	if method != nil {
		m = *method
	} else {
		m = inferFitMethod(bg, radialDistance, peaks)
	}
	switch m {
	case FitExponential:
		return exponentialFit(bg, radialDistance, peaks)
	case FitExponentialLinear:
		return exponentialLinearFit(bg, radialDistance, peaks)
	default:
		return linearFit(bg, radialDistance, peaks)
	}
}

func scales(bg geo.Array2) []float64 {
	out := make([]float64, bg.Rows)
	for t := 0; t < bg.Rows; t++ {
		out[t] = medianOf(bg.Row(t))
	}
	return out
}

func linearFit(bg geo.Array2, radialDistance []float64, peaks []bool) geo.Array2 {
	idx := fitMask(radialDistance, peaks, 90, 0)
	scale := scales(bg)

	rows, cols := bg.Rows, len(idx)
	A := mat.NewDense(rows*cols, 2, nil)
	b := mat.NewVecDense(rows*cols, nil)
	row := 0
	for t := 0; t < rows; t++ {
		for _, g := range idx {
			A.Set(row, 0, radialDistance[g])
			A.Set(row, 1, 1)
			b.SetVec(row, bg.At(t, g)/scale[t])
			row++
		}
	}
	var x mat.VecDense
	x.SolveVec(A, b)

	out := geo.NewArray2(rows, bg.Cols)
	for t := 0; t < rows; t++ {
		for g, r := range radialDistance {
			out.Set(t, g, (x.AtVec(0)*r+x.AtVec(1))*scale[t])
		}
	}
	return out
}

func expFunc(x []float64, r float64) float64 {
	return x[0] * math.Exp(x[1]*math.Pow(r, x[2]))
}

func linFunc(x []float64, r float64) float64 {
	return x[0]*r + x[1]
}

func explinFunc(x []float64, r float64) float64 {
	return expFunc(x[:3], r) + linFunc(x[3:], r)
}

func fitByNelderMead(initial []float64, rss func([]float64) float64) []float64 {
	problem := optimize.Problem{Func: rss}
	result, err := optimize.Minimize(problem, initial, &optimize.Settings{
		MajorIterations: 3000,
	}, &optimize.NelderMead{})
	if err != nil || result == nil {
		return initial
	}
	return result.X
}

func exponentialFit(bg geo.Array2, radialDistance []float64, peaks []bool) geo.Array2 {
	idx := fitMask(radialDistance, peaks, 90, 0)
	scale := scales(bg)
	rdist := make([]float64, len(idx))
	for i, g := range idx {
		rdist[i] = radialDistance[g]
	}

	out := geo.NewArray2(bg.Rows, bg.Cols)
	for t := 0; t < bg.Rows; t++ {
		signal := make([]float64, len(idx))
		for i, g := range idx {
			signal[i] = bg.At(t, g) / scale[t]
		}
		rss := func(x []float64) float64 {
			var sum float64
			for i, r := range rdist {
				d := signal[i] - expFunc(x, r)
				sum += d * d
			}
			return sum
		}
		x := fitByNelderMead([]float64{1, -1, -1}, rss)
		for g, r := range radialDistance {
			out.Set(t, g, expFunc(x, r)*scale[t])
		}
	}
	return out
}

func exponentialLinearFit(bg geo.Array2, radialDistance []float64, peaks []bool) geo.Array2 {
	idx := fitMask(radialDistance, peaks, 90, 0)
	scale := scales(bg)
	rdist := make([]float64, len(idx))
	for i, g := range idx {
		rdist[i] = radialDistance[g]
	}

	out := geo.NewArray2(bg.Rows, bg.Cols)
	for t := 0; t < bg.Rows; t++ {
		signal := make([]float64, len(idx))
		for i, g := range idx {
			signal[i] = bg.At(t, g) / scale[t]
		}
		rss := func(x []float64) float64 {
			var sum float64
			for i, r := range rdist {
				d := signal[i] - explinFunc(x, r)
				sum += d * d
			}
			return sum
		}
		x := fitByNelderMead([]float64{1, -1, -1, 0, 0}, rss)
		for g, r := range radialDistance {
			out.Set(t, g, explinFunc(x, r)*scale[t])
		}
	}
	return out
}

func inferFitMethod(bg geo.Array2, radialDistance []float64, peaks []bool) FitMethod {
	var idx []int
	for g, r := range radialDistance {
		if r > 90 && r < 8000 && !peaks[g] {
			idx = append(idx, g)
		}
	}
	scale := scales(bg)
	rdist := make([]float64, len(idx))
	for i, g := range idx {
		rdist[i] = radialDistance[g]
	}
	signal := make([][]float64, bg.Rows)
	for t := 0; t < bg.Rows; t++ {
		signal[t] = make([]float64, len(idx))
		for i, g := range idx {
			signal[t][i] = bg.At(t, g) / scale[t]
		}
	}

	rss := func(curve func([]float64, float64) float64, x []float64) float64 {
		var sum float64
		for t := range signal {
			for i, r := range rdist {
				d := signal[t][i] - curve(x, r)
				sum += d * d
			}
		}
		return sum
	}

	xLin := fitByNelderMead([]float64{1e-5, 1}, func(x []float64) float64 { return rss(linFunc, x) })
	xExp := fitByNelderMead([]float64{1, -1, -1}, func(x []float64) float64 { return rss(expFunc, x) })
	xExplin := fitByNelderMead([]float64{1, -1, -1, 0, 0}, func(x []float64) float64 { return rss(explinFunc, x) })

	linRSS := rss(linFunc, xLin)
	expRSS := rss(expFunc, xExp)
	explinRSS := rss(explinFunc, xExplin)

	if expRSS/linRSS < 0.95 || explinRSS/linRSS < 0.95 {
		if (expRSS-explinRSS)/linRSS > 0.05 {
			return FitExponentialLinear
		}
		return FitExponential
	}
	return FitLinear
}
