// Package geo holds the data model shared by every component: ragged-time,
// regular-range 2-D arrays with boolean masks, plus the header-fingerprint
// hashing used to decide whether two raw files may be merged. The flat,
// row-major indexing scheme mirrors the teacher's BackgroundGrid.Idx
// pattern (internal/lidar/background.go: "ring*AzimuthBins+azBin") applied
// to a (time, gate) axis instead of (ring, azimuth).
package geo

import "math"

// Array2 is a dense row-major (time, gate) array of float64 samples.
type Array2 struct {
	Rows, Cols int
	Data       []float64
}

// NewArray2 allocates a Rows×Cols array filled with zero.
func NewArray2(rows, cols int) Array2 {
	return Array2{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewArray2Filled allocates a Rows×Cols array filled with v.
func NewArray2Filled(rows, cols int, v float64) Array2 {
	a := NewArray2(rows, cols)
	for i := range a.Data {
		a.Data[i] = v
	}
	return a
}

// Idx returns the flat index of (row, col). Mirrors BackgroundGrid.Idx.
func (a Array2) Idx(row, col int) int { return row*a.Cols + col }

// At returns the value at (row, col).
func (a Array2) At(row, col int) float64 { return a.Data[a.Idx(row, col)] }

// Set stores v at (row, col).
func (a Array2) Set(row, col int, v float64) { a.Data[a.Idx(row, col)] = v }

// Row returns a view (shared backing array) onto one row.
func (a Array2) Row(row int) []float64 {
	start := row * a.Cols
	return a.Data[start : start+a.Cols]
}

// Clone returns a deep copy.
func (a Array2) Clone() Array2 {
	out := Array2{Rows: a.Rows, Cols: a.Cols, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// Mask2 is a dense row-major (time, gate) boolean mask; true marks a cell
// that must not be consumed as signal (spec invariant 4).
type Mask2 struct {
	Rows, Cols int
	Data       []bool
}

// NewMask2 allocates a Rows×Cols mask, all false.
func NewMask2(rows, cols int) Mask2 {
	return Mask2{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}
}

func (m Mask2) Idx(row, col int) int { return row*m.Cols + col }

func (m Mask2) At(row, col int) bool { return m.Data[m.Idx(row, col)] }

func (m Mask2) Set(row, col int, v bool) { m.Data[m.Idx(row, col)] = v }

func (m Mask2) Row(row int) []bool {
	start := row * m.Cols
	return m.Data[start : start+m.Cols]
}

func (m Mask2) Clone() Mask2 {
	out := Mask2{Rows: m.Rows, Cols: m.Cols, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Or sets m[i] = m[i] || other[i] in place, returning m for chaining.
func (m Mask2) Or(other Mask2) Mask2 {
	for i := range m.Data {
		m.Data[i] = m.Data[i] || other.Data[i]
	}
	return m
}

// MaskNaNs sets mask=true wherever values is NaN, per invariant 5
// ("NaN in β, u, v, w implies mask=true at that cell").
func MaskNaNs(values Array2, mask Mask2) {
	for i, v := range values.Data {
		if math.IsNaN(v) {
			mask.Data[i] = true
		}
	}
}

// StrictlyIncreasing reports whether t is strictly monotonically increasing
// (invariant 1).
func StrictlyIncreasing(t []int64) bool {
	for i := 1; i < len(t); i++ {
		if t[i] <= t[i-1] {
			return false
		}
	}
	return true
}

// CloseEnough reports whether two float64 slices of equal length are
// bitwise-close within tol, the test used to decide whether two
// radial_distance grids may be merged (spec §4.R.6).
func CloseEnough(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}
