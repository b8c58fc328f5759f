package raw

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmos-lidar/lidarcore/geo"
)

func buildRecord(times []int64, radialVelocity [][]float64) Record {
	n := len(times)
	g := len(radialVelocity[0])
	rv := geo.NewArray2(n, g)
	for t, row := range radialVelocity {
		copy(rv.Row(t), row)
	}
	return Record{
		Time:           times,
		RadialDistance: []float64{100, 200}[:g],
		Azimuth:        make([]float64, n),
		Elevation:      make([]float64, n),
		RadialVelocity: rv,
	}
}

func TestSortedByTimeOrdersAscending(t *testing.T) {
	r := buildRecord([]int64{3, 1, 2}, [][]float64{{30}, {10}, {20}})
	sorted := r.SortedByTime()
	want := []int64{1, 2, 3}
	for i, w := range want {
		if sorted.Time[i] != w {
			t.Fatalf("time[%d] = %d, want %d", i, sorted.Time[i], w)
		}
		if sorted.RadialVelocity.At(i, 0) != float64(w)*10 {
			t.Fatalf("radial velocity[%d] = %v, want %v", i, sorted.RadialVelocity.At(i, 0), float64(w)*10)
		}
	}
}

func TestSortedByTimeIsIdempotent(t *testing.T) {
	r := buildRecord([]int64{3, 1, 2}, [][]float64{{30}, {10}, {20}})
	once := r.SortedByTime()
	twice := once.SortedByTime()
	for i := range once.Time {
		if once.Time[i] != twice.Time[i] {
			t.Fatalf("sorting twice changed time[%d]: %d vs %d", i, once.Time[i], twice.Time[i])
		}
	}
}

func TestNonStrictlyIncreasingTimestepsRemoved(t *testing.T) {
	r := buildRecord([]int64{1, 1, 2, 2, 3}, [][]float64{{1}, {2}, {3}, {4}, {5}})
	out := r.NonStrictlyIncreasingTimestepsRemoved()
	want := []int64{1, 2, 3}
	if len(out.Time) != len(want) {
		t.Fatalf("time = %v, want %v", out.Time, want)
	}
	for i, w := range want {
		if out.Time[i] != w {
			t.Fatalf("time[%d] = %d, want %d", i, out.Time[i], w)
		}
	}
}

func TestNaNsRemovedDropsRowsWithNaN(t *testing.T) {
	r := buildRecord([]int64{1, 2, 3}, [][]float64{{1}, {math.NaN()}, {3}})
	out := r.NaNsRemoved()
	if len(out.Time) != 2 || out.Time[0] != 1 || out.Time[1] != 3 {
		t.Fatalf("time = %v, want [1 3]", out.Time)
	}
}

func TestSliceSelectsGivenIndices(t *testing.T) {
	r := buildRecord([]int64{1, 2, 3}, [][]float64{{10}, {20}, {30}})
	out := r.Slice([]int{2, 0})
	if len(out.Time) != 2 || out.Time[0] != 3 || out.Time[1] != 1 {
		t.Fatalf("time = %v, want [3 1]", out.Time)
	}
}

func TestMergeConcatenatesAlongTime(t *testing.T) {
	a := buildRecord([]int64{0, 1}, [][]float64{{1}, {2}})
	b := buildRecord([]int64{2, 3}, [][]float64{{3}, {4}})
	merged, err := Merge(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Time) != 4 {
		t.Fatalf("time length = %d, want 4", len(merged.Time))
	}
	for i, want := range []int64{0, 1, 2, 3} {
		if merged.Time[i] != want {
			t.Fatalf("time[%d] = %d, want %d", i, merged.Time[i], want)
		}
	}
}

func TestMergeRejectsMismatchedRadialDistance(t *testing.T) {
	a := buildRecord([]int64{0}, [][]float64{{1}})
	b := buildRecord([]int64{1}, [][]float64{{2}})
	b.RadialDistance = []float64{999}
	if _, err := Merge(a, b); err == nil {
		t.Fatalf("expected error merging records with different radial distance grids")
	}
}

func TestMergeRejectsZeroRecords(t *testing.T) {
	if _, err := Merge(); err == nil {
		t.Fatalf("expected error merging zero records")
	}
}

func TestReindexScanIndicesCompactsToDenseRange(t *testing.T) {
	r := buildRecord([]int64{0, 1, 2, 3}, [][]float64{{1}, {2}, {3}, {4}})
	r.ScanIndex = []int64{5, 5, 9, 5}
	out := r.ReindexScanIndices()
	want := []int64{0, 0, 1, 0}
	for i, w := range want {
		if out.ScanIndex[i] != w {
			t.Fatalf("scanIndex[%d] = %d, want %d", i, out.ScanIndex[i], w)
		}
	}
}
