package noise

import (
	"testing"

	"github.com/atmos-lidar/lidarcore/geo"
)

func TestRemoveOneHotKeepsIsolatedMaskedCellMasked(t *testing.T) {
	m := geo.NewMask2(1, 5)
	m.Set(0, 2, true) // isolated noise cell, neighbors clear
	out := RemoveOneHot(m)
	if !out.At(0, 2) {
		t.Fatalf("expected masked cell to stay masked: RemoveOneHot never clears noise")
	}
	for _, g := range []int{0, 1, 3, 4} {
		if out.At(0, g) {
			t.Fatalf("expected gate %d to stay unmasked, it has an unmasked neighbor", g)
		}
	}
}

func TestRemoveOneHotKeepsPairedCells(t *testing.T) {
	m := geo.NewMask2(1, 5)
	m.Set(0, 2, true)
	m.Set(0, 3, true)
	out := RemoveOneHot(m)
	if !out.At(0, 2) || !out.At(0, 3) {
		t.Fatalf("expected adjacent noise cells to survive, got %v %v", out.At(0, 2), out.At(0, 3))
	}
}

func TestRemoveOneHotMasksIsolatedValidCell(t *testing.T) {
	m := geo.NewMask2(1, 5)
	m.Set(0, 1, true)
	m.Set(0, 3, true) // gate 2 is valid but sits between two masked neighbors
	out := RemoveOneHot(m)
	if !out.At(0, 2) {
		t.Fatalf("expected isolated valid cell between two masked neighbors to become masked")
	}
	if !out.At(0, 1) || !out.At(0, 3) {
		t.Fatalf("expected originally masked cells to stay masked")
	}
	if !out.At(0, 0) || !out.At(0, 4) {
		t.Fatalf("expected gates 0 and 4 to become masked, their only neighbor is masked")
	}
}

func TestRemoveOneHotShortRowUnchanged(t *testing.T) {
	m := geo.NewMask2(1, 2)
	m.Set(0, 0, true)
	out := RemoveOneHot(m)
	if !out.At(0, 0) || out.At(0, 1) {
		t.Fatalf("rows shorter than 3 gates must be returned unchanged")
	}
}

func TestClusterBackgroundProfilesSingleProfile(t *testing.T) {
	bg := geo.NewArray2Filled(1, 4, 5)
	rd := []float64{100, 200, 300, 400}
	labels := ClusterBackgroundProfiles(bg, rd)
	if len(labels) != 1 || labels[0] != 0 {
		t.Fatalf("single profile must stay in cluster 0, got %v", labels)
	}
}

func TestDetectStareNoiseFlagsAdjacentOutliersAgainstGlobalMedian(t *testing.T) {
	// the fixed 150 m window dwarfs the gate spacing (10), so the rolling median
	// degenerates to the whole-row median at every gate.
	radialDistance := []float64{0, 10, 20, 30, 40}
	v := geo.NewArray2(1, 5)
	for g, x := range []float64{5, 5, 20, 20, 5} {
		v.Set(0, g, x)
	}
	mask := geo.NewMask2(1, 5)
	out := DetectStareNoise(radialDistance, v, mask)
	// RemoveOneHot never clears gates 2,3 (already masked) and also masks
	// gate 4, whose only neighbor (gate 3) is masked, making it isolated.
	want := []bool{false, false, true, true, true}
	for g, w := range want {
		if out.At(0, g) != w {
			t.Fatalf("gate %d = %v, want %v", g, out.At(0, g), w)
		}
	}
}

func TestDetectWindNoiseFlagsAdjacentOutliersAgainstGlobalMedian(t *testing.T) {
	height := []float64{0, 10, 20, 30, 40}
	w := geo.NewArray2(1, 5)
	for g, x := range []float64{5, 5, 20, 20, 5} {
		w.Set(0, g, x)
	}
	mask := geo.NewMask2(1, 5)
	out := DetectWindNoise(height, w, mask, 1000, 1)
	// RemoveOneHot never clears gates 2,3 (already masked) and also masks
	// gate 4, whose only neighbor (gate 3) is masked, making it isolated.
	want := []bool{false, false, true, true, true}
	for g, want := range want {
		if out.At(0, g) != want {
			t.Fatalf("gate %d = %v, want %v", g, out.At(0, g), want)
		}
	}
}
