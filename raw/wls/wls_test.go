package wls

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/atmos-lidar/lidarcore/raw"
)

func buildFile(systemID string, cnrThreshold float64, altitudes []float64, rows [][]float64) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "SYSTEM %s\n", systemID)
	fmt.Fprintf(&b, "CNR_THRESHOLD %v\n", cnrThreshold)
	b.WriteString("ALTITUDES")
	for _, a := range altitudes {
		fmt.Fprintf(&b, " %v", a)
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%v", v)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func oneAltitudeRow(epochSeconds, position, temperature, wiper float64, cnr, rv, rvdev, speed, dir, u, v, w float64) []float64 {
	return []float64{epochSeconds, position, temperature, wiper, cnr, rv, rvdev, speed, dir, u, v, w}
}

func TestDecodeParsesHeaderAndSingleRow(t *testing.T) {
	data := buildFile("WLS70-0042", -22, []float64{40, 100},
		[][]float64{
			append(oneAltitudeRow(0, 1, 15.5, 0, -18, 0.5, 0.1, 6, 180, 1, 2, 0.3),
				-19, 0.6, 0.2, 7, 190, 2, 3, 0.1),
		},
	)

	rec, err := Decode(Kind70)(raw.Source{Name: "f.rtd", Bytes: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Kind != Kind70 {
		t.Fatalf("kind = %v, want %v", rec.Kind, Kind70)
	}
	if rec.SystemID != "WLS70-0042" {
		t.Fatalf("system id = %q", rec.SystemID)
	}
	if rec.CNRThreshold != -22 {
		t.Fatalf("cnr threshold = %v, want -22", rec.CNRThreshold)
	}
	if len(rec.Altitude) != 2 || rec.Altitude[0] != 40 || rec.Altitude[1] != 100 {
		t.Fatalf("altitude = %v", rec.Altitude)
	}
	if len(rec.Time) != 1 || rec.Time[0] != 0 {
		t.Fatalf("time = %v", rec.Time)
	}
	if rec.Position[0] != 1 || rec.Temperature[0] != 15.5 || rec.Wiper[0] != 0 {
		t.Fatalf("row header = %v %v %v", rec.Position[0], rec.Temperature[0], rec.Wiper[0])
	}
	if rec.RadialVelocity.At(0, 0) != 0.5 || rec.RadialVelocity.At(0, 1) != 0.6 {
		t.Fatalf("radial velocity = %v %v", rec.RadialVelocity.At(0, 0), rec.RadialVelocity.At(0, 1))
	}
	if rec.ZonalWind.At(0, 1) != 2 || rec.MeridionalWind.At(0, 1) != 3 {
		t.Fatalf("zonal/meridional at gate 1 = %v %v", rec.ZonalWind.At(0, 1), rec.MeridionalWind.At(0, 1))
	}
}

func TestDecodeConvertsFractionalEpochToMicroseconds(t *testing.T) {
	data := buildFile("WLS77-01", -20, []float64{50},
		[][]float64{oneAltitudeRow(1.5, 0, 10, 1, -15, 0, 0, 0, 0, 0, 0, 0)},
	)
	rec, err := Decode(Kind77)(raw.Source{Name: "f.rtd", Bytes: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Time[0] != 1_500_000 {
		t.Fatalf("time[0] = %d, want 1500000", rec.Time[0])
	}
}

func TestDecodeRejectsRowWithWrongFieldCount(t *testing.T) {
	data := []byte("SYSTEM sys\nCNR_THRESHOLD -20\nALTITUDES 40 100\n0 1 2 3 4 5 6 7 8 9 10 11\n")
	if _, err := Decode(Kind70)(raw.Source{Name: "bad.rtd", Bytes: data}); err == nil {
		t.Fatalf("expected error for row missing second altitude block")
	}
}

func TestDecodeRejectsDataBeforeCompleteHeader(t *testing.T) {
	data := []byte("SYSTEM sys\n0 1 2 3 4 5 6 7 8 9 10 11\n")
	if _, err := Decode(Kind70)(raw.Source{Name: "bad.rtd", Bytes: data}); err == nil {
		t.Fatalf("expected error when data row precedes ALTITUDES header")
	}
}

func TestDecodeRejectsEmptyFile(t *testing.T) {
	if _, err := Decode(Kind70)(raw.Source{Name: "empty.rtd", Bytes: []byte("")}); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestMergeConcatenatesTimeAndData(t *testing.T) {
	altitudes := []float64{40}
	a := buildFile("sys", -20, altitudes, [][]float64{oneAltitudeRow(0, 0, 0, 0, -15, 1, 0, 0, 0, 0, 0, 0)})
	b := buildFile("sys", -20, altitudes, [][]float64{oneAltitudeRow(1, 0, 0, 0, -15, 2, 0, 0, 0, 0, 0, 0)})

	recA, err := Decode(Kind70)(raw.Source{Name: "a.rtd", Bytes: a})
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	recB, err := Decode(Kind70)(raw.Source{Name: "b.rtd", Bytes: b})
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}

	merged, err := Merge(recA, recB)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Time) != 2 || merged.Time[0] != 0 || merged.Time[1] != 1_000_000 {
		t.Fatalf("merged time = %v", merged.Time)
	}
	if merged.RadialVelocity.At(0, 0) != 1 || merged.RadialVelocity.At(1, 0) != 2 {
		t.Fatalf("merged radial velocity = %v %v", merged.RadialVelocity.At(0, 0), merged.RadialVelocity.At(1, 0))
	}
}

func TestMergeRejectsMismatchedAltitudeGrid(t *testing.T) {
	a := buildFile("sys", -20, []float64{40}, [][]float64{oneAltitudeRow(0, 0, 0, 0, -15, 1, 0, 0, 0, 0, 0, 0)})
	b := buildFile("sys", -20, []float64{50}, [][]float64{oneAltitudeRow(1, 0, 0, 0, -15, 2, 0, 0, 0, 0, 0, 0)})

	recA, _ := Decode(Kind70)(raw.Source{Name: "a.rtd", Bytes: a})
	recB, _ := Decode(Kind70)(raw.Source{Name: "b.rtd", Bytes: b})

	if _, err := Merge(recA, recB); err == nil {
		t.Fatalf("expected error merging records with different altitude grids")
	}
}

func TestMergeRejectsMismatchedSystemID(t *testing.T) {
	altitudes := []float64{40}
	a := buildFile("sys-a", -20, altitudes, [][]float64{oneAltitudeRow(0, 0, 0, 0, -15, 1, 0, 0, 0, 0, 0, 0)})
	b := buildFile("sys-b", -20, altitudes, [][]float64{oneAltitudeRow(1, 0, 0, 0, -15, 2, 0, 0, 0, 0, 0, 0)})

	recA, _ := Decode(Kind70)(raw.Source{Name: "a.rtd", Bytes: a})
	recB, _ := Decode(Kind70)(raw.Source{Name: "b.rtd", Bytes: b})

	if _, err := Merge(recA, recB); err == nil {
		t.Fatalf("expected error merging records with different system IDs")
	}
}

func TestMergeRequiresAtLeastOneRecord(t *testing.T) {
	if _, err := Merge(); err == nil {
		t.Fatalf("expected error merging zero records")
	}
}

func TestDecodeNaNIsRoundTrippable(t *testing.T) {
	row := oneAltitudeRow(0, 0, 0, 0, math.NaN(), 1, 0, 0, 0, 0, 0, 0)
	data := buildFile("sys", -20, []float64{40}, [][]float64{row})
	rec, err := Decode(Kind70)(raw.Source{Name: "f.rtd", Bytes: data})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !math.IsNaN(rec.CNR.At(0, 0)) {
		t.Fatalf("expected NaN cnr, got %v", rec.CNR.At(0, 0))
	}
}
