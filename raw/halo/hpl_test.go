package halo

import (
	"math"
	"testing"

	"github.com/atmos-lidar/lidarcore/raw"
)

func buildHplFile() []byte {
	header := "" +
		"Filename:\ttest.hpl\r\n" +
		"System ID:\t123\r\n" +
		"Number of gates:\t2\r\n" +
		"Range gate length (m):\t30.0\r\n" +
		"Gate length (pts):\t10\r\n" +
		"Pulses/ray:\t10000\r\n" +
		"No. of rays in file:\t3\r\n" +
		"Scan type:\tStare\r\n" +
		"Focus range:\t65535\r\n" +
		"Start time:\t20210621 00:00:00.000000\r\n" +
		"Resolution (m/s):\t0.0382\r\n" +
		"Altitude of measurement (center of gate) = (range gate + 0.5) * Gate length\r\n" +
		"Range of measurement (center of gate) = (range gate + 0.5) * Gate length\r\n" +
		"Data line 1: Decimal time (hours)  Azimuth (degrees)  Elevation (degrees)\r\n" +
		"f9.6,1x,f6.2,1x,f6.2\r\n" +
		"Data line 2: Range Gate  Doppler (m/s)  Intensity (SNR + 1)  Beta (m-1 sr-1)\r\n" +
		"i3,1x,f6.4,1x,f8.6,1x,e12.6 - repeat for no. gates\r\n" +
		"****\r\n"
	body := "" +
		"0.000000 0.00 90.00\r\n" +
		"0 0.1000 1.001000 1.000000e-07\r\n" +
		"1 0.2000 1.002000 2.000000e-07\r\n" +
		"1.000000 0.00 90.00\r\n" +
		"0 0.1100 1.001100 1.100000e-07\r\n" +
		"1 0.2100 1.002100 2.100000e-07\r\n"
	return []byte(header + body)
}

func TestDecodeHplBasicShape(t *testing.T) {
	src := raw.Source{Name: "test.hpl", Bytes: buildHplFile()}
	rec, err := Decode(src)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rec.Time) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(rec.Time))
	}
	if rec.RadialVelocity.Rows != 2 || rec.RadialVelocity.Cols != 2 {
		t.Fatalf("unexpected radial velocity shape: %dx%d", rec.RadialVelocity.Rows, rec.RadialVelocity.Cols)
	}
	if got := rec.RadialDistance[0]; math.Abs(got-15) > 1e-9 {
		t.Fatalf("radial_distance[0] = %v, want 15 (0.5*30)", got)
	}
	if got := rec.RadialDistance[1]; math.Abs(got-45) > 1e-9 {
		t.Fatalf("radial_distance[1] = %v, want 45 (1.5*30)", got)
	}
	wantDelta := int64(3_600_000_000) // 1 hour later, in microseconds
	if got := rec.Time[1] - rec.Time[0]; got != wantDelta {
		t.Fatalf("time delta = %d us, want %d", got, wantDelta)
	}
	if rec.Fingerprint.SystemID != "123" {
		t.Fatalf("system id = %q, want 123", rec.Fingerprint.SystemID)
	}
}

func TestDecodeHplMissingDividerFails(t *testing.T) {
	_, err := Decode(raw.Source{Name: "bad.hpl", Bytes: []byte("no header here")})
	if err == nil {
		t.Fatalf("expected error for missing header divider")
	}
}
