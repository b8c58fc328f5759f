package geo

import "fmt"

// Fingerprint is the header fingerprint of spec §3: files sharing an
// identical fingerprint are mergeable. Halo fields only; WindCube/WLS
// selection (§4.M) key on elevation/azimuth groupings instead and do not
// need a Fingerprint.
type Fingerprint struct {
	GatePoints               int
	NRays                    int // -1 when the header omits "No. of rays in file"
	NWaypoints               int // -1 when the header omits "No. of waypoints in file"
	NGates                   int
	PulsesPerRay             int
	RangeGateLengthDeci      int // range_gate_length rounded to 1 decimal, stored as tenths
	ResolutionDeci           int // resolution rounded to 1 decimal, stored as tenths
	ScanType                 int
	FocusRange               int
	SystemID                 string
	InstrumentSpectralWidthD int // rounded to 1 decimal, stored as tenths
}

// Key returns a comparable string key so Fingerprints can be used as map
// keys or grouped with lo.GroupBy.
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%d|%d|%d|%d|%d|%d|%d|%d|%d|%s|%d",
		f.GatePoints, f.NRays, f.NWaypoints, f.NGates, f.PulsesPerRay,
		f.RangeGateLengthDeci, f.ResolutionDeci, f.ScanType, f.FocusRange,
		f.SystemID, f.InstrumentSpectralWidthD)
}

// RoundDeci rounds v to one decimal place and returns it as tenths (an
// integer), so fingerprint equality is exact integer comparison rather than
// float comparison.
func RoundDeci(v float64) int {
	if v >= 0 {
		return int(v*10 + 0.5)
	}
	return -int(-v*10 + 0.5)
}
