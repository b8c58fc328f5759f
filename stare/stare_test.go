package stare

import (
	"math"
	"testing"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/instrument"
	"github.com/atmos-lidar/lidarcore/raw"
	"github.com/atmos-lidar/lidarcore/raw/halo"
)

func TestEffectiveReceiverEnergyAtFocusDistance(t *testing.T) {
	d := 0.025
	wavelength := 1.5e-6
	// At r == focus, (1 - r/focus) == 0, so the term vanishes and A_e
	// reduces to pi*D^2/4.
	got := effectiveReceiverEnergy(1000, 1000, wavelength, d)
	want := math.Pi * d * d / 4
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("A_e at focus = %v, want %v", got, want)
	}
}

func TestEffectiveReceiverEnergyNonPositiveFocusTreatsAsInfinite(t *testing.T) {
	d := 0.025
	wavelength := 1.5e-6
	a := effectiveReceiverEnergy(500, 0, wavelength, d)
	b := effectiveReceiverEnergy(500, -1, wavelength, d)
	if a != b {
		t.Fatalf("non-positive focus should behave identically regardless of sign: %v vs %v", a, b)
	}
	if math.IsNaN(a) || math.IsInf(a, 0) {
		t.Fatalf("A_e with no focus distance should stay finite, got %v", a)
	}
}

func TestComputeBetaMatchesFormula(t *testing.T) {
	defaults, ok := instrument.Lookup(instrument.Halo)
	if !ok {
		t.Fatalf("missing halo defaults")
	}
	radialDistance := []float64{100}
	intensity := geo.NewArray2(1, 1)
	intensity.Set(0, 0, 1.5) // SNR = 0.5

	beta := computeBeta(intensity, radialDistance, 0, defaults)

	nu := speedOfLight / defaults.WavelengthM
	ae := effectiveReceiverEnergy(100, 0, defaults.WavelengthM, defaults.TelescopeDiameterM)
	want := 2 * planckConstant * nu * defaults.ReceiverBandwidthHz * 100 * 100 * 0.5 /
		(defaults.HeterodyneEfficiency * speedOfLight * defaults.DefaultPulseEnergyJ * ae)

	if math.Abs(beta.At(0, 0)-want) > math.Abs(want)*1e-9 {
		t.Fatalf("beta = %v, want %v", beta.At(0, 0), want)
	}
}

func TestComputeNoiseMaskFlagsNearInstrumentAndLowIntensity(t *testing.T) {
	radialDistance := []float64{30, 500, 1000}
	intensity := geo.NewArray2Filled(25, 3, 1.2)
	velocity := geo.NewArray2(25, 3)
	mask := computeNoiseMask(intensity, velocity, radialDistance)

	for t := 0; t < mask.Rows; t++ {
		// column 0 is within THREE_PULSES_LENGTH=90m, always noise
		// regardless of intensity level.
		if !mask.At(t, 0) {
			t.Fatalf("near-instrument gate should always be masked at time %d", t)
		}
	}

	lowIntensity := geo.NewArray2Filled(25, 3, 0.5)
	lowMask := computeNoiseMask(lowIntensity, velocity, radialDistance)
	for _, v := range lowMask.Data {
		if !v {
			t.Fatalf("intensity < 1 everywhere should mask every cell")
		}
	}
}

func TestTime2BgTimeFindsLatestPreceding(t *testing.T) {
	bgTime := []int64{0, 10, 20}
	if got := time2bgTime(bgTime, 15); got != 1 {
		t.Fatalf("time2bgTime(15) = %d, want 1", got)
	}
	if got := time2bgTime(bgTime, -5); got != -1 {
		t.Fatalf("time2bgTime(-5) = %d, want -1 (no preceding background)", got)
	}
	if got := time2bgTime(bgTime, 20); got != 2 {
		t.Fatalf("time2bgTime(20) = %d, want 2 (exact match counts as preceding)", got)
	}
}

func TestSelectRelevantBackgroundProfilesDropsUnused(t *testing.T) {
	bgTime := []int64{0, 5, 10, 100}
	bgSignal := geo.NewArray2(4, 1)
	for i := range bgTime {
		bgSignal.Set(i, 0, float64(i))
	}
	times := []int64{6, 7} // both fall between bgTime[1]=5 and bgTime[2]=10
	outTime, outSignal := selectRelevantBackgroundProfiles(bgTime, bgSignal, times)
	if len(outTime) != 1 || outTime[0] != 5 {
		t.Fatalf("expected only bg profile at t=5 to survive, got %v", outTime)
	}
	if outSignal.At(0, 0) != 1 {
		t.Fatalf("expected signal row for bg[1], got %v", outSignal.At(0, 0))
	}
}

// buildStareRecord synthesizes a Halo stare record: a single vertical
// pointing, constant intensity above the noise floor at every gate. The
// first gate sits within the near-instrument exclusion (90 m); the rest
// sit well beyond it so the background fit has a non-empty fit window.
func buildStareRecord(ntime int, radialDistance []float64, focusRangeM float64) raw.Record {
	ngates := len(radialDistance)
	rec := raw.Record{
		Family:         instrument.Halo,
		SystemID:       "sys-1",
		Time:           make([]int64, ntime),
		RadialDistance: radialDistance,
		Azimuth:        make([]float64, ntime),
		Elevation:      make([]float64, ntime),
		RadialVelocity: geo.NewArray2(ntime, ngates),
		Intensity:      geo.NewArray2Filled(ntime, ngates, 1.02),
		FocusRangeM:    focusRangeM,
	}
	for t := 0; t < ntime; t++ {
		rec.Time[t] = int64(t) * 1_000_000
		rec.Elevation[t] = 90
	}
	return rec
}

func TestFromHaloDataEndToEnd(t *testing.T) {
	radialDistance := []float64{50, 120, 500, 1000}
	rec := buildStareRecord(10, radialDistance, 0)
	backgrounds := []halo.Background{
		{Time: -1_000_000, Signal: []float64{1, 1, 1, 1}},
	}

	s, err := FromHaloData([]raw.Record{rec}, backgrounds, BgCorrectionFit)
	if err != nil {
		t.Fatalf("FromHaloData: %v", err)
	}
	if len(s.Time) == 0 {
		t.Fatalf("expected at least one surviving profile")
	}
	if s.Beta.Rows != len(s.Time) || s.Beta.Cols != 4 {
		t.Fatalf("beta shape = %dx%d, want %dx4", s.Beta.Rows, s.Beta.Cols, len(s.Time))
	}
	if s.Mask.Rows != s.Beta.Rows || s.Mask.Cols != s.Beta.Cols {
		t.Fatalf("mask shape does not match beta shape")
	}
	if s.Wavelength == 0 {
		t.Fatalf("expected a non-zero wavelength from instrument defaults")
	}
	if !s.Mask.At(0, 0) {
		t.Fatalf("gate 0 at r=50m (<90m) should always be masked")
	}
}

func TestFromHaloDataRejectsEmptyInput(t *testing.T) {
	if _, err := FromHaloData(nil, nil, BgCorrectionFit); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestFromHaloDataRejectsUnimplementedMethod(t *testing.T) {
	rec := buildStareRecord(5, []float64{50, 120}, 0)
	if _, err := FromHaloData([]raw.Record{rec}, []halo.Background{{Time: 0, Signal: []float64{1, 1}}}, BgCorrectionMean); err == nil {
		t.Fatalf("expected error for unimplemented background correction method")
	}
}

func TestFromWindCubeDataComputesBetaFromCNR(t *testing.T) {
	n := 5
	rec := raw.Record{
		Family:         instrument.WindCubeFixed,
		Time:           make([]int64, n),
		RadialDistance: []float64{100, 200},
		Azimuth:        make([]float64, n),
		Elevation:      make([]float64, n),
		RadialVelocity: geo.NewArray2(n, 2),
		CNR:            geo.NewArray2Filled(n, 2, 0.05),
	}
	for t := 0; t < n; t++ {
		rec.Time[t] = int64(t) * 1_000_000
		rec.Elevation[t] = 90
	}

	s, err := FromWindCubeData([]raw.Record{rec})
	if err != nil {
		t.Fatalf("FromWindCubeData: %v", err)
	}
	if s.Beta.Rows != n || s.Beta.Cols != 2 {
		t.Fatalf("beta shape = %dx%d, want %dx2", s.Beta.Rows, s.Beta.Cols, n)
	}
}
