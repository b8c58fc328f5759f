// Package stare implements the vertical-stare product (spec §4.S): bind
// stare profiles to their preceding background measurement, fit and replace
// the background, correct the residual per-profile intensity bias, then
// compute the backscatter coefficient β and the signal-quality mask.
// Grounded on product/stare.py; the background-fit and intensity-bias
// correction stages reuse package noise (noise.CorrectBackground,
// noise.CorrectIntensityNoiseBias) exactly as stare.py's
// _correct_background_by_fitting and _correct_intensity_noise_bias do, with
// this package supplying only the time-to-background alignment and the β
// formula around them.
package stare

import (
	"math"
	"sort"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/instrument"
	"github.com/atmos-lidar/lidarcore/lidarerr"
	"github.com/atmos-lidar/lidarcore/noise"
	"github.com/atmos-lidar/lidarcore/raw"
	"github.com/atmos-lidar/lidarcore/raw/halo"
)

const component = "stare"

const (
	planckConstant = 6.62607015e-34
	speedOfLight   = 2.99792458e8
)

// BgCorrectionMethod selects how the background profiles are fitted before
// being subtracted out of the stare intensity (spec §6 "Core inputs").
type BgCorrectionMethod int

const (
	BgCorrectionFit BgCorrectionMethod = iota
	BgCorrectionMean
	BgCorrectionPreComputed
)

// Stare is one campaign's vertical-stare product over a (time, range) grid.
type Stare struct {
	Time           []int64
	RadialDistance []float64
	Elevation      []float64
	Beta           geo.Array2
	RadialVelocity geo.Array2
	Mask           geo.Mask2
	Wavelength     float64
	SystemID       string
}

// FromHaloData builds the stare product from Halo .hpl profiles and
// background files (spec §4.S): select → merge → bind to background →
// fit & replace background → correct intensity noise bias → β → mask.
func FromHaloData(records []raw.Record, backgrounds []halo.Background, method BgCorrectionMethod) (Stare, error) {
	if len(records) == 0 {
		return Stare{}, lidarerr.New(lidarerr.NoData, component, "", errStare("HaloHpl data missing"))
	}
	if method != BgCorrectionFit {
		return Stare{}, lidarerr.New(lidarerr.Contract, component, "", errStare("background correction method not implemented"))
	}

	merged, err := raw.StareSelectHalo(records)
	if err != nil {
		return Stare{}, err
	}

	if len(backgrounds) == 0 {
		return Stare{}, lidarerr.New(lidarerr.NoData, component, "", errStare("Background data missing"))
	}
	ngates := len(merged.RadialDistance)
	trimmed := trimBackgroundsToGates(backgrounds, ngates)
	if len(trimmed) == 0 {
		return Stare{}, lidarerr.New(lidarerr.NoData, component, "", errStare("Background data missing"))
	}
	bgTime, bgSignal, err := halo.MergeBackgrounds(trimmed)
	if err != nil {
		return Stare{}, lidarerr.New(lidarerr.Contract, component, "", err)
	}

	withBg, intensityBgCorrected, err := correctBackground(merged, bgTime, bgSignal, merged.RadialDistance)
	if err != nil {
		return Stare{}, err
	}

	intensityCorrected := noise.CorrectIntensityNoiseBias(withBg.RadialDistance, intensityBgCorrected)

	defaults, ok := instrument.Lookup(instrument.Halo)
	if !ok {
		return Stare{}, lidarerr.New(lidarerr.Contract, component, "", errStare("missing instrument defaults for halo"))
	}

	beta := computeBeta(intensityCorrected, withBg.RadialDistance, withBg.FocusRangeM, defaults)
	mask := computeNoiseMask(intensityCorrected, withBg.RadialVelocity, withBg.RadialDistance)
	geo.MaskNaNs(beta, mask)

	return Stare{
		Time:           withBg.Time,
		RadialDistance: withBg.RadialDistance,
		Elevation:      withBg.Elevation,
		Beta:           beta,
		RadialVelocity: withBg.RadialVelocity,
		Mask:           mask,
		Wavelength:     defaults.WavelengthM,
		SystemID:       withBg.SystemID,
	}, nil
}

// FromWindCubeData builds the stare product from fixed WindCube records
// (spec §4.S, "For WindCube stares, SNR is derived from CNR"): no
// background correction is needed because CNR already has the instrument's
// own noise floor removed onboard.
func FromWindCubeData(records []raw.Record) (Stare, error) {
	if len(records) == 0 {
		return Stare{}, lidarerr.New(lidarerr.NoData, component, "", errStare("WindCube data missing"))
	}
	merged, err := raw.Merge(records...)
	if err != nil {
		return Stare{}, lidarerr.New(lidarerr.Contract, component, "", err)
	}
	merged = merged.SortedByTime().NonStrictlyIncreasingTimestepsRemoved()
	if len(merged.Time) == 0 {
		return Stare{}, lidarerr.New(lidarerr.NoData, component, "", errStare("no suitable data for the stare product"))
	}

	defaults, ok := instrument.Lookup(merged.Family)
	if !ok {
		return Stare{}, lidarerr.New(lidarerr.Contract, component, "", errStare("missing instrument defaults"))
	}

	snr := merged.CNR
	beta := computeBeta(snrAsIntensity(snr), merged.RadialDistance, defaults.FocusRangeM, defaults)
	mask := computeNoiseMask(snrAsIntensity(snr), merged.RadialVelocity, merged.RadialDistance)
	geo.MaskNaNs(beta, mask)

	return Stare{
		Time:           merged.Time,
		RadialDistance: merged.RadialDistance,
		Elevation:      merged.Elevation,
		Beta:           beta,
		RadialVelocity: merged.RadialVelocity,
		Mask:           mask,
		Wavelength:     defaults.WavelengthM,
		SystemID:       merged.SystemID,
	}, nil
}

// snrAsIntensity re-expresses a linear CNR grid as "intensity" (SNR+1) so it
// can be fed through the same β/mask formulas computeBeta and
// computeNoiseMask use for intensity = SNR + 1.
func snrAsIntensity(cnr geo.Array2) geo.Array2 {
	out := geo.NewArray2(cnr.Rows, cnr.Cols)
	for i, v := range cnr.Data {
		out.Data[i] = v + 1
	}
	return out
}

// computeBeta applies the heterodyne-lidar β formula with a Gaussian-beam
// effective receiver area (spec §4.S).
func computeBeta(intensity geo.Array2, radialDistance []float64, focus float64, d instrument.Defaults) geo.Array2 {
	nu := speedOfLight / d.WavelengthM
	coeff := 2 * planckConstant * nu * d.ReceiverBandwidthHz / (d.HeterodyneEfficiency * speedOfLight * d.DefaultPulseEnergyJ)

	ae := make([]float64, len(radialDistance))
	for g, r := range radialDistance {
		ae[g] = effectiveReceiverEnergy(r, focus, d.WavelengthM, d.TelescopeDiameterM)
	}

	out := geo.NewArray2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		for g, r := range radialDistance {
			snr := intensity.At(t, g) - 1
			out.Set(t, g, coeff*r*r*snr/ae[g])
		}
	}
	return out
}

// effectiveReceiverEnergy is A_e(r) from spec §4.S, the Gaussian-beam
// effective receiver area at a given focus and wavelength. A non-positive
// focus means the instrument reported no finite focus distance; the
// (1 - r/focus) term is then taken as 1, the r/focus -> 0 limit.
func effectiveReceiverEnergy(r, focus, wavelength, diameter float64) float64 {
	term := math.Pi * diameter * diameter / (4 * wavelength * r)
	focusTerm := 1.0
	if focus > 0 {
		focusTerm = 1 - r/focus
	}
	return math.Pi * diameter * diameter / (4 * (1 + term*term*focusTerm*focusTerm))
}

// computeNoiseMask flags a cell as noise when a 21x3 (time,range) rolling
// mean of intensity stays near 1 while the rolling mean of |radial
// velocity| stays high, or unconditionally within 90 m of the instrument,
// or when raw intensity itself is below 1 (spec §4.N.3 / stare.py
// _compute_noise_mask).
func computeNoiseMask(intensity, radialVelocity geo.Array2, radialDistance []float64) geo.Mask2 {
	const threePulsesLength = 90.0

	intensityMean := uniformFilter2D(intensity, 21, 3)
	absVelocity := geo.NewArray2(radialVelocity.Rows, radialVelocity.Cols)
	for i, v := range radialVelocity.Data {
		absVelocity.Data[i] = math.Abs(v)
	}
	velocityMean := uniformFilter2D(absVelocity, 21, 3)

	mask := geo.NewMask2(intensity.Rows, intensity.Cols)
	for t := 0; t < intensity.Rows; t++ {
		for g, r := range radialDistance {
			lowMean := intensityMean.At(t, g) < 1.0025
			highVelocity := velocityMean.At(t, g) > 2
			nearInstrument := r < threePulsesLength
			lowIntensity := intensity.At(t, g) < 1
			mask.Set(t, g, (lowMean && highVelocity) || nearInstrument || lowIntensity)
		}
	}
	return mask
}

// uniformFilter2D is a separable box-mean filter over (time, range), edges
// truncated to the samples actually inside the array rather than scipy's
// default "reflect" padding — close enough for mask thresholding, the same
// tradeoff package noise's medianFilter2D/gaussianBlur document.
func uniformFilter2D(a geo.Array2, sizeT, sizeG int) geo.Array2 {
	halfT, halfG := sizeT/2, sizeG/2

	tmp := geo.NewArray2(a.Rows, a.Cols)
	for t := 0; t < a.Rows; t++ {
		for g := 0; g < a.Cols; g++ {
			var sum float64
			var n int
			for dt := -halfT; dt <= halfT; dt++ {
				tt := t + dt
				if tt < 0 || tt >= a.Rows {
					continue
				}
				sum += a.At(tt, g)
				n++
			}
			tmp.Set(t, g, sum/float64(n))
		}
	}

	out := geo.NewArray2(a.Rows, a.Cols)
	for t := 0; t < a.Rows; t++ {
		for g := 0; g < a.Cols; g++ {
			var sum float64
			var n int
			for dg := -halfG; dg <= halfG; dg++ {
				gg := g + dg
				if gg < 0 || gg >= a.Cols {
					continue
				}
				sum += tmp.At(t, gg)
				n++
			}
			out.Set(t, g, sum/float64(n))
		}
	}
	return out
}

// correctBackground binds each raw profile to its latest-preceding
// background profile, fits & replaces the background signal, and returns
// the profiles that had a preceding background together with their
// bg-corrected intensity (spec §4.N.1 steps, stare.py _correct_background).
func correctBackground(r raw.Record, bgTime []int64, bgSignal geo.Array2, radialDistance []float64) (raw.Record, geo.Array2, error) {
	relevantTime, relevantSignal := selectRelevantBackgroundProfiles(bgTime, bgSignal, r.Time)
	if len(relevantTime) == 0 {
		return raw.Record{}, geo.Array2{}, lidarerr.New(lidarerr.NoData, component, "", errStare("no background profile precedes any raw profile"))
	}
	corrected := noise.CorrectBackground(relevantSignal, radialDistance)

	keepIdx := make([]int, 0, len(r.Time))
	raw2bg := make([]int, 0, len(r.Time))
	for t, tm := range r.Time {
		bgIdx := time2bgTime(relevantTime, tm)
		if bgIdx < 0 {
			continue
		}
		keepIdx = append(keepIdx, t)
		raw2bg = append(raw2bg, bgIdx)
	}
	if len(keepIdx) == 0 {
		return raw.Record{}, geo.Array2{}, lidarerr.New(lidarerr.NoData, component, "", errStare("no raw profile has a preceding background"))
	}

	withBg := r.Slice(keepIdx)
	out := geo.NewArray2(len(keepIdx), withBg.Intensity.Cols)
	for i, bgIdx := range raw2bg {
		for g := 0; g < out.Cols; g++ {
			out.Set(i, g, withBg.Intensity.At(i, g)*relevantSignal.At(bgIdx, g)/corrected.At(bgIdx, g))
		}
	}
	return withBg, out, nil
}

// selectRelevantBackgroundProfiles narrows bgTime/bgSignal to only the
// profiles ever picked as "latest-preceding" by some raw time, preserving
// bgTime's ascending order (stare.py _select_relevant_background_profiles).
func selectRelevantBackgroundProfiles(bgTime []int64, bgSignal geo.Array2, times []int64) ([]int64, geo.Array2) {
	seen := map[int]bool{}
	var idxList []int
	for _, t := range times {
		bi := time2bgTime(bgTime, t)
		if bi >= 0 && !seen[bi] {
			seen[bi] = true
			idxList = append(idxList, bi)
		}
	}
	sort.Ints(idxList)

	outTime := make([]int64, len(idxList))
	outSignal := geo.NewArray2(len(idxList), bgSignal.Cols)
	for i, bi := range idxList {
		outTime[i] = bgTime[bi]
		copy(outSignal.Row(i), bgSignal.Row(bi))
	}
	return outTime, outSignal
}

// time2bgTime returns the index of the latest bgTime at or before t, or -1
// if none precedes it (stare.py _time2bg_time:
// searchsorted(bg_time, time, side="right") - 1).
func time2bgTime(bgTime []int64, t int64) int {
	idx := sort.Search(len(bgTime), func(i int) bool { return bgTime[i] > t })
	return idx - 1
}

func trimBackgroundsToGates(bgs []halo.Background, ngates int) []halo.Background {
	out := make([]halo.Background, 0, len(bgs))
	for _, bg := range bgs {
		if len(bg.Signal) < ngates {
			continue
		}
		out = append(out, halo.Background{Time: bg.Time, Signal: append([]float64(nil), bg.Signal[:ngates]...)})
	}
	return out
}

type errStare string

func (e errStare) Error() string { return string(e) }
