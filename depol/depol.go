// Package depol computes the depolarisation product from a pair of
// co-polarised and cross-polarised Stare products (spec §4.D). Grounded
// on product/stare_depol.py's validate-then-align-then-divide shape, but
// the alignment and formula are redesigned: first-at-or-after time
// matching uses the same searchsorted idiom as package stare's
// background lookup instead of a global argmin, matches are rejected
// past an acceptance threshold, and the ratio subtracts a
// polariser-bleed-through term before dividing.
package depol

import (
	"math"
	"sort"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/lidarerr"
	"github.com/atmos-lidar/lidarcore/stare"
)

const component = "depol"

const wavelengthTolerance = 1e-9
const radialDistanceTolerance = 1.0
const elevationToleranceDeg = 1.0

// StareDepol extends a co-polarised Stare with the cross-polarised
// backscatter and the derived depolarisation ratio (spec §4.D).
type StareDepol struct {
	Time           []int64
	RadialDistance []float64
	Elevation      []float64
	Beta           geo.Array2
	RadialVelocity geo.Array2
	Mask           geo.Mask2

	BetaCross             geo.Array2
	Depolarisation        geo.Array2
	MaskBetaCross         geo.Mask2
	MaskDepolarisation    geo.Mask2
	PolariserBleedThrough float64

	Wavelength float64
	SystemID   string
}

// New aligns cross onto co's time axis and computes the depolarisation
// ratio. p is the polariser-bleed-through fraction.
func New(co, cross stare.Stare, p float64) (StareDepol, error) {
	if math.Abs(co.Wavelength-cross.Wavelength) > wavelengthTolerance {
		return StareDepol{}, lidarerr.Newf(lidarerr.Contract, component, "", "different wavelength in co and cross: %v vs %v", co.Wavelength, cross.Wavelength)
	}
	if co.SystemID != cross.SystemID {
		return StareDepol{}, lidarerr.Newf(lidarerr.Contract, component, "", "different system ID in co and cross: %q vs %q", co.SystemID, cross.SystemID)
	}
	if !geo.CloseEnough(co.RadialDistance, cross.RadialDistance, radialDistanceTolerance) {
		return StareDepol{}, lidarerr.New(lidarerr.Shape, component, "", errDepol("different radial distance in co and cross"))
	}

	threshold := 2 * medianTimeDelta(co.Time)
	G := len(co.RadialDistance)
	betaCross := geo.NewArray2Filled(len(co.Time), G, math.NaN())
	depolarisation := geo.NewArray2Filled(len(co.Time), G, math.NaN())
	maskBetaCross := geo.NewMask2(len(co.Time), G)
	maskDepol := geo.NewMask2(len(co.Time), G)

	for k, t := range co.Time {
		ind, ok := matchCrossIndex(cross.Time, t, threshold)
		if ok && math.Abs(cross.Elevation[ind]-co.Elevation[k]) > elevationToleranceDeg {
			ok = false
		}
		if !ok {
			for g := 0; g < G; g++ {
				maskBetaCross.Set(k, g, true)
				maskDepol.Set(k, g, true)
			}
			continue
		}
		for g := 0; g < G; g++ {
			bc := cross.Beta.At(ind, g)
			betaCross.Set(k, g, bc)
			d := (bc - p*co.Beta.At(k, g)) / co.Beta.At(k, g)
			depolarisation.Set(k, g, d)
			maskBetaCross.Set(k, g, math.IsNaN(bc))
			maskDepol.Set(k, g, math.IsNaN(d))
		}
	}

	return StareDepol{
		Time:                  co.Time,
		RadialDistance:        co.RadialDistance,
		Elevation:             co.Elevation,
		Beta:                  co.Beta,
		RadialVelocity:        co.RadialVelocity,
		Mask:                  co.Mask,
		BetaCross:             betaCross,
		Depolarisation:        depolarisation,
		MaskBetaCross:         maskBetaCross,
		MaskDepolarisation:    maskDepol,
		PolariserBleedThrough: p,
		Wavelength:            co.Wavelength,
		SystemID:              co.SystemID,
	}, nil
}

// matchCrossIndex finds the first cross time at or after t (searchsorted
// with side="left") and accepts it only if it falls within threshold of
// t (spec §4.D). Returns ok=false when no cross profile qualifies.
func matchCrossIndex(crossTime []int64, t int64, threshold int64) (int, bool) {
	ind := sort.Search(len(crossTime), func(i int) bool { return crossTime[i] >= t })
	if ind >= len(crossTime) {
		return 0, false
	}
	if crossTime[ind]-t >= threshold {
		return 0, false
	}
	return ind, true
}

func medianTimeDelta(t []int64) int64 {
	if len(t) < 2 {
		return 0
	}
	diffs := make([]int64, len(t)-1)
	for i := 1; i < len(t); i++ {
		diffs[i-1] = t[i] - t[i-1]
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	n := len(diffs)
	if n%2 == 1 {
		return diffs[n/2]
	}
	return (diffs[n/2-1] + diffs[n/2]) / 2
}

type errDepol string

func (e errDepol) Error() string { return string(e) }
