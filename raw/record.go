// Package raw defines the common raw-record type produced by every reader
// family (§3 "Raw record") and the per-record operations every reader
// exposes (§4.R.6): sorting, de-duplication, NaN removal, slicing, and
// fingerprint-gated merging. Concrete readers live in the raw/halo,
// raw/windcube, and raw/wls subpackages; this package is their shared
// currency plus the component-M selection/merge logic (§4.M).
package raw

import (
	"math"
	"sort"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/instrument"
	"github.com/atmos-lidar/lidarcore/lidarerr"
)

// Record is one file's worth of profiles, sharing a time axis (spec §3).
// Not every field is populated by every reader family: Intensity is Halo
// only, CNR, RadialVelocityConfidence and RayAccumulationTimeMs are
// WindCube only, SpectralWidth/Pitch/Roll/BetaRaw are optional everywhere
// (for WindCube, SpectralWidth carries doppler_spectrum_width and BetaRaw
// carries relative_beta, the same per-gate-quantity slots Halo's reader
// populates with its own spectral-width and beta columns).
type Record struct {
	Family      instrument.Family
	Fingerprint geo.Fingerprint // zero value when the family doesn't use one (WindCube, WLS)
	SystemID    string

	Time           []int64 // microsecond-precision UTC, §3
	RadialDistance []float64
	Azimuth        []float64 // degrees, length T
	Elevation      []float64 // degrees, length T

	RadialVelocity geo.Array2 // T×G, m/s

	Intensity geo.Array2 // T×G, Halo: intensity = SNR + 1
	CNR       geo.Array2 // T×G, WindCube: linear ratio, converted from dB (10^(0.1*dB)) at read time

	SpectralWidth            geo.Array2 // optional
	Pitch                    []float64  // optional, degrees
	Roll                     []float64  // optional, degrees
	BetaRaw                  geo.Array2 // optional
	RadialVelocityConfidence geo.Array2 // optional, WindCube CI percent
	ScanIndex                []int64    // optional, WindCube only: which sweep each profile belongs to
	FocusRangeM              float64    // optional, Halo only: telescope focus distance from the file header
	RayAccumulationTimeMs    float64    // optional, WindCube only: per-file ray accumulation time from the sweep group header
}

func (r Record) ntime() int { return len(r.Time) }
func (r Record) ngates() int {
	if len(r.RadialDistance) > 0 {
		return len(r.RadialDistance)
	}
	return r.RadialVelocity.Cols
}

// SortedByTime returns a copy of r with every per-time field permuted into
// ascending time order. Idempotent: calling it twice is the same as calling
// it once (spec testable property 8).
func (r Record) SortedByTime() Record {
	idx := make([]int, r.ntime())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return r.Time[idx[a]] < r.Time[idx[b]] })
	return r.selectTimeIndices(idx)
}

// NonStrictlyIncreasingTimestepsRemoved drops any sample whose time is not
// strictly greater than the maximum time seen so far (spec §4.R.6).
// Callers normally invoke SortedByTime first; this operation alone does not
// sort.
func (r Record) NonStrictlyIncreasingTimestepsRemoved() Record {
	idx := make([]int, 0, r.ntime())
	var maxSeen int64
	first := true
	for i, t := range r.Time {
		if first || t > maxSeen {
			idx = append(idx, i)
			maxSeen = t
			first = false
		}
	}
	return r.selectTimeIndices(idx)
}

// NaNsRemoved drops profiles (rows) with any NaN in the core fields:
// RadialVelocity and, whichever is populated, Intensity or CNR.
func (r Record) NaNsRemoved() Record {
	idx := make([]int, 0, r.ntime())
	for t := 0; t < r.ntime(); t++ {
		if rowHasNaN(r.RadialVelocity, t) {
			continue
		}
		if r.Intensity.Data != nil && rowHasNaN(r.Intensity, t) {
			continue
		}
		if r.CNR.Data != nil && rowHasNaN(r.CNR, t) {
			continue
		}
		idx = append(idx, t)
	}
	return r.selectTimeIndices(idx)
}

func rowHasNaN(a geo.Array2, row int) bool {
	if a.Data == nil {
		return false
	}
	for _, v := range a.Row(row) {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Slice returns a new Record containing only the given time indices, in
// the given order. Used by callers that need arbitrary integer/slice
// indexing (§4.R.6).
func (r Record) Slice(indices []int) Record { return r.selectTimeIndices(indices) }

func (r Record) selectTimeIndices(idx []int) Record {
	out := r
	out.Time = pickInt64(r.Time, idx)
	out.Azimuth = pickFloat(r.Azimuth, idx)
	out.Elevation = pickFloat(r.Elevation, idx)
	out.Pitch = pickFloat(r.Pitch, idx)
	out.Roll = pickFloat(r.Roll, idx)
	out.ScanIndex = pickInt64(r.ScanIndex, idx)
	out.RadialVelocity = pickRows(r.RadialVelocity, idx)
	out.Intensity = pickRows(r.Intensity, idx)
	out.CNR = pickRows(r.CNR, idx)
	out.SpectralWidth = pickRows(r.SpectralWidth, idx)
	out.BetaRaw = pickRows(r.BetaRaw, idx)
	out.RadialVelocityConfidence = pickRows(r.RadialVelocityConfidence, idx)
	return out
}

func pickInt64(s []int64, idx []int) []int64 {
	if s == nil {
		return nil
	}
	out := make([]int64, len(idx))
	for i, k := range idx {
		out[i] = s[k]
	}
	return out
}

func pickFloat(s []float64, idx []int) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(idx))
	for i, k := range idx {
		out[i] = s[k]
	}
	return out
}

func pickRows(a geo.Array2, idx []int) geo.Array2 {
	if a.Data == nil {
		return geo.Array2{}
	}
	out := geo.NewArray2(len(idx), a.Cols)
	for i, k := range idx {
		copy(out.Row(i), a.Row(k))
	}
	return out
}

// Merge concatenates records along time, in argument order, reusing
// RadialDistance from the first record (spec §4.M "Merging concatenates
// along time and reuses radial_distance from the first record"). Merging
// is only permitted when every record's header fingerprint is equal and
// every RadialDistance grid is bitwise-close to the first (spec §4.R.6);
// otherwise a Contract error is returned. The result is NOT re-sorted by
// time; callers must call SortedByTime afterward (spec §5 ordering
// guarantees).
func Merge(records ...Record) (Record, error) {
	if len(records) == 0 {
		return Record{}, lidarerr.New(lidarerr.Contract, "raw", "", errNoRecordsToMerge)
	}
	first := records[0]
	totalT := 0
	for i, r := range records {
		if r.Fingerprint != first.Fingerprint {
			return Record{}, lidarerr.Newf(lidarerr.Contract, "raw", "", "record %d fingerprint differs from record 0", i)
		}
		if !geo.CloseEnough(r.RadialDistance, first.RadialDistance, 1e-9) {
			return Record{}, lidarerr.Newf(lidarerr.Contract, "raw", "", "record %d radial_distance grid differs from record 0", i)
		}
		totalT += r.ntime()
	}

	out := first
	out.RadialDistance = first.RadialDistance
	out.Time = make([]int64, 0, totalT)
	out.Azimuth = make([]float64, 0, totalT)
	out.Elevation = make([]float64, 0, totalT)
	G := first.ngates()
	out.RadialVelocity = geo.NewArray2(0, G)
	hasIntensity := first.Intensity.Data != nil
	hasCNR := first.CNR.Data != nil
	hasSW := first.SpectralWidth.Data != nil
	hasBeta := first.BetaRaw.Data != nil
	hasConf := first.RadialVelocityConfidence.Data != nil
	hasPitch := first.Pitch != nil
	hasRoll := first.Roll != nil
	hasScanIndex := first.ScanIndex != nil
	if hasScanIndex {
		out.ScanIndex = make([]int64, 0, totalT)
	}

	rv := geo.NewArray2(totalT, G)
	var intensity, cnr, sw, beta, conf geo.Array2
	if hasIntensity {
		intensity = geo.NewArray2(totalT, G)
	}
	if hasCNR {
		cnr = geo.NewArray2(totalT, G)
	}
	if hasSW {
		sw = geo.NewArray2(totalT, G)
	}
	if hasBeta {
		beta = geo.NewArray2(totalT, G)
	}
	if hasConf {
		conf = geo.NewArray2(totalT, G)
	}

	row := 0
	var scanIndexOffset int64
	for _, r := range records {
		out.Time = append(out.Time, r.Time...)
		out.Azimuth = append(out.Azimuth, r.Azimuth...)
		out.Elevation = append(out.Elevation, r.Elevation...)
		if hasPitch {
			out.Pitch = append(out.Pitch, r.Pitch...)
		}
		if hasRoll {
			out.Roll = append(out.Roll, r.Roll...)
		}
		if hasScanIndex {
			var localMax int64
			for _, s := range r.ScanIndex {
				out.ScanIndex = append(out.ScanIndex, s+scanIndexOffset)
				if s > localMax {
					localMax = s
				}
			}
			scanIndexOffset += localMax + 1
		}
		for t := 0; t < r.ntime(); t++ {
			copy(rv.Row(row), r.RadialVelocity.Row(t))
			if hasIntensity {
				copy(intensity.Row(row), r.Intensity.Row(t))
			}
			if hasCNR {
				copy(cnr.Row(row), r.CNR.Row(t))
			}
			if hasSW {
				copy(sw.Row(row), r.SpectralWidth.Row(t))
			}
			if hasBeta {
				copy(beta.Row(row), r.BetaRaw.Row(t))
			}
			if hasConf {
				copy(conf.Row(row), r.RadialVelocityConfidence.Row(t))
			}
			row++
		}
	}
	out.RadialVelocity = rv
	out.Intensity = intensity
	out.CNR = cnr
	out.SpectralWidth = sw
	out.BetaRaw = beta
	out.RadialVelocityConfidence = conf
	return out, nil
}

// ReindexScanIndices compacts r.ScanIndex to a dense 0..n-1 range in
// first-seen order, leaving every other field untouched. WindCube sweep
// groups carry whatever index the instrument assigned them; after merging
// several files the surviving indices are sparse and this restores
// contiguity for the scan-grouping step in package wind.
func (r Record) ReindexScanIndices() Record {
	out := r
	if r.ScanIndex == nil {
		return out
	}
	next := make([]int64, len(r.ScanIndex))
	seen := map[int64]int64{}
	var j int64
	for i, s := range r.ScanIndex {
		id, ok := seen[s]
		if !ok {
			id = j
			seen[s] = id
			j++
		}
		next[i] = id
	}
	out.ScanIndex = next
	return out
}

var errNoRecordsToMerge = errNoRecords{}

type errNoRecords struct{}

func (errNoRecords) Error() string { return "no records supplied to merge" }
