// Component M: raw merge & selection (spec §4.M). For each product a
// selection key identifies the dominant homogeneous set of records; this
// mirrors the teacher's grouping style (internal/lidar/background.go
// clusters observations by (ring, azimuth) cell) applied instead to
// whole-file grouping keys, using samber/lo's GroupBy the way the rest of
// the retrieval pack (sixy6e-go-gsf) uses lo for exactly this kind of
// "group then pick the dominant group" reduction; the dominant group is
// then picked with a plain loop over the groups.
package raw

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/atmos-lidar/lidarcore/lidarerr"
)

func roundInt(v float64) int { return int(math.Round(v)) }

// uniqueRoundedSet returns the distinct rounded-degree values present in vs.
func uniqueRoundedSet(vs []float64) []int {
	return lo.Uniq(lo.Map(vs, func(v float64, _ int) int { return roundInt(v) }))
}

func maxFloat(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// StareSelectHalo implements spec §4.M's stare-selection rule for Halo
// records: keep records with exactly one azimuth and one elevation value,
// near-vertical, group by header fingerprint, and return the merged,
// time-sorted dominant group.
func StareSelectHalo(records []Record) (Record, error) {
	candidates := make([]Record, 0, len(records))
	for _, r := range records {
		azSet := uniqueRoundedSet(r.Azimuth)
		elSet := uniqueRoundedSet(r.Elevation)
		if len(azSet) != 1 || len(elSet) != 1 {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return Record{}, lidarerr.New(lidarerr.NoData, "raw/select", "", errNoStareCandidates)
	}

	elevations := lo.Map(candidates, func(r Record, _ int) float64 { return r.Elevation[0] })
	maxElevation := maxFloat(elevations)

	filtered := lo.Filter(candidates, func(r Record, _ int) bool {
		el := r.Elevation[0]
		return math.Abs(el-maxElevation) < 2 && math.Abs(el-90) < 15
	})
	if len(filtered) == 0 {
		return Record{}, lidarerr.New(lidarerr.NoData, "raw/select", "", errNoStareCandidates)
	}

	groups := lo.GroupBy(filtered, func(r Record) string { return r.Fingerprint.Key() })
	return pickDominantGroup(groups)
}

// WindSelectHalo implements spec §4.M's wind-selection rule for Halo
// records: keep records with exactly one elevation in (25°, 80°) and at
// least 4 distinct rounded azimuths, group by (fingerprint, elevation,
// sorted azimuth tuple), then thin to groups exceeding half the mean
// count and pick the one whose elevation is closest to 75° (count breaks
// ties).
func WindSelectHalo(records []Record) (Record, error) {
	candidates := make([]Record, 0, len(records))
	for _, r := range records {
		elSet := uniqueRoundedSet(r.Elevation)
		if len(elSet) != 1 {
			continue
		}
		el := float64(elSet[0])
		if !(el > 25 && el < 80) {
			continue
		}
		azSet := uniqueRoundedSet(r.Azimuth)
		if len(azSet) < 4 {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return Record{}, lidarerr.New(lidarerr.NoData, "raw/select", "", errNoWindCandidates)
	}

	groups := lo.GroupBy(candidates, func(r Record) string {
		elInt := uniqueRoundedSet(r.Elevation)[0]
		az := uniqueRoundedSet(r.Azimuth)
		sort.Ints(az)
		return keyOf(r.Fingerprint.Key(), elInt, az)
	})

	counts := make(map[string]int, len(groups))
	total := 0
	for k, g := range groups {
		n := 0
		for _, r := range g {
			n += r.ntime()
		}
		counts[k] = n
		total += n
	}
	meanCount := float64(total) / float64(len(groups))

	type candidateGroup struct {
		key       string
		elevation float64
		count     int
	}
	var survivors []candidateGroup
	for k, g := range groups {
		if float64(counts[k]) <= meanCount/2 {
			continue
		}
		survivors = append(survivors, candidateGroup{
			key:       k,
			elevation: g[0].Elevation[0],
			count:     counts[k],
		})
	}
	if len(survivors) == 0 {
		return Record{}, lidarerr.New(lidarerr.NoData, "raw/select", "", errNoWindCandidates)
	}

	best := survivors[0]
	bestDist := math.Abs(best.elevation - 75)
	for _, c := range survivors[1:] {
		dist := math.Abs(c.elevation - 75)
		if dist < bestDist || (dist == bestDist && c.count > best.count) {
			best, bestDist = c, dist
		}
	}
	return mergeAndSort(groups[best.key])
}

// WindSelectWindCube implements spec §4.M's WindCube wind-selection rule:
// keep sweeps with elevation in (15°, 85°), pick the most frequent integer
// elevation, and drop all sweeps at any other elevation.
func WindSelectWindCube(records []Record) (Record, error) {
	candidates := make([]Record, 0, len(records))
	for _, r := range records {
		elSet := uniqueRoundedSet(r.Elevation)
		if len(elSet) != 1 {
			continue
		}
		el := float64(elSet[0])
		if el > 15 && el < 85 {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Record{}, lidarerr.New(lidarerr.NoData, "raw/select", "", errNoWindCandidates)
	}

	groups := lo.GroupBy(candidates, func(r Record) int { return uniqueRoundedSet(r.Elevation)[0] })
	bestEl, bestGroup := 0, groups[0]
	bestCount := -1
	for el, g := range groups {
		n := 0
		for _, r := range g {
			n += r.ntime()
		}
		if n > bestCount {
			bestCount, bestEl, bestGroup = n, el, g
		}
	}
	_ = bestEl
	return mergeAndSort(bestGroup)
}

func pickDominantGroup(groups map[string][]Record) (Record, error) {
	bestKey := ""
	bestCount := -1
	for k, g := range groups {
		n := 0
		for _, r := range g {
			n += r.ntime()
		}
		if n > bestCount {
			bestCount, bestKey = n, k
		}
	}
	return mergeAndSort(groups[bestKey])
}

func mergeAndSort(records []Record) (Record, error) {
	merged, err := Merge(records...)
	if err != nil {
		return Record{}, err
	}
	return merged.SortedByTime().NonStrictlyIncreasingTimestepsRemoved(), nil
}

func keyOf(fp string, el int, az []int) string {
	var b strings.Builder
	b.WriteString(fp)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(el))
	for _, a := range az {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(a))
	}
	return b.String()
}

type selectErr string

func (e selectErr) Error() string { return string(e) }

const (
	errNoStareCandidates = selectErr("no records matched stare selection geometry")
	errNoWindCandidates  = selectErr("no records matched wind selection geometry")
)
