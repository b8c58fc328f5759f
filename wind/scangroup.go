package wind

import (
	"math"

	"github.com/atmos-lidar/lidarcore/lidarerr"
)

const maxTimedeltaInScanUs = 30 * 1_000_000 // 30s, in microseconds

// groupScansByAzimuthRotation assigns each Halo profile a scan-group index:
// a new group starts whenever the azimuth wraps back to the first azimuth
// of the current scan, or the gap to the previous profile exceeds 30s
// (product/wind.py: _group_scans_by_azimuth_rotation).
func groupScansByAzimuthRotation(time []int64, azimuth []float64) ([]int64, error) {
	if len(time) < 4 {
		return nil, lidarerr.New(lidarerr.NoData, component, "", errNoData("less than 4 profiles is not sufficient for wind product"))
	}
	groups := make([]int64, len(time))
	var group int64
	firstAzimuthOfScan := wrapAndRoundAngle(azimuth[0])
	groups[0] = group
	for i := 1; i < len(time); i++ {
		angle := wrapAndRoundAngle(azimuth[i])
		if angle == firstAzimuthOfScan || time[i]-time[i-1] > maxTimedeltaInScanUs {
			group++
			firstAzimuthOfScan = angle
		}
		groups[i] = group
	}
	return groups, nil
}

func wrapAndRoundAngle(a float64) int64 {
	r := int64(math.Round(a)) % 360
	if r < 0 {
		r += 360
	}
	return r
}
