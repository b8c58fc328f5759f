package halo

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/raw"
)

var backgroundFilenameRe = regexp.MustCompile(`^Background_(\d{6}-\d{6})\.txt$`)

// Background is one background file's worth of data: a single timestamp
// (carried in the filename) and one range-resolved signal profile (spec
// §4.R.2).
type Background struct {
	Time   int64 // microsecond-precision UTC
	Signal []float64
}

// DecodeBackground parses a Halo background file. The timestamp comes
// from the filename (Background_DDMMYY-HHMMSS.txt); the signal body is
// either newline-separated floats or, for some instrument firmware,
// glued digit sequences with no separators at all, each delimited only by
// its own decimal point followed by a fixed 6-digit mantissa.
func DecodeBackground(src raw.Source) (Background, error) {
	m := backgroundFilenameRe.FindStringSubmatch(src.Name)
	if m == nil {
		return Background{}, fmt.Errorf("cannot parse datetime from filename: %s", src.Name)
	}
	t, err := time.Parse("020106-150405", m[1])
	if err != nil {
		return Background{}, fmt.Errorf("parsing background timestamp: %w", err)
	}

	body := strings.TrimSpace(string(src.Bytes))
	var signal []float64
	if !strings.Contains(body, "\r\n") {
		signal, err = parseGluedFloats(body)
	} else {
		signal, err = parseNewlineFloats(strings.Split(body, "\r\n"))
	}
	if err != nil {
		return Background{}, err
	}

	return Background{Time: t.UnixMicro(), Signal: signal}, nil
}

func parseNewlineFloats(lines []string) ([]float64, error) {
	out := make([]float64, len(lines))
	for i, l := range lines {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			// Some locales write background files with a comma
			// decimal separator; fall back to that before failing.
			v, err = strconv.ParseFloat(strings.ReplaceAll(l, ",", "."), 64)
			if err != nil {
				return nil, fmt.Errorf("parsing background value %q: %w", l, err)
			}
		}
		out[i] = v
	}
	return out, nil
}

// parseGluedFloats handles firmware that writes the signal body with no
// separators between values at all: every value has exactly 6 decimal
// digits, so a value ends at the 6th byte after its decimal point.
func parseGluedFloats(body string) ([]float64, error) {
	const decimals = 6
	var out []float64
	start := 0
	for {
		dot := strings.IndexByte(body[start:], '.')
		if dot < 0 {
			break
		}
		dot += start
		end := dot + 1 + decimals
		if end > len(body) {
			return nil, fmt.Errorf("truncated glued background value at offset %d", dot)
		}
		v, err := strconv.ParseFloat(body[start:end], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing glued background value %q: %w", body[start:end], err)
		}
		out = append(out, v)
		start = end
	}
	return out, nil
}

// MergeBackgrounds concatenates background files along time, trims every
// signal to the shortest ngates among them (spec §4.R.2: readers may
// receive backgrounds from multiple gate-count configurations and narrow
// to the common range before use), and returns the time-sorted,
// strictly-increasing result as a dense array.
func MergeBackgrounds(bgs []Background) (time []int64, signal geo.Array2, err error) {
	if len(bgs) == 0 {
		return nil, geo.Array2{}, fmt.Errorf("no background files supplied")
	}
	ngates := len(bgs[0].Signal)
	for _, bg := range bgs {
		if len(bg.Signal) < ngates {
			ngates = len(bg.Signal)
		}
	}

	idx := make([]int, len(bgs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return bgs[idx[a]].Time < bgs[idx[b]].Time })

	time = make([]int64, 0, len(bgs))
	signal = geo.NewArray2(0, ngates)
	rows := make([][]float64, 0, len(bgs))
	var lastTime int64
	first := true
	for _, i := range idx {
		bg := bgs[i]
		if !first && bg.Time <= lastTime {
			continue
		}
		time = append(time, bg.Time)
		rows = append(rows, bg.Signal[:ngates])
		lastTime = bg.Time
		first = false
	}

	signal = geo.NewArray2(len(rows), ngates)
	for r, row := range rows {
		copy(signal.Row(r), row)
	}
	return time, signal, nil
}
