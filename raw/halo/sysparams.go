package halo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atmos-lidar/lidarcore/raw"
)

// SysParams is one system-parameter log file's worth of housekeeping
// telemetry (spec §4.R.3): internal temperature/humidity, supply
// voltage, acquisition-card temperature, and platform pitch/roll, sampled
// independently of the profile cadence.
type SysParams struct {
	Time                       []int64 // second-precision UTC
	InternalTemperature        []float64
	InternalRelativeHumidity   []float64
	SupplyVoltage              []float64
	AcquisitionCardTemperature []float64
	PlatformPitchAngle         []float64
	PlatformRollAngle          []float64
}

var concatPattern = regexp.MustCompile(`\t[-+0-9]*\.[-+0-9]*\.[-+0-9]*\t`)
var zeroColumnPattern = regexp.MustCompile(`\t0\t`)
var splitConcatenatedFloats = regexp.MustCompile(`^(.*\t[-+]?[0-9]+\.[0-9]+)([-+][0-9]+\.[0-9]+\t.*)$`)
var concatenatedToNaN = regexp.MustCompile(`^(.*\t)[-+]?[0-9]+\.[0-9]+\.[0-9]+(\t.*)$`)

// DecodeSysParams parses one Halo system-parameter file. Some instrument
// firmware drops the tab between two adjacent float columns whenever the
// middle "tag" column between them is zero, producing a single glued
// token with two decimal points; that case is detected and repaired
// before the tab-separated fields are parsed.
func DecodeSysParams(src raw.Source) (SysParams, error) {
	body := strings.ReplaceAll(strings.ReplaceAll(string(src.Bytes), ",", "."), "\x00", "")
	body = strings.TrimSpace(body)
	rows := strings.Split(body, "\r\n")

	rows, err := correctConcatenatedRows(rows)
	if err != nil {
		return SysParams{}, err
	}

	n := len(rows)
	sp := SysParams{
		Time:                       make([]int64, n),
		InternalTemperature:        make([]float64, n),
		InternalRelativeHumidity:   make([]float64, n),
		SupplyVoltage:              make([]float64, n),
		AcquisitionCardTemperature: make([]float64, n),
		PlatformPitchAngle:         make([]float64, n),
		PlatformRollAngle:          make([]float64, n),
	}
	for i, row := range rows {
		cols := strings.Split(strings.TrimSpace(row), "\t")
		if len(cols) != 7 {
			return SysParams{}, fmt.Errorf("unexpected data format: row %d has %d columns", i, len(cols))
		}
		t, err := parseSysParamsTime(cols[0])
		if err != nil {
			return SysParams{}, fmt.Errorf("row %d: %w", i, err)
		}
		sp.Time[i] = t
		floats := [6]*float64{
			&sp.InternalTemperature[i], &sp.InternalRelativeHumidity[i],
			&sp.SupplyVoltage[i], &sp.AcquisitionCardTemperature[i],
			&sp.PlatformPitchAngle[i], &sp.PlatformRollAngle[i],
		}
		for k, dst := range floats {
			v, err := strconv.ParseFloat(cols[k+1], 64)
			if err != nil {
				return SysParams{}, fmt.Errorf("row %d column %d: %w", i, k+1, err)
			}
			*dst = v
		}
	}
	return sp, nil
}

// parseSysParamsTime tries the 12-hour format first, falling back to
// 24-hour, matching the reference reader's try/except ordering exactly.
func parseSysParamsTime(s string) (int64, error) {
	if t, err := time.Parse("01/02/2006 03:04:05 PM", s); err == nil {
		return t.Unix() * 1_000_000, nil
	}
	t, err := time.Parse("02/01/2006 15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.Unix() * 1_000_000, nil
}

func correctConcatenatedRows(rows []string) ([]string, error) {
	anyMatch := false
	allMatch := true
	for _, r := range rows {
		if concatPattern.MatchString(r) {
			anyMatch = true
		} else {
			allMatch = false
		}
	}
	if !anyMatch {
		return rows, nil
	}
	if !allMatch {
		return nil, fmt.Errorf("cannot correct the concatenated rows")
	}
	for _, r := range rows {
		if !zeroColumnPattern.MatchString(r) {
			return nil, fmt.Errorf(`concatenated rows are expected to have "\t0\t" pattern`)
		}
	}

	out := make([]string, len(rows))
	for i, r := range rows {
		stripped := strings.Replace(r, "\t0\t", "\t", 1)
		if m := splitConcatenatedFloats.FindStringSubmatch(stripped); m != nil {
			out[i] = m[1] + "\t" + m[2]
			continue
		}
		if m := concatenatedToNaN.FindStringSubmatch(stripped); m != nil {
			out[i] = m[1] + "nan\tnan" + m[2]
			continue
		}
		return nil, fmt.Errorf("cannot separate concatenated floats in row %d", i)
	}
	return out, nil
}
