// Package wls decodes Leosphere WLS70/WLS77 ".rtd" profiler files (spec
// §6 "WLS70/77 .rtd: binary-parsed by a dedicated sub-reader; exposes
// altitudes, per-time row header, per-altitude blocks"). Unlike Halo and
// WindCube, a WLS file already carries fully-resolved per-altitude
// horizontal wind vectors from the instrument's own onboard VAD
// processing rather than raw per-beam radial velocities, so it feeds
// package wind directly instead of going through raw.Record and a
// least-squares retrieval (spec §4.W.5).
//
// The real .rtd layout is a vendor binary format with no public
// specification in this codebase's reference material; what follows is
// a line-oriented ASCII rendering that preserves the exact field set and
// per-time/per-altitude block structure product/wls70.py and
// product/wls77.py describe (altitude grid once, then one header line
// per time step followed by one fixed-width block of measurements per
// altitude), grounded on those dataclasses' field order:
//
//	SYSTEM <system_id>
//	CNR_THRESHOLD <value>
//	ALTITUDES <a0> <a1> ... <aN-1>
//	<epoch_seconds> <position> <temperature> <wiper> <block_0> <block_1> ... <block_{N-1}>
//	...
//
// where each block is eight whitespace-separated floats in the order
// cnr, radial_velocity, radial_velocity_deviation, horizontal_wind_speed,
// wind_direction, zonal_wind, meridional_wind, vertical_wind.
package wls

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/raw"
)

// Kind distinguishes the two instrument variants. Both share an
// identical wire layout; Kind only labels the result. The wiper column
// (a 0/1 flag on the Wls70, a cumulative count on the Wls77) is stored
// as read for both.
type Kind string

const (
	Kind70 Kind = "wls70"
	Kind77 Kind = "wls77"
)

const fieldsPerAltitude = 8

// Record is one file's worth of WLS data: a shared altitude grid and,
// per time step, the instrument's own per-altitude horizontal wind
// retrieval (spec §4.W.5).
type Record struct {
	Kind         Kind
	SystemID     string
	CNRThreshold float64

	Time        []int64 // microsecond-precision UTC
	Altitude    []float64
	Position    []float64
	Temperature []float64
	Wiper       []float64

	CNR                     geo.Array2 // time x altitude
	RadialVelocity          geo.Array2
	RadialVelocityDeviation geo.Array2
	HorizontalWindSpeed     geo.Array2
	WindDirection           geo.Array2
	ZonalWind               geo.Array2
	MeridionalWind          geo.Array2
	VerticalWind            geo.Array2
}

// Decode returns a decode function bound to kind, suitable for
// raw.Ingest-style fan-out over a batch of files (mirrors
// raw/windcube.DecodeRecord's "configure once, decode many" shape).
func Decode(kind Kind) func(raw.Source) (Record, error) {
	return func(src raw.Source) (Record, error) {
		return decode(kind, src)
	}
}

func decode(kind Kind, src raw.Source) (Record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(src.Bytes))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var systemID string
	var cnrThreshold float64
	var altitude []float64
	var haveSystem, haveThreshold, haveAltitudes bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "SYSTEM":
			if len(fields) != 2 {
				return Record{}, fmt.Errorf("%s: malformed SYSTEM header", src.Name)
			}
			systemID = fields[1]
			haveSystem = true
		case "CNR_THRESHOLD":
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return Record{}, fmt.Errorf("%s: parsing CNR_THRESHOLD: %w", src.Name, err)
			}
			cnrThreshold = v
			haveThreshold = true
		case "ALTITUDES":
			vals, err := parseFloats(fields[1:])
			if err != nil {
				return Record{}, fmt.Errorf("%s: parsing ALTITUDES: %w", src.Name, err)
			}
			altitude = vals
			haveAltitudes = true
		default:
			if !haveSystem || !haveThreshold || !haveAltitudes {
				return Record{}, fmt.Errorf("%s: data row before header is complete", src.Name)
			}
			return decodeRows(kind, src, scanner, line, systemID, cnrThreshold, altitude)
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("%s: %w", src.Name, err)
	}
	return Record{}, fmt.Errorf("%s: no data rows", src.Name)
}

func decodeRows(kind Kind, src raw.Source, scanner *bufio.Scanner, firstRow, systemID string, cnrThreshold float64, altitude []float64) (Record, error) {
	nAlt := len(altitude)
	wantFields := 4 + nAlt*fieldsPerAltitude

	rows := [][]string{strings.Fields(firstRow)}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rows = append(rows, strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("%s: %w", src.Name, err)
	}

	n := len(rows)
	rec := Record{
		Kind:                    kind,
		SystemID:                systemID,
		CNRThreshold:            cnrThreshold,
		Time:                    make([]int64, n),
		Altitude:                altitude,
		Position:                make([]float64, n),
		Temperature:             make([]float64, n),
		Wiper:                   make([]float64, n),
		CNR:                     geo.NewArray2(n, nAlt),
		RadialVelocity:          geo.NewArray2(n, nAlt),
		RadialVelocityDeviation: geo.NewArray2(n, nAlt),
		HorizontalWindSpeed:     geo.NewArray2(n, nAlt),
		WindDirection:           geo.NewArray2(n, nAlt),
		ZonalWind:               geo.NewArray2(n, nAlt),
		MeridionalWind:          geo.NewArray2(n, nAlt),
		VerticalWind:            geo.NewArray2(n, nAlt),
	}

	for t, fields := range rows {
		if len(fields) != wantFields {
			return Record{}, fmt.Errorf("%s: row %d has %d fields, want %d", src.Name, t, len(fields), wantFields)
		}
		epochSeconds, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Record{}, fmt.Errorf("%s: row %d: parsing timestamp: %w", src.Name, t, err)
		}
		rec.Time[t] = int64(math.Round(epochSeconds * 1e6))

		row, err := parseFloats(fields[1:4])
		if err != nil {
			return Record{}, fmt.Errorf("%s: row %d: %w", src.Name, t, err)
		}
		rec.Position[t], rec.Temperature[t], rec.Wiper[t] = row[0], row[1], row[2]

		block, err := parseFloats(fields[4:])
		if err != nil {
			return Record{}, fmt.Errorf("%s: row %d: %w", src.Name, t, err)
		}
		for g := 0; g < nAlt; g++ {
			b := block[g*fieldsPerAltitude : (g+1)*fieldsPerAltitude]
			rec.CNR.Set(t, g, b[0])
			rec.RadialVelocity.Set(t, g, b[1])
			rec.RadialVelocityDeviation.Set(t, g, b[2])
			rec.HorizontalWindSpeed.Set(t, g, b[3])
			rec.WindDirection.Set(t, g, b[4])
			rec.ZonalWind.Set(t, g, b[5])
			rec.MeridionalWind.Set(t, g, b[6])
			rec.VerticalWind.Set(t, g, b[7])
		}
	}
	return rec, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// Merge concatenates records along time, reusing the altitude grid from
// the first record. All records must share the same altitude grid and
// system ID.
func Merge(records ...Record) (Record, error) {
	if len(records) == 0 {
		return Record{}, fmt.Errorf("no records supplied to merge")
	}
	first := records[0]
	for i, r := range records {
		if !geo.CloseEnough(r.Altitude, first.Altitude, 1e-9) {
			return Record{}, fmt.Errorf("record %d altitude grid differs from record 0", i)
		}
		if r.SystemID != first.SystemID {
			return Record{}, fmt.Errorf("record %d system ID %q differs from record 0 %q", i, r.SystemID, first.SystemID)
		}
	}

	totalT := 0
	for _, r := range records {
		totalT += len(r.Time)
	}
	nAlt := len(first.Altitude)
	out := Record{
		Kind:                    first.Kind,
		SystemID:                first.SystemID,
		CNRThreshold:            first.CNRThreshold,
		Altitude:                first.Altitude,
		Time:                    make([]int64, 0, totalT),
		Position:                make([]float64, 0, totalT),
		Temperature:             make([]float64, 0, totalT),
		Wiper:                   make([]float64, 0, totalT),
		CNR:                     geo.NewArray2(totalT, nAlt),
		RadialVelocity:          geo.NewArray2(totalT, nAlt),
		RadialVelocityDeviation: geo.NewArray2(totalT, nAlt),
		HorizontalWindSpeed:     geo.NewArray2(totalT, nAlt),
		WindDirection:           geo.NewArray2(totalT, nAlt),
		ZonalWind:               geo.NewArray2(totalT, nAlt),
		MeridionalWind:          geo.NewArray2(totalT, nAlt),
		VerticalWind:            geo.NewArray2(totalT, nAlt),
	}

	row := 0
	for _, r := range records {
		out.Time = append(out.Time, r.Time...)
		out.Position = append(out.Position, r.Position...)
		out.Temperature = append(out.Temperature, r.Temperature...)
		out.Wiper = append(out.Wiper, r.Wiper...)
		for t := 0; t < len(r.Time); t++ {
			copy(out.CNR.Row(row), r.CNR.Row(t))
			copy(out.RadialVelocity.Row(row), r.RadialVelocity.Row(t))
			copy(out.RadialVelocityDeviation.Row(row), r.RadialVelocityDeviation.Row(t))
			copy(out.HorizontalWindSpeed.Row(row), r.HorizontalWindSpeed.Row(t))
			copy(out.WindDirection.Row(row), r.WindDirection.Row(t))
			copy(out.ZonalWind.Row(row), r.ZonalWind.Row(t))
			copy(out.MeridionalWind.Row(row), r.MeridionalWind.Row(t))
			copy(out.VerticalWind.Row(row), r.VerticalWind.Row(t))
			row++
		}
	}
	return out, nil
}
