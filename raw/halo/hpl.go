// Package halo decodes Halo Photonics instrument files: per-scan .hpl
// profile files (this file), background files, and system-parameter
// files. Parsing follows the field names, tolerant-alignment algorithm,
// and time conversion of the reference Halo reader bit for bit; the
// concrete Go structure (explicit byte-slicing, no reflection) mirrors
// the teacher's packet decoders in spirit (extract one fixed-format
// record at a time, fail loudly on the first inconsistency) even though
// Halo files are line-oriented ASCII rather than binary.
package halo

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/instrument"
	"github.com/atmos-lidar/lidarcore/lidarerr"
	"github.com/atmos-lidar/lidarcore/raw"
)

var headerDividerRe = regexp.MustCompile(`(?s)\*\*\*\*.*?\n+`)

var instrumentSpectralWidthRe = regexp.MustCompile(`^\*\*\*\* Instrument spectral width = (.*)$`)

// expectedHeaderRows are fixed-format documentation lines that carry no
// key:value pair and must be tolerated rather than rejected.
var expectedHeaderRows = map[string]bool{
	"Altitude of measurement (center of gate) = (range gate + 0.5) * Gate length":           true,
	"Range of measurement (center of gate) = (range gate + 0.5) * Gate length":               true,
	"Data line 1: Decimal time (hours)  Azimuth (degrees)  Elevation (degrees) Pitch (degrees) Roll (degrees)": true,
	"Data line 1: Decimal time (hours)  Azimuth (degrees)  Elevation (degrees)":               true,
	"f9.6,1x,f6.2,1x,f6.2":                                                                    true,
	"Data line 2: Range Gate  Doppler (m/s)  Intensity (SNR + 1)  Beta (m-1 sr-1)":            true,
	"Data line 2: Range Gate  Doppler (m/s)  Intensity (SNR + 1)  Beta (m-1 sr-1) Spectral Width": true,
	"i3,1x,f6.4,1x,f8.6,1x,e12.6 - repeat for no. gates":                                      true,
	"i3,1x,f6.4,1x,f8.6,1x,e12.6,1x,f6.4 - repeat for no. gates":                              true,
	"****": true,
}

// header holds the parsed Halo .hpl header fields (spec §3 "header
// fingerprint" plus the scan metadata readers expose).
type header struct {
	filename                   string
	gatePoints                 int
	nrays                      int
	hasNrays                   bool
	nwaypoints                 int
	hasNwaypoints              bool
	ngates                     int
	pulsesPerRay               int
	rangeGateLength            float64
	resolution                 float64
	scanType                   string
	focusRange                 int
	startTime                  time.Time
	systemID                   string
	instrumentSpectralWidth    float64
	hasInstrumentSpectralWidth bool
}

func (h header) fingerprint() geo.Fingerprint {
	fp := geo.Fingerprint{
		GatePoints:          h.gatePoints,
		NRays:               -1,
		NWaypoints:          -1,
		NGates:              h.ngates,
		PulsesPerRay:        h.pulsesPerRay,
		RangeGateLengthDeci: geo.RoundDeci(h.rangeGateLength),
		ResolutionDeci:      geo.RoundDeci(h.resolution),
		FocusRange:          h.focusRange,
		SystemID:            h.systemID,
	}
	if h.hasNrays {
		fp.NRays = h.nrays
	}
	if h.hasNwaypoints {
		fp.NWaypoints = h.nwaypoints
	}
	fp.ScanType = hashString(h.scanType)
	if h.hasInstrumentSpectralWidth {
		fp.InstrumentSpectralWidthD = geo.RoundDeci(h.instrumentSpectralWidth)
	}
	return fp
}

func hashString(s string) int {
	h := 2166136261
	for i := 0; i < len(s); i++ {
		h = (h ^ int(s[i])) * 16777619
	}
	return h
}

// Decode parses one Halo .hpl file into a raw.Record. It satisfies the
// decode signature expected by raw.Ingest.
func Decode(src raw.Source) (raw.Record, error) {
	loc := headerDividerRe.FindIndex(src.Bytes)
	if loc == nil {
		return raw.Record{}, fmt.Errorf("cannot find header divider '****'")
	}
	headerBytes := src.Bytes[:loc[1]]
	dataBytes := src.Bytes[loc[1]:]

	h, err := readHeader(headerBytes)
	if err != nil {
		return raw.Record{}, err
	}
	h.filename = src.Name

	return readData(dataBytes, h)
}

func readHeader(data []byte) (header, error) {
	data = bytes.TrimSpace(data)
	fields := map[string]string{}
	for _, line := range bytes.Split(data, []byte("\r\n")) {
		line = bytes.TrimRight(line, "\n")
		if split := bytes.SplitN(line, []byte(":\t"), 2); len(split) == 2 {
			fields[string(split[0])] = string(split[1])
			continue
		}
		val := string(line)
		if m := instrumentSpectralWidthRe.FindStringSubmatch(val); m != nil {
			fields["instrument_spectral_width"] = m[1]
			continue
		}
		if val == "" || expectedHeaderRows[val] {
			continue
		}
		return header{}, fmt.Errorf("unexpected header row %q", val)
	}
	return headerFromFields(fields)
}

func headerFromFields(f map[string]string) (header, error) {
	var h header
	var err error
	if h.gatePoints, err = requireInt(f, "Gate length (pts)"); err != nil {
		return h, err
	}
	if v, ok := f["No. of rays in file"]; ok {
		h.nrays, err = strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return h, err
		}
		h.hasNrays = true
	}
	if v, ok := f["No. of waypoints in file"]; ok {
		h.nwaypoints, err = strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return h, err
		}
		h.hasNwaypoints = true
	}
	if h.ngates, err = requireInt(f, "Number of gates"); err != nil {
		return h, err
	}
	if h.pulsesPerRay, err = requireInt(f, "Pulses/ray"); err != nil {
		return h, err
	}
	if h.rangeGateLength, err = requireFloat(f, "Range gate length (m)"); err != nil {
		return h, err
	}
	if h.resolution, err = requireFloat(f, "Resolution (m/s)"); err != nil {
		return h, err
	}
	scanType, ok := f["Scan type"]
	if !ok {
		return h, fmt.Errorf("missing header field %q", "Scan type")
	}
	h.scanType = strings.TrimSpace(scanType)
	if h.focusRange, err = requireInt(f, "Focus range"); err != nil {
		return h, err
	}
	startTime, ok := f["Start time"]
	if !ok {
		return h, fmt.Errorf("missing header field %q", "Start time")
	}
	h.startTime, err = time.Parse("20060102 15:04:05.000000", strings.TrimSpace(startTime))
	if err != nil {
		return h, fmt.Errorf("parsing start time: %w", err)
	}
	systemID, ok := f["System ID"]
	if !ok {
		return h, fmt.Errorf("missing header field %q", "System ID")
	}
	h.systemID = strings.TrimSpace(systemID)
	if v, ok := f["instrument_spectral_width"]; ok {
		h.instrumentSpectralWidth, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return h, err
		}
		h.hasInstrumentSpectralWidth = true
	}
	return h, nil
}

func requireInt(f map[string]string, key string) (int, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing header field %q", key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parsing header field %q: %w", key, err)
	}
	return n, nil
}

func requireFloat(f map[string]string, key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing header field %q", key)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing header field %q: %w", key, err)
	}
	return n, nil
}

func readData(data []byte, h header) (raw.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return raw.Record{}, fmt.Errorf("no data found")
	}
	data = bytes.ReplaceAll(data, []byte{0}, nil)
	lines := bytes.Split(data, []byte("\r\n"))

	// Tolerant alignment: skip leading lines until the second line's
	// first token reads gate index 0 (some files have a stray leading
	// byte or partial profile).
	i := 0
	for i+1 < len(lines) && firstToken(lines[i+1]) != "0" {
		i++
	}
	lines = lines[i:]

	j := len(lines) - 1
	for j-1 >= 0 && h.ngates > 1 && tokenCount(lines[j]) != tokenCount(lines[j-1]) {
		j--
	}
	lines = lines[:j+1]

	blockSize := h.ngates + 1
	if trailing := len(lines) % blockSize; trailing > 0 {
		lines = lines[:len(lines)-trailing]
	}
	if blockSize == 0 || len(lines) == 0 {
		return raw.Record{}, fmt.Errorf("no complete profile blocks found")
	}

	ntimes := len(lines) / blockSize
	decimalTime := make([]float64, ntimes)
	azimuth := make([]float64, ntimes)
	elevation := make([]float64, ntimes)
	var pitch, roll []float64

	hasExtraCols := false
	for t := 0; t < ntimes; t++ {
		fields, err := parseFloats(lines[t*blockSize])
		if err != nil {
			return raw.Record{}, fmt.Errorf("parsing profile header line %d: %w", t, err)
		}
		if len(fields) < 3 {
			return raw.Record{}, fmt.Errorf("profile header line %d has too few fields", t)
		}
		decimalTime[t] = fields[0]
		azimuth[t] = fields[1]
		elevation[t] = fields[2]
		if len(fields) > 3 {
			if !hasExtraCols {
				pitch = make([]float64, ntimes)
				roll = make([]float64, ntimes)
				hasExtraCols = true
			}
			pitch[t] = fields[3]
		}
		if len(fields) > 4 {
			roll[t] = fields[4]
		}
	}

	radialVelocity := geo.NewArray2(ntimes, h.ngates)
	intensity := geo.NewArray2(ntimes, h.ngates)
	beta := geo.NewArray2(ntimes, h.ngates)
	var spectralWidth geo.Array2
	hasSpectralWidth := false

	for t := 0; t < ntimes; t++ {
		for g := 0; g < h.ngates; g++ {
			lineIdx := t*blockSize + 1 + g
			fields, err := parseFloats(lines[lineIdx])
			if err != nil {
				return raw.Record{}, fmt.Errorf("parsing gate line %d: %w", lineIdx, err)
			}
			if len(fields) < 4 {
				return raw.Record{}, fmt.Errorf("gate line %d has too few fields", lineIdx)
			}
			gateIdx := int(math.Round(fields[0]))
			if gateIdx != g {
				return raw.Record{}, fmt.Errorf("gate index mismatch at line %d: got %d want %d", lineIdx, gateIdx, g)
			}
			radialVelocity.Set(t, g, fields[1])
			intensity.Set(t, g, fields[2])
			beta.Set(t, g, fields[3])
			if len(fields) > 4 {
				if !hasSpectralWidth {
					spectralWidth = geo.NewArray2(ntimes, h.ngates)
					hasSpectralWidth = true
				}
				spectralWidth.Set(t, g, fields[4])
			}
		}
	}

	radialDistance := make([]float64, h.ngates)
	for g := range radialDistance {
		radialDistance[g] = (float64(g) + 0.5) * h.rangeGateLength
	}

	startOfDay := time.Date(h.startTime.Year(), h.startTime.Month(), h.startTime.Day(), 0, 0, 0, 0, time.UTC)
	timeUs := make([]int64, ntimes)
	for t, hrs := range decimalTime {
		us := startOfDay.UnixMicro() + int64(math.Round(hrs*3600e6))
		timeUs[t] = us
	}

	rec := raw.Record{
		Family:         instrument.Halo,
		Fingerprint:    h.fingerprint(),
		SystemID:       h.systemID,
		Time:           timeUs,
		RadialDistance: radialDistance,
		Azimuth:        azimuth,
		Elevation:      elevation,
		RadialVelocity: radialVelocity,
		Intensity:      intensity,
		BetaRaw:        beta,
		SpectralWidth:  spectralWidth,
		Pitch:          pitch,
		Roll:           roll,
		FocusRangeM:    float64(h.focusRange),
	}
	return rec, nil
}

func firstToken(line []byte) string {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return string(fields[0])
}

func tokenCount(line []byte) int { return len(bytes.Fields(line)) }

func parseFloats(line []byte) ([]float64, error) {
	fields := bytes.Fields(line)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(string(f), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
