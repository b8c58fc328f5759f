package windcube

import (
	"fmt"
	"math"
	"time"

	"github.com/atmos-lidar/lidarcore/geo"
	"github.com/atmos-lidar/lidarcore/instrument"
	"github.com/atmos-lidar/lidarcore/lidarerr"
	"github.com/atmos-lidar/lidarcore/raw"
)

const component = "raw/windcube"

// DecodeRecord returns a decoder that reads one WindCube sweep-group file:
// a classic-format netCDF file
// carrying the variables a single HDF5 sweep group holds in the
// instrument's native output (time, azimuth, elevation, cnr,
// relative_beta, radial_wind_speed, radial_wind_speed_ci,
// doppler_spectrum_width, ray_accumulation_time, range, measurement_height),
// with the same unit strings the native reader validates ("m s-1", "dB",
// "percent", "degrees", "m", "m-1 sr-1", "ms"). scanIndex is the sweep's
// position among the Source list passed to Ingest; callers decoding a
// multi-sweep VAD should pass each file's index in file order so the
// resulting ScanIndex lines up with Merge's offsetting.
func DecodeRecord(scanIndex int64) func(raw.Source) (raw.Record, error) {
	return func(src raw.Source) (raw.Record, error) {
		f, err := Decode(src.Bytes)
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}

		t, err := extractTime(f)
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		az, err := extractFloat(f, "azimuth", []string{"time"}, "degrees")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		el, err := extractFloat(f, "elevation", []string{"time"}, "degrees")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		cnrFlat, err := extractFloat(f, "cnr", []string{"time", "gate_index"}, "dB")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		for i, db := range cnrFlat {
			cnrFlat[i] = math.Pow(10, 0.1*db)
		}
		rwsFlat, err := extractFloat(f, "radial_wind_speed", []string{"time", "gate_index"}, "m s-1")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		ciFlat, err := extractFloat(f, "radial_wind_speed_ci", []string{"time", "gate_index"}, "percent")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		betaFlat, err := extractFloat(f, "relative_beta", []string{"time", "gate_index"}, "m-1 sr-1")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		spectralWidthFlat, err := extractFloat(f, "doppler_spectrum_width", []string{"time", "gate_index"}, "m s-1")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		rayAccumulationMs, err := extractScalar(f, "ray_accumulation_time", "ms")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}
		rng, err := extractInt(f, "range", "m")
		if err != nil {
			return raw.Record{}, lidarerr.New(lidarerr.RawParsing, component, src.Name, err)
		}

		nTime := len(t)
		nGates := 0
		if nTime > 0 {
			nGates = len(rwsFlat) / nTime
		}
		if nGates != len(rng) {
			return raw.Record{}, lidarerr.Newf(lidarerr.Shape, component, src.Name,
				"radial_wind_speed gate count %d disagrees with range length %d", nGates, len(rng))
		}

		scanIdx := make([]int64, nTime)
		for i := range scanIdx {
			scanIdx[i] = scanIndex
		}

		return raw.Record{
			Family:         instrument.WindCubeScanning,
			SystemID:       "",
			Time:           t,
			RadialDistance: rng,
			Azimuth:        az,
			Elevation:      el,
			RadialVelocity: geo.Array2{Rows: nTime, Cols: nGates, Data: rwsFlat},
			CNR:            geo.Array2{Rows: nTime, Cols: nGates, Data: cnrFlat},
			RadialVelocityConfidence: geo.Array2{
				Rows: nTime, Cols: nGates, Data: ciFlat,
			},
			BetaRaw:               geo.Array2{Rows: nTime, Cols: nGates, Data: betaFlat},
			SpectralWidth:         geo.Array2{Rows: nTime, Cols: nGates, Data: spectralWidthFlat},
			RayAccumulationTimeMs: rayAccumulationMs,
			ScanIndex:             scanIdx,
		}, nil
	}
}

func extractTime(f *File) ([]int64, error) {
	v, ok := f.Var("time")
	if !ok {
		return nil, fmt.Errorf("variable \"time\" not found")
	}
	if len(v.DimIDs) != 1 {
		return nil, fmt.Errorf("unexpected dimensions for time")
	}
	units := v.Units()
	epoch, step, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	secs, err := f.Float64("time")
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(secs))
	for i, v := range secs {
		out[i] = epoch + int64(v*step)
	}
	return out, nil
}

// parseTimeUnits parses a CF "seconds since 1970-01-01T00:00:00Z" style
// units string into a microsecond epoch offset and a microseconds-per-unit
// step. Only "seconds since ..." units are supported; any other unit is
// rejected with an error.
func parseTimeUnits(units string) (epochUs int64, usPerUnit float64, err error) {
	const prefix = "seconds since "
	if len(units) <= len(prefix) || units[:len(prefix)] != prefix {
		return 0, 0, fmt.Errorf("unsupported time units %q", units)
	}
	epochStr := units[len(prefix):]
	layouts := []string{"2006-01-02T15:04:05Z", "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	var epoch time.Time
	parsed := false
	for _, layout := range layouts {
		if t, e := time.Parse(layout, epochStr); e == nil {
			epoch = t
			parsed = true
			break
		}
	}
	if !parsed {
		return 0, 0, fmt.Errorf("unparsable epoch in time units %q", units)
	}
	return epoch.UnixMicro(), 1_000_000, nil
}

func extractFloat(f *File, name string, wantDims []string, wantUnits string) ([]float64, error) {
	v, ok := f.Var(name)
	if !ok {
		return nil, fmt.Errorf("variable %q not found", name)
	}
	if len(v.DimIDs) != len(wantDims) {
		return nil, fmt.Errorf("unexpected dimensions for %s", name)
	}
	for i, id := range v.DimIDs {
		if f.Dims[id].Name != wantDims[i] {
			return nil, fmt.Errorf("unexpected dimensions for %s", name)
		}
	}
	if v.Units() != wantUnits {
		return nil, fmt.Errorf("unexpected units for %s: got %q want %q", name, v.Units(), wantUnits)
	}
	return f.Float64(name)
}

// extractScalar reads a zero-dimensional variable (spec §4.R.4's
// "ray_accumulation_time (ms scalar)"), validating its units.
func extractScalar(f *File, name string, wantUnits string) (float64, error) {
	v, ok := f.Var(name)
	if !ok {
		return 0, fmt.Errorf("variable %q not found", name)
	}
	if len(v.DimIDs) != 0 {
		return 0, fmt.Errorf("expected %s to be a scalar, got %d dimensions", name, len(v.DimIDs))
	}
	if v.Units() != wantUnits {
		return 0, fmt.Errorf("unexpected units for %s: got %q want %q", name, v.Units(), wantUnits)
	}
	vals, err := f.Float64(name)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("expected exactly one value for scalar %s, got %d", name, len(vals))
	}
	return vals[0], nil
}

func extractInt(f *File, name string, wantUnits string) ([]float64, error) {
	v, ok := f.Var(name)
	if !ok {
		return nil, fmt.Errorf("variable %q not found", name)
	}
	if v.Units() != wantUnits {
		return nil, fmt.Errorf("unexpected units for %s: got %q want %q", name, v.Units(), wantUnits)
	}
	vals, err := f.Float64(name)
	if err != nil {
		return nil, err
	}
	return vals, nil
}
