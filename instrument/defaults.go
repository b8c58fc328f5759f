// Package instrument holds the process-wide physical constants that differ
// by instrument family (wavelength, receiver bandwidth, default pulse
// energy, telescope geometry, beam divergence). Per spec §9 these are the
// only global state in the core, so they are exposed as an immutable table
// keyed by Family rather than mutable package variables — the same shape as
// the teacher's BackgroundConfig/DefaultBackgroundConfig pattern
// (internal/lidar/config.go), just keyed instead of singular.
package instrument

// Family identifies an instrument model whose physical defaults differ.
type Family string

const (
	Halo             Family = "halo"
	WindCubeFixed    Family = "windcube_fixed"
	WindCubeScanning Family = "windcube_scanning"
	WLS70            Family = "wls70"
	WLS77            Family = "wls77"
)

// Defaults carries the physical constants used by the β formula (spec
// §4.S). The turbulence product does not read this table; its default
// Options carry their own constants.
type Defaults struct {
	// WavelengthM is the laser wavelength in meters.
	WavelengthM float64
	// ReceiverBandwidthHz is B in the β formula.
	ReceiverBandwidthHz float64
	// DefaultPulseEnergyJ is E in the β formula.
	DefaultPulseEnergyJ float64
	// TelescopeDiameterM is D in the β formula.
	TelescopeDiameterM float64
	// FocusRangeM is f in the β formula, the telescope focus distance.
	FocusRangeM float64
	// HeterodyneEfficiency is η in the β formula.
	HeterodyneEfficiency float64
	// BeamDivergenceRad is the half-angle beam divergence. No package
	// reads it; the turbulence L_lower term uses turbulence.Options.
	BeamDivergenceRad float64
}

// defaultTable is immutable after package initialisation: every lookup
// returns a copy of the stored value, never a pointer into the map.
var defaultTable = map[Family]Defaults{
	Halo: {
		WavelengthM:          1.5e-6,
		ReceiverBandwidthHz:  5e7,
		DefaultPulseEnergyJ:  1e-5,
		TelescopeDiameterM:   0.025,
		FocusRangeM:          0,
		HeterodyneEfficiency: 1,
		BeamDivergenceRad:    1.8e-3,
	},
	WindCubeFixed: {
		WavelengthM:          1.545e-6,
		ReceiverBandwidthHz:  5e7,
		DefaultPulseEnergyJ:  1e-5,
		TelescopeDiameterM:   0.05,
		FocusRangeM:          0,
		HeterodyneEfficiency: 1,
		BeamDivergenceRad:    2.5e-3,
	},
	WindCubeScanning: {
		WavelengthM:          1.545e-6,
		ReceiverBandwidthHz:  5e7,
		DefaultPulseEnergyJ:  1e-5,
		TelescopeDiameterM:   0.05,
		FocusRangeM:          0,
		HeterodyneEfficiency: 1,
		BeamDivergenceRad:    2.5e-3,
	},
	WLS70: {
		WavelengthM:          1.545e-6,
		ReceiverBandwidthHz:  5e7,
		DefaultPulseEnergyJ:  1e-5,
		TelescopeDiameterM:   0.05,
		FocusRangeM:          0,
		HeterodyneEfficiency: 1,
		BeamDivergenceRad:    2.5e-3,
	},
	WLS77: {
		WavelengthM:          1.545e-6,
		ReceiverBandwidthHz:  5e7,
		DefaultPulseEnergyJ:  1e-5,
		TelescopeDiameterM:   0.05,
		FocusRangeM:          0,
		HeterodyneEfficiency: 1,
		BeamDivergenceRad:    2.5e-3,
	},
}

// Lookup returns the physical defaults for a family. ok is false for an
// unrecognised family; callers should treat that as a Contract violation.
func Lookup(f Family) (Defaults, bool) {
	d, ok := defaultTable[f]
	return d, ok
}
