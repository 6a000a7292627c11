// Package vessel models how fast a ship burns fuel and how hard its main
// engine works at a given speed through water.
//
// The fuel law is cubic in speed around the reference point. Below the
// hull-resistance floor the cubic law is not trusted: the rate is extended
// linearly from the floor and a RangeWarning is attached. Engine load follows
// the propeller law (RPM proportional to speed) and is reported as a fraction
// of max RPM.
package vessel

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"voyageopt/internal/config"
)

// Profile is the immutable description of one vessel.
type Profile struct {
	Name                string             `json:"name" yaml:"name"`
	Type                string             `json:"type" yaml:"type"`
	DeadweightT         float64            `json:"deadweightT" yaml:"deadweightT"`
	HullResistanceCoeff float64            `json:"hullResistanceCoeff" yaml:"hullResistanceCoeff"`
	RefSpeedKn          float64            `json:"refSpeedKn" yaml:"refSpeedKn"`
	RefRPM              float64            `json:"refRpm" yaml:"refRpm"`
	RefFuelRateTPD      float64            `json:"refFuelRateTpd" yaml:"refFuelRateTpd"`
	MaxRPM              float64            `json:"maxRpm" yaml:"maxRpm"`
	MaxSpeedKn          float64            `json:"maxSpeedKn" yaml:"maxSpeedKn"`
	MinSpeedKn          float64            `json:"minSpeedKn" yaml:"minSpeedKn"`
	FuelMix             map[string]float64 `json:"fuelMix" yaml:"fuelMix"`
	FuelCapacityT       float64            `json:"fuelCapacityT,omitempty" yaml:"fuelCapacityT"`
	MaxPowerKW          float64            `json:"maxPowerKw,omitempty" yaml:"maxPowerKw"`
	SFCgPerKWh          float64            `json:"sfcGPerKwh,omitempty" yaml:"sfcGPerKwh"`
}

// SampleContainer returns the 100k DWT container ship used in demos and tests.
func SampleContainer() Profile {
	return Profile{
		Name:                "MV Sample Express",
		Type:                "container",
		DeadweightT:         100000,
		HullResistanceCoeff: 1,
		RefSpeedKn:          20,
		RefRPM:              80,
		RefFuelRateTPD:      180,
		MaxRPM:              100,
		MaxSpeedKn:          25,
		MinSpeedKn:          10,
		FuelMix:             map[string]float64{"VLSFO": 1},
		FuelCapacityT:       4000,
		MaxPowerKW:          60000,
		SFCgPerKWh:          175,
	}
}

// Validate checks physical sanity of the profile.
func (p Profile) Validate() error {
	var errs []error
	if p.DeadweightT <= 0 {
		errs = append(errs, errors.New("deadweightT must be > 0"))
	}
	if p.RefSpeedKn <= 0 || p.RefRPM <= 0 || p.RefFuelRateTPD <= 0 {
		errs = append(errs, errors.New("reference speed, rpm and fuel rate must be > 0"))
	}
	if p.MaxRPM <= 0 {
		errs = append(errs, errors.New("maxRpm must be > 0"))
	}
	if p.HullResistanceCoeff < 0 {
		errs = append(errs, errors.New("hullResistanceCoeff must be >= 0"))
	}
	if p.MinSpeedKn < 0 {
		errs = append(errs, errors.New("minSpeedKn must be >= 0"))
	}
	if top := p.maxSpeed(); top > 0 && p.MinSpeedKn >= top {
		errs = append(errs, fmt.Errorf("minSpeedKn %.2f must be below max speed %.2f", p.MinSpeedKn, top))
	}
	sum := 0.0
	for ft, f := range p.FuelMix {
		if f < 0 {
			errs = append(errs, fmt.Errorf("fuel mix fraction for %s is negative", ft))
		}
		sum += f
	}
	if len(p.FuelMix) > 0 && math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("fuel mix fractions must sum to 1, got %.6f", sum))
	}
	return errors.Join(errs...)
}

func (p Profile) maxSpeed() float64 {
	if p.MaxSpeedKn > 0 {
		return p.MaxSpeedKn
	}
	if p.RefRPM > 0 {
		return p.RefSpeedKn * p.MaxRPM / p.RefRPM
	}
	return 0
}

// Mix returns the fuel mix, defaulting to VLSFO only.
func (p Profile) Mix() map[string]float64 {
	if len(p.FuelMix) == 0 {
		return map[string]float64{"VLSFO": 1}
	}
	return p.FuelMix
}

// FuelTypes returns the mix keys in sorted order.
func (p Profile) FuelTypes() []string {
	mix := p.Mix()
	out := make([]string, 0, len(mix))
	for k := range mix {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ErrOutOfValidRange is matched by RangeWarning via errors.Is.
var ErrOutOfValidRange = errors.New("speed outside the valid range of the fuel model")

// RangeWarning reports that a speed fell outside the range where the cubic
// fuel law holds. The accompanying rate is an extrapolation.
type RangeWarning struct {
	SpeedKn float64
	FloorKn float64
	MaxKn   float64
}

func (w *RangeWarning) Error() string {
	if w.SpeedKn < w.FloorKn {
		return fmt.Sprintf("speed %.2f kn below hull-resistance floor %.2f kn: fuel rate extrapolated", w.SpeedKn, w.FloorKn)
	}
	return fmt.Sprintf("speed %.2f kn above max speed %.2f kn: fuel rate extrapolated", w.SpeedKn, w.MaxKn)
}

func (w *RangeWarning) Unwrap() error { return ErrOutOfValidRange }

// Model evaluates a Profile under an engine configuration.
type Model struct {
	p     Profile
	band  config.Band
	floor float64
	min   float64
	max   float64
}

// New validates p and binds it to the band and hull floor of cfg.
func New(p Profile, cfg config.Engine) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("vessel %q: %w", p.Name, err)
	}
	floor := cfg.HullFloorKn
	if floor >= p.RefSpeedKn {
		return nil, fmt.Errorf("vessel %q: hull-resistance floor %.2f kn must be below reference speed %.2f kn", p.Name, floor, p.RefSpeedKn)
	}
	lo := p.MinSpeedKn
	if lo <= 0 {
		lo = 0.25 * p.RefSpeedKn
	}
	return &Model{p: p, band: cfg.Band, floor: floor, min: lo, max: p.maxSpeed()}, nil
}

// Profile returns the bound vessel profile.
func (m *Model) Profile() Profile { return m.p }

// FloorKn is the hull-resistance floor in effect.
func (m *Model) FloorKn() float64 { return m.floor }

// FuelRate returns tonnes per day at speed v through water. A non-nil warning
// means v is outside [floor, max] and the rate was extrapolated.
func (m *Model) FuelRate(v float64) (float64, *RangeWarning) {
	var w *RangeWarning
	if v < m.floor || v > m.max {
		w = &RangeWarning{SpeedKn: v, FloorKn: m.floor, MaxKn: m.max}
	}
	return m.rate(v), w
}

func (m *Model) rate(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v < m.floor {
		return m.cubic(m.floor) * v / m.floor
	}
	return m.cubic(v)
}

func (m *Model) cubic(v float64) float64 {
	r := v / m.p.RefSpeedKn
	return m.p.RefFuelRateTPD * r * r * r
}

// FuelRateSlope returns d(rate)/dv in tonnes per day per knot.
func (m *Model) FuelRateSlope(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v < m.floor {
		return m.cubic(m.floor) / m.floor
	}
	return 3 * m.cubic(v) / v
}

// EngineLoad returns RPM as a fraction of max RPM at speed v.
func (m *Model) EngineLoad(v float64) float64 {
	return m.p.RefRPM * v / m.p.RefSpeedKn / m.p.MaxRPM
}

// SpeedAtLoad inverts EngineLoad.
func (m *Model) SpeedAtLoad(load float64) float64 {
	return load * m.p.MaxRPM * m.p.RefSpeedKn / m.p.RefRPM
}

const bandEps = 1e-9

// IsEfficient reports whether v keeps the engine inside the efficient-load
// band. Both band edges count as efficient.
func (m *Model) IsEfficient(v float64) bool {
	l := m.EngineLoad(v)
	return l >= m.band.Min-bandEps && l <= m.band.Max+bandEps
}

// BandSpeeds returns the speed interval mapped to the efficient-load band.
func (m *Model) BandSpeeds() (lo, hi float64) {
	return m.SpeedAtLoad(m.band.Min), m.SpeedAtLoad(m.band.Max)
}

// NavigableRange returns the allowed speed interval through water.
func (m *Model) NavigableRange() (lo, hi float64) { return m.min, m.max }

// OperatingPoint bundles everything the model knows about one speed.
type OperatingPoint struct {
	SpeedKn     float64       `json:"speedKn"`
	FuelRateTPD float64       `json:"fuelRateTpd"`
	EngineLoad  float64       `json:"engineLoad"`
	Efficient   bool          `json:"efficient"`
	Warning     *RangeWarning `json:"-"`
}

func (m *Model) OperatingPoint(v float64) OperatingPoint {
	rate, w := m.FuelRate(v)
	return OperatingPoint{SpeedKn: v, FuelRateTPD: rate, EngineLoad: m.EngineLoad(v), Efficient: m.IsEfficient(v), Warning: w}
}

// Split divides a fuel mass across the profile's fuel mix.
func (p Profile) Split(tonnes float64) map[string]float64 {
	out := map[string]float64{}
	for ft, f := range p.Mix() {
		out[ft] = tonnes * f
	}
	return out
}
