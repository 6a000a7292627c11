// Package emissions converts burned fuel into emitted mass and derives the
// CII and EEXI indicators. Ratings are advisory output only.
package emissions

import (
	"errors"
	"fmt"
	"sort"

	"voyageopt/internal/config"
	"voyageopt/internal/vessel"
)

// Totals are emitted masses in tonnes.
type Totals struct {
	CO2T float64 `json:"co2T"`
	SOxT float64 `json:"soxT"`
	NOxT float64 `json:"noxT"`
	PMT  float64 `json:"pmT"`
}

func (t Totals) Add(o Totals) Totals {
	return Totals{CO2T: t.CO2T + o.CO2T, SOxT: t.SOxT + o.SOxT, NOxT: t.NOxT + o.NOxT, PMT: t.PMT + o.PMT}
}

func (t Totals) Sub(o Totals) Totals {
	return Totals{CO2T: t.CO2T - o.CO2T, SOxT: t.SOxT - o.SOxT, NOxT: t.NOxT - o.NOxT, PMT: t.PMT - o.PMT}
}

// ErrUnknownFuel is returned when no emission factors exist for a fuel type.
var ErrUnknownFuel = errors.New("no emission factors for fuel type")

type Calculator struct {
	cfg config.Emissions
}

func New(cfg config.Emissions) *Calculator { return &Calculator{cfg: cfg} }

// Compute applies the configured factors to a fuel mass per fuel type.
// Fuel types are visited in sorted order so sums are reproducible.
func (c *Calculator) Compute(fuelByType map[string]float64) (Totals, error) {
	keys := make([]string, 0, len(fuelByType))
	for k := range fuelByType {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out Totals
	for _, k := range keys {
		f, ok := c.cfg.Factors[k]
		if !ok {
			return Totals{}, fmt.Errorf("%w: %s", ErrUnknownFuel, k)
		}
		t := fuelByType[k]
		// factors are grams per tonne of fuel
		out = out.Add(Totals{CO2T: t * f.CO2 / 1e6, SOxT: t * f.SOx / 1e6, NOxT: t * f.NOx / 1e6, PMT: t * f.PM / 1e6})
	}
	return out, nil
}

// Rating is a CII band.
type Rating string

const (
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
	RatingE Rating = "E"
)

var ratings = []Rating{RatingA, RatingB, RatingC, RatingD, RatingE}

func rank(r Rating) int {
	for i, x := range ratings {
		if x == r {
			return i
		}
	}
	return len(ratings)
}

// CII is an attained carbon intensity against its reference.
type CII struct {
	AttainedAER  float64 `json:"attainedAer"`
	ReferenceAER float64 `json:"referenceAer"`
	Ratio        float64 `json:"ratio"`
	Rating       Rating  `json:"rating"`
}

func (c *Calculator) reference(table map[string]float64, vesselType string) float64 {
	if v, ok := table[vesselType]; ok {
		return v
	}
	return table["default"]
}

// CII computes the annual efficiency ratio in grams CO2 per deadweight-tonne
// nautical mile and rates it against the reference for the vessel type.
func (c *Calculator) CII(vesselType string, dwt, distanceNM, co2T float64) (CII, error) {
	util := c.cfg.Utilization
	if util <= 0 {
		util = 1
	}
	if dwt <= 0 || distanceNM <= 0 {
		return CII{}, fmt.Errorf("cii needs positive dwt and distance, got dwt=%v distance=%v", dwt, distanceNM)
	}
	ref := c.reference(c.cfg.CIIReference, vesselType)
	if ref <= 0 {
		return CII{}, fmt.Errorf("no cii reference for vessel type %q", vesselType)
	}
	aer := co2T * 1e6 / (dwt * util * distanceNM)
	ratio := aer / ref
	return CII{AttainedAER: aer, ReferenceAER: ref, Ratio: ratio, Rating: c.rate(ratio)}, nil
}

func (c *Calculator) rate(ratio float64) Rating {
	for i, th := range c.cfg.CIIThresholds {
		if ratio < th {
			return ratings[i]
		}
	}
	return RatingE
}

// RatingDelta describes the move from one CII to another. Steps is positive
// when the rating improves.
type RatingDelta struct {
	Before      Rating  `json:"before"`
	After       Rating  `json:"after"`
	RatioChange float64 `json:"ratioChange"`
	Steps       int     `json:"steps"`
	Improved    bool    `json:"improved"`
}

func CompareCII(before, after CII) RatingDelta {
	steps := rank(before.Rating) - rank(after.Rating)
	return RatingDelta{
		Before:      before.Rating,
		After:       after.Rating,
		RatioChange: after.Ratio - before.Ratio,
		Steps:       steps,
		Improved:    after.Ratio < before.Ratio,
	}
}

// EEXI is the attained technical efficiency index and its requirement.
type EEXI struct {
	Attained  float64 `json:"attained"`
	Required  float64 `json:"required"`
	Compliant bool    `json:"compliant"`
}

// EEXI estimates the attained index from 75% of installed power at the
// reference speed. ok is false when power or SFC is unknown.
func (c *Calculator) EEXI(p vessel.Profile) (EEXI, bool) {
	if p.MaxPowerKW <= 0 || p.SFCgPerKWh <= 0 || p.DeadweightT <= 0 || p.RefSpeedKn <= 0 {
		return EEXI{}, false
	}
	fuel := primaryFuel(p)
	f, ok := c.cfg.Factors[fuel]
	if !ok {
		return EEXI{}, false
	}
	cf := f.CO2 / 1e6 // t CO2 per t fuel == g per g
	attained := cf * p.SFCgPerKWh * 0.75 * p.MaxPowerKW / (p.DeadweightT * p.RefSpeedKn)
	req := c.reference(c.cfg.EEXIReference, p.Type)
	return EEXI{Attained: attained, Required: req, Compliant: req <= 0 || attained <= req}, true
}

func primaryFuel(p vessel.Profile) string {
	best, bestF := "", -1.0
	for _, ft := range p.FuelTypes() {
		if f := p.Mix()[ft]; f > bestF {
			best, bestF = ft, f
		}
	}
	return best
}

// ForecastPoint is the annual outcome at one service speed.
type ForecastPoint struct {
	SpeedKn float64 `json:"speedKn"`
	FuelT   float64 `json:"fuelT"`
	CO2T    float64 `json:"co2T"`
	CII     CII     `json:"cii"`
}

// Forecast compares the annual compliance position at two service speeds.
type Forecast struct {
	Current    ForecastPoint `json:"current"`
	Proposed   ForecastPoint `json:"proposed"`
	Delta      RatingDelta   `json:"delta"`
	FuelSavedT float64       `json:"fuelSavedT"`
	CO2SavedT  float64       `json:"co2SavedT"`
}

// ComplianceForecast projects a year of calm-water sailing over
// annualDistanceNM at the current and proposed speeds.
func (c *Calculator) ComplianceForecast(m *vessel.Model, annualDistanceNM, currentKn, proposedKn float64) (Forecast, error) {
	if annualDistanceNM <= 0 || currentKn <= 0 || proposedKn <= 0 {
		return Forecast{}, errors.New("forecast needs positive distance and speeds")
	}
	point := func(v float64) (ForecastPoint, error) {
		rate, _ := m.FuelRate(v)
		fuel := rate * annualDistanceNM / v / 24
		tot, err := c.Compute(m.Profile().Split(fuel))
		if err != nil {
			return ForecastPoint{}, err
		}
		cii, err := c.CII(m.Profile().Type, m.Profile().DeadweightT, annualDistanceNM, tot.CO2T)
		if err != nil {
			return ForecastPoint{}, err
		}
		return ForecastPoint{SpeedKn: v, FuelT: fuel, CO2T: tot.CO2T, CII: cii}, nil
	}
	cur, err := point(currentKn)
	if err != nil {
		return Forecast{}, err
	}
	prop, err := point(proposedKn)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{
		Current:    cur,
		Proposed:   prop,
		Delta:      CompareCII(cur.CII, prop.CII),
		FuelSavedT: cur.FuelT - prop.FuelT,
		CO2SavedT:  cur.CO2T - prop.CO2T,
	}, nil
}
