package opt

import (
	"sort"
	"time"

	"voyageopt/internal/cost"
	"voyageopt/internal/emissions"
	"voyageopt/internal/legcost"
	"voyageopt/internal/route"
	"voyageopt/internal/schedule"
)

// Totals aggregates a plan's legs. FuelT is the sum of the leg fuel in leg
// order and is never computed any other way.
type Totals struct {
	DistanceNM float64            `json:"distanceNm"`
	DurationH  float64            `json:"durationH"`
	FuelT      float64            `json:"fuelT"`
	FuelByType map[string]float64 `json:"fuelByType"`
	Emissions  emissions.Totals   `json:"emissions"`
	Cost       cost.Breakdown     `json:"cost"`
}

// Baseline is the reference-speed plan the recommendation is measured against.
type Baseline struct {
	Label   string         `json:"label"`
	Path    []route.NodeID `json:"path"`
	SpeedKn float64        `json:"speedKn"`
	Totals  Totals         `json:"totals"`
	CII     *emissions.CII `json:"cii,omitempty"`
}

// Deltas are plan minus baseline. Negative values are savings.
type Deltas struct {
	FuelT     float64                `json:"fuelT"`
	FuelPct   float64                `json:"fuelPct"`
	DurationH float64                `json:"durationH"`
	Emissions emissions.Totals       `json:"emissions"`
	Cost      cost.Delta             `json:"cost"`
	CII       *emissions.RatingDelta `json:"cii,omitempty"`
}

// Berth describes how a plan meets its berth window.
type Berth struct {
	Window schedule.Window `json:"window"`
	Edge   string          `json:"edge"`
	WaitH  float64         `json:"waitH"`
}

// VoyagePlan is the engine's answer for one request. It carries no ids and
// no wall-clock time so identical requests encode to identical bytes.
type VoyagePlan struct {
	Label        string              `json:"label"`
	Rank         int                 `json:"rank,omitempty"`
	Vessel       string              `json:"vessel"`
	Policy       string              `json:"policy"`
	Path         []route.NodeID      `json:"path"`
	SpeedProfile []schedule.LegSpeed `json:"speedProfile"`
	Legs         []legcost.Result    `json:"legs"`
	DepartAt     time.Time           `json:"departAt"`
	ArrivalAt    time.Time           `json:"arrivalAt"`
	Deadline     *time.Time          `json:"deadline,omitempty"`
	Berth        *Berth              `json:"berth,omitempty"`
	Totals       Totals              `json:"totals"`
	CII          *emissions.CII      `json:"cii,omitempty"`
	Baseline     *Baseline           `json:"baseline,omitempty"`
	Deltas       *Deltas             `json:"deltas,omitempty"`
	Advisories   []legcost.Advisory  `json:"advisories,omitempty"`
	Partial      bool                `json:"partial"`
}

// sumLegs totals fuel, time, distance and emissions in leg order.
func sumLegs(legs []legcost.Result) Totals {
	t := Totals{FuelByType: map[string]float64{}}
	for _, l := range legs {
		t.DistanceNM += l.DistanceNM
		t.DurationH += l.DurationH
		t.FuelT += l.FuelT
		t.Emissions = t.Emissions.Add(l.Emissions)
		types := make([]string, 0, len(l.FuelByType))
		for ft := range l.FuelByType {
			types = append(types, ft)
		}
		sort.Strings(types)
		for _, ft := range types {
			t.FuelByType[ft] += l.FuelByType[ft]
		}
	}
	return t
}

func profileFrom(legs []legcost.Result, steps []route.Step) []schedule.LegSpeed {
	out := make([]schedule.LegSpeed, len(legs))
	for i, l := range legs {
		out[i] = schedule.LegSpeed{Leg: steps[i].Leg, SpeedKn: l.SpeedKn, DepartAt: steps[i].DepartAt, DurationH: l.DurationH, FuelT: l.FuelT}
	}
	return out
}

func arrival(depart time.Time, legs []legcost.Result) time.Time {
	at := depart
	for _, l := range legs {
		at = at.Add(hours(l.DurationH))
	}
	return at
}

func hours(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }
