// Package legcost turns one leg, one speed through water and the sampled
// environment into fuel, time and emissions.
//
// A leg is cut into segments no longer than the configured maximum. Each
// segment uses the environment at its midpoint:
//
//	sog    = v*(1-waveLoss) + currentAlong + windDrift*windAlong
//	factor = 1 + hull*(windRes*headwind + waveRes*Hs^2)
//	hours  = d / sog
//	fuel   = rate(v) * factor * hours / 24
//
// The engine runs at v, so the vessel model is evaluated at v and the added
// resistance enters through factor. The speed made good (sog) sets the
// duration; a leg whose sog drops to zero or below cannot be sailed. Fuel
// is rate(v), not rate(sog): a current changes how long the engine burns,
// not how hard.
package legcost

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"voyageopt/internal/config"
	"voyageopt/internal/emissions"
	"voyageopt/internal/env"
	"voyageopt/internal/geo"
	"voyageopt/internal/vessel"
)

// Leg is one navigable edge between two waypoints.
type Leg struct {
	ID         string       `json:"id"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	Start      geo.Position `json:"start"`
	End        geo.Position `json:"end"`
	DistanceNM float64      `json:"distanceNm"`
}

// ErrInfeasibleLeg is matched by InfeasibleLegError.
var ErrInfeasibleLeg = errors.New("infeasible leg")

// InfeasibleLegError reports a segment where the opposing current/wind
// component meets or exceeds the vessel's speed.
type InfeasibleLegError struct {
	LegID       string
	Segment     int
	SpeedKn     float64
	EffectiveKn float64
	OpposingKn  float64
}

func (e *InfeasibleLegError) Error() string {
	return fmt.Sprintf("leg %s segment %d infeasible at %.2f kn: effective speed %.2f kn, opposing component %.2f kn",
		e.LegID, e.Segment, e.SpeedKn, e.EffectiveKn, e.OpposingKn)
}

func (e *InfeasibleLegError) Unwrap() error { return ErrInfeasibleLeg }

// Advisory codes.
const (
	AdvisoryOutOfRange   = "out_of_valid_range"
	AdvisoryInefficient  = "inefficient_load"
	AdvisoryClimatology  = "climatology_data"
	AdvisoryPartial      = "partial_result"
	AdvisoryBerthWait    = "berth_wait"
	AdvisoryBaseline     = "baseline_unavailable"
	AdvisoryDeadlineSlip = "deadline_slip"
	AdvisoryCost         = "cost_unavailable"
)

// Advisory is a non-fatal flag attached to a leg or a plan.
type Advisory struct {
	Code   string `json:"code"`
	LegID  string `json:"legId,omitempty"`
	Detail string `json:"detail"`
}

// Result is the cost of one (leg, speed, environment) triple.
type Result struct {
	LegID            string             `json:"legId"`
	From             string             `json:"from"`
	To               string             `json:"to"`
	SpeedKn          float64            `json:"speedKn"`
	DistanceNM       float64            `json:"distanceNm"`
	DurationH        float64            `json:"durationH"`
	EffectiveSpeedKn float64            `json:"effectiveSpeedKn"`
	FuelT            float64            `json:"fuelT"`
	FuelByType       map[string]float64 `json:"fuelByType"`
	Emissions        emissions.Totals   `json:"emissions"`
	EngineLoad       float64            `json:"engineLoad"`
	ResistanceFactor float64            `json:"resistanceFactor"`
	Advisories       []Advisory         `json:"advisories,omitempty"`
}

// Segment is the frozen environment effect on one stretch of a leg.
type Segment struct {
	DistanceNM float64
	Course     float64
	SpeedKeep  float64 // 1 - wave speed loss
	DriftKn    float64 // current and wind drift along the course
	Factor     float64 // resistance multiplier on the fuel rate
	Source     env.Source
}

// Kinematics is a leg with its environment frozen. The schedule optimizer
// works on these directly.
type Kinematics struct {
	Leg      Leg
	Segments []Segment
	model    *vessel.Model
}

type Evaluator struct {
	m    *vessel.Model
	cfg  config.Engine
	calc *emissions.Calculator
}

func New(m *vessel.Model, cfg config.Engine) *Evaluator {
	return &Evaluator{m: m, cfg: cfg, calc: emissions.New(cfg.Emissions)}
}

// Model returns the vessel model the evaluator is bound to.
func (e *Evaluator) Model() *vessel.Model { return e.m }

// Config returns the engine configuration in effect.
func (e *Evaluator) Config() config.Engine { return e.cfg }

// Segments returns how many pieces leg is cut into.
func (e *Evaluator) Segments(leg Leg) int {
	n := int(math.Ceil(leg.DistanceNM / e.cfg.Search.MaxSegmentNM))
	if n < 1 {
		n = 1
	}
	return n
}

// SampleKeys returns the environment queries needed to evaluate leg at speed
// v leaving at depart. Segment midpoint times assume calm water at v.
func (e *Evaluator) SampleKeys(leg Leg, v float64, depart time.Time) []env.Query {
	n := e.Segments(leg)
	seg := leg.DistanceNM / float64(n)
	out := make([]env.Query, n)
	for k := 0; k < n; k++ {
		f := (float64(k) + 0.5) / float64(n)
		hours := (float64(k) + 0.5) * seg / v
		out[k] = env.Query{
			Position: geo.Intermediate(leg.Start, leg.End, f),
			Time:     depart.Add(time.Duration(hours * float64(time.Hour))),
		}
	}
	return out
}

// Freeze binds samples (one per segment, in order) to leg.
func (e *Evaluator) Freeze(leg Leg, samples []env.Sample) (Kinematics, error) {
	n := e.Segments(leg)
	if len(samples) != n {
		return Kinematics{}, fmt.Errorf("leg %s: want %d samples, got %d", leg.ID, n, len(samples))
	}
	ec := e.cfg.Environment
	hull := e.m.Profile().HullResistanceCoeff
	segs := make([]Segment, n)
	d := leg.DistanceNM / float64(n)
	for k, s := range samples {
		a := geo.Intermediate(leg.Start, leg.End, float64(k)/float64(n))
		b := geo.Intermediate(leg.Start, leg.End, float64(k+1)/float64(n))
		course := geo.InitialBearing(a, b)
		windAlong := s.Wind.Along(course)
		headwind := math.Max(0, -windAlong)
		loss := math.Min(ec.MaxWaveLoss, ec.WaveSpeedLossPerM*math.Max(0, s.WaveHeightM-ec.WaveThresholdM))
		segs[k] = Segment{
			DistanceNM: d,
			Course:     course,
			SpeedKeep:  1 - loss,
			DriftKn:    s.Current.Along(course) + ec.WindDriftCoeff*windAlong,
			Factor:     1 + hull*(ec.WindResistanceCoeff*headwind+ec.WaveResistanceCoeff*s.WaveHeightM*s.WaveHeightM),
			Source:     s.Source,
		}
	}
	return Kinematics{Leg: leg, Segments: segs, model: e.m}, nil
}

// Calm returns leg kinematics without any environment effect.
func (e *Evaluator) Calm(leg Leg) Kinematics {
	n := e.Segments(leg)
	samples := make([]env.Sample, n)
	for i := range samples {
		samples[i].Source = env.SourceCalm
	}
	k, _ := e.Freeze(leg, samples)
	return k
}

// MinSpeed is the speed through water below which some segment makes no
// headway.
func (k Kinematics) MinSpeed() float64 {
	lo := 0.0
	for _, s := range k.Segments {
		if v := -s.DriftKn / s.SpeedKeep; v > lo {
			lo = v
		}
	}
	return lo
}

// Feasible reports whether every segment makes headway at v.
func (k Kinematics) Feasible(v float64) bool {
	for _, s := range k.Segments {
		if v*s.SpeedKeep+s.DriftKn <= 0 {
			return false
		}
	}
	return true
}

// Hours returns the leg duration at v; +Inf when infeasible.
func (k Kinematics) Hours(v float64) float64 {
	h := 0.0
	for _, s := range k.Segments {
		sog := v*s.SpeedKeep + s.DriftKn
		if sog <= 0 {
			return math.Inf(1)
		}
		h += s.DistanceNM / sog
	}
	return h
}

// Fuel returns tonnes burned on the leg at v; +Inf when infeasible.
func (k Kinematics) Fuel(v float64) float64 {
	rate, _ := k.model.FuelRate(v)
	f := 0.0
	for _, s := range k.Segments {
		sog := v*s.SpeedKeep + s.DriftKn
		if sog <= 0 {
			return math.Inf(1)
		}
		f += rate * s.Factor * s.DistanceNM / sog / 24
	}
	return f
}

// MarginalSaving is the fuel saved per extra hour spent on the leg at v,
// i.e. -dFuel/dHours.
func (k Kinematics) MarginalSaving(v float64) float64 {
	rate, _ := k.model.FuelRate(v)
	slope := k.model.FuelRateSlope(v)
	dF, dT := 0.0, 0.0
	for _, s := range k.Segments {
		sog := v*s.SpeedKeep + s.DriftKn
		if sog <= 0 {
			return math.Inf(1)
		}
		dF += s.Factor * s.DistanceNM / 24 * (slope/sog - rate*s.SpeedKeep/(sog*sog))
		dT += s.DistanceNM * s.SpeedKeep / (sog * sog)
	}
	if dT == 0 {
		return 0
	}
	return dF / dT
}

// SpeedForHours inverts Hours on [lo, hi] by bisection. The result is clamped
// to the interval when hours falls outside the reachable range.
func (k Kinematics) SpeedForHours(hours, lo, hi float64) float64 {
	if k.Hours(hi) >= hours {
		return hi
	}
	if k.Hours(lo) <= hours {
		return lo
	}
	for i := 0; i < 200 && hi-lo > 1e-12; i++ {
		mid := 0.5 * (lo + hi)
		if k.Hours(mid) > hours {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

// Evaluate costs leg at speed v given one sample per segment.
func (e *Evaluator) Evaluate(leg Leg, v float64, samples []env.Sample) (Result, error) {
	if v <= 0 {
		return Result{}, fmt.Errorf("leg %s: speed must be > 0, got %v", leg.ID, v)
	}
	k, err := e.Freeze(leg, samples)
	if err != nil {
		return Result{}, err
	}
	return e.Cost(k, v)
}

// Cost evaluates frozen kinematics at v.
func (e *Evaluator) Cost(k Kinematics, v float64) (Result, error) {
	leg := k.Leg
	rate, warn := e.m.FuelRate(v)
	var hours, fuel, calmFuel float64
	clim := 0
	for i, s := range k.Segments {
		sog := v*s.SpeedKeep + s.DriftKn
		if sog <= 0 {
			return Result{}, &InfeasibleLegError{LegID: leg.ID, Segment: i, SpeedKn: v, EffectiveKn: sog, OpposingKn: -s.DriftKn}
		}
		h := s.DistanceNM / sog
		hours += h
		fuel += rate * s.Factor * h / 24
		calmFuel += rate * h / 24
		if s.Source == env.SourceClimatology {
			clim++
		}
	}
	res := Result{
		LegID:            leg.ID,
		From:             leg.From,
		To:               leg.To,
		SpeedKn:          v,
		DistanceNM:       leg.DistanceNM,
		DurationH:        hours,
		EffectiveSpeedKn: leg.DistanceNM / hours,
		FuelT:            fuel,
		FuelByType:       e.m.Profile().Split(fuel),
		EngineLoad:       e.m.EngineLoad(v),
		ResistanceFactor: 1,
	}
	if calmFuel > 0 {
		res.ResistanceFactor = fuel / calmFuel
	}
	tot, err := e.calc.Compute(res.FuelByType)
	if err != nil {
		return Result{}, fmt.Errorf("leg %s: %w", leg.ID, err)
	}
	res.Emissions = tot
	if warn != nil {
		res.Advisories = append(res.Advisories, Advisory{Code: AdvisoryOutOfRange, LegID: leg.ID, Detail: warn.Error()})
	}
	if !e.m.IsEfficient(v) {
		res.Advisories = append(res.Advisories, Advisory{Code: AdvisoryInefficient, LegID: leg.ID,
			Detail: fmt.Sprintf("engine load %.3f outside band [%.2f,%.2f]", res.EngineLoad, e.cfg.Band.Min, e.cfg.Band.Max)})
	}
	if clim > 0 {
		res.Advisories = append(res.Advisories, Advisory{Code: AdvisoryClimatology, LegID: leg.ID,
			Detail: fmt.Sprintf("%d of %d segments used climatology", clim, len(k.Segments))})
	}
	return res, nil
}

// EvaluateAt samples the environment through s and evaluates leg.
func (e *Evaluator) EvaluateAt(ctx context.Context, leg Leg, v float64, depart time.Time, s env.Sampler) (Result, error) {
	k, err := e.FreezeAt(ctx, leg, v, depart, s)
	if err != nil {
		return Result{}, err
	}
	return e.Cost(k, v)
}

// FreezeAt samples the environment for leg at v and freezes it.
func (e *Evaluator) FreezeAt(ctx context.Context, leg Leg, v float64, depart time.Time, s env.Sampler) (Kinematics, error) {
	keys := e.SampleKeys(leg, v, depart)
	samples := make([]env.Sample, len(keys))
	for i, q := range keys {
		smp, err := s.Sample(ctx, q.Position, q.Time)
		if err != nil {
			return Kinematics{}, fmt.Errorf("leg %s: %w", leg.ID, err)
		}
		samples[i] = smp
	}
	return e.Freeze(leg, samples)
}
