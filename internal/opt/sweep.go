package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"voyageopt/internal/cost"
	"voyageopt/internal/legcost"
)

// SweepPoint is the whole voyage sailed at one uniform speed through water.
type SweepPoint struct {
	SpeedKn    float64         `json:"speedKn"`
	DurationH  float64         `json:"durationH"`
	FuelT      float64         `json:"fuelT"`
	CO2T       float64         `json:"co2T"`
	EngineLoad float64         `json:"engineLoad"`
	Efficient  bool            `json:"efficient"`
	Feasible   bool            `json:"feasible"`
	Cost       decimal.Decimal `json:"cost"`

	input cost.Input
}

// fixed sails legs back to back at v, each departing when the previous one
// arrives.
func (r *run) fixed(ctx context.Context, legs []legcost.Leg, depart time.Time, v float64) ([]legcost.Result, error) {
	out := make([]legcost.Result, len(legs))
	at := depart
	for i, l := range legs {
		res, err := r.ev.EvaluateAt(ctx, l, v, at, r.cache)
		if err != nil {
			return nil, err
		}
		out[i] = res
		at = at.Add(hours(res.DurationH))
	}
	return out, nil
}

func speedGrid(lo, hi, step float64) []float64 {
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, math.Round((lo+float64(i)*step)*1e6)/1e6)
	}
	return out
}

// sweep evaluates the route at every grid speed. Speeds where a leg cannot be
// sailed come back with Feasible unset.
func (r *run) sweep(ctx context.Context, lo, hi, step float64) ([]SweepPoint, error) {
	nlo, nhi := r.model.NavigableRange()
	if lo <= 0 {
		lo = nlo
	}
	if hi <= 0 {
		hi = nhi
	}
	if step <= 0 {
		step = r.cfg.Search.SpeedGridStepKn
	}
	if lo > hi || step <= 0 {
		return nil, fmt.Errorf("%w: sweep range [%v,%v] step %v", ErrInvalidRequest, lo, hi, step)
	}
	legs, err := r.routeLegs(ctx)
	if err != nil {
		return nil, err
	}
	speeds := speedGrid(lo, hi, step)
	points := make([]SweepPoint, len(speeds))
	g, gctx := errgroup.WithContext(ctx)
	if p := r.cfg.Search.Parallelism; p > 0 {
		g.SetLimit(p)
	}
	for i, v := range speeds {
		g.Go(func() error {
			op := r.model.OperatingPoint(v)
			pt := SweepPoint{SpeedKn: v, EngineLoad: op.EngineLoad, Efficient: op.Efficient}
			res, err := r.fixed(gctx, legs, r.req.Depart, v)
			switch {
			case errors.Is(err, legcost.ErrInfeasibleLeg):
			case err != nil:
				return err
			default:
				t := sumLegs(res)
				pt.Feasible = true
				pt.DurationH, pt.FuelT, pt.CO2T = t.DurationH, t.FuelT, t.Emissions.CO2T
				pt.input = cost.Input{FuelByType: t.FuelByType, Hours: t.DurationH, CO2T: t.Emissions.CO2T}
			}
			points[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range points {
		if !points[i].Feasible {
			continue
		}
		b, err := r.agg.Breakdown(r.parent, points[i].input)
		if err != nil {
			return nil, err
		}
		points[i].Cost = b.Total
	}
	return points, nil
}

func costPoints(points []SweepPoint) []cost.Point {
	var out []cost.Point
	for _, p := range points {
		if p.Feasible {
			out = append(out, cost.Point{SpeedKn: p.SpeedKn, Input: p.input})
		}
	}
	return out
}

// economicSpeed is the cheapest uniform speed between lo and hi. Zero bounds
// mean the navigable range.
func (r *run) economicSpeed(ctx context.Context, lo, hi float64) (float64, error) {
	pts, err := r.sweep(ctx, lo, hi, 0)
	if err != nil {
		return 0, err
	}
	best, _, err := r.agg.EconomicSpeed(ctx, costPoints(pts))
	if err != nil {
		return 0, err
	}
	return best.SpeedKn, nil
}

// SpeedSweep tabulates the voyage at uniform speeds from lo to hi. Zero
// bounds and step default to the navigable range and the search grid step.
func (e *Engine) SpeedSweep(ctx context.Context, req Request, lo, hi, step float64) ([]SweepPoint, Metrics, error) {
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return nil, Metrics{}, err
	}
	defer cancel()
	pts, err := r.sweep(bctx, lo, hi, step)
	return pts, r.finishMetrics(), err
}

// EconomicSpeed returns the sweep point with the lowest total voyage cost.
func (e *Engine) EconomicSpeed(ctx context.Context, req Request) (SweepPoint, cost.Breakdown, Metrics, error) {
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return SweepPoint{}, cost.Breakdown{}, Metrics{}, err
	}
	defer cancel()
	pts, err := r.sweep(bctx, 0, 0, 0)
	if err != nil {
		return SweepPoint{}, cost.Breakdown{}, r.finishMetrics(), err
	}
	best, b, err := r.agg.EconomicSpeed(bctx, costPoints(pts))
	if err != nil {
		return SweepPoint{}, cost.Breakdown{}, r.finishMetrics(), err
	}
	for _, p := range pts {
		if p.SpeedKn == best.SpeedKn {
			return p, b, r.finishMetrics(), nil
		}
	}
	return SweepPoint{}, b, r.finishMetrics(), nil
}

// Sensitivity shows how the economic speed moves as one cost parameter is
// scaled by each factor.
func (e *Engine) Sensitivity(ctx context.Context, req Request, param cost.Parameter, factors []float64) ([]cost.SensitivityRow, Metrics, error) {
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return nil, Metrics{}, err
	}
	defer cancel()
	pts, err := r.sweep(bctx, 0, 0, 0)
	if err != nil {
		return nil, r.finishMetrics(), err
	}
	rows, err := r.agg.Sensitivity(bctx, param, factors, costPoints(pts))
	if err != nil {
		return nil, r.finishMetrics(), fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return rows, r.finishMetrics(), nil
}
