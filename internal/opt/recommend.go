package opt

import (
	"context"
	"errors"
	"fmt"

	"voyageopt/internal/cost"
	"voyageopt/internal/legcost"
	"voyageopt/internal/route"
	"voyageopt/internal/schedule"
)

// Recommend builds the optimized plan plus the reference-speed, economic-speed
// and (with a berth window) just-in-time alternatives, ranked by total cost.
// Alternatives other than the optimized plan are dropped when infeasible.
func (e *Engine) Recommend(ctx context.Context, req Request) ([]VoyagePlan, Metrics, error) {
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return nil, Metrics{}, err
	}
	defer cancel()

	deadline := r.req.Deadline
	if deadline == nil && r.req.Berth != nil {
		d := r.req.Berth.Latest
		deadline = &d
	}
	primary := alternative{label: "optimized", policy: r.policy(), deadline: deadline, schedule: deadline != nil}
	optimized, err := r.plan(bctx, primary)
	if err != nil {
		return nil, r.finishMetrics(), err
	}
	plans := []VoyagePlan{optimized}

	alts := []alternative{{label: "reference", policy: route.ReferenceSpeed{}, deadline: deadline}}
	if lo, hi, err := r.limits().Allowed(r.model); err == nil {
		if v, err := r.economicSpeed(bctx, lo, hi); err == nil {
			alts = append(alts, alternative{label: "economic", policy: route.FixedSpeed{Kn: v}, deadline: deadline})
		}
	}
	if r.req.Berth != nil {
		alts = append(alts, alternative{label: "jit", policy: r.policy(), berth: r.req.Berth, schedule: true})
	}
	for _, alt := range alts {
		p, err := r.plan(bctx, alt)
		if err != nil {
			if droppable(err) {
				continue
			}
			return nil, r.finishMetrics(), err
		}
		plans = append(plans, p)
	}
	return rank(plans), r.finishMetrics(), nil
}

func droppable(err error) bool {
	return schedule.IsInfeasible(err) || errors.Is(err, route.ErrNoFeasiblePath) || errors.Is(err, ErrPartial)
}

// rank orders plans by total cost, then duration, then label.
func rank(plans []VoyagePlan) []VoyagePlan {
	alts := make([]cost.Alternative, len(plans))
	byLabel := map[string]VoyagePlan{}
	for i, p := range plans {
		alts[i] = cost.Alternative{Label: p.Label, Hours: p.Totals.DurationH, Breakdown: p.Totals.Cost}
		byLabel[p.Label] = p
	}
	out := make([]VoyagePlan, 0, len(plans))
	for i, a := range cost.Rank(alts) {
		p := byLabel[a.Label]
		p.Rank = i + 1
		out = append(out, p)
	}
	return out
}

// Recompute replans the rest of a voyage after the berth window changed. The
// vessel's route comes from req.Path, or from a reference-speed search when
// no path is given; the remaining part is solved as a new problem.
func (e *Engine) Recompute(ctx context.Context, req Request, p schedule.Progress, w schedule.Window) (VoyagePlan, Metrics, error) {
	if err := w.Validate(); err != nil {
		return VoyagePlan{}, Metrics{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return VoyagePlan{}, Metrics{}, err
	}
	defer cancel()

	legs, err := r.routeLegs(bctx)
	if err != nil {
		return VoyagePlan{}, r.finishMetrics(), err
	}
	rest, err := schedule.Remaining(legs, p)
	if err != nil {
		return VoyagePlan{}, r.finishMetrics(), fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	a, err := schedule.NewCoordinator(r.opt).Plan(bctx, rest, p.At, w, r.req.Constraints)
	if err != nil {
		return VoyagePlan{}, r.finishMetrics(), err
	}
	r.metrics.Iterations += a.Iterations
	r.metrics.EnvPasses += a.Passes
	results, err := r.costSchedule(a.Result)
	if err != nil {
		return VoyagePlan{}, r.finishMetrics(), err
	}
	path := []route.NodeID{rest[0].From}
	for _, l := range rest {
		path = append(path, l.To)
	}
	profile := a.Legs
	for i := range profile {
		profile[i].FuelT = results[i].FuelT
		profile[i].DurationH = results[i].DurationH
	}
	plan := VoyagePlan{
		Label:        "recomputed",
		Vessel:       r.req.Vessel.Name,
		Policy:       route.Delegate{}.Name(),
		Path:         path,
		SpeedProfile: profile,
		Legs:         results,
		DepartAt:     p.At,
		Berth:        &Berth{Window: a.Window, Edge: a.Edge, WaitH: a.WaitH},
		Partial:      a.Partial,
	}
	// the baseline for a residual plan is the reference speed over the same legs
	base, err := r.fixed(bctx, rest, p.At, r.req.Vessel.RefSpeedKn)
	if err == nil {
		r.base, r.baseErr = r.baselineFrom(path, base)
	} else {
		r.baseErr = fmt.Errorf("reference-speed baseline: %v", err)
	}
	r.baseDone = true
	r.finish(bctx, &plan)
	return plan, r.finishMetrics(), nil
}

// routeLegs resolves the voyage route into legs.
func (r *run) routeLegs(ctx context.Context) ([]legcost.Leg, error) {
	if len(r.req.Path) > 0 {
		legs, err := r.req.Graph.PathLegs(r.req.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return legs, nil
	}
	sr, err := r.search(ctx, route.ReferenceSpeed{}, r.limits())
	if err != nil {
		return nil, err
	}
	if sr.Partial {
		return nil, ErrPartial
	}
	legs := make([]legcost.Leg, len(sr.Steps))
	for i, s := range sr.Steps {
		legs[i] = s.Leg
	}
	return legs, nil
}
