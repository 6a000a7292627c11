// Package opt composes route search, schedule optimization, emissions and
// costing into voyage plans.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"voyageopt/internal/config"
	"voyageopt/internal/cost"
	"voyageopt/internal/emissions"
	"voyageopt/internal/env"
	"voyageopt/internal/legcost"
	"voyageopt/internal/route"
	"voyageopt/internal/schedule"
	"voyageopt/internal/vessel"
)

var (
	ErrInvalidRequest = errors.New("invalid voyage request")
	// ErrPartial is returned alongside a partial plan that has no legs.
	ErrPartial = errors.New("time budget exhausted before any leg was planned")
)

// Request is one voyage optimization problem.
type Request struct {
	Vessel      vessel.Profile
	Graph       *route.Graph
	Origin      route.NodeID
	Destination route.NodeID
	// Path fixes the route; the search only chooses speeds along it.
	Path        []route.NodeID
	Depart      time.Time
	Deadline    *time.Time
	Berth       *schedule.Window
	Constraints schedule.Constraints
	Policy      route.SpeedPolicy
	Sampler     env.Sampler
	Prices      cost.PriceLookup
	TimeBudget  time.Duration
}

// Metrics describe the work one request took. They are kept out of the plan.
type Metrics struct {
	Expanded        int     `json:"expanded"`
	Evaluated       int     `json:"evaluated"`
	InfeasibleEdges int     `json:"infeasibleEdges"`
	Iterations      int     `json:"iterations"`
	EnvPasses       int     `json:"envPasses"`
	CacheHits       int64   `json:"cacheHits"`
	CacheMisses     int64   `json:"cacheMisses"`
	CacheKeys       int     `json:"cacheKeys"`
	Partial         bool    `json:"partial"`
	DurationMs      float64 `json:"durationMs"`
}

type Engine struct {
	cfg         config.Engine
	climatology env.Sampler
}

func New(cfg config.Engine) *Engine { return &Engine{cfg: cfg} }

// WithClimatology returns an engine that falls back to c when the request's
// sampler has no data, provided the configuration enables it.
func (e *Engine) WithClimatology(c env.Sampler) *Engine {
	cp := *e
	cp.climatology = c
	return &cp
}

func (e *Engine) Config() config.Engine { return e.cfg }

// WithConfig returns an engine with cfg and the same climatology.
func (e *Engine) WithConfig(cfg config.Engine) *Engine {
	cp := *e
	cp.cfg = cfg
	return &cp
}

// run is the state of one request.
type run struct {
	req      Request
	cfg      config.Engine
	parent   context.Context
	model    *vessel.Model
	ev       *legcost.Evaluator
	cache    *env.RequestCache
	calc     *emissions.Calculator
	agg      *cost.Aggregator
	opt      *schedule.Optimizer
	started  time.Time
	metrics  Metrics
	base     *Baseline
	baseErr  error
	baseDone bool
}

func (e *Engine) start(ctx context.Context, req Request) (*run, context.Context, context.CancelFunc, error) {
	if err := validate(&req); err != nil {
		return nil, nil, nil, err
	}
	m, err := vessel.New(req.Vessel, e.cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var src env.Sampler = env.Calm{}
	if req.Sampler != nil {
		src = req.Sampler
	}
	if e.cfg.Environment.UseClimatology && e.climatology != nil {
		src = env.WithFallback(src, e.climatology)
	}
	cache := env.NewRequestCache(src, e.cfg.Environment.TimeResolution, e.cfg.Environment.PrefetchParallelism)
	ev := legcost.New(m, e.cfg)
	r := &run{
		req:     req,
		cfg:     e.cfg,
		parent:  ctx,
		model:   m,
		ev:      ev,
		cache:   cache,
		calc:    emissions.New(e.cfg.Emissions),
		agg:     cost.New(e.cfg.Economics, req.Prices),
		opt:     schedule.New(ev, cache),
		started: time.Now(),
	}
	budget := req.TimeBudget
	if budget <= 0 {
		budget = e.cfg.TimeBudget
	}
	if budget > 0 {
		bctx, cancel := context.WithTimeout(ctx, budget)
		return r, bctx, cancel, nil
	}
	bctx, cancel := context.WithCancel(ctx)
	return r, bctx, cancel, nil
}

func validate(req *Request) error {
	if req.Graph == nil {
		return fmt.Errorf("%w: route graph is required", ErrInvalidRequest)
	}
	if req.Depart.IsZero() {
		return fmt.Errorf("%w: departure time is required", ErrInvalidRequest)
	}
	if len(req.Path) > 0 {
		if len(req.Path) < 2 {
			return fmt.Errorf("%w: path needs at least two nodes", ErrInvalidRequest)
		}
		req.Origin, req.Destination = req.Path[0], req.Path[len(req.Path)-1]
	}
	if _, ok := req.Graph.Node(req.Origin); !ok {
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidRequest, req.Origin)
	}
	if _, ok := req.Graph.Node(req.Destination); !ok {
		return fmt.Errorf("%w: unknown destination %q", ErrInvalidRequest, req.Destination)
	}
	if req.Origin == req.Destination {
		return fmt.Errorf("%w: origin and destination are both %q", ErrInvalidRequest, req.Origin)
	}
	if req.Berth != nil {
		if err := req.Berth.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return nil
}

func (r *run) policy() route.SpeedPolicy {
	if r.req.Policy != nil {
		return r.req.Policy
	}
	if r.req.Deadline != nil || r.req.Berth != nil {
		return route.Delegate{}
	}
	return route.ReferenceSpeed{}
}

func (r *run) finishMetrics() Metrics {
	m := r.metrics
	m.CacheHits, m.CacheMisses = r.cache.Stats()
	m.CacheKeys = r.cache.Len()
	m.DurationMs = float64(time.Since(r.started).Microseconds()) / 1000
	return m
}

// graph returns the request graph, cut down to the fixed path when one is set.
func (r *run) graph() (*route.Graph, error) {
	if len(r.req.Path) == 0 {
		return r.req.Graph, nil
	}
	legs, err := r.req.Graph.PathLegs(r.req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	var nodes []route.Node
	seen := map[route.NodeID]bool{}
	for _, id := range r.req.Path {
		if seen[id] {
			return nil, fmt.Errorf("%w: path visits %s twice", ErrInvalidRequest, id)
		}
		seen[id] = true
		n, _ := r.req.Graph.Node(id)
		nodes = append(nodes, n)
	}
	edges := make([]route.Edge, len(legs))
	for i, l := range legs {
		edges[i] = route.Edge{ID: l.ID, From: l.From, To: l.To, DistanceNM: l.DistanceNM}
	}
	return route.NewGraph(nodes, edges)
}

// limits are the request's speed constraints with the configured band
// requirement folded in.
func (r *run) limits() schedule.Constraints {
	c := r.req.Constraints
	c.RequireBand = c.RequireBand || r.cfg.Optimizer.RequireBand
	return c
}

// search finds the best path under policy. Only the reference baseline
// searches with zero constraints.
func (r *run) search(ctx context.Context, policy route.SpeedPolicy, c schedule.Constraints) (route.Result, error) {
	g, err := r.graph()
	if err != nil {
		return route.Result{}, err
	}
	res, err := route.Search(ctx, g, r.req.Origin, r.req.Destination, r.req.Depart, route.Options{
		Evaluator:   r.ev,
		Sampler:     r.cache,
		Policy:      policy,
		Constraints: c,
		Weights:     r.cfg.Objective,
		Parallelism: r.cfg.Search.Parallelism,
	})
	r.metrics.Expanded += res.Expanded
	r.metrics.Evaluated += res.Evaluated
	r.metrics.InfeasibleEdges += res.Infeasible
	return res, err
}

// alternative names one plan to build.
type alternative struct {
	label    string
	policy   route.SpeedPolicy
	deadline *time.Time
	berth    *schedule.Window
	schedule bool
}

func (r *run) plan(ctx context.Context, alt alternative) (VoyagePlan, error) {
	sr, err := r.search(ctx, alt.policy, r.limits())
	if err != nil {
		return VoyagePlan{}, err
	}
	plan := VoyagePlan{
		Label:    alt.label,
		Vessel:   r.req.Vessel.Name,
		Policy:   sr.Policy,
		Path:     sr.Path,
		DepartAt: r.req.Depart,
		Deadline: alt.deadline,
		Partial:  sr.Partial,
	}
	results := make([]legcost.Result, len(sr.Steps))
	legs := make([]legcost.Leg, len(sr.Steps))
	for i, s := range sr.Steps {
		results[i], legs[i] = s.Result, s.Leg
	}
	profile := profileFrom(results, sr.Steps)

	if alt.schedule && !sr.Partial && len(legs) > 0 {
		var (
			sched schedule.Result
			berth *Berth
		)
		if alt.berth != nil {
			var a schedule.Arrival
			a, err = schedule.NewCoordinator(r.opt).Plan(ctx, legs, r.req.Depart, *alt.berth, r.req.Constraints)
			sched, berth = a.Result, &Berth{Window: a.Window, Edge: a.Edge, WaitH: a.WaitH}
		} else {
			sched, err = r.opt.Optimize(ctx, legs, r.req.Depart, *alt.deadline, r.req.Constraints)
		}
		switch {
		case err == nil:
			results, err = r.costSchedule(sched)
			if err != nil {
				return VoyagePlan{}, err
			}
			profile = sched.Legs
			plan.Berth = berth
			plan.Partial = sched.Partial
			r.metrics.Iterations += sched.Iterations
			r.metrics.EnvPasses += sched.Passes
		case ctx.Err() != nil && !schedule.IsInfeasible(err):
			// keep the search speeds
			plan.Partial = true
		default:
			return VoyagePlan{}, err
		}
	}
	for i := range profile {
		profile[i].FuelT = results[i].FuelT
		profile[i].DurationH = results[i].DurationH
	}
	plan.SpeedProfile = profile
	plan.Legs = results
	r.finish(ctx, &plan)
	if plan.Partial && len(plan.Legs) == 0 {
		return plan, ErrPartial
	}
	return plan, nil
}

// costSchedule evaluates each scheduled leg on the environment the
// optimizer froze for it.
func (r *run) costSchedule(s schedule.Result) ([]legcost.Result, error) {
	out := make([]legcost.Result, len(s.Legs))
	for i, l := range s.Legs {
		res, err := r.ev.Cost(s.Kinematics[i], l.SpeedKn)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// finish fills totals, compliance, cost, baseline comparison and advisories.
func (r *run) finish(ctx context.Context, p *VoyagePlan) {
	p.ArrivalAt = arrival(p.DepartAt, p.Legs)
	p.Totals = sumLegs(p.Legs)
	for _, l := range p.Legs {
		p.Advisories = append(p.Advisories, l.Advisories...)
	}
	wait := 0.0
	if p.Berth != nil {
		wait = p.Berth.WaitH
		if wait > 0 {
			p.Advisories = append(p.Advisories, legcost.Advisory{Code: legcost.AdvisoryBerthWait,
				Detail: fmt.Sprintf("arrives %.2f h before the berth window opens", wait)})
		}
	}
	if p.Deadline != nil && p.ArrivalAt.After(*p.Deadline) {
		p.Advisories = append(p.Advisories, legcost.Advisory{Code: legcost.AdvisoryDeadlineSlip,
			Detail: fmt.Sprintf("arrives %.2f h after the deadline", p.ArrivalAt.Sub(*p.Deadline).Hours())})
	}
	if p.Partial {
		p.Advisories = append(p.Advisories, legcost.Advisory{Code: legcost.AdvisoryPartial,
			Detail: "time budget exhausted; best plan found so far"})
		r.metrics.Partial = true
	}
	if len(p.Legs) > 0 {
		if cii, err := r.calc.CII(r.req.Vessel.Type, r.req.Vessel.DeadweightT, p.Totals.DistanceNM, p.Totals.Emissions.CO2T); err == nil {
			p.CII = &cii
		}
	}
	b, err := r.agg.Breakdown(r.parent, cost.Input{FuelByType: p.Totals.FuelByType, Hours: p.Totals.DurationH + wait, CO2T: p.Totals.Emissions.CO2T})
	if err != nil {
		p.Advisories = append(p.Advisories, legcost.Advisory{Code: legcost.AdvisoryCost, Detail: err.Error()})
	} else {
		p.Totals.Cost = b
	}
	if p.Partial {
		return
	}
	base, err := r.baseline(ctx)
	if err != nil {
		p.Advisories = append(p.Advisories, legcost.Advisory{Code: legcost.AdvisoryBaseline, Detail: err.Error()})
		return
	}
	p.Baseline = base
	p.Deltas = compare(*p, *base)
}

// baseline is the reference-speed plan on the reference-speed best path,
// computed once per request.
func (r *run) baseline(ctx context.Context) (*Baseline, error) {
	if r.baseDone {
		return r.base, r.baseErr
	}
	r.baseDone = true
	sr, err := r.search(ctx, route.ReferenceSpeed{}, schedule.Constraints{})
	switch {
	case err != nil:
		r.baseErr = fmt.Errorf("reference-speed baseline: %v", err)
	case sr.Partial:
		r.baseErr = errors.New("reference-speed baseline: time budget exhausted")
	default:
		results := make([]legcost.Result, len(sr.Steps))
		for i, s := range sr.Steps {
			results[i] = s.Result
		}
		r.base, r.baseErr = r.baselineFrom(sr.Path, results)
	}
	return r.base, r.baseErr
}

func (r *run) baselineFrom(path []route.NodeID, results []legcost.Result) (*Baseline, error) {
	t := sumLegs(results)
	b, err := r.agg.Breakdown(r.parent, cost.Input{FuelByType: t.FuelByType, Hours: t.DurationH, CO2T: t.Emissions.CO2T})
	if err != nil {
		return nil, fmt.Errorf("reference-speed baseline: %v", err)
	}
	t.Cost = b
	base := &Baseline{Label: "reference", Path: path, SpeedKn: r.req.Vessel.RefSpeedKn, Totals: t}
	if cii, err := r.calc.CII(r.req.Vessel.Type, r.req.Vessel.DeadweightT, t.DistanceNM, t.Emissions.CO2T); err == nil {
		base.CII = &cii
	}
	return base, nil
}

func compare(p VoyagePlan, b Baseline) *Deltas {
	d := &Deltas{
		FuelT:     p.Totals.FuelT - b.Totals.FuelT,
		DurationH: p.Totals.DurationH - b.Totals.DurationH,
		Emissions: p.Totals.Emissions.Sub(b.Totals.Emissions),
		Cost:      cost.Compare(p.Totals.Cost, b.Totals.Cost),
	}
	if b.Totals.FuelT > 0 {
		d.FuelPct = math.Round(d.FuelT/b.Totals.FuelT*1e6) / 1e4
	}
	if p.CII != nil && b.CII != nil {
		rd := emissions.CompareCII(*b.CII, *p.CII)
		d.CII = &rd
	}
	return d
}

// Optimize builds the recommended plan for req. A berth window takes
// precedence over a deadline. When the time budget runs out the best plan
// found so far is returned with Partial set.
func (e *Engine) Optimize(ctx context.Context, req Request) (VoyagePlan, Metrics, error) {
	r, bctx, cancel, err := e.start(ctx, req)
	if err != nil {
		return VoyagePlan{}, Metrics{}, err
	}
	defer cancel()
	alt := alternative{label: "optimized", policy: r.policy(), deadline: r.req.Deadline, berth: r.req.Berth}
	alt.schedule = alt.deadline != nil || alt.berth != nil
	plan, err := r.plan(bctx, alt)
	return plan, r.finishMetrics(), err
}
