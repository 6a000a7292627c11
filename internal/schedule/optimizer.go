// Package schedule assigns speeds to the legs of a fixed route so that the
// vessel meets an arrival deadline (or a berth window) with the least fuel.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"voyageopt/internal/config"
	"voyageopt/internal/env"
	"voyageopt/internal/legcost"
	"voyageopt/internal/vessel"
)

// Constraints narrow the speeds the optimizer may use. Zero values leave the
// vessel's navigable range in place.
type Constraints struct {
	MinSpeedKn  float64 `json:"minSpeedKn,omitempty" yaml:"minSpeedKn"`
	MaxSpeedKn  float64 `json:"maxSpeedKn,omitempty" yaml:"maxSpeedKn"`
	RequireBand bool    `json:"requireBand,omitempty" yaml:"requireBand"`
}

// LegSpeed is one entry of a speed profile.
type LegSpeed struct {
	Leg       legcost.Leg `json:"leg"`
	SpeedKn   float64     `json:"speedKn"`
	DepartAt  time.Time   `json:"departAt"`
	DurationH float64     `json:"durationH"`
	FuelT     float64     `json:"fuelT"`
}

type Result struct {
	Legs            []LegSpeed           `json:"legs"`
	Kinematics      []legcost.Kinematics `json:"-"`
	TotalHours      float64              `json:"totalHours"`
	TotalFuelT      float64              `json:"totalFuelT"`
	ArrivalAt       time.Time            `json:"arrivalAt"`
	BaselineSpeedKn float64              `json:"baselineSpeedKn"`
	BaselineFuelT   float64              `json:"baselineFuelT"`
	MinSpeedKn      float64              `json:"minSpeedKn"`
	MaxSpeedKn      float64              `json:"maxSpeedKn"`
	BandRelaxed     bool                 `json:"bandRelaxed"`
	Iterations      int                  `json:"iterations"`
	Passes          int                  `json:"passes"`
	Partial         bool                 `json:"partial"`
}

// Speeds returns the per-leg speeds in leg order.
func (r Result) Speeds() []float64 {
	out := make([]float64, len(r.Legs))
	for i, l := range r.Legs {
		out[i] = l.SpeedKn
	}
	return out
}

type prefetcher interface {
	Prefetch(ctx context.Context, qs []env.Query) error
}

type Optimizer struct {
	ev      *legcost.Evaluator
	sampler env.Sampler
	cfg     config.Engine
}

func New(ev *legcost.Evaluator, sampler env.Sampler) *Optimizer {
	if sampler == nil {
		sampler = env.Calm{}
	}
	return &Optimizer{ev: ev, sampler: sampler, cfg: ev.Config()}
}

// Evaluator returns the leg evaluator the optimizer works with.
func (o *Optimizer) Evaluator() *legcost.Evaluator { return o.ev }

// Optimize minimizes total fuel over legs leaving at depart and arriving no
// later than deadline.
//
// It starts from the uniform speed that meets the deadline exactly and then
// moves time between legs, always from the leg where an hour is cheapest to
// give up to the leg where an extra hour saves the most fuel, until the
// marginal savings agree within the configured tolerance. The environment is
// sampled along the current schedule and refreshed between passes.
//
// When ctx ends mid-iteration the current profile, which always meets the
// deadline, is returned with Partial set.
func (o *Optimizer) Optimize(ctx context.Context, legs []legcost.Leg, depart, deadline time.Time, c Constraints) (Result, error) {
	if len(legs) == 0 {
		return Result{}, fmt.Errorf("%w: no legs to schedule", ErrInvalidConstraints)
	}
	avail := deadline.Sub(depart).Hours()
	if avail <= 0 {
		_, hi, _ := o.navigable(c)
		return Result{}, &DeadlineInfeasibleError{AvailableH: avail, ShortfallH: -avail, MaxSpeedKn: hi}
	}
	nlo, nhi, err := o.navigable(c)
	if err != nil {
		return Result{}, err
	}
	dist := 0.0
	for _, l := range legs {
		dist += l.DistanceNM
	}
	speeds := make([]float64, len(legs))
	for i := range speeds {
		speeds[i] = math.Min(nhi, math.Max(nlo, dist/avail))
	}

	passes := o.cfg.Optimizer.EnvPasses
	if passes < 1 {
		passes = 1
	}
	var (
		res  Result
		have bool
	)
	for p := 0; p < passes; p++ {
		ks, err := o.freeze(ctx, legs, speeds, depart)
		if err != nil {
			if have && ctx.Err() != nil {
				res.Partial = true
				return res, nil
			}
			return Result{}, err
		}
		r, err := o.solve(ctx, ks, depart, avail, c)
		if err != nil {
			return Result{}, err
		}
		r.Passes = p + 1
		if have {
			r.Iterations += res.Iterations
		}
		res, have = r, true
		next := r.Speeds()
		if r.Partial || sameSpeeds(speeds, next) {
			break
		}
		speeds = next
	}
	return res, nil
}

func (o *Optimizer) navigable(c Constraints) (lo, hi float64, err error) {
	return c.Range(o.ev.Model())
}

// Range is m's navigable range cut to the speed limits in c.
func (c Constraints) Range(m *vessel.Model) (lo, hi float64, err error) {
	lo, hi = m.NavigableRange()
	if c.MinSpeedKn > 0 {
		lo = math.Max(lo, c.MinSpeedKn)
	}
	if c.MaxSpeedKn > 0 {
		hi = math.Min(hi, c.MaxSpeedKn)
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: speed limits [%.2f, %.2f] kn leave no navigable speed", ErrInvalidConstraints, lo, hi)
	}
	return lo, hi, nil
}

// Allowed is Range, further cut to the efficient-load band when RequireBand
// is set.
func (c Constraints) Allowed(m *vessel.Model) (lo, hi float64, err error) {
	lo, hi, err = c.Range(m)
	if err != nil || !c.RequireBand {
		return lo, hi, err
	}
	blo, bhi := m.BandSpeeds()
	blo, bhi = math.Max(blo, lo), math.Min(bhi, hi)
	if blo > bhi {
		return 0, 0, &BandInfeasibleError{BandMinKn: blo, BandMaxKn: bhi,
			Reason: fmt.Sprintf("band speeds do not intersect the allowed range [%.2f, %.2f] kn", lo, hi)}
	}
	return blo, bhi, nil
}

// freeze samples the environment along the schedule given by speeds.
func (o *Optimizer) freeze(ctx context.Context, legs []legcost.Leg, speeds []float64, depart time.Time) ([]legcost.Kinematics, error) {
	departs := make([]time.Time, len(legs))
	at := depart
	for i, l := range legs {
		departs[i] = at
		at = at.Add(time.Duration(l.DistanceNM / speeds[i] * float64(time.Hour)))
	}
	if pf, ok := o.sampler.(prefetcher); ok {
		var qs []env.Query
		for i, l := range legs {
			qs = append(qs, o.ev.SampleKeys(l, speeds[i], departs[i])...)
		}
		if err := pf.Prefetch(ctx, qs); err != nil {
			return nil, err
		}
	}
	ks := make([]legcost.Kinematics, len(legs))
	g, gctx := errgroup.WithContext(ctx)
	if n := o.cfg.Search.Parallelism; n > 0 {
		g.SetLimit(n)
	}
	for i, l := range legs {
		g.Go(func() error {
			k, err := o.ev.FreezeAt(gctx, l, speeds[i], departs[i], o.sampler)
			if err != nil {
				return err
			}
			ks[i] = k
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ks, nil
}

// fill is the working state of one water-filling pass.
type fill struct {
	ks []legcost.Kinematics
	lo []float64
	hi float64
	v  []float64
	t  []float64
}

func (f *fill) total(v float64) float64 {
	h := 0.0
	for i, k := range f.ks {
		h += k.Hours(math.Max(v, f.lo[i]))
	}
	return h
}

func (f *fill) speedAt(i int, hours float64) float64 {
	return f.ks[i].SpeedForHours(hours, f.lo[i], f.hi)
}

func (f *fill) fuel() float64 {
	sum := 0.0
	for i, k := range f.ks {
		sum += k.Fuel(f.v[i])
	}
	return sum
}

func (o *Optimizer) solve(ctx context.Context, ks []legcost.Kinematics, depart time.Time, avail float64, c Constraints) (Result, error) {
	m := o.ev.Model()
	nlo, nhi, err := o.navigable(c)
	if err != nil {
		return Result{}, err
	}
	for _, k := range ks {
		if !k.Feasible(nhi) {
			_, err := o.ev.Cost(k, nhi)
			return Result{}, err
		}
	}
	sumAt := func(v float64) float64 {
		h := 0.0
		for _, k := range ks {
			h += k.Hours(v)
		}
		return h
	}
	if req := sumAt(nhi); req > avail {
		return Result{}, &DeadlineInfeasibleError{RequiredH: req, AvailableH: avail, ShortfallH: req - avail, MaxSpeedKn: nhi}
	}

	lo, hi := nlo, nhi
	blo, bhi := m.BandSpeeds()
	blo, bhi = math.Max(blo, nlo), math.Min(bhi, nhi)
	relaxed := false
	switch {
	case blo > bhi:
		if c.RequireBand || o.cfg.Optimizer.RequireBand {
			return Result{}, &BandInfeasibleError{BandMinKn: blo, BandMaxKn: bhi, AvailableH: avail,
				Reason: fmt.Sprintf("band speeds do not intersect the allowed range [%.2f, %.2f] kn", nlo, nhi)}
		}
		relaxed = true
	case sumAt(bhi) > avail:
		if c.RequireBand || o.cfg.Optimizer.RequireBand {
			return Result{}, &BandInfeasibleError{BandMinKn: blo, BandMaxKn: bhi, RequiredH: sumAt(bhi), AvailableH: avail}
		}
		relaxed = true
	default:
		lo, hi = blo, bhi
	}

	f := &fill{ks: ks, lo: make([]float64, len(ks)), hi: hi, v: make([]float64, len(ks)), t: make([]float64, len(ks))}
	ulo := lo
	for i, k := range ks {
		f.lo[i] = lo
		if ms := k.MinSpeed(); ms >= lo {
			f.lo[i] = math.Min(hi, ms*(1+1e-9)+1e-9)
		}
		ulo = math.Max(ulo, f.lo[i])
	}

	// uniform baseline
	u := ulo
	if f.total(ulo) > avail {
		a, b := ulo, hi
		for n := 0; n < 200 && b-a > 1e-12; n++ {
			mid := 0.5 * (a + b)
			if f.total(mid) > avail {
				a = mid
			} else {
				b = mid
			}
		}
		u = b
	}
	for i, k := range ks {
		f.v[i] = math.Max(u, f.lo[i])
		f.t[i] = k.Hours(f.v[i])
	}
	baseFuel := f.fuel()

	res := Result{BaselineSpeedKn: u, BaselineFuelT: baseFuel, MinSpeedKn: lo, MaxSpeedKn: hi, BandRelaxed: relaxed}
	tol := o.cfg.Optimizer.Tolerance
	for res.Iterations < o.cfg.Optimizer.MaxIterations {
		if ctx.Err() != nil {
			res.Partial = true
			break
		}
		i, j := f.pick()
		if i < 0 || j < 0 {
			break
		}
		mi, mj := ks[i].MarginalSaving(f.v[i]), ks[j].MarginalSaving(f.v[j])
		if mi-mj <= tol*math.Max(1, math.Abs(mi)) {
			break
		}
		res.Iterations++
		if !f.transfer(i, j) {
			break
		}
	}

	res.Kinematics = ks
	res.Legs = make([]LegSpeed, len(ks))
	at := depart
	for i, k := range ks {
		h := k.Hours(f.v[i])
		fuel := k.Fuel(f.v[i])
		res.Legs[i] = LegSpeed{Leg: k.Leg, SpeedKn: f.v[i], DepartAt: at, DurationH: h, FuelT: fuel}
		res.TotalHours += h
		res.TotalFuelT += fuel
		at = at.Add(time.Duration(h * float64(time.Hour)))
	}
	res.ArrivalAt = at
	return res, nil
}

// pick returns the leg that gains most from an extra hour and the leg where
// giving up an hour costs least. Scans run in leg order with strict
// comparisons so ties resolve to the lower index.
func (f *fill) pick() (int, int) {
	const eps = 1e-9
	i, j := -1, -1
	var mi, mj float64
	for n, k := range f.ks {
		if f.v[n] <= f.lo[n]+eps {
			continue
		}
		if m := k.MarginalSaving(f.v[n]); i < 0 || m > mi {
			i, mi = n, m
		}
	}
	for n, k := range f.ks {
		if n == i || f.v[n] >= f.hi-eps {
			continue
		}
		if m := k.MarginalSaving(f.v[n]); j < 0 || m < mj {
			j, mj = n, m
		}
	}
	return i, j
}

// transfer moves time from leg j to leg i until their marginal savings meet
// or a speed bound is reached. It reports whether anything moved.
func (f *fill) transfer(i, j int) bool {
	dmax := math.Min(f.ks[i].Hours(f.lo[i])-f.t[i], f.t[j]-f.ks[j].Hours(f.hi))
	if dmax <= 1e-12 {
		return false
	}
	gap := func(d float64) float64 {
		return f.ks[i].MarginalSaving(f.speedAt(i, f.t[i]+d)) - f.ks[j].MarginalSaving(f.speedAt(j, f.t[j]-d))
	}
	d := dmax
	if gap(dmax) < 0 {
		a, b := 0.0, dmax
		for n := 0; n < 100 && b-a > 1e-12; n++ {
			mid := 0.5 * (a + b)
			if gap(mid) > 0 {
				a = mid
			} else {
				b = mid
			}
		}
		d = a
	}
	if d <= 1e-12 {
		return false
	}
	// j speeds up first so the schedule never exceeds the deadline
	f.v[j] = f.speedAt(j, f.t[j]-d)
	tj := f.ks[j].Hours(f.v[j])
	f.v[i] = f.speedAt(i, f.t[i]+(f.t[j]-tj))
	f.t[i], f.t[j] = f.ks[i].Hours(f.v[i]), tj
	return true
}

func sameSpeeds(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// IsInfeasible reports whether err is one of the structural infeasibility
// errors a caller may relax and retry.
func IsInfeasible(err error) bool {
	return errors.Is(err, ErrDeadlineInfeasible) || errors.Is(err, ErrBandInfeasible) ||
		errors.Is(err, legcost.ErrInfeasibleLeg) || errors.Is(err, ErrInvalidConstraints)
}
