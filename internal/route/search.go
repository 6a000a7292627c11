package route

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"voyageopt/internal/config"
	"voyageopt/internal/env"
	"voyageopt/internal/geo"
	"voyageopt/internal/legcost"
	"voyageopt/internal/schedule"
)

// ErrNoFeasiblePath means the frontier emptied before reaching the destination.
var ErrNoFeasiblePath = errors.New("no feasible path")

// Prefetcher is implemented by samplers that can warm up a batch of queries.
type Prefetcher interface {
	Prefetch(ctx context.Context, qs []env.Query) error
}

type Options struct {
	Evaluator   *legcost.Evaluator
	Sampler     env.Sampler
	Policy      SpeedPolicy
	// Constraints bound every candidate speed the policy yields.
	Constraints schedule.Constraints
	Weights     config.Objective
	Parallelism int
}

// Step is one leg of a found path.
type Step struct {
	Leg      legcost.Leg    `json:"leg"`
	DepartAt time.Time      `json:"departAt"`
	Result   legcost.Result `json:"result"`
	Cost     float64        `json:"cost"`
}

type Result struct {
	Path       []NodeID `json:"path"`
	Steps      []Step   `json:"steps"`
	Cost       float64  `json:"cost"`
	Hours      float64  `json:"hours"`
	Partial    bool     `json:"partial"`
	Policy     string   `json:"policy"`
	Expanded   int      `json:"expanded"`
	Evaluated  int      `json:"evaluated"`
	Infeasible int      `json:"infeasible"`
}

// Objective scores a leg result under w. All-zero weights mean fuel only.
func Objective(w config.Objective, r legcost.Result) float64 {
	if w.Fuel == 0 && w.Time == 0 && w.CO2 == 0 {
		return r.FuelT
	}
	return w.Fuel*r.FuelT + w.Time*r.DurationH + w.CO2*r.Emissions.CO2T
}

type label struct {
	node  NodeID
	cost  float64
	hours float64
	path  []NodeID
	steps []Step
}

// less orders labels by cost, then elapsed time, then node path.
func less(a, b *label) bool {
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.hours != b.hours {
		return a.hours < b.hours
	}
	return comparePaths(a.path, b.path) < 0
}

func comparePaths(a, b []NodeID) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

type frontier []*label

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return less(f[i], f[j]) }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)        { *f = append(*f, x.(*label)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

type job struct {
	edge  int
	speed float64
}

type outcome struct {
	res legcost.Result
	err error
}

// Search runs a best-first search from origin to dest. When ctx is done
// before dest is settled the best path so far is returned with Partial set.
func Search(ctx context.Context, g *Graph, origin, dest NodeID, depart time.Time, opts Options) (Result, error) {
	if _, ok := g.Node(origin); !ok {
		return Result{}, fmt.Errorf("unknown origin %s", origin)
	}
	destNode, ok := g.Node(dest)
	if !ok {
		return Result{}, fmt.Errorf("unknown destination %s", dest)
	}
	if opts.Evaluator == nil || opts.Sampler == nil {
		return Result{}, errors.New("search needs an evaluator and a sampler")
	}
	if opts.Policy == nil {
		opts.Policy = ReferenceSpeed{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	speeds, err := candidates(opts.Policy, opts.Evaluator.Model(), opts.Constraints)
	if err != nil {
		return Result{}, err
	}
	out := Result{Policy: opts.Policy.Name()}

	settled := map[NodeID]*label{}
	tentative := map[NodeID]*label{}
	start := &label{node: origin, path: []NodeID{origin}}
	tentative[origin] = start
	fr := &frontier{start}

	partial := func() (Result, error) {
		best := bestProgress(g, settled, destNode)
		if best == nil {
			best = start
		}
		out.Path, out.Steps, out.Cost, out.Hours = best.path, best.steps, best.cost, best.hours
		out.Partial = true
		return out, nil
	}

	for fr.Len() > 0 {
		if ctx.Err() != nil {
			return partial()
		}
		cur := heap.Pop(fr).(*label)
		if _, done := settled[cur.node]; done {
			continue
		}
		settled[cur.node] = cur
		out.Expanded++
		if cur.node == dest {
			out.Path, out.Steps, out.Cost, out.Hours = cur.path, cur.steps, cur.cost, cur.hours
			return out, nil
		}
		var edges []Edge
		for _, e := range g.Out(cur.node) {
			if _, done := settled[e.To]; !done {
				edges = append(edges, e)
			}
		}
		if len(edges) == 0 {
			continue
		}
		at := depart.Add(time.Duration(cur.hours * float64(time.Hour)))
		results, err := evaluateEdges(ctx, g, edges, speeds, at, opts)
		if err != nil {
			if ctx.Err() != nil {
				return partial()
			}
			return out, err
		}
		out.Evaluated += len(edges) * len(speeds)
		for i, e := range edges {
			var pick *legcost.Result
			pickCost := 0.0
			for j := range speeds {
				o := results[i*len(speeds)+j]
				if o.err != nil {
					continue
				}
				c := Objective(opts.Weights, o.res)
				if pick == nil || c < pickCost || (c == pickCost && o.res.DurationH < pick.DurationH) {
					r := o.res
					pick, pickCost = &r, c
				}
			}
			if pick == nil {
				out.Infeasible++
				continue
			}
			next := &label{
				node:  e.To,
				cost:  cur.cost + pickCost,
				hours: cur.hours + pick.DurationH,
				path:  append(append([]NodeID(nil), cur.path...), e.To),
				steps: append(append([]Step(nil), cur.steps...), Step{Leg: g.Leg(e), DepartAt: at, Result: *pick, Cost: pickCost}),
			}
			if old, ok := tentative[e.To]; ok && !less(next, old) {
				continue
			}
			tentative[e.To] = next
			heap.Push(fr, next)
		}
	}
	return out, fmt.Errorf("%w from %s to %s: %d edge evaluations infeasible", ErrNoFeasiblePath, origin, dest, out.Infeasible)
}

// evaluateEdges costs every (edge, speed) pair concurrently. Results are
// indexed edge-major so the caller's scan order is fixed. Infeasible legs
// are reported per slot; any other error aborts.
func evaluateEdges(ctx context.Context, g *Graph, edges []Edge, speeds []float64, at time.Time, opts Options) ([]outcome, error) {
	ev := opts.Evaluator
	if pf, ok := opts.Sampler.(Prefetcher); ok {
		var qs []env.Query
		for _, e := range edges {
			for _, v := range speeds {
				qs = append(qs, ev.SampleKeys(g.Leg(e), v, at)...)
			}
		}
		if err := pf.Prefetch(ctx, qs); err != nil {
			return nil, err
		}
	}
	jobs := make([]job, 0, len(edges)*len(speeds))
	for i := range edges {
		for _, v := range speeds {
			jobs = append(jobs, job{edge: i, speed: v})
		}
	}
	results := make([]outcome, len(jobs))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Parallelism)
	for i, jb := range jobs {
		eg.Go(func() error {
			res, err := ev.EvaluateAt(egctx, g.Leg(edges[jb.edge]), jb.speed, at, opts.Sampler)
			if err != nil && !errors.Is(err, legcost.ErrInfeasibleLeg) {
				return err
			}
			results[i] = outcome{res: res, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// bestProgress picks the settled label nearest the destination.
func bestProgress(g *Graph, settled map[NodeID]*label, dest Node) *label {
	var best *label
	bestD := 0.0
	for _, l := range settled {
		n, _ := g.Node(l.node)
		d := geo.DistanceNM(n.Position, dest.Position)
		if best == nil || d < bestD || (d == bestD && less(l, best)) {
			best, bestD = l, d
		}
	}
	return best
}
