package opt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"voyageopt/internal/config"
	"voyageopt/internal/cost"
	"voyageopt/internal/geo"
	"voyageopt/internal/route"
	"voyageopt/internal/schedule"
	"voyageopt/internal/vessel"
)

var depart = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func at(h float64) time.Time { return depart.Add(time.Duration(h * float64(time.Hour))) }

// four waypoints 480 nm apart along the equator
func line(t *testing.T) *route.Graph {
	t.Helper()
	var nodes []route.Node
	var edges []route.Edge
	for i := 0; i < 4; i++ {
		nodes = append(nodes, route.Node{ID: fmt.Sprintf("W%d", i), Position: geo.Position{Lon: float64(8 * i)}})
		if i > 0 {
			edges = append(edges, route.Edge{From: fmt.Sprintf("W%d", i-1), To: fmt.Sprintf("W%d", i), DistanceNM: 480})
		}
	}
	g, err := route.NewGraph(nodes, edges)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func request(t *testing.T) Request {
	return Request{
		Vessel:      vessel.SampleContainer(),
		Graph:       line(t),
		Origin:      "W0",
		Destination: "W3",
		Depart:      depart,
		TimeBudget:  time.Minute,
	}
}

func TestOptimizeWithoutDeadlineSailsReferenceSpeed(t *testing.T) {
	e := New(config.Default())
	p, m, err := e.Optimize(context.Background(), request(t))
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !reflect.DeepEqual(p.Path, []route.NodeID{"W0", "W1", "W2", "W3"}) || len(p.Legs) != 3 {
		t.Fatalf("path %v legs %d", p.Path, len(p.Legs))
	}
	sum := 0.0
	for _, l := range p.Legs {
		sum += l.FuelT
	}
	if p.Totals.FuelT != sum {
		t.Fatalf("total fuel %v is not the leg sum %v", p.Totals.FuelT, sum)
	}
	if math.Abs(p.Totals.FuelT-540) > 1e-6 || math.Abs(p.Totals.DurationH-72) > 1e-6 {
		t.Fatalf("totals %+v", p.Totals)
	}
	if !p.ArrivalAt.Equal(at(72)) {
		t.Fatalf("arrival %v", p.ArrivalAt)
	}
	if p.Baseline == nil || p.Deltas == nil || p.Deltas.FuelT != 0 {
		t.Fatalf("reference plan should match its baseline: %+v", p.Deltas)
	}
	if p.CII == nil || p.Totals.Cost.Total.IsZero() {
		t.Fatalf("missing cii or cost: %+v", p)
	}
	if m.Partial || m.Evaluated == 0 {
		t.Fatalf("metrics %+v", m)
	}
}

func TestOptimizeDeadlineSlowsDown(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	deadline := at(80)
	req.Deadline = &deadline
	p, _, err := e.Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if p.Policy != (route.Delegate{}).Name() {
		t.Fatalf("policy %s", p.Policy)
	}
	for i, ls := range p.SpeedProfile {
		if math.Abs(ls.SpeedKn-18) > 1e-3 {
			t.Fatalf("leg %d speed %v, want 18", i, ls.SpeedKn)
		}
	}
	if p.ArrivalAt.After(deadline.Add(time.Second)) {
		t.Fatalf("arrives %v after deadline %v", p.ArrivalAt, deadline)
	}
	if p.Deltas == nil || p.Deltas.FuelT >= 0 || p.Deltas.FuelPct >= 0 || p.Deltas.DurationH <= 0 {
		t.Fatalf("expected fuel savings against the baseline: %+v", p.Deltas)
	}
	if !p.Deltas.Cost.Fuel.IsNegative() {
		t.Fatalf("fuel cost should drop: %+v", p.Deltas.Cost)
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	deadline := at(78)
	req.Deadline = &deadline
	var prev []byte
	for i := 0; i < 3; i++ {
		p, _, err := e.Optimize(context.Background(), req)
		if err != nil {
			t.Fatalf("optimize: %v", err)
		}
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		if prev != nil && !bytes.Equal(prev, b) {
			t.Fatalf("run %d differs:\n%s\n%s", i, prev, b)
		}
		prev = b
	}
}

func TestTinyBudgetReturnsPartial(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.TimeBudget = time.Nanosecond
	p, m, err := e.Optimize(context.Background(), req)
	if err != nil && !errors.Is(err, ErrPartial) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Partial || !m.Partial {
		t.Fatalf("plan should be partial: %+v %+v", p, m)
	}
}

func TestInvalidRequests(t *testing.T) {
	e := New(config.Default())
	cases := map[string]func(*Request){
		"no graph":       func(r *Request) { r.Graph = nil },
		"no departure":   func(r *Request) { r.Depart = time.Time{} },
		"unknown origin": func(r *Request) { r.Origin = "X" },
		"same endpoints": func(r *Request) { r.Destination = "W0" },
		"short path":     func(r *Request) { r.Path = []route.NodeID{"W0"} },
		"bad vessel":     func(r *Request) { r.Vessel.RefSpeedKn = 0 },
	}
	for name, mut := range cases {
		req := request(t)
		mut(&req)
		if _, _, err := e.Optimize(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: want ErrInvalidRequest, got %v", name, err)
		}
	}
}

func TestInfeasibleDeadlineIsReported(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	deadline := at(50)
	req.Deadline = &deadline
	_, _, err := e.Optimize(context.Background(), req)
	var de *schedule.DeadlineInfeasibleError
	if !errors.As(err, &de) || math.Abs(de.ShortfallH-7.6) > 1e-6 {
		t.Fatalf("want deadline shortfall 7.6 h, got %v", err)
	}
}

func TestSpeedLimitsBindPlansWithoutDeadline(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.Constraints = schedule.Constraints{MaxSpeedKn: 15}
	p, _, err := e.Optimize(context.Background(), req)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	for i, ls := range p.SpeedProfile {
		if ls.SpeedKn != 15 {
			t.Fatalf("leg %d speed %v, want the 15 kn limit", i, ls.SpeedKn)
		}
	}
	if math.Abs(p.Totals.DurationH-96) > 1e-6 {
		t.Fatalf("duration %v, want 96 h", p.Totals.DurationH)
	}
	// the baseline stays at reference speed
	if p.Baseline == nil || math.Abs(p.Baseline.Totals.DurationH-72) > 1e-6 {
		t.Fatalf("baseline %+v", p.Baseline)
	}

	req.Constraints = schedule.Constraints{MinSpeedKn: 22, MaxSpeedKn: 23, RequireBand: true}
	if _, _, err := e.Optimize(context.Background(), req); !errors.Is(err, schedule.ErrBandInfeasible) {
		t.Fatalf("band outside the limits: %v", err)
	}
}

func TestFixedSpeedPolicyStaysWithinVesselRange(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.Policy = route.FixedSpeed{Kn: 40}
	if _, _, err := e.Optimize(context.Background(), req); !errors.Is(err, schedule.ErrInvalidConstraints) {
		t.Fatalf("40 kn on a 25 kn vessel: %v", err)
	}
	req.Policy = route.FixedSpeed{Kn: 16}
	req.Constraints = schedule.Constraints{MinSpeedKn: 17}
	if _, _, err := e.Optimize(context.Background(), req); !errors.Is(err, schedule.ErrInvalidConstraints) {
		t.Fatalf("16 kn under a 17 kn minimum: %v", err)
	}
}

func TestRecommendAlternativesRespectSpeedLimits(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.Constraints = schedule.Constraints{MinSpeedKn: 12, MaxSpeedKn: 15}
	plans, _, err := e.Recommend(context.Background(), req)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	labels := map[string]bool{}
	for _, p := range plans {
		labels[p.Label] = true
		for i, ls := range p.SpeedProfile {
			if ls.SpeedKn < 12-1e-9 || ls.SpeedKn > 15+1e-9 {
				t.Fatalf("%s leg %d speed %v outside [12, 15]", p.Label, i, ls.SpeedKn)
			}
		}
	}
	if !labels["reference"] || !labels["economic"] {
		t.Fatalf("alternatives %v", labels)
	}
}

func TestRecommendRanksAlternatives(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.Berth = &schedule.Window{Earliest: at(72), Latest: at(80)}
	plans, _, err := e.Recommend(context.Background(), req)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	labels := map[string]bool{}
	for i, p := range plans {
		labels[p.Label] = true
		if p.Rank != i+1 {
			t.Fatalf("plan %s rank %d at position %d", p.Label, p.Rank, i)
		}
		if i > 0 && p.Totals.Cost.Total.LessThan(plans[i-1].Totals.Cost.Total) {
			t.Fatalf("plans not ordered by cost: %s < %s", p.Label, plans[i-1].Label)
		}
	}
	for _, l := range []string{"optimized", "reference", "economic", "jit"} {
		if !labels[l] {
			t.Fatalf("missing alternative %s in %v", l, labels)
		}
	}
}

func TestRecomputeFromMidVoyage(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	req.Path = []route.NodeID{"W0", "W1", "W2", "W3"}
	prog := schedule.Progress{LegIndex: 1, FractionDone: 0.5, At: at(36)}
	p, _, err := e.Recompute(context.Background(), req, prog, schedule.Window{Earliest: at(72), Latest: at(80)})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if p.Label != "recomputed" || !reflect.DeepEqual(p.Path, []route.NodeID{"position", "W2", "W3"}) {
		t.Fatalf("plan %s path %v", p.Label, p.Path)
	}
	if p.Legs[0].LegID != "W1->W2/remaining" || math.Abs(p.Totals.DistanceNM-720) > 1e-6 {
		t.Fatalf("residual legs %+v", p.Legs)
	}
	// the latest edge is below the band so the speed clamps at 17.5 kn
	if p.Berth == nil || p.Berth.Edge != schedule.EdgeLatest {
		t.Fatalf("berth %+v", p.Berth)
	}
	for _, ls := range p.SpeedProfile {
		if math.Abs(ls.SpeedKn-17.5) > 1e-3 {
			t.Fatalf("speed %v, want 17.5", ls.SpeedKn)
		}
	}
	if p.Baseline == nil || p.Baseline.Totals.DistanceNM != p.Totals.DistanceNM {
		t.Fatalf("baseline %+v", p.Baseline)
	}
	if _, _, err := e.Recompute(context.Background(), req, schedule.Progress{LegIndex: 5, At: at(1)}, schedule.Window{Earliest: at(72), Latest: at(80)}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("bad progress: %v", err)
	}
}

func TestSpeedSweepAndEconomicSpeed(t *testing.T) {
	e := New(config.Default())
	req := request(t)
	pts, _, err := e.SpeedSweep(context.Background(), req, 10, 25, 1)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(pts) != 16 || pts[0].SpeedKn != 10 || pts[15].SpeedKn != 25 {
		t.Fatalf("grid %+v", pts)
	}
	for i, p := range pts {
		if !p.Feasible {
			t.Fatalf("calm sweep infeasible at %v", p.SpeedKn)
		}
		if i > 0 && (p.FuelT <= pts[i-1].FuelT || p.DurationH >= pts[i-1].DurationH) {
			t.Fatalf("sweep not monotonic at %v", p.SpeedKn)
		}
	}
	if !pts[10].Efficient || pts[0].Efficient || math.Abs(pts[10].EngineLoad-0.8) > 1e-9 {
		t.Fatalf("load flags: %+v %+v", pts[0], pts[10])
	}
	best, b, _, err := e.EconomicSpeed(context.Background(), req)
	if err != nil {
		t.Fatalf("economic speed: %v", err)
	}
	if !best.Feasible || !b.Total.Equal(best.Cost) {
		t.Fatalf("economic point %+v total %s", best, b.Total)
	}
	rows, _, err := e.Sensitivity(context.Background(), req, cost.ParamFuelPrice, nil)
	if err != nil || len(rows) != 6 {
		t.Fatalf("sensitivity: %v %+v", err, rows)
	}
	if _, _, err := e.Sensitivity(context.Background(), req, cost.Parameter("tide"), nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown parameter: %v", err)
	}
}

func TestMetricsStore(t *testing.T) {
	RecordPlans("t1", "v-42", []VoyagePlan{{Label: "optimized"}, {Label: "jit"}}, Metrics{Evaluated: 7})
	got := GetMetrics("t1", "v-42")
	if len(got) != 2 || got["jit"].Evaluated != 7 {
		t.Fatalf("metrics %+v", got)
	}
	if len(GetMetrics("t2", "v-42")) != 0 {
		t.Fatalf("tenants should not share metrics")
	}
	if v := Voyages("t1"); len(v) != 1 || v[0] != "v-42" {
		t.Fatalf("voyages %v", v)
	}
}
