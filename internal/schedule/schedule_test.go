package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"voyageopt/internal/config"
	"voyageopt/internal/env"
	"voyageopt/internal/geo"
	"voyageopt/internal/legcost"
	"voyageopt/internal/vessel"
)

var depart = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func at(h float64) time.Time { return depart.Add(time.Duration(h * float64(time.Hour))) }

func newOptimizer(t *testing.T, s env.Sampler) *Optimizer {
	t.Helper()
	cfg := config.Default()
	m, err := vessel.New(vessel.SampleContainer(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return New(legcost.New(m, cfg), s)
}

// three 480 nm legs eastward along the equator
func route() []legcost.Leg {
	var legs []legcost.Leg
	for i := 0; i < 3; i++ {
		legs = append(legs, legcost.Leg{
			ID:         fmt.Sprintf("L%d", i+1),
			From:       fmt.Sprintf("W%d", i),
			To:         fmt.Sprintf("W%d", i+1),
			Start:      geo.Position{Lon: float64(8 * i)},
			End:        geo.Position{Lon: float64(8 * (i + 1))},
			DistanceNM: 480,
		})
	}
	return legs
}

// heavy seas on the middle leg only
func roughMiddle() env.Sampler {
	return env.Func(func(_ context.Context, pos geo.Position, tm time.Time) (env.Sample, error) {
		s := env.Sample{Position: pos, Time: tm, Source: env.SourceForecast}
		if pos.Lon > 8 && pos.Lon < 16 {
			s.WaveHeightM = 4
		}
		return s, nil
	})
}

func TestDeadlineAtReferenceTransitIsUniform(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	res, err := o.Optimize(context.Background(), route(), depart, at(72), Constraints{})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	for i, v := range res.Speeds() {
		if math.Abs(v-20) > 1e-6 {
			t.Fatalf("leg %d speed %v, want 20", i, v)
		}
	}
	if math.Abs(res.TotalFuelT-540) > 1e-4 || res.Iterations != 0 {
		t.Fatalf("fuel=%v iterations=%d", res.TotalFuelT, res.Iterations)
	}
	if len(res.Legs) != 3 || res.Partial {
		t.Fatalf("profile: %+v", res)
	}
}

func TestLaxDeadlineSavesFuel(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	res, err := o.Optimize(context.Background(), route(), depart, at(80), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalFuelT >= 540 {
		t.Fatalf("lax deadline should burn less than 540 t, got %v", res.TotalFuelT)
	}
	if res.TotalHours > 80+1e-9 || math.Abs(res.Speeds()[0]-18) > 1e-6 {
		t.Fatalf("hours=%v speeds=%v", res.TotalHours, res.Speeds())
	}
}

func TestWaterFillingSlowsRoughLeg(t *testing.T) {
	o := newOptimizer(t, roughMiddle())
	res, err := o.Optimize(context.Background(), route(), depart, at(76), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	v := res.Speeds()
	if !(v[1] < v[0]) || math.Abs(v[0]-v[2]) > 1e-4 {
		t.Fatalf("speeds: %v", v)
	}
	// marginal savings scale with factor*v^3, factor 1.32 on the rough leg
	if r := v[0] / v[1]; math.Abs(r-math.Cbrt(1.32)) > 1e-3 {
		t.Fatalf("speed ratio %v, want %v", r, math.Cbrt(1.32))
	}
	if res.TotalFuelT >= res.BaselineFuelT-1e-6 {
		t.Fatalf("reallocation should beat uniform: %v vs %v", res.TotalFuelT, res.BaselineFuelT)
	}
	if res.TotalHours > 76+1e-6 {
		t.Fatalf("deadline exceeded: %v", res.TotalHours)
	}
	if !res.ArrivalAt.After(depart) || !res.Legs[2].DepartAt.After(res.Legs[1].DepartAt) {
		t.Fatalf("departure times not chained: %+v", res.Legs)
	}
}

func TestDeadlineInfeasible(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	_, err := o.Optimize(context.Background(), route(), depart, at(50), Constraints{})
	var de *DeadlineInfeasibleError
	if !errors.As(err, &de) || !errors.Is(err, ErrDeadlineInfeasible) {
		t.Fatalf("want DeadlineInfeasibleError, got %v", err)
	}
	if math.Abs(de.RequiredH-57.6) > 1e-9 || math.Abs(de.ShortfallH-7.6) > 1e-9 || de.MaxSpeedKn != 25 {
		t.Fatalf("detail: %+v", de)
	}
}

func TestBandInfeasibleOnlyWhenRequired(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	_, err := o.Optimize(context.Background(), route(), depart, at(62), Constraints{RequireBand: true})
	var be *BandInfeasibleError
	if !errors.As(err, &be) || math.Abs(be.RequiredH-1440/21.25) > 1e-9 {
		t.Fatalf("want BandInfeasibleError, got %v", err)
	}
	res, err := o.Optimize(context.Background(), route(), depart, at(62), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.BandRelaxed || math.Abs(res.Speeds()[0]-1440.0/62) > 1e-6 {
		t.Fatalf("relaxed schedule: %+v", res)
	}
}

func TestEarlyArrivalClampsToBand(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	res, err := o.Optimize(context.Background(), route(), depart, at(1000), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range res.Speeds() {
		if math.Abs(v-17.5) > 1e-9 {
			t.Fatalf("speeds %v, want band floor 17.5", res.Speeds())
		}
	}
	if !res.ArrivalAt.Before(at(1000)) {
		t.Fatalf("arrival %v", res.ArrivalAt)
	}
}

func TestSpeedLimitsApply(t *testing.T) {
	o := newOptimizer(t, env.Calm{})
	if _, err := o.Optimize(context.Background(), route(), depart, at(80), Constraints{MinSpeedKn: 22, MaxSpeedKn: 21}); !errors.Is(err, ErrInvalidConstraints) {
		t.Fatalf("crossed limits: %v", err)
	}
	_, err := o.Optimize(context.Background(), route(), depart, at(65), Constraints{MaxSpeedKn: 21})
	if !errors.Is(err, ErrDeadlineInfeasible) {
		t.Fatalf("max speed limit should bind: %v", err)
	}
}

func TestCancelledOptimizeIsPartial(t *testing.T) {
	o := newOptimizer(t, roughMiddle())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Optimize(ctx, route(), depart, at(76), Constraints{})
	if err != nil {
		t.Fatalf("partial optimize: %v", err)
	}
	if !res.Partial || res.Iterations != 0 || res.TotalHours > 76+1e-9 {
		t.Fatalf("partial: %+v", res)
	}
}

func TestInstantWindowMatchesOptimizer(t *testing.T) {
	o := newOptimizer(t, roughMiddle())
	c := NewCoordinator(o)
	want, err := o.Optimize(context.Background(), route(), depart, at(76), Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Plan(context.Background(), route(), depart, Window{Earliest: at(76), Latest: at(76)}, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Edge != EdgeInstant || !reflect.DeepEqual(got.Speeds(), want.Speeds()) || got.TotalFuelT != want.TotalFuelT {
		t.Fatalf("instant window %+v differs from optimizer %+v", got.Result, want)
	}
}

func TestWindowPicksLatestEdge(t *testing.T) {
	c := NewCoordinator(newOptimizer(t, env.Calm{}))
	a, err := c.Plan(context.Background(), route(), depart, Window{Earliest: at(72), Latest: at(80)}, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Edge != EdgeLatest || a.WaitH != 0 || !a.Target.Equal(at(80)) {
		t.Fatalf("arrival: edge=%s wait=%v target=%v", a.Edge, a.WaitH, a.Target)
	}
}

func TestWindowTieGoesToEarliest(t *testing.T) {
	c := NewCoordinator(newOptimizer(t, env.Calm{}))
	a, err := c.Plan(context.Background(), route(), depart, Window{Earliest: at(100), Latest: at(120)}, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	// both edges sail at the band floor and wait for the berth
	if a.Edge != EdgeEarliest || math.Abs(a.WaitH-(100-1440/17.5)) > 1e-6 {
		t.Fatalf("arrival: edge=%s wait=%v", a.Edge, a.WaitH)
	}
}

func TestWindowEarliestUnreachable(t *testing.T) {
	c := NewCoordinator(newOptimizer(t, env.Calm{}))
	a, err := c.Plan(context.Background(), route(), depart, Window{Earliest: at(50), Latest: at(80)}, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Edge != EdgeLatest {
		t.Fatalf("edge: %s", a.Edge)
	}
	if _, err := c.Plan(context.Background(), route(), depart, Window{Earliest: at(80), Latest: at(70)}, Constraints{}); !errors.Is(err, ErrInvalidConstraints) {
		t.Fatalf("inverted window: %v", err)
	}
}

func TestRecomputeFromProgress(t *testing.T) {
	c := NewCoordinator(newOptimizer(t, env.Calm{}))
	p := Progress{LegIndex: 1, FractionDone: 0.5, At: at(36)}
	a, err := c.Recompute(context.Background(), route(), p, Window{Earliest: at(76), Latest: at(76)}, Constraints{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Legs) != 2 || a.Legs[0].Leg.ID != "L2/remaining" || math.Abs(a.Legs[0].Leg.DistanceNM-240) > 1e-9 {
		t.Fatalf("residual legs: %+v", a.Legs)
	}
	for _, v := range a.Speeds() {
		if math.Abs(v-18) > 1e-6 {
			t.Fatalf("residual speeds %v, want 18", a.Speeds())
		}
	}
	if !a.Legs[0].DepartAt.Equal(at(36)) {
		t.Fatalf("residual departs %v", a.Legs[0].DepartAt)
	}
	if _, err := Remaining(route(), Progress{LegIndex: 3, At: at(1)}); err == nil {
		t.Fatalf("out of range leg index should fail")
	}
}
