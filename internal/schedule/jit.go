package schedule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"voyageopt/internal/geo"
	"voyageopt/internal/legcost"
)

// Window is a berth-availability window. Earliest == Latest is an instant.
type Window struct {
	Earliest time.Time `json:"earliest" yaml:"earliest"`
	Latest   time.Time `json:"latest" yaml:"latest"`
}

func (w Window) Validate() error {
	if w.Earliest.IsZero() || w.Latest.IsZero() {
		return fmt.Errorf("%w: berth window needs earliest and latest", ErrInvalidConstraints)
	}
	if w.Latest.Before(w.Earliest) {
		return fmt.Errorf("%w: berth window latest %s is before earliest %s", ErrInvalidConstraints,
			w.Latest.Format(time.RFC3339), w.Earliest.Format(time.RFC3339))
	}
	return nil
}

// Instant reports whether the window collapses to a single time.
func (w Window) Instant() bool { return w.Earliest.Equal(w.Latest) }

const (
	EdgeEarliest = "earliest"
	EdgeLatest   = "latest"
	EdgeInstant  = "instant"
)

// Arrival is a schedule planned against a berth window.
type Arrival struct {
	Result
	Window Window    `json:"window"`
	Edge   string    `json:"edge"`
	Target time.Time `json:"target"`
	WaitH  float64   `json:"waitH"`
}

// Progress locates the vessel on its route when a plan is recomputed.
type Progress struct {
	LegIndex     int           `json:"legIndex"`
	FractionDone float64       `json:"fractionDone"`
	Position     *geo.Position `json:"position,omitempty"`
	At           time.Time     `json:"at"`
}

// Coordinator plans arrivals into a berth window on top of an Optimizer.
type Coordinator struct {
	opt *Optimizer
}

func NewCoordinator(o *Optimizer) *Coordinator { return &Coordinator{opt: o} }

// Plan solves the schedule for each window edge and keeps the one burning
// less fuel. Equal fuel goes to the shorter berth wait, then to the earlier
// edge.
func (c *Coordinator) Plan(ctx context.Context, legs []legcost.Leg, depart time.Time, w Window, cons Constraints) (Arrival, error) {
	if err := w.Validate(); err != nil {
		return Arrival{}, err
	}
	if w.Instant() {
		r, err := c.opt.Optimize(ctx, legs, depart, w.Latest, cons)
		if err != nil {
			return Arrival{}, err
		}
		return arrival(r, w, EdgeInstant, w.Latest), nil
	}
	early, errE := c.opt.Optimize(ctx, legs, depart, w.Earliest, cons)
	late, errL := c.opt.Optimize(ctx, legs, depart, w.Latest, cons)
	switch {
	case errL != nil:
		return Arrival{}, errL
	case errE != nil:
		if !IsInfeasible(errE) {
			return Arrival{}, errE
		}
		return arrival(late, w, EdgeLatest, w.Latest), nil
	}
	a := arrival(early, w, EdgeEarliest, w.Earliest)
	b := arrival(late, w, EdgeLatest, w.Latest)
	if better(b, a) {
		return b, nil
	}
	return a, nil
}

// better reports whether b beats a. a is the earlier edge.
func better(b, a Arrival) bool {
	const eps = 1e-9
	if math.Abs(b.TotalFuelT-a.TotalFuelT) > eps*math.Max(1, a.TotalFuelT) {
		return b.TotalFuelT < a.TotalFuelT
	}
	return b.WaitH < a.WaitH-eps
}

func arrival(r Result, w Window, edge string, target time.Time) Arrival {
	a := Arrival{Result: r, Window: w, Edge: edge, Target: target}
	if r.ArrivalAt.Before(w.Earliest) {
		a.WaitH = w.Earliest.Sub(r.ArrivalAt).Hours()
	}
	return a
}

// Recompute plans the rest of the voyage from p against a new window. The
// remaining route is solved from scratch; the previous profile is not reused.
func (c *Coordinator) Recompute(ctx context.Context, legs []legcost.Leg, p Progress, w Window, cons Constraints) (Arrival, error) {
	rest, err := Remaining(legs, p)
	if err != nil {
		return Arrival{}, err
	}
	return c.Plan(ctx, rest, p.At, w, cons)
}

// Remaining cuts legs at the vessel's progress. The current leg is replaced
// by a leg from the vessel position to its end waypoint.
func Remaining(legs []legcost.Leg, p Progress) ([]legcost.Leg, error) {
	if p.LegIndex < 0 || p.LegIndex >= len(legs) {
		return nil, fmt.Errorf("%w: leg index %d outside route of %d legs", ErrInvalidConstraints, p.LegIndex, len(legs))
	}
	if p.FractionDone < 0 || p.FractionDone >= 1 {
		return nil, fmt.Errorf("%w: fraction done %.3f must be in [0,1)", ErrInvalidConstraints, p.FractionDone)
	}
	if p.At.IsZero() {
		return nil, errors.New("progress needs a timestamp")
	}
	cur := legs[p.LegIndex]
	out := make([]legcost.Leg, 0, len(legs)-p.LegIndex)
	if p.FractionDone == 0 && p.Position == nil {
		out = append(out, cur)
	} else {
		pos := geo.Intermediate(cur.Start, cur.End, p.FractionDone)
		dist := cur.DistanceNM * (1 - p.FractionDone)
		if p.Position != nil {
			pos = *p.Position
			dist = geo.DistanceNM(pos, cur.End)
		}
		if dist <= 0 {
			return nil, fmt.Errorf("%w: vessel already at %s", ErrInvalidConstraints, cur.To)
		}
		out = append(out, legcost.Leg{
			ID:         cur.ID + "/remaining",
			From:       "position",
			To:         cur.To,
			Start:      pos,
			End:        cur.End,
			DistanceNM: dist,
		})
	}
	out = append(out, legs[p.LegIndex+1:]...)
	return out, nil
}
