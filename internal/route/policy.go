package route

import (
	"fmt"
	"math"

	"voyageopt/internal/schedule"
	"voyageopt/internal/vessel"
)

// SpeedPolicy decides which speeds through water the search tries on each leg.
type SpeedPolicy interface {
	Name() string
	Candidates(m *vessel.Model) []float64
}

// FixedSpeed sails every leg at one speed. A speed outside the vessel's
// navigable range yields no candidates.
type FixedSpeed struct{ Kn float64 }

func (p FixedSpeed) Name() string { return "fixed" }
func (p FixedSpeed) Candidates(m *vessel.Model) []float64 {
	lo, hi := m.NavigableRange()
	if p.Kn < lo-speedEps || p.Kn > hi+speedEps {
		return nil
	}
	return []float64{p.Kn}
}

// ReferenceSpeed sails every leg at the vessel's reference speed.
type ReferenceSpeed struct{}

func (ReferenceSpeed) Name() string { return "reference" }
func (ReferenceSpeed) Candidates(m *vessel.Model) []float64 {
	return []float64{m.Profile().RefSpeedKn}
}

// Delegate searches at reference speed and leaves the per-leg speed choice
// to the schedule optimizer once the path is known.
type Delegate struct{}

func (Delegate) Name() string { return "delegate" }
func (Delegate) Candidates(m *vessel.Model) []float64 {
	return []float64{m.Profile().RefSpeedKn}
}

// GridSpeed tries evenly spaced speeds and keeps the cheapest per leg. With
// BandOnly set the grid is limited to the efficient-load band.
type GridSpeed struct {
	StepKn   float64
	BandOnly bool
}

func (GridSpeed) Name() string { return "grid" }

func (p GridSpeed) Candidates(m *vessel.Model) []float64 {
	lo, hi := m.NavigableRange()
	if p.BandOnly {
		blo, bhi := m.BandSpeeds()
		lo, hi = math.Max(lo, blo), math.Min(hi, bhi)
	}
	if hi < lo {
		return nil
	}
	step := p.StepKn
	if step <= 0 {
		step = 0.5
	}
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	out := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, lo+float64(i)*step)
	}
	if last := out[len(out)-1]; hi-last > 1e-9 {
		out = append(out, hi)
	}
	return out
}

const speedEps = 1e-9

// candidates returns the speeds p may try on m under c. The reference-speed
// policies are clamped into the allowed range; the others lose the speeds
// that fall outside it.
func candidates(p SpeedPolicy, m *vessel.Model, c schedule.Constraints) ([]float64, error) {
	lo, hi, err := c.Allowed(m)
	if err != nil {
		return nil, err
	}
	raw := p.Candidates(m)
	if len(raw) == 0 {
		nlo, nhi := m.NavigableRange()
		return nil, fmt.Errorf("%w: speed policy %s yields no candidate speeds in the navigable range [%.2f, %.2f] kn",
			schedule.ErrInvalidConstraints, p.Name(), nlo, nhi)
	}
	out := make([]float64, 0, len(raw))
	switch p.(type) {
	case ReferenceSpeed, Delegate:
		for _, v := range raw {
			out = append(out, math.Min(math.Max(v, lo), hi))
		}
	default:
		for _, v := range raw {
			if v >= lo-speedEps && v <= hi+speedEps {
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: speed policy %s has no candidate speed within [%.2f, %.2f] kn",
			schedule.ErrInvalidConstraints, p.Name(), lo, hi)
	}
	return out, nil
}
