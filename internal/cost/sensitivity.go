package cost

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Point is a uniform-speed voyage outcome to be priced.
type Point struct {
	SpeedKn float64 `json:"speedKn"`
	Input   Input   `json:"-"`
}

// EconomicSpeed prices every point and returns the cheapest. Equal totals go
// to the faster point.
func (a *Aggregator) EconomicSpeed(ctx context.Context, points []Point) (Point, Breakdown, error) {
	if len(points) == 0 {
		return Point{}, Breakdown{}, errors.New("economic speed: no points")
	}
	var (
		best  Point
		bestB Breakdown
		found bool
	)
	for _, p := range points {
		b, err := a.Breakdown(ctx, p.Input)
		if err != nil {
			return Point{}, Breakdown{}, err
		}
		if !found || b.Total.LessThan(bestB.Total) || (b.Total.Equal(bestB.Total) && p.SpeedKn > best.SpeedKn) {
			best, bestB, found = p, b, true
		}
	}
	return best, bestB, nil
}

type Parameter string

const (
	ParamFuelPrice     Parameter = "fuel_price"
	ParamCharterRate   Parameter = "charter_day_rate"
	ParamInventoryRate Parameter = "inventory_rate"
	ParamCarbonPrice   Parameter = "carbon_price"
)

// DefaultFactors is the variation grid used when the caller gives none:
// six steps from half to double the base value, up to triple for carbon.
func DefaultFactors(p Parameter) []float64 {
	top := 2.0
	if p == ParamCarbonPrice {
		top = 3.0
	}
	out := make([]float64, 6)
	for i := range out {
		out[i] = 0.5 + (top-0.5)*float64(i)/5
	}
	return out
}

type SensitivityRow struct {
	Factor          float64         `json:"factor"`
	Value           float64         `json:"value"`
	EconomicSpeedKn float64         `json:"economicSpeedKn"`
	Total           decimal.Decimal `json:"total"`
}

// Sensitivity re-runs EconomicSpeed with one parameter scaled by each factor.
func (a *Aggregator) Sensitivity(ctx context.Context, param Parameter, factors []float64, points []Point) ([]SensitivityRow, error) {
	if len(factors) == 0 {
		factors = DefaultFactors(param)
	}
	rows := make([]SensitivityRow, 0, len(factors))
	for _, f := range factors {
		econ := a.econ
		var value float64
		prices := a.prices
		switch param {
		case ParamFuelPrice:
			prices = scaled{inner: a.prices, k: f}
			value = f
		case ParamCharterRate:
			econ.CharterDayRate *= f
			value = econ.CharterDayRate
		case ParamInventoryRate:
			econ.InventoryRatePct *= f
			value = econ.InventoryRatePct
		case ParamCarbonPrice:
			econ.CarbonPrice *= f
			value = econ.CarbonPrice
		default:
			return nil, fmt.Errorf("unknown sensitivity parameter %q", param)
		}
		agg := &Aggregator{econ: econ, prices: prices}
		p, b, err := agg.EconomicSpeed(ctx, points)
		if err != nil {
			return nil, err
		}
		rows = append(rows, SensitivityRow{Factor: f, Value: value, EconomicSpeedKn: p.SpeedKn, Total: b.Total})
	}
	return rows, nil
}

// scaled multiplies every price of inner by k.
type scaled struct {
	inner PriceLookup
	k     float64
}

func (s scaled) FuelPrice(ctx context.Context, fuelType string) (float64, error) {
	v, err := s.inner.FuelPrice(ctx, fuelType)
	return v * s.k, err
}
