// Package cost turns fuel, time and emissions into money and ranks voyage
// alternatives on the result.
package cost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"voyageopt/internal/config"
)

var ErrNoPrice = errors.New("no fuel price")

// PriceLookup returns the price of a fuel type in USD per tonne.
type PriceLookup interface {
	FuelPrice(ctx context.Context, fuelType string) (float64, error)
}

// StaticPrices is a fixed price table keyed by fuel type.
type StaticPrices map[string]float64

func (p StaticPrices) FuelPrice(_ context.Context, fuelType string) (float64, error) {
	v, ok := p[fuelType]
	if !ok {
		v, ok = p[strings.ToUpper(fuelType)]
	}
	if !ok {
		return 0, fmt.Errorf("%w for %s", ErrNoPrice, fuelType)
	}
	return v, nil
}

// Input is what one plan burned and how long it took.
type Input struct {
	FuelByType map[string]float64
	Hours      float64
	CO2T       float64
}

// Breakdown is the economic decomposition of one plan in USD. Total is
// the sum of the rounded components, with maintenance savings subtracted.
type Breakdown struct {
	FuelByType         map[string]decimal.Decimal `json:"fuelByType"`
	Fuel               decimal.Decimal            `json:"fuel"`
	Charter            decimal.Decimal            `json:"charter"`
	CargoDepreciation  decimal.Decimal            `json:"cargoDepreciation"`
	Carbon             decimal.Decimal            `json:"carbon"`
	MaintenanceSavings decimal.Decimal            `json:"maintenanceSavings"`
	Total              decimal.Decimal            `json:"total"`
}

type Aggregator struct {
	econ   config.Economics
	prices PriceLookup
}

// New builds an aggregator. A nil lookup uses the configured price table.
func New(econ config.Economics, prices PriceLookup) *Aggregator {
	if prices == nil {
		prices = StaticPrices(econ.FuelPrices)
	}
	return &Aggregator{econ: econ, prices: prices}
}

// Economics returns the parameters in effect.
func (a *Aggregator) Economics() config.Economics { return a.econ }

// WithEconomics returns an aggregator sharing a's price lookup.
func (a *Aggregator) WithEconomics(econ config.Economics) *Aggregator {
	return &Aggregator{econ: econ, prices: a.prices}
}

func money(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func (a *Aggregator) Breakdown(ctx context.Context, in Input) (Breakdown, error) {
	b := Breakdown{FuelByType: map[string]decimal.Decimal{}}
	types := make([]string, 0, len(in.FuelByType))
	for ft := range in.FuelByType {
		types = append(types, ft)
	}
	sort.Strings(types)
	for _, ft := range types {
		p, err := a.prices.FuelPrice(ctx, ft)
		if err != nil {
			return Breakdown{}, err
		}
		c := money(in.FuelByType[ft]).Mul(money(p)).Round(2)
		b.FuelByType[ft] = c
		b.Fuel = b.Fuel.Add(c)
	}
	days := money(in.Hours).Div(decimal.NewFromInt(24))
	b.Charter = money(a.econ.CharterDayRate).Mul(days).Round(2)
	daily := money(a.econ.CargoValue).Mul(money(a.econ.InventoryRatePct)).Div(decimal.NewFromInt(100 * 365))
	b.CargoDepreciation = daily.Mul(days).Round(2)
	b.Carbon = money(in.CO2T).Mul(money(a.econ.CarbonPrice)).Round(2)
	b.MaintenanceSavings = money(a.econ.CharterDayRate).Mul(money(a.econ.MaintenanceSavingsPct)).Div(decimal.NewFromInt(100)).Mul(days).Round(2)
	b.Total = b.Fuel.Add(b.Charter).Add(b.CargoDepreciation).Add(b.Carbon).Sub(b.MaintenanceSavings)
	return b, nil
}

// Delta is plan minus baseline, component by component. Negative is cheaper.
type Delta struct {
	Fuel               decimal.Decimal `json:"fuel"`
	Charter            decimal.Decimal `json:"charter"`
	CargoDepreciation  decimal.Decimal `json:"cargoDepreciation"`
	Carbon             decimal.Decimal `json:"carbon"`
	MaintenanceSavings decimal.Decimal `json:"maintenanceSavings"`
	Total              decimal.Decimal `json:"total"`
	TotalPct           float64         `json:"totalPct"`
}

func Compare(plan, baseline Breakdown) Delta {
	d := Delta{
		Fuel:               plan.Fuel.Sub(baseline.Fuel),
		Charter:            plan.Charter.Sub(baseline.Charter),
		CargoDepreciation:  plan.CargoDepreciation.Sub(baseline.CargoDepreciation),
		Carbon:             plan.Carbon.Sub(baseline.Carbon),
		MaintenanceSavings: plan.MaintenanceSavings.Sub(baseline.MaintenanceSavings),
		Total:              plan.Total.Sub(baseline.Total),
	}
	if !baseline.Total.IsZero() {
		d.TotalPct, _ = d.Total.Div(baseline.Total).Mul(decimal.NewFromInt(100)).Round(4).Float64()
	}
	return d
}

// Alternative is one candidate voyage as the ranking sees it.
type Alternative struct {
	Label     string    `json:"label"`
	Hours     float64   `json:"hours"`
	Breakdown Breakdown `json:"breakdown"`
}

// Rank orders alternatives by total cost, then transit time, then label.
func Rank(alts []Alternative) []Alternative {
	out := append([]Alternative(nil), alts...)
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Breakdown.Total.Cmp(out[j].Breakdown.Total); c != 0 {
			return c < 0
		}
		if out[i].Hours != out[j].Hours {
			return out[i].Hours < out[j].Hours
		}
		return out[i].Label < out[j].Label
	})
	return out
}
