package cost

import (
	"context"
	"errors"
	"testing"

	"voyageopt/internal/config"
)

func econ() config.Economics {
	return config.Economics{
		FuelPrices:            map[string]float64{"VLSFO": 600, "MGO": 800},
		CharterDayRate:        25000,
		CarbonPrice:           25,
		CargoValue:            20000000,
		InventoryRatePct:      10,
		MaintenanceSavingsPct: 5,
	}
}

func TestBreakdownComponents(t *testing.T) {
	a := New(econ(), nil)
	b, err := a.Breakdown(context.Background(), Input{FuelByType: map[string]float64{"VLSFO": 100}, Hours: 48, CO2T: 311.4})
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	checks := map[string]string{
		"fuel":        b.Fuel.StringFixed(2),
		"charter":     b.Charter.StringFixed(2),
		"cargo":       b.CargoDepreciation.StringFixed(2),
		"carbon":      b.Carbon.StringFixed(2),
		"maintenance": b.MaintenanceSavings.StringFixed(2),
		"total":       b.Total.StringFixed(2),
	}
	want := map[string]string{
		"fuel":        "60000.00",
		"charter":     "50000.00",
		"cargo":       "10958.90",
		"carbon":      "7785.00",
		"maintenance": "2500.00",
		"total":       "126243.90",
	}
	for k, w := range want {
		if checks[k] != w {
			t.Fatalf("%s = %s, want %s", k, checks[k], w)
		}
	}
}

func TestBreakdownMixedFuelAndMissingPrice(t *testing.T) {
	a := New(econ(), nil)
	b, err := a.Breakdown(context.Background(), Input{FuelByType: map[string]float64{"VLSFO": 10, "MGO": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if b.Fuel.StringFixed(2) != "6800.00" || len(b.FuelByType) != 2 {
		t.Fatalf("mixed fuel: %+v", b)
	}
	_, err = a.Breakdown(context.Background(), Input{FuelByType: map[string]float64{"LNG": 1}})
	if !errors.Is(err, ErrNoPrice) {
		t.Fatalf("want ErrNoPrice, got %v", err)
	}
}

func TestCompareAndRank(t *testing.T) {
	a := New(econ(), nil)
	ctx := context.Background()
	slow, _ := a.Breakdown(ctx, Input{FuelByType: map[string]float64{"VLSFO": 80}, Hours: 60})
	fast, _ := a.Breakdown(ctx, Input{FuelByType: map[string]float64{"VLSFO": 120}, Hours: 40})
	d := Compare(slow, fast)
	if !d.Total.Equal(slow.Total.Sub(fast.Total)) || !d.Fuel.IsNegative() || !d.Charter.IsPositive() {
		t.Fatalf("delta: %+v", d)
	}
	ranked := Rank([]Alternative{
		{Label: "b", Hours: 60, Breakdown: slow},
		{Label: "a", Hours: 60, Breakdown: slow},
		{Label: "fast", Hours: 40, Breakdown: fast},
	})
	first := "fast"
	if slow.Total.LessThan(fast.Total) {
		first = "a"
	}
	if ranked[0].Label != first {
		t.Fatalf("rank: %+v", ranked)
	}
	// equal totals and hours fall back to the label
	if ranked[0].Label == "a" && ranked[1].Label != "b" {
		t.Fatalf("label tie-break: %+v", ranked)
	}
}

// uniform-speed points for a 1000 nm passage on a 180 t/day at 20 kn ship
func sweep() []Point {
	var pts []Point
	for v := 10.0; v <= 25; v++ {
		h := 1000 / v
		fuel := 180 * (v / 20) * (v / 20) * (v / 20) * h / 24
		pts = append(pts, Point{SpeedKn: v, Input: Input{FuelByType: map[string]float64{"VLSFO": fuel}, Hours: h, CO2T: fuel * 3.114}})
	}
	return pts
}

func TestSensitivityMovesEconomicSpeed(t *testing.T) {
	a := New(econ(), nil)
	ctx := context.Background()
	rows, err := a.Sensitivity(ctx, ParamFuelPrice, nil, sweep())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 || rows[0].Factor != 0.5 || rows[5].Factor != 2 {
		t.Fatalf("rows: %+v", rows)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].EconomicSpeedKn > rows[i-1].EconomicSpeedKn {
			t.Fatalf("dearer fuel should not raise economic speed: %+v", rows)
		}
	}
	rows, err = a.Sensitivity(ctx, ParamCharterRate, []float64{0.5, 1, 4}, sweep())
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].EconomicSpeedKn < rows[i-1].EconomicSpeedKn {
			t.Fatalf("dearer charter should not lower economic speed: %+v", rows)
		}
	}
	if _, err := a.Sensitivity(ctx, Parameter("tide"), nil, sweep()); err == nil {
		t.Fatalf("unknown parameter should fail")
	}
}
