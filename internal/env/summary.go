package env

import (
	"math"
	"time"

	"voyageopt/internal/geo"
)

// RiskPoint is a sample with dangerous sea state.
type RiskPoint struct {
	Position    geo.Position `json:"position"`
	Time        time.Time    `json:"time"`
	WaveHeightM float64      `json:"waveHeightM"`
}

// Summary condenses the samples seen along a voyage.
type Summary struct {
	Samples           int         `json:"samples"`
	AvgWindKn         float64     `json:"avgWindKn"`
	AvgCurrentKn      float64     `json:"avgCurrentKn"`
	AvgWaveM          float64     `json:"avgWaveM"`
	MaxWaveM          float64     `json:"maxWaveM"`
	SpeedReductionPct float64     `json:"speedReductionPct"`
	FuelIncreasePct   float64     `json:"fuelIncreasePct"`
	HighRisk          []RiskPoint `json:"highRisk,omitempty"`
	Climatology       int         `json:"climatologySamples,omitempty"`
}

const (
	highRiskWaveM   = 4.0
	maxRiskPoints   = 5
	windFreeKn      = 15.0
	windLossPerKn   = 0.5
	waveFreeM       = 2.0
	waveLossPerM    = 3.0
	maxReductionPct = 30.0
)

// Summarize averages the samples and estimates the weather penalty: half a
// percent of speed per knot of mean wind above 15 kn plus three percent per
// metre of mean wave height above 2 m, capped at 30%. Fuel grows by 1.5x the
// speed loss. Samples are expected in voyage order.
func Summarize(samples []Sample) Summary {
	out := Summary{Samples: len(samples)}
	if len(samples) == 0 {
		return out
	}
	var wind, cur, wave float64
	for _, s := range samples {
		wind += s.Wind.Magnitude()
		cur += s.Current.Magnitude()
		wave += s.WaveHeightM
		out.MaxWaveM = math.Max(out.MaxWaveM, s.WaveHeightM)
		if s.Source == SourceClimatology {
			out.Climatology++
		}
		if s.WaveHeightM > highRiskWaveM && len(out.HighRisk) < maxRiskPoints {
			out.HighRisk = append(out.HighRisk, RiskPoint{Position: s.Position, Time: s.Time, WaveHeightM: s.WaveHeightM})
		}
	}
	n := float64(len(samples))
	out.AvgWindKn = wind / n
	out.AvgCurrentKn = cur / n
	out.AvgWaveM = wave / n
	red := math.Max(0, (out.AvgWindKn-windFreeKn)*windLossPerKn) + math.Max(0, (out.AvgWaveM-waveFreeM)*waveLossPerM)
	out.SpeedReductionPct = math.Min(maxReductionPct, red)
	out.FuelIncreasePct = out.SpeedReductionPct * 1.5
	return out
}
