// Package config holds the engine configuration value that is threaded
// explicitly through every optimization component, plus the small env helpers
// the commands use for process settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Band is an engine-load interval expressed as fractions of max RPM.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Objective weights the three terms the route search minimizes.
type Objective struct {
	Fuel float64 `yaml:"fuel" json:"fuel"`
	Time float64 `yaml:"time" json:"time"`
	CO2  float64 `yaml:"co2" json:"co2"`
}

type Optimizer struct {
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
	MaxIterations int     `yaml:"maxIterations" json:"maxIterations"`
	EnvPasses     int     `yaml:"envPasses" json:"envPasses"`
	RequireBand   bool    `yaml:"requireBand" json:"requireBand"`
}

type Search struct {
	SpeedGridStepKn float64 `yaml:"speedGridStepKn" json:"speedGridStepKn"`
	Parallelism     int     `yaml:"parallelism" json:"parallelism"`
	MaxSegmentNM    float64 `yaml:"maxSegmentNm" json:"maxSegmentNm"`
}

type Environment struct {
	TimeResolution      time.Duration `yaml:"timeResolution" json:"timeResolution"`
	WindDriftCoeff      float64       `yaml:"windDriftCoeff" json:"windDriftCoeff"`
	WindResistanceCoeff float64       `yaml:"windResistanceCoeff" json:"windResistanceCoeff"`
	WaveResistanceCoeff float64       `yaml:"waveResistanceCoeff" json:"waveResistanceCoeff"`
	WaveSpeedLossPerM   float64       `yaml:"waveSpeedLossPerM" json:"waveSpeedLossPerM"`
	WaveThresholdM      float64       `yaml:"waveThresholdM" json:"waveThresholdM"`
	MaxWaveLoss         float64       `yaml:"maxWaveLoss" json:"maxWaveLoss"`
	UseClimatology      bool          `yaml:"useClimatology" json:"useClimatology"`
	PrefetchParallelism int           `yaml:"prefetchParallelism" json:"prefetchParallelism"`
}

// Factors are emission factors in grams per tonne of fuel burned.
type Factors struct {
	CO2 float64 `yaml:"co2" json:"co2"`
	SOx float64 `yaml:"sox" json:"sox"`
	NOx float64 `yaml:"nox" json:"nox"`
	PM  float64 `yaml:"pm" json:"pm"`
}

type Emissions struct {
	Factors       map[string]Factors `yaml:"factors" json:"factors"`
	CIIReference  map[string]float64 `yaml:"ciiReference" json:"ciiReference"`
	CIIThresholds []float64          `yaml:"ciiThresholds" json:"ciiThresholds"`
	Utilization   float64            `yaml:"utilization" json:"utilization"`
	EEXIReference map[string]float64 `yaml:"eexiReference" json:"eexiReference"`
}

type Economics struct {
	FuelPrices            map[string]float64 `yaml:"fuelPrices" json:"fuelPrices"`
	CharterDayRate        float64            `yaml:"charterDayRate" json:"charterDayRate"`
	CarbonPrice           float64            `yaml:"carbonPrice" json:"carbonPrice"`
	CargoValue            float64            `yaml:"cargoValue" json:"cargoValue"`
	InventoryRatePct      float64            `yaml:"inventoryRatePct" json:"inventoryRatePct"`
	MaintenanceSavingsPct float64            `yaml:"maintenanceSavingsPct" json:"maintenanceSavingsPct"`
}

// Engine is the complete configuration of one optimization run.
type Engine struct {
	Band        Band          `yaml:"band" json:"band"`
	HullFloorKn float64       `yaml:"hullFloorKn" json:"hullFloorKn"`
	Objective   Objective     `yaml:"objective" json:"objective"`
	Optimizer   Optimizer     `yaml:"optimizer" json:"optimizer"`
	Search      Search        `yaml:"search" json:"search"`
	Environment Environment   `yaml:"environment" json:"environment"`
	Emissions   Emissions     `yaml:"emissions" json:"emissions"`
	Economics   Economics     `yaml:"economics" json:"economics"`
	TimeBudget  time.Duration `yaml:"timeBudget" json:"timeBudget"`
}

// Default returns the values of the shipped configuration file. Parse fills
// sections a document leaves out from it; commands always load a file.
func Default() Engine {
	return Engine{
		Band:        Band{Min: 0.70, Max: 0.85},
		HullFloorKn: 8,
		Objective:   Objective{Fuel: 1},
		Optimizer:   Optimizer{Tolerance: 1e-6, MaxIterations: 500, EnvPasses: 3},
		Search:      Search{SpeedGridStepKn: 0.5, Parallelism: 4, MaxSegmentNM: 250},
		Environment: Environment{
			TimeResolution:      time.Hour,
			WindDriftCoeff:      0.02,
			WindResistanceCoeff: 0.01,
			WaveResistanceCoeff: 0.02,
			WaveSpeedLossPerM:   0.03,
			WaveThresholdM:      2,
			MaxWaveLoss:         0.3,
			PrefetchParallelism: 8,
		},
		Emissions: Emissions{
			Factors: map[string]Factors{
				"VLSFO": {CO2: 3114000, SOx: 10000, NOx: 57000, PM: 1400},
				"MGO":   {CO2: 3206000, SOx: 2000, NOx: 60000, PM: 1000},
				"LSFO":  {CO2: 3114000, SOx: 20000, NOx: 57000, PM: 1800},
				"HFO":   {CO2: 3114000, SOx: 70000, NOx: 57000, PM: 2400},
			},
			CIIReference: map[string]float64{
				"container":     11.5,
				"bulk_carrier":  7.0,
				"oil_tanker":    5.1,
				"gas_carrier":   8.9,
				"general_cargo": 15.3,
				"default":       10.0,
			},
			CIIThresholds: []float64{0.86, 0.93, 1.03, 1.10},
			Utilization:   1,
			EEXIReference: map[string]float64{
				"container":     13.0,
				"bulk_carrier":  5.5,
				"oil_tanker":    4.8,
				"gas_carrier":   9.0,
				"general_cargo": 12.0,
				"default":       10.0,
			},
		},
		Economics: Economics{
			FuelPrices:       map[string]float64{"VLSFO": 600, "MGO": 800, "LSFO": 550, "HFO": 450},
			CharterDayRate:   25000,
			CarbonPrice:      25,
			InventoryRatePct: 0,
		},
		TimeBudget: 2 * time.Second,
	}
}

// Validate rejects configurations the engine cannot run with.
func (e Engine) Validate() error {
	var errs []error
	if e.Band.Min <= 0 || e.Band.Max > 1.2 || e.Band.Min > e.Band.Max {
		errs = append(errs, fmt.Errorf("band must satisfy 0 < min <= max: got [%v,%v]", e.Band.Min, e.Band.Max))
	}
	if e.HullFloorKn < 0 {
		errs = append(errs, errors.New("hullFloorKn must be >= 0"))
	}
	if e.Objective.Fuel < 0 || e.Objective.Time < 0 || e.Objective.CO2 < 0 {
		errs = append(errs, errors.New("objective weights must be >= 0"))
	}
	if e.Objective.Fuel+e.Objective.Time+e.Objective.CO2 <= 0 {
		errs = append(errs, errors.New("objective weights are required: at least one of fuel, time, co2 must be > 0"))
	}
	if e.Optimizer.Tolerance <= 0 {
		errs = append(errs, errors.New("optimizer.tolerance is required and must be > 0"))
	}
	if e.Optimizer.MaxIterations <= 0 {
		errs = append(errs, errors.New("optimizer.maxIterations is required and must be > 0"))
	}
	if e.Search.MaxSegmentNM <= 0 {
		errs = append(errs, errors.New("search.maxSegmentNm must be > 0"))
	}
	if e.Search.SpeedGridStepKn <= 0 {
		errs = append(errs, errors.New("search.speedGridStepKn must be > 0"))
	}
	if e.Environment.TimeResolution <= 0 {
		errs = append(errs, errors.New("environment.timeResolution must be > 0"))
	}
	if len(e.Emissions.Factors) == 0 {
		errs = append(errs, errors.New("emissions.factors must not be empty"))
	}
	if len(e.Emissions.CIIThresholds) != 4 {
		errs = append(errs, fmt.Errorf("emissions.ciiThresholds must have 4 entries, got %d", len(e.Emissions.CIIThresholds)))
	} else {
		for i := 1; i < 4; i++ {
			if e.Emissions.CIIThresholds[i] <= e.Emissions.CIIThresholds[i-1] {
				errs = append(errs, errors.New("emissions.ciiThresholds must be strictly increasing"))
				break
			}
		}
	}
	if e.Emissions.Utilization <= 0 || e.Emissions.Utilization > 1 {
		errs = append(errs, errors.New("emissions.utilization must be in (0,1]"))
	}
	return errors.Join(errs...)
}

// Parse decodes a YAML engine configuration. Sections left out of the
// document take their shipped defaults, but the objective weights and the
// optimizer tolerance/iteration budget must be present.
func Parse(data []byte) (Engine, error) {
	var probe struct {
		Objective *Objective `yaml:"objective"`
		Optimizer *struct {
			Tolerance     *float64 `yaml:"tolerance"`
			MaxIterations *int     `yaml:"maxIterations"`
		} `yaml:"optimizer"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Engine{}, fmt.Errorf("parse engine config: %w", err)
	}
	if probe.Objective == nil {
		return Engine{}, errors.New("engine config: objective weights are required")
	}
	if probe.Optimizer == nil || probe.Optimizer.Tolerance == nil || probe.Optimizer.MaxIterations == nil {
		return Engine{}, errors.New("engine config: optimizer.tolerance and optimizer.maxIterations are required")
	}
	e := Default()
	// The decoder overwrites the default objective only for keys present.
	e.Objective = Objective{}
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Engine{}, fmt.Errorf("parse engine config: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Engine{}, fmt.Errorf("invalid engine config: %w", err)
	}
	return e, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (Engine, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("read engine config: %w", err)
	}
	return Parse(b)
}

// DefaultPath is the shipped configuration, relative to the repository root.
const DefaultPath = "config/engine.yaml"

// LoadFromEnv loads the file named by ENGINE_CONFIG, or DefaultPath when it
// is unset. A missing file is an error; Default is never substituted.
func LoadFromEnv() (Engine, error) {
	p := strings.TrimSpace(os.Getenv("ENGINE_CONFIG"))
	if p == "" {
		p = DefaultPath
	}
	e, err := Load(p)
	if err != nil {
		return Engine{}, fmt.Errorf("engine config %s: %w", p, err)
	}
	return e, nil
}

// WithOverrides returns a copy of e with a tenant override document merged
// over it. Keys follow the YAML field names.
func (e Engine) WithOverrides(ov map[string]any) (Engine, error) {
	base, err := yaml.Marshal(e)
	if err != nil {
		return Engine{}, err
	}
	var out Engine
	if err := yaml.Unmarshal(base, &out); err != nil {
		return Engine{}, err
	}
	if len(ov) == 0 {
		return out, nil
	}
	patch, err := yaml.Marshal(ov)
	if err != nil {
		return Engine{}, err
	}
	if err := yaml.Unmarshal(patch, &out); err != nil {
		return Engine{}, fmt.Errorf("apply overrides: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Engine{}, fmt.Errorf("invalid overrides: %w", err)
	}
	return out, nil
}

// AsMap renders the configuration with YAML field names, for API output.
func (e Engine) AsMap() map[string]any {
	b, err := yaml.Marshal(e)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = yaml.Unmarshal(b, &out)
	return out
}

// EnvOr returns the environment value for k, or d when unset.
func EnvOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// EnvInt parses an integer environment value, returning d on absence or error.
func EnvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

// EnvFloat parses a float environment value, returning d on absence or error.
func EnvFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}
