package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadShippedFile(t *testing.T) {
	e, err := Load("../../config/engine.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Band.Min != 0.70 || e.Band.Max != 0.85 {
		t.Fatalf("band: %+v", e.Band)
	}
	if e.Environment.TimeResolution != time.Hour {
		t.Fatalf("time resolution: %v", e.Environment.TimeResolution)
	}
	if e.Emissions.Factors["HFO"].SOx != 70000 {
		t.Fatalf("HFO factors: %+v", e.Emissions.Factors["HFO"])
	}
}

func TestLoadFromEnvNeedsAFile(t *testing.T) {
	// DefaultPath is relative to the repository root, not this package
	t.Setenv("ENGINE_CONFIG", "")
	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), DefaultPath) {
		t.Fatalf("no config file should fail, got %v", err)
	}
	t.Setenv("ENGINE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("missing ENGINE_CONFIG file should fail")
	}
	t.Setenv("ENGINE_CONFIG", "../../config/engine.yaml")
	e, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.Objective.Fuel != 1 || e.Optimizer.Tolerance != 1e-6 {
		t.Fatalf("shipped objective and tolerance: %+v %+v", e.Objective, e.Optimizer)
	}

	t.Chdir("../..")
	t.Setenv("ENGINE_CONFIG", "")
	if _, err := LoadFromEnv(); err != nil {
		t.Fatalf("default path from the repository root: %v", err)
	}
}

func TestParseRequiresObjectiveAndTolerance(t *testing.T) {
	_, err := Parse([]byte("optimizer:\n  tolerance: 0.001\n  maxIterations: 10\n"))
	if err == nil || !strings.Contains(err.Error(), "objective") {
		t.Fatalf("missing objective should fail, got %v", err)
	}
	_, err = Parse([]byte("objective:\n  fuel: 1\noptimizer:\n  maxIterations: 10\n"))
	if err == nil || !strings.Contains(err.Error(), "tolerance") {
		t.Fatalf("missing tolerance should fail, got %v", err)
	}
	e, err := Parse([]byte("objective:\n  time: 2\noptimizer:\n  tolerance: 0.01\n  maxIterations: 50\n"))
	if err != nil {
		t.Fatalf("minimal config: %v", err)
	}
	if e.Objective.Fuel != 0 || e.Objective.Time != 2 {
		t.Fatalf("objective should come from the file only: %+v", e.Objective)
	}
	if e.Search.MaxSegmentNM != Default().Search.MaxSegmentNM {
		t.Fatalf("unset sections keep defaults: %+v", e.Search)
	}
}

func TestWithOverridesDoesNotMutateBase(t *testing.T) {
	base := Default()
	out, err := base.WithOverrides(map[string]any{
		"band":      map[string]any{"min": 0.6},
		"economics": map[string]any{"fuelPrices": map[string]any{"VLSFO": 700.0}},
	})
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if out.Band.Min != 0.6 || out.Band.Max != 0.85 {
		t.Fatalf("merged band: %+v", out.Band)
	}
	if out.Economics.FuelPrices["VLSFO"] != 700 || out.Economics.FuelPrices["MGO"] != 800 {
		t.Fatalf("merged prices: %+v", out.Economics.FuelPrices)
	}
	if base.Economics.FuelPrices["VLSFO"] != 600 {
		t.Fatalf("base mutated: %+v", base.Economics.FuelPrices)
	}
	if _, err := base.WithOverrides(map[string]any{"band": map[string]any{"min": 0.9, "max": 0.5}}); err == nil {
		t.Fatalf("inverted band should be rejected")
	}
}
