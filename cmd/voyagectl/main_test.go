package main

import (
    "os"
    "path/filepath"
    "strings"
    "testing"

    "voyageopt/internal/opt"
)

const shipped = "../../config/engine.yaml"

func TestRunCommands(t *testing.T) {
    for _, cmd := range []string{"optimize", "recommend", "sweep", "economic", "sensitivity"} {
        t.Run(cmd, func(t *testing.T) {
            out, err := run(t.Context(), cmd, "testdata/equator.yaml", shipped, "", "")
            if err != nil { t.Fatalf("%s: %v", cmd, err) }
            if out == nil { t.Fatalf("%s: no output", cmd) }
        })
    }
}

func TestRunOptimizeMeetsBerthWindow(t *testing.T) {
    out, err := run(t.Context(), "optimize", "testdata/equator.yaml", shipped, "", "")
    if err != nil { t.Fatal(err) }
    plan := out.(map[string]any)["plan"].(opt.VoyagePlan)
    if plan.Berth == nil || plan.ArrivalAt.After(plan.Berth.Window.Latest) {
        t.Fatalf("arrival %v outside berth window %+v", plan.ArrivalAt, plan.Berth)
    }
}

func TestRunUsesCSVPrices(t *testing.T) {
    dir := t.TempDir()
    b, err := os.ReadFile("testdata/equator.yaml")
    if err != nil { t.Fatal(err) }
    req := strings.Replace(string(b), "fuelPrices: {VLSFO: 600}\n", "", 1)
    reqPath := filepath.Join(dir, "req.yaml")
    pricesPath := filepath.Join(dir, "prices.csv")
    if err := os.WriteFile(reqPath, []byte(req), 0o600); err != nil { t.Fatal(err) }
    if err := os.WriteFile(pricesPath, []byte("fuel_type,usd_per_t\nVLSFO,600\n"), 0o600); err != nil { t.Fatal(err) }
    if _, err := run(t.Context(), "optimize", reqPath, shipped, pricesPath, ""); err != nil {
        t.Fatalf("with csv prices: %v", err)
    }
}

func TestRunRejectsUnknownInput(t *testing.T) {
    if _, err := run(t.Context(), "teleport", "testdata/equator.yaml", shipped, "", ""); err == nil {
        t.Fatal("unknown command should fail")
    }
    dir := t.TempDir()
    p := filepath.Join(dir, "bad.yaml")
    if err := os.WriteFile(p, []byte("origin: W0\nwarpFactor: 9\n"), 0o600); err != nil { t.Fatal(err) }
    if _, err := run(t.Context(), "optimize", p, shipped, "", ""); err == nil {
        t.Fatal("unknown field should fail")
    }
}

func TestRunNeedsEngineConfig(t *testing.T) {
    if _, err := run(t.Context(), "optimize", "testdata/equator.yaml", "", "", ""); err == nil || !strings.Contains(err.Error(), "engine config") {
        t.Fatalf("missing config should fail, got %v", err)
    }
    dir := t.TempDir()
    p := filepath.Join(dir, "engine.yaml")
    if err := os.WriteFile(p, []byte("band: {min: 0.7, max: 0.85}\n"), 0o600); err != nil { t.Fatal(err) }
    if _, err := run(t.Context(), "optimize", "testdata/equator.yaml", p, "", ""); err == nil || !strings.Contains(err.Error(), "objective") {
        t.Fatalf("config without objective should fail, got %v", err)
    }
}
