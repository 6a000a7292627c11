// Command voyagectl runs the voyage optimizer on a YAML request file and
// prints the result as JSON.
//
//	voyagectl [-config engine.yaml] [-prices bunkers.csv] optimize|recommend|sweep|economic|sensitivity request.yaml
package main

import (
    "context"
    "encoding/json"
    "errors"
    "flag"
    "fmt"
    "io"
    "os"
    "os/signal"
    "time"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"

    "voyageopt/internal/config"
    "voyageopt/internal/cost"
    "voyageopt/internal/env"
    "voyageopt/internal/integrations"
    "voyageopt/internal/integrations/csvprices"
    "voyageopt/internal/model"
    "voyageopt/internal/opt"
)

// request is the CLI file format: an optimize request plus the fields the
// analysis commands need.
type request struct {
    model.OptimizeRequest `yaml:",inline"`
    MinSpeedKn float64   `yaml:"minSpeedKn"`
    MaxSpeedKn float64   `yaml:"maxSpeedKn"`
    StepKn     float64   `yaml:"stepKn"`
    Parameter  string    `yaml:"parameter"`
    Factors    []float64 `yaml:"factors"`
}

func main() {
    _ = godotenv.Load()
    cfgPath := flag.String("config", config.EnvOr("ENGINE_CONFIG", config.DefaultPath), "engine config YAML")
    pricesPath := flag.String("prices", os.Getenv("FUEL_PRICES_FILE"), "bunker price CSV used when the request has no fuelPrices")
    climPath := flag.String("climatology", os.Getenv("CLIMATOLOGY_FILE"), "climatology YAML used when no forecast covers a position")
    timeout := flag.Duration("timeout", time.Minute, "overall deadline")
    flag.Usage = func() {
        fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] optimize|recommend|sweep|economic|sensitivity request.yaml\n", os.Args[0])
        flag.PrintDefaults()
    }
    flag.Parse()
    if flag.NArg() != 2 {
        flag.Usage()
        os.Exit(2)
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
    defer stop()
    ctx, cancel := context.WithTimeout(ctx, *timeout)
    defer cancel()

    out, err := run(ctx, flag.Arg(0), flag.Arg(1), *cfgPath, *pricesPath, *climPath)
    if err != nil {
        fmt.Fprintf(os.Stderr, "voyagectl: %v\n", err)
        os.Exit(1)
    }
    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    if err := enc.Encode(out); err != nil {
        fmt.Fprintf(os.Stderr, "voyagectl: %v\n", err)
        os.Exit(1)
    }
}

func run(ctx context.Context, cmd, reqPath, cfgPath, pricesPath, climPath string) (any, error) {
    if cfgPath == "" {
        return nil, errors.New("an engine config file is required (-config or ENGINE_CONFIG)")
    }
    cfg, err := config.Load(cfgPath)
    if err != nil {
        return nil, err
    }
    eng := opt.New(cfg)
    if climPath != "" {
        c, err := env.LoadClimatology(climPath)
        if err != nil {
            return nil, fmt.Errorf("climatology: %w", err)
        }
        eng = eng.WithClimatology(c)
    }

    f, err := os.Open(reqPath)
    if err != nil {
        return nil, err
    }
    defer f.Close()
    req, err := decodeRequest(f)
    if err != nil {
        return nil, fmt.Errorf("%s: %w", reqPath, err)
    }

    var prices cost.PriceLookup
    if pricesPath != "" {
        prices = integrations.NewPrices(csvprices.Adapter{Path: pricesPath}, time.Hour)
    }
    ereq, err := req.ToEngine(ctx, integrations.GreatCircle{}, prices)
    if err != nil {
        return nil, err
    }

    switch cmd {
    case "optimize":
        plan, m, err := eng.Optimize(ctx, ereq)
        if err != nil {
            return nil, err
        }
        return map[string]any{"plan": plan, "metrics": m}, nil
    case "recommend":
        plans, m, err := eng.Recommend(ctx, ereq)
        if err != nil {
            return nil, err
        }
        return map[string]any{"plans": plans, "metrics": m}, nil
    case "sweep":
        pts, m, err := eng.SpeedSweep(ctx, ereq, req.MinSpeedKn, req.MaxSpeedKn, req.StepKn)
        if err != nil {
            return nil, err
        }
        return map[string]any{"points": pts, "metrics": m}, nil
    case "economic":
        pt, b, m, err := eng.EconomicSpeed(ctx, ereq)
        if err != nil {
            return nil, err
        }
        return map[string]any{"point": pt, "breakdown": b, "metrics": m}, nil
    case "sensitivity":
        param := cost.Parameter(req.Parameter)
        factors := req.Factors
        if len(factors) == 0 {
            factors = cost.DefaultFactors(param)
        }
        rows, m, err := eng.Sensitivity(ctx, ereq, param, factors)
        if err != nil {
            return nil, err
        }
        return map[string]any{"parameter": param, "rows": rows, "metrics": m}, nil
    }
    return nil, fmt.Errorf("unknown command %q", cmd)
}

func decodeRequest(r io.Reader) (request, error) {
    var req request
    dec := yaml.NewDecoder(r)
    dec.KnownFields(true)
    if err := dec.Decode(&req); err != nil {
        return req, err
    }
    if req.DepartAt.IsZero() {
        return req, fmt.Errorf("departAt is required")
    }
    return req, nil
}
