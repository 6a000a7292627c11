package model

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "voyageopt/internal/cost"
    "voyageopt/internal/env"
    "voyageopt/internal/geo"
    "voyageopt/internal/opt"
    "voyageopt/internal/route"
    "voyageopt/internal/schedule"
    "voyageopt/internal/vessel"
)

// API request and response types. Conversions to engine types live here so
// handlers and the CLI share them.

type GeoPoint struct {
    Lat float64 `json:"lat" yaml:"lat"`
    Lon float64 `json:"lon" yaml:"lon"`
}

type NodeIn struct {
    ID   string  `json:"id" yaml:"id"`
    Name string  `json:"name,omitempty" yaml:"name"`
    Lat  float64 `json:"lat" yaml:"lat"`
    Lon  float64 `json:"lon" yaml:"lon"`
}

type GraphIn struct {
    Nodes []NodeIn     `json:"nodes" yaml:"nodes"`
    Edges []route.Edge `json:"edges" yaml:"edges"`
}

// PolicyIn selects how the route search picks speeds: fixed, reference,
// delegate or grid.
type PolicyIn struct {
    Kind     string  `json:"kind" yaml:"kind"`
    SpeedKn  float64 `json:"speedKn,omitempty" yaml:"speedKn"`
    StepKn   float64 `json:"stepKn,omitempty" yaml:"stepKn"`
    BandOnly bool    `json:"bandOnly,omitempty" yaml:"bandOnly"`
}

type OptimizeRequest struct {
    TenantID    string               `json:"tenantId,omitempty" yaml:"tenantId"`
    Reference   string               `json:"reference,omitempty" yaml:"reference"`
    Vessel      vessel.Profile       `json:"vessel" yaml:"vessel"`
    Graph       *GraphIn             `json:"graph,omitempty" yaml:"graph"`
    // Waypoints are chained by great circles when no graph is given.
    Waypoints   []NodeIn             `json:"waypoints,omitempty" yaml:"waypoints"`
    Origin      string               `json:"origin,omitempty" yaml:"origin"`
    Destination string               `json:"destination,omitempty" yaml:"destination"`
    Path        []string             `json:"path,omitempty" yaml:"path"`
    DepartAt    time.Time            `json:"departAt" yaml:"departAt"`
    Deadline    *time.Time           `json:"deadline,omitempty" yaml:"deadline"`
    BerthWindow *schedule.Window     `json:"berthWindow,omitempty" yaml:"berthWindow"`
    Constraints schedule.Constraints `json:"constraints,omitempty" yaml:"constraints"`
    Policy      *PolicyIn            `json:"policy,omitempty" yaml:"policy"`
    Forecast    *env.Grid            `json:"forecast,omitempty" yaml:"forecast"`
    FuelPrices  map[string]float64   `json:"fuelPrices,omitempty" yaml:"fuelPrices"`
    TimeBudgetMs int                 `json:"timeBudgetMs,omitempty" yaml:"timeBudgetMs"`
}

// GraphBuilder turns an ordered waypoint list into a route graph.
type GraphBuilder interface {
    Build(ctx context.Context, waypoints []route.Node) (*route.Graph, error)
}

var ErrBadRequest = errors.New("bad request")

func badf(format string, a ...any) error {
    return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, a...))
}

// ToEngine converts the request into an engine request. prices is the
// fallback lookup used when the request carries no price table.
func (r OptimizeRequest) ToEngine(ctx context.Context, b GraphBuilder, prices cost.PriceLookup) (opt.Request, error) {
    out := opt.Request{
        Vessel:      r.Vessel,
        Origin:      r.Origin,
        Destination: r.Destination,
        Path:        r.Path,
        Depart:      r.DepartAt,
        Deadline:    r.Deadline,
        Berth:       r.BerthWindow,
        Constraints: r.Constraints,
        Prices:      prices,
    }
    if r.TimeBudgetMs < 0 {
        return out, badf("timeBudgetMs must be >= 0")
    }
    out.TimeBudget = time.Duration(r.TimeBudgetMs) * time.Millisecond
    if len(r.FuelPrices) > 0 {
        out.Prices = cost.StaticPrices(r.FuelPrices)
    }
    g, err := r.graph(ctx, b)
    if err != nil {
        return out, err
    }
    out.Graph = g
    if out.Origin == "" && out.Destination == "" && len(r.Waypoints) >= 2 && len(r.Path) == 0 {
        out.Origin, out.Destination = r.Waypoints[0].ID, r.Waypoints[len(r.Waypoints)-1].ID
    }
    if r.Policy != nil {
        p, err := r.Policy.ToEngine(r.Vessel)
        if err != nil {
            return out, err
        }
        out.Policy = p
    }
    if r.Forecast != nil {
        s, err := env.NewGridSampler(*r.Forecast)
        if err != nil {
            return out, badf("%v", err)
        }
        out.Sampler = s
    }
    return out, nil
}

func (r OptimizeRequest) graph(ctx context.Context, b GraphBuilder) (*route.Graph, error) {
    if r.Graph != nil {
        nodes := make([]route.Node, len(r.Graph.Nodes))
        for i, n := range r.Graph.Nodes {
            nodes[i] = n.node()
        }
        g, err := route.NewGraph(nodes, r.Graph.Edges)
        if err != nil {
            return nil, badf("%v", err)
        }
        return g, nil
    }
    if len(r.Waypoints) < 2 {
        return nil, badf("either graph or at least two waypoints are required")
    }
    if b == nil {
        return nil, badf("no graph builder configured for waypoint requests")
    }
    nodes := make([]route.Node, len(r.Waypoints))
    for i, n := range r.Waypoints {
        nodes[i] = n.node()
    }
    g, err := b.Build(ctx, nodes)
    if err != nil {
        return nil, badf("%v", err)
    }
    return g, nil
}

func (n NodeIn) node() route.Node {
    return route.Node{ID: n.ID, Name: n.Name, Position: geo.Position{Lat: n.Lat, Lon: n.Lon}}
}

// ToEngine converts the policy. A fixed speed must lie inside the speed
// range v declares.
func (p PolicyIn) ToEngine(v vessel.Profile) (route.SpeedPolicy, error) {
    switch strings.ToLower(p.Kind) {
    case "", "reference":
        return route.ReferenceSpeed{}, nil
    case "fixed":
        if p.SpeedKn <= 0 {
            return nil, badf("fixed policy needs speedKn > 0")
        }
        if v.MaxSpeedKn > 0 && p.SpeedKn > v.MaxSpeedKn {
            return nil, badf("fixed policy speedKn %.2f exceeds vessel maxSpeedKn %.2f", p.SpeedKn, v.MaxSpeedKn)
        }
        if p.SpeedKn < v.MinSpeedKn {
            return nil, badf("fixed policy speedKn %.2f is below vessel minSpeedKn %.2f", p.SpeedKn, v.MinSpeedKn)
        }
        return route.FixedSpeed{Kn: p.SpeedKn}, nil
    case "delegate":
        return route.Delegate{}, nil
    case "grid":
        return route.GridSpeed{StepKn: p.StepKn, BandOnly: p.BandOnly}, nil
    }
    return nil, badf("unknown policy kind %q", p.Kind)
}

// Voyage is a stored optimization request with the plans built for it.
// Version increases every time the plans are replaced.
type Voyage struct {
    ID          string            `json:"id"`
    TenantID    string            `json:"tenantId"`
    Reference   string            `json:"reference,omitempty"`
    Vessel      string            `json:"vessel"`
    Origin      string            `json:"origin"`
    Destination string            `json:"destination"`
    DepartAt    time.Time         `json:"departAt"`
    Status      string            `json:"status"`
    Version     int               `json:"version"`
    Request     OptimizeRequest   `json:"request"`
    Plans       []opt.VoyagePlan  `json:"plans"`
    CreatedAt   time.Time         `json:"createdAt"`
    UpdatedAt   time.Time         `json:"updatedAt"`
}

// Voyage statuses.
const (
    StatusPlanned    = "planned"
    StatusPartial    = "partial"
    StatusRecomputed = "recomputed"
)

// StatusFor returns the status a voyage takes after plans are stored.
func StatusFor(plans []opt.VoyagePlan) string {
    for _, p := range plans {
        if p.Partial {
            return StatusPartial
        }
    }
    return StatusPlanned
}

// BerthWindowUpdate reports vessel progress and a new berth window.
type BerthWindowUpdate struct {
    Window   schedule.Window   `json:"window"`
    Progress schedule.Progress `json:"progress"`
}

type SweepRequest struct {
    OptimizeRequest
    MinSpeedKn float64 `json:"minSpeedKn,omitempty"`
    MaxSpeedKn float64 `json:"maxSpeedKn,omitempty"`
    StepKn     float64 `json:"stepKn,omitempty"`
}

type SensitivityRequest struct {
    OptimizeRequest
    Parameter string    `json:"parameter"`
    Factors   []float64 `json:"factors,omitempty"`
}

type CIIRequest struct {
    VesselType  string  `json:"vesselType"`
    DeadweightT float64 `json:"deadweightT"`
    DistanceNM  float64 `json:"distanceNm"`
    CO2T        float64 `json:"co2T"`
}

// ComplianceRequest projects a year of sailing at two service speeds.
type ComplianceRequest struct {
    Vessel           vessel.Profile `json:"vessel"`
    AnnualDistanceNM float64        `json:"annualDistanceNm"`
    CurrentKn        float64        `json:"currentKn"`
    ProposedKn       float64        `json:"proposedKn"`
}

// PlanMetrics is one stored metrics row.
type PlanMetrics struct {
    VoyageID  string      `json:"voyageId"`
    Label     string      `json:"label"`
    Metrics   opt.Metrics `json:"metrics"`
    CreatedAt time.Time   `json:"createdAt"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}

// PlanEvent is published on the broker and delivered to webhooks whenever
// a voyage's plans change.
type PlanEvent struct {
    Type      string    `json:"type"`
    VoyageID  string    `json:"voyageId"`
    Version   int       `json:"version"`
    Status    string    `json:"status"`
    Label     string    `json:"label,omitempty"`
    FuelT     float64   `json:"fuelT,omitempty"`
    ArrivalAt time.Time `json:"arrivalAt,omitempty"`
    Partial   bool      `json:"partial,omitempty"`
}

// Event types.
const (
    EventPlanCreated    = "voyage.plan.created"
    EventPlanRecomputed = "voyage.plan.recomputed"
)

// EventFor summarizes a voyage's leading plan.
func EventFor(typ string, v Voyage) PlanEvent {
    ev := PlanEvent{Type: typ, VoyageID: v.ID, Version: v.Version, Status: v.Status}
    if len(v.Plans) > 0 {
        p := v.Plans[0]
        ev.Label, ev.FuelT, ev.ArrivalAt, ev.Partial = p.Label, p.Totals.FuelT, p.ArrivalAt, p.Partial
    }
    return ev
}
