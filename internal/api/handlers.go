package api

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "net/http"
    "time"

    "github.com/gorilla/mux"

    "voyageopt/internal/cost"
    "voyageopt/internal/emissions"
    "voyageopt/internal/metrics"
    "voyageopt/internal/model"
    "voyageopt/internal/obs"
    "voyageopt/internal/opt"
    "voyageopt/internal/vessel"
)

// decodeOptimize reads and validates a request body, filling the tenant.
func decodeOptimize(w http.ResponseWriter, r *http.Request, p Principal, into any, req *model.OptimizeRequest, check func() error) bool {
    if err := json.NewDecoder(r.Body).Decode(into); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return false
    }
    if err := check(); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid voyage request", err.Error(), r.URL.Path)
        return false
    }
    if req.TenantID == "" || !p.IsAdmin() {
        req.TenantID = p.Tenant
    }
    return true
}

// prepare resolves the tenant's engine and converts the request.
func (s *Server) prepare(ctx context.Context, req model.OptimizeRequest) (*opt.Engine, opt.Request, error) {
    eng, err := s.engineFor(ctx, req.TenantID)
    if err != nil {
        return nil, opt.Request{}, err
    }
    ereq, err := req.ToEngine(ctx, s.Graphs, s.Prices)
    if err != nil {
        return nil, opt.Request{}, err
    }
    return eng, ereq, nil
}

func observe(op string, dur time.Duration, m opt.Metrics, err error) {
    metrics.ObserveRun(metrics.Run{
        Op: op, Seconds: dur.Seconds(), Err: err != nil, Partial: m.Partial,
        Expanded: m.Expanded, Iterations: m.Iterations, CacheHits: m.CacheHits, CacheMisses: m.CacheMisses,
    })
}

// saveVoyage stores a new voyage, records its metrics and announces it.
func (s *Server) saveVoyage(ctx context.Context, req model.OptimizeRequest, plans []opt.VoyagePlan, m opt.Metrics) (model.Voyage, error) {
    v := model.Voyage{
        TenantID:  req.TenantID,
        Reference: req.Reference,
        Vessel:    req.Vessel.Name,
        DepartAt:  req.DepartAt,
        Status:    model.StatusFor(plans),
        Request:   req,
        Plans:     plans,
    }
    if len(plans) > 0 && len(plans[0].Path) > 0 {
        path := plans[0].Path
        v.Origin, v.Destination = path[0], path[len(path)-1]
    }
    v, err := s.Store.CreateVoyage(ctx, v)
    if err != nil {
        return v, err
    }
    s.recordMetrics(ctx, v, plans, m)
    s.announce(ctx, model.EventPlanCreated, v)
    return v, nil
}

func (s *Server) recordMetrics(ctx context.Context, v model.Voyage, plans []opt.VoyagePlan, m opt.Metrics) {
    opt.RecordPlans(v.TenantID, v.ID, plans, m)
    for _, p := range plans {
        if err := s.Store.SavePlanMetrics(ctx, v.TenantID, v.ID, p.Label, m); err != nil {
            log.Printf("req_id=%s voyage=%s label=%s save plan metrics: %v", obs.RequestID(ctx), v.ID, p.Label, err)
        }
    }
}

// announce publishes the voyage's plan event on the broker and to webhooks.
func (s *Server) announce(ctx context.Context, typ string, v model.Voyage) {
    ev := model.EventFor(typ, v)
    s.Broker.Publish(v.ID, SSEEvent{Type: typ, Data: map[string]any{
        "voyageId": ev.VoyageID, "version": ev.Version, "status": ev.Status,
        "label": ev.Label, "fuelT": ev.FuelT, "arrivalAt": ev.ArrivalAt, "partial": ev.Partial,
    }})
    s.Pub.Emit(ctx, v.TenantID, ev)
}

// OptimizeHandler handles POST /v1/voyages/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var req model.OptimizeRequest
    if !decodeOptimize(w, r, p, &req, &req, func() error { return validateOptimizeRequest(&req) }) { return }
    ctx := r.Context()
    eng, ereq, err := s.prepare(ctx, req)
    if err != nil { writeError(w, r, err); return }

    done := obs.Time(ctx, "optimize")
    plan, m, err := eng.Optimize(ctx, ereq)
    observe("optimize", done(), m, err)
    if err != nil { writeError(w, r, err); return }

    v, err := s.saveVoyage(ctx, req, []opt.VoyagePlan{plan}, m)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, v)
}

// RecommendHandler handles POST /v1/voyages/recommend
func (s *Server) RecommendHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var req model.OptimizeRequest
    if !decodeOptimize(w, r, p, &req, &req, func() error { return validateOptimizeRequest(&req) }) { return }
    ctx := r.Context()
    eng, ereq, err := s.prepare(ctx, req)
    if err != nil { writeError(w, r, err); return }

    done := obs.Time(ctx, "recommend")
    plans, m, err := eng.Recommend(ctx, ereq)
    observe("recommend", done(), m, err)
    if err != nil { writeError(w, r, err); return }

    v, err := s.saveVoyage(ctx, req, plans, m)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, v)
}

// VoyagesHandler handles GET /v1/voyages
func (s *Server) VoyagesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListVoyages(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List voyages failed", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// VoyageByIDHandler handles GET /v1/voyages/{id}
func (s *Server) VoyageByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    v, err := s.Store.GetVoyage(r.Context(), p.Tenant, mux.Vars(r)["id"])
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, v)
}

// BerthWindowHandler handles POST /v1/voyages/{id}/berth-window. It replans
// the rest of the voyage from the reported progress into the new window.
func (s *Server) BerthWindowHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var upd model.BerthWindowUpdate
    if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if upd.Progress.At.IsZero() {
        upd.Progress.At = time.Now().UTC()
    }
    ctx := r.Context()
    v, err := s.Store.GetVoyage(ctx, p.Tenant, mux.Vars(r)["id"])
    if err != nil { writeError(w, r, err); return }
    expect := v.Version
    if h := r.Header.Get("If-Match"); h != "" {
        if _, err := fmt.Sscanf(h, "%d", &expect); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid If-Match", "expected a voyage version", r.URL.Path)
            return
        }
    }
    eng, ereq, err := s.prepare(ctx, v.Request)
    if err != nil { writeError(w, r, err); return }

    done := obs.Time(ctx, "recompute")
    plan, m, err := eng.Recompute(ctx, ereq, upd.Progress, upd.Window)
    observe("recompute", done(), m, err)
    if err != nil { writeError(w, r, err); return }

    plans := []opt.VoyagePlan{plan}
    for _, old := range v.Plans {
        if old.Label != plan.Label { plans = append(plans, old) }
    }
    status := model.StatusRecomputed
    if plan.Partial { status = model.StatusPartial }
    v, err = s.Store.ReplacePlans(ctx, p.Tenant, v.ID, expect, status, plans)
    if err != nil { writeError(w, r, err); return }
    s.recordMetrics(ctx, v, plans[:1], m)
    s.announce(ctx, model.EventPlanRecomputed, v)
    writeJSON(w, http.StatusOK, v)
}

// SpeedSweepHandler handles POST /v1/speed-sweep
func (s *Server) SpeedSweepHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var req model.SweepRequest
    if !decodeOptimize(w, r, p, &req, &req.OptimizeRequest, func() error { return validateSweepRequest(&req) }) { return }
    ctx := r.Context()
    eng, ereq, err := s.prepare(ctx, req.OptimizeRequest)
    if err != nil { writeError(w, r, err); return }

    done := obs.Time(ctx, "speed_sweep")
    pts, m, err := eng.SpeedSweep(ctx, ereq, req.MinSpeedKn, req.MaxSpeedKn, req.StepKn)
    observe("speed_sweep", done(), m, err)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"points": pts, "metrics": m})
}

// EconomicSpeedHandler handles POST /v1/economic-speed
func (s *Server) EconomicSpeedHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var req model.OptimizeRequest
    if !decodeOptimize(w, r, p, &req, &req, func() error { return validateOptimizeRequest(&req) }) { return }
    ctx := r.Context()
    eng, ereq, err := s.prepare(ctx, req)
    if err != nil { writeError(w, r, err); return }

    done := obs.Time(ctx, "economic_speed")
    pt, b, m, err := eng.EconomicSpeed(ctx, ereq)
    observe("economic_speed", done(), m, err)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"point": pt, "breakdown": b, "metrics": m})
}

// SensitivityHandler handles POST /v1/sensitivity
func (s *Server) SensitivityHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requirePlanner(w, r)
    if !ok { return }
    var req model.SensitivityRequest
    if !decodeOptimize(w, r, p, &req, &req.OptimizeRequest, func() error { return validateSensitivityRequest(&req) }) { return }
    ctx := r.Context()
    eng, ereq, err := s.prepare(ctx, req.OptimizeRequest)
    if err != nil { writeError(w, r, err); return }

    param := cost.Parameter(req.Parameter)
    factors := req.Factors
    if len(factors) == 0 { factors = cost.DefaultFactors(param) }
    done := obs.Time(ctx, "sensitivity")
    rows, m, err := eng.Sensitivity(ctx, ereq, param, factors)
    observe("sensitivity", done(), m, err)
    if err != nil { writeError(w, r, err); return }
    writeJSON(w, http.StatusOK, map[string]any{"parameter": param, "rows": rows, "metrics": m})
}

// CIIHandler handles POST /v1/emissions/cii
func (s *Server) CIIHandler(w http.ResponseWriter, r *http.Request) {
    var req model.CIIRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    calc := emissions.New(s.Engine.Config().Emissions)
    cii, err := calc.CII(req.VesselType, req.DeadweightT, req.DistanceNM, req.CO2T)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid CII request", err.Error(), r.URL.Path); return }
    writeJSON(w, http.StatusOK, cii)
}

// ComplianceHandler handles POST /v1/emissions/compliance: EEXI plus an
// annual CII forecast at the current and proposed service speeds.
func (s *Server) ComplianceHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    var req model.ComplianceRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    eng, err := s.engineFor(r.Context(), p.Tenant)
    if err != nil { writeError(w, r, err); return }
    cfg := eng.Config()
    m, err := vessel.New(req.Vessel, cfg)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid vessel", err.Error(), r.URL.Path); return }
    calc := emissions.New(cfg.Emissions)
    fc, err := calc.ComplianceForecast(m, req.AnnualDistanceNM, req.CurrentKn, req.ProposedKn)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid compliance request", err.Error(), r.URL.Path); return }
    out := map[string]any{"forecast": fc}
    if eexi, ok := calc.EEXI(req.Vessel); ok { out["eexi"] = eexi }
    writeJSON(w, http.StatusOK, out)
}
