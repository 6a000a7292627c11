package api

import (
    "bytes"
    "encoding/json"
    "math"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "voyageopt/internal/metrics"
    "voyageopt/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    for _, k := range []string{"DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "CLIMATOLOGY_FILE", "FUEL_PRICES_FILE", "AUTH_MODE"} {
        t.Setenv(k, "")
    }
    t.Setenv("ENGINE_CONFIG", "../../config/engine.yaml")
    s, err := NewServer(t.Context())
    if err != nil { t.Fatalf("NewServer: %v", err) }
    s.Limiter = nil
    return s
}

var depart = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

// voyageBody is four waypoints 480 nm apart on the equator, sailed by the
// sample container ship: 72 h at its 20 kn reference speed.
func voyageBody(extra map[string]any) map[string]any {
    body := map[string]any{
        "reference": "ROT-SIN-1",
        "vessel": map[string]any{
            "name": "MV Sample Express", "type": "container", "deadweightT": 100000,
            "hullResistanceCoeff": 1, "refSpeedKn": 20, "refRpm": 80, "refFuelRateTpd": 180,
            "maxRpm": 100, "maxSpeedKn": 25, "minSpeedKn": 10, "fuelMix": map[string]float64{"VLSFO": 1},
        },
        "graph": map[string]any{
            "nodes": []map[string]any{
                {"id": "W0", "lat": 0, "lon": 0}, {"id": "W1", "lat": 0, "lon": 8},
                {"id": "W2", "lat": 0, "lon": 16}, {"id": "W3", "lat": 0, "lon": 24},
            },
            "edges": []map[string]any{
                {"from": "W0", "to": "W1", "distanceNm": 480},
                {"from": "W1", "to": "W2", "distanceNm": 480},
                {"from": "W2", "to": "W3", "distanceNm": 480},
            },
        },
        "origin": "W0", "destination": "W3",
        "departAt":   depart,
        "fuelPrices": map[string]float64{"VLSFO": 600},
    }
    for k, v := range extra { body[k] = v }
    return body
}

func do(t *testing.T, s *Server, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != nil {
        b, _ := json.Marshal(body)
        rd = bytes.NewReader(b)
    } else {
        rd = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Tenant-Id", "t_test")
    for i := 0; i+1 < len(hdr); i += 2 { req.Header.Set(hdr[i], hdr[i+1]) }
    rr := httptest.NewRecorder()
    s.Router().ServeHTTP(rr, req)
    return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil { t.Fatalf("decode %s: %v", rr.Body.String(), err) }
    return v
}

func TestNewServerNeedsEngineConfig(t *testing.T) {
    newTestServer(t)
    // config/engine.yaml does not resolve from this package directory
    t.Setenv("ENGINE_CONFIG", "")
    if _, err := NewServer(t.Context()); err == nil || !strings.Contains(err.Error(), "engine config") {
        t.Fatalf("want an engine config error, got %v", err)
    }
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    if rr := do(t, s, http.MethodGet, "/healthz", nil); rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    if rr := do(t, s, http.MethodGet, "/readyz", nil); rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
    if rr := do(t, s, http.MethodGet, "/openapi.yaml", nil); rr.Code != 200 || !strings.Contains(rr.Body.String(), "/v1/voyages/optimize") {
        t.Fatalf("openapi: %d", rr.Code)
    }
}

func TestOptimizeStoresVoyageAndNotifies(t *testing.T) {
    s := newTestServer(t)
    sub := do(t, s, http.MethodPost, "/v1/subscriptions", map[string]any{"url": "http://hooks.local/plan", "events": []string{model.EventPlanCreated}})
    if sub.Code != http.StatusCreated { t.Fatalf("subscribe: %d %s", sub.Code, sub.Body) }

    rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil))
    if rr.Code != 200 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body) }
    v := decode[model.Voyage](t, rr)
    if v.ID == "" || v.Version != 1 || v.Status != model.StatusPlanned || v.Origin != "W0" || v.Destination != "W3" || v.TenantID != "t_test" {
        t.Fatalf("voyage: %+v", v)
    }
    if len(v.Plans) != 1 || math.Abs(v.Plans[0].Totals.DurationH-72) > 1e-6 {
        t.Fatalf("plan: %+v", v.Plans)
    }

    got := do(t, s, http.MethodGet, "/v1/voyages/"+v.ID, nil)
    if got.Code != 200 { t.Fatalf("get: %d", got.Code) }
    if other := do(t, s, http.MethodGet, "/v1/voyages/"+v.ID, nil, "X-Tenant-Id", "t_other"); other.Code != 404 {
        t.Fatalf("other tenant: %d", other.Code)
    }
    list := decode[struct{ Items []model.Voyage `json:"items"` }](t, do(t, s, http.MethodGet, "/v1/voyages?status=planned", nil))
    if len(list.Items) != 1 { t.Fatalf("list: %+v", list) }

    due, err := s.Store.FetchDueWebhookDeliveries(t.Context(), 10)
    if err != nil || len(due) != 1 || due[0].EventType != model.EventPlanCreated {
        t.Fatalf("webhook not enqueued: %+v %v", due, err)
    }
    pm := decode[struct{ Items []model.PlanMetrics `json:"items"` }](t, do(t, s, http.MethodGet, "/v1/admin/plan-metrics?voyageId="+v.ID, nil))
    if len(pm.Items) != 1 || pm.Items[0].Label != v.Plans[0].Label {
        t.Fatalf("plan metrics: %+v", pm)
    }
}

func TestOptimizeInfeasibleDeadline(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(map[string]any{"deadline": depart.Add(50 * time.Hour)}))
    if rr.Code != http.StatusUnprocessableEntity { t.Fatalf("want 422, got %d %s", rr.Code, rr.Body) }
    if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" { t.Fatalf("content type %s", ct) }
    p := decode[Problem](t, rr)
    if p.Violation == nil || p.Violation.Constraint != "deadline" || math.Abs(p.Violation.Amount-7.6) > 1e-6 || p.Violation.Unit != "h" {
        t.Fatalf("violation: %+v", p)
    }
}

func TestOptimizeRejectsBadInput(t *testing.T) {
    s := newTestServer(t)
    cases := []struct {
        name string
        body any
        hdr  []string
        want int
    }{
        {"no depart", voyageBody(map[string]any{"departAt": nil}), nil, 400},
        {"deadline before depart", voyageBody(map[string]any{"deadline": depart.Add(-time.Hour)}), nil, 400},
        {"bad policy", voyageBody(map[string]any{"policy": map[string]any{"kind": "warp"}}), nil, 400},
        {"fixed over vessel max", voyageBody(map[string]any{"policy": map[string]any{"kind": "fixed", "speedKn": 40}}), nil, 400},
        {"max speed under fixed speed", voyageBody(map[string]any{"policy": map[string]any{"kind": "fixed", "speedKn": 20}, "constraints": map[string]any{"maxSpeedKn": 15}}), nil, 400},
        {"unknown node", voyageBody(map[string]any{"destination": "W9"}), nil, 400},
        {"viewer", voyageBody(nil), []string{"X-Role", "viewer"}, 403},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", tc.body, tc.hdr...)
            if rr.Code != tc.want { t.Fatalf("want %d, got %d %s", tc.want, rr.Code, rr.Body) }
        })
    }
    req := httptest.NewRequest(http.MethodPost, "/v1/voyages/optimize", strings.NewReader("{"))
    rr := httptest.NewRecorder()
    s.Router().ServeHTTP(rr, req)
    if rr.Code != 400 { t.Fatalf("invalid json: %d", rr.Code) }
}

func TestRecommendRanksAlternatives(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodPost, "/v1/voyages/recommend", voyageBody(map[string]any{
        "berthWindow": map[string]any{"earliest": depart.Add(72 * time.Hour), "latest": depart.Add(80 * time.Hour)},
    }))
    if rr.Code != 200 { t.Fatalf("recommend: %d %s", rr.Code, rr.Body) }
    v := decode[model.Voyage](t, rr)
    if len(v.Plans) < 2 { t.Fatalf("expected alternatives, got %d", len(v.Plans)) }
    for i, p := range v.Plans {
        if p.Rank != i+1 { t.Fatalf("plan %s rank %d at %d", p.Label, p.Rank, i) }
    }
}

func TestBerthWindowRecomputes(t *testing.T) {
    s := newTestServer(t)
    v := decode[model.Voyage](t, do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil)))
    upd := map[string]any{
        "window":   map[string]any{"earliest": depart.Add(72 * time.Hour), "latest": depart.Add(80 * time.Hour)},
        "progress": map[string]any{"legIndex": 1, "fractionDone": 0.5, "at": depart.Add(36 * time.Hour)},
    }
    rr := do(t, s, http.MethodPost, "/v1/voyages/"+v.ID+"/berth-window", upd)
    if rr.Code != 200 { t.Fatalf("berth window: %d %s", rr.Code, rr.Body) }
    up := decode[model.Voyage](t, rr)
    if up.Version != 2 || up.Status != model.StatusRecomputed || up.Plans[0].Label != "recomputed" || len(up.Plans) != 2 {
        t.Fatalf("recomputed voyage: version=%d status=%s plans=%d", up.Version, up.Status, len(up.Plans))
    }
    stale := do(t, s, http.MethodPost, "/v1/voyages/"+v.ID+"/berth-window", upd, "If-Match", "1")
    if stale.Code != http.StatusConflict { t.Fatalf("stale version: %d", stale.Code) }
    bad := do(t, s, http.MethodPost, "/v1/voyages/"+v.ID+"/berth-window", map[string]any{
        "window":   map[string]any{"earliest": depart.Add(80 * time.Hour), "latest": depart.Add(72 * time.Hour)},
        "progress": map[string]any{"legIndex": 1, "at": depart.Add(36 * time.Hour)},
    })
    if bad.Code != 400 { t.Fatalf("inverted window: %d", bad.Code) }
}

func TestSweepAndSensitivity(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodPost, "/v1/speed-sweep", voyageBody(map[string]any{"minSpeedKn": 10, "maxSpeedKn": 25, "stepKn": 5}))
    if rr.Code != 200 { t.Fatalf("sweep: %d %s", rr.Code, rr.Body) }
    sw := decode[struct{ Points []struct{ SpeedKn float64 `json:"speedKn"` } `json:"points"` }](t, rr)
    if len(sw.Points) != 4 || sw.Points[0].SpeedKn != 10 || sw.Points[3].SpeedKn != 25 {
        t.Fatalf("points: %+v", sw.Points)
    }
    if rr := do(t, s, http.MethodPost, "/v1/economic-speed", voyageBody(nil)); rr.Code != 200 {
        t.Fatalf("economic speed: %d %s", rr.Code, rr.Body)
    }
    if rr := do(t, s, http.MethodPost, "/v1/sensitivity", voyageBody(map[string]any{"parameter": "moon_phase"})); rr.Code != 400 {
        t.Fatalf("unknown parameter: %d", rr.Code)
    }
    rr = do(t, s, http.MethodPost, "/v1/sensitivity", voyageBody(map[string]any{"parameter": "fuel_price"}))
    if rr.Code != 200 { t.Fatalf("sensitivity: %d %s", rr.Code, rr.Body) }
    sens := decode[struct{ Rows []json.RawMessage `json:"rows"` }](t, rr)
    if len(sens.Rows) != 6 { t.Fatalf("rows: %d", len(sens.Rows)) }
}

func TestEmissionsEndpoints(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodPost, "/v1/emissions/cii", map[string]any{"vesselType": "container", "deadweightT": 100000, "distanceNm": 1440, "co2T": 1700})
    if rr.Code != 200 { t.Fatalf("cii: %d %s", rr.Code, rr.Body) }
    if rr := do(t, s, http.MethodPost, "/v1/emissions/cii", map[string]any{"vesselType": "container", "deadweightT": 0, "distanceNm": 1, "co2T": 1}); rr.Code != 400 {
        t.Fatalf("zero deadweight: %d", rr.Code)
    }
    body := voyageBody(nil)
    rr = do(t, s, http.MethodPost, "/v1/emissions/compliance", map[string]any{"vessel": body["vessel"], "annualDistanceNm": 60000, "currentKn": 20, "proposedKn": 17})
    if rr.Code != 200 { t.Fatalf("compliance: %d %s", rr.Code, rr.Body) }
}

func TestOptimizerConfigOverrides(t *testing.T) {
    s := newTestServer(t)
    if rr := do(t, s, http.MethodPut, "/v1/admin/optimizer/config", map[string]any{"config": map[string]any{"band": map[string]any{"min": 0.9, "max": 0.8}}}); rr.Code != 400 {
        t.Fatalf("invalid band accepted: %d", rr.Code)
    }
    if rr := do(t, s, http.MethodPut, "/v1/admin/optimizer/config", map[string]any{"config": map[string]any{"hullFloorKn": 9}}, "X-Role", "planner"); rr.Code != 403 {
        t.Fatalf("planner may not change config: %d", rr.Code)
    }
    if rr := do(t, s, http.MethodPut, "/v1/admin/optimizer/config", map[string]any{"config": map[string]any{"hullFloorKn": 9}}); rr.Code != 200 {
        t.Fatalf("save: %d %s", rr.Code, rr.Body)
    }
    cfg := decode[struct {
        Defaults  map[string]any `json:"defaults"`
        Effective map[string]any `json:"effective"`
    }](t, do(t, s, http.MethodGet, "/v1/optimizer/config", nil))
    if cfg.Effective["hullFloorKn"] != 9.0 || cfg.Defaults["hullFloorKn"] == 9.0 {
        t.Fatalf("overrides not applied: %v / %v", cfg.Effective["hullFloorKn"], cfg.Defaults["hullFloorKn"])
    }
}

func TestOptimizeRateLimited(t *testing.T) {
    s := newTestServer(t)
    s.Limiter = NewLimiter(0.01, 1)
    if rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil)); rr.Code != 200 { t.Fatalf("first: %d", rr.Code) }
    rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil))
    if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "100" {
        t.Fatalf("second: %d retry-after=%q", rr.Code, rr.Header().Get("Retry-After"))
    }
    if rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil), "X-Tenant-Id", "t_other"); rr.Code != 200 {
        t.Fatalf("other tenant has its own bucket: %d", rr.Code)
    }
}

func TestUnknownRouteIsProblem(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodGet, "/v1/nowhere", nil)
    if rr.Code != 404 || decode[Problem](t, rr).Title != "Not Found" { t.Fatalf("got %d %s", rr.Code, rr.Body) }
}

func TestMetricsEndpoint(t *testing.T) {
    metrics.RegisterDefault()
    s := newTestServer(t)
    do(t, s, http.MethodGet, "/healthz", nil)
    rr := do(t, s, http.MethodGet, "/metrics", nil)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`) {
        t.Fatalf("metrics: %d", rr.Code)
    }
}

func TestDocsAndConsole(t *testing.T) {
    s := newTestServer(t)
    rr := do(t, s, http.MethodGet, "/openapi.yaml?format=json", nil)
    doc := decode[map[string]any](t, rr)
    if doc["openapi"] == nil || doc["paths"] == nil { t.Fatalf("openapi json: %v", doc["openapi"]) }
    rr = do(t, s, http.MethodGet, "/console", nil, "X-Role", "viewer")
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), `<option selected>viewer</option>`) || !strings.Contains(rr.Body.String(), `value="t_test"`) {
        t.Fatalf("console: %d", rr.Code)
    }
    rr = do(t, s, http.MethodGet, "/debug/info", nil)
    info := decode[map[string]any](t, rr)
    if info["broker"] != "memory" || info["engine"] == nil { t.Fatalf("debug info: %v", info) }
    if rr := do(t, s, http.MethodGet, "/debug/info", nil, "X-Role", "planner"); rr.Code != 403 { t.Fatalf("debug for planner: %d", rr.Code) }
}
