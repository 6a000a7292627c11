package api

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "net/http"

    "voyageopt/internal/cost"
    "voyageopt/internal/env"
    "voyageopt/internal/legcost"
    "voyageopt/internal/model"
    "voyageopt/internal/obs"
    "voyageopt/internal/opt"
    "voyageopt/internal/route"
    "voyageopt/internal/schedule"
    "voyageopt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
    Type      string     `json:"type"`
    Title     string     `json:"title"`
    Status    int        `json:"status"`
    Detail    string     `json:"detail,omitempty"`
    Instance  string     `json:"instance,omitempty"`
    Violation *Violation `json:"violation,omitempty"`
}

// Violation names the constraint an infeasible request broke and by how much.
type Violation struct {
    Constraint string  `json:"constraint"`
    Amount     float64 `json:"amount,omitempty"`
    Unit       string  `json:"unit,omitempty"`
    LegID      string  `json:"legId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
    writeProblemDoc(w, Problem{Type: "about:blank", Title: title, Status: status, Detail: detail, Instance: instance})
}

func writeProblemDoc(w http.ResponseWriter, p Problem) {
    w.Header().Set("Content-Type", "application/problem+json")
    w.WriteHeader(p.Status)
    _ = json.NewEncoder(w).Encode(p)
}

// problemFor maps engine and store errors onto problem documents.
func problemFor(err error) Problem {
    p := Problem{Type: "about:blank", Detail: err.Error()}
    var (
        dl   *schedule.DeadlineInfeasibleError
        band *schedule.BandInfeasibleError
        leg  *legcost.InfeasibleLegError
    )
    switch {
    case errors.As(err, &dl):
        p.Status, p.Title = http.StatusUnprocessableEntity, "Deadline infeasible"
        p.Violation = &Violation{Constraint: "deadline", Amount: dl.ShortfallH, Unit: "h"}
    case errors.As(err, &band):
        p.Status, p.Title = http.StatusUnprocessableEntity, "Efficient band infeasible"
        p.Violation = &Violation{Constraint: "efficient_band", Amount: max(band.RequiredH-band.AvailableH, 0), Unit: "h"}
    case errors.As(err, &leg):
        p.Status, p.Title = http.StatusUnprocessableEntity, "Leg infeasible"
        p.Violation = &Violation{Constraint: "opposing_current", Amount: -leg.EffectiveKn, Unit: "kn", LegID: leg.LegID}
    case errors.Is(err, route.ErrNoFeasiblePath):
        p.Status, p.Title = http.StatusUnprocessableEntity, "No feasible route"
        p.Violation = &Violation{Constraint: "route"}
    case errors.Is(err, opt.ErrPartial):
        p.Status, p.Title = http.StatusUnprocessableEntity, "Time budget exhausted"
        p.Violation = &Violation{Constraint: "time_budget"}
    case errors.Is(err, cost.ErrNoPrice):
        p.Status, p.Title = http.StatusUnprocessableEntity, "Missing fuel price"
        p.Violation = &Violation{Constraint: "fuel_price"}
    case errors.Is(err, schedule.ErrInvalidConstraints), errors.Is(err, opt.ErrInvalidRequest), errors.Is(err, model.ErrBadRequest):
        p.Status, p.Title = http.StatusBadRequest, "Invalid voyage request"
    case errors.Is(err, env.ErrDataUnavailable):
        p.Status, p.Title = http.StatusServiceUnavailable, "Environment data unavailable"
    case errors.Is(err, store.ErrNotFound):
        p.Status, p.Title = http.StatusNotFound, "Not Found"
    case errors.Is(err, store.ErrVersionConflict):
        p.Status, p.Title = http.StatusConflict, "Voyage changed concurrently"
    case errors.Is(err, context.DeadlineExceeded):
        p.Status, p.Title = http.StatusGatewayTimeout, "Timed out"
    default:
        p.Status, p.Title = http.StatusInternalServerError, "Internal error"
    }
    return p
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
    p := problemFor(err)
    p.Instance = r.URL.Path
    if p.Status >= 500 {
        log.Printf("req_id=%s path=%s error: %v", obs.RequestID(r.Context()), r.URL.Path, err)
    }
    writeProblemDoc(w, p)
}
