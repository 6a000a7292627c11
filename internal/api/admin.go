package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "sort"
    "time"

    "github.com/gorilla/mux"

    "voyageopt/internal/model"
    "voyageopt/internal/opt"
)

// OptimizerConfigHandler returns the base engine configuration and the
// tenant's effective configuration after overrides.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    ov, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
    if err != nil { writeProblem(w, 500, "Load config failed", err.Error(), r.URL.Path); return }
    eng, err := s.engineFor(r.Context(), p.Tenant)
    if err != nil { writeProblem(w, 500, "Stored overrides invalid", err.Error(), r.URL.Path); return }
    if ov == nil { ov = map[string]any{} }
    writeJSON(w, 200, map[string]any{
        "defaults":  s.Engine.Config().AsMap(),
        "overrides": ov,
        "effective": eng.Config().AsMap(),
    })
}

// AdminOptimizerConfigHandler gets or replaces the tenant's overrides.
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    switch r.Method {
    case http.MethodGet:
        cfg, _ := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if _, err := s.Engine.Config().WithOverrides(body.Config); err != nil {
            writeProblem(w, 400, "Invalid config", err.Error(), r.URL.Path)
            return
        }
        if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PlanMetricsHandler lists engine work per voyage and plan label. Stored rows
// are preferred; the in-process record covers stores that lost them.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    voyage := r.URL.Query().Get("voyageId")
    label := r.URL.Query().Get("label")
    items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, voyage, label)
    if err != nil || len(items) == 0 {
        voyages := []string{voyage}
        if voyage == "" { voyages = opt.Voyages(p.Tenant) }
        items = []model.PlanMetrics{}
        for _, vid := range voyages {
            ms := opt.GetMetrics(p.Tenant, vid)
            labels := make([]string, 0, len(ms))
            for l := range ms { labels = append(labels, l) }
            sort.Strings(labels)
            for _, l := range labels {
                if label != "" && l != label { continue }
                items = append(items, model.PlanMetrics{VoyageID: vid, Label: l, Metrics: ms[l]})
            }
        }
    }
    writeJSON(w, 200, map[string]any{"items": items})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events are required", r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, mux.Vars(r)["id"]); err != nil { writeError(w, r, err); return }
    w.WriteHeader(204)
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, status, cursor, limit)
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, mux.Vars(r)["id"]); err != nil { writeError(w, r, err); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// WebhookDLQHandler handles GET /v1/admin/webhook-dlq
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDLQ(r.Context(), p.Tenant, cursor, limit)
    if err != nil { writeProblem(w, 500, "List DLQ failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// WebhookDLQRequeueHandler handles POST /v1/admin/webhook-dlq/{id}/requeue
func (s *Server) WebhookDLQRequeueHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.requireAdmin(w, r)
    if !ok { return }
    if err := s.Store.RequeueWebhookDLQ(r.Context(), p.Tenant, mux.Vars(r)["id"]); err != nil { writeError(w, r, err); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", "store: "+err.Error(), r.URL.Path); return }
    type pinger interface{ Ping(ctx context.Context) error }
    if b, ok := s.Broker.(pinger); ok {
        if err := b.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", "broker: "+err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
