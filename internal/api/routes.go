package api

import (
    "bufio"
    "fmt"
    "net"
    "net/http"
    "strconv"
    "time"

    "github.com/gorilla/mux"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "voyageopt/internal/metrics"
    "voyageopt/internal/obs"
)

// Router registers every endpoint. Optimizer endpoints are rate limited
// per tenant.
func (s *Server) Router() *mux.Router {
    r := mux.NewRouter()
    r.Use(obs.Middleware, instrument)

    // Voyages
    r.HandleFunc("/v1/voyages/optimize", s.limited(s.OptimizeHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/voyages/recommend", s.limited(s.RecommendHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/voyages", s.VoyagesHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/voyages/{id}", s.VoyageByIDHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/voyages/{id}/berth-window", s.limited(s.BerthWindowHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/voyages/{id}/events/stream", s.VoyageEventsHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/voyages/{id}/ws", s.VoyageWSHandler).Methods(http.MethodGet)

    // Analysis
    r.HandleFunc("/v1/speed-sweep", s.limited(s.SpeedSweepHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/economic-speed", s.limited(s.EconomicSpeedHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/sensitivity", s.limited(s.SensitivityHandler)).Methods(http.MethodPost)
    r.HandleFunc("/v1/emissions/cii", s.CIIHandler).Methods(http.MethodPost)
    r.HandleFunc("/v1/emissions/compliance", s.ComplianceHandler).Methods(http.MethodPost)

    // Configuration
    r.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/admin/optimizer/config", s.AdminOptimizerConfigHandler).Methods(http.MethodGet, http.MethodPut)

    // Subscriptions and webhooks
    r.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler).Methods(http.MethodGet, http.MethodPost)
    r.HandleFunc("/v1/subscriptions/{id}", s.SubscriptionByIDHandler).Methods(http.MethodDelete)
    r.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler).Methods(http.MethodPost)
    r.HandleFunc("/v1/admin/webhook-dlq", s.WebhookDLQHandler).Methods(http.MethodGet)
    r.HandleFunc("/v1/admin/webhook-dlq/{id}/requeue", s.WebhookDLQRequeueHandler).Methods(http.MethodPost)
    r.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler).Methods(http.MethodGet)

    // Ops
    r.HandleFunc("/healthz", s.HealthHandler)
    r.HandleFunc("/readyz", s.ReadyHandler)
    r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    r.HandleFunc("/debug/info", s.DebugJSON).Methods(http.MethodGet)
    r.HandleFunc("/openapi.yaml", s.OpenAPIHandler).Methods(http.MethodGet)
    r.HandleFunc("/docs", s.DocsHandler).Methods(http.MethodGet)
    r.HandleFunc("/console", s.SwaggerHandler).Methods(http.MethodGet)

    r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
        writeProblem(w, http.StatusNotFound, "Not Found", "", req.URL.Path)
    })
    r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
        writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", req.Method, req.URL.Path)
    })
    return r
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (s *statusRecorder) WriteHeader(code int) {
    s.status = code
    s.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (s *statusRecorder) Flush() {
    if f, ok := s.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := s.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, fmt.Errorf("response writer does not support hijacking") }
    s.status = http.StatusSwitchingProtocols
    return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// instrument records request counts and durations by route template.
func instrument(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        path := r.URL.Path
        if route := mux.CurrentRoute(r); route != nil {
            if tpl, err := route.GetPathTemplate(); err == nil { path = tpl }
        }
        code := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
    })
}
