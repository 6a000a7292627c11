package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // OptimizeDuration records engine run time by operation and outcome
    OptimizeDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "voyage_optimize_duration_seconds", Help: "Voyage optimization duration in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}},
        []string{"op", "outcome"},
    )
    // PartialResults counts runs that hit their time budget
    PartialResults = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "voyage_partial_results_total", Help: "Optimizations returned as partial plans."},
        []string{"op"},
    )
    // SearchExpansions counts route search node expansions
    SearchExpansions = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "voyage_search_expansions_total", Help: "Route search label expansions."},
    )
    // OptimizerIterations records schedule optimizer iterations per run
    OptimizerIterations = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "voyage_optimizer_iterations", Help: "Schedule optimizer iterations per run.", Buckets: []float64{0, 1, 5, 10, 50, 100, 500}},
    )
    // EnvSamples counts environment cache lookups by result
    EnvSamples = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "voyage_env_samples_total", Help: "Environment sample lookups by cache result."},
        []string{"result"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(OptimizeDuration)
        Registry.MustRegister(PartialResults)
        Registry.MustRegister(SearchExpansions)
        Registry.MustRegister(OptimizerIterations)
        Registry.MustRegister(EnvSamples)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Run is the engine work summary recorded per request.
type Run struct {
    Op          string
    Seconds     float64
    Err         bool
    Partial     bool
    Expanded    int
    Iterations  int
    CacheHits   int64
    CacheMisses int64
}

// ObserveRun records one engine request.
func ObserveRun(r Run) {
    outcome := "ok"
    switch {
    case r.Err:
        outcome = "error"
    case r.Partial:
        outcome = "partial"
        PartialResults.WithLabelValues(r.Op).Inc()
    }
    OptimizeDuration.WithLabelValues(r.Op, outcome).Observe(r.Seconds)
    SearchExpansions.Add(float64(r.Expanded))
    OptimizerIterations.Observe(float64(r.Iterations))
    EnvSamples.WithLabelValues("hit").Add(float64(r.CacheHits))
    EnvSamples.WithLabelValues("miss").Add(float64(r.CacheMisses))
}
