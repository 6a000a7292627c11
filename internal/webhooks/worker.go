package webhooks

import (
    "bytes"
    "context"
    "log"
    "net/http"
    "time"

    "voyageopt/internal/config"
    "voyageopt/internal/metrics"
    "voyageopt/internal/store"
)

// Worker polls the store for due deliveries and posts them with an HMAC
// signature. Failed deliveries back off exponentially until MaxAttempts,
// then move to the dead-letter queue.
type Worker struct {
    Store store.Store
    HTTP  *http.Client
    Stop  chan struct{}
    MaxAttempts int
    Interval    time.Duration
}

func NewWorker(s store.Store) *Worker {
    return &Worker{
        Store: s,
        HTTP: &http.Client{Timeout: 5 * time.Second},
        Stop: make(chan struct{}),
        MaxAttempts: max(config.EnvInt("WEBHOOK_MAX_ATTEMPTS", 10), 1),
        Interval: time.Duration(max(config.EnvInt("WEBHOOK_POLL_MS", 1000), 50)) * time.Millisecond,
    }
}

func (w *Worker) Start() {
    go func() {
        ticker := time.NewTicker(w.Interval)
        defer ticker.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            }
        }
    }()
}

func (w *Worker) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
    if err != nil {
        log.Printf("webhooks: fetch due deliveries: %v", err)
        return
    }
    for _, it := range items {
        w.deliver(ctx, it)
    }
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
    success := false
    next := time.Now().Add(nextBackoff(it.Attempts))
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
    if err != nil {
        _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0)
        metrics.WebhookDeliveries.WithLabelValues(it.EventType, store.DeliveryFailed).Inc()
        return
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Event-Type", it.EventType)
    if it.Secret != "" {
        req.Header.Set("X-Signature", Sign(it.Secret, time.Now(), it.Payload))
    }
    start := time.Now()
    resp, err := w.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    code := 0
    if err == nil && resp != nil {
        code = resp.StatusCode
        if resp.Body != nil { _ = resp.Body.Close() }
        if code >= 200 && code < 300 { success = true }
    }
    lastErr := ""
    switch {
    case !success && err != nil:
        lastErr = err.Error()
    case !success:
        lastErr = http.StatusText(code)
    }
    status := store.DeliveryDelivered
    if !success && it.Attempts+1 >= w.MaxAttempts {
        status = store.DeliveryFailed
        if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
            log.Printf("webhooks: delivery=%s dead-letter: %v", it.ID, err)
        }
    } else {
        if !success { status = store.DeliveryRetry }
        if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
            log.Printf("webhooks: delivery=%s mark: %v", it.ID, err)
        }
    }
    metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
    metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 10 { attempts = 10 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
