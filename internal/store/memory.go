package store

import (
    "context"
    "slices"
    "sync"
    "time"

    "github.com/google/uuid"
    "voyageopt/internal/model"
    "voyageopt/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu      sync.Mutex
    voyages map[string]model.Voyage             // id -> voyage
    byTen   map[string][]string                 // tenant -> voyage ids, creation order
    subs    map[string][]model.Subscription     // tenant -> subscriptions
    // Webhooks queue state
    deliveries map[string]*memDelivery          // id -> delivery state
    deliveriesByTenant map[string][]string      // tenant -> delivery ids
    dlq     map[string][]*memDelivery           // tenant -> dead-lettered deliveries
    planMx  map[string][]model.PlanMetrics      // tenant -> metrics rows
    optCfg  map[string]map[string]any           // tenant -> config
}

func NewMemory() *Memory {
    return &Memory{
        voyages: map[string]model.Voyage{},
        byTen: map[string][]string{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        dlq: map[string][]*memDelivery{},
        planMx: map[string][]model.PlanMetrics{},
        optCfg: map[string]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (d *memDelivery) info() DeliveryInfo {
    in := DeliveryInfo{ID: d.ID, EventType: d.EventType, Status: d.Status, Attempts: d.Attempts, URL: d.URL, LastError: d.LastError, ResponseCode: d.ResponseCode, LatencyMs: d.LatencyMs}
    if !d.NextAttemptAt.IsZero() && d.Status != DeliveryDelivered && d.Status != DeliveryFailed {
        t := d.NextAttemptAt
        in.NextAttemptAt = &t
    }
    return in
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateVoyage(ctx context.Context, v model.Voyage) (model.Voyage, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if v.ID == "" { v.ID = uuid.New().String() }
    now := time.Now().UTC()
    v.Version = 1
    v.CreatedAt, v.UpdatedAt = now, now
    m.voyages[v.ID] = v
    m.byTen[v.TenantID] = append(m.byTen[v.TenantID], v.ID)
    return v, nil
}

func (m *Memory) GetVoyage(ctx context.Context, tenantID, id string) (model.Voyage, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.voyages[id]
    if !ok || v.TenantID != tenantID { return model.Voyage{}, ErrNotFound }
    return v, nil
}

func (m *Memory) ListVoyages(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Voyage, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.byTen[tenantID]
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Voyage{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        v := m.voyages[ids[i]]
        if status == "" || v.Status == status { out = append(out, v) }
        next = ids[i]
    }
    if len(out) < limit { next = "" }
    return out, next, nil
}

func (m *Memory) ReplacePlans(ctx context.Context, tenantID, id string, expectVersion int, status string, plans []opt.VoyagePlan) (model.Voyage, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.voyages[id]
    if !ok || v.TenantID != tenantID { return model.Voyage{}, ErrNotFound }
    if expectVersion != 0 && v.Version != expectVersion { return v, ErrVersionConflict }
    v.Plans = plans
    v.Status = status
    v.Version++
    v.UpdatedAt = time.Now().UTC()
    m.voyages[id] = v
    return v, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, s := range m.subs[tenantID] {
        if slices.Contains(s.Events, eventType) || slices.Contains(s.Events, "*") { out = append(out, s) }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    all := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i, s := range all {
            if s.ID == cursor { start = i + 1; break }
        }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Subscription{}
    for i := start; i < len(all) && len(out) < limit; i++ { out = append(out, all[i]) }
    next := ""
    if len(out) == limit && start+limit < len(all) { next = out[len(out)-1].ID }
    return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    subs := m.subs[tenantID]
    for i, s := range subs {
        if s.ID == id {
            m.subs[tenantID] = append(subs[:i:i], subs[i+1:]...)
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    dk := computeDedupKey(payload)
    for _, id := range m.deliveriesByTenant[tenantID] {
        d := m.deliveries[id]
        if d != nil && d.EventType == eventType && d.URL == url && computeDedupKey(d.Payload) == dk { return d.ID, nil }
    }
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.iterDeliveryIDs() {
        d := m.deliveries[id]
        if d == nil { continue }
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
    m.dlq[d.TenantID] = append(m.dlq[d.TenantID], d)
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryInfo, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    out := []DeliveryInfo{}
    started := cursor == ""
    var next string
    for _, id := range m.deliveriesByTenant[tenantID] {
        if !started { started = id == cursor; continue }
        d := m.deliveries[id]
        if d == nil || (status != "" && d.Status != status) { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, d.info())
    }
    return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]DeliveryInfo, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 { limit = 100 }
    out := []DeliveryInfo{}
    started := cursor == ""
    var next string
    for _, d := range m.dlq[tenantID] {
        if !started { started = d.ID == cursor; continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, d.info())
    }
    return out, next, nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    q := m.dlq[tenantID]
    for i, d := range q {
        if d.ID == id {
            m.dlq[tenantID] = append(q[:i:i], q[i+1:]...)
            d.Status = DeliveryPending
            d.NextAttemptAt = time.Now()
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) SavePlanMetrics(ctx context.Context, tenantID, voyageID, label string, mx opt.Metrics) error {
    m.mu.Lock(); defer m.mu.Unlock()
    row := model.PlanMetrics{VoyageID: voyageID, Label: label, Metrics: mx, CreatedAt: time.Now().UTC()}
    items := m.planMx[tenantID]
    for i := range items {
        if items[i].VoyageID == voyageID && items[i].Label == label { items[i] = row; return nil }
    }
    m.planMx[tenantID] = append(items, row)
    return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, voyageID, label string) ([]model.PlanMetrics, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.PlanMetrics{}
    for _, it := range m.planMx[tenantID] {
        if (voyageID == "" || it.VoyageID == voyageID) && (label == "" || it.Label == label) { out = append(out, it) }
    }
    return out, nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if cfg, ok := m.optCfg[tenantID]; ok { return cfg, nil }
    return nil, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.optCfg[tenantID] = cfg
    return nil
}

// helper: iterate delivery IDs by tenant order
func (m *Memory) iterDeliveryIDs() []string {
    ids := []string{}
    for _, lst := range m.deliveriesByTenant {
        ids = append(ids, lst...)
    }
    return ids
}
