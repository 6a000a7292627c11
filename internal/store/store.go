package store

import (
    "context"
    "errors"
    "time"

    "voyageopt/internal/model"
    "voyageopt/internal/opt"
)

// Store is the persistence interface used by the API server.
type Store interface {
    // Voyages
    CreateVoyage(ctx context.Context, v model.Voyage) (model.Voyage, error)
    GetVoyage(ctx context.Context, tenantID, id string) (model.Voyage, error)
    ListVoyages(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Voyage, string, error)
    // ReplacePlans swaps a voyage's plans, bumping its version. A non-zero
    // expectVersion must match the stored version.
    ReplacePlans(ctx context.Context, tenantID, id string, expectVersion int, status string, plans []opt.VoyagePlan) (model.Voyage, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]DeliveryInfo, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error
    ListWebhookDLQ(ctx context.Context, tenantID, cursor string, limit int) ([]DeliveryInfo, string, error)
    RequeueWebhookDLQ(ctx context.Context, tenantID, id string) error

    // Plan metrics
    SavePlanMetrics(ctx context.Context, tenantID, voyageID, label string, m opt.Metrics) error
    ListPlanMetrics(ctx context.Context, tenantID, voyageID, label string) ([]model.PlanMetrics, error)

    // Optimizer config overrides per tenant
    GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error)
    SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error

    Ping(ctx context.Context) error
}

var (
    ErrNotFound = errors.New("not found")
    // ErrVersionConflict is returned by ReplacePlans when expectVersion is stale.
    ErrVersionConflict = errors.New("version conflict")
)
