package store

import "time"

type WebhookDelivery struct {
    ID             string
    TenantID       string
    SubscriptionID string
    EventType      string
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
}

// DeliveryInfo is the listing view of a delivery or dead-lettered delivery.
type DeliveryInfo struct {
    ID            string     `json:"id"`
    EventType     string     `json:"eventType"`
    Status        string     `json:"status"`
    Attempts      int        `json:"attempts"`
    URL           string     `json:"url"`
    NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
    LastError     string     `json:"lastError,omitempty"`
    ResponseCode  int        `json:"responseCode,omitempty"`
    LatencyMs     int        `json:"latencyMs,omitempty"`
}

// Delivery statuses.
const (
    DeliveryPending   = "pending"
    DeliveryRetry     = "retry"
    DeliveryDelivered = "delivered"
    DeliveryFailed    = "failed"
)
