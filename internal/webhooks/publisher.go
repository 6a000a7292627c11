package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"voyageopt/internal/model"
	"voyageopt/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues a plan event for every subscription of the tenant that
// listens to its type. The event id makes redelivery of the same voyage
// version idempotent.
func (p *Publisher) Emit(ctx context.Context, tenantID string, ev model.PlanEvent) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, ev.Type)
	if err != nil {
		log.Printf("webhooks: tenant=%s event=%s subscriptions: %v", tenantID, ev.Type, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       fmt.Sprintf("evt_%s_v%d_%s", ev.VoyageID, ev.Version, ev.Type),
		"type":     ev.Type,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     ev,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, s.ID, ev.Type, s.URL, s.Secret, body); err != nil {
			log.Printf("webhooks: tenant=%s sub=%s enqueue: %v", tenantID, s.ID, err)
		}
	}
}
