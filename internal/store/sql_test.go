package store

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"voyageopt/internal/model"
	"voyageopt/internal/opt"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	got := computeDedupKey(body)
	if got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	body := []byte(`{"notId":"x"}`)
	got := computeDedupKey(body)
	// hex-encoded first 8 bytes -> 16 hex chars
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE x=? AND y=?`
	if got := rebind("postgres", q); got != `SELECT a FROM t WHERE x=$1 AND y=$2` {
		t.Fatalf("postgres rebind: %s", got)
	}
	if got := rebind("sqlite", q); got != q {
		t.Fatalf("sqlite should keep ?: %s", got)
	}
}

func newSQLite(t *testing.T) *SQL {
	t.Helper()
	s, err := NewSQLite(t.Context(), filepath.Join(t.TempDir(), "voyages.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// stores runs a test body against every implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
}

func TestVoyageLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		depart := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		v, err := s.CreateVoyage(ctx, model.Voyage{TenantID: "t1", Vessel: "MV Test", Origin: "A", Destination: "B", DepartAt: depart, Status: model.StatusPlanned,
			Plans: []opt.VoyagePlan{{Label: "optimized", Path: []string{"A", "B"}}}})
		if err != nil || v.ID == "" || v.Version != 1 {
			t.Fatalf("create: %+v %v", v, err)
		}
		got, err := s.GetVoyage(ctx, "t1", v.ID)
		if err != nil || got.Plans[0].Label != "optimized" || !got.DepartAt.Equal(depart) {
			t.Fatalf("get: %+v %v", got, err)
		}
		if _, err := s.GetVoyage(ctx, "t2", v.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("other tenant should not see voyage: %v", err)
		}
		up, err := s.ReplacePlans(ctx, "t1", v.ID, 1, model.StatusRecomputed, []opt.VoyagePlan{{Label: "recomputed"}})
		if err != nil || up.Version != 2 || up.Status != model.StatusRecomputed || up.Plans[0].Label != "recomputed" {
			t.Fatalf("replace: %+v %v", up, err)
		}
		if _, err := s.ReplacePlans(ctx, "t1", v.ID, 1, model.StatusPlanned, nil); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("stale version should conflict: %v", err)
		}
		list, _, err := s.ListVoyages(ctx, "t1", model.StatusRecomputed, "", 10)
		if err != nil || len(list) != 1 {
			t.Fatalf("list: %+v %v", list, err)
		}
	})
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		sub, err := s.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://hook", Events: []string{model.EventPlanCreated}, Secret: "k"})
		if err != nil {
			t.Fatal(err)
		}
		subs, err := s.GetSubscriptionsForEvent(ctx, "t1", model.EventPlanCreated)
		if err != nil || len(subs) != 1 || subs[0].Secret != "k" {
			t.Fatalf("subs: %+v %v", subs, err)
		}
		if subs, _ := s.GetSubscriptionsForEvent(ctx, "t1", model.EventPlanRecomputed); len(subs) != 0 {
			t.Fatalf("unexpected match: %+v", subs)
		}
		body := []byte(`{"id":"evt_1"}`)
		id, err := s.EnqueueWebhook(ctx, "t1", sub.ID, model.EventPlanCreated, sub.URL, sub.Secret, body)
		if err != nil || id == "" {
			t.Fatalf("enqueue: %v", err)
		}
		_, _ = s.EnqueueWebhook(ctx, "t1", sub.ID, model.EventPlanCreated, sub.URL, sub.Secret, body)
		due, err := s.FetchDueWebhookDeliveries(ctx, 10)
		if err != nil || len(due) != 1 || string(due[0].Payload) != string(body) {
			t.Fatalf("due (dedup expected): %+v %v", due, err)
		}
		if err := s.FailWebhookDelivery(ctx, due[0].ID, "boom", 500, 12); err != nil {
			t.Fatal(err)
		}
		dlq, _, err := s.ListWebhookDLQ(ctx, "t1", "", 10)
		if err != nil || len(dlq) != 1 || dlq[0].LastError != "boom" {
			t.Fatalf("dlq: %+v %v", dlq, err)
		}
		if err := s.RequeueWebhookDLQ(ctx, "t1", dlq[0].ID); err != nil {
			t.Fatal(err)
		}
		if due, _ := s.FetchDueWebhookDeliveries(ctx, 10); len(due) != 1 {
			t.Fatalf("requeued delivery should be due: %+v", due)
		}
		if err := s.DeleteSubscription(ctx, "t1", sub.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteSubscription(ctx, "t1", sub.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second delete: %v", err)
		}
	})
}

func TestPlanMetricsAndConfig(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.SavePlanMetrics(ctx, "t1", "v1", "optimized", opt.Metrics{Evaluated: 3}); err != nil {
			t.Fatal(err)
		}
		if err := s.SavePlanMetrics(ctx, "t1", "v1", "optimized", opt.Metrics{Evaluated: 5}); err != nil {
			t.Fatal(err)
		}
		rows, err := s.ListPlanMetrics(ctx, "t1", "v1", "")
		if err != nil || len(rows) != 1 || rows[0].Metrics.Evaluated != 5 {
			t.Fatalf("metrics upsert: %+v %v", rows, err)
		}
		if cfg, err := s.GetOptimizerConfig(ctx, "t1"); err != nil || cfg != nil {
			t.Fatalf("empty config: %v %v", cfg, err)
		}
		if err := s.SaveOptimizerConfig(ctx, "t1", map[string]any{"hullFloorKn": 9.0}); err != nil {
			t.Fatal(err)
		}
		cfg, err := s.GetOptimizerConfig(ctx, "t1")
		if err != nil || cfg["hullFloorKn"] != 9.0 {
			t.Fatalf("config: %v %v", cfg, err)
		}
	})
}
