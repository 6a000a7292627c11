package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voyageopt/internal/model"
)

func TestVoyageWSStreamsPlanEvents(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s, http.MethodPost, "/v1/voyages/optimize", voyageBody(nil))
	if rr.Code != 200 {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body)
	}
	v := decode[model.Voyage](t, rr)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voyages/" + v.ID + "/ws"
	hdr := http.Header{"X-Tenant-Id": {"t_test"}}

	if _, resp, err := websocket.DefaultDialer.Dial(strings.Replace(url, v.ID, "missing", 1), hdr); err == nil || resp == nil || resp.StatusCode != 404 {
		t.Fatalf("unknown voyage should be refused: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connection_ack" || msg.ID != v.ID {
		t.Fatalf("ack: %+v %v", msg, err)
	}
	if err := conn.WriteJSON(wsMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "pong" {
		t.Fatalf("pong: %+v %v", msg, err)
	}

	s.Broker.Publish(v.ID, SSEEvent{Type: model.EventPlanRecomputed, Data: map[string]any{"voyageId": v.ID, "version": 2}})
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "next" {
		t.Fatalf("next: %+v %v", msg, err)
	}
	var ev SSEEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil || ev.Type != model.EventPlanRecomputed || ev.Data["version"] != 2.0 {
		t.Fatalf("payload: %s %v", msg.Payload, err)
	}
}
