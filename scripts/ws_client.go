// Package main runs a demo WebSocket client for voyage plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const voyage = `{
  "reference": "ws-demo",
  "vessel": {"name": "MV Sample Express", "type": "container", "deadweightT": 100000,
    "hullResistanceCoeff": 1, "refSpeedKn": 20, "refRpm": 80, "refFuelRateTpd": 180,
    "maxRpm": 100, "maxSpeedKn": 25, "minSpeedKn": 10, "fuelMix": {"VLSFO": 1}},
  "waypoints": [{"id": "RTM", "lat": 51.95, "lon": 4.05}, {"id": "USH", "lat": 48.45, "lon": -5.1}, {"id": "FIN", "lat": 43.0, "lon": -9.5}],
  "departAt": "%s",
  "fuelPrices": {"VLSFO": 600}
}`

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "planner")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	depart := time.Now().UTC().Truncate(time.Hour)

	resp, err := post(base, "/v1/voyages/optimize", fmt.Appendf(nil, voyage, depart.Format(time.RFC3339)))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var v struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil || v.ID == "" {
		log.Fatalf("optimize: status=%d err=%v", resp.StatusCode, err)
	}
	log.Printf("Voyage ID: %s", v.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/voyages/" + v.ID + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	filter, _ := json.Marshal(map[string]any{"events": []string{"voyage.plan.recomputed"}})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", Payload: filter}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Report progress halfway along the first leg with a later berth window.
	time.Sleep(500 * time.Millisecond)
	upd, _ := json.Marshal(map[string]any{
		"progress": map[string]any{"legIndex": 0, "fractionDone": 0.5, "at": depart.Add(6 * time.Hour)},
		"window":   map[string]any{"earliest": depart.Add(48 * time.Hour), "latest": depart.Add(54 * time.Hour)},
	})
	if r, err := post(base, "/v1/voyages/"+v.ID+"/berth-window", upd); err == nil {
		_ = r.Body.Close()
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
