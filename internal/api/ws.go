package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsFilter narrows the event types a client receives; empty means all.
type wsFilter struct {
	Events []string `json:"events"`
}

// VoyageWSHandler handles GET /v1/voyages/{id}/ws. After connection_ack the
// server pushes each plan event as a "next" message. Clients may send
// "subscribe" with an event filter, "ping", or "complete" to stop.
func (s *Server) VoyageWSHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetVoyage(r.Context(), p.Tenant, id); err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	var fmu sync.RWMutex
	allowed := map[string]bool{}
	wants := func(typ string) bool {
		fmu.RLock()
		defer fmu.RUnlock()
		return len(allowed) == 0 || allowed[typ]
	}

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	if err := write(wsMessage{Type: "connection_ack", ID: id}); err != nil {
		return
	}

	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !wants(evt.Type) {
					continue
				}
				payload, _ := json.Marshal(evt)
				if err := write(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
					return
				}
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var f wsFilter
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				_ = write(wsMessage{Type: "error", Payload: []byte(`{"message":"invalid filter"}`)})
				continue
			}
			fmu.Lock()
			allowed = map[string]bool{}
			for _, e := range f.Events {
				allowed[e] = true
			}
			fmu.Unlock()
		case "complete":
			_ = write(wsMessage{Type: "complete", ID: id})
			return
		}
	}
}
