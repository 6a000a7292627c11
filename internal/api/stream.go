package api

import (
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "github.com/gorilla/mux"
)

// VoyageEventsHandler handles GET /v1/voyages/{id}/events/stream as
// server-sent events, with a heartbeat every 15s.
func (s *Server) VoyageEventsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    id := mux.Vars(r)["id"]
    if _, err := s.Store.GetVoyage(r.Context(), p.Tenant, id); err != nil { writeError(w, r, err); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"voyageId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    tick := time.NewTicker(15 * time.Second)
    defer tick.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-tick.C:
            heartbeat()
        }
    }
}
