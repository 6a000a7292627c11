package api

import (
    "sync"
)

// SSEEvent is one plan event fanned out to stream and websocket clients.
type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// EventBroker fans plan events out per voyage.
type EventBroker interface {
    Subscribe(voyageID string) chan SSEEvent
    Unsubscribe(voyageID string, ch chan SSEEvent)
    Publish(voyageID string, evt SSEEvent)
}

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{} // voyageId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(voyageID string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[voyageID] == nil { b.subs[voyageID] = map[chan SSEEvent]struct{}{} }
    b.subs[voyageID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(voyageID string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[voyageID]
    if m == nil { return }
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, voyageID) }
    close(ch)
}

// Publish never blocks; slow subscribers drop events.
func (b *Broker) Publish(voyageID string, evt SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for ch := range b.subs[voyageID] {
        select { case ch <- evt: default: }
    }
}
