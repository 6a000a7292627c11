// Package integrations holds adapters for the collaborators the engine
// consumes: fuel price feeds and graph builders.
package integrations

import (
    "context"
    "errors"
    "fmt"
    "log"
    "strings"
    "sync"
    "time"

    "voyageopt/internal/cost"
    "voyageopt/internal/route"
)

// PriceSource is a fuel price feed, e.g. a bunker price file or a broker API.
type PriceSource interface {
    Name() string
    FetchPrices(ctx context.Context) (map[string]float64, error)
}

// Prices caches a PriceSource for TTL and serves cost.PriceLookup. A failed
// refresh keeps serving the last good table.
type Prices struct {
    Source PriceSource
    TTL    time.Duration

    mu      sync.Mutex
    table   map[string]float64
    fetched time.Time
    now     func() time.Time
}

func NewPrices(src PriceSource, ttl time.Duration) *Prices {
    return &Prices{Source: src, TTL: ttl, now: time.Now}
}

func (p *Prices) FuelPrice(ctx context.Context, fuelType string) (float64, error) {
    table, err := p.current(ctx)
    if err != nil {
        return 0, err
    }
    v, ok := table[strings.ToUpper(fuelType)]
    if !ok {
        return 0, fmt.Errorf("%w: %s (source %s)", cost.ErrNoPrice, fuelType, p.Source.Name())
    }
    return v, nil
}

func (p *Prices) current(ctx context.Context) (map[string]float64, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.table != nil && (p.TTL <= 0 || p.now().Sub(p.fetched) < p.TTL) {
        return p.table, nil
    }
    fresh, err := p.Source.FetchPrices(ctx)
    if err != nil {
        if p.table != nil {
            log.Printf("integrations: price source=%s refresh failed, serving cached table: %v", p.Source.Name(), err)
            return p.table, nil
        }
        return nil, fmt.Errorf("fetch prices from %s: %w", p.Source.Name(), err)
    }
    table := make(map[string]float64, len(fresh))
    for k, v := range fresh {
        table[strings.ToUpper(k)] = v
    }
    p.table, p.fetched = table, p.now()
    return p.table, nil
}

// GreatCircle builds a chain graph through the waypoints in order, one
// great-circle edge per consecutive pair.
type GreatCircle struct{}

func (GreatCircle) Build(_ context.Context, waypoints []route.Node) (*route.Graph, error) {
    if len(waypoints) < 2 {
        return nil, errors.New("great circle needs an origin and a destination")
    }
    last := len(waypoints) - 1
    return route.GreatCircle(waypoints[0], waypoints[last], waypoints[1:last]...)
}
