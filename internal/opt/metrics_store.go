package opt

import (
    "sort"
    "sync"
)

type key struct{
    Tenant string
    Voyage string
    Label string
}

var (
    mu sync.Mutex
    store = map[key]Metrics{}
)

// RecordMetrics keeps the run metrics of the last plan built for a voyage so
// the API can serve them when no persistent store is configured.
func RecordMetrics(tenant, voyage, label string, m Metrics) {
    mu.Lock()
    store[key{Tenant:tenant, Voyage:voyage, Label:label}] = m
    mu.Unlock()
}

func GetMetrics(tenant, voyage string) map[string]Metrics {
    mu.Lock()
    defer mu.Unlock()
    out := map[string]Metrics{}
    for k, v := range store {
        if k.Tenant == tenant && k.Voyage == voyage {
            out[k.Label] = v
        }
    }
    return out
}

// RecordPlans records the metrics of one request under every plan label it produced.
func RecordPlans(tenant, voyage string, plans []VoyagePlan, m Metrics) {
    for _, p := range plans {
        RecordMetrics(tenant, voyage, p.Label, m)
    }
}

// Voyages lists the voyages with recorded metrics for a tenant.
func Voyages(tenant string) []string {
    mu.Lock()
    defer mu.Unlock()
    seen := map[string]bool{}
    for k := range store {
        if k.Tenant == tenant {
            seen[k.Voyage] = true
        }
    }
    out := make([]string, 0, len(seen))
    for v := range seen {
        out = append(out, v)
    }
    sort.Strings(out)
    return out
}
