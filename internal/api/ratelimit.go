package api

import (
    "net/http"
    "strconv"
    "sync"

    "golang.org/x/time/rate"
)

// Limiter keeps one token bucket per tenant.
type Limiter struct {
    rps   rate.Limit
    burst int
    mu    sync.Mutex
    m     map[string]*rate.Limiter
}

// NewLimiter returns nil, meaning unlimited, when rps is not positive.
func NewLimiter(rps float64, burst int) *Limiter {
    if rps <= 0 {
        return nil
    }
    if burst < 1 {
        burst = 1
    }
    return &Limiter{rps: rate.Limit(rps), burst: burst, m: map[string]*rate.Limiter{}}
}

func (l *Limiter) Allow(tenant string) bool {
    if l == nil {
        return true
    }
    l.mu.Lock()
    lim, ok := l.m[tenant]
    if !ok {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.m[tenant] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}

// limited guards the optimizer endpoints, which are the expensive ones.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        p := s.getPrincipal(r)
        if !s.Limiter.Allow(p.Tenant) {
            w.Header().Set("Retry-After", strconv.Itoa(s.Limiter.retryAfter()))
            writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "too many optimization requests for tenant "+p.Tenant, r.URL.Path)
            return
        }
        next(w, r)
    }
}

func (l *Limiter) retryAfter() int {
    if l == nil || l.rps >= 1 {
        return 1
    }
    return int(1/float64(l.rps) + 0.999)
}
