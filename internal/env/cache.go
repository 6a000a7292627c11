package env

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voyageopt/internal/geo"
)

// Query is one (position, time) coordinate to sample.
type Query struct {
	Position geo.Position
	Time     time.Time
}

type cacheKey struct {
	lat, lon float64
	unix     int64
}

type cacheEntry struct {
	ready chan struct{}
	s     Sample
	err   error
}

// RequestCache memoizes samples for the lifetime of one optimization run.
// Each key is written exactly once; concurrent callers asking for the same
// key wait for the first one.
type RequestCache struct {
	src         Sampler
	resolution  time.Duration
	parallelism int

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRequestCache wraps src. Query times are truncated to resolution so that
// nearby lookups share a sample.
func NewRequestCache(src Sampler, resolution time.Duration, parallelism int) *RequestCache {
	if resolution <= 0 {
		resolution = time.Hour
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	return &RequestCache{src: src, resolution: resolution, parallelism: parallelism, entries: map[cacheKey]*cacheEntry{}}
}

// Quantize truncates t to the cache resolution, in UTC.
func (c *RequestCache) Quantize(t time.Time) time.Time { return t.UTC().Truncate(c.resolution) }

// Sample returns the memoized sample for (pos, Quantize(t)).
func (c *RequestCache) Sample(ctx context.Context, pos geo.Position, t time.Time) (Sample, error) {
	qt := c.Quantize(t)
	k := cacheKey{lat: pos.Lat, lon: pos.Lon, unix: qt.Unix()}
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &cacheEntry{ready: make(chan struct{})}
		c.entries[k] = e
	}
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		select {
		case <-e.ready:
			if cancelled(e.err) && ctx.Err() == nil {
				// the first caller gave up; this one is still live
				return c.Sample(ctx, pos, t)
			}
			return e.s, e.err
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
	c.misses.Add(1)
	e.s, e.err = c.src.Sample(ctx, pos, qt)
	if cancelled(e.err) {
		// a cancelled lookup must not poison the key for later callers
		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
	}
	close(e.ready)
	return e.s, e.err
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Prefetch samples every query concurrently, bounded by the configured
// parallelism, and returns the first error encountered.
func (c *RequestCache) Prefetch(ctx context.Context, qs []Query) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, q := range qs {
		g.Go(func() error {
			_, err := c.Sample(gctx, q.Position, q.Time)
			return err
		})
	}
	return g.Wait()
}

// Stats returns cache hits and misses so far.
func (c *RequestCache) Stats() (hits, misses int64) { return c.hits.Load(), c.misses.Load() }

// Len returns the number of distinct keys sampled.
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
