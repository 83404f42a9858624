// Package gate implements per-identity fixed-window request admission.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/jonboulle/clockwork"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// Gate admits at most limit requests per identity per fixed window. Decisions
// never block: a request either fits the current window or is denied.
type Gate struct {
	limit   int
	window  time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Gate admitting limit requests per window for each identity.
func New(limit int, window time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Gate {
	return &Gate{
		limit:   limit,
		window:  window,
		clock:   clock,
		metrics: metrics,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the identity may proceed, counting the request
// against its window when admitted.
func (g *Gate) Allow(id string) bool {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[id]
	if !ok || now.Sub(b.windowStart) >= g.window {
		g.buckets[id] = &bucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= g.limit {
		g.metrics.RateLimited.Inc()
		return false
	}
	b.count++
	return true
}

// Run sweeps expired buckets until the context is cancelled, keeping memory
// bounded for one-off identities.
func (g *Gate) Run(ctx context.Context) {
	ticker := g.clock.NewTicker(g.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			g.sweep()
		}
	}
}

func (g *Gate) sweep() {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, b := range g.buckets {
		if now.Sub(b.windowStart) >= g.window {
			delete(g.buckets, id)
		}
	}
}
