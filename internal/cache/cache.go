// Package cache provides the TTL observation cache that sits between the
// session hub and the upstream weather client.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Fetcher retrieves a fresh observation from the upstream provider.
type Fetcher interface {
	Fetch(ctx context.Context, coord domain.Coordinate) (domain.Observation, error)
}

type entry struct {
	obs       domain.Observation
	expiresAt time.Time
}

// Observations caches upstream observations per rounded coordinate. Concurrent
// lookups for the same key while no fresh entry exists collapse into a single
// upstream fetch; transient fetch failures are retried once before the error
// is surfaced.
type Observations struct {
	fetcher      Fetcher
	ttl          time.Duration
	retryBackoff time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
}

// NewObservations creates the cache. retryBackoff is the pause before the
// single retry of a transient fetch failure.
func NewObservations(fetcher Fetcher, ttl, retryBackoff time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Observations {
	return &Observations{
		fetcher:      fetcher,
		ttl:          ttl,
		retryBackoff: retryBackoff,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		entries:      make(map[string]entry),
	}
}

// Get returns the cached observation for the coordinate, fetching from
// upstream when the entry is missing or expired. Errors from the fetch
// retain their domain classification for the caller to inspect.
func (o *Observations) Get(ctx context.Context, coord domain.Coordinate) (domain.Observation, error) {
	key := coord.Key()

	if obs, ok := o.lookup(key); ok {
		o.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return obs, nil
	}

	v, err, shared := o.group.Do(key, func() (any, error) {
		// A concurrent flight may have filled the entry between our miss
		// and acquiring the flight.
		if obs, ok := o.lookup(key); ok {
			return obs, nil
		}
		o.metrics.CacheLookups.WithLabelValues("miss").Inc()

		obs, err := o.fetchWithRetry(ctx, coord)
		if err != nil {
			return nil, err
		}
		o.store(key, obs)
		return obs, nil
	})
	if shared {
		o.metrics.CacheLookups.WithLabelValues("coalesced").Inc()
	}
	if err != nil {
		return domain.Observation{}, err
	}
	return v.(domain.Observation), nil
}

// Invalidate drops the entry for a coordinate, forcing the next Get to hit
// upstream.
func (o *Observations) Invalidate(coord domain.Coordinate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, coord.Key())
}

func (o *Observations) lookup(key string) (domain.Observation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok || !o.clock.Now().Before(e.expiresAt) {
		return domain.Observation{}, false
	}
	return e.obs, true
}

func (o *Observations) store(key string, obs domain.Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = entry{obs: obs, expiresAt: o.clock.Now().Add(o.ttl)}
}

// fetchWithRetry fetches once and retries a single time after retryBackoff
// when the failure is transient. Rejections are never retried.
func (o *Observations) fetchWithRetry(ctx context.Context, coord domain.Coordinate) (domain.Observation, error) {
	obs, err := o.fetcher.Fetch(ctx, coord)
	if err == nil || !errors.Is(err, domain.ErrUpstreamUnavailable) {
		return obs, err
	}

	o.logger.Warn("upstream fetch failed, retrying once", "key", coord.Key(), "error", err)

	select {
	case <-ctx.Done():
		return domain.Observation{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, ctx.Err())
	case <-o.clock.After(o.retryBackoff):
	}

	return o.fetcher.Fetch(ctx, coord)
}
