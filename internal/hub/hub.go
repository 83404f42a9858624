// Package hub multiplexes live risk streams: one polling session per rounded
// coordinate, fanned out to any number of subscribers.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Event kinds delivered to subscribers.
const (
	EventScore = "score"
	EventError = "error"
)

// StreamEvent is one item delivered to a subscriber. Score events carry a
// snapshot; error events carry a message and, when the session cannot
// continue, the terminal flag.
type StreamEvent struct {
	Kind     string               `json:"kind"`
	Snapshot *domain.RiskSnapshot `json:"snapshot,omitempty"`
	Error    string               `json:"error,omitempty"`
	Terminal bool                 `json:"terminal,omitempty"`
	At       time.Time            `json:"at"`
}

// ObservationSource yields current conditions for a coordinate.
type ObservationSource interface {
	Get(ctx context.Context, coord domain.Coordinate) (domain.Observation, error)
}

// StateStore provides alert definitions, dedup state, and snapshot retention.
type StateStore interface {
	DefinitionsForKey(key string) []domain.AlertDefinition
	LastFired() map[string]domain.RiskLevel
	SetLastFired(changed map[string]domain.RiskLevel)
	AppendSnapshot(snap domain.RiskSnapshot)
}

// Publisher forwards alert events and snapshots to the side channel.
type Publisher interface {
	PublishAlertEvents(ctx context.Context, events []domain.AlertEvent) error
	PublishSnapshot(ctx context.Context, snap domain.RiskSnapshot) error
}

// Options bound subscriber polling intervals and session lifecycle.
type Options struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	DefaultInterval  time.Duration
	GracePeriod      time.Duration
	SubscriberBuffer int
}

// Hub owns all live sessions. Subscribers for the same rounded coordinate
// share one polling loop; the loop outlives its last subscriber by the grace
// period so quick reconnects reuse it.
type Hub struct {
	source    ObservationSource
	store     StateStore
	publisher Publisher // may be nil
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options

	mu       sync.Mutex
	sessions map[string]*session
	nextID   atomic.Uint64
	ready    atomic.Bool
	closed   bool
}

// New creates a Hub. publisher may be nil, in which case alert events and
// snapshots are only logged and stored.
func New(source ObservationSource, store StateStore, publisher Publisher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		source:    source,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		sessions:  make(map[string]*session),
	}
}

// Subscription is one subscriber's attachment to a session. The events
// channel is closed when the subscriber is removed or the session ends.
type Subscription struct {
	id       uint64
	key      string
	interval time.Duration
	ctx      context.Context
	events   chan StreamEvent
}

// Events returns the subscriber's event channel.
func (s *Subscription) Events() <-chan StreamEvent { return s.events }

// Key returns the coordinate key of the session this subscription belongs to.
func (s *Subscription) Key() string { return s.key }

// Interval returns the subscriber's clamped polling interval.
func (s *Subscription) Interval() time.Duration { return s.interval }

// Subscribe attaches a subscriber to the session for the coordinate, creating
// the session if none is live. interval is clamped to the configured bounds;
// zero means the default. The last score of an existing session is replayed
// immediately so late joiners do not wait a full tick.
func (h *Hub) Subscribe(ctx context.Context, coord domain.Coordinate, interval time.Duration) (*Subscription, error) {
	coord = coord.Rounded()
	interval = h.clampInterval(interval)

	sub := &Subscription{
		id:       h.nextID.Add(1),
		key:      coord.Key(),
		interval: interval,
		ctx:      ctx,
		events:   make(chan StreamEvent, h.opts.SubscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hub is shut down")
	}

	s, ok := h.sessions[sub.key]
	if !ok {
		s = h.startSessionLocked(coord)
	}

	s.subs[sub.id] = sub
	h.metrics.SubscribersActive.Inc()

	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.lastScore != nil {
		sub.events <- *s.lastScore
	}
	h.rearmLocked(s)

	return sub, nil
}

// Unsubscribe detaches a subscriber. Idempotent. When the last subscriber
// leaves, the session keeps polling for the grace period before teardown.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sub.key]
	if !ok {
		return
	}
	if _, ok := s.subs[sub.id]; !ok {
		return
	}
	h.removeSubscriberLocked(s, sub.id)
	h.rearmLocked(s)
}

// Current returns a fresh snapshot for the coordinate without starting a
// session. Served from the cache when a live entry exists.
func (h *Hub) Current(ctx context.Context, coord domain.Coordinate) (domain.RiskSnapshot, error) {
	coord = coord.Rounded()

	obs, err := h.source.Get(ctx, coord)
	if err != nil {
		return domain.RiskSnapshot{}, err
	}
	score, err := domain.ScoreObservation(obs)
	if err != nil {
		return domain.RiskSnapshot{}, err
	}

	h.ready.Store(true)
	return domain.RiskSnapshot{
		Coordinate:  coord,
		Observation: obs,
		Score:       score,
		At:          h.clock.Now(),
	}, nil
}

// CheckReadiness returns nil once at least one observation has been scored,
// or an error describing why the service is not yet ready.
func (h *Hub) CheckReadiness(_ context.Context) error {
	if !h.ready.Load() {
		return errors.New("no observation scored yet")
	}
	return nil
}

// Close tears down all sessions and closes their subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for key, s := range h.sessions {
		h.teardownLocked(s)
		delete(h.sessions, key)
	}
}

func (h *Hub) clampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return h.opts.DefaultInterval
	case d < h.opts.MinInterval:
		return h.opts.MinInterval
	case d > h.opts.MaxInterval:
		return h.opts.MaxInterval
	default:
		return d
	}
}
