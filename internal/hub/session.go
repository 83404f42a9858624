package hub

import (
	"context"
	"errors"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/jonboulle/clockwork"
)

// session is one polling loop for a rounded coordinate. All mutable fields
// are guarded by the hub mutex; the run loop only touches them through
// hub methods.
type session struct {
	key    string
	coord  domain.Coordinate
	cancel context.CancelFunc
	rearm  chan time.Duration

	subs       map[uint64]*Subscription
	interval   time.Duration
	lastScore  *StreamEvent
	graceTimer clockwork.Timer
}

func (h *Hub) startSessionLocked(coord domain.Coordinate) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		key:      coord.Key(),
		coord:    coord,
		cancel:   cancel,
		rearm:    make(chan time.Duration, 1),
		subs:     make(map[uint64]*Subscription),
		interval: h.opts.DefaultInterval,
	}
	h.sessions[s.key] = s
	h.metrics.SessionsActive.Inc()

	go h.runSession(ctx, s)
	return s
}

// runSession polls immediately, then at the finest live subscriber interval
// until cancelled or terminally failed.
func (h *Hub) runSession(ctx context.Context, s *session) {
	h.logger.Info("session started", "key", s.key)

	if !h.tick(ctx, s) {
		return
	}

	ticker := h.clock.NewTicker(h.opts.DefaultInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("session stopped", "key", s.key)
			return
		case d := <-s.rearm:
			ticker.Reset(d)
		case <-ticker.Chan():
			if !h.tick(ctx, s) {
				return
			}
		}
	}
}

// tick performs one poll cycle. Returns false when the session must stop.
func (h *Hub) tick(ctx context.Context, s *session) bool {
	if ctx.Err() != nil {
		return false
	}
	h.metrics.SessionTicks.Inc()

	obs, err := h.source.Get(ctx, s.coord)
	now := h.clock.Now()

	if err == nil && h.alreadyDelivered(s, obs.FetchedAt) {
		// The cache serves the same entry until its TTL lapses; a poll
		// interval finer than the TTL must not re-deliver it every tick.
		return true
	}

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, domain.ErrUpstreamRejected) {
			h.logger.Error("upstream rejected coordinate, ending session", "key", s.key, "error", err)
			h.endSession(s, StreamEvent{Kind: EventError, Error: err.Error(), Terminal: true, At: now})
			return false
		}
		h.logger.Warn("poll failed", "key", s.key, "error", err)
		h.deliver(s, StreamEvent{Kind: EventError, Error: err.Error(), At: now})
		return true
	}

	score, err := domain.ScoreObservation(obs)
	if err != nil {
		// A malformed observation is the provider's fault; subscribers see
		// it as any other transient failure.
		h.logger.Warn("observation rejected by risk model", "key", s.key, "error", err)
		h.deliver(s, StreamEvent{Kind: EventError, Error: domain.ErrUpstreamUnavailable.Error(), At: now})
		return true
	}

	snap := domain.RiskSnapshot{Coordinate: s.coord, Observation: obs, Score: score, At: now}
	h.ready.Store(true)
	h.store.AppendSnapshot(snap)
	h.deliver(s, StreamEvent{Kind: EventScore, Snapshot: &snap, At: now})
	h.processAlerts(ctx, s, snap)

	if h.publisher != nil {
		if err := h.publisher.PublishSnapshot(ctx, snap); err != nil {
			h.logger.Warn("snapshot publish failed", "key", s.key, "error", err)
		}
	}
	return true
}

// processAlerts evaluates the definitions registered at the session's
// coordinate and forwards fired events to the side channel.
func (h *Hub) processAlerts(ctx context.Context, s *session, snap domain.RiskSnapshot) {
	defs := h.store.DefinitionsForKey(s.key)
	if len(defs) == 0 {
		return
	}

	byCity := make(map[string][]domain.AlertDefinition)
	for _, def := range defs {
		byCity[def.CityID] = append(byCity[def.CityID], def)
	}

	lastFired := h.store.LastFired()
	var fired []domain.AlertEvent
	merged := make(map[string]domain.RiskLevel)

	for cityID, cityDefs := range byCity {
		events, changed := domain.EvaluateAlerts(cityID, snap.Score, cityDefs, lastFired, snap.At)
		fired = append(fired, events...)
		for id, level := range changed {
			merged[id] = level
		}
	}

	if len(merged) > 0 {
		h.store.SetLastFired(merged)
	}
	if len(fired) == 0 {
		return
	}

	h.metrics.AlertEventsFired.Add(float64(len(fired)))
	for _, ev := range fired {
		h.logger.Info("alert fired", "definition_id", ev.DefinitionID, "city_id", ev.CityID, "level", ev.Level.String(), "score", ev.Score)
	}
	if h.publisher != nil {
		if err := h.publisher.PublishAlertEvents(ctx, fired); err != nil {
			h.logger.Error("alert publish failed", "key", s.key, "error", err)
		}
	}
}

func (h *Hub) deliver(s *session, ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(s, ev)
}

// endSession delivers a terminal event and tears the session down.
func (h *Hub) endSession(s *session, ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliverLocked(s, ev)
	if h.sessions[s.key] == s {
		h.teardownLocked(s)
		delete(h.sessions, s.key)
	}
}

// alreadyDelivered reports whether an observation with this fetch timestamp
// has already been fanned out. Observations without a timestamp are never
// deduplicated.
func (h *Hub) alreadyDelivered(s *session, fetchedAt time.Time) bool {
	if fetchedAt.IsZero() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.lastScore != nil && !fetchedAt.After(s.lastScore.Snapshot.Observation.FetchedAt)
}

// deliverLocked fans an event out to all subscribers. Cancelled or full
// subscribers are removed so one slow consumer never stalls the session.
func (h *Hub) deliverLocked(s *session, ev StreamEvent) {
	if ev.Kind == EventScore {
		s.lastScore = &ev
	}
	h.metrics.StreamEvents.WithLabelValues(ev.Kind).Inc()

	for id, sub := range s.subs {
		if sub.ctx.Err() != nil {
			h.removeSubscriberLocked(s, id)
			continue
		}
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("subscriber buffer full, dropping subscriber", "key", s.key)
			h.metrics.SubscribersDropped.Inc()
			h.removeSubscriberLocked(s, id)
		}
	}
}

// removeSubscriberLocked detaches one subscriber and, when it was the last,
// arms the grace timer that eventually tears the session down.
func (h *Hub) removeSubscriberLocked(s *session, id uint64) {
	sub := s.subs[id]
	delete(s.subs, id)
	close(sub.events)
	h.metrics.SubscribersActive.Dec()

	if len(s.subs) > 0 || s.graceTimer != nil {
		return
	}
	s.graceTimer = h.clock.AfterFunc(h.opts.GracePeriod, func() {
		h.onGraceExpired(s)
	})
}

func (h *Hub) onGraceExpired(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[s.key] != s || len(s.subs) > 0 {
		return
	}
	h.logger.Info("session idle past grace period, tearing down", "key", s.key)
	h.teardownLocked(s)
	delete(h.sessions, s.key)
}

func (h *Hub) teardownLocked(s *session) {
	s.cancel()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.events)
		h.metrics.SubscribersActive.Dec()
	}
	h.metrics.SessionsActive.Dec()
}

// rearmLocked recomputes the finest live subscriber interval and asks the run
// loop to reset its ticker when it changed.
func (h *Hub) rearmLocked(s *session) {
	if len(s.subs) == 0 {
		return
	}
	finest := h.opts.MaxInterval
	for _, sub := range s.subs {
		if sub.interval < finest {
			finest = sub.interval
		}
	}
	if finest == s.interval {
		return
	}
	s.interval = finest

	select {
	case <-s.rearm:
	default:
	}
	s.rearm <- finest
}
