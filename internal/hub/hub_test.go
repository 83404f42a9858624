package hub_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/floodloop/risk-stream/internal/domain"
	"github.com/floodloop/risk-stream/internal/hub"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/floodloop/risk-stream/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type scriptedSource struct {
	mu    sync.Mutex
	calls int
	errs  []error // errs[i] is returned by call i; past the end, success
	obs   domain.Observation
}

func (s *scriptedSource) Get(_ context.Context, _ domain.Coordinate) (domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.Observation{}, s.errs[i]
	}
	return s.obs, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSource) setObs(obs domain.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

type capturingPublisher struct {
	mu     sync.Mutex
	alerts []domain.AlertEvent
	snaps  []domain.RiskSnapshot
}

func (p *capturingPublisher) PublishAlertEvents(_ context.Context, events []domain.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, events...)
	return nil
}

func (p *capturingPublisher) PublishSnapshot(_ context.Context, snap domain.RiskSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *capturingPublisher) alertCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alerts)
}

// --- helpers ---

var testOpts = hub.Options{
	MinInterval:      10 * time.Second,
	MaxInterval:      5 * time.Minute,
	DefaultInterval:  30 * time.Second,
	GracePeriod:      5 * time.Second,
	SubscriberBuffer: 8,
}

type fixture struct {
	hub     *hub.Hub
	clock   *clockwork.FakeClock
	store   *store.Memory
	metrics *observability.Metrics
}

func newFixture(t *testing.T, source hub.ObservationSource, publisher hub.Publisher) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	memory := store.NewMemory(100)
	metrics := observability.NewMetricsForTesting()
	h := hub.New(source, memory, publisher, testOpts, clock, slog.Default(), metrics)
	t.Cleanup(h.Close)
	return &fixture{hub: h, clock: clock, store: memory, metrics: metrics}
}

func mustCoord(t *testing.T, lat, lon float64) domain.Coordinate {
	t.Helper()
	coord, err := domain.NewCoordinate(lat, lon)
	require.NoError(t, err)
	return coord
}

func recvEvent(t *testing.T, sub *hub.Subscription) hub.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "event channel closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream event")
		return hub.StreamEvent{}
	}
}

// highRiskObs scores 65 HIGH: rain_1h maxed (40) + humidity (20) + clouds (5).
func highRiskObs() domain.Observation {
	return domain.Observation{Rain1h: 50, Humidity: 100, Clouds: 100}
}

// --- tests ---

func TestSubscribe_DeliversScoreEvents(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	sub, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	assert.Equal(t, testOpts.DefaultInterval, sub.Interval())

	ev := recvEvent(t, sub)
	assert.Equal(t, hub.EventScore, ev.Kind)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, 65, ev.Snapshot.Score.Value)
	assert.Equal(t, domain.LevelHigh, ev.Snapshot.Score.Level)

	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)

	ev = recvEvent(t, sub)
	assert.Equal(t, hub.EventScore, ev.Kind)
	assert.Equal(t, 2, source.callCount())
}

func TestSubscribe_SameCoordinateSharesOneSession(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)

	// Differ only below key precision, so they collapse to one session.
	sub1, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.07601, 72.87771), 0)
	require.NoError(t, err)
	recvEvent(t, sub1)

	sub2, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.07599, 72.87769), 0)
	require.NoError(t, err)

	// The late joiner gets the last event replayed without a new poll.
	ev := recvEvent(t, sub2)
	assert.Equal(t, hub.EventScore, ev.Kind)
	assert.Equal(t, 1, source.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SessionsActive))

	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)

	recvEvent(t, sub1)
	recvEvent(t, sub2)
	assert.Equal(t, 2, source.callCount())
}

func TestSession_SurvivesTransientFailures(t *testing.T) {
	unavailable := fmt.Errorf("%w: status 503", domain.ErrUpstreamUnavailable)
	source := &scriptedSource{
		errs: []error{unavailable, unavailable, unavailable},
		obs:  highRiskObs(),
	}
	fx := newFixture(t, source, nil)

	sub, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.076, 72.8777), 0)
	require.NoError(t, err)

	ev := recvEvent(t, sub)
	assert.Equal(t, hub.EventError, ev.Kind)
	assert.False(t, ev.Terminal)

	for i := 0; i < 2; i++ {
		fx.clock.BlockUntil(1)
		fx.clock.Advance(testOpts.DefaultInterval)
		ev = recvEvent(t, sub)
		assert.Equal(t, hub.EventError, ev.Kind)
	}

	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)
	ev = recvEvent(t, sub)
	assert.Equal(t, hub.EventScore, ev.Kind)
}

func TestSession_SkipsUnchangedObservation(t *testing.T) {
	obs := highRiskObs()
	obs.FetchedAt = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	source := &scriptedSource{obs: obs}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	sub, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	ev := recvEvent(t, sub)
	require.NotNil(t, ev.Snapshot)
	first := ev.Snapshot.Observation.FetchedAt

	// The source keeps serving the same observation for two more ticks.
	for i := 0; i < 2; i++ {
		fx.clock.BlockUntil(1)
		fx.clock.Advance(testOpts.DefaultInterval)
	}
	assert.Eventually(t, func() bool { return source.callCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unchanged observation delivered again: %+v", ev)
	default:
	}
	assert.Len(t, fx.store.History(coord.Key(), 0), 1)

	// A fresher fetch timestamp flows through again.
	obs.FetchedAt = first.Add(time.Minute)
	source.setObs(obs)
	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)

	ev = recvEvent(t, sub)
	assert.Equal(t, hub.EventScore, ev.Kind)
	require.NotNil(t, ev.Snapshot)
	assert.True(t, ev.Snapshot.Observation.FetchedAt.After(first))
}

func TestSubscribe_ReplaysLastScoreNotError(t *testing.T) {
	unavailable := fmt.Errorf("%w: status 503", domain.ErrUpstreamUnavailable)
	source := &scriptedSource{errs: []error{nil, unavailable}, obs: highRiskObs()}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	sub1, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	ev := recvEvent(t, sub1)
	require.Equal(t, hub.EventScore, ev.Kind)

	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)
	ev = recvEvent(t, sub1)
	require.Equal(t, hub.EventError, ev.Kind)

	// The late joiner gets the last good score, not the transient error.
	sub2, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	ev = recvEvent(t, sub2)
	assert.Equal(t, hub.EventScore, ev.Kind)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, 65, ev.Snapshot.Score.Value)
}

func TestSession_EndsOnUpstreamRejection(t *testing.T) {
	source := &scriptedSource{
		errs: []error{fmt.Errorf("%w: status 404", domain.ErrUpstreamRejected)},
	}
	fx := newFixture(t, source, nil)

	sub, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.076, 72.8777), 0)
	require.NoError(t, err)

	ev := recvEvent(t, sub)
	assert.Equal(t, hub.EventError, ev.Kind)
	assert.True(t, ev.Terminal)

	_, open := <-sub.Events()
	assert.False(t, open, "channel should close after terminal event")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(fx.metrics.SessionsActive) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribe_TearsDownAfterGracePeriod(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)

	sub, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.076, 72.8777), 0)
	require.NoError(t, err)
	recvEvent(t, sub)

	fx.hub.Unsubscribe(sub)
	_, open := <-sub.Events()
	assert.False(t, open)

	// Ticker plus grace timer are both waiting on the clock.
	fx.clock.BlockUntil(2)
	fx.clock.Advance(testOpts.GracePeriod)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(fx.metrics.SessionsActive) == 0
	}, 2*time.Second, 10*time.Millisecond)

	calls := source.callCount()
	fx.clock.Advance(2 * testOpts.DefaultInterval)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, source.callCount(), "no polling after teardown")
}

func TestSubscribe_ReattachWithinGraceReusesSession(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	sub, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	recvEvent(t, sub)
	fx.hub.Unsubscribe(sub)

	sub2, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)

	// Replayed last event, no new poll, same session.
	ev := recvEvent(t, sub2)
	assert.Equal(t, hub.EventScore, ev.Kind)
	assert.Equal(t, 1, source.callCount())

	fx.clock.Advance(testOpts.GracePeriod)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SessionsActive))
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)

	sub, err := fx.hub.Subscribe(context.Background(), mustCoord(t, 19.076, 72.8777), 0)
	require.NoError(t, err)
	recvEvent(t, sub)

	fx.hub.Unsubscribe(sub)
	fx.hub.Unsubscribe(sub)
}

func TestSubscribe_ClampsInterval(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)

	tests := []struct {
		requested time.Duration
		want      time.Duration
	}{
		{0, testOpts.DefaultInterval},
		{time.Second, testOpts.MinInterval},
		{time.Hour, testOpts.MaxInterval},
		{time.Minute, time.Minute},
	}

	for i, tt := range tests {
		coord := mustCoord(t, 10+float64(i), 10) // distinct sessions
		sub, err := fx.hub.Subscribe(context.Background(), coord, tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.want, sub.Interval(), "requested %s", tt.requested)
	}
}

func TestSession_DropsSlowSubscriber(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	clock := clockwork.NewFakeClock()
	memory := store.NewMemory(100)
	metrics := observability.NewMetricsForTesting()

	opts := testOpts
	opts.SubscriberBuffer = 1
	h := hub.New(source, memory, nil, opts, clock, slog.Default(), metrics)
	t.Cleanup(h.Close)

	sub, err := h.Subscribe(context.Background(), mustCoord(t, 19.076, 72.8777), 0)
	require.NoError(t, err)

	// Never read: the first event fills the buffer, the second drops us.
	waitForCalls := func(n int) {
		assert.Eventually(t, func() bool { return source.callCount() >= n }, 2*time.Second, 10*time.Millisecond)
	}
	waitForCalls(1)
	clock.BlockUntil(1)
	clock.Advance(opts.DefaultInterval)
	waitForCalls(2)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.SubscribersDropped) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The buffered first event is still readable, then the channel closes.
	ev := recvEvent(t, sub)
	assert.Equal(t, hub.EventScore, ev.Kind)
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestSession_FiresAndDedupesAlerts(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	publisher := &capturingPublisher{}
	fx := newFixture(t, source, publisher)
	coord := mustCoord(t, 19.076, 72.8777)

	fx.store.SaveDefinition(domain.AlertDefinition{
		ID:         "def-1",
		CityID:     "mumbai",
		Coordinate: coord.Rounded(),
		Threshold:  domain.LevelHigh,
		Active:     true,
	})

	sub, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	recvEvent(t, sub)

	assert.Eventually(t, func() bool { return publisher.alertCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Same level on the next tick: no refire.
	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)
	recvEvent(t, sub)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, publisher.alertCount())
	assert.Equal(t, domain.LevelHigh, fx.store.LastFired()["def-1"])
}

func TestCurrent_ScoresWithoutSession(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	require.Error(t, fx.hub.CheckReadiness(context.Background()))

	snap, err := fx.hub.Current(context.Background(), coord)
	require.NoError(t, err)
	assert.Equal(t, 65, snap.Score.Value)
	assert.Equal(t, coord.Rounded(), snap.Coordinate)
	assert.Equal(t, 0.0, testutil.ToFloat64(fx.metrics.SessionsActive))

	assert.NoError(t, fx.hub.CheckReadiness(context.Background()))
}

func TestHistory_AccumulatesFromTicks(t *testing.T) {
	source := &scriptedSource{obs: highRiskObs()}
	fx := newFixture(t, source, nil)
	coord := mustCoord(t, 19.076, 72.8777)

	sub, err := fx.hub.Subscribe(context.Background(), coord, 0)
	require.NoError(t, err)
	recvEvent(t, sub)

	fx.clock.BlockUntil(1)
	fx.clock.Advance(testOpts.DefaultInterval)
	recvEvent(t, sub)

	snaps := fx.store.History(coord.Key(), 0)
	assert.Len(t, snaps, 2)
}
