package gate_test

import (
	"testing"
	"time"

	"github.com/floodloop/risk-stream/internal/gate"
	"github.com/floodloop/risk-stream/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func newGate(limit int, window time.Duration, clock clockwork.Clock) *gate.Gate {
	return gate.New(limit, window, clock, observability.NewMetricsForTesting())
}

func TestAllow_DeniesBeyondLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(30, time.Minute, clock)

	for i := 0; i < 30; i++ {
		assert.True(t, g.Allow("key-1"), "request %d should be admitted", i+1)
	}
	assert.False(t, g.Allow("key-1"), "31st request should be denied")
}

func TestAllow_WindowResets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(2, time.Minute, clock)

	assert.True(t, g.Allow("key-1"))
	assert.True(t, g.Allow("key-1"))
	assert.False(t, g.Allow("key-1"))

	clock.Advance(time.Minute)
	assert.True(t, g.Allow("key-1"))
}

func TestAllow_IdentitiesAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(1, time.Minute, clock)

	assert.True(t, g.Allow("key-1"))
	assert.False(t, g.Allow("key-1"))
	assert.True(t, g.Allow("key-2"))
}

func TestAllow_PartialWindowDoesNotReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newGate(1, time.Minute, clock)

	assert.True(t, g.Allow("key-1"))
	clock.Advance(59 * time.Second)
	assert.False(t, g.Allow("key-1"))
	clock.Advance(time.Second)
	assert.True(t, g.Allow("key-1"))
}
