package replay

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newTestGuard() (*Guard, *clock.Mock, float64) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	return NewGuard(mock), mock, 1_700_000_000
}

func TestValidateAcceptsFreshIncreasingTimestamps(t *testing.T) {
	g, _, now := newTestGuard()

	assert.True(t, g.Validate("room1", "a", now))
	assert.True(t, g.Validate("room1", "a", now+0.5))
	assert.True(t, g.Validate("room1", "a", now+1))
}

func TestValidateNormalizesMilliseconds(t *testing.T) {
	g, _, now := newTestGuard()

	// Date.now() style value.
	assert.True(t, g.Validate("room1", "a", now*1000))
	// The same instant again in seconds is now a replay.
	assert.False(t, g.Validate("room1", "a", now))
}

func TestValidateRejectsSkew(t *testing.T) {
	g, _, now := newTestGuard()

	assert.False(t, g.Validate("room1", "a", now+21))
	assert.False(t, g.Validate("room1", "a", now-21))
	assert.True(t, g.Validate("room1", "a", now+20))
	assert.True(t, g.Validate("room1", "b", now-20))
}

func TestValidateRejectsNonPositiveAndNonFinite(t *testing.T) {
	g, _, _ := newTestGuard()

	assert.False(t, g.Validate("room1", "a", 0))
	assert.False(t, g.Validate("room1", "a", -5))
}

func TestValidateEnforcesMonotonicity(t *testing.T) {
	g, _, now := newTestGuard()

	assert.True(t, g.Validate("room1", "a", now+1))
	// Exact duplicate.
	assert.False(t, g.Validate("room1", "a", now+1))
	// Older than last accepted.
	assert.False(t, g.Validate("room1", "a", now))
	// Still moving forward works.
	assert.True(t, g.Validate("room1", "a", now+2))
}

func TestValidateIsPerSenderAndPerRoom(t *testing.T) {
	g, _, now := newTestGuard()

	assert.True(t, g.Validate("room1", "a", now+1))
	// A different sender may use the same timestamp.
	assert.True(t, g.Validate("room1", "b", now+1))
	// Same sender id in another room is tracked separately.
	assert.True(t, g.Validate("room2", "a", now+1))
}

func TestForgetResetsState(t *testing.T) {
	g, _, now := newTestGuard()

	assert.True(t, g.Validate("room1", "a", now+5))
	assert.False(t, g.Validate("room1", "a", now+5))

	g.Forget("room1", "a")

	// After a reconnect the same timestamp is acceptable again.
	assert.True(t, g.Validate("room1", "a", now+5))
}

func TestRecentWindowEvictsOldest(t *testing.T) {
	g, mock, now := newTestGuard()

	for i := 1; i <= 70; i++ {
		ts := now + float64(i)*0.1
		assert.True(t, g.Validate("room1", "a", ts), "ts %f", ts)
		mock.Add(100 * time.Millisecond)
	}

	g.mu.Lock()
	st := g.states[key{room: "room1", sender: "a"}]
	g.mu.Unlock()
	assert.Len(t, st.recent, windowSize)
	assert.InDelta(t, now+7.0, st.lastAccepted, 1e-9)
}
