package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInitialStateIsConnecting(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Connecting, tr.GetState())
	assert.False(t, tr.IsAlive())
}

func TestStateTransitions(t *testing.T) {
	tr := NewTracker()
	tr.SetState(Ready)
	assert.Equal(t, Ready, tr.GetState())
	assert.True(t, tr.IsAlive())

	tr.SetState(Dead)
	assert.Equal(t, Dead, tr.GetState())
	assert.False(t, tr.IsAlive())
}

func TestFailureCounting(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, uint32(0), tr.FailureCount())

	assert.Equal(t, uint32(1), tr.RecordFailure())
	assert.Equal(t, uint32(2), tr.RecordFailure())
	assert.Equal(t, uint32(3), tr.RecordFailure())

	tr.ResetFailures()
	assert.Equal(t, uint32(0), tr.FailureCount())
}

func TestMessageReceivedResetsState(t *testing.T) {
	tr := NewTracker()
	tr.SetState(Dead)
	tr.RecordFailure()
	tr.RecordFailure()

	wasDead := tr.RecordMessageReceived()
	assert.True(t, wasDead)
	assert.Equal(t, Ready, tr.GetState())
	assert.Equal(t, uint32(0), tr.FailureCount())
}

func TestMessageReceivedFromReadyIsNotDeadTransition(t *testing.T) {
	tr := NewTracker()
	tr.SetState(Ready)
	wasDead := tr.RecordMessageReceived()
	assert.False(t, wasDead)
}

func TestSummaryReflectsState(t *testing.T) {
	tr := NewTracker()
	tr.RecordMessageReceived()
	summary := tr.Summary()
	assert.Equal(t, "ready", summary.State)
	assert.True(t, summary.Alive)
	assert.NotNil(t, summary.LastMessageSecsAgo)
}

func TestReconnectDelayDoublesAndCaps(t *testing.T) {
	tr := NewTracker()
	cfg := Config{ReconnectInitial: time.Second, ReconnectMax: 4 * time.Second}
	tr.reconnectDelay = time.Second

	d1 := tr.NextReconnectDelay(cfg)
	assert.Equal(t, time.Second, d1)
	d2 := tr.NextReconnectDelay(cfg)
	assert.Equal(t, 2*time.Second, d2)
	d3 := tr.NextReconnectDelay(cfg)
	assert.Equal(t, 4*time.Second, d3)
	d4 := tr.NextReconnectDelay(cfg)
	assert.Equal(t, 4*time.Second, d4)
}

func TestResetReconnectDelay(t *testing.T) {
	tr := NewTracker()
	cfg := Config{ReconnectInitial: 2 * time.Second, ReconnectMax: 32 * time.Second}
	tr.NextReconnectDelay(cfg)
	tr.ResetReconnectDelay(cfg)
	assert.Equal(t, 2*time.Second, tr.reconnectDelay)
}
