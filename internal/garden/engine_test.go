package garden

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

func newTestEngine() *Engine {
	eventBus := bus.New(commons.NewNopLogger())
	return NewEngine(commons.NewNopLogger(), eventBus, 120.0, 960, 256)
}

func TestNewEngineStartsStopped(t *testing.T) {
	e := newTestEngine()
	state := e.GetTransportState()
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, 0.0, state.Beat)
	assert.Equal(t, 120.0, state.BPM)
}

func TestPlayTransitionsToPlaying(t *testing.T) {
	e := newTestEngine()
	state := e.Play()
	assert.Equal(t, "playing", state.State)
}

func TestPauseAfterPlayTransitionsToPaused(t *testing.T) {
	e := newTestEngine()
	e.Play()
	time.Sleep(5 * time.Millisecond)
	state := e.Pause()
	assert.Equal(t, "paused", state.State)
}

func TestStopResetsBeatToZero(t *testing.T) {
	e := newTestEngine()
	e.Seek(8.0)
	e.Play()
	state := e.Stop()
	assert.Equal(t, "stopped", state.State)
	assert.Equal(t, 0.0, state.Beat)
}

func TestSeekSetsPosition(t *testing.T) {
	e := newTestEngine()
	state := e.Seek(4.0)
	assert.Equal(t, 4.0, state.Beat)
}

func TestSetTempoRejectsNonPositiveBPM(t *testing.T) {
	e := newTestEngine()
	_, err := e.SetTempo(0)
	assert.Error(t, err)
	_, err = e.SetTempo(-10)
	assert.Error(t, err)
}

func TestSetTempoRejectsExcessiveBPM(t *testing.T) {
	e := newTestEngine()
	_, err := e.SetTempo(1000)
	assert.Error(t, err)
}

func TestSetTempoUpdatesReportedBPM(t *testing.T) {
	e := newTestEngine()
	state, err := e.SetTempo(140.0)
	require.NoError(t, err)
	assert.Equal(t, 140.0, state.BPM)
	assert.Equal(t, 140.0, e.GetTransportState().BPM)
}

func TestEmergencyPauseOverridesOrdinaryPausedState(t *testing.T) {
	e := newTestEngine()
	e.Play()
	state := e.EmergencyPause()
	assert.Equal(t, "emergency_paused", state.State)
}

func TestPlayAfterEmergencyPauseClearsTheFlag(t *testing.T) {
	e := newTestEngine()
	e.Play()
	e.EmergencyPause()
	state := e.Play()
	assert.Equal(t, "playing", state.State)
}

func TestPlaceMoveDeleteRegionRoundTrip(t *testing.T) {
	e := newTestEngine()
	id := e.PlaceRegion(0, 4, "deadbeef")
	assert.True(t, e.MoveRegion(id, 8))
	assert.True(t, e.DeleteRegion(id))
	assert.False(t, e.DeleteRegion(id))
}

func TestMoveRegionUnknownIDReturnsFalse(t *testing.T) {
	e := newTestEngine()
	assert.False(t, e.MoveRegion("nonexistent", 1))
}

func TestSnapshotReflectsPlacedRegionsAndTransportState(t *testing.T) {
	e := newTestEngine()
	e.PlaceRegion(0, 4, "deadbeef")
	e.Play()

	snap, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Regions, 1)
	assert.Equal(t, "playing", snap.TransportState)
}

func TestSnapshotInvalidatesOnTransportChange(t *testing.T) {
	e := newTestEngine()
	snap1, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stopped", snap1.TransportState)

	e.Play()
	snap2, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "playing", snap2.TransportState)
}

func TestRingBufferIsLazilyCreatedAndReused(t *testing.T) {
	e := newTestEngine()
	a := e.RingBuffer("master")
	b := e.RingBuffer("master")
	assert.Same(t, a, b)
}

func TestFetchIOStateReportsReferencedChannels(t *testing.T) {
	e := newTestEngine()
	e.RingBuffer("master")
	outputs, inputs, devices, err := e.FetchIOState(context.Background())
	require.NoError(t, err)
	assert.Len(t, outputs, 1)
	assert.Equal(t, "master", outputs[0]["channel"])
	assert.Empty(t, inputs)
	assert.Empty(t, devices)
}

func TestRunPublishesBeatTickOnBeatBoundaryCrossing(t *testing.T) {
	e := newTestEngine()
	sub := e.bus.Subscribe()
	defer sub.Unsubscribe()

	e.Play()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go e.Run(ctx)

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case event := <-sub.Events():
			if event.Kind == bus.EventBeatTick {
				return
			}
		case <-deadline:
			t.Fatal("no beat tick published within deadline")
		}
	}
}
