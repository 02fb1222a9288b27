// Package garden is the scheduler core: it composes the tempo map/tick
// clock (§4.G), the region timeline (§4.I), per-output ring buffers
// (§4.H), and the snapshot cache (§4.J) into the single in-process engine
// the broker's Shell/Control/Query handlers drive. The distilled spec
// folds the scheduler into the same process as the broker (§2's "leaves
// first" data flow has G-I feeding K and cached in J) rather than the
// original two-process split, so Engine is the thing broker.Server's
// tool handlers call directly, not a remote peer.
package garden

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/ring"
	"github.com/rapidaai/hootenanny/internal/snapshot"
	"github.com/rapidaai/hootenanny/internal/tempo"
	"github.com/rapidaai/hootenanny/internal/timeline"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

// beatTickInterval is how often the tick loop samples the clock to detect
// a beat-boundary crossing. Sub-beat sampling at any reasonable tempo, so
// the "one tick per beat" recommendation (§4.K) is met without missing a
// beat at fast tempos.
const beatTickInterval = 20 * time.Millisecond

// TransportState is the JSON shape returned by every transport-control
// tool (play/pause/stop/seek/set_tempo/get_transport_state).
type TransportState struct {
	State string  `json:"state"`
	Beat  float64 `json:"beat"`
	BPM   float64 `json:"bpm"`
}

// Engine is the garden: one tempo map, one timeline, a named set of
// playback ring buffers, and the snapshot cache over all of it. Safe for
// concurrent use from broker handler goroutines.
type Engine struct {
	logger commons.Logger
	bus    *bus.Bus

	ppq   int
	tempo *tempo.Ref
	clock *tempo.Clock

	timeline *timeline.Timeline
	cache    *snapshot.Cache

	ringMu        sync.RWMutex
	ringBuffers   map[string]*ring.Buffer
	defaultRingSz int

	emergencyPaused atomic.Bool
}

// NewEngine builds an idle engine at the given default tempo. defaultRingSz
// sizes ring buffers created on first reference via RingBuffer.
func NewEngine(logger commons.Logger, eventBus *bus.Bus, defaultBPM float64, ppq int, defaultRingSz int) *Engine {
	tempoMap := tempo.New(defaultBPM, tempo.DefaultTimeSignature())
	tempoRef := tempo.NewRef(tempoMap)
	e := &Engine{
		logger:        logger,
		bus:           eventBus,
		ppq:           ppq,
		tempo:         tempoRef,
		clock:         tempo.NewClock(tempoRef),
		timeline:      timeline.NewTimeline(),
		ringBuffers:   make(map[string]*ring.Buffer),
		defaultRingSz: defaultRingSz,
	}
	e.cache = snapshot.NewCache(e)
	return e
}

// Run drives the beat-tick loop until ctx is cancelled: samples the clock
// every beatTickInterval and publishes BeatTick whenever the integer beat
// advances, rather than on every sample (§4.K: "must avoid flooding the
// bus").
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(beatTickInterval)
	defer ticker.Stop()

	lastBeat := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat := e.clock.Tick()
			floor := int64(beat)
			if floor != lastBeat {
				lastBeat = floor
				e.bus.Publish(bus.EventBeatTick, bus.BeatTickPayload{
					Beat: beat,
					Tick: uint64(e.tempo.Load().BeatToTick(beat)),
				})
			}
		}
	}
}

// RingBuffer returns the named output's ring buffer, lazily creating it at
// the engine's configured default capacity on first reference.
func (e *Engine) RingBuffer(channel string) *ring.Buffer {
	e.ringMu.RLock()
	b, ok := e.ringBuffers[channel]
	e.ringMu.RUnlock()
	if ok {
		return b
	}

	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	if b, ok := e.ringBuffers[channel]; ok {
		return b
	}
	b = ring.New(e.defaultRingSz)
	e.ringBuffers[channel] = b
	return b
}

// Play starts the clock from its current position.
func (e *Engine) Play() TransportState {
	e.emergencyPaused.Store(false)
	e.clock.Start()
	return e.publishTransport()
}

// Pause freezes the clock without resetting position.
func (e *Engine) Pause() TransportState {
	e.clock.Pause()
	return e.publishTransport()
}

// Stop halts the clock and resets position to 0.
func (e *Engine) Stop() TransportState {
	e.clock.Stop()
	return e.publishTransport()
}

// Seek jumps to the given beat.
func (e *Engine) Seek(beat float64) TransportState {
	e.clock.Seek(beat)
	return e.publishTransport()
}

// SetTempo installs a new single-change tempo map effective from tick 0,
// a blanket tempo change rather than a scheduled ramp — sufficient for the
// "set_tempo" control tool, which changes the whole map, not one segment.
func (e *Engine) SetTempo(bpm float64) (TransportState, error) {
	if bpm <= 0 || bpm > 999 {
		return TransportState{}, fmt.Errorf("bpm must be in (0, 999], got %v", bpm)
	}
	sig := e.tempo.Load().TimeSignature()
	newMap, err := tempo.NewWithChanges([]tempo.Change{{Tick: 0, BPM: bpm}}, e.ppq, sig)
	if err != nil {
		return TransportState{}, err
	}
	e.tempo.Store(newMap)
	return e.publishTransport(), nil
}

// EmergencyPause is the Control-channel panic stop: pauses the clock and
// sets a sticky flag distinguishing it from an ordinary pause in the
// reported transport state, until the next Play.
func (e *Engine) EmergencyPause() TransportState {
	e.clock.Pause()
	e.emergencyPaused.Store(true)
	return e.publishTransport()
}

// GetTransportState reports the current state without mutating it.
func (e *Engine) GetTransportState() TransportState {
	return TransportState{
		State: e.transportStateString(),
		Beat:  e.clock.Position(),
		BPM:   e.clock.CurrentTempo(),
	}
}

func (e *Engine) transportStateString() string {
	switch {
	case e.emergencyPaused.Load():
		return "emergency_paused"
	case e.clock.IsRunning():
		return "playing"
	case e.clock.Position() == 0:
		return "stopped"
	default:
		return "paused"
	}
}

// publishTransport reports the new transport state on the bus and
// invalidates the snapshot cache, since transport_state is part of every
// Snapshot.
func (e *Engine) publishTransport() TransportState {
	state := e.GetTransportState()
	e.bus.Publish(bus.EventTransportStateChanged, bus.TransportStateChangedPayload{
		State: state.State,
		Beat:  state.Beat,
	})
	e.cache.Invalidate()
	return state
}

// PlaceRegion adds a region to the timeline, returning its generated id.
func (e *Engine) PlaceRegion(beat, lengthBeat float64, sourceHash string) string {
	id := e.timeline.AddRegion(beat, lengthBeat, sourceHash)
	e.cache.Invalidate()
	return id
}

// MoveRegion relocates a region by id, preserving its identity.
func (e *Engine) MoveRegion(id string, newBeat float64) bool {
	ok := e.timeline.Move(id, newBeat)
	if ok {
		e.cache.Invalidate()
	}
	return ok
}

// DeleteRegion removes a region by id.
func (e *Engine) DeleteRegion(id string) bool {
	ok := e.timeline.Delete(id)
	if ok {
		e.cache.Invalidate()
	}
	return ok
}

// Snapshot returns the cached (or freshly fetched) GardenSnapshot.
func (e *Engine) Snapshot(ctx context.Context) (snapshot.Snapshot, error) {
	return e.cache.GetSnapshot(ctx)
}

// Graph returns just the node/edge pair, preferring the cache.
func (e *Engine) Graph(ctx context.Context) ([]snapshot.GraphNode, []snapshot.GraphEdge, error) {
	return e.cache.GetGraph(ctx)
}

// IOState returns just device/output state, preferring the cache.
func (e *Engine) IOState(ctx context.Context) ([]snapshot.AudioOutput, []snapshot.AudioInput, []snapshot.MidiDeviceInfo, error) {
	return e.cache.GetIOState(ctx)
}

// FetchSnapshot implements snapshot.Fetcher: the engine is its own cache's
// source of truth.
func (e *Engine) FetchSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	regions := e.timeline.All()
	regionValues := make([]interface{}, len(regions))
	for i, r := range regions {
		regionValues[i] = r
	}
	outputs, inputs, devices, err := e.FetchIOState(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	nodes, edges, err := e.FetchGraph(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.Snapshot{
		Version:        e.timeline.Version(),
		Regions:        regionValues,
		Nodes:          nodes,
		Edges:          edges,
		Outputs:        outputs,
		Inputs:         inputs,
		MidiDevices:    devices,
		TransportState: e.transportStateString(),
	}, nil
}

// FetchGraph returns an empty node/edge graph: the distilled spec scopes
// out an audio-routing graph beyond regions (§1 non-goals — "a novel
// audio DSP engine"), so there is nothing to report here yet, but the
// shape is kept for §4.J's GetGraph query to stay cheap and partial.
func (e *Engine) FetchGraph(ctx context.Context) ([]snapshot.GraphNode, []snapshot.GraphEdge, error) {
	return []snapshot.GraphNode{}, []snapshot.GraphEdge{}, nil
}

// FetchIOState reports one AudioOutput per referenced ring buffer, keyed by
// channel name, with its current Stats.
func (e *Engine) FetchIOState(ctx context.Context) ([]snapshot.AudioOutput, []snapshot.AudioInput, []snapshot.MidiDeviceInfo, error) {
	e.ringMu.RLock()
	defer e.ringMu.RUnlock()
	outputs := make([]snapshot.AudioOutput, 0, len(e.ringBuffers))
	for name, buf := range e.ringBuffers {
		stats := buf.Stats()
		outputs = append(outputs, snapshot.AudioOutput{
			"channel":          name,
			"callbacks":        stats.Callbacks,
			"samples_captured": stats.SamplesCaptured,
			"overruns":         stats.Overruns,
			"warmed_up":        stats.WarmedUp,
		})
	}
	return outputs, []snapshot.AudioInput{}, []snapshot.MidiDeviceInfo{}, nil
}
