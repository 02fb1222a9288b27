// Package bus implements the state-broadcast mailbox: producers enqueue
// typed events, a single background goroutine drains the mailbox and
// fans each event out to every subscriber. Slow subscribers lose messages
// rather than stalling the publisher — lossy-but-ordered per subscriber.
package bus

import (
	"sync"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

// EventKind identifies a broadcast variant.
type EventKind string

const (
	EventJobStateChanged       EventKind = "job_state_changed"
	EventArtifactCreated       EventKind = "artifact_created"
	EventTransportStateChanged EventKind = "transport_state_changed"
	EventMarkerReached         EventKind = "marker_reached"
	EventBeatTick              EventKind = "beat_tick"
	EventDeviceConnected       EventKind = "device_connected"
	EventDeviceDisconnected    EventKind = "device_disconnected"
	EventLog                   EventKind = "log"
	EventProgress              EventKind = "progress"
	EventShutdown              EventKind = "shutdown"
	EventConfigUpdate          EventKind = "config_update"
	EventScriptInvalidate      EventKind = "script_invalidate"
)

// Event is the schema-versioned envelope every broadcast variant travels in.
type Event struct {
	SchemaVersion int         `json:"schema_version"`
	Kind          EventKind   `json:"kind"`
	Payload       interface{} `json:"payload"`
}

// SchemaVersion is bumped whenever a Payload shape changes incompatibly.
const SchemaVersion = 1

// JobStateChangedPayload announces a job transitioning between states.
type JobStateChangedPayload struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// ArtifactCreatedPayload announces a new artifact entering the store.
type ArtifactCreatedPayload struct {
	ArtifactID string `json:"artifact_id"`
	Kind       string `json:"kind"`
}

// TransportStateChangedPayload announces a play/pause/stop/seek transition.
type TransportStateChangedPayload struct {
	State string  `json:"state"`
	Beat  float64 `json:"beat"`
}

// MarkerReachedPayload announces the clock crossing a named marker.
type MarkerReachedPayload struct {
	Name string  `json:"name"`
	Beat float64 `json:"beat"`
}

// BeatTickPayload is published at a configurable rate, not every frame.
type BeatTickPayload struct {
	Beat float64 `json:"beat"`
	Tick uint64  `json:"tick"`
}

// DeviceConnectedPayload/DeviceDisconnectedPayload announce MIDI/audio I/O
// device hotplug events.
type DeviceConnectedPayload struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type DeviceDisconnectedPayload struct {
	DeviceID string `json:"device_id"`
}

// LogPayload relays a structured log line to external monitors.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ProgressPayload reports fractional progress for a long-running job.
type ProgressPayload struct {
	JobID    string  `json:"job_id"`
	Fraction float64 `json:"fraction"`
}

// ConfigUpdatePayload announces a reloaded configuration section.
type ConfigUpdatePayload struct {
	Section string `json:"section"`
}

// ScriptInvalidatePayload tells subscribers cached script state is stale.
type ScriptInvalidatePayload struct {
	ScriptID string `json:"script_id"`
}

// InvalidatesCache implements snapshot.InvalidatingEvent: beat ticks, log
// lines, and progress updates never change the queryable graph, everything
// that mutates the garden's topology or transport does.
func (e Event) InvalidatesCache() bool {
	switch e.Kind {
	case EventBeatTick, EventLog, EventProgress:
		return false
	default:
		return true
	}
}

const subscriberBufferSize = 256

// Subscription is a lossy, per-subscriber event channel.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	closed bool
}

// Events returns the channel to range over. It closes when Unsubscribe is
// called or the bus itself is shut down.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes this subscriber from future fanout and closes its
// channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

// Bus is the mailbox: Publish enqueues without blocking on delivery; a
// single background goroutine drains the mailbox and fans out to every
// live subscriber.
type Bus struct {
	logger commons.Logger

	mailbox chan Event

	mu          sync.Mutex
	subscribers map[*Subscription]struct{}

	done   chan struct{}
	closed bool
}

const mailboxSize = 1024

// New starts the bus's drain goroutine. Callers must call Close to stop it.
func New(logger commons.Logger) *Bus {
	b := &Bus{
		logger:      logger,
		mailbox:     make(chan Event, mailboxSize),
		subscribers: make(map[*Subscription]struct{}),
		done:        make(chan struct{}),
	}
	go b.drain()
	return b
}

// Publish enqueues an event. Non-blocking: if the mailbox itself is full
// (the drain goroutine can't keep up), the event is dropped and logged —
// this should only happen under pathological load, since the mailbox is
// far larger than any single subscriber's buffer.
func (b *Bus) Publish(kind EventKind, payload interface{}) {
	event := Event{SchemaVersion: SchemaVersion, Kind: kind, Payload: payload}
	select {
	case b.mailbox <- event:
	default:
		b.logger.Warnw("bus mailbox full, dropping event", "kind", kind)
	}
}

func (b *Bus) drain() {
	for {
		select {
		case event := <-b.mailbox:
			b.fanout(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) fanout(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warnw("subscriber buffer full, dropping event", "kind", event.Kind)
		}
	}
}

// Subscribe registers a new subscriber with its own lossy buffer.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBufferSize), bus: b}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Close stops the drain goroutine and closes every live subscriber channel.
// Publishes a Shutdown event first so subscribers see it before their
// channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.fanout(Event{SchemaVersion: SchemaVersion, Kind: EventShutdown})
	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subscribers = make(map[*Subscription]struct{})
}
