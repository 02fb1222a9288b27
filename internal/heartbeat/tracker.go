// Package heartbeat implements Paranoid-Pirate-style liveness tracking for
// broker backends: periodic probes, exponential backoff, and state
// transitions with on_connected/on_disconnected callbacks.
package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is a backend's liveness state.
type State int32

const (
	Connecting State = iota
	Ready
	Busy
	Dead
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Config tunes the heartbeat loop. Defaults match the Paranoid-Pirate
// recommendation, adjusted for a localhost deployment.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	MaxFailures      uint32
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         5 * time.Second,
		Timeout:          2 * time.Second,
		MaxFailures:      3,
		ReconnectInitial: time.Second,
		ReconnectMax:     32 * time.Second,
	}
}

// Tracker holds one backend's liveness state. Atomic fields allow
// lock-free reads from health endpoints; the instant fields are
// mutex-guarded since time.Time isn't safely shareable via atomics.
type Tracker struct {
	state               atomic.Int32
	consecutiveFailures atomic.Uint32

	mu             sync.Mutex
	lastSent       time.Time
	lastReceived   *time.Time
	reconnectDelay time.Duration
}

func NewTracker() *Tracker {
	t := &Tracker{lastSent: time.Now(), reconnectDelay: time.Second}
	t.state.Store(int32(Connecting))
	return t
}

func (t *Tracker) GetState() State { return State(t.state.Load()) }

// SetState sets the state and returns the previous one.
func (t *Tracker) SetState(s State) State {
	prev := t.state.Swap(int32(s))
	return State(prev)
}

func (t *Tracker) IsAlive() bool {
	switch t.GetState() {
	case Ready, Busy:
		return true
	default:
		return false
	}
}

// RecordMessageReceived marks any inbound message — a reply doubles as a
// heartbeat — clearing failures and promoting Connecting/Dead to Ready.
func (t *Tracker) RecordMessageReceived() (wasDead bool) {
	now := time.Now()
	t.mu.Lock()
	t.lastReceived = &now
	t.mu.Unlock()
	t.consecutiveFailures.Store(0)

	prev := t.GetState()
	if prev == Connecting || prev == Dead {
		t.SetState(Ready)
		return prev == Dead
	}
	return false
}

// RecordFailure increments the failure counter and returns the new count.
func (t *Tracker) RecordFailure() uint32 {
	return t.consecutiveFailures.Add(1)
}

func (t *Tracker) ResetFailures() { t.consecutiveFailures.Store(0) }

func (t *Tracker) FailureCount() uint32 { return t.consecutiveFailures.Load() }

func (t *Tracker) RecordHeartbeatSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = time.Now()
}

// Summary is a point-in-time health snapshot suitable for a /health
// endpoint.
type Summary struct {
	State               string  `json:"state"`
	Alive               bool    `json:"alive"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	LastMessageSecsAgo  *float64 `json:"last_message_secs_ago,omitempty"`
}

func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	lastReceived := t.lastReceived
	t.mu.Unlock()

	summary := Summary{
		State:               t.GetState().String(),
		Alive:               t.IsAlive(),
		ConsecutiveFailures: t.FailureCount(),
	}
	if lastReceived != nil {
		secs := time.Since(*lastReceived).Seconds()
		summary.LastMessageSecsAgo = &secs
	}
	return summary
}

// NextReconnectDelay doubles the current backoff (capped at ReconnectMax)
// and returns the delay to wait before the next reconnection attempt.
func (t *Tracker) NextReconnectDelay(cfg Config) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	delay := t.reconnectDelay
	next := delay * 2
	if next > cfg.ReconnectMax {
		next = cfg.ReconnectMax
	}
	t.reconnectDelay = next
	return delay
}

// ResetReconnectDelay restores the initial backoff after a successful
// reconnect.
func (t *Tracker) ResetReconnectDelay(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectDelay = cfg.ReconnectInitial
}
