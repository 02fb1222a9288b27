package tempo

import (
	"sync"
	"time"
)

// Clock tracks playback position in musical time (beats), advancing it from
// wall-clock elapsed time via the tempo map. Grounded directly on
// chaosgarden's TickClock.
type Clock struct {
	mu sync.Mutex

	tempo *Ref

	startInstant  *time.Time
	startPosition float64 // beats
	currentPosition float64
}

// NewClock creates a new tick clock at position 0.
func NewClock(tempo *Ref) *Clock {
	return &Clock{tempo: tempo}
}

// Start begins the clock from the current position, a no-op if already
// running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startInstant == nil {
		now := time.Now()
		c.startInstant = &now
		c.startPosition = c.currentPosition
	}
}

// IsRunning reports whether the clock is currently advancing.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startInstant != nil
}

// Pause freezes the clock at its current position without resetting it.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startInstant != nil {
		c.tickLocked()
		c.startInstant = nil
	}
}

// Stop halts the clock and resets both positions to zero.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startInstant = nil
	c.startPosition = 0
	c.currentPosition = 0
}

// Seek jumps to the given beat position. If the clock is running, the
// elapsed-time origin resets to now so subsequent ticks advance from the
// new position.
func (c *Clock) Seek(beat float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasRunning := c.startInstant != nil
	c.currentPosition = beat
	c.startPosition = beat
	if wasRunning {
		now := time.Now()
		c.startInstant = &now
	}
}

// Tick advances and returns the current position in beats. If the clock is
// not running, it returns the current position unchanged.
func (c *Clock) Tick() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickLocked()
}

func (c *Clock) tickLocked() float64 {
	if c.startInstant == nil {
		return c.currentPosition
	}
	elapsed := time.Since(*c.startInstant)
	elapsedSeconds := elapsed.Seconds()

	m := c.tempo.Load()
	startTick := m.BeatToTick(c.startPosition)
	elapsedTick := m.SecondToTick(elapsedSeconds)
	currentTick := startTick + elapsedTick

	c.currentPosition = m.TickToBeat(currentTick)
	return c.currentPosition
}

// Position returns the current position without advancing the clock.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPosition
}

// CurrentTempo returns the BPM in effect at the current position.
func (c *Clock) CurrentTempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.tempo.Load()
	tick := m.BeatToTick(c.currentPosition)
	return m.TempoAt(tick)
}
