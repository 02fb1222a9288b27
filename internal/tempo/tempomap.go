// Package tempo implements the tempo map (tick<->beat<->second conversion)
// and the monotonic tick clock the garden's transport position is driven by.
package tempo

import (
	"fmt"
	"sync/atomic"
)

// TimeSignature is carried for display/region-snapping purposes only; it
// does not participate in tick/beat/second arithmetic.
type TimeSignature struct {
	Numerator   int
	Denominator int
}

func DefaultTimeSignature() TimeSignature {
	return TimeSignature{Numerator: 4, Denominator: 4}
}

// Change is one tempo-map entry: a BPM value effective from Tick onward.
type Change struct {
	Tick int64
	BPM  float64
}

// Map is an immutable, sorted set of tempo changes. Mutations always
// produce a new Map (copy-on-write); see MapRef for the concurrent holder.
type Map struct {
	changes []Change
	ppq     int
	sig     TimeSignature
}

const defaultPPQ = 960

// New builds a tempo map with a single change at tick 0, matching the
// original's `TempoMap::new(bpm, signature)` convenience constructor.
func New(bpm float64, sig TimeSignature) *Map {
	return &Map{changes: []Change{{Tick: 0, BPM: bpm}}, ppq: defaultPPQ, sig: sig}
}

// NewWithChanges validates and builds a tempo map from an explicit change
// list: at least one entry at tick 0, sorted by tick, strictly monotonic.
func NewWithChanges(changes []Change, ppq int, sig TimeSignature) (*Map, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("tempo map requires at least one change")
	}
	if changes[0].Tick != 0 {
		return nil, fmt.Errorf("tempo map requires an entry at tick 0")
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].Tick <= changes[i-1].Tick {
			return nil, fmt.Errorf("tempo map ticks must be strictly monotonic (entry %d)", i)
		}
	}
	if ppq <= 0 {
		ppq = defaultPPQ
	}
	cp := make([]Change, len(changes))
	copy(cp, changes)
	return &Map{changes: cp, ppq: ppq, sig: sig}, nil
}

func (m *Map) PPQ() int                     { return m.ppq }
func (m *Map) TimeSignature() TimeSignature { return m.sig }

// TempoAt returns the BPM in effect at or before tick, per "the most recent
// change at or before tick".
func (m *Map) TempoAt(tick int64) float64 {
	bpm := m.changes[0].BPM
	for _, c := range m.changes {
		if c.Tick > tick {
			break
		}
		bpm = c.BPM
	}
	return bpm
}

// TickToBeat is a pure ratio against PPQ.
func (m *Map) TickToBeat(tick int64) float64 {
	return float64(tick) / float64(m.ppq)
}

// BeatToTick is TickToBeat's inverse.
func (m *Map) BeatToTick(beat float64) int64 {
	return int64(beat * float64(m.ppq))
}

// TickToSecond sums (segment_ticks * microseconds_per_beat) across every
// tempo segment up to tick, with the final segment partial.
func (m *Map) TickToSecond(tick int64) float64 {
	var seconds float64
	for i, c := range m.changes {
		segStart := c.Tick
		var segEnd int64
		if i+1 < len(m.changes) {
			segEnd = m.changes[i+1].Tick
		} else {
			segEnd = tick
		}
		if segEnd > tick {
			segEnd = tick
		}
		if segEnd <= segStart {
			if segStart >= tick {
				break
			}
			continue
		}
		segTicks := segEnd - segStart
		microsPerBeat := 60_000_000.0 / c.BPM
		secondsPerTick := microsPerBeat / float64(m.ppq) / 1_000_000.0
		seconds += float64(segTicks) * secondsPerTick
		if segEnd >= tick {
			break
		}
	}
	return seconds
}

// SecondToTick is TickToSecond's inverse, walking the same segments forward
// in time until the requested number of seconds is consumed.
func (m *Map) SecondToTick(seconds float64) int64 {
	if seconds <= 0 {
		return 0
	}
	var accumSeconds float64
	var tick int64
	for i, c := range m.changes {
		segStart := c.Tick
		var segEnd int64
		hasNext := i+1 < len(m.changes)
		if hasNext {
			segEnd = m.changes[i+1].Tick
		}
		microsPerBeat := 60_000_000.0 / c.BPM
		secondsPerTick := microsPerBeat / float64(m.ppq) / 1_000_000.0

		if !hasNext {
			remaining := seconds - accumSeconds
			tick = segStart + int64(remaining/secondsPerTick)
			return tick
		}

		segTicks := segEnd - segStart
		segSeconds := float64(segTicks) * secondsPerTick
		if accumSeconds+segSeconds >= seconds {
			remaining := seconds - accumSeconds
			return segStart + int64(remaining/secondsPerTick)
		}
		accumSeconds += segSeconds
		tick = segEnd
	}
	return tick
}

// Ref is a concurrency-safe, copy-on-write holder for a *Map: readers load
// the pointer once per use, writers install a new map without blocking
// readers, matching the spec's "tempo map is copy-on-write" resolution.
type Ref struct {
	ptr atomic.Pointer[Map]
}

func NewRef(m *Map) *Ref {
	r := &Ref{}
	r.ptr.Store(m)
	return r
}

func (r *Ref) Load() *Map {
	return r.ptr.Load()
}

func (r *Ref) Store(m *Map) {
	r.ptr.Store(m)
}
