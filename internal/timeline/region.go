package timeline

import (
	"sync"

	"github.com/google/uuid"
)

// Region is a placed item on the timeline, addressed by Beat position.
// Two regions may overlap; the downstream mixer resolves overlap, not the
// timeline.
type Region struct {
	ID         string
	Beat       float64
	LengthBeat float64
	SourceHash string // CAS hash of the region's audio/MIDI content
}

// Timeline holds the editable set of placed regions with a monotonically
// increasing version counter — every mutation increments it.
type Timeline struct {
	mu      sync.RWMutex
	regions map[string]Region
	version uint64
}

func NewTimeline() *Timeline {
	return &Timeline{regions: make(map[string]Region)}
}

// Version returns the current mutation counter.
func (t *Timeline) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// AddRegion places a new region, returning its generated id.
func (t *Timeline) AddRegion(beat, lengthBeat float64, sourceHash string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.New().String()
	t.regions[id] = Region{ID: id, Beat: beat, LengthBeat: lengthBeat, SourceHash: sourceHash}
	t.version++
	return id
}

// Get returns a region by id.
func (t *Timeline) Get(id string) (Region, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.regions[id]
	return r, ok
}

// Delete removes a region by id, reporting whether it existed.
func (t *Timeline) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.regions[id]; !ok {
		return false
	}
	delete(t.regions, id)
	t.version++
	return true
}

// Move relocates a region to a new beat position, preserving its id — a
// move is a delete+insert that preserves the id.
func (t *Timeline) Move(id string, newBeat float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regions[id]
	if !ok {
		return false
	}
	r.Beat = newBeat
	t.regions[id] = r
	t.version++
	return true
}

// All returns a snapshot slice of every region currently on the timeline.
func (t *Timeline) All() []Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Region, 0, len(t.regions))
	for _, r := range t.regions {
		out = append(out, r)
	}
	return out
}
