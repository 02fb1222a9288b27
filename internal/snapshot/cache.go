// Package snapshot caches the garden's queryable state so broker handlers
// don't round-trip to the scheduler on every query.
package snapshot

import (
	"context"
	"sync"
	"time"
)

// TTL is the staleness threshold: a cache entry older than this is always
// refreshed, regardless of invalidation.
const TTL = 30 * time.Second

// GraphNode/GraphEdge/AudioOutput/AudioInput/MidiDeviceInfo are left as
// opaque maps here; the broker handlers that populate a Snapshot know their
// concrete shape per tool. Keeping them untyped avoids a second definition
// of types already owned by the scheduler's own wire contract.
type GraphNode = map[string]interface{}
type GraphEdge = map[string]interface{}
type AudioOutput = map[string]interface{}
type AudioInput = map[string]interface{}
type MidiDeviceInfo = map[string]interface{}

// Snapshot is a single versioned record describing the garden's current
// queryable state.
type Snapshot struct {
	Version        uint64
	Regions        []interface{}
	Nodes          []GraphNode
	Edges          []GraphEdge
	Outputs        []AudioOutput
	Inputs         []AudioInput
	MidiDevices    []MidiDeviceInfo
	TransportState string
}

// Fetcher is implemented by whatever can produce a fresh Snapshot — in
// production, the in-process scheduler; in tests, a stub.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
	FetchGraph(ctx context.Context) ([]GraphNode, []GraphEdge, error)
	FetchIOState(ctx context.Context) ([]AudioOutput, []AudioInput, []MidiDeviceInfo, error)
}

type cachedState struct {
	snapshot    Snapshot
	fetchedAt   time.Time
	invalidated bool
}

func (c cachedState) isStale() bool {
	return c.invalidated || time.Since(c.fetchedAt) > TTL
}

// Cache holds at most one snapshot, refreshed lazily on miss/staleness.
type Cache struct {
	mu      sync.RWMutex
	state   *cachedState
	fetcher Fetcher
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher}
}

// GetSnapshot returns the cached snapshot if fresh, else fetches and swaps
// in a new one.
func (c *Cache) GetSnapshot(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	if c.state != nil && !c.state.isStale() {
		snap := c.state.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()
	return c.Refresh(ctx)
}

// Refresh unconditionally fetches and installs a new snapshot.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := c.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.mu.Lock()
	c.state = &cachedState{snapshot: snap, fetchedAt: time.Now()}
	c.mu.Unlock()
	return snap, nil
}

// GetGraph returns just nodes/edges, preferring the cached full snapshot
// when fresh, else fetching the lightweight graph-only response.
func (c *Cache) GetGraph(ctx context.Context) ([]GraphNode, []GraphEdge, error) {
	c.mu.RLock()
	if c.state != nil && !c.state.isStale() {
		nodes, edges := c.state.snapshot.Nodes, c.state.snapshot.Edges
		c.mu.RUnlock()
		return nodes, edges, nil
	}
	c.mu.RUnlock()
	return c.fetcher.FetchGraph(ctx)
}

// GetIOState returns just device state, preferring the cached full snapshot
// when fresh, else fetching the lightweight I/O-only response.
func (c *Cache) GetIOState(ctx context.Context) ([]AudioOutput, []AudioInput, []MidiDeviceInfo, error) {
	c.mu.RLock()
	if c.state != nil && !c.state.isStale() {
		s := c.state.snapshot
		c.mu.RUnlock()
		return s.Outputs, s.Inputs, s.MidiDevices, nil
	}
	c.mu.RUnlock()
	return c.fetcher.FetchIOState(ctx)
}

// InvalidatingEvent is implemented by IOPub event variants; events that
// leave the queryable graph unchanged (e.g. pure beat ticks) must return
// false so idle UI clients do not refetch on every beat.
type InvalidatingEvent interface {
	InvalidatesCache() bool
}

// HandleIOPubEvent sets the invalidated flag if the event warrants it. It
// does not refresh eagerly — the next read does that.
func (c *Cache) HandleIOPubEvent(event InvalidatingEvent) {
	if !event.InvalidatesCache() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.invalidated = true
	}
}

// Invalidate explicitly marks the cache stale.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.invalidated = true
	}
}

// IsCached reports whether a fresh snapshot is currently cached.
func (c *Cache) IsCached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != nil && !c.state.isStale()
}

// Stats are diagnostic counters over the cache's current state.
type Stats struct {
	HasSnapshot bool
	Version     uint64
	AgeSeconds  float64
	Invalidated bool
	RegionCount int
	NodeCount   int
	EdgeCount   int
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return Stats{}
	}
	return Stats{
		HasSnapshot: true,
		Version:     c.state.snapshot.Version,
		AgeSeconds:  time.Since(c.state.fetchedAt).Seconds(),
		Invalidated: c.state.invalidated,
		RegionCount: len(c.state.snapshot.Regions),
		NodeCount:   len(c.state.snapshot.Nodes),
		EdgeCount:   len(c.state.snapshot.Edges),
	}
}
