package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

type fakeProber struct {
	fail atomic.Bool
}

func (p *fakeProber) Probe(ctx context.Context) error {
	if p.fail.Load() {
		return context.DeadlineExceeded
	}
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPoolPromotesBackendToReadyOnSuccess(t *testing.T) {
	cfg := Config{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond, MaxFailures: 3}
	pool := NewPool(cfg, commons.NewNopLogger(), nil, nil)
	defer pool.Stop()

	backend := &Backend{Name: "garden-1", Prober: &fakeProber{}}
	pool.Register(backend)

	waitUntil(t, time.Second, func() bool { return backend.Tracker.GetState() == Ready })
}

func TestPoolMarksDeadAfterMaxFailures(t *testing.T) {
	cfg := Config{Interval: 5 * time.Millisecond, Timeout: 5 * time.Millisecond, MaxFailures: 2}
	var disconnected atomic.Bool
	pool := NewPool(cfg, commons.NewNopLogger(), nil, func(name string) { disconnected.Store(true) })
	defer pool.Stop()

	prober := &fakeProber{}
	prober.fail.Store(true)
	backend := &Backend{Name: "garden-1", Prober: prober}
	pool.Register(backend)

	waitUntil(t, time.Second, func() bool { return backend.Tracker.GetState() == Dead })
	assert.True(t, disconnected.Load())
}

func TestPoolFiresOnConnectedAfterDead(t *testing.T) {
	cfg := Config{Interval: 5 * time.Millisecond, Timeout: 5 * time.Millisecond, MaxFailures: 1}
	var connected atomic.Bool
	pool := NewPool(cfg, commons.NewNopLogger(), func(name string) { connected.Store(true) }, nil)
	defer pool.Stop()

	prober := &fakeProber{}
	prober.fail.Store(true)
	backend := &Backend{Name: "garden-1", Prober: prober}
	pool.Register(backend)

	waitUntil(t, time.Second, func() bool { return backend.Tracker.GetState() == Dead })

	prober.fail.Store(false)
	waitUntil(t, time.Second, func() bool { return connected.Load() })
}

func TestAllAliveReflectsEveryBackend(t *testing.T) {
	cfg := Config{Interval: 5 * time.Millisecond, Timeout: 5 * time.Millisecond, MaxFailures: 1}
	pool := NewPool(cfg, commons.NewNopLogger(), nil, nil)
	defer pool.Stop()

	ok := &Backend{Name: "garden-1", Prober: &fakeProber{}}
	bad := &Backend{Name: "garden-2", Prober: &fakeProber{}}
	bad.Prober.(*fakeProber).fail.Store(true)

	pool.Register(ok)
	pool.Register(bad)

	waitUntil(t, time.Second, func() bool { return ok.Tracker.GetState() == Ready })
	waitUntil(t, time.Second, func() bool { return bad.Tracker.GetState() == Dead })

	assert.False(t, pool.AllAlive())
}

func TestHealthReturnsPerBackendSummary(t *testing.T) {
	cfg := Config{Interval: 5 * time.Millisecond, Timeout: 5 * time.Millisecond, MaxFailures: 3}
	pool := NewPool(cfg, commons.NewNopLogger(), nil, nil)
	defer pool.Stop()

	backend := &Backend{Name: "garden-1", Prober: &fakeProber{}}
	pool.Register(backend)

	waitUntil(t, time.Second, func() bool { return backend.Tracker.GetState() == Ready })

	health := pool.Health()
	require.Contains(t, health, "garden-1")
	assert.True(t, health["garden-1"].Alive)
}
