package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

// Prober sends one heartbeat probe to a backend and reports whether it was
// answered before ctx's deadline. Implementations wrap the HOOT Heartbeat
// channel's echo semantics.
type Prober interface {
	Probe(ctx context.Context) error
}

// Callback fires on a backend's Ready transition (on_connected, used to
// refresh the tool cache) or its Dead transition (on_disconnected).
type Callback func(backendName string)

// Backend pairs a Prober with its liveness Tracker and connect/recreate
// hooks.
type Backend struct {
	Name    string
	Tracker *Tracker
	Prober  Prober
	// Recreate tears down and rebuilds the backend's sockets. Called when
	// the backend has been Dead longer than the pool's grace period —
	// pure reconnect doesn't recover from every transport-level failure.
	Recreate func(ctx context.Context) error

	deadSince time.Time
	mu        sync.Mutex
}

func (b *Backend) markDeadSince(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadSince = t
}

func (b *Backend) deadDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deadSince.IsZero() {
		return 0
	}
	return time.Since(b.deadSince)
}

// Pool runs one heartbeat loop per registered backend and exposes
// aggregate health queries for health endpoints.
type Pool struct {
	cfg    Config
	logger commons.Logger

	onConnected    Callback
	onDisconnected Callback

	gracePeriod time.Duration

	mu       sync.RWMutex
	backends map[string]*Backend

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(cfg Config, logger commons.Logger, onConnected, onDisconnected Callback) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:            cfg,
		logger:         logger,
		onConnected:    onConnected,
		onDisconnected: onDisconnected,
		gracePeriod:    10 * time.Second,
		backends:       make(map[string]*Backend),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Register adds a backend and starts its heartbeat loop, scoped to the
// pool's own lifetime (stopped by Stop, not by any caller-supplied context).
func (p *Pool) Register(b *Backend) {
	b.Tracker = NewTracker()
	p.mu.Lock()
	p.backends[b.Name] = b
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runLoop(p.ctx, b)
}

func (p *Pool) runLoop(ctx context.Context, b *Backend) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	recreateTicker := time.NewTicker(p.gracePeriod)
	defer recreateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, b)
		case <-recreateTicker.C:
			p.maybeRecreate(ctx, b)
		}
	}
}

func (p *Pool) probeOnce(ctx context.Context, b *Backend) {
	b.Tracker.RecordHeartbeatSent()
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := b.Prober.Probe(probeCtx)
	if err == nil {
		prev := b.Tracker.GetState()
		b.Tracker.RecordMessageReceived()
		p.logger.Debugw("heartbeat ok", "backend", b.Name)
		if (prev == Connecting || prev == Dead) && p.onConnected != nil {
			p.onConnected(b.Name)
		}
		return
	}

	failures := b.Tracker.RecordFailure()
	p.logger.Warnw("heartbeat failed", "backend", b.Name, "failures", failures, "error", err)
	if failures >= p.cfg.MaxFailures {
		prev := b.Tracker.SetState(Dead)
		if prev != Dead {
			b.markDeadSince(time.Now())
			p.logger.Warnw("backend marked dead", "backend", b.Name, "failures", failures)
			if p.onDisconnected != nil {
				p.onDisconnected(b.Name)
			}
		}
	}
}

func (p *Pool) maybeRecreate(ctx context.Context, b *Backend) {
	if b.Tracker.GetState() != Dead || b.Recreate == nil {
		return
	}
	if b.deadDuration() < p.gracePeriod {
		return
	}
	if err := b.Recreate(ctx); err != nil {
		p.logger.Warnw("backend recreate failed", "backend", b.Name, "error", err)
		return
	}
	b.Tracker.ResetFailures()
	b.Tracker.ResetReconnectDelay(p.cfg)
	b.Tracker.SetState(Connecting)
	p.logger.Infow("backend recreated", "backend", b.Name)
}

// AllAlive reports whether every registered backend is currently alive.
func (p *Pool) AllAlive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, b := range p.backends {
		if !b.Tracker.IsAlive() {
			return false
		}
	}
	return true
}

// Health returns a per-backend health summary snapshot.
func (p *Pool) Health() map[string]Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Summary, len(p.backends))
	for name, b := range p.backends {
		out[name] = b.Tracker.Summary()
	}
	return out
}

// Stop cancels every backend's heartbeat loop and waits for them to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
