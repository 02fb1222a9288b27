// Package worker implements the job worker pool: a small in-process queue
// of pending job ids drained by a fixed number of goroutines, each
// invoking the tool's registered RenderFunc and publishing the resulting
// state transition on the bus before persisting the terminal job record.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/store"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

// RenderFunc executes one job's work and returns its result payload.
// Implementations may call out to an external renderer (see renderer.go)
// or run entirely in-process.
type RenderFunc func(ctx context.Context, job *store.Job) (json.RawMessage, error)

const queueSize = 256

// Pool claims submitted job ids and runs them against their tool's
// registered RenderFunc. Claiming is purely in-process — a single daemon
// owns the queue, so there's no need for the conditional-UPDATE claim
// pattern a multi-worker-process deployment would require.
type Pool struct {
	jobs   store.JobStore
	bus    *bus.Bus
	logger commons.Logger

	queue chan string

	mu       sync.RWMutex
	handlers map[string]RenderFunc

	workers int
}

func NewPool(jobs store.JobStore, eventBus *bus.Bus, logger commons.Logger, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		jobs:     jobs,
		bus:      eventBus,
		logger:   logger,
		queue:    make(chan string, queueSize),
		handlers: make(map[string]RenderFunc),
		workers:  workers,
	}
}

// RegisterRenderer binds a tool name to the function that executes it.
func (p *Pool) RegisterRenderer(tool string, fn RenderFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[tool] = fn
}

// Submit enqueues a pending job for processing. Non-blocking: a full queue
// drops the submission and logs — the caller (a Shell handler) should
// already have marked the job pending in the store, so a dropped
// submission leaves it pending rather than orphaned.
func (p *Pool) Submit(jobID string) {
	select {
	case p.queue <- jobID:
	default:
		p.logger.Warnw("worker queue full, dropping job submission", "job_id", jobID)
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and
// every in-flight job has finished.
func (p *Pool) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		eg.Go(func() error {
			p.runWorker(egCtx)
			return nil
		})
	}
	return eg.Wait()
}

func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			p.process(ctx, jobID)
		}
	}
}

func (p *Pool) process(ctx context.Context, jobID string) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		p.logger.Warnw("worker could not load job", "job_id", jobID, "error", err)
		return
	}

	p.bus.Publish(bus.EventJobStateChanged, bus.JobStateChangedPayload{JobID: jobID, State: string(store.JobRunning)})
	if err := p.jobs.MarkRunning(ctx, jobID); err != nil {
		p.logger.Warnw("failed marking job running", "job_id", jobID, "error", err)
		return
	}

	result, toolErr := p.invoke(ctx, job)
	if toolErr != nil {
		p.bus.Publish(bus.EventJobStateChanged, bus.JobStateChangedPayload{JobID: jobID, State: string(store.JobFailed)})
		errBody, _ := json.Marshal(toolErr)
		if err := p.jobs.MarkFailed(ctx, jobID, errBody); err != nil {
			p.logger.Warnw("failed marking job failed", "job_id", jobID, "error", err)
		}
		return
	}

	p.bus.Publish(bus.EventJobStateChanged, bus.JobStateChangedPayload{JobID: jobID, State: string(store.JobComplete)})
	if err := p.jobs.MarkComplete(ctx, jobID, result); err != nil {
		p.logger.Warnw("failed marking job complete", "job_id", jobID, "error", err)
	}
}

// invoke runs the job's RenderFunc, recovering any panic into an Internal
// ToolError rather than crashing the worker goroutine.
func (p *Pool) invoke(ctx context.Context, job *store.Job) (result json.RawMessage, toolErr *envelope.ToolError) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("renderer panicked", "tool", job.Tool, "job_id", job.ID, "panic", r)
			toolErr = envelope.NewInternalWithDetails("renderer panicked", fmt.Sprintf("%v", r))
		}
	}()

	p.mu.RLock()
	fn, ok := p.handlers[job.Tool]
	p.mu.RUnlock()
	if !ok {
		return nil, envelope.NewNotFound("renderer", job.Tool)
	}

	out, err := fn(ctx, job)
	if err != nil {
		return nil, envelope.FromErr(err)
	}
	return out, nil
}
