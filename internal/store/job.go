package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

// JobStatus is a job's position in the pending -> running -> terminal
// state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobFailed || s == JobCancelled
}

// Job is the redis-backed record of one tool invocation's async lifecycle.
type Job struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Request   json.RawMessage `json:"request,omitempty"`
	Status    JobStatus       `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// jobTTL is set on a job's key as soon as the job reaches a terminal state,
// whether or not its result has been read; a terminal job that is not read
// within this window is evicted. The TTL is fixed: store.job_ttl_secs in
// the config is not read by the job store.
const jobTTL = 10 * time.Minute

// PollMode selects the bulk-poll completion condition.
type PollMode string

const (
	PollAny PollMode = "any"
	PollAll PollMode = "all"
)

// pollCap is the hard ceiling on any Poll timeout — a protocol-level
// defence against long-poll idle disconnects, regardless of caller input.
// Wait does not apply it.
const pollCap = 10 * time.Second

// PollResult partitions polled job ids by observed state.
type PollResult struct {
	Completed []string
	Pending   []string
	Failed    []string
}

// JobStore is the Job lifecycle's operation set.
type JobStore interface {
	Create(ctx context.Context, tool string, request json.RawMessage) (string, error)
	MarkRunning(ctx context.Context, id string) error
	MarkComplete(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, errPayload json.RawMessage) error
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, status JobStatus) ([]Job, error)
	// Wait blocks until the job reaches a terminal state or the timeout
	// elapses, whichever first. Cancellation-safe: cancelling ctx never
	// leaves the job or the store in a partial state, it just stops waiting.
	Wait(ctx context.Context, id string, timeout time.Duration) (*Job, error)
	// Poll bulk-checks job ids; returns at the mode condition or the
	// (capped) timeout, whichever first.
	Poll(ctx context.Context, ids []string, timeout time.Duration, mode PollMode) (PollResult, error)
	// RegisterCancelFunc associates a cancellation handle with a running
	// job so Cancel can interrupt the underlying worker task.
	RegisterCancelFunc(id string, cancel context.CancelFunc)
}

func jobKey(id string) string { return "hoot:job:" + id }

type redisJobStore struct {
	client *redis.Client
	logger commons.Logger

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc

	pollInterval time.Duration
}

// NewJobStore wraps a redis client. pollInterval controls how often Wait/
// Poll re-check status between redis round trips (redis has no native
// blocking-read-on-JSON-value primitive, so this backs off an explicit
// poll loop — the original's chosen tradeoff for a job record that is
// already a hash/string, not a stream).
func NewJobStore(client *redis.Client, logger commons.Logger) JobStore {
	return &redisJobStore{
		client:       client,
		logger:       logger,
		cancelFuncs:  make(map[string]context.CancelFunc),
		pollInterval: 100 * time.Millisecond,
	}
}

func (s *redisJobStore) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *redisJobStore) Create(ctx context.Context, tool string, request json.RawMessage) (string, error) {
	id := newJobID()
	now := time.Now()
	job := &Job{ID: id, Tool: tool, Request: request, Status: JobPending, CreatedAt: now, UpdatedAt: now}
	if err := s.save(ctx, job); err != nil {
		return "", err
	}
	s.logger.Debugw("job created", "id", id, "tool", tool)
	return id, nil
}

func (s *redisJobStore) transition(ctx context.Context, id string, mutate func(*Job)) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(job)
	job.UpdatedAt = time.Now()
	if err := s.save(ctx, job); err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		s.client.Expire(ctx, jobKey(id), jobTTL)
		s.clearCancelFunc(id)
	}
	return nil
}

func (s *redisJobStore) MarkRunning(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(j *Job) { j.Status = JobRunning })
}

func (s *redisJobStore) MarkComplete(ctx context.Context, id string, result json.RawMessage) error {
	return s.transition(ctx, id, func(j *Job) {
		j.Status = JobComplete
		j.Result = result
	})
}

func (s *redisJobStore) MarkFailed(ctx context.Context, id string, errPayload json.RawMessage) error {
	return s.transition(ctx, id, func(j *Job) {
		j.Status = JobFailed
		j.Error = errPayload
	})
}

// Cancel marks the job cancelled and invokes its registered CancelFunc, if
// any, to interrupt the underlying worker task.
func (s *redisJobStore) Cancel(ctx context.Context, id string) error {
	// Look the handle up first: the terminal transition clears it.
	s.mu.Lock()
	cancel, ok := s.cancelFuncs[id]
	s.mu.Unlock()
	if err := s.transition(ctx, id, func(j *Job) { j.Status = JobCancelled }); err != nil {
		return err
	}
	if ok {
		cancel()
	}
	return nil
}

func (s *redisJobStore) RegisterCancelFunc(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFuncs[id] = cancel
}

func (s *redisJobStore) clearCancelFunc(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelFuncs, id)
}

func (s *redisJobStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", id, errNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// List scans all job keys and filters by status. This is a small-scale
// operation appropriate for a single-daemon job store; a production
// multi-broker deployment would maintain a status index set instead.
func (s *redisJobStore) List(ctx context.Context, status JobStatus) ([]Job, error) {
	var out []Job
	iter := s.client.Scan(ctx, 0, "hoot:job:*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if status == "" || job.Status == status {
			out = append(out, job)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// Wait polls until the job is terminal or the timeout elapses.
// Cancellation-safe: if ctx is cancelled mid-wait, Wait returns promptly
// with ctx.Err() and the job record itself is untouched.
func (s *redisJobStore) Wait(ctx context.Context, id string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll bulk-checks job ids, returning as soon as the mode condition is
// satisfied or at the (capped) timeout, whichever first.
func (s *redisJobStore) Poll(ctx context.Context, ids []string, timeout time.Duration, mode PollMode) (PollResult, error) {
	if timeout > pollCap {
		timeout = pollCap
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		result := PollResult{}
		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if err != nil {
				result.Failed = append(result.Failed, id)
				continue
			}
			switch job.Status {
			case JobComplete:
				result.Completed = append(result.Completed, id)
			case JobFailed, JobCancelled:
				result.Failed = append(result.Failed, id)
			default:
				result.Pending = append(result.Pending, id)
			}
		}

		satisfied := false
		switch mode {
		case PollAny:
			satisfied = len(result.Completed)+len(result.Failed) > 0
		case PollAll:
			satisfied = len(result.Pending) == 0
		}
		if satisfied || time.Now().After(deadline) {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DecodeResult decodes a completed job's opaque Result payload into a typed
// view. Job results are tool-specific (a render job's result looks nothing
// like a query job's), so the store keeps them as json.RawMessage and
// leaves shaping to the caller via mapstructure, the same pattern the
// teacher's config layer uses for decoding loosely-typed data into structs.
func DecodeResult(job *Job, out interface{}) error {
	if job.Result == nil {
		return fmt.Errorf("job %s has no result", job.ID)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(job.Result, &raw); err != nil {
		return fmt.Errorf("job %s result is not a decodable object: %w", job.ID, err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("build result decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("decode job %s result: %w", job.ID, err)
	}
	return nil
}
