package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/pkg/commons"
)

func newTestJobStore(t *testing.T) (*redisJobStore, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	s := NewJobStore(client, commons.NewNopLogger()).(*redisJobStore)
	s.pollInterval = time.Millisecond
	return s, mock
}

func TestCreateJobSetsPendingStatus(t *testing.T) {
	s, mock := newTestJobStore(t)
	mock.Regexp().ExpectSet(`hoot:job:.*`, `.*`, 0).SetVal("OK")

	id, err := s.Create(context.Background(), "render", json.RawMessage(`{"beat":1}`))
	require.NoError(t, err)
	assert.Contains(t, id, "job-")
}

func TestMarkRunningTransitionsStatus(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Tool: "render", Status: JobPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	data, _ := json.Marshal(job)

	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))
	mock.Regexp().ExpectSet(`hoot:job:job-1`, `.*`, 0).SetVal("OK")

	require.NoError(t, s.MarkRunning(context.Background(), "job-1"))
}

func TestMarkCompleteSetsTTL(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Tool: "render", Status: JobRunning, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	data, _ := json.Marshal(job)

	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))
	mock.Regexp().ExpectSet(`hoot:job:job-1`, `.*`, 0).SetVal("OK")
	mock.ExpectExpire(jobKey("job-1"), jobTTL).SetVal(true)

	require.NoError(t, s.MarkComplete(context.Background(), "job-1", json.RawMessage(`{"ok":true}`)))
}

func TestGetMissingJobReturnsNotFound(t *testing.T) {
	s, mock := newTestJobStore(t)
	mock.ExpectGet(jobKey("missing")).RedisNil()

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestWaitReturnsImmediatelyWhenAlreadyTerminal(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Status: JobComplete, Result: json.RawMessage(`{"ok":true}`)}
	data, _ := json.Marshal(job)
	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))

	got, err := s.Wait(context.Background(), "job-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, JobComplete, got.Status)
}

func TestWaitReturnsAtTimeoutIfStillPending(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Status: JobRunning}
	data, _ := json.Marshal(job)
	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))

	got, err := s.Wait(context.Background(), "job-1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
}

func TestWaitIsCancellationSafe(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Status: JobRunning}
	data, _ := json.Marshal(job)
	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Wait(ctx, "job-1", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollAnyReturnsOnFirstCompletion(t *testing.T) {
	s, mock := newTestJobStore(t)
	complete := &Job{ID: "job-1", Status: JobComplete}
	pending := &Job{ID: "job-2", Status: JobRunning}
	completeData, _ := json.Marshal(complete)
	pendingData, _ := json.Marshal(pending)

	mock.ExpectGet(jobKey("job-1")).SetVal(string(completeData))
	mock.ExpectGet(jobKey("job-2")).SetVal(string(pendingData))

	result, err := s.Poll(context.Background(), []string{"job-1", "job-2"}, time.Second, PollAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, result.Completed)
	assert.Equal(t, []string{"job-2"}, result.Pending)
}

func TestPollAllSatisfiedImmediatelyWithNoIDs(t *testing.T) {
	s, _ := newTestJobStore(t)

	result, err := s.Poll(context.Background(), nil, time.Hour, PollAll)
	require.NoError(t, err)
	assert.Empty(t, result.Pending)
}

func TestPollCapIsTenSeconds(t *testing.T) {
	assert.Equal(t, 10*time.Second, pollCap)
}

func TestCancelInvokesRegisteredCancelFunc(t *testing.T) {
	s, mock := newTestJobStore(t)
	job := &Job{ID: "job-1", Status: JobRunning}
	data, _ := json.Marshal(job)
	mock.ExpectGet(jobKey("job-1")).SetVal(string(data))
	mock.Regexp().ExpectSet(`hoot:job:job-1`, `.*`, 0).SetVal("OK")
	mock.ExpectExpire(jobKey("job-1"), jobTTL).SetVal(true)

	called := false
	s.RegisterCancelFunc("job-1", func() { called = true })

	require.NoError(t, s.Cancel(context.Background(), "job-1"))
	assert.True(t, called)
}

func TestDecodeResultIntoTypedView(t *testing.T) {
	type renderResult struct {
		ArtifactID string  `json:"artifact_id"`
		DurationS  float64 `json:"duration_s"`
	}

	job := &Job{ID: "job-1", Status: JobComplete, Result: json.RawMessage(`{"artifact_id":"a1","duration_s":3.5}`)}

	var out renderResult
	require.NoError(t, DecodeResult(job, &out))
	assert.Equal(t, "a1", out.ArtifactID)
	assert.Equal(t, 3.5, out.DurationS)
}

func TestDecodeResultErrorsWhenNoResult(t *testing.T) {
	job := &Job{ID: "job-1", Status: JobRunning}
	var out map[string]interface{}
	assert.Error(t, DecodeResult(job, &out))
}
