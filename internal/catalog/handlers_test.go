package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/internal/cas"
	"github.com/rapidaai/hootenanny/internal/hoot"
	"github.com/rapidaai/hootenanny/internal/store"
)

type memArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]store.Artifact
	variation map[string]int
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{artifacts: make(map[string]store.Artifact), variation: make(map[string]int)}
}

func (m *memArtifactStore) Create(ctx context.Context, a *store.Artifact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.ID] = *a
	return a.ID, nil
}

func (m *memArtifactStore) Get(ctx context.Context, id string) (*store.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, assert.AnError
	}
	return &a, nil
}

func (m *memArtifactStore) List(ctx context.Context, filter store.ArtifactFilter) ([]store.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Artifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, a)
	}
	return out, nil
}

func (m *memArtifactStore) AddTag(ctx context.Context, id, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return assert.AnError
	}
	a.Tags = a.Tags + "," + tag
	m.artifacts[id] = a
	return nil
}

func (m *memArtifactStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[id]; !ok {
		return assert.AnError
	}
	delete(m.artifacts, id)
	return nil
}

func (m *memArtifactStore) NextVariationIndex(ctx context.Context, setID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix := m.variation[setID]
	m.variation[setID] = ix + 1
	return ix, nil
}

type memJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*store.Job
	created []string
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*store.Job)}
}

func (m *memJobStore) Create(ctx context.Context, tool string, request json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := tool + "-job"
	m.jobs[id] = &store.Job{ID: id, Tool: tool, Request: request, Status: store.JobPending}
	m.created = append(m.created, id)
	return id, nil
}

func (m *memJobStore) MarkRunning(ctx context.Context, id string) error { return nil }
func (m *memJobStore) MarkComplete(ctx context.Context, id string, result json.RawMessage) error {
	return nil
}
func (m *memJobStore) MarkFailed(ctx context.Context, id string, errPayload json.RawMessage) error {
	return nil
}
func (m *memJobStore) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return assert.AnError
	}
	j.Status = store.JobCancelled
	return nil
}

func (m *memJobStore) Get(ctx context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *j
	return &cp, nil
}

func (m *memJobStore) List(ctx context.Context, status store.JobStatus) ([]store.Job, error) {
	return nil, nil
}

func (m *memJobStore) Wait(ctx context.Context, id string, timeout time.Duration) (*store.Job, error) {
	return m.Get(ctx, id)
}

func (m *memJobStore) Poll(ctx context.Context, ids []string, timeout time.Duration, mode store.PollMode) (store.PollResult, error) {
	return store.PollResult{}, nil
}

func (m *memJobStore) RegisterCancelFunc(id string, cancel context.CancelFunc) {}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
}

func (f *fakeSubmitter) Submit(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, jobID)
}

func newTestCatalog(t *testing.T) (*Catalog, *memArtifactStore, *memJobStore, *fakeSubmitter) {
	t.Helper()
	blobs, err := cas.New(t.TempDir())
	require.NoError(t, err)
	artifacts := newMemArtifactStore()
	jobs := newMemJobStore()
	submitter := &fakeSubmitter{}
	return New(blobs, artifacts, jobs, submitter), artifacts, jobs, submitter
}

func requestFrame(t *testing.T, v interface{}) hoot.Frame {
	t.Helper()
	body, err := hoot.EncodeJSON(v)
	require.NoError(t, err)
	return hoot.NewRequest("test", hoot.ContentTypeJSON, body)
}

func TestCASWriteThenInspectRoundTrip(t *testing.T) {
	c, _, _, _ := newTestCatalog(t)

	writeEnv := c.handleCASWrite(context.Background(), requestFrame(t, casWriteRequest{
		Data:     []byte("hello"),
		MimeType: "text/plain",
	}))
	var written map[string]string
	require.NoError(t, json.Unmarshal(writeEnv.Response, &written))
	require.NotEmpty(t, written["hash"])

	inspectEnv := c.handleCASInspect(context.Background(), requestFrame(t, casHashRequest{Hash: written["hash"]}))
	require.Nil(t, inspectEnv.Error)
}

func TestArtifactCreateAssignsVariationIndex(t *testing.T) {
	c, artifacts, _, _ := newTestCatalog(t)

	first := c.handleArtifactCreate(context.Background(), requestFrame(t, artifactCreateRequest{
		Hash: "deadbeef", Kind: "midi", VariationOf: "set-1",
	}))
	second := c.handleArtifactCreate(context.Background(), requestFrame(t, artifactCreateRequest{
		Hash: "deadbeef", Kind: "midi", VariationOf: "set-1",
	}))
	require.Nil(t, first.Error)
	require.Nil(t, second.Error)

	var firstID, secondID map[string]string
	require.NoError(t, json.Unmarshal(first.Response, &firstID))
	require.NoError(t, json.Unmarshal(second.Response, &secondID))
	assert.NotEqual(t, firstID["id"], secondID["id"])
	assert.Equal(t, 0, artifacts.artifacts[firstID["id"]].VariationIx)
	assert.Equal(t, 1, artifacts.artifacts[secondID["id"]].VariationIx)
}

func TestJobSubmitCreatesAndSubmitsJob(t *testing.T) {
	c, _, jobs, submitter := newTestCatalog(t)

	env := c.handleJobSubmit(context.Background(), requestFrame(t, jobSubmitRequest{
		Tool:    "render.region",
		Request: json.RawMessage(`{"beat":0}`),
	}))
	require.Nil(t, env.Error)
	require.Len(t, jobs.created, 1)
	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, jobs.created[0], submitter.submitted[0])
}

func TestArtifactGetUnknownIDReturnsError(t *testing.T) {
	c, _, _, _ := newTestCatalog(t)
	env := c.handleArtifactGet(context.Background(), requestFrame(t, artifactIDRequest{ID: "nonexistent"}))
	require.NotNil(t, env.Error)
}
