// Package catalog binds the CAS, Artifact store, and Job store (§4.A/§4.B)
// onto the broker's Shell/Query tool surface, the way internal/garden binds
// the scheduler engine: each tool decodes its request, calls straight into
// the underlying store, and wraps the result in a response envelope.
package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/cas"
	"github.com/rapidaai/hootenanny/internal/envelope"
	"github.com/rapidaai/hootenanny/internal/hoot"
	"github.com/rapidaai/hootenanny/internal/store"
)

// Submitter enqueues a created job for the worker pool to process —
// satisfied by *worker.Pool, kept as an interface so catalog doesn't need
// to import the pool package just for this one call.
type Submitter interface {
	Submit(jobID string)
}

// Catalog composes the blob store with the artifact and job catalogues it
// backs, and registers the tool handlers that front them.
type Catalog struct {
	blobs     *cas.Store
	artifacts store.ArtifactStore
	jobs      store.JobStore
	workers   Submitter
}

// New wires a CAS store with its artifact and job catalogues. workers
// receives newly submitted jobs; it may be nil if this catalog only ever
// answers read-only queries.
func New(blobs *cas.Store, artifacts store.ArtifactStore, jobs store.JobStore, workers Submitter) *Catalog {
	return &Catalog{blobs: blobs, artifacts: artifacts, jobs: jobs, workers: workers}
}

func jsonEnvelope(v interface{}) envelope.Envelope {
	body, err := hoot.EncodeJSON(v)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.NewInternalWithDetails("encoding response failed", err.Error()))
	}
	return envelope.Success(body)
}

func decodeOrValidationError(body []byte, v interface{}) *envelope.ToolError {
	if err := hoot.DecodeJSON(body, v); err != nil {
		return envelope.NewValidation("malformed_request", err.Error())
	}
	return nil
}

// RegisterTools binds every cas/artifact/job tool this catalog answers onto
// a broker.Server-shaped registrar.
func (c *Catalog) RegisterTools(register func(service string, handler broker.ToolHandler)) {
	register("cas.write", c.handleCASWrite)
	register("cas.inspect", c.handleCASInspect)
	register("artifact.create", c.handleArtifactCreate)
	register("artifact.get", c.handleArtifactGet)
	register("artifact.list", c.handleArtifactList)
	register("artifact.add_tag", c.handleArtifactAddTag)
	register("artifact.delete", c.handleArtifactDelete)
	register("job.submit", c.handleJobSubmit)
	register("job.get", c.handleJobGet)
	register("job.list", c.handleJobList)
	register("job.cancel", c.handleJobCancel)
	register("job.wait", c.handleJobWait)
	register("job.poll", c.handleJobPoll)
}

type casWriteRequest struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

func (c *Catalog) handleCASWrite(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req casWriteRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	hash, err := c.blobs.Write(req.Data, req.MimeType)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(map[string]string{"hash": hash})
}

type casHashRequest struct {
	Hash string `json:"hash"`
}

func (c *Catalog) handleCASInspect(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req casHashRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	ref, ok, err := c.blobs.Inspect(req.Hash)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.NewValidation("invalid_hash", err.Error()))
	}
	if !ok {
		return envelope.ErrorEnvelope(envelope.NewNotFound("cas_object", req.Hash))
	}
	return jsonEnvelope(ref)
}

type artifactCreateRequest struct {
	Hash        string `json:"hash"`
	Kind        string `json:"kind"`
	Creator     string `json:"creator"`
	ParentID    string `json:"parent_id"`
	VariationOf string `json:"variation_of"`
	Tags        string `json:"tags"`
}

func (c *Catalog) handleArtifactCreate(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactCreateRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	artifact := &store.Artifact{
		ID:          "artifact-" + uuid.New().String(),
		Hash:        req.Hash,
		Kind:        req.Kind,
		Creator:     req.Creator,
		ParentID:    req.ParentID,
		VariationOf: req.VariationOf,
		Tags:        req.Tags,
	}
	if req.VariationOf != "" {
		ix, err := c.artifacts.NextVariationIndex(ctx, req.VariationOf)
		if err != nil {
			return envelope.ErrorEnvelope(envelope.FromErr(err))
		}
		artifact.VariationIx = ix
	}
	id, err := c.artifacts.Create(ctx, artifact)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(map[string]string{"id": id})
}

type artifactIDRequest struct {
	ID string `json:"id"`
}

func (c *Catalog) handleArtifactGet(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactIDRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	artifact, err := c.artifacts.Get(ctx, req.ID)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.NewNotFound("artifact", req.ID))
	}
	return jsonEnvelope(artifact)
}

type artifactListRequest struct {
	Tag           string `json:"tag"`
	Creator       string `json:"creator"`
	WithinMinutes int    `json:"within_minutes"`
}

func (c *Catalog) handleArtifactList(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactListRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	artifacts, err := c.artifacts.List(ctx, store.ArtifactFilter{
		Tag:           req.Tag,
		Creator:       req.Creator,
		WithinMinutes: req.WithinMinutes,
	})
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(artifacts)
}

type artifactAddTagRequest struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

func (c *Catalog) handleArtifactAddTag(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactAddTagRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	if err := c.artifacts.AddTag(ctx, req.ID, req.Tag); err != nil {
		return envelope.ErrorEnvelope(envelope.NewNotFound("artifact", req.ID))
	}
	return envelope.Ack("tag added")
}

func (c *Catalog) handleArtifactDelete(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactIDRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	if err := c.artifacts.Delete(ctx, req.ID); err != nil {
		return envelope.ErrorEnvelope(envelope.NewNotFound("artifact", req.ID))
	}
	return envelope.Ack("artifact deleted")
}

type jobSubmitRequest struct {
	Tool    string          `json:"tool"`
	Request json.RawMessage `json:"request"`
}

func (c *Catalog) handleJobSubmit(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req jobSubmitRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	id, err := c.jobs.Create(ctx, req.Tool, req.Request)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	if c.workers != nil {
		c.workers.Submit(id)
	}
	return envelope.JobStarted(id, req.Tool, envelope.TimingAsyncMedium)
}

func (c *Catalog) handleJobGet(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactIDRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	job, err := c.jobs.Get(ctx, req.ID)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.NewNotFound("job", req.ID))
	}
	return jsonEnvelope(job)
}

type jobListRequest struct {
	Status string `json:"status"`
}

func (c *Catalog) handleJobList(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req jobListRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	jobs, err := c.jobs.List(ctx, store.JobStatus(req.Status))
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(jobs)
}

func (c *Catalog) handleJobCancel(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req artifactIDRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	if err := c.jobs.Cancel(ctx, req.ID); err != nil {
		return envelope.ErrorEnvelope(envelope.NewNotFound("job", req.ID))
	}
	return envelope.Ack("job cancelled")
}

type jobWaitRequest struct {
	ID        string `json:"id"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (c *Catalog) handleJobWait(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req jobWaitRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	job, err := c.jobs.Wait(ctx, req.ID, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(job)
}

type jobPollRequest struct {
	IDs       []string `json:"ids"`
	TimeoutMS int      `json:"timeout_ms"`
	Mode      string   `json:"mode"`
}

func (c *Catalog) handleJobPoll(ctx context.Context, frame hoot.Frame) envelope.Envelope {
	var req jobPollRequest
	if toolErr := decodeOrValidationError(frame.Body, &req); toolErr != nil {
		return envelope.ErrorEnvelope(toolErr)
	}
	result, err := c.jobs.Poll(ctx, req.IDs, time.Duration(req.TimeoutMS)*time.Millisecond, store.PollMode(req.Mode))
	if err != nil {
		return envelope.ErrorEnvelope(envelope.FromErr(err))
	}
	return jsonEnvelope(result)
}
