package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/hootenanny/internal/store"
)

// ExternalRenderer calls out to an HTTP render service for tools whose work
// doesn't run in-process (the spec's "external renderer" boundary — the
// concrete synth/DSP engine behind a render job is explicitly out of
// scope, so this is the seam a real deployment plugs one into).
type ExternalRenderer struct {
	client  *resty.Client
	baseURL string
}

func NewExternalRenderer(baseURL string, timeout time.Duration) *ExternalRenderer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &ExternalRenderer{client: client, baseURL: baseURL}
}

// Render posts a job's tool-specific request payload to "/render/<tool>"
// and returns the raw JSON response body as the job's result.
func (r *ExternalRenderer) Render(ctx context.Context, tool string, payload json.RawMessage) (json.RawMessage, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetHeader("Content-Type", "application/json").
		Post(fmt.Sprintf("/render/%s", tool))
	if err != nil {
		return nil, fmt.Errorf("calling external renderer for %s: %w", tool, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("external renderer for %s returned %s: %s", tool, resp.Status(), resp.String())
	}
	return json.RawMessage(resp.Body()), nil
}

// AsRenderFunc adapts Render into a RenderFunc bound to one tool name,
// forwarding the job's captured Request payload as the outbound body.
func (r *ExternalRenderer) AsRenderFunc(tool string) RenderFunc {
	return func(ctx context.Context, job *store.Job) (json.RawMessage, error) {
		return r.Render(ctx, tool, job.Request)
	}
}
