package envelope

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the ResponseEnvelope tagged union.
type Kind string

const (
	KindSuccess    Kind = "success"
	KindJobStarted Kind = "job_started"
	KindError      Kind = "error"
	KindAck        Kind = "ack"
)

// Timing classifies how long a tool invocation is expected to take, used by
// JobStarted envelopes so clients can pick a sensible poll cadence.
type Timing string

const (
	TimingSync        Timing = "sync"
	TimingAsyncFast   Timing = "async_fast"
	TimingAsyncMedium Timing = "async_medium"
	TimingAsyncSlow   Timing = "async_slow"
)

// Envelope wraps every broker reply. Exactly one field group is populated,
// selected by Kind — mirroring hooteproto's `#[serde(tag = "kind")]` enum.
type Envelope struct {
	Kind Kind `json:"kind"`

	// Success
	Response json.RawMessage `json:"response,omitempty"`

	// JobStarted
	JobID  string `json:"job_id,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Timing Timing `json:"timing,omitempty"`

	// Error
	Error *ToolError `json:"error,omitempty"`

	// Ack
	Message string `json:"message,omitempty"`
}

// Success builds a Success envelope around an arbitrary tool response.
func Success(response json.RawMessage) Envelope {
	return Envelope{Kind: KindSuccess, Response: response}
}

// JobStarted builds a JobStarted envelope.
func JobStarted(jobID, tool string, timing Timing) Envelope {
	return Envelope{Kind: KindJobStarted, JobID: jobID, Tool: tool, Timing: timing}
}

// ErrorEnvelope builds an Error envelope.
func ErrorEnvelope(err *ToolError) Envelope {
	return Envelope{Kind: KindError, Error: err}
}

// Ack builds a fire-and-forget acknowledgement envelope.
func Ack(message string) Envelope {
	return Envelope{Kind: KindAck, Message: message}
}

// ToJSON serializes the envelope, falling back to an internal-error envelope
// if serialization itself fails — mirroring `ResponseEnvelope::to_json`.
func (e Envelope) ToJSON() json.RawMessage {
	body, err := json.Marshal(e)
	if err != nil {
		fallback := ErrorEnvelope(NewInternalWithDetails("serialization failed", err.Error()))
		body, ferr := json.Marshal(fallback)
		if ferr != nil {
			return json.RawMessage(fmt.Sprintf(
				`{"kind":"error","error":{"category":"internal","message":%q}}`, err.Error()))
		}
		return body
	}
	return body
}
