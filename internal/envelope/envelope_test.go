package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolErrorSerializationRoundTrip(t *testing.T) {
	err := NewNotFound("artifact", "artifact_abc123")
	body, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.Contains(t, string(body), "not_found")
	assert.Contains(t, string(body), "artifact_abc123")

	var decoded ToolError
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, err.Category, decoded.Category)
	assert.Equal(t, err.NotFound.ResourceID, decoded.NotFound.ResourceID)
}

func TestEnvelopeSerializationRoundTrip(t *testing.T) {
	env := JobStarted("job_123", "orpheus_generate", TimingAsyncMedium)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), "job_started")
	assert.Contains(t, string(body), "job_123")

	var decoded Envelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, env, decoded)
}

func TestMessageAndCode(t *testing.T) {
	e := NewTimeout("render", 5000)
	assert.Equal(t, "timeout after 5000ms: render", e.Message())
	assert.Equal(t, "timeout", e.Code())
}

func TestToJSONFallsBackOnUnserializableResponse(t *testing.T) {
	env := Success(json.RawMessage(`{not json`))
	out := env.ToJSON()
	assert.Contains(t, string(out), "internal")
}
