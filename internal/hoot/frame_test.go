package hoot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFramesFromFramesRoundTrip(t *testing.T) {
	req := NewRequest("garden", ContentTypeJSON, []byte(`{"op":"play"}`))
	req.Identity = [][]byte{[]byte("client-1")}

	segments := req.ToFrames()
	decoded, err := FromFrames(segments)
	require.NoError(t, err)

	assert.Equal(t, req.Identity, decoded.Identity)
	assert.Equal(t, req.Command, decoded.Command)
	assert.Equal(t, req.ContentType, decoded.ContentType)
	assert.Equal(t, req.RequestID, decoded.RequestID)
	assert.Equal(t, req.Service, decoded.Service)
	assert.Equal(t, req.Body, decoded.Body)
}

func TestFromFramesWithTraceparent(t *testing.T) {
	req := NewRequest("garden", ContentTypeEmpty, nil)
	req.Traceparent = "00-trace-01"
	decoded, err := FromFrames(req.ToFrames())
	require.NoError(t, err)
	assert.Equal(t, "00-trace-01", decoded.Traceparent)
}

func TestFromFramesMissingVersionMarkerFails(t *testing.T) {
	_, err := FromFrames([][]byte{[]byte("not-hoot"), []byte("garbage")})
	require.Error(t, err)
}

func TestReplyPreservesRequestIDAndIdentity(t *testing.T) {
	req := NewRequest("garden", ContentTypeJSON, []byte(`{}`))
	req.Identity = [][]byte{[]byte("id-a"), []byte("id-b")}

	reply := req.Reply(ContentTypeJSON, []byte(`{"ok":true}`))
	assert.Equal(t, req.RequestID, reply.RequestID)
	assert.Equal(t, req.Identity, reply.Identity)
	assert.Equal(t, CommandReply, reply.Command)
}

func TestWriteToReadFromRoundTrip(t *testing.T) {
	req := NewRequest("garden", ContentTypeMsgPack, []byte{0x01, 0x02, 0x03})
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, req))

	decoded, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, decoded.RequestID)
	assert.Equal(t, req.Body, decoded.Body)
}

func TestMsgPackEncodeDecodeRoundTrip(t *testing.T) {
	type payload struct {
		Tempo int    `codec:"tempo"`
		Name  string `codec:"name"`
	}
	body, err := EncodeMsgPack(payload{Tempo: 120, Name: "allegro"})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, DecodeMsgPack(body, &decoded))
	assert.Equal(t, 120, decoded.Tempo)
	assert.Equal(t, "allegro", decoded.Name)
}
