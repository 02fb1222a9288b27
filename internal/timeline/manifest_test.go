package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

func TestNewManifest(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	assert.Equal(t, "stream://test/audio", m.StreamURI)
	assert.Equal(t, 0, m.ChunkCount())
	assert.Equal(t, uint64(0), m.TotalBytes)
	assert.Nil(t, m.TotalSamples)
}

func TestAddSealedChunk(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewSealedChunk("hash-2", 1024, u64(256)))

	assert.Equal(t, 1, m.ChunkCount())
	assert.Equal(t, uint64(1024), m.TotalBytes)
	require.NotNil(t, m.TotalSamples)
	assert.Equal(t, uint64(256), *m.TotalSamples)
}

func TestAddStagingChunk(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewStagingChunk("staging-1", 512, u64(128)))

	assert.Equal(t, 1, m.ChunkCount())
	assert.Equal(t, uint64(512), m.TotalBytes)
	assert.Equal(t, uint64(128), *m.TotalSamples)
}

func TestSealLastChunkPreservesTotals(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewStagingChunk("staging-1", 512, u64(128)))

	require.NoError(t, m.SealLastChunk("hash-99"))
	assert.Equal(t, 1, m.ChunkCount())
	assert.True(t, m.Chunks[0].IsSealed())
	assert.Equal(t, "hash-99", m.Chunks[0].Hash)
	assert.Equal(t, uint64(512), m.Chunks[0].ByteCount)
	assert.Equal(t, uint64(512), m.TotalBytes)
}

func TestSealAlreadySealedChunkFails(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewSealedChunk("hash-2", 1024, u64(256)))
	require.Error(t, m.SealLastChunk("hash-99"))
}

func TestMultipleChunksAccumulate(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewSealedChunk("hash-2", 1024, u64(256)))
	m.AddChunk(NewSealedChunk("hash-3", 2048, u64(512)))

	assert.Equal(t, 2, m.ChunkCount())
	assert.Equal(t, uint64(3072), m.TotalBytes)
	assert.Equal(t, uint64(768), *m.TotalSamples)
}

func TestUpdateLastChunkRejectsSealed(t *testing.T) {
	m := NewManifest("stream://test/audio", "hash-def")
	m.AddChunk(NewSealedChunk("hash-2", 1024, u64(256)))
	require.Error(t, m.UpdateLastChunk(2048, u64(512)))
}
