// Package timeline implements the garden's editable timeline (regions),
// session/segment lifecycle, and stream manifests.
package timeline

import (
	"fmt"
	"time"
)

// ChunkReference is either a sealed (CAS-backed, immutable) or staging
// (still being written) chunk in a StreamManifest.
type ChunkReference struct {
	Sealed bool

	// Sealed fields
	Hash         string
	ByteCount    uint64
	SampleCount  *uint64

	// Staging fields
	StagingID       string
	BytesWritten    uint64
	SamplesWritten  *uint64
}

func (c ChunkReference) byteCount() uint64 {
	if c.Sealed {
		return c.ByteCount
	}
	return c.BytesWritten
}

func (c ChunkReference) sampleCount() *uint64 {
	if c.Sealed {
		return c.SampleCount
	}
	return c.SamplesWritten
}

// IsSealed reports whether the chunk is immutable CAS content.
func (c ChunkReference) IsSealed() bool { return c.Sealed }

// NewStagingChunk constructs a staging chunk reference.
func NewStagingChunk(stagingID string, bytesWritten uint64, samplesWritten *uint64) ChunkReference {
	return ChunkReference{StagingID: stagingID, BytesWritten: bytesWritten, SamplesWritten: samplesWritten}
}

// NewSealedChunk constructs a sealed chunk reference.
func NewSealedChunk(hash string, byteCount uint64, sampleCount *uint64) ChunkReference {
	return ChunkReference{Sealed: true, Hash: hash, ByteCount: byteCount, SampleCount: sampleCount}
}

// Manifest tracks all chunks and metadata for an active or completed
// stream, grounded directly on StreamManifest.
type Manifest struct {
	StreamURI      string
	DefinitionHash string
	Chunks         []ChunkReference
	TotalBytes     uint64
	TotalSamples   *uint64
	StartedAt      time.Time
	LastUpdated    time.Time
}

// NewManifest creates an empty manifest for a stream.
func NewManifest(streamURI, definitionHash string) *Manifest {
	now := time.Now()
	return &Manifest{
		StreamURI:      streamURI,
		DefinitionHash: definitionHash,
		StartedAt:      now,
		LastUpdated:    now,
	}
}

// AddChunk appends a chunk reference and updates running totals.
func (m *Manifest) AddChunk(chunk ChunkReference) {
	m.TotalBytes += chunk.byteCount()
	if samples := chunk.sampleCount(); samples != nil {
		addSamples(&m.TotalSamples, *samples)
	}
	m.Chunks = append(m.Chunks, chunk)
	m.LastUpdated = time.Now()
}

// UpdateLastChunk updates the in-progress last chunk's staging progress.
func (m *Manifest) UpdateLastChunk(bytesWritten uint64, samplesWritten *uint64) error {
	if len(m.Chunks) == 0 {
		return fmt.Errorf("no chunks in manifest")
	}
	last := &m.Chunks[len(m.Chunks)-1]
	if last.Sealed {
		return fmt.Errorf("cannot update sealed chunk")
	}

	byteDelta := bytesWritten - last.BytesWritten
	if bytesWritten < last.BytesWritten {
		byteDelta = 0
	}
	last.BytesWritten = bytesWritten
	last.SamplesWritten = samplesWritten

	m.TotalBytes += byteDelta
	if samplesWritten != nil {
		addSamples(&m.TotalSamples, *samplesWritten)
	}
	m.LastUpdated = time.Now()
	return nil
}

// SealLastChunk converts the last staging chunk into a sealed one,
// preserving totals — sealing is not a net-new append.
func (m *Manifest) SealLastChunk(hash string) error {
	if len(m.Chunks) == 0 {
		return fmt.Errorf("no chunks to seal")
	}
	last := m.Chunks[len(m.Chunks)-1]
	if last.Sealed {
		return fmt.Errorf("last chunk is already sealed")
	}
	m.Chunks[len(m.Chunks)-1] = NewSealedChunk(hash, last.BytesWritten, last.SamplesWritten)
	m.LastUpdated = time.Now()
	return nil
}

// DurationSamples returns the total sample count, if known.
func (m *Manifest) DurationSamples() *uint64 { return m.TotalSamples }

// ChunkCount returns the number of chunks in the manifest.
func (m *Manifest) ChunkCount() int { return len(m.Chunks) }

func addSamples(total **uint64, add uint64) {
	if *total == nil {
		v := add
		*total = &v
		return
	}
	v := **total + add
	*total = &v
}
