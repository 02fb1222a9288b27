// Package ring implements the lock-free single-producer/single-consumer
// audio ring buffers used between the real-time capture callback and the
// playback callback. No allocation, no locking, and no blocking may occur
// on the write/read hot paths.
package ring

import (
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// Stats are the atomics-only counters exposed by a Buffer. Field names
// mirror chaosgarden's MonitorStats.
type Stats struct {
	Callbacks       uint64
	SamplesCaptured uint64
	Overruns        uint64
	WarmedUp        bool
}

// Buffer is a lock-free SPSC ring of interleaved float32 samples, built on
// code.hybscloud.com/lfq's SPSC queue rather than a hand-rolled atomic-index
// ring, since the pack ships a ready-made lock-free primitive for exactly
// this producer/consumer split.
type Buffer struct {
	q *lfq.SPSC[float32]

	callbacks       atomic.Uint64
	samplesCaptured atomic.Uint64
	overruns        atomic.Uint64
	warmedUp        atomic.Bool
}

// New creates a ring buffer with the given sample capacity, rounded up to
// the next power of two by the underlying queue.
func New(capacity int) *Buffer {
	return &Buffer{q: lfq.NewSPSC[float32](capacity)}
}

// Write enqueues samples from the RT capture callback, returning the number
// actually written. A short write is an overrun (the consumer is behind),
// but overruns are only counted once the buffer has warmed up — the initial
// fill is not a real overrun.
func (b *Buffer) Write(samples []float32) int {
	b.callbacks.Add(1)
	n := 0
	for i := range samples {
		v := samples[i]
		if err := b.q.Enqueue(&v); err != nil {
			if b.warmedUp.Load() {
				b.overruns.Add(1)
			}
			break
		}
		n++
	}
	b.samplesCaptured.Add(uint64(n))
	if len(samples) > 0 && n == len(samples) {
		b.warmedUp.Store(true)
	}
	return n
}

// Read dequeues samples into out from the playback callback, returning the
// number actually read. A short read is an underrun (the producer is
// behind); underruns are not separately counted per spec (only overruns
// are tracked).
func (b *Buffer) Read(out []float32) int {
	n := 0
	for i := range out {
		v, err := b.q.Dequeue()
		if err != nil {
			break
		}
		out[i] = v
		n++
	}
	return n
}

// Stats returns a snapshot of the buffer's atomic counters. Safe to call
// from any goroutine, including concurrently with Write/Read.
func (b *Buffer) Stats() Stats {
	return Stats{
		Callbacks:       b.callbacks.Load(),
		SamplesCaptured: b.samplesCaptured.Load(),
		Overruns:        b.overruns.Load(),
		WarmedUp:        b.warmedUp.Load(),
	}
}
