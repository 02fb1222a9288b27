// Package monitor bridges the garden's playback ring buffer to a WebRTC
// Opus track, so a browser can listen to the mixed output without a
// hardware sound card. It is the local stand-in for the "external
// renderer" boundary the spec keeps out of scope: render still happens
// elsewhere, this just lets a human hear what the scheduler produced.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	resampler "github.com/tphakala/go-audio-resampler"
	"gopkg.in/hraban/opus.v2"

	"github.com/rapidaai/hootenanny/internal/ring"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusPayloadType = 111
	frameDuration   = 20 * time.Millisecond
	frameSamples    = opusSampleRate / 50 // 960 samples per 20ms at 48kHz
	maxEncodedBytes = 4000
)

// Bridge owns one shared WebRTC track fed from the ring buffer, and mints a
// new PeerConnection per monitor subscriber that all read the same track —
// mirrors the teacher's one-track-per-session shape, generalized to
// fan-out since a garden may have several dashboards listening at once.
type Bridge struct {
	logger   commons.Logger
	ringBuf  *ring.Buffer
	sourceHz int

	track *webrtc.TrackLocalStaticSample
	api   *webrtc.API

	encoder *opus.Encoder
	resamp  *resampler.Resampler

	mu    sync.Mutex
	conns map[*webrtc.PeerConnection]struct{}
}

// NewBridge builds the shared track, Opus encoder, and pion API instance.
// sourceSampleRateHz is the garden's configured sample rate (GardenConfig);
// a resampler is only constructed when it differs from the Opus-mandated
// 48kHz.
func NewBridge(logger commons.Logger, ringBuf *ring.Buffer, sourceSampleRateHz int) (*Bridge, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	}, "audio", "hootenanny-monitor")
	if err != nil {
		return nil, fmt.Errorf("creating monitor track: %w", err)
	}

	encoder, err := opus.NewEncoder(opusSampleRate, opusChannels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannels,
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("registering opus codec: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}

	b := &Bridge{
		logger:   logger,
		ringBuf:  ringBuf,
		sourceHz: sourceSampleRateHz,
		track:    track,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry)),
		encoder:  encoder,
		conns:    make(map[*webrtc.PeerConnection]struct{}),
	}

	if sourceSampleRateHz != opusSampleRate {
		rs, err := resampler.NewResampler(sourceSampleRateHz, opusSampleRate)
		if err != nil {
			return nil, fmt.Errorf("creating resampler %d->%d: %w", sourceSampleRateHz, opusSampleRate, err)
		}
		b.resamp = rs
	}
	return b, nil
}

// Run drains the ring buffer at 20ms cadence, Opus-encodes each frame, and
// writes it onto the shared track. Exits when ctx is cancelled. An empty
// read (nothing buffered) is skipped rather than encoded, since an empty
// frame carries no information a listener needs; a short read is padded
// with silence to a full frame and encoded.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	sourceFrame := frameSamples
	if b.sourceHz != opusSampleRate {
		sourceFrame = b.sourceHz / 50
	}
	raw := make([]float32, sourceFrame)
	encoded := make([]byte, maxEncodedBytes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := b.ringBuf.Read(raw)
			if n == 0 {
				continue
			}
			frame := raw[:n]

			if b.resamp != nil {
				resampled, err := b.resamp.Resample(frame)
				if err != nil {
					b.logger.Warnw("monitor resample failed", "error", err)
					continue
				}
				frame = resampled
			}
			frame = fitFrame(frame, frameSamples)

			nBytes, err := b.encoder.EncodeFloat32(frame, encoded)
			if err != nil {
				b.logger.Warnw("monitor opus encode failed", "error", err)
				continue
			}
			if err := b.track.WriteSample(media.Sample{Data: encoded[:nBytes], Duration: frameDuration}); err != nil {
				b.logger.Debugw("monitor track write failed", "error", err)
			}
		}
	}
}

// fitFrame pads a short frame with silence or truncates a long one, since
// the Opus encoder requires an exact frameSamples-length input per call.
func fitFrame(frame []float32, want int) []float32 {
	if len(frame) == want {
		return frame
	}
	fitted := make([]float32, want)
	copy(fitted, frame)
	return fitted
}

// NewPeerConnection mints one subscriber connection carrying the shared
// monitor track. Grounded on the teacher's createPeerConnection (MediaEngine
// + interceptor registry setup) but egress-only: no remote track is read.
func (b *Bridge) NewPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := b.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("creating monitor peer connection: %w", err)
	}
	if _, err := pc.AddTrack(b.track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("adding monitor track: %w", err)
	}

	b.mu.Lock()
	b.conns[pc] = struct{}{}
	b.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			b.mu.Lock()
			delete(b.conns, pc)
			b.mu.Unlock()
		}
	})
	return pc, nil
}

// Close tears down every active subscriber connection, used on daemon
// shutdown.
func (b *Bridge) Close() {
	b.mu.Lock()
	conns := make([]*webrtc.PeerConnection, 0, len(b.conns))
	for pc := range b.conns {
		conns = append(conns, pc)
	}
	b.conns = make(map[*webrtc.PeerConnection]struct{})
	b.mu.Unlock()

	for _, pc := range conns {
		pc.Close()
	}
}

// ActiveSubscribers reports the current monitor listener count.
func (b *Bridge) ActiveSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}
