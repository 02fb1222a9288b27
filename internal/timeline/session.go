package timeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionMode defines how a capture session operates.
type SessionMode struct {
	Passive bool

	// RequestResponse fields, set only when Passive is false.
	MidiOutStreamURI string
	AudioInStreamURI string
}

// PassiveMode builds a continuous-capture session mode.
func PassiveMode() SessionMode { return SessionMode{Passive: true} }

// RequestResponseMode builds a send-MIDI/capture-response session mode.
func RequestResponseMode(midiOut, audioIn string) SessionMode {
	return SessionMode{MidiOutStreamURI: midiOut, AudioInStreamURI: audioIn}
}

// SessionStatus is the lifecycle state of a CaptureSession.
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionStopped   SessionStatus = "stopped"
)

// Checkpoint marks why a ClockSnapshot was taken.
type Checkpoint struct {
	Kind  CheckpointKind
	Named uint32 // valid only when Kind == CheckpointNamed
}

type CheckpointKind string

const (
	CheckpointStart CheckpointKind = "start"
	CheckpointEnd   CheckpointKind = "end"
	CheckpointNamed CheckpointKind = "named"
)

func StartCheckpoint() Checkpoint { return Checkpoint{Kind: CheckpointStart} }
func EndCheckpoint() Checkpoint   { return Checkpoint{Kind: CheckpointEnd} }
func NamedCheckpoint(n uint32) Checkpoint {
	return Checkpoint{Kind: CheckpointNamed, Named: n}
}

// ClockSnapshot correlates wall-clock, audio, and MIDI clock sources at one
// instant, for timeline correlation.
type ClockSnapshot struct {
	Checkpoint          Checkpoint
	WallClock           time.Time
	AudioSamplePosition *uint64
	MidiClockTicks      *uint64
}

// NowSnapshot takes a ClockSnapshot at the current wall-clock time.
func NowSnapshot(checkpoint Checkpoint) ClockSnapshot {
	return ClockSnapshot{Checkpoint: checkpoint, WallClock: time.Now()}
}

func (c ClockSnapshot) WithAudioPosition(pos uint64) ClockSnapshot {
	c.AudioSamplePosition = &pos
	return c
}

func (c ClockSnapshot) WithMidiTicks(ticks uint64) ClockSnapshot {
	c.MidiClockTicks = &ticks
	return c
}

// SessionTimeline tracks every clock source snapshot taken across a
// session's lifetime.
type SessionTimeline struct {
	StartedAt      time.Time
	ClockSnapshots []ClockSnapshot
}

// NewSessionTimeline starts a timeline with its initial Start snapshot.
func NewSessionTimeline() *SessionTimeline {
	return &SessionTimeline{
		StartedAt:      time.Now(),
		ClockSnapshots: []ClockSnapshot{NowSnapshot(StartCheckpoint())},
	}
}

func (t *SessionTimeline) AddSnapshot(s ClockSnapshot) {
	t.ClockSnapshots = append(t.ClockSnapshots, s)
}

func (t *SessionTimeline) End() {
	t.ClockSnapshots = append(t.ClockSnapshots, NowSnapshot(EndCheckpoint()))
}

// SessionSegment is a contiguous recording period within a session.
type SessionSegment struct {
	ID         string
	StartedAt  ClockSnapshot
	EndedAt    *ClockSnapshot
	ChunkStart int
	ChunkEnd   int
}

func newSessionSegment(id string, startedAt ClockSnapshot) SessionSegment {
	return SessionSegment{ID: id, StartedAt: startedAt}
}

func (s *SessionSegment) end(endedAt ClockSnapshot) { s.EndedAt = &endedAt }

// IsActive reports whether the segment has not yet ended.
func (s SessionSegment) IsActive() bool { return s.EndedAt == nil }

// segmentIDFor mirrors SegmentId::for_session's naming convention.
func segmentIDFor(sessionID string, index int) string {
	return fmt.Sprintf("%s-seg-%d", sessionID, index)
}

// GenerateSessionID mirrors SessionId::generate()'s timestamp+uuid scheme.
func GenerateSessionID() string {
	return fmt.Sprintf("session-%d-%s", time.Now().UnixMilli(), uuid.New().String())
}

// Session groups multiple streams with timing information and segments.
type Session struct {
	ID       string
	Mode     SessionMode
	Streams  []string
	Segments []SessionSegment
	Timeline *SessionTimeline
	Status   SessionStatus
}

// NewSession creates a new recording session.
func NewSession(id string, mode SessionMode, streams []string) *Session {
	return &Session{
		ID:       id,
		Mode:     mode,
		Streams:  streams,
		Timeline: NewSessionTimeline(),
		Status:   SessionRecording,
	}
}

// StartSegment appends a new segment with a Start clock snapshot —
// "Starting a segment during an active session appends a new segment with
// a Start clock snapshot."
func (s *Session) StartSegment() {
	id := segmentIDFor(s.ID, len(s.Segments))
	s.Segments = append(s.Segments, newSessionSegment(id, NowSnapshot(StartCheckpoint())))
}

// EndCurrentSegment sets the active segment's End snapshot, if any.
func (s *Session) EndCurrentSegment() {
	if len(s.Segments) == 0 {
		return
	}
	last := &s.Segments[len(s.Segments)-1]
	if last.IsActive() {
		last.end(NowSnapshot(EndCheckpoint()))
	}
}

// Stop ends the current segment, records an End snapshot on the timeline,
// and transitions status to stopped. After Stop, no further segments may be
// added (enforced by StartSegment's callers checking IsStopped).
func (s *Session) Stop() {
	s.EndCurrentSegment()
	s.Timeline.End()
	s.Status = SessionStopped
}

// CurrentSegment returns the active segment, if any.
func (s *Session) CurrentSegment() *SessionSegment {
	if len(s.Segments) == 0 {
		return nil
	}
	last := &s.Segments[len(s.Segments)-1]
	if !last.IsActive() {
		return nil
	}
	return last
}

func (s *Session) IsRecording() bool { return s.Status == SessionRecording }
func (s *Session) IsStopped() bool   { return s.Status == SessionStopped }
