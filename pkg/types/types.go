// Package types holds the records and enumerations shared across the
// playback engine: element/pipeline states, the lifecycle events an
// element emits, and the per-resource codec info record (sample format,
// byte accounting, seek tables).
package types

import (
	"errors"
	"time"
)

// Common ringbuffer/element errors, usable with errors.Is.
var (
	ErrAborted  = errors.New("ringbuffer aborted")
	ErrDone     = errors.New("ringbuffer done")
	ErrTimeout  = errors.New("timed out")
	ErrNotOpen  = errors.New("element not open")
	ErrBadState = errors.New("invalid state for requested operation")
)

// Codec identifies the container/elementary-stream format of a resource.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecMP3
	CodecAAC // raw ADTS elementary stream
	CodecM4A // AAC-in-MP4
	CodecWAV
)

func (c Codec) String() string {
	switch c {
	case CodecMP3:
		return "mp3"
	case CodecAAC:
		return "aac"
	case CodecM4A:
		return "m4a"
	case CodecWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// SourceType classifies how a URL was routed, per the prefix rules in §6.
type SourceType int

const (
	SourceFile SourceType = iota
	SourceHTTP
	SourceStream
)

func (s SourceType) String() string {
	switch s {
	case SourceHTTP:
		return "http"
	case SourceStream:
		return "stream"
	default:
		return "file"
	}
}

// TimeToSampleRun is one run-length entry of the MP4 stts box.
type TimeToSampleRun struct {
	SampleCount    uint32
	SampleDuration uint32
}

// SampleToChunkRun is one run-length entry of the MP4 stsc box.
type SampleToChunkRun struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// M4AInfo carries the MP4 sample tables needed for byte-exact decode
// consumption and seeking, per the STSZ/STTS/STSC/STCO invariants.
type M4AInfo struct {
	TimeScale uint32
	ASC       []byte // Audio Specific Config, <=15 bytes, from esds

	SampleSize    []uint16 // stsz: per-sample size, entries <= 0xFFFF
	TimeToSample  []TimeToSampleRun
	SampleToChunk []SampleToChunkRun
	ChunkOffset   []uint64 // stco: file offset of each chunk
}

// CodecInfo is the per-resource record produced by the media parser.
type CodecInfo struct {
	Codec       Codec
	SampleRate  int
	Channels    int
	Bits        int
	ContentPos  int64 // byte offset where compressed audio data begins
	ContentLen  int64 // total resource size, 0 if unknown
	BytesPerSec int
	DurationMs  int
	Seekable    bool
	M4A         *M4AInfo // non-nil only for CodecM4A
}

// ElementState is the lifecycle state of an audio element, per §4.2.
type ElementState int

const (
	ElementStateNone ElementState = iota
	ElementStateInit
	ElementStateRunning
	ElementStatePaused
	ElementStateStopped
	ElementStateFinished
	ElementStateError
)

func (s ElementState) String() string {
	switch s {
	case ElementStateInit:
		return "init"
	case ElementStateRunning:
		return "running"
	case ElementStatePaused:
		return "paused"
	case ElementStateStopped:
		return "stopped"
	case ElementStateFinished:
		return "finished"
	case ElementStateError:
		return "error"
	default:
		return "none"
	}
}

// EventType enumerates the lifecycle/status events an element or media
// source can emit, forwarded by the pipeline to the player.
type EventType int

const (
	EventStateRunning EventType = iota
	EventStatePaused
	EventStateStopped
	EventStateFinished
	EventError
	EventReportMusicInfo
	EventReportPosition
	EventReadFailed
	EventReadDone
	EventReachThreshold
)

// ErrorCode is the element-level error taxonomy of §7.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorOpen
	ErrorInput
	ErrorProcess
	ErrorOutput
	ErrorTimeout
	ErrorUnknown
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorOpen:
		return "open"
	case ErrorInput:
		return "input"
	case ErrorProcess:
		return "process"
	case ErrorOutput:
		return "output"
	case ErrorTimeout:
		return "timeout"
	case ErrorUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// ElementError wraps an ErrorCode so callers can use errors.Is/As while
// still rendering a human message.
type ElementError struct {
	Code ErrorCode
	Tag  string
	Err  error
}

func (e *ElementError) Error() string {
	if e.Err != nil {
		return e.Tag + ": " + e.Code.String() + ": " + e.Err.Error()
	}
	return e.Tag + ": " + e.Code.String()
}

func (e *ElementError) Unwrap() error { return e.Err }

// MusicInfo is published with EventReportMusicInfo once the decoder has
// produced its first frame.
type MusicInfo struct {
	SampleRate int
	Channels   int
	Bits       int
}

// Event is what an element/stage publishes through its listener.
type Event struct {
	Type      EventType
	Source    string // element tag that raised the event
	ErrorCode ErrorCode
	Err       error

	MusicInfo  *MusicInfo
	PositionMs int
	BytePos    int64
}

// EventListener receives events emitted by elements/pipeline/media source.
// Implementations must not block for long; the engine never re-enters
// under a lock while invoking one (see concurrency notes in DESIGN.md).
type EventListener func(Event)

// PlaybackPosition is a convenience snapshot used by player.GetPosition.
type PlaybackPosition struct {
	PositionMs int
	DurationMs int
	Timestamp  time.Time
}
