// Package codec defines the uniform wrapper contract of §4.6: every
// concrete codec (mp3, aac, m4a, wav) is fed one compressed frame at a
// time and drained one decoded PCM frame at a time, regardless of
// which third-party library backs it.
package codec

import "errors"

// Status is the outcome of one Decode call, mirroring the C contract's
// {0, TIMEOUT, DONE, FAIL, PROCESS_FAIL} return set.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusDone
	StatusFail
	StatusProcessFail
)

// ErrNeedMoreInput signals Feed must be called again before Decode can
// produce a frame (the staged frame was incomplete).
var ErrNeedMoreInput = errors.New("codec: need more input")

// Wrapper is the interface every concrete codec backend implements.
// The decoder element owns buf_in (one compressed frame, 1536-1940
// bytes) and buf_out (one decoded PCM frame); Feed/Decode operate on
// caller-supplied slices so the element controls buffer lifetime.
type Wrapper interface {
	// Open primes the decoder with any out-of-band config (e.g. an
	// M4A/AAC Audio Specific Config); codecs with no such config
	// (mp3, wav) accept nil.
	Open(config []byte) error

	// Feed stages one compressed frame for decoding.
	Feed(frame []byte) error

	// Decode writes one decoded PCM frame (16-bit LE interleaved)
	// into out and returns the byte count written.
	Decode(out []byte) (int, Status, error)

	// SampleRate, Channels, Bits report the format discovered from
	// the first successfully decoded frame.
	SampleRate() int
	Channels() int
	Bits() int

	Close() error
}
