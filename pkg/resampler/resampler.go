// Package resampler provides on-the-fly sample-rate conversion for the
// sink stage, for the case a platform sink adapter only supports a
// single fixed output rate (e.g. a hardware I2S sink), per the
// supplemented feature described in SPEC_FULL.md §6 grounded on
// original_source's audio_resampler.c. Wraps github.com/zaf/resample
// (a libsoxr binding), the same library the teacher's `transform`
// command uses for one-shot file conversion, generalized here to a
// persistent streaming converter fed one PCM chunk at a time.
package resampler

import (
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"
)

// Resampler converts interleaved 16-bit PCM from one sample rate to
// another, keeping the underlying soxr converter's state across
// Process calls so a stream can be resampled chunk by chunk rather
// than all at once.
type Resampler struct {
	fromRate int
	toRate   int
	channels int

	out bytes.Buffer
	r   *soxr.Resampler
}

// New creates a resampler from fromRate to toRate for the given
// channel count. If fromRate == toRate, Process is a no-op passthrough
// and no soxr converter is allocated.
func New(fromRate, toRate, channels int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("resampler: invalid rate/channels (%d -> %d, %d ch)", fromRate, toRate, channels)
	}
	rs := &Resampler{fromRate: fromRate, toRate: toRate, channels: channels}
	if fromRate == toRate {
		return rs, nil
	}

	r, err := soxr.New(&rs.out, float64(fromRate), float64(toRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resampler: new: %w", err)
	}
	rs.r = r
	return rs, nil
}

// Passthrough reports whether this instance does no conversion
// (fromRate == toRate), letting the sink stage skip the call
// entirely on the hot path.
func (rs *Resampler) Passthrough() bool { return rs.r == nil }

// Process feeds pcm through the converter and returns the newly
// produced resampled bytes (which may be shorter or longer than pcm,
// and may be empty if soxr is still buffering internally). The
// returned slice is only valid until the next Process/Close call.
func (rs *Resampler) Process(pcm []byte) ([]byte, error) {
	if rs.Passthrough() {
		return pcm, nil
	}
	rs.out.Reset()
	if _, err := rs.r.Write(pcm); err != nil {
		return nil, fmt.Errorf("resampler: write: %w", err)
	}
	return rs.out.Bytes(), nil
}

// Close flushes any samples soxr is still holding internally and
// releases the native converter. Process must not be called again
// afterwards.
func (rs *Resampler) Close() error {
	if rs.r == nil {
		return nil
	}
	rs.out.Reset()
	err := rs.r.Close()
	rs.r = nil
	if err != nil {
		return fmt.Errorf("resampler: close: %w", err)
	}
	return nil
}

// Flush returns whatever Close buffered as the final tail of output;
// call after Close.
func (rs *Resampler) Flush() []byte {
	return rs.out.Bytes()
}
