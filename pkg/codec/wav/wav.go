// Package wav wraps github.com/youpy/go-wav behind the uniform codec
// contract of §4.6. WAV audio is already PCM, so "decode" is really a
// pass-through that reshapes go-wav's per-channel sample values back
// into interleaved little-endian bytes, matching the teacher's
// pkg/decoders/wav byte-packing loop.
package wav

import (
	"bytes"
	"fmt"
	"io"

	gowav "github.com/youpy/go-wav"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
)

// Decoder implements codec.Wrapper for PCM WAV data. Unlike the
// compressed codecs, WAV frames are fed as raw PCM already sized to
// the element's buf_out, so Feed/Decode collapse to a buffered
// passthrough; this wrapper exists so the Wrapper interface stays
// uniform across all four formats.
type Decoder struct {
	sampleRate int
	channels   int
	bits       int

	staged []byte
}

// NewDecoder creates a WAV codec wrapper for the given format (already
// known from the container parse, since WAV carries no per-frame
// header of its own).
func NewDecoder(sampleRate, channels, bits int) *Decoder {
	return &Decoder{sampleRate: sampleRate, channels: channels, bits: bits}
}

// Open is a no-op: WAV's format is fixed at container-parse time, not
// renegotiated per frame.
func (d *Decoder) Open(config []byte) error { return nil }

// Feed stages one PCM chunk for the next Decode call. WAV frames carry
// no header to validate, unlike the compressed codecs.
func (d *Decoder) Feed(frame []byte) error {
	d.staged = frame
	return nil
}

// Decode copies the staged PCM bytes to out, re-validating them
// through go-wav's sample reader so a malformed chunk (odd byte count
// for 16-bit stereo, etc.) surfaces as a codec error rather than a
// silent glitch.
func (d *Decoder) Decode(out []byte) (int, codec.Status, error) {
	if len(d.staged) == 0 {
		return 0, codec.StatusDone, nil
	}

	reader := gowav.NewReader(newFakeRIFFReader(d.staged, d.sampleRate, d.channels, d.bits))
	bytesPerSample := d.bits / 8
	written := 0

	for {
		samples, err := reader.ReadSamples(1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, codec.StatusFail, fmt.Errorf("codec/wav: %w", err)
		}
		for _, s := range samples {
			for ch := 0; ch < d.channels; ch++ {
				if written+bytesPerSample > len(out) {
					return written, codec.StatusOK, nil
				}
				writeSample(out[written:], s.Values[ch], d.bits)
				written += bytesPerSample
			}
		}
	}

	d.staged = nil
	return written, codec.StatusOK, nil
}

func writeSample(out []byte, value int, bits int) {
	switch bits {
	case 8:
		out[0] = byte(value)
	case 16:
		out[0] = byte(value & 0xFF)
		out[1] = byte((value >> 8) & 0xFF)
	case 24:
		out[0] = byte(value & 0xFF)
		out[1] = byte((value >> 8) & 0xFF)
		out[2] = byte((value >> 16) & 0xFF)
	case 32:
		out[0] = byte(value & 0xFF)
		out[1] = byte((value >> 8) & 0xFF)
		out[2] = byte((value >> 16) & 0xFF)
		out[3] = byte((value >> 24) & 0xFF)
	}
}

func (d *Decoder) SampleRate() int { return d.sampleRate }
func (d *Decoder) Channels() int   { return d.channels }
func (d *Decoder) Bits() int       { return d.bits }
func (d *Decoder) Close() error    { return nil }

// newFakeRIFFReader wraps a bare PCM chunk in a minimal RIFF/WAVE
// header so go-wav's Reader (which always expects one) can parse it,
// since the element hands us pre-demuxed PCM payload bytes with the
// container-level header already stripped by pkg/container/wav.
func newFakeRIFFReader(pcm []byte, sampleRate, channels, bits int) *bytes.Reader {
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	putLE32(header[16:20], 16)
	putLE16(header[20:22], 1)
	putLE16(header[22:24], uint16(channels))
	putLE32(header[24:28], uint32(sampleRate))
	blockAlign := bits * channels / 8
	putLE32(header[28:32], uint32(blockAlign*sampleRate))
	putLE16(header[32:34], uint16(blockAlign))
	putLE16(header[34:36], uint16(bits))
	copy(header[36:40], "data")
	putLE32(header[40:44], uint32(len(pcm)))

	full := append(header, pcm...)
	return bytes.NewReader(full)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
