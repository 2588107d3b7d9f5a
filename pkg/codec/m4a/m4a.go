// Package m4a wraps the AAC codec (pkg/codec/aac) for the M4A/MP4
// container path of §4.6: frames are not self-delimited ADTS frames
// but byte-exact stsz-sized chunks read straight from mdat, and the
// decoder is primed with the esds Audio Specific Config rather than
// deriving config from a frame header.
package m4a

import (
	"context"
	"fmt"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
	codecaac "github.com/liteplayer-go/liteplayer/pkg/codec/aac"
)

// Decoder implements codec.Wrapper for AAC-in-MP4 streams.
type Decoder struct {
	inner *codecaac.Decoder
}

// NewDecoder creates an unopened M4A codec wrapper.
func NewDecoder(ctx context.Context) *Decoder {
	return &Decoder{inner: codecaac.NewDecoder(ctx)}
}

// Open primes the AAC decoder with the esds Audio Specific Config;
// config must be non-empty for M4A (see types.M4AInfo.ASC).
func (d *Decoder) Open(config []byte) error {
	if len(config) == 0 {
		return fmt.Errorf("codec/m4a: missing Audio Specific Config")
	}
	return d.inner.Open(config)
}

// Feed stages one sample's worth of bytes, sized by the caller from
// the stsz table entry for the current sample index.
func (d *Decoder) Feed(frame []byte) error { return d.inner.Feed(frame) }

func (d *Decoder) Decode(out []byte) (int, codec.Status, error) { return d.inner.Decode(out) }

func (d *Decoder) SampleRate() int { return d.inner.SampleRate() }
func (d *Decoder) Channels() int   { return d.inner.Channels() }
func (d *Decoder) Bits() int       { return d.inner.Bits() }
func (d *Decoder) Close() error    { return d.inner.Close() }
