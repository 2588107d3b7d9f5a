// Package mp3 wraps github.com/drgolem/go-mpg123 behind the uniform
// codec contract of §4.6, the same binding the teacher's
// pkg/decoders/mp3 uses for file-based decode; here the decoder is
// driven in feed mode (libmpg123's native streaming mode) since frames
// arrive one at a time from the element's input ringbuffer rather than
// from an on-disk file.
package mp3

import (
	"fmt"

	"github.com/drgolem/go-mpg123/mpg123"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
)

// Decoder implements codec.Wrapper around an mpg123 decoder instance
// running in feed mode.
type Decoder struct {
	dec      *mpg123.Decoder
	opened   bool
	rate     int
	channels int
	encoding int
}

// NewDecoder creates an unopened MP3 codec wrapper.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open creates the underlying mpg123 decoder and switches it into
// feed mode; config is unused (MP3 carries no out-of-band config,
// unlike AAC's ASC).
func (d *Decoder) Open(config []byte) error {
	dec, err := mpg123.NewDecoder("")
	if err != nil {
		return fmt.Errorf("codec/mp3: new decoder: %w", err)
	}
	if err := dec.OpenFeed(); err != nil {
		dec.Delete()
		return fmt.Errorf("codec/mp3: open feed: %w", err)
	}
	d.dec = dec
	return nil
}

// Feed hands one MPEG frame's bytes to the decoder's internal buffer.
func (d *Decoder) Feed(frame []byte) error {
	if d.dec == nil {
		return fmt.Errorf("codec/mp3: not open")
	}
	if _, err := d.dec.Feed(frame); err != nil {
		return fmt.Errorf("codec/mp3: feed: %w", err)
	}
	return nil
}

// Decode drains one decoded PCM frame into out. On the first
// successful decode it latches the stream's discovered format.
func (d *Decoder) Decode(out []byte) (int, codec.Status, error) {
	if d.dec == nil {
		return 0, codec.StatusFail, fmt.Errorf("codec/mp3: not open")
	}
	n, err := d.dec.Read(out)
	if err == mpg123.ErrNeedMoreData {
		return 0, codec.StatusOK, codec.ErrNeedMoreInput
	}
	if err != nil {
		return 0, codec.StatusProcessFail, fmt.Errorf("codec/mp3: decode: %w", err)
	}
	if !d.opened && n > 0 {
		rate, channels, encoding := d.dec.GetFormat()
		d.rate, d.channels, d.encoding = rate, channels, encoding
		d.opened = true
	}
	return n, codec.StatusOK, nil
}

func (d *Decoder) SampleRate() int { return d.rate }
func (d *Decoder) Channels() int   { return d.channels }
func (d *Decoder) Bits() int       { return 16 }

func (d *Decoder) Close() error {
	if d.dec != nil {
		d.dec.Close()
		d.dec.Delete()
		d.dec = nil
	}
	return nil
}
