// Package aac wraps github.com/llehouerou/go-faad2 (FAAD2-via-WASM)
// behind the uniform codec contract of §4.6. Shared by both the raw
// ADTS codec path and the M4A codec path (pkg/codec/m4a), since both
// ultimately decode AAC-LC frames; only the Open config differs (M4A
// supplies the esds Audio Specific Config, ADTS has none).
package aac

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/llehouerou/go-faad2"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
)

// Decoder implements codec.Wrapper around a faad2.Decoder.
type Decoder struct {
	ctx   context.Context
	dec   *faad2.Decoder
	frame []byte
}

// NewDecoder creates an unopened AAC codec wrapper bound to ctx for
// the lifetime of the underlying WASM calls.
func NewDecoder(ctx context.Context) *Decoder {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Decoder{ctx: ctx}
}

// Open initializes the decoder with config, the Audio Specific Config
// for M4A streams or nil for raw ADTS (faad2 derives the config from
// the first ADTS frame header in that case).
func (d *Decoder) Open(config []byte) error {
	dec, err := faad2.NewDecoder(d.ctx)
	if err != nil {
		return fmt.Errorf("codec/aac: new decoder: %w", err)
	}
	if len(config) > 0 {
		if err := dec.Init(d.ctx, config); err != nil {
			dec.Close(d.ctx)
			return fmt.Errorf("codec/aac: init: %w", err)
		}
	}
	d.dec = dec
	return nil
}

// Feed stages one AAC frame (ADTS-stripped raw payload, or a
// container-delivered access unit for M4A) for the next Decode call.
func (d *Decoder) Feed(frame []byte) error {
	d.frame = frame
	return nil
}

// Decode runs the staged frame through faad2 and packs the resulting
// int16 PCM samples into out as interleaved little-endian bytes.
func (d *Decoder) Decode(out []byte) (int, codec.Status, error) {
	if d.dec == nil {
		return 0, codec.StatusFail, fmt.Errorf("codec/aac: not open")
	}
	pcm, err := d.dec.Decode(d.ctx, d.frame)
	if err != nil {
		return 0, codec.StatusProcessFail, fmt.Errorf("codec/aac: decode: %w", err)
	}

	need := len(pcm) * 2
	if need > len(out) {
		return 0, codec.StatusFail, fmt.Errorf("codec/aac: output buffer too small for %d samples", len(pcm))
	}
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return need, codec.StatusOK, nil
}

func (d *Decoder) SampleRate() int {
	if d.dec == nil {
		return 0
	}
	return int(d.dec.SampleRate())
}

func (d *Decoder) Channels() int {
	if d.dec == nil {
		return 0
	}
	return int(d.dec.Channels())
}

func (d *Decoder) Bits() int { return 16 }

func (d *Decoder) Close() error {
	if d.dec != nil {
		d.dec.Close(d.ctx)
		d.dec = nil
	}
	return nil
}
