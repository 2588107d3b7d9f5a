// Package decoder implements the decoder stage of §4.6: it feeds one
// compressed frame at a time (demuxed by the matching pkg/container
// package, or sized by the M4A stsz table) to a pkg/codec.Wrapper,
// drains the produced PCM to its output ringbuffer, and reports
// REPORT_MUSIC_INFO once the codec announces its format on the first
// decoded frame.
package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
	codecaac "github.com/liteplayer-go/liteplayer/pkg/codec/aac"
	codecm4a "github.com/liteplayer-go/liteplayer/pkg/codec/m4a"
	codecmp3 "github.com/liteplayer-go/liteplayer/pkg/codec/mp3"
	codecwav "github.com/liteplayer-go/liteplayer/pkg/codec/wav"
	containeraac "github.com/liteplayer-go/liteplayer/pkg/container/aac"
	containermp3 "github.com/liteplayer-go/liteplayer/pkg/container/mp3"
	"github.com/liteplayer-go/liteplayer/pkg/element"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

const (
	readTimeout  = 100 * time.Millisecond
	writeTimeout = 2 * time.Second

	// scanChunk is how much we pull from the input ringbuffer at a time
	// while hunting for the next frame sync word.
	scanChunk = 2048

	// maxPCMFrame is sized for the worst case among the four formats:
	// AAC-HE SBR can produce up to 4096 samples/channel per frame.
	maxPCMFrame = 4096 * 2 * 2
)

// Config configures a decoder element.
type Config struct {
	Tag  string
	Info types.CodecInfo

	BufferLen int
	OutRbSize uint64

	Logger *slog.Logger
}

// Decoder wraps an element.Element configured as the decoder stage.
type Decoder struct {
	el  *element.Element
	cfg Config
	log *slog.Logger

	wrap codec.Wrapper
	info types.CodecInfo

	carry   []byte
	scratch []byte
	pcmBuf  []byte

	pendingLen int

	m4aIndex int

	reportedMusicInfo bool
}

// New creates a decoder element for the codec named by cfg.Info.Codec.
func New(cfg Config) (*Decoder, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	wrap, err := newWrapper(cfg.Info.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.BufferLen <= 0 {
		cfg.BufferLen = 1940 // spec.md §4.6 buf_in ceiling for MP3/AAC frames
	}

	d := &Decoder{
		cfg:     cfg,
		log:     log.With("element", cfg.Tag),
		wrap:    wrap,
		info:    cfg.Info,
		scratch: make([]byte, scanChunk),
		pcmBuf:  make([]byte, maxPCMFrame),
	}

	d.el = element.New(element.Config{
		Tag:       cfg.Tag,
		Open:      d.open,
		Process:   d.process,
		Close:     d.close,
		Seek:      d.seek,
		BufferLen: cfg.BufferLen,
		OutRbSize: cfg.OutRbSize,
		Logger:    log,
	})
	return d, nil
}

func newWrapper(c types.Codec) (codec.Wrapper, error) {
	switch c {
	case types.CodecMP3:
		return codecmp3.NewDecoder(), nil
	case types.CodecAAC:
		return codecaac.NewDecoder(context.Background()), nil
	case types.CodecM4A:
		return codecm4a.NewDecoder(context.Background()), nil
	case types.CodecWAV:
		return nil, fmt.Errorf("decoder: WAV wrapper needs a format, use NewWAV")
	default:
		return nil, fmt.Errorf("decoder: unsupported codec %v", c)
	}
}

// NewWAV creates a decoder element for WAV, which (unlike the
// compressed codecs) needs the already-known sample format up front
// since WAV carries no per-frame header of its own.
func NewWAV(cfg Config) (*Decoder, error) {
	if cfg.Info.Codec != types.CodecWAV {
		return nil, fmt.Errorf("decoder: NewWAV called with codec %v", cfg.Info.Codec)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.BufferLen <= 0 {
		cfg.BufferLen = 4096
	}
	d := &Decoder{
		cfg:     cfg,
		log:     log.With("element", cfg.Tag),
		wrap:    codecwav.NewDecoder(cfg.Info.SampleRate, cfg.Info.Channels, cfg.Info.Bits),
		info:    cfg.Info,
		scratch: make([]byte, scanChunk),
		pcmBuf:  make([]byte, maxPCMFrame),
	}
	d.el = element.New(element.Config{
		Tag:       cfg.Tag,
		Open:      d.open,
		Process:   d.process,
		Close:     d.close,
		Seek:      d.seek,
		BufferLen: cfg.BufferLen,
		OutRbSize: cfg.OutRbSize,
		Logger:    log,
	})
	return d, nil
}

// Element exposes the underlying runtime element for pipeline wiring.
func (d *Decoder) Element() *element.Element { return d.el }

func (d *Decoder) open(ctx context.Context) error {
	var config []byte
	if d.info.Codec == types.CodecM4A && d.info.M4A != nil {
		config = d.info.M4A.ASC
	}
	if err := d.wrap.Open(config); err != nil {
		return fmt.Errorf("decoder: open: %w", err)
	}
	d.carry = d.carry[:0]
	d.m4aIndex = 0
	d.pendingLen = 0
	d.reportedMusicInfo = false
	return nil
}

func (d *Decoder) close(ctx context.Context) error {
	return d.wrap.Close()
}

// seek repositions the M4A sample cursor; the player is responsible
// for tearing down and recreating the element's input source at the
// matching file byte offset (§4.8's seek protocol), so this only needs
// to realign the stsz-table index the decoder reads sequentially from.
func (d *Decoder) seek(offset int64) error {
	d.carry = d.carry[:0]
	if d.info.Codec == types.CodecM4A {
		d.m4aIndex = int(offset)
	}
	return nil
}

// process feeds one frame to the wrapper, drains whatever PCM it
// produced, and reports music info on the first successful decode.
func (d *Decoder) process(ctx context.Context) element.ProcessResult {
	if d.pendingLen > 0 {
		return d.flushPending()
	}

	frame, result, done := d.nextFrame()
	if done {
		return element.ProcessDone
	}
	if result != element.ProcessOK {
		return result
	}

	if err := d.wrap.Feed(frame); err != nil {
		d.log.Error("codec feed failed", "error", err)
		return element.ProcessFail
	}

	n, status, err := d.wrap.Decode(d.pcmBuf)
	if err == codec.ErrNeedMoreInput {
		return element.ProcessOK
	}
	if err != nil {
		d.log.Error("codec decode failed", "error", err)
		return element.ProcessFail
	}
	switch status {
	case codec.StatusDone:
		return element.ProcessDone
	case codec.StatusFail, codec.StatusProcessFail:
		return element.ProcessFail
	}

	d.reportMusicInfoOnce(n)

	if n == 0 {
		return element.ProcessOK
	}
	d.pendingLen = n
	return d.flushPending()
}

func (d *Decoder) flushPending() element.ProcessResult {
	n, code := d.el.Output(d.pcmBuf[:d.pendingLen], writeTimeout)
	switch code {
	case types.ErrorNone:
		if n >= d.pendingLen {
			d.pendingLen = 0
			return element.ProcessOK
		}
		// Output() is all-or-nothing on OK; a short write without an
		// error code should not happen, but stay correct if it does.
		copy(d.pcmBuf, d.pcmBuf[n:d.pendingLen])
		d.pendingLen -= n
		return element.ProcessOK
	case types.ErrorTimeout:
		return element.ProcessTimeout
	default:
		return element.ProcessAbort
	}
}

func (d *Decoder) reportMusicInfoOnce(n int) {
	if d.reportedMusicInfo || n == 0 {
		return
	}
	d.reportedMusicInfo = true
	rate, channels, bits := d.wrap.SampleRate(), d.wrap.Channels(), d.wrap.Bits()
	d.el.UpdateInfo(func(info *element.Info) {
		info.OutSampleRate = rate
		info.OutChannels = channels
		info.Bits = bits
	})
	d.el.Emit(types.Event{
		Type:      types.EventReportMusicInfo,
		MusicInfo: &types.MusicInfo{SampleRate: rate, Channels: channels, Bits: bits},
	})
}

// nextFrame returns the next frame to feed the codec, per-format:
// MP3/AAC scan their byte stream for the next sync word and frame
// size; M4A reads exactly the next stsz-sized sample; WAV passes
// through whatever chunk is available.
func (d *Decoder) nextFrame() ([]byte, element.ProcessResult, bool) {
	switch d.info.Codec {
	case types.CodecMP3:
		return d.syncFrame(func(buf []byte) (int, int, error) {
			off := containermp3.FindSyncword(buf)
			if off < 0 {
				return -1, 0, nil
			}
			hdr, err := containermp3.ParseHeader(buf[off:])
			if err != nil {
				return off, 0, err
			}
			return off, hdr.FrameSize, nil
		})
	case types.CodecAAC:
		return d.syncFrame(func(buf []byte) (int, int, error) {
			off := containeraac.FindSyncword(buf)
			if off < 0 {
				return -1, 0, nil
			}
			hdr, err := containeraac.ParseFrame(buf[off:])
			if err != nil {
				return off, 0, err
			}
			return off, hdr.FrameSize, nil
		})
	case types.CodecM4A:
		return d.m4aFrame()
	case types.CodecWAV:
		return d.wavFrame()
	default:
		return nil, element.ProcessFail, false
	}
}

// syncFrame implements the shared MP3/AAC frame-hunting loop: grow
// d.carry until a valid sync+header is found and the full frame is
// buffered, slicing it out and keeping the remainder for next time.
func (d *Decoder) syncFrame(find func(buf []byte) (offset, frameSize int, err error)) ([]byte, element.ProcessResult, bool) {
	for {
		if len(d.carry) >= 4 {
			off, frameSize, err := find(d.carry)
			if off >= 0 && err == nil && frameSize > 0 {
				need := off + frameSize
				if len(d.carry) >= need {
					frame := append([]byte(nil), d.carry[off:need]...)
					d.carry = append(d.carry[:0], d.carry[need:]...)
					return frame, element.ProcessOK, false
				}
				// header parsed but frame not fully buffered yet; read more
			} else if off < 0 {
				// no sync candidate at all: keep only enough trailing
				// bytes to possibly complete a header straddling the
				// next read, drop the rest as garbage.
				if len(d.carry) > 3 {
					d.carry = append(d.carry[:0], d.carry[len(d.carry)-3:]...)
				}
			} else {
				// sync candidate was bogus; skip past it and rescan
				d.carry = append(d.carry[:0], d.carry[off+1:]...)
			}
		}

		n, code := d.el.Input(d.scratch, readTimeout)
		switch code {
		case types.ErrorTimeout:
			return nil, element.ProcessTimeout, false
		case types.ErrorNone:
			if n == 0 {
				if len(d.carry) == 0 {
					return nil, element.ProcessOK, true
				}
				// trailing bytes too short for one more frame: done
				return nil, element.ProcessOK, true
			}
			d.carry = append(d.carry, d.scratch[:n]...)
		default:
			return nil, element.ProcessAbort, false
		}
	}
}

func (d *Decoder) m4aFrame() ([]byte, element.ProcessResult, bool) {
	if d.info.M4A == nil || d.m4aIndex >= len(d.info.M4A.SampleSize) {
		return nil, element.ProcessOK, true
	}
	size := int(d.info.M4A.SampleSize[d.m4aIndex])
	buf := make([]byte, size)
	n, code := d.el.InputChunk(buf, readTimeout)
	switch code {
	case types.ErrorTimeout:
		return nil, element.ProcessTimeout, false
	case types.ErrorNone:
		if n < size {
			return nil, element.ProcessOK, true
		}
		d.m4aIndex++
		return buf, element.ProcessOK, false
	default:
		return nil, element.ProcessAbort, false
	}
}

func (d *Decoder) wavFrame() ([]byte, element.ProcessResult, bool) {
	n, code := d.el.Input(d.scratch, readTimeout)
	switch code {
	case types.ErrorTimeout:
		return nil, element.ProcessTimeout, false
	case types.ErrorNone:
		if n == 0 {
			return nil, element.ProcessOK, true
		}
		return append([]byte(nil), d.scratch[:n]...), element.ProcessOK, false
	default:
		return nil, element.ProcessAbort, false
	}
}
