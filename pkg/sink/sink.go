// Package sink implements the sink stage of §4.7: the final pipeline
// element, which pulls decoded PCM from its input ringbuffer and pushes
// it to a platform adapter.Sink, tracking byte position and detecting
// in-stream format changes announced by the decoder.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/element"
	"github.com/liteplayer-go/liteplayer/pkg/resampler"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

const (
	readTimeout  = 100 * time.Millisecond
	writeTimeout = 2 * time.Second
)

// Config configures a sink element.
type Config struct {
	Tag string

	// Sink is the platform-supplied PCM consumer. Open is (re)called
	// whenever the decoder's announced format changes, including the
	// very first time.
	Sink adapter.Sink

	// SampleRate/Channels are the format the decoder is currently
	// producing; the Element checks these against what it last opened
	// the Sink with on every Process call, since the decoder can
	// change format mid-stream (e.g. a new track in a gapless chain).
	SampleRate func() int
	Channels   func() int

	// FixedOutputRate, if nonzero, is the single sample rate the Sink
	// adapter supports (e.g. a fixed-clock hardware I2S output). When
	// set and different from the decoder's rate, the element opens the
	// adapter at FixedOutputRate and resamples every chunk through
	// pkg/resampler before writing it. Zero means "adapter accepts
	// whatever the decoder produces" (the common case).
	FixedOutputRate int

	BufferLen int

	Logger *slog.Logger
}

// Sink wraps an element.Element configured as the terminal pipeline
// stage.
type Sink struct {
	el  *element.Element
	cfg Config
	log *slog.Logger

	openRate, openChannels int // decoder-side format the resampler (if any) converts from
	openAdapterRate        int // rate the Sink adapter was actually opened at
	sinkOpen               bool

	bytePos      int64
	lastReportAt time.Time

	res *resampler.Resampler

	buf []byte
}

// New creates an unopened, unrun sink element.
func New(cfg Config) *Sink {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.BufferLen <= 0 {
		cfg.BufferLen = 4096
	}
	s := &Sink{cfg: cfg, log: log.With("element", cfg.Tag), buf: make([]byte, cfg.BufferLen)}

	s.el = element.New(element.Config{
		Tag:       cfg.Tag,
		Open:      s.open,
		Process:   s.process,
		Close:     s.close,
		Seek:      s.seek,
		BufferLen: cfg.BufferLen,
		Logger:    log,
	})
	return s
}

// Element exposes the underlying runtime element so a pipeline can
// register it, wire its input endpoint, and drive its lifecycle.
func (s *Sink) Element() *element.Element { return s.el }

func (s *Sink) open(ctx context.Context) error {
	s.bytePos = 0
	s.sinkOpen = false
	return nil
}

// seek resets byte_pos to 0, per §4.7's "byte_pos... resets across a
// SEEK" invariant: the player rebaselines the reported position by
// adding its own seek_time_ms on top of whatever this element reports
// from here.
func (s *Sink) seek(offset int64) error {
	s.bytePos = 0
	s.lastReportAt = time.Time{}
	return nil
}

func (s *Sink) close(ctx context.Context) error {
	s.closeResampler()
	if s.sinkOpen {
		if err := s.cfg.Sink.Close(); err != nil {
			s.log.Warn("sink adapter close failed", "error", err)
		}
		s.sinkOpen = false
	}
	return nil
}

func (s *Sink) closeResampler() {
	if s.res == nil {
		return
	}
	if err := s.res.Close(); err != nil {
		s.log.Warn("resampler close failed", "error", err)
	}
	if tail := s.res.Flush(); len(tail) > 0 {
		if _, err := s.writeThrough(tail); err != nil {
			s.log.Warn("resampler flush write failed", "error", err)
		}
	}
	s.res = nil
}

// process reads one chunk of PCM, reopens the sink adapter if the
// decoder's format changed, writes the chunk through, and reports
// position.
func (s *Sink) process(ctx context.Context) element.ProcessResult {
	n, code := s.el.Input(s.buf, readTimeout)
	if code == types.ErrorTimeout {
		return element.ProcessTimeout
	}
	if n == 0 && code == types.ErrorNone {
		return element.ProcessDone
	}
	if code != types.ErrorNone {
		return element.ProcessAbort
	}

	if err := s.ensureOpen(); err != nil {
		s.log.Error("sink open failed", "error", err)
		return element.ProcessFail
	}

	chunk := s.buf[:n]
	if s.res != nil {
		out, err := s.res.Process(chunk)
		if err != nil {
			s.log.Error("resample failed", "error", err)
			return element.ProcessFail
		}
		chunk = out
	}

	written, err := s.writeThrough(chunk)
	if err != nil {
		s.log.Error("sink write failed", "error", err)
		return element.ProcessFail
	}

	s.bytePos += int64(written)
	s.maybeReportPosition()
	return element.ProcessOK
}

// writeThrough loops Sink.Write until every byte of buf is accepted.
func (s *Sink) writeThrough(buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		w, err := s.cfg.Sink.Write(buf[written:])
		if err != nil {
			return written, err
		}
		if w == 0 {
			return written, fmt.Errorf("sink: adapter Write accepted 0 bytes")
		}
		written += w
	}
	return written, nil
}

// ensureOpen (re)opens the sink adapter when the decoder's advertised
// format differs from what it was last opened with, per §4.7's "first
// call compares in_samplerate/in_channels" rule generalized to every
// call so a mid-stream format change is caught too.
func (s *Sink) ensureOpen() error {
	decRate, channels := s.cfg.SampleRate(), s.cfg.Channels()
	if decRate <= 0 || channels <= 0 {
		return fmt.Errorf("sink: decoder has not announced a format yet")
	}
	if s.sinkOpen && decRate == s.openRate && channels == s.openChannels {
		return nil
	}
	if s.sinkOpen {
		s.closeResampler() // flushes its tail through the still-open adapter
		if err := s.cfg.Sink.Close(); err != nil {
			s.log.Warn("sink adapter close (format change) failed", "error", err)
		}
		s.sinkOpen = false
	}

	adapterRate := decRate
	if s.cfg.FixedOutputRate > 0 {
		adapterRate = s.cfg.FixedOutputRate
	}
	if err := s.cfg.Sink.Open(adapterRate, channels); err != nil {
		return fmt.Errorf("sink: open(%d, %d): %w", adapterRate, channels, err)
	}
	if adapterRate != decRate {
		res, err := resampler.New(decRate, adapterRate, channels)
		if err != nil {
			s.cfg.Sink.Close()
			return fmt.Errorf("sink: resampler %d->%d: %w", decRate, adapterRate, err)
		}
		s.res = res
	}
	s.openRate, s.openChannels = decRate, channels
	s.openAdapterRate = adapterRate
	s.sinkOpen = true
	return nil
}

func (s *Sink) maybeReportPosition() {
	s.lastReportAt = time.Now()

	ms := 0
	if s.openAdapterRate > 0 && s.openChannels > 0 {
		bytesPerMs := float64(s.openAdapterRate*s.openChannels*2) / 1000.0
		if bytesPerMs > 0 {
			ms = int(float64(s.bytePos) / bytesPerMs)
		}
	}

	s.el.UpdateInfo(func(info *element.Info) {
		info.BytePos = s.bytePos
	})
	s.el.Emit(types.Event{Type: types.EventReportPosition, PositionMs: ms, BytePos: s.bytePos})
}
