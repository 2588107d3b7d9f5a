// Package mediasource implements the background producer of §4.4: it
// pulls bytes from a Source adapter and writes them into the decoder's
// input ringbuffer, announcing a one-shot REACH_THRESHOLD event once
// enough bytes have been buffered.
package mediasource

import (
	"context"
	"io"
	"log/slog"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/ringbuffer"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

const readChunk = 1024 // 1 KiB per the design's read loop

// Config configures a MediaSource.
type Config struct {
	URL            string
	SourceType     types.SourceType
	ContentPos     int64
	ThresholdBytes int64 // 0 disables REACH_THRESHOLD

	Source   adapter.Source
	Output   *ringbuffer.RingBuffer
	Listener types.EventListener
	Logger   *slog.Logger
}

// MediaSource is the background producer task. Create one per
// playback/seek session; it owns its adapter handle and exits on EOF,
// read failure, or Stop.
type MediaSource struct {
	cfg Config
	log *slog.Logger

	stopped chan struct{}
	done    chan struct{}
}

// New creates a MediaSource bound to cfg but does not start it.
func New(cfg Config) *MediaSource {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MediaSource{
		cfg:     cfg,
		log:     log.With("component", "mediasource", "url", cfg.URL),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start spawns the producer goroutine.
func (m *MediaSource) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *MediaSource) emit(evt types.Event) {
	if m.cfg.Listener != nil {
		m.cfg.Listener(evt)
	}
}

func (m *MediaSource) run(ctx context.Context) {
	defer close(m.done)

	if err := m.cfg.Source.Open(ctx, m.cfg.URL, m.cfg.ContentPos); err != nil {
		m.log.Error("open failed", "error", err)
		m.emit(types.Event{Type: types.EventReadFailed, Err: err})
		return
	}

	buf := make([]byte, readChunk)
	var bytesWritten int64
	thresholdFired := false

	for {
		select {
		case <-m.stopped:
			m.cfg.Output.Abort()
			m.cfg.Source.Close()
			return
		default:
		}

		n, err := m.cfg.Source.Read(buf)
		if err != nil && err != io.EOF {
			m.log.Error("read failed", "error", err)
			m.emit(types.Event{Type: types.EventReadFailed, Err: err})
			m.cfg.Source.Close()
			return
		}
		if n == 0 {
			m.cfg.Output.DoneWrite()
			m.emit(types.Event{Type: types.EventReadDone})
			m.cfg.Source.Close()
			return
		}

		written, status := m.cfg.Output.Write(buf[:n], 0 /* unbounded, until peer stops/aborts */)
		if status == ringbuffer.Abort || status == ringbuffer.Done {
			m.cfg.Source.Close()
			return
		}

		bytesWritten += int64(written)
		if !thresholdFired && m.cfg.ThresholdBytes > 0 && bytesWritten >= m.cfg.ThresholdBytes {
			thresholdFired = true
			m.emit(types.Event{Type: types.EventReachThreshold})
		}
	}
}

// Stop requests cancellation: it aborts the output ringbuffer to
// unblock an in-flight write and waits for the goroutine to exit.
func (m *MediaSource) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
	m.cfg.Output.Abort()
	<-m.done
}
