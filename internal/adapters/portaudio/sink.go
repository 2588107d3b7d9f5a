// Package portaudio adapts github.com/drgolem/go-portaudio's callback
// API to the engine's push-style adapter.Sink contract. pkg/sink calls
// Write synchronously from its own stage goroutine and blocks there
// under natural backpressure; PortAudio's own C audio thread pulls
// from the other end of the same pkg/ringbuffer.RingBuffer via an
// OpenCallback stream, the same SPSC split internal/fileplayer.go's
// FilePlayer already uses for its own producer/consumer pair, just
// re-grounded on pkg/ringbuffer instead of audioframeringbuffer since
// this adapter only ever sees flat PCM bytes, not AudioFrame structs.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"

	"github.com/liteplayer-go/liteplayer/pkg/ringbuffer"
)

// pullTimeout bounds how long the PortAudio callback waits for data
// from the ringbuffer before giving up and emitting silence for the
// remainder of the requested frames. Real-time audio callbacks should
// never block unboundedly; a few milliseconds trades an occasional
// audible glitch under underrun for never stalling the audio thread.
const pullTimeout = 5 * time.Millisecond

// Sink is a concrete adapter.Sink backed by a PortAudio output stream.
// The caller must have already called portaudio.Initialize.
type Sink struct {
	deviceIndex     int
	framesPerBuffer int
	rbCapacity      uint64
	log             *slog.Logger

	mu       sync.Mutex
	stream   *portaudio.PaStream
	rb       *ringbuffer.RingBuffer
	channels int
}

// New creates a Sink bound to deviceIndex, pulling framesPerBuffer
// frames per PortAudio callback and bridging through an internal
// ringbuffer of rbCapacity bytes.
func New(deviceIndex, framesPerBuffer int, rbCapacity uint64, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if rbCapacity == 0 {
		rbCapacity = 64 * 1024
	}
	return &Sink{
		deviceIndex:     deviceIndex,
		framesPerBuffer: framesPerBuffer,
		rbCapacity:      rbCapacity,
		log:             logger.With("component", "adapters/portaudio"),
	}
}

// Open (re)opens the PortAudio stream at sampleRate/channels, 16-bit
// signed PCM per the adapter.Sink contract. Safe to call again after a
// prior Open to handle a decoder format change mid-session.
func (s *Sink) Open(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		s.closeLocked()
	}

	s.rb = ringbuffer.New(s.rbCapacity)
	s.channels = channels

	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  s.deviceIndex,
			ChannelCount: channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(sampleRate),
	}
	if err := stream.OpenCallback(s.framesPerBuffer, s.audioCallback); err != nil {
		return fmt.Errorf("adapters/portaudio: open callback: %w", err)
	}
	if err := stream.StartStream(); err != nil {
		stream.CloseCallback()
		return fmt.Errorf("adapters/portaudio: start stream: %w", err)
	}
	s.stream = stream
	return nil
}

// Write pushes buf into the bridge ringbuffer, blocking under natural
// backpressure until the audio thread has drained enough space.
func (s *Sink) Write(buf []byte) (int, error) {
	s.mu.Lock()
	rb := s.rb
	s.mu.Unlock()
	if rb == nil {
		return 0, fmt.Errorf("adapters/portaudio: write before open")
	}

	total := 0
	for total < len(buf) {
		n, status := rb.Write(buf[total:], 3*time.Second)
		total += n
		switch status {
		case ringbuffer.OK:
			continue
		case ringbuffer.Done, ringbuffer.Abort:
			return total, fmt.Errorf("adapters/portaudio: write: %s", status)
		case ringbuffer.Timeout:
			return total, fmt.Errorf("adapters/portaudio: write: timed out")
		}
	}
	return total, nil
}

// Close stops and tears down the PortAudio stream.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Sink) closeLocked() {
	if s.rb != nil {
		s.rb.Abort()
	}
	if s.stream != nil {
		if err := s.stream.StopStream(); err != nil {
			s.log.Warn("stop stream failed", "error", err)
		}
		if err := s.stream.CloseCallback(); err != nil {
			s.log.Warn("close stream failed", "error", err)
		}
		s.stream = nil
	}
	s.rb = nil
}

// audioCallback runs on PortAudio's own C-managed audio thread; it
// must never allocate on the happy path or block unboundedly. It
// pulls as much as pullTimeout allows from the bridge ringbuffer and
// pads the remainder of the requested frames with silence.
func (s *Sink) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	s.mu.Lock()
	rb := s.rb
	channels := s.channels
	s.mu.Unlock()

	bytesNeeded := int(frameCount) * channels * 2
	if bytesNeeded > len(output) {
		bytesNeeded = len(output)
	}

	written := 0
	if rb != nil {
		avail := int(rb.BytesFilled())
		want := bytesNeeded
		if avail < want {
			want = avail
		}
		if want > 0 {
			n, status := rb.Read(output[:want], pullTimeout)
			if status == ringbuffer.OK {
				written = n
			}
		}
	}
	if written < bytesNeeded {
		clear(output[written:bytesNeeded])
	}
	return portaudio.Continue
}
