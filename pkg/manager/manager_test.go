package manager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/container/wav"
	"github.com/liteplayer-go/liteplayer/pkg/player"
)

// routingSource is a fake adapter.Source that resolves its content
// from a shared url->bytes map at Open time, so one SourceFactory can
// serve every track in a playlist without knowing in advance which
// URL pkg/player is about to request. Each instance is single-use.
type routingSource struct {
	data   map[string][]byte
	buf    []byte
	opened bool
	pos    int64
}

func newRoutingFactory(data map[string][]byte) adapter.SourceFactory {
	return func() adapter.Source { return &routingSource{data: data} }
}

func (r *routingSource) Open(ctx context.Context, url string, contentPos int64) error {
	if r.opened {
		return fmt.Errorf("routingSource: reopened")
	}
	r.opened = true
	r.buf = r.data[url]
	r.pos = contentPos
	return nil
}

func (r *routingSource) Read(buf []byte) (int, error) {
	if r.pos >= int64(len(r.buf)) {
		return 0, io.EOF
	}
	n := copy(buf, r.buf[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *routingSource) FileSize() int64 { return int64(len(r.buf)) }

func (r *routingSource) Seek(offset int64) error {
	r.pos = offset
	return nil
}

func (r *routingSource) Close() error { return nil }

type memSink struct{}

func (s *memSink) Open(sampleRate, channels int) error { return nil }
func (s *memSink) Write(buf []byte) (int, error)       { return len(buf), nil }
func (s *memSink) Close() error                        { return nil }

func wavFile(sampleRate, bits, channels int, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Write(wav.BuildHeader(sampleRate, bits, channels, len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// track builds a tiny, fast-to-decode 8kHz mono WAV file, short enough
// that natural-completion tests don't have to wait long.
func track(tag byte) []byte {
	pcm := make([]byte, 400) // 25ms at 8kHz/mono/16-bit
	for i := range pcm {
		pcm[i] = tag
	}
	return wavFile(8000, 16, 1, pcm)
}

// longTrack is long enough to stay STARTED through a manual Next/Prev
// call, unlike track's natural completion (which races a human-paced
// test body).
func longTrack(tag byte) []byte {
	pcm := make([]byte, 32000) // 2s at 8kHz/mono/16-bit
	for i := range pcm {
		pcm[i] = tag
	}
	return wavFile(8000, 16, 1, pcm)
}

func waitForIndex(t *testing.T, m *Manager, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.CurrentIndex() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for playlist index %d, got %d", want, m.CurrentIndex())
}

func waitForPlayerState(t *testing.T, p *player.Player, want player.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for player state %v, got %v", want, p.State())
}

func newTestManager(urls []string, data map[string][]byte) (*Manager, *player.Player) {
	p := player.New(player.Config{
		FileSource: newRoutingFactory(data),
		HTTPSource: newRoutingFactory(data),
		Sink:       func() adapter.Sink { return &memSink{} },
	})
	m := New(p, nil)
	m.SetPlaylist(urls)
	return m, p
}

func TestManagerAdvancesThroughPlaylistAndWraps(t *testing.T) {
	urls := []string{"a.wav", "b.wav"}
	data := map[string][]byte{
		"a.wav": track(1),
		"b.wav": track(2),
	}
	m, p := newTestManager(urls, data)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForPlayerState(t, p, player.StateStarted, 2*time.Second)

	// Track 0 finishes and the looper should advance to track 1, then
	// wrap back around to track 0 once track 1 finishes too.
	waitForIndex(t, m, 1, 3*time.Second)
	waitForIndex(t, m, 0, 3*time.Second)

	m.Shutdown()
}

func TestManagerSingleLoopingRepeatsSameTrack(t *testing.T) {
	urls := []string{"a.wav", "b.wav"}
	data := map[string][]byte{
		"a.wav": track(1),
		"b.wav": track(2),
	}
	m, p := newTestManager(urls, data)
	m.SetSingleLooping(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPlayerState(t, p, player.StateStarted, 2*time.Second)

	// Give track 0 time to complete and loop back onto itself a few
	// times; with single-looping on, the index must never move.
	time.Sleep(500 * time.Millisecond)
	if m.CurrentIndex() != 0 {
		t.Fatalf("index = %d, want 0 (single-looping should not advance)", m.CurrentIndex())
	}

	m.Shutdown()
}

func TestManagerNextForcesAdvance(t *testing.T) {
	urls := []string{"a.wav", "b.wav", "c.wav"}
	data := map[string][]byte{
		"a.wav": longTrack(1),
		"b.wav": longTrack(2),
		"c.wav": longTrack(3),
	}
	m, p := newTestManager(urls, data)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForPlayerState(t, p, player.StateStarted, 2*time.Second)

	if err := m.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	waitForIndex(t, m, 1, 3*time.Second)

	if err := m.Prev(); err != nil {
		t.Fatalf("Prev: %v", err)
	}
	waitForIndex(t, m, 0, 3*time.Second)

	m.Shutdown()
}
