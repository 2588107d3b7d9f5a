package decoder

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/ringbuffer"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

func mp3Frame() []byte {
	header := []byte{0xFF, 0xFB, 0x90, 0x00} // MPEG1 Layer III, 128kbps, 44100Hz, stereo -> FrameSize 417
	frame := make([]byte, 417)
	copy(frame, header)
	for i := 4; i < len(frame); i++ {
		frame[i] = byte(i)
	}
	return frame
}

func TestMP3NextFrameSkipsGarbageAndExtractsFrame(t *testing.T) {
	rb := ringbuffer.New(4096)
	d, err := New(Config{
		Tag:  "decoder",
		Info: types.CodecInfo{Codec: types.CodecMP3},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Element().SetInputRingbuf(rb)

	frame := mp3Frame()
	payload := append([]byte{0x00, 0x01, 0x02}, frame...)
	payload = append(payload, frame...)
	if _, status := rb.Write(payload, time.Second); status != ringbuffer.OK {
		t.Fatalf("seed ringbuffer: status=%v", status)
	}
	rb.DoneWrite()

	got1, result, done := d.nextFrame()
	if result != 0 /* element.ProcessOK */ || done {
		t.Fatalf("first nextFrame: result=%v done=%v", result, done)
	}
	if len(got1) != len(frame) {
		t.Fatalf("first frame len = %d, want %d", len(got1), len(frame))
	}
	for i := range frame {
		if got1[i] != frame[i] {
			t.Fatalf("first frame byte %d = %d, want %d", i, got1[i], frame[i])
		}
	}

	got2, result, done := d.nextFrame()
	if result != 0 || done {
		t.Fatalf("second nextFrame: result=%v done=%v", result, done)
	}
	if len(got2) != len(frame) {
		t.Fatalf("second frame len = %d, want %d", len(got2), len(frame))
	}

	_, result, done = d.nextFrame()
	if !done {
		t.Fatalf("expected done after draining both frames, result=%v done=%v", result, done)
	}
}

func TestM4ANextFrameWalksSampleSizeTable(t *testing.T) {
	rb := ringbuffer.New(4096)
	sizes := []uint16{10, 20, 15}
	d, err := New(Config{
		Tag: "decoder",
		Info: types.CodecInfo{
			Codec: types.CodecM4A,
			M4A:   &types.M4AInfo{ASC: []byte{0x12, 0x10}, SampleSize: sizes},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Element().SetInputRingbuf(rb)

	var all []byte
	for i, sz := range sizes {
		chunk := make([]byte, sz)
		for j := range chunk {
			chunk[j] = byte(i + 1)
		}
		all = append(all, chunk...)
	}
	if _, status := rb.Write(all, time.Second); status != ringbuffer.OK {
		t.Fatalf("seed ringbuffer: status=%v", status)
	}
	rb.DoneWrite()

	for i, sz := range sizes {
		frame, result, done := d.nextFrame()
		if result != 0 || done {
			t.Fatalf("sample %d: result=%v done=%v", i, result, done)
		}
		if len(frame) != int(sz) {
			t.Fatalf("sample %d: len=%d, want %d", i, len(frame), sz)
		}
		for _, b := range frame {
			if b != byte(i+1) {
				t.Fatalf("sample %d: byte=%d, want %d", i, b, i+1)
			}
		}
	}

	_, result, done := d.nextFrame()
	if !done {
		t.Fatalf("expected done after all samples consumed, result=%v done=%v", result, done)
	}
}

func TestWAVPipelineReportsMusicInfoAndFlushesPCM(t *testing.T) {
	inRb := ringbuffer.New(8192)
	d, err := NewWAV(Config{
		Tag: "decoder",
		Info: types.CodecInfo{
			Codec:      types.CodecWAV,
			SampleRate: 44100,
			Channels:   2,
			Bits:       16,
		},
		OutRbSize: 65536,
	})
	if err != nil {
		t.Fatalf("NewWAV: %v", err)
	}
	d.Element().SetInputRingbuf(inRb)

	var events []types.Event
	var mu sync.Mutex
	d.Element().SetEventListener(func(evt types.Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Element().Run(ctx)
	d.Element().Resume()

	pcm := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(pcm[i*4:], uint16(100*(i+1)))
		binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(200*(i+1)))
	}
	if _, status := inRb.Write(pcm, time.Second); status != ringbuffer.OK {
		t.Fatalf("write pcm: status=%v", status)
	}
	inRb.DoneWrite()

	if !d.Element().WaitForState(types.ElementStateFinished, 2*time.Second) {
		t.Fatal("decoder element did not reach Finished state")
	}

	out := make([]byte, 32)
	n, status := d.Element().OutputRingbuf().Read(out, time.Second)
	if status != ringbuffer.OK {
		t.Fatalf("read decoded pcm: status=%v", status)
	}
	if n != len(pcm) {
		t.Fatalf("decoded %d bytes, want %d", n, len(pcm))
	}

	mu.Lock()
	defer mu.Unlock()
	sawMusicInfo := false
	for _, evt := range events {
		if evt.Type == types.EventReportMusicInfo {
			sawMusicInfo = true
			if evt.MusicInfo == nil || evt.MusicInfo.SampleRate != 44100 || evt.MusicInfo.Channels != 2 {
				t.Fatalf("unexpected music info: %+v", evt.MusicInfo)
			}
		}
	}
	if !sawMusicInfo {
		t.Fatal("expected EventReportMusicInfo")
	}
}
