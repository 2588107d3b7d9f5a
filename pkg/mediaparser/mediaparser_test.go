package mediaparser

import (
	"context"
	"testing"

	"github.com/liteplayer-go/liteplayer/pkg/container/wav"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

type memSource struct {
	data []byte
	pos  int64
}

func (m *memSource) Open(ctx context.Context, url string, contentPos int64) error {
	m.pos = contentPos
	return nil
}

func (m *memSource) Read(buf []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSource) FileSize() int64 { return int64(len(m.data)) }
func (m *memSource) Seek(offset int64) error {
	m.pos = offset
	return nil
}
func (m *memSource) Close() error { return nil }

func TestParseWAV(t *testing.T) {
	header := wav.BuildHeader(44100, 16, 2, 176400)
	data := append(header, make([]byte, 176400)...)
	src := &memSource{data: data}

	p := New(nil)
	info, err := p.Parse(context.Background(), "file://test.wav", src, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Codec != types.CodecWAV {
		t.Fatalf("codec = %v, want wav", info.Codec)
	}
	if info.DurationMs != 1000 {
		t.Fatalf("duration = %d, want 1000", info.DurationMs)
	}
}

func TestParseMP3(t *testing.T) {
	frame := []byte{0xFF, 0xFB, 0x90, 0x00}
	data := append(append([]byte{}, frame...), make([]byte, 4096)...)
	src := &memSource{data: data}

	p := New(nil)
	info, err := p.Parse(context.Background(), "file://test.mp3", src, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Codec != types.CodecMP3 {
		t.Fatalf("codec = %v, want mp3", info.Codec)
	}
	if info.SampleRate != 44100 {
		t.Fatalf("sample rate = %d, want 44100", info.SampleRate)
	}
}

func TestGetSeekOffsetMP3(t *testing.T) {
	info := types.CodecInfo{Codec: types.CodecMP3, Seekable: true, BytesPerSec: 16000}
	off := GetSeekOffset(info, 2000)
	if off != 32000 {
		t.Fatalf("seek offset = %d, want 32000", off)
	}
}

func TestGetSeekOffsetUnseekable(t *testing.T) {
	info := types.CodecInfo{Codec: types.CodecAAC, Seekable: false}
	if off := GetSeekOffset(info, 1000); off != -1 {
		t.Fatalf("seek offset = %d, want -1", off)
	}
}
