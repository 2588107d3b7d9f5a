package wav

import (
	"encoding/binary"
	"testing"

	"github.com/liteplayer-go/liteplayer/pkg/codec"
)

func TestDecodeRoundTripsInterleavedSamples(t *testing.T) {
	const channels = 2
	const bits = 16
	pcm := make([]byte, 8) // 2 frames of 2 channels * 2 bytes
	binary.LittleEndian.PutUint16(pcm[0:2], 100)
	binary.LittleEndian.PutUint16(pcm[2:4], 200)
	binary.LittleEndian.PutUint16(pcm[4:6], 300)
	binary.LittleEndian.PutUint16(pcm[6:8], 400)

	d := NewDecoder(44100, channels, bits)
	if err := d.Feed(pcm); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	out := make([]byte, 64)
	n, status, err := d.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if status != 0 {
		t.Fatalf("status = %v, want StatusOK", status)
	}
	if n != len(pcm) {
		t.Fatalf("decoded %d bytes, want %d", n, len(pcm))
	}
	for i := 0; i < len(pcm); i++ {
		if out[i] != pcm[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], pcm[i])
		}
	}
}

func TestDecodeEmptyStagedReturnsDone(t *testing.T) {
	d := NewDecoder(44100, 2, 16)
	out := make([]byte, 16)
	n, status, err := d.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	if status != codec.StatusDone {
		t.Fatalf("status = %v, want StatusDone", status)
	}
}
