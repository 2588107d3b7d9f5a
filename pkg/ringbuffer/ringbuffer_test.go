package ringbuffer

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestNewRoundsToPowerOf2(t *testing.T) {
	tests := []struct {
		input    uint64
		expected uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{100, 128},
		{1024, 1024},
	}

	for _, tt := range tests {
		rb := New(tt.input)
		if rb.Size() != tt.expected {
			t.Errorf("New(%d): got size %d, want %d", tt.input, rb.Size(), tt.expected)
		}
	}
}

// TestFIFOLaw verifies property 1 of §8: writes totalling N bytes
// followed by DoneWrite concatenate, in order, to exactly what a
// sequence of reads returns, then one final OK/0-byte read.
func TestFIFOLaw(t *testing.T) {
	rb := New(64)
	src := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for off := 0; off < len(src); {
			chunk := 1 + rand.Intn(17)
			if off+chunk > len(src) {
				chunk = len(src) - off
			}
			n, status := rb.Write(src[off:off+chunk], time.Second)
			if status != OK || n != chunk {
				t.Errorf("write: n=%d status=%v", n, status)
				return
			}
			off += chunk
		}
		rb.DoneWrite()
	}()

	var got bytes.Buffer
	buf := make([]byte, 13)
	for {
		n, status := rb.Read(buf, time.Second)
		got.Write(buf[:n])
		if status == OK && n == 0 {
			break
		}
		if status != OK {
			t.Fatalf("unexpected status %v", status)
		}
	}
	<-done

	if !bytes.Equal(got.Bytes(), src) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", got.Len(), len(src))
	}
}

// TestAbortWakesReader verifies property 2 of §8.
func TestAbortWakesReader(t *testing.T) {
	rb := New(16)
	result := make(chan Status, 1)
	go func() {
		_, status := rb.Read(make([]byte, 4), 5*time.Second)
		result <- status
	}()

	time.Sleep(20 * time.Millisecond)
	rb.Abort()

	select {
	case status := <-result:
		if status != Abort {
			t.Fatalf("got status %v, want Abort", status)
		}
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Abort")
	}
}

func TestDoneWriteWithEmptyBufferReturnsOK(t *testing.T) {
	rb := New(16)
	rb.DoneWrite()
	n, status := rb.Read(make([]byte, 4), time.Second)
	if n != 0 || status != OK {
		t.Fatalf("got (%d, %v), want (0, OK)", n, status)
	}
}

func TestDoneReadUnblocksWriterWithZero(t *testing.T) {
	rb := New(4)
	// fill the buffer so the writer would otherwise block for space
	if n, status := rb.Write([]byte{1, 2, 3, 4}, time.Second); n != 4 || status != OK {
		t.Fatalf("prefill failed: %d %v", n, status)
	}

	result := make(chan struct {
		n      int
		status Status
	}, 1)
	go func() {
		n, status := rb.Write([]byte{5, 6}, 5*time.Second)
		result <- struct {
			n      int
			status Status
		}{n, status}
	}()

	time.Sleep(20 * time.Millisecond)
	rb.DoneRead()

	select {
	case r := <-result:
		if r.n != 0 || r.status != Done {
			t.Fatalf("got (%d, %v), want (0, Done)", r.n, r.status)
		}
	case <-time.After(time.Second):
		t.Fatal("writer was not woken by DoneRead")
	}
}

func TestWriteTimeout(t *testing.T) {
	rb := New(4)
	rb.Write([]byte{1, 2, 3, 4}, time.Second)

	_, status := rb.Write([]byte{5}, 30*time.Millisecond)
	if status != Timeout {
		t.Fatalf("got %v, want Timeout", status)
	}
}

func TestResetClearsContentsAndFlags(t *testing.T) {
	rb := New(8)
	rb.Write([]byte{1, 2, 3}, time.Second)
	rb.Abort()
	rb.Reset()

	if rb.BytesFilled() != 0 {
		t.Fatalf("BytesFilled after reset = %d, want 0", rb.BytesFilled())
	}
	n, status := rb.Write([]byte{9}, time.Second)
	if n != 1 || status != OK {
		t.Fatalf("write after reset: (%d, %v), want (1, OK)", n, status)
	}
}
