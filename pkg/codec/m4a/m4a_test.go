package m4a

import (
	"context"
	"testing"
)

func TestOpenRejectsEmptyConfig(t *testing.T) {
	d := NewDecoder(context.Background())
	if err := d.Open(nil); err == nil {
		t.Fatal("expected error for empty ASC config")
	}
	if err := d.Open([]byte{}); err == nil {
		t.Fatal("expected error for empty ASC config")
	}
}

func TestBitsIsSixteen(t *testing.T) {
	d := NewDecoder(context.Background())
	if d.Bits() != 16 {
		t.Fatalf("Bits() = %d, want 16", d.Bits())
	}
}

func TestSampleRateChannelsZeroBeforeOpen(t *testing.T) {
	d := NewDecoder(context.Background())
	if d.SampleRate() != 0 {
		t.Fatalf("SampleRate() = %d, want 0 before Open", d.SampleRate())
	}
	if d.Channels() != 0 {
		t.Fatalf("Channels() = %d, want 0 before Open", d.Channels())
	}
}
