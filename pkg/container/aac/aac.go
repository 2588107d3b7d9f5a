// Package aac implements the ADTS elementary-stream demuxer of §4.5:
// finding the 12-bit ADTS sync word and decoding the fixed+variable
// header fields needed to size each frame.
package aac

import (
	"fmt"

	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// HeaderSize is the ADTS fixed+variable header length with no CRC
// (protection_absent=1), the layout liteplayer always produces/expects.
const HeaderSize = 7

var sampleRateTable = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
	-1, -1, -1,
}

// FrameHeader is one decoded ADTS frame header.
type FrameHeader struct {
	SampleRate int
	Channels   int
	FrameSize  int // total frame length including the 7-byte header
}

// FindSyncword scans buf for the 12-bit ADTS sync word 0xFFF (with the
// layer bits confirming MPEG-4 ADTS, not MPEG-1/2 audio) and returns
// its byte offset, or -1.
func FindSyncword(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != 0xFF {
			continue
		}
		if buf[i+1]&0xF6 != 0xF0 {
			continue
		}
		return i
	}
	return -1
}

// ParseFrame decodes the ADTS header at the start of buf.
func ParseFrame(buf []byte) (FrameHeader, error) {
	if len(buf) < HeaderSize {
		return FrameHeader{}, fmt.Errorf("container/aac: short header")
	}
	if buf[0] != 0xFF || buf[1]&0xF0 != 0xF0 {
		return FrameHeader{}, fmt.Errorf("container/aac: no ADTS sync word")
	}

	sampleRateIdx := (buf[2] >> 2) & 0xF
	sampleRate := sampleRateTable[sampleRateIdx]
	if sampleRate <= 0 {
		return FrameHeader{}, fmt.Errorf("container/aac: invalid sample rate index %d", sampleRateIdx)
	}

	channelCfg := ((buf[2] & 0x1) << 2) | ((buf[3] >> 6) & 0x3)
	channels := int(channelCfg)
	if channels == 0 {
		channels = 2 // channel config 0 means "defined in PCE"; assume stereo
	}

	frameLen := (int(buf[3]&0x3) << 11) | (int(buf[4]) << 3) | (int(buf[5]) >> 5)
	if frameLen < HeaderSize {
		return FrameHeader{}, fmt.Errorf("container/aac: implausible frame length %d", frameLen)
	}

	return FrameHeader{
		SampleRate: sampleRate,
		Channels:   channels,
		FrameSize:  frameLen,
	}, nil
}

// Info is the demuxer's published record for an ADTS resource.
type Info struct {
	Header           FrameHeader
	FrameStartOffset int64
}

// Probe scans buf for the first valid ADTS frame.
func Probe(buf []byte) (Info, error) {
	offset := FindSyncword(buf)
	if offset < 0 {
		return Info{}, fmt.Errorf("container/aac: no ADTS sync word found")
	}
	hdr, err := ParseFrame(buf[offset:])
	if err != nil {
		return Info{}, err
	}
	return Info{Header: hdr, FrameStartOffset: int64(offset)}, nil
}

// ToCodecInfo projects a probed Info into the engine-wide record. AAC
// duration/seek is frame-count based rather than byte-rate based since
// ADTS is typically VBR; liteplayer reports duration as unknown (0)
// and treats raw ADTS streams as non-seekable, matching the original's
// "unsupport seek now" comment for the streaming elementary format.
func (i Info) ToCodecInfo(contentLen int64) types.CodecInfo {
	return types.CodecInfo{
		Codec:      types.CodecAAC,
		SampleRate: i.Header.SampleRate,
		Channels:   i.Header.Channels,
		Bits:       16,
		ContentPos: i.FrameStartOffset,
		ContentLen: contentLen,
		Seekable:   false,
	}
}

// Resync re-locates the next valid ADTS frame boundary, used when the
// decoder's internal buffer is discarded after an error; mirrors the
// MP3 demuxer's single-syncword resync semantics (no double-sync
// verification).
func Resync(buf []byte) (offset int, hdr FrameHeader, err error) {
	offset = FindSyncword(buf)
	if offset < 0 {
		return -1, FrameHeader{}, fmt.Errorf("container/aac: resync failed, no sync word in buffer")
	}
	hdr, err = ParseFrame(buf[offset:])
	if err != nil {
		return -1, FrameHeader{}, err
	}
	return offset, hdr, nil
}
