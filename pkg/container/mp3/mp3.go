// Package mp3 implements the MP3 container demuxer of §4.5: locating
// the first frame sync word, decoding the MPEG frame header fields,
// and resynchronizing after a seek. It never decodes audio samples —
// that is the codec wrapper's job (pkg/codec/mp3).
package mp3

import (
	"fmt"

	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// mpegVersion and layer identify the header bits per ISO/IEC 11172-3.
type mpegVersion int

const (
	mpegVersion2_5 mpegVersion = iota
	mpegVersionReserved
	mpegVersion2
	mpegVersion1
)

type mpegLayer int

const (
	layerReserved mpegLayer = iota
	layerIII
	layerII
	layerI
)

// bitrate tables in kbps, each indexed [layer][index]: bitrateTableV1
// is MPEG1, bitrateTableV2 is MPEG2/2.5, matching the standard's two
// bitrate tables.
var bitrateTableV1 = map[mpegLayer][16]int{
	layerI:   {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, -1},
	layerII:  {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, -1},
	layerIII: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
}

var bitrateTableV2 = map[mpegLayer][16]int{
	layerI:   {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, -1},
	layerII:  {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	layerIII: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
}

var sampleRateTable = map[mpegVersion][4]int{
	mpegVersion1:   {44100, 48000, 32000, -1},
	mpegVersion2:   {22050, 24000, 16000, -1},
	mpegVersion2_5: {11025, 12000, 8000, -1},
}

var channelsForMode = [4]int{2, 2, 2, 1} // stereo/joint-stereo/dual/mono

// FrameHeader is a single decoded MPEG audio frame header.
type FrameHeader struct {
	Version    mpegVersion
	Layer      mpegLayer
	BitrateKbps int
	SampleRate int
	Channels   int
	Padding    int
	FrameSize  int // in bytes, including the 4-byte header
}

// FindSyncword scans buf for an 11-bit frame sync (0xFFE, with the next
// two bits identifying a valid, non-reserved version/layer combination)
// and returns its byte offset, or -1 if none is found.
func FindSyncword(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] != 0xFF {
			continue
		}
		b1 := buf[i+1]
		if b1&0xE0 != 0xE0 {
			continue
		}
		version := mpegVersion((b1 >> 3) & 0x3)
		if version == mpegVersionReserved {
			continue
		}
		layer := mpegLayer((b1 >> 1) & 0x3)
		if layer == layerReserved {
			continue
		}
		return i
	}
	return -1
}

// ParseHeader decodes the 4-byte frame header found at the start of
// buf (buf must already be positioned at a validated sync word) and
// computes the frame's total size in bytes.
func ParseHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < 4 {
		return FrameHeader{}, fmt.Errorf("container/mp3: short header")
	}
	if buf[0] != 0xFF || buf[1]&0xE0 != 0xE0 {
		return FrameHeader{}, fmt.Errorf("container/mp3: no sync word at offset 0")
	}

	version := mpegVersion((buf[1] >> 3) & 0x3)
	layer := mpegLayer((buf[1] >> 1) & 0x3)
	if version == mpegVersionReserved || layer == layerReserved {
		return FrameHeader{}, fmt.Errorf("container/mp3: reserved version/layer bits")
	}

	bitrateIdx := (buf[2] >> 4) & 0xF
	sampleRateIdx := (buf[2] >> 2) & 0x3
	padding := int((buf[2] >> 1) & 0x1)
	modeIdx := (buf[3] >> 6) & 0x3

	var bitrate int
	if version == mpegVersion1 {
		bitrate = bitrateTableV1[layer][bitrateIdx]
	} else {
		bitrate = bitrateTableV2[layer][bitrateIdx]
	}
	if bitrate <= 0 {
		return FrameHeader{}, fmt.Errorf("container/mp3: free or invalid bitrate index %d", bitrateIdx)
	}

	sampleRate := sampleRateTable[version][sampleRateIdx]
	if sampleRate <= 0 {
		return FrameHeader{}, fmt.Errorf("container/mp3: invalid sample rate index %d", sampleRateIdx)
	}

	frameSize := frameSizeBytes(version, layer, bitrate, sampleRate, padding)

	return FrameHeader{
		Version:     version,
		Layer:       layer,
		BitrateKbps: bitrate,
		SampleRate:  sampleRate,
		Channels:    channelsForMode[modeIdx],
		Padding:     padding,
		FrameSize:   frameSize,
	}, nil
}

func frameSizeBytes(version mpegVersion, layer mpegLayer, bitrateKbps, sampleRate, padding int) int {
	bitsPerSec := bitrateKbps * 1000
	if layer == layerI {
		return (12*bitsPerSec/sampleRate + padding) * 4
	}
	if layer == layerIII && version != mpegVersion1 {
		// MPEG-2/2.5 Layer III frames carry 576 samples, half of MPEG-1's.
		return 72*bitsPerSec/sampleRate + padding
	}
	return 144*bitsPerSec/sampleRate + padding
}

// Info is the demuxer's published record for a CBR-assumed MP3
// resource (liteplayer does not parse Xing/VBRI VBR headers; bitrate
// is taken from the first frame, matching the original extractor).
type Info struct {
	Header             FrameHeader
	FrameStartOffset   int64
	ContentLen         int64
}

// Probe scans buf (read from the start of the resource) for the first
// valid frame and returns its header plus byte offset. Skips any
// leading ID3v2 tag.
func Probe(buf []byte) (Info, error) {
	start := 0
	if len(buf) >= 10 && string(buf[0:3]) == "ID3" {
		size := int(buf[6]&0x7f)<<21 | int(buf[7]&0x7f)<<14 | int(buf[8]&0x7f)<<7 | int(buf[9]&0x7f)
		start = 10 + size
	}
	if start >= len(buf) {
		return Info{}, fmt.Errorf("container/mp3: no frame data after ID3 tag")
	}

	offset := FindSyncword(buf[start:])
	if offset < 0 {
		return Info{}, fmt.Errorf("container/mp3: no sync word found")
	}
	absOffset := start + offset

	hdr, err := ParseHeader(buf[absOffset:])
	if err != nil {
		return Info{}, err
	}

	return Info{
		Header:           hdr,
		FrameStartOffset: int64(absOffset),
	}, nil
}

// ToCodecInfo projects a probed Info into the engine-wide record,
// assuming CBR (bytes_per_sec = bitrate/8) per the original's
// CBR-only duration estimate.
func (i Info) ToCodecInfo(contentLen int64) types.CodecInfo {
	bytesPerSec := i.Header.BitrateKbps * 1000 / 8
	durationMs := 0
	audioBytes := contentLen - i.FrameStartOffset
	if bytesPerSec > 0 && audioBytes > 0 {
		durationMs = int(audioBytes * 1000 / int64(bytesPerSec))
	}
	return types.CodecInfo{
		Codec:       types.CodecMP3,
		SampleRate:  i.Header.SampleRate,
		Channels:    i.Header.Channels,
		Bits:        16,
		ContentPos:  i.FrameStartOffset,
		ContentLen:  contentLen,
		BytesPerSec: bytesPerSec,
		DurationMs:  durationMs,
		Seekable:    true,
	}
}

// SeekOffset implements the §4.9 MP3 seek rule: offset = bytes_per_sec
// * (msec/1000). The decoder resyncs from there via FindSyncword
// rather than trusting the computed offset to land exactly on a frame
// boundary.
func SeekOffset(bytesPerSec int, msec int) int64 {
	return int64(bytesPerSec) * int64(msec) / 1000
}

// Resync re-locates the next valid frame boundary in buf, used after a
// seek lands mid-frame or after a corrupted frame is detected. It
// validates the candidate frame's header is internally consistent
// (non-reserved) but, matching the original decoder's documented
// behaviour, does not verify a second consecutive sync word.
func Resync(buf []byte) (offset int, hdr FrameHeader, err error) {
	offset = FindSyncword(buf)
	if offset < 0 {
		return -1, FrameHeader{}, fmt.Errorf("container/mp3: resync failed, no sync word in buffer")
	}
	hdr, err = ParseHeader(buf[offset:])
	if err != nil {
		return -1, FrameHeader{}, err
	}
	return offset, hdr, nil
}
