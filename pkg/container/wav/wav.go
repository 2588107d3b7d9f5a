// Package wav parses and builds the canonical 44-byte WAV/RIFF header
// described in §4.5: RIFF/WAVE/fmt /data chunk IDs, PCM format only,
// mono or stereo.
package wav

import (
	"encoding/binary"
	"fmt"

	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// HeaderSize is sizeof(wav_header_t): 12 (RIFF) + 24 (fmt ) + 8 (data ID/size).
const HeaderSize = 44

const (
	idRIFF = "RIFF"
	idWAVE = "WAVE"
	idFMT  = "fmt "
	idDATA = "data"

	fmtPCM = 1
)

// Info is the parsed result of a WAV header, matching the detail the
// media parser attaches to a CodecInfo for CodecWAV resources.
type Info struct {
	Channels   int
	SampleRate int
	Bits       int
	DataSize   int64
	DataOffset int64 // always HeaderSize for a canonical header
	BlockAlign int
	ByteRate   int
}

// ParseHeader validates and decodes exactly HeaderSize bytes of buf. It
// rejects anything but canonical PCM mono/stereo WAV, matching the
// original extractor's strict field-by-field check.
func ParseHeader(buf []byte) (Info, error) {
	if len(buf) < HeaderSize {
		return Info{}, fmt.Errorf("container/wav: short header: %d bytes", len(buf))
	}

	if string(buf[0:4]) != idRIFF {
		return Info{}, fmt.Errorf("container/wav: missing RIFF chunk")
	}
	if string(buf[8:12]) != idWAVE {
		return Info{}, fmt.Errorf("container/wav: missing WAVE format")
	}
	if string(buf[12:16]) != idFMT {
		return Info{}, fmt.Errorf("container/wav: missing fmt chunk")
	}
	fmtChunkSize := binary.LittleEndian.Uint32(buf[16:20])
	if fmtChunkSize != 16 {
		return Info{}, fmt.Errorf("container/wav: unsupported fmt chunk size %d (extensible WAV not supported)", fmtChunkSize)
	}
	audioFormat := binary.LittleEndian.Uint16(buf[20:22])
	if audioFormat != fmtPCM {
		return Info{}, fmt.Errorf("container/wav: unsupported audio format %d, want PCM", audioFormat)
	}
	channels := binary.LittleEndian.Uint16(buf[22:24])
	if channels != 1 && channels != 2 {
		return Info{}, fmt.Errorf("container/wav: unsupported channel count %d", channels)
	}
	sampleRate := binary.LittleEndian.Uint32(buf[24:28])
	byteRate := binary.LittleEndian.Uint32(buf[28:32])
	blockAlign := binary.LittleEndian.Uint16(buf[32:34])
	bits := binary.LittleEndian.Uint16(buf[34:36])
	if string(buf[36:40]) != idDATA {
		return Info{}, fmt.Errorf("container/wav: missing data chunk")
	}
	dataSize := binary.LittleEndian.Uint32(buf[40:44])

	return Info{
		Channels:   int(channels),
		SampleRate: int(sampleRate),
		Bits:       int(bits),
		DataSize:   int64(dataSize),
		DataOffset: HeaderSize,
		BlockAlign: int(blockAlign),
		ByteRate:   int(byteRate),
	}, nil
}

// BuildHeader is the inverse of ParseHeader: it renders a canonical
// 44-byte RIFF/WAVE header for the given format and payload size. Used
// by property-based round-trip tests and by any sink-side WAV writer.
func BuildHeader(sampleRate, bits, channels, dataSize int) []byte {
	buf := make([]byte, HeaderSize)
	blockAlign := bits * channels / 8
	byteRate := blockAlign * sampleRate

	copy(buf[0:4], idRIFF)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dataSize+HeaderSize-8))
	copy(buf[8:12], idWAVE)
	copy(buf[12:16], idFMT)
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], fmtPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bits))
	copy(buf[36:40], idDATA)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// ToCodecInfo projects a parsed Info into the engine-wide CodecInfo
// record, computing the duration and seekability the media parser
// needs regardless of container type.
func (i Info) ToCodecInfo(contentLen int64) types.CodecInfo {
	bytesPerSec := i.ByteRate
	if bytesPerSec == 0 {
		bytesPerSec = i.SampleRate * i.Channels * i.Bits / 8
	}
	durationMs := 0
	if bytesPerSec > 0 {
		durationMs = int(i.DataSize * 1000 / int64(bytesPerSec))
	}
	return types.CodecInfo{
		Codec:       types.CodecWAV,
		SampleRate:  i.SampleRate,
		Channels:    i.Channels,
		Bits:        i.Bits,
		ContentPos:  i.DataOffset,
		ContentLen:  contentLen,
		BytesPerSec: bytesPerSec,
		DurationMs:  durationMs,
		Seekable:    true,
	}
}

// SeekOffset implements the MP3/WAV seek rule of §4.9:
// offset = bytes_per_sec * (msec/1000), clamped to the data region.
func (i Info) SeekOffset(msec int) int64 {
	bytesPerSec := i.ByteRate
	if bytesPerSec == 0 {
		bytesPerSec = i.SampleRate * i.Channels * i.Bits / 8
	}
	off := int64(bytesPerSec) * int64(msec) / 1000
	// Align down to a whole sample frame so the decoder never starts
	// mid-frame.
	frame := int64(i.BlockAlign)
	if frame > 0 {
		off -= off % frame
	}
	if off > i.DataSize {
		off = i.DataSize
	}
	return off
}
