// Package mediaparser identifies a resource's codec, extracts its
// header/seek tables via the container demuxers, and computes the
// duration and seek offsets the player needs, per §4's Media Parser
// component (12% of the original).
package mediaparser

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/container/aac"
	"github.com/liteplayer-go/liteplayer/pkg/container/m4a"
	"github.com/liteplayer-go/liteplayer/pkg/container/mp3"
	"github.com/liteplayer-go/liteplayer/pkg/container/wav"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// probeBufSize is how much of the resource's head we read to sniff
// the container. Large enough to hold ID3v2 tags plus the first MP3
// frame header, or the WAV header, or enough leading MP4 boxes to
// reach ftyp; M4A's moov is read separately via seeking once sniffed.
const probeBufSize = 64 * 1024

// adapterReadSeeker adapts an adapter.Source's (Read, Seek(offset)
// error) pair into the io.ReadSeeker the M4A atom walker needs,
// tracking the current position itself since adapter.Source does not
// report it.
type adapterReadSeeker struct {
	src adapter.Source
	pos int64
	len int64
}

func (a *adapterReadSeeker) Read(p []byte) (int, error) {
	n, err := a.src.Read(p)
	a.pos += int64(n)
	if n == 0 && err == nil && len(p) > 0 {
		// adapter.Source may report EOF as 0 bytes with no error.
		return 0, io.EOF
	}
	return n, err
}

func (a *adapterReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = a.pos + offset
	case io.SeekEnd:
		target = a.len + offset
	default:
		return 0, fmt.Errorf("mediaparser: invalid whence %d", whence)
	}
	if err := a.src.Seek(target); err != nil {
		return 0, err
	}
	a.pos = target
	return a.pos, nil
}

// Parser runs the identify-and-extract pass for one resource.
type Parser struct {
	log *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{log: logger.With("component", "mediaparser")}
}

// Parse sniffs url's container format by reading its head through
// src, dispatches to the matching demuxer, and returns the resulting
// CodecInfo. For M4A the atom walker jumps around the resource (e.g.
// to a moov-at-tail location) through src's own Seek method.
func (p *Parser) Parse(ctx context.Context, url string, src adapter.Source, contentLen int64) (types.CodecInfo, error) {
	if err := src.Open(ctx, url, 0); err != nil {
		return types.CodecInfo{}, fmt.Errorf("mediaparser: open: %w", err)
	}

	head := make([]byte, probeBufSize)
	n, err := io.ReadFull(&adapterReadSeeker{src: src, len: contentLen}, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return types.CodecInfo{}, fmt.Errorf("mediaparser: probe read: %w", err)
	}
	head = head[:n]

	switch detectCodec(head) {
	case types.CodecWAV:
		info, err := wav.ParseHeader(head)
		if err != nil {
			return types.CodecInfo{}, fmt.Errorf("mediaparser: wav: %w", err)
		}
		return info.ToCodecInfo(contentLen), nil

	case types.CodecMP3:
		info, err := mp3.Probe(head)
		if err != nil {
			return types.CodecInfo{}, fmt.Errorf("mediaparser: mp3: %w", err)
		}
		return info.ToCodecInfo(contentLen), nil

	case types.CodecAAC:
		info, err := aac.Probe(head)
		if err != nil {
			return types.CodecInfo{}, fmt.Errorf("mediaparser: aac: %w", err)
		}
		return info.ToCodecInfo(contentLen), nil

	case types.CodecM4A:
		sr := &adapterReadSeeker{src: src, len: contentLen}
		res, err := m4a.ParseHeaderTwoPass(sr)
		if err != nil {
			return types.CodecInfo{}, fmt.Errorf("mediaparser: m4a: %w", err)
		}
		return res.ToCodecInfo(contentLen), nil

	default:
		return types.CodecInfo{}, fmt.Errorf("mediaparser: unrecognized container")
	}
}

// detectCodec sniffs head's magic bytes. Order matters: WAV/RIFF and
// M4A/ftyp have unambiguous magics; MP3 (optionally ID3-tagged) and
// raw ADTS are distinguished by their respective sync words.
func detectCodec(head []byte) types.Codec {
	if len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE" {
		return types.CodecWAV
	}
	if len(head) >= 8 && string(head[4:8]) == "ftyp" {
		return types.CodecM4A
	}
	if _, err := mp3.Probe(head); err == nil {
		return types.CodecMP3
	}
	if aac.FindSyncword(head) >= 0 {
		if _, err := aac.Probe(head); err == nil {
			return types.CodecAAC
		}
	}
	return types.CodecUnknown
}

// GetSeekOffset computes the byte offset to seek to for msec into the
// resource, per §4.9's codec-specific rule. Returns -1 if the codec
// isn't seekable (raw ADTS) or the tables can't satisfy the request.
func GetSeekOffset(info types.CodecInfo, msec int) int64 {
	return GetSeekPoint(info, msec).ByteOffset
}

// SeekPoint is everything the player needs to rebuild a playback
// session at msec: ByteOffset relative to CodecInfo.ContentPos (so
// every caller reopens the Source at ContentPos+ByteOffset regardless
// of codec), and (M4A only) the stsz-table sample index the decoder
// should resume reading from. SampleIndex is -1 for formats the
// decoder doesn't track by sample.
type SeekPoint struct {
	ByteOffset  int64
	SampleIndex int
}

// GetSeekPoint is GetSeekOffset plus the M4A sample index, needed so
// the player can realign pkg/decoder's sequential stsz cursor on seek
// (§4.8's seek protocol step (c)).
func GetSeekPoint(info types.CodecInfo, msec int) SeekPoint {
	fail := SeekPoint{ByteOffset: -1, SampleIndex: -1}
	if !info.Seekable {
		return fail
	}
	switch info.Codec {
	case types.CodecMP3, types.CodecWAV:
		return SeekPoint{
			ByteOffset:  int64(info.BytesPerSec) * int64(msec) / 1000,
			SampleIndex: -1,
		}
	case types.CodecM4A:
		if info.M4A == nil {
			return fail
		}
		sampleIndex, offset, err := m4a.GetSeekOffset(*info.M4A, msec)
		if err != nil {
			return fail
		}
		// m4a.GetSeekOffset's fileOffset is file-absolute (derived from
		// stco, which stores absolute chunk offsets); rebase it to be
		// ContentPos-relative like the MP3/WAV branch above.
		return SeekPoint{ByteOffset: offset - info.ContentPos, SampleIndex: sampleIndex}
	default:
		return fail
	}
}
