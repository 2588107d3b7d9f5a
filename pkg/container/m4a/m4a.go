// Package m4a implements the MP4/M4A atom walker of §4.5: it descends
// into moov/trak/mdia/minf/stbl, captures the stsz/stts/stsc/stco
// sample tables and the esds Audio Specific Config, and handles the
// "moov after mdat" (non-fast-start) layout with a second pass.
package m4a

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/liteplayer-go/liteplayer/pkg/types"
)

const (
	stszMaxBuffer = 128 * 1024 // matches the original extractor's memory ceiling
)

var asciiSampleRates = [12]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000,
}

type boxHeader struct {
	size   int64
	name   string
	offset int64 // file offset of the size field (box start)
}

func readBoxHeader(r io.ReadSeeker) (boxHeader, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return boxHeader{}, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return boxHeader{}, err
	}
	size := int64(binary.BigEndian.Uint32(buf[0:4]))
	if size < 8 {
		return boxHeader{}, fmt.Errorf("container/m4a: implausible box size %d at offset %d", size, offset)
	}
	return boxHeader{size: size, name: string(buf[4:8]), offset: offset}, nil
}

type boxHandler func(r io.ReadSeeker, contentStart, contentSize int64) error

// walkBoxes reads sibling boxes starting at the reader's current
// position until rangeEnd, invoking the handler registered for a
// matching name. Handlers may read a prefix of their box's content;
// walkBoxes always repositions to the next sibling afterward.
func walkBoxes(r io.ReadSeeker, rangeEnd int64, handlers map[string]boxHandler) error {
	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if pos >= rangeEnd {
			return nil
		}
		hdr, err := readBoxHeader(r)
		if err != nil {
			return err
		}
		contentStart := hdr.offset + 8
		contentSize := hdr.size - 8

		if h, ok := handlers[hdr.name]; ok {
			if err := h(r, contentStart, contentSize); err != nil {
				return fmt.Errorf("container/m4a: box %q: %w", hdr.name, err)
			}
		}

		next := hdr.offset + hdr.size
		if _, err := r.Seek(next, io.SeekStart); err != nil {
			return err
		}
	}
}

// Result is everything the media parser needs once ParseHeader returns:
// the sample tables plus where the compressed audio payload lives.
type Result struct {
	Info          types.M4AInfo
	MdatOffset    int64 // byte offset of the mdat box (header included)
	MdatSize      int64
	SampleRate    int
	Channels      int
	Bits          int
	DurationMs    int
}

// ParseHeader walks the top-level boxes of r looking for ftyp, then
// either moov (fast-start: moov precedes mdat, the common case) or
// mdat (moov-at-tail: the walker records where moov must be and
// returns an error carrying that offset, which MoovTailOffset extracts;
// ParseHeaderTwoPass then parses moov directly at that offset).
func ParseHeader(r io.ReadSeeker) (Result, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Result{}, err
	}

	ftyp, err := readBoxHeader(r)
	if err != nil {
		return Result{}, err
	}
	if ftyp.name != "ftyp" {
		return Result{}, fmt.Errorf("container/m4a: not an M4A resource (expected ftyp, got %q)", ftyp.name)
	}
	if _, err := r.Seek(ftyp.offset+ftyp.size, io.SeekStart); err != nil {
		return Result{}, err
	}

	for {
		hdr, err := readBoxHeader(r)
		if err != nil {
			return Result{}, err
		}
		switch hdr.name {
		case "mdat":
			return Result{
				MdatOffset: hdr.offset,
				MdatSize:   hdr.size,
			}, errMoovAtTail{moovOffset: hdr.offset + hdr.size}
		case "moov":
			info, err := parseMoov(r, hdr.offset+8, hdr.size-8)
			if err != nil {
				return Result{}, err
			}
			res := Result{Info: info}
			// mdat conventionally follows moov directly; scan forward
			// for it to learn the content offset/size.
			if _, err := r.Seek(hdr.offset+hdr.size, io.SeekStart); err != nil {
				return Result{}, err
			}
			mdat, err := findMdat(r)
			if err != nil {
				return Result{}, err
			}
			res.MdatOffset = mdat.offset
			res.MdatSize = mdat.size
			applyASC(&res, info)
			return res, nil
		default:
			if _, err := r.Seek(hdr.offset+hdr.size, io.SeekStart); err != nil {
				return Result{}, err
			}
		}
	}
}

// errMoovAtTail signals ParseHeader hit mdat before moov; moovOffset
// is where the caller must seek to parse moov (see ParseHeaderTwoPass).
type errMoovAtTail struct{ moovOffset int64 }

func (e errMoovAtTail) Error() string {
	return fmt.Sprintf("container/m4a: moov is at tail, retry at offset %d", e.moovOffset)
}

// MoovTailOffset extracts the retry offset from an error returned by
// ParseHeader, or ok=false if err is not a moov-at-tail signal.
func MoovTailOffset(err error) (offset int64, ok bool) {
	if e, isTail := err.(errMoovAtTail); isTail {
		return e.moovOffset, true
	}
	return 0, false
}

// ParseHeaderTwoPass drives the full moov-at-tail protocol: it calls
// ParseHeader once, and if the result signals the tail case, seeks to
// the reported offset and parses moov directly from there.
func ParseHeaderTwoPass(r io.ReadSeeker) (Result, error) {
	res, err := ParseHeader(r)
	if err == nil {
		return res, nil
	}
	moovOffset, ok := MoovTailOffset(err)
	if !ok {
		return Result{}, err
	}

	if _, err := r.Seek(moovOffset, io.SeekStart); err != nil {
		return Result{}, err
	}
	hdr, err := readBoxHeader(r)
	if err != nil {
		return Result{}, err
	}
	if hdr.name != "moov" {
		return Result{}, fmt.Errorf("container/m4a: expected moov at recorded tail offset %d, found %q", moovOffset, hdr.name)
	}
	info, err := parseMoov(r, hdr.offset+8, hdr.size-8)
	if err != nil {
		return Result{}, err
	}

	final := Result{Info: info, MdatOffset: res.MdatOffset, MdatSize: res.MdatSize}
	applyASC(&final, info)
	return final, nil
}

func findMdat(r io.ReadSeeker) (boxHeader, error) {
	for {
		hdr, err := readBoxHeader(r)
		if err != nil {
			return boxHeader{}, err
		}
		if hdr.name == "mdat" {
			return hdr, nil
		}
		if _, err := r.Seek(hdr.offset+hdr.size, io.SeekStart); err != nil {
			return boxHeader{}, err
		}
	}
}

func applyASC(res *Result, info types.M4AInfo) {
	sr, ch, err := parseASC(info.ASC)
	if err == nil {
		res.SampleRate = sr
		res.Channels = ch
	}
	res.Bits = 16
	if info.TimeScale > 0 {
		totalMs := int64(0)
		for _, run := range info.TimeToSample {
			totalMs += int64(run.SampleCount) * int64(run.SampleDuration) * 1000 / int64(info.TimeScale)
		}
		res.DurationMs = int(totalMs)
	}
}

// parseASC decodes the 2 leading bytes of an Audio Specific Config:
// a 5-bit object type, 4-bit sample-rate index, 4-bit channel count.
func parseASC(asc []byte) (sampleRate, channels int, err error) {
	if len(asc) < 2 {
		return 0, 0, fmt.Errorf("container/m4a: ASC too short")
	}
	config := uint16(asc[0])<<8 | uint16(asc[1])
	sampleRateIdx := (config >> 7) & 0x0F
	channelsNum := (config >> 3) & 0x0F
	if sampleRateIdx >= 12 {
		return 0, 0, fmt.Errorf("container/m4a: ASC sample rate index %d out of range", sampleRateIdx)
	}
	return asciiSampleRates[sampleRateIdx], int(channelsNum), nil
}

func parseMoov(r io.ReadSeeker, start, size int64) (types.M4AInfo, error) {
	info := types.M4AInfo{}

	handlers := map[string]boxHandler{
		"trak": func(r io.ReadSeeker, cs, csz int64) error {
			return walkBoxes(r, cs+csz, map[string]boxHandler{
				"mdia": func(r io.ReadSeeker, cs, csz int64) error {
					return walkBoxes(r, cs+csz, map[string]boxHandler{
						"mdhd": func(r io.ReadSeeker, cs, csz int64) error {
							return parseMdhd(r, &info)
						},
						"minf": func(r io.ReadSeeker, cs, csz int64) error {
							return walkBoxes(r, cs+csz, map[string]boxHandler{
								"stbl": func(r io.ReadSeeker, cs, csz int64) error {
									return parseStbl(r, cs, csz, &info)
								},
							})
						},
					})
				},
			})
		},
	}

	if err := walkBoxes(r, start+size, handlers); err != nil {
		return types.M4AInfo{}, err
	}
	if info.TimeScale == 0 {
		return types.M4AInfo{}, fmt.Errorf("container/m4a: moov parsed without a sound track")
	}
	return info, nil
}

func parseMdhd(r io.ReadSeeker, info *types.M4AInfo) error {
	var buf [24]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	info.TimeScale = binary.BigEndian.Uint32(buf[12:16])
	return nil
}

func parseStbl(r io.ReadSeeker, start, size int64, info *types.M4AInfo) error {
	return walkBoxes(r, start+size, map[string]boxHandler{
		"stsd": func(r io.ReadSeeker, cs, csz int64) error {
			return parseStsd(r, cs, csz, info)
		},
		"stts": func(r io.ReadSeeker, cs, csz int64) error {
			return parseStts(r, info)
		},
		"stsc": func(r io.ReadSeeker, cs, csz int64) error {
			return parseStsc(r, info)
		},
		"stsz": func(r io.ReadSeeker, cs, csz int64) error {
			return parseStsz(r, info)
		},
		"stco": func(r io.ReadSeeker, cs, csz int64) error {
			return parseStco(r, info)
		},
	})
}

func parseStsd(r io.ReadSeeker, start, size int64, info *types.M4AInfo) error {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	entries := binary.BigEndian.Uint32(head[4:8])
	if entries != 1 {
		return fmt.Errorf("stsd: expected exactly 1 sample description entry, got %d", entries)
	}
	return walkBoxes(r, start+size, map[string]boxHandler{
		"mp4a": func(r io.ReadSeeker, cs, csz int64) error {
			return parseMp4a(r, cs, csz, info)
		},
	})
}

func parseMp4a(r io.ReadSeeker, start, size int64, info *types.M4AInfo) error {
	var buf [28]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	// channels at buf[16:18], bits at buf[18:20] (both big-endian
	// uint16), per the sample-entry-plus-AudioSampleEntry layout;
	// these are superseded by the authoritative ASC once esds parses.
	_ = binary.BigEndian.Uint16(buf[16:18])
	_ = binary.BigEndian.Uint16(buf[18:20])

	return walkBoxes(r, start+size, map[string]boxHandler{
		"esds": func(r io.ReadSeeker, cs, csz int64) error {
			return parseEsds(r, csz, info)
		},
	})
}

const (
	tagES          = 0x03
	tagDecConfig   = 0x04
	tagDecSpecific = 0x05
	tagSLConfig    = 0x06
)

// parseEsds decodes the MP4ES_Descriptor tree to recover the Audio
// Specific Config embedded in MP4DecSpecificInfoDescriptor.
func parseEsds(r io.ReadSeeker, size int64, info *types.M4AInfo) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	br := newByteReader(buf)

	br.skip(4) // version/flags
	if tag, err := br.byte(); err != nil || tag != tagES {
		return fmt.Errorf("esds: expected ES descriptor tag")
	}
	if _, err := br.descriptorSize(); err != nil {
		return err
	}
	br.skip(2) // ES_ID
	br.skip(1) // stream dependence/url/ocr flags

	if tag, err := br.byte(); err != nil || tag != tagDecConfig {
		return fmt.Errorf("esds: expected decoder config descriptor tag")
	}
	if _, err := br.descriptorSize(); err != nil {
		return err
	}
	objectType, err := br.byte()
	if err != nil {
		return err
	}
	if objectType != 0x40 {
		return fmt.Errorf("esds: unsupported object type 0x%02x, want MPEG-4 audio", objectType)
	}
	br.skip(1) // stream type
	br.skip(3) // buffer size DB (24 bits)
	br.skip(4) // max bitrate
	br.skip(4) // avg bitrate

	if tag, err := br.byte(); err != nil || tag != tagDecSpecific {
		return fmt.Errorf("esds: expected decoder specific info tag")
	}
	ascSize, err := br.descriptorSize()
	if err != nil {
		return err
	}
	asc, err := br.read(ascSize)
	if err != nil {
		return err
	}
	info.ASC = append([]byte(nil), asc...)

	return nil
}

type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(buf []byte) *byteReader { return &byteReader{buf: buf} }

func (b *byteReader) byte() (byte, error) {
	if b.pos >= len(b.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := b.buf[b.pos]
	b.pos++
	return v, nil
}

func (b *byteReader) skip(n int) {
	b.pos += n
}

func (b *byteReader) read(n int) ([]byte, error) {
	if b.pos+n > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	v := b.buf[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

func (b *byteReader) descriptorSize() (int, error) {
	size := 0
	for i := 0; i < 4; i++ {
		v, err := b.byte()
		if err != nil {
			return 0, err
		}
		size = size<<7 | int(v&0x7F)
		if v&0x80 == 0 {
			break
		}
	}
	return size, nil
}

func parseStts(r io.ReadSeeker, info *types.M4AInfo) error {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	entries := binary.BigEndian.Uint32(head[4:8])
	runs := make([]types.TimeToSampleRun, 0, entries)
	var buf [8]byte
	for i := uint32(0); i < entries; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		runs = append(runs, types.TimeToSampleRun{
			SampleCount:    binary.BigEndian.Uint32(buf[0:4]),
			SampleDuration: binary.BigEndian.Uint32(buf[4:8]),
		})
	}
	info.TimeToSample = runs
	return nil
}

func parseStsc(r io.ReadSeeker, info *types.M4AInfo) error {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	entries := binary.BigEndian.Uint32(head[4:8])
	runs := make([]types.SampleToChunkRun, 0, entries)
	var buf [12]byte
	for i := uint32(0); i < entries; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		runs = append(runs, types.SampleToChunkRun{
			FirstChunk:             binary.BigEndian.Uint32(buf[0:4]),
			SamplesPerChunk:        binary.BigEndian.Uint32(buf[4:8]),
			SampleDescriptionIndex: binary.BigEndian.Uint32(buf[8:12]),
		})
	}
	info.SampleToChunk = runs
	return nil
}

func parseStsz(r io.ReadSeeker, info *types.M4AInfo) error {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	uniformSize := binary.BigEndian.Uint32(head[4:8])
	count := binary.BigEndian.Uint32(head[8:12])

	if int64(count)*2 > stszMaxBuffer {
		return fmt.Errorf("stsz: table too large (%d entries), exceeds %d byte limit", count, stszMaxBuffer)
	}

	sizes := make([]uint16, count)
	if uniformSize != 0 {
		if uniformSize > 0xFFFF {
			return fmt.Errorf("stsz: uniform sample size %d exceeds 16-bit limit", uniformSize)
		}
		for i := range sizes {
			sizes[i] = uint16(uniformSize)
		}
		info.SampleSize = sizes
		return nil
	}

	var buf [4]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		size := binary.BigEndian.Uint32(buf[:])
		if size > 0xFFFF {
			return fmt.Errorf("stsz: sample %d size %d exceeds 16-bit limit", i, size)
		}
		sizes[i] = uint16(size)
	}
	info.SampleSize = sizes
	return nil
}

func parseStco(r io.ReadSeeker, info *types.M4AInfo) error {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	entries := binary.BigEndian.Uint32(head[4:8])
	offsets := make([]uint64, 0, entries)
	var buf [4]byte
	for i := uint32(0); i < entries; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		offsets = append(offsets, uint64(binary.BigEndian.Uint32(buf[:])))
	}
	info.ChunkOffset = offsets
	return nil
}

// GetSeekOffset implements the §4.5 seek mapping: msec -> target
// sample via stts, target sample -> chunk via stsc, chunk -> file
// offset via stco plus the sizes of preceding samples in the chunk
// via stsz. Returns -1 if the tables can't satisfy the request.
func GetSeekOffset(info types.M4AInfo, seekMs int) (sampleIndex int, fileOffset int64, err error) {
	if info.TimeScale == 0 || len(info.TimeToSample) == 0 || len(info.SampleToChunk) == 0 || len(info.ChunkOffset) == 0 {
		return -1, -1, fmt.Errorf("container/m4a: incomplete sample tables")
	}

	targetSample, err := sampleForTime(info, seekMs)
	if err != nil {
		return -1, -1, err
	}

	chunkIndex, sampleOffsetInChunk, err := chunkForSample(info, targetSample)
	if err != nil {
		return -1, -1, err
	}
	if chunkIndex >= len(info.ChunkOffset) {
		return -1, -1, fmt.Errorf("container/m4a: chunk index %d out of range", chunkIndex)
	}

	offset := int64(info.ChunkOffset[chunkIndex])
	firstSampleOfChunk := targetSample - sampleOffsetInChunk
	for s := firstSampleOfChunk; s < targetSample; s++ {
		if s < 0 || s >= len(info.SampleSize) {
			return -1, -1, fmt.Errorf("container/m4a: sample index %d out of range", s)
		}
		offset += int64(info.SampleSize[s])
	}

	return targetSample, offset, nil
}

// sampleForTime converts a millisecond position to a sample index by
// walking stts runs, summing (count * duration / timescale) until the
// cumulative duration reaches seekMs.
func sampleForTime(info types.M4AInfo, seekMs int) (int, error) {
	targetTicks := int64(seekMs) * int64(info.TimeScale) / 1000
	var cumTicks int64
	sampleIdx := 0
	for _, run := range info.TimeToSample {
		runTicks := int64(run.SampleCount) * int64(run.SampleDuration)
		if cumTicks+runTicks >= targetTicks {
			remaining := targetTicks - cumTicks
			within := int64(0)
			if run.SampleDuration > 0 {
				within = remaining / int64(run.SampleDuration)
			}
			if within >= int64(run.SampleCount) {
				within = int64(run.SampleCount) - 1
			}
			return sampleIdx + int(within), nil
		}
		cumTicks += runTicks
		sampleIdx += int(run.SampleCount)
	}
	// Past the end: clamp to the last sample.
	if sampleIdx > 0 {
		return sampleIdx - 1, nil
	}
	return 0, fmt.Errorf("container/m4a: stts table is empty")
}

// chunkForSample walks stsc runs to find which chunk contains
// sampleIdx and the sample's zero-based position within that chunk.
func chunkForSample(info types.M4AInfo, sampleIdx int) (chunkIndex int, offsetInChunk int, err error) {
	runs := info.SampleToChunk
	totalChunks := len(info.ChunkOffset)

	samplesBefore := 0
	for i, run := range runs {
		firstChunk := int(run.FirstChunk) - 1 // stsc is 1-based
		var lastChunk int
		if i+1 < len(runs) {
			lastChunk = int(runs[i+1].FirstChunk) - 1
		} else {
			lastChunk = totalChunks
		}
		chunksInRun := lastChunk - firstChunk
		samplesInRun := chunksInRun * int(run.SamplesPerChunk)

		if sampleIdx < samplesBefore+samplesInRun {
			within := sampleIdx - samplesBefore
			chunkOffsetInRun := within / int(run.SamplesPerChunk)
			return firstChunk + chunkOffsetInRun, within % int(run.SamplesPerChunk), nil
		}
		samplesBefore += samplesInRun
	}
	return 0, 0, fmt.Errorf("container/m4a: sample %d not covered by stsc table", sampleIdx)
}

// ToCodecInfo projects a Result into the engine-wide record.
func (res Result) ToCodecInfo(contentLen int64) types.CodecInfo {
	bytesPerSec := 0
	if res.DurationMs > 0 {
		bytesPerSec = int(res.MdatSize * 1000 / int64(res.DurationMs))
	}
	m4aInfo := res.Info
	return types.CodecInfo{
		Codec:       types.CodecM4A,
		SampleRate:  res.SampleRate,
		Channels:    res.Channels,
		Bits:        res.Bits,
		ContentPos:  res.MdatOffset + 8,
		ContentLen:  contentLen,
		BytesPerSec: bytesPerSec,
		DurationMs:  res.DurationMs,
		Seekable:    true,
		M4A:         &m4aInfo,
	}
}
