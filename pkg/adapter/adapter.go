// Package adapter defines the platform-supplied I/O contracts of §6:
// a Source (file or HTTP) that the media source pulls compressed bytes
// from, and a Sink that the sink stage pushes decoded PCM to. The core
// engine never links a concrete implementation; see
// internal/adapters/{file,http,portaudio} for the demo-grade ones.
package adapter

import "context"

// Source is the byte-range-seekable producer contract: open at a byte
// offset, read sequentially, optionally report total size, optionally
// seek to a new offset, close. A Source instance is single-use: one
// Open per resource, matching the C contract's "open(url, content_pos,
// priv) -> handle".
type Source interface {
	// Open positions the source at contentPos bytes into the
	// resource. For HTTP this is expected to issue a
	// `Range: bytes=contentPos-` request and handle redirects/retries
	// internally.
	Open(ctx context.Context, url string, contentPos int64) error

	// Read returns n>0 on data, 0 on EOF (with a nil error or io.EOF),
	// or another error.
	Read(buf []byte) (int, error)

	// FileSize returns the total resource size in bytes, or 0 if
	// unknown (e.g. a chunked HTTP response).
	FileSize() int64

	// Seek repositions the source to an absolute byte offset.
	Seek(offset int64) error

	Close() error
}

// SourceFactory produces a fresh Source instance per playback session
// (the player tears down and rebuilds its Source on seek/reset).
type SourceFactory func() Source

// Sink is the PCM consumer contract. The engine may call Open multiple
// times across a single playback if the decoder announces a new
// format; PCM handed to Write is always 16-bit little-endian signed,
// interleaved.
type Sink interface {
	Open(sampleRate, channels int) error
	Write(buf []byte) (int, error)
	Close() error
}

// SinkFactory produces a fresh Sink instance; the player opens exactly
// one per playback session even if the format changes mid-stream
// (Sink.Open is called again on the same instance in that case).
type SinkFactory func() Sink
