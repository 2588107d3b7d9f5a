// Package player implements the public playback state machine of
// §4.8: it owns one media source / decoder / sink session at a time,
// built lazily from the parsed CodecInfo, and translates element and
// media-source events into the lifecycle states an embedder observes.
package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/adapter"
	"github.com/liteplayer-go/liteplayer/pkg/decoder"
	"github.com/liteplayer-go/liteplayer/pkg/mediaparser"
	"github.com/liteplayer-go/liteplayer/pkg/mediasource"
	"github.com/liteplayer-go/liteplayer/pkg/pipeline"
	"github.com/liteplayer-go/liteplayer/pkg/ringbuffer"
	"github.com/liteplayer-go/liteplayer/pkg/sink"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// State is a public playback lifecycle state, per §4.8's diagram.
// SEEKCOMPLETED, CACHECOMPLETED and ERROR never become the persisted
// state: they are transient reports delivered through Listener without
// moving the state machine off whatever stable state it was already in.
type State int

const (
	StateIdle State = iota
	StateInited
	StatePrepared
	StateStarted
	StatePaused
	StateSeekCompleted
	StateCacheCompleted
	StateNearlyCompleted
	StateCompleted
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInited:
		return "inited"
	case StatePrepared:
		return "prepared"
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateSeekCompleted:
		return "seek_completed"
	case StateCacheCompleted:
		return "cache_completed"
	case StateNearlyCompleted:
		return "nearly_completed"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to a Listener on every state change and transient
// report.
type Event struct {
	State     State
	ErrorCode types.ErrorCode
}

// Listener receives player lifecycle events. Called without the
// player's state mutex held, but transitions made by the public
// transport methods are delivered while ioLock is held, so a listener
// must not call back into the Player.
type Listener func(Event)

// Config wires a Player to the platform adapters and tuning knobs the
// engine needs but does not hardcode.
type Config struct {
	// FileSource/HTTPSource produce a fresh adapter.Source per Open
	// call (prepare probes size, prepare parses headers, start/seek
	// stream the body): never reused across Open calls.
	FileSource adapter.SourceFactory
	HTTPSource adapter.SourceFactory

	// Sink produces the platform PCM consumer, once per session.
	Sink adapter.SinkFactory

	// StreamPrefix classifies a literal-prefix URL as the fixed-format
	// `stream` source type (§6); empty disables stream classification.
	StreamPrefix    string
	StreamSampleRate int
	StreamChannels   int

	// FixedOutputRate is forwarded to pkg/sink; nonzero means the Sink
	// adapter only accepts one rate and pkg/resampler bridges the gap.
	FixedOutputRate int

	SourceRbSize     uint64
	DecoderOutRbSize uint64

	// CacheThresholdMs is how much buffered playback time (converted
	// to bytes via the parsed BytesPerSec) triggers CACHECOMPLETED for
	// an http source.
	CacheThresholdMs int

	Logger *slog.Logger
}

// Player is the public playback engine: one instance drives one
// playback session at a time through SetDataSource/Prepare/Start/...
type Player struct {
	cfg Config
	log *slog.Logger

	ioLock sync.Mutex

	mu            sync.Mutex
	state         State
	errorReported bool
	url           string
	sourceType    types.SourceType
	info          types.CodecInfo
	sessionBuilt  bool
	seekTimeMs    int // added to the sink's reported byte-derived position, per §4.7
	position      types.PlaybackPosition

	listener Listener

	ctx    context.Context
	cancel context.CancelFunc

	pipe  *pipeline.Pipeline
	src   *mediasource.MediaSource
	srcRb *ringbuffer.RingBuffer
	dec   *decoder.Decoder
	snk   *sink.Sink
}

// New creates a Player in state IDLE.
func New(cfg Config) *Player {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "/websocket/"
	}
	if cfg.StreamSampleRate == 0 {
		cfg.StreamSampleRate = 16000
	}
	if cfg.StreamChannels == 0 {
		cfg.StreamChannels = 1
	}
	if cfg.SourceRbSize == 0 {
		cfg.SourceRbSize = 64 * 1024
	}
	if cfg.DecoderOutRbSize == 0 {
		cfg.DecoderOutRbSize = 256 * 1024
	}
	if cfg.CacheThresholdMs == 0 {
		cfg.CacheThresholdMs = 500
	}
	return &Player{
		cfg:   cfg,
		log:   log.With("component", "player"),
		state: StateIdle,
	}
}

// SetListener installs the embedder's lifecycle callback.
func (p *Player) SetListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// State returns the current persisted lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GetPosition returns the last reported playback position; valid even
// after ERROR, per §7's "position/duration remain queryable" rule.
func (p *Player) GetPosition() types.PlaybackPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// GetDuration returns the parsed resource duration, 0 before PREPARED.
func (p *Player) GetDuration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.DurationMs
}

// --- public transport API, serialised by ioLock ------------------------

// SetDataSource classifies url and moves IDLE -> INITED. Resolves a
// `.m3u` suffix to its first line first, per §6.
func (p *Player) SetDataSource(ctx context.Context, url string) error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	if p.State() != StateIdle {
		return fmt.Errorf("player: set_data_source: %w", types.ErrBadState)
	}

	resolved, sourceType, err := p.resolveURL(ctx, url)
	if err != nil {
		return fmt.Errorf("player: set_data_source: %w", err)
	}

	p.mu.Lock()
	p.url = resolved
	p.sourceType = sourceType
	p.seekTimeMs = 0
	p.mu.Unlock()

	p.setState(StateInited)
	return nil
}

// resolveURL classifies url and, for a `.m3u` suffix, replaces it with
// the first line read from the playlist file.
func (p *Player) resolveURL(ctx context.Context, url string) (string, types.SourceType, error) {
	st := classifySourceType(url, p.cfg.StreamPrefix)
	if st == types.SourceStream || !strings.HasSuffix(strings.ToLower(url), ".m3u") {
		return url, st, nil
	}

	src := p.newSource(st)
	if err := src.Open(ctx, url, 0); err != nil {
		return "", st, fmt.Errorf("m3u open: %w", err)
	}
	defer src.Close()

	buf := make([]byte, 4096)
	n, err := src.Read(buf)
	if err != nil && err != io.EOF {
		return "", st, fmt.Errorf("m3u read: %w", err)
	}
	target := firstLine(buf[:n])
	if target == "" {
		return "", st, fmt.Errorf("m3u: empty playlist")
	}
	return target, classifySourceType(target, p.cfg.StreamPrefix), nil
}

// Prepare runs the media parser inline, moving INITED -> PREPARED or
// (edge-triggered) -> ERROR.
func (p *Player) Prepare(ctx context.Context) error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()
	return p.prepareLocked(ctx)
}

// PrepareAsync starts Prepare's work on a dedicated goroutine and
// returns immediately; completion is reported through Listener.
func (p *Player) PrepareAsync(ctx context.Context) error {
	if p.State() != StateInited {
		return fmt.Errorf("player: prepare_async: %w", types.ErrBadState)
	}
	go func() {
		p.ioLock.Lock()
		defer p.ioLock.Unlock()
		if err := p.prepareLocked(ctx); err != nil {
			p.log.Error("prepare_async failed", "error", err)
		}
	}()
	return nil
}

func (p *Player) prepareLocked(ctx context.Context) error {
	if p.State() != StateInited {
		return fmt.Errorf("player: prepare: %w", types.ErrBadState)
	}

	p.mu.Lock()
	url, sourceType := p.url, p.sourceType
	p.mu.Unlock()

	var info types.CodecInfo
	if sourceType == types.SourceStream {
		info = types.CodecInfo{
			Codec:      types.CodecMP3,
			SampleRate: p.cfg.StreamSampleRate,
			Channels:   p.cfg.StreamChannels,
			Bits:       16,
			Seekable:   false,
		}
	} else {
		var err error
		info, err = p.probeAndParse(ctx, url, sourceType)
		if err != nil {
			p.reportError(types.ErrorOpen)
			return fmt.Errorf("player: prepare: %w", err)
		}
	}

	p.mu.Lock()
	p.info = info
	p.mu.Unlock()

	if sourceType == types.SourceStream {
		// stream mode carries no upstream parser step between PREPARED
		// and STARTED, so `write` must already have somewhere to land;
		// build the session now instead of deferring it to Start.
		if err := p.buildSession(ctx, 0); err != nil {
			p.reportError(types.ErrorOpen)
			return fmt.Errorf("player: prepare: %w", err)
		}
		p.mu.Lock()
		p.sessionBuilt = true
		p.mu.Unlock()
	}

	p.setState(StatePrepared)
	return nil
}

// probeAndParse opens two short-lived Source instances (each Source is
// single-use per the adapter contract): one to learn the resource
// size, a second that mediaparser.Parse opens itself to sniff the
// container and extract its header/seek tables.
func (p *Player) probeAndParse(ctx context.Context, url string, sourceType types.SourceType) (types.CodecInfo, error) {
	probe := p.newSource(sourceType)
	if err := probe.Open(ctx, url, 0); err != nil {
		return types.CodecInfo{}, fmt.Errorf("probe open: %w", err)
	}
	contentLen := probe.FileSize()
	probe.Close()

	parseSrc := p.newSource(sourceType)
	return mediaparser.New(p.log).Parse(ctx, url, parseSrc, contentLen)
}

// Start builds the pipeline on first call (PREPARED -> STARTED) or
// resumes it (PAUSED -> STARTED).
func (p *Player) Start(ctx context.Context) error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	switch p.State() {
	case StatePaused:
		p.pipe.Resume()
		p.setState(StateStarted)
		return nil
	case StatePrepared, StateNearlyCompleted:
		p.mu.Lock()
		built := p.sessionBuilt
		contentPos := p.info.ContentPos
		p.mu.Unlock()
		if !built {
			if err := p.buildSession(ctx, contentPos); err != nil {
				p.reportError(types.ErrorOpen)
				return fmt.Errorf("player: start: %w", err)
			}
			p.mu.Lock()
			p.sessionBuilt = true
			p.mu.Unlock()
		} else {
			p.pipe.Resume()
		}
		p.setState(StateStarted)
		return nil
	default:
		return fmt.Errorf("player: start: %w", types.ErrBadState)
	}
}

// Pause requires STARTED; pauses every pipeline element.
func (p *Player) Pause() error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	if p.State() != StateStarted {
		return fmt.Errorf("player: pause: %w", types.ErrBadState)
	}
	p.pipe.Pause()
	p.setState(StatePaused)
	return nil
}

// Seek implements §4.8's teardown/rebuild protocol: pause, tear down
// the media source and its ringbuffer, recompute the byte offset,
// rebuild at the new position, and fan SEEK to every element. Playback
// stays paused; the caller must call Start again to resume.
func (p *Player) Seek(ctx context.Context, msec int) error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	switch p.State() {
	case StatePrepared, StateStarted, StatePaused, StateNearlyCompleted:
	default:
		return fmt.Errorf("player: seek: %w", types.ErrBadState)
	}

	p.mu.Lock()
	info := p.info
	sourceType := p.sourceType
	url := p.url
	p.mu.Unlock()

	if !info.Seekable {
		return fmt.Errorf("player: seek: %w: codec not seekable", types.ErrBadState)
	}
	point := mediaparser.GetSeekPoint(info, msec)
	if point.ByteOffset < 0 {
		return fmt.Errorf("player: seek: offset unavailable")
	}

	p.mu.Lock()
	built := p.sessionBuilt
	p.mu.Unlock()

	if !built {
		// Nothing has been started yet (Seek called straight from
		// PREPARED): build fresh at the target position instead of
		// tearing down a session that doesn't exist.
		if err := p.buildSession(ctx, info.ContentPos+point.ByteOffset); err != nil {
			p.reportError(types.ErrorOpen)
			return fmt.Errorf("player: seek: %w", err)
		}
		p.mu.Lock()
		p.sessionBuilt = true
		p.seekTimeMs = msec
		p.mu.Unlock()
		p.pipe.Pause()
		p.dec.Element().WaitForState(types.ElementStatePaused, 500*time.Millisecond)
		p.snk.Element().WaitForState(types.ElementStatePaused, 500*time.Millisecond)
		p.emit(StateSeekCompleted, types.ErrorNone)
		p.setState(StatePaused)
		return nil
	}

	p.pipe.Pause()
	p.dec.Element().WaitForState(types.ElementStatePaused, 500*time.Millisecond)
	p.snk.Element().WaitForState(types.ElementStatePaused, 500*time.Millisecond)
	if p.src != nil {
		p.src.Stop()
		p.src = nil
	}

	newRb := ringbuffer.New(p.cfg.SourceRbSize)
	p.srcRb = newRb
	p.dec.Element().SetInputRingbuf(newRb)
	p.dec.Element().ResetRingbuf() // decoder's output rb is the sink's input

	if sourceType != types.SourceStream {
		src := p.newSource(sourceType)
		p.src = mediasource.New(mediasource.Config{
			URL:        url,
			SourceType: sourceType,
			ContentPos: info.ContentPos + point.ByteOffset,
			Source:     src,
			Output:     newRb,
			Listener:   p.onSourceEvent,
			Logger:     p.log,
		})
		p.src.Start(p.ctx)
	}

	seekArg := point.ByteOffset
	if info.Codec == types.CodecM4A {
		seekArg = int64(point.SampleIndex)
	}
	p.pipe.Seek(seekArg)

	p.mu.Lock()
	p.seekTimeMs = msec
	p.mu.Unlock()

	p.emit(StateSeekCompleted, types.ErrorNone)
	p.setState(StatePaused)
	return nil
}

// Stop requires a state in [PREPARED..COMPLETED]; tears the session
// down and reports STOPPED.
func (p *Player) Stop() error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	switch p.State() {
	case StatePrepared, StateStarted, StatePaused, StateNearlyCompleted, StateCompleted:
	default:
		return fmt.Errorf("player: stop: %w", types.ErrBadState)
	}
	p.teardownSession()
	p.setState(StateStopped)
	return nil
}

// Reset releases everything and returns to IDLE; valid from any state.
func (p *Player) Reset() error {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	if p.State() == StateIdle {
		return nil
	}
	p.teardownSession()

	p.mu.Lock()
	p.url = ""
	p.sourceType = types.SourceFile
	p.info = types.CodecInfo{}
	p.errorReported = false
	p.position = types.PlaybackPosition{}
	p.mu.Unlock()

	p.setState(StateIdle)
	return nil
}

// Write feeds compressed bytes directly to the decoder's input
// ringbuffer; only valid in `stream` mode, in states [PREPARED..NEARLYCOMPLETED].
func (p *Player) Write(buf []byte, final bool) (int, error) {
	p.ioLock.Lock()
	defer p.ioLock.Unlock()

	p.mu.Lock()
	sourceType := p.sourceType
	p.mu.Unlock()
	if sourceType != types.SourceStream {
		return 0, fmt.Errorf("player: write: only valid in stream mode")
	}
	switch p.State() {
	case StatePrepared, StateStarted, StatePaused, StateNearlyCompleted:
	default:
		return 0, fmt.Errorf("player: write: %w", types.ErrBadState)
	}
	if p.srcRb == nil {
		return 0, types.ErrNotOpen
	}

	n, status := p.srcRb.Write(buf, 3*time.Second)
	if final {
		p.srcRb.DoneWrite()
	}
	switch status {
	case ringbuffer.OK:
		return n, nil
	case ringbuffer.Timeout:
		return n, types.ErrTimeout
	default:
		return n, types.ErrAborted
	}
}

// --- session construction / teardown ------------------------------------

func (p *Player) newSource(st types.SourceType) adapter.Source {
	if st == types.SourceHTTP {
		return p.cfg.HTTPSource()
	}
	return p.cfg.FileSource()
}

func (p *Player) newDecoder(info types.CodecInfo) (*decoder.Decoder, error) {
	cfg := decoder.Config{
		Tag:       "decoder",
		Info:      info,
		OutRbSize: p.cfg.DecoderOutRbSize,
		Logger:    p.log,
	}
	if info.Codec == types.CodecWAV {
		return decoder.NewWAV(cfg)
	}
	return decoder.New(cfg)
}

// buildSession constructs decoder+sink+pipeline and, for non-stream
// sources, a media source feeding the decoder's input ringbuffer from
// contentPos. Stream mode has no media source: Write feeds the
// decoder's input ringbuffer directly.
func (p *Player) buildSession(ctx context.Context, contentPos int64) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.mu.Lock()
	info := p.info
	sourceType := p.sourceType
	url := p.url
	p.mu.Unlock()

	dec, err := p.newDecoder(info)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	p.dec = dec

	srcRb := ringbuffer.New(p.cfg.SourceRbSize)
	p.srcRb = srcRb
	p.dec.Element().SetInputRingbuf(srcRb)

	p.snk = sink.New(sink.Config{
		Tag:             "sink",
		Sink:            p.cfg.Sink(),
		SampleRate:      func() int { return p.dec.Element().GetInfo().OutSampleRate },
		Channels:        func() int { return p.dec.Element().GetInfo().OutChannels },
		FixedOutputRate: p.cfg.FixedOutputRate,
		Logger:          p.log,
	})

	pipe := pipeline.New(p.log)
	pipe.Register("decoder", p.dec.Element())
	pipe.Register("sink", p.snk.Element())
	if err := pipe.Link([]string{"decoder", "sink"}); err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	pipe.SetEventListener(p.onPipelineEvent)
	p.pipe = pipe

	if sourceType != types.SourceStream {
		thresholdBytes := int64(info.BytesPerSec) * int64(p.cfg.CacheThresholdMs) / 1000
		src := p.newSource(sourceType)
		p.src = mediasource.New(mediasource.Config{
			URL:            url,
			SourceType:     sourceType,
			ContentPos:     contentPos,
			ThresholdBytes: thresholdBytes,
			Source:         src,
			Output:         srcRb,
			Listener:       p.onSourceEvent,
			Logger:         p.log,
		})
	}

	p.pipe.Run(p.ctx)
	if p.src != nil {
		p.src.Start(p.ctx)
	}
	return nil
}

func (p *Player) teardownSession() {
	if p.src != nil {
		p.src.Stop()
		p.src = nil
	}
	if p.pipe != nil {
		p.pipe.Stop()
		p.pipe.WaitForStop(12000)
		p.pipe.Destroy()
		p.pipe = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.dec = nil
	p.snk = nil
	p.srcRb = nil
	p.mu.Lock()
	p.sessionBuilt = false
	p.seekTimeMs = 0
	p.mu.Unlock()
}

// --- event translation (§4.8) --------------------------------------------

func (p *Player) onPipelineEvent(evt types.Event) {
	switch evt.Type {
	case types.EventReportPosition:
		p.mu.Lock()
		p.position = types.PlaybackPosition{
			PositionMs: evt.PositionMs + p.seekTimeMs,
			DurationMs: p.info.DurationMs,
			Timestamp:  time.Now(),
		}
		p.mu.Unlock()
	case types.EventError:
		p.reportError(evt.ErrorCode)
	case types.EventStateFinished:
		if evt.Source == "sink" {
			p.onPlaybackFinished()
		}
	}
}

func (p *Player) onPlaybackFinished() {
	p.mu.Lock()
	cur, errored := p.state, p.errorReported
	p.mu.Unlock()
	if errored || cur == StateStopped {
		return
	}
	p.setState(StateCompleted)
}

func (p *Player) onSourceEvent(evt types.Event) {
	p.mu.Lock()
	sourceType := p.sourceType
	p.mu.Unlock()

	switch evt.Type {
	case types.EventReachThreshold:
		if sourceType == types.SourceHTTP {
			p.emit(StateCacheCompleted, types.ErrorNone)
		}
	case types.EventReadDone:
		if sourceType == types.SourceHTTP {
			p.setState(StateNearlyCompleted)
		}
	case types.EventReadFailed:
		p.reportError(types.ErrorInput)
	}
}

// --- state/event plumbing -------------------------------------------------

// setState persists s and notifies the listener. Used for genuine
// state-machine transitions (everything but the transient reports).
func (p *Player) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.emit(s, types.ErrorNone)
}

// emit notifies the listener without touching persisted state, for the
// transient SEEKCOMPLETED/CACHECOMPLETED/ERROR reports.
func (p *Player) emit(s State, code types.ErrorCode) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l != nil {
		l(Event{State: s, ErrorCode: code})
	}
}

// reportError edge-triggers a single ERROR report per session (§7);
// subsequent errors are suppressed until Reset.
func (p *Player) reportError(code types.ErrorCode) {
	p.mu.Lock()
	already := p.errorReported
	p.errorReported = true
	p.mu.Unlock()
	if !already {
		p.emit(StateError, code)
	}
}

func classifySourceType(url, streamPrefix string) types.SourceType {
	switch {
	case streamPrefix != "" && strings.HasPrefix(url, streamPrefix):
		return types.SourceStream
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return types.SourceHTTP
	default:
		return types.SourceFile
	}
}

func firstLine(b []byte) string {
	s := string(b)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
