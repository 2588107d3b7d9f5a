// Package element implements the audio element runtime of §4.2: a
// staged processor with its own goroutine, a command queue, two I/O
// endpoints (ringbuffer or callback), and the open/process/close
// lifecycle that every stage (source, decoder, sink) is built from.
package element

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liteplayer-go/liteplayer/pkg/ringbuffer"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// ProcessResult is returned by a Config.Process callback to tell the
// element runtime what happened during one iteration.
type ProcessResult int

const (
	ProcessOK          ProcessResult = iota // >0 bytes produced, loop again
	ProcessDone                             // no more data, close and finish
	ProcessFail                             // unrecoverable, report ErrorProcess
	ProcessAbort                            // downstream/upstream aborted, stop
	ProcessTimeout                          // non-fatal, element stays running
	ProcessRetryBudget                      // 4 consecutive frame failures exceeded
)

// ReadFunc/WriteFunc are the callback-mode alternative to wiring a
// ringbuffer directly to Input/Output.
type ReadFunc func(buf []byte, timeout time.Duration) (int, ringbuffer.Status)
type WriteFunc func(buf []byte, timeout time.Duration) (int, ringbuffer.Status)

// Config supplies an element's behaviour. Input comes from ReadFunc if
// set, else from the ringbuffer wired with SetInputRingbuf; output goes
// to WriteFunc if set, else to the ringbuffer the element owns when
// OutRbSize > 0.
type Config struct {
	Tag string

	Open    func(ctx context.Context) error
	Process func(ctx context.Context) ProcessResult
	Close   func(ctx context.Context) error
	Destroy func()
	// Seek is optional; called synchronously from the element's own
	// goroutine when a SEEK command is dispatched. Subclasses typically
	// discard internal buffers here and set an internal seek-mode flag
	// so the next Process call re-aligns to a fresh frame.
	Seek func(offset int64) error

	ReadFunc  ReadFunc
	WriteFunc WriteFunc

	BufferLen int
	OutRbSize uint64

	Logger *slog.Logger
}

type cmdKind int

const (
	cmdResume cmdKind = iota
	cmdPause
	cmdStop
	cmdSeek
	cmdDestroy
)

type command struct {
	kind   cmdKind
	offset int64
}

// Info is the typed per-element info record of §3 (in/out format,
// byte position, total bytes, uri/codec tag). All fields are guarded
// by the element's info mutex; any goroutine may read or write, and
// writers should read-modify-write atomically via GetInfo/SetInfo or
// UpdateInfo.
type Info struct {
	InSampleRate  int
	InChannels    int
	Bits          int
	OutSampleRate int
	OutChannels   int
	BytePos       int64
	TotalBytes    int64
	URI           string
	Codec         types.Codec
}

// Element is a single pipeline stage: one goroutine running the
// open/process/close lifecycle, a command queue, and typed events.
type Element struct {
	cfg Config
	log *slog.Logger

	inputRb  *ringbuffer.RingBuffer
	outputRb *ringbuffer.RingBuffer

	cmds chan command

	stateMu sync.Mutex
	cond    *sync.Cond
	state   types.ElementState

	infoMu sync.Mutex
	info   Info

	listener   types.EventListener
	listenerMu sync.Mutex

	wg sync.WaitGroup

	retryBudget int

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an element in state `init`. The caller must wire
// endpoints (SetInputRingbuf/SetOutputRingbuf, or rely on the
// configured ReadFunc/WriteFunc) before calling Run.
func New(cfg Config) *Element {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	el := &Element{
		cfg:   cfg,
		log:   log.With("element", cfg.Tag),
		cmds:  make(chan command, 8),
		state: types.ElementStateInit,
	}
	el.cond = sync.NewCond(&el.stateMu)
	if cfg.OutRbSize > 0 {
		el.outputRb = ringbuffer.New(cfg.OutRbSize)
	}
	return el
}

// Tag returns the element's debug name.
func (el *Element) Tag() string { return el.cfg.Tag }

// SetEventListener installs the listener that receives state/error/info
// events. Must be called before Run.
func (el *Element) SetEventListener(l types.EventListener) {
	el.listenerMu.Lock()
	el.listener = l
	el.listenerMu.Unlock()
}

// SetInputRingbuf wires (or rewires, e.g. on seek rebuild) the
// element's input endpoint.
func (el *Element) SetInputRingbuf(rb *ringbuffer.RingBuffer) { el.inputRb = rb }

// OutputRingbuf returns the element's owned output ringbuffer, or nil
// if the element writes via a callback instead.
func (el *Element) OutputRingbuf() *ringbuffer.RingBuffer { return el.outputRb }

// State returns the current lifecycle state.
func (el *Element) State() types.ElementState {
	el.stateMu.Lock()
	defer el.stateMu.Unlock()
	return el.state
}

// GetInfo returns a copy of the element's info record.
func (el *Element) GetInfo() Info {
	el.infoMu.Lock()
	defer el.infoMu.Unlock()
	return el.info
}

// UpdateInfo atomically applies fn to the info record.
func (el *Element) UpdateInfo(fn func(*Info)) {
	el.infoMu.Lock()
	fn(&el.info)
	el.infoMu.Unlock()
}

// Run spawns the element's task goroutine. The task waits for a
// command, opens on RESUME, loops {dispatch pending commands; process},
// and closes on STOP/ERROR/FINISH, reporting the matching state event
// before blocking again. DESTROY breaks the loop for good.
func (el *Element) Run(ctx context.Context) {
	el.ctx, el.cancel = context.WithCancel(ctx)
	el.wg.Add(1)
	go el.loop()
}

func (el *Element) loop() {
	defer el.wg.Done()

	for {
		cmd, ok := <-el.cmds
		if !ok {
			return
		}
		switch cmd.kind {
		case cmdDestroy:
			el.setState(types.ElementStateStopped)
			return
		case cmdResume:
			if el.runSession() {
				return
			}
		case cmdStop:
			// no active session: a finished, errored or never-started
			// element still settles in stopped.
			if el.State() != types.ElementStateStopped {
				el.setState(types.ElementStateStopped)
			}
		case cmdPause, cmdSeek:
			// no active session; nothing to do
		}
	}
}

// runSession implements one open→process-loop→close cycle, consuming
// further commands (pause/resume/seek/stop) as they arrive. It reports
// true when the session ended on DESTROY.
func (el *Element) runSession() (destroyed bool) {
	if el.cfg.Open != nil {
		if err := el.cfg.Open(el.ctx); err != nil {
			el.log.Error("open failed", "error", err)
			el.emitError(types.ErrorOpen, err)
			el.setState(types.ElementStateError)
			return
		}
	}
	el.setState(types.ElementStateRunning)
	el.retryBudget = 0

	paused := false
	for {
		select {
		case cmd := <-el.cmds:
			switch cmd.kind {
			case cmdPause:
				paused = true
				el.setState(types.ElementStatePaused)
				continue
			case cmdResume:
				paused = false
				el.setState(types.ElementStateRunning)
				continue
			case cmdStop:
				el.closeAndReport(types.ElementStateStopped)
				return
			case cmdSeek:
				if el.cfg.Seek != nil {
					if err := el.cfg.Seek(cmd.offset); err != nil {
						el.log.Warn("seek callback failed", "error", err)
					}
				}
				continue
			case cmdDestroy:
				el.closeAndReport(types.ElementStateStopped)
				el.setState(types.ElementStateStopped)
				return true
			}
		default:
		}

		if paused {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		result := el.cfg.Process(el.ctx)
		switch result {
		case ProcessOK:
			continue
		case ProcessDone:
			el.closeAndReport(types.ElementStateFinished)
			return
		case ProcessFail, ProcessRetryBudget:
			el.closeAndReport(types.ElementStateError)
			el.emitError(types.ErrorProcess, nil)
			return
		case ProcessAbort:
			el.closeAndReport(types.ElementStateStopped)
			return
		case ProcessTimeout:
			el.emit(types.Event{Type: types.EventError, ErrorCode: types.ErrorTimeout, Source: el.cfg.Tag})
			continue
		}
	}
}

func (el *Element) closeAndReport(final types.ElementState) {
	if el.cfg.Close != nil {
		if err := el.cfg.Close(el.ctx); err != nil {
			el.log.Warn("close failed", "error", err)
		}
	}
	el.setState(final)
}

func (el *Element) setState(s types.ElementState) {
	el.stateMu.Lock()
	el.state = s
	el.cond.Broadcast()
	el.stateMu.Unlock()

	var evt types.EventType
	switch s {
	case types.ElementStateRunning:
		evt = types.EventStateRunning
	case types.ElementStatePaused:
		evt = types.EventStatePaused
	case types.ElementStateStopped:
		evt = types.EventStateStopped
	case types.ElementStateFinished:
		evt = types.EventStateFinished
	default:
		return
	}
	el.emit(types.Event{Type: evt, Source: el.cfg.Tag})
}

func (el *Element) emitError(code types.ErrorCode, err error) {
	el.emit(types.Event{Type: types.EventError, ErrorCode: code, Err: err, Source: el.cfg.Tag})
}

// Emit publishes evt through the element's listener, for stage
// implementations that need to report events beyond the lifecycle
// state transitions the runtime already emits (e.g. sink's
// REPORT_POSITION, decoder's REPORT_MUSIC_INFO).
func (el *Element) Emit(evt types.Event) {
	if evt.Source == "" {
		evt.Source = el.cfg.Tag
	}
	el.emit(evt)
}

func (el *Element) emit(evt types.Event) {
	el.listenerMu.Lock()
	l := el.listener
	el.listenerMu.Unlock()
	if l != nil {
		l(evt)
	}
}

// --- async command API -----------------------------------------------

func (el *Element) post(cmd command) {
	select {
	case el.cmds <- cmd:
	default:
		// queue full: drop the oldest pending command rather than
		// block the caller, mirroring the asynchronous "enqueue and
		// return" contract of §4.2.
		select {
		case <-el.cmds:
		default:
		}
		el.cmds <- cmd
	}
}

// Resume enqueues RESUME; async, returns immediately.
func (el *Element) Resume() { el.post(command{kind: cmdResume}) }

// Pause enqueues PAUSE; async, returns immediately.
func (el *Element) Pause() { el.post(command{kind: cmdPause}) }

// Stop enqueues STOP; async, returns immediately.
func (el *Element) Stop() { el.post(command{kind: cmdStop}) }

// Seek enqueues SEEK carrying offset; async, returns immediately.
func (el *Element) Seek(offset int64) { el.post(command{kind: cmdSeek, offset: offset}) }

// Terminate enqueues DESTROY, breaking the task loop for good.
func (el *Element) Terminate() {
	el.post(command{kind: cmdDestroy})
}

// Wait blocks until the task goroutine has exited (after Terminate).
func (el *Element) Wait() { el.wg.Wait() }

// WaitForState blocks until the element reaches `want` or timeout
// elapses, returning false on timeout.
func (el *Element) WaitForState(want types.ElementState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	el.stateMu.Lock()
	defer el.stateMu.Unlock()
	for el.state != want {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			el.stateMu.Lock()
			el.cond.Broadcast()
			el.stateMu.Unlock()
		})
		el.cond.Wait()
		timer.Stop()
	}
	return true
}

// WaitForStopMs is the §4.2-named convenience for waiting on the
// stopped state with a millisecond timeout; no default is applied
// (pkg/player passes 12000).
func (el *Element) WaitForStopMs(timeoutMs int) bool {
	return el.WaitForState(types.ElementStateStopped, time.Duration(timeoutMs)*time.Millisecond)
}

// --- in-process I/O, called from inside Process -----------------------

// Input moves up to len(buf) bytes in from whichever endpoint is
// configured (ringbuffer or ReadFunc), translating ringbuffer status
// to the §7 taxonomy. An ABORT stops the element; the element itself
// does not auto-pause on input timeout (only output does, per §4.2).
func (el *Element) Input(buf []byte, timeout time.Duration) (int, types.ErrorCode) {
	var n int
	var status ringbuffer.Status
	if el.cfg.ReadFunc != nil {
		n, status = el.cfg.ReadFunc(buf, timeout)
	} else if el.inputRb != nil {
		n, status = el.inputRb.Read(buf, timeout)
	} else {
		return 0, types.ErrorInput
	}

	switch status {
	case ringbuffer.OK:
		return n, types.ErrorNone
	case ringbuffer.Done:
		return n, types.ErrorNone
	case ringbuffer.Timeout:
		return 0, types.ErrorTimeout
	case ringbuffer.Abort:
		return 0, types.ErrorInput
	default:
		return 0, types.ErrorInput
	}
}

// InputChunk guarantees a full read of exactly len(buf) bytes unless
// the stream ends or aborts first; it loops internally rather than
// tolerating the short reads a plain Input call may return on
// timeout. Per the design's open question about m4a_mdat_read, this
// chunked variant must be used unconditionally wherever a consumer
// needs exactly N bytes per sample (M4A byte-exact frame feeding).
func (el *Element) InputChunk(buf []byte, timeout time.Duration) (int, types.ErrorCode) {
	got := 0
	for got < len(buf) {
		n, code := el.Input(buf[got:], timeout)
		got += n
		if code == types.ErrorTimeout {
			continue
		}
		if code != types.ErrorNone {
			return got, code
		}
		if n == 0 {
			return got, types.ErrorNone // upstream done
		}
	}
	return got, types.ErrorNone
}

// Output moves buf out through whichever endpoint is configured. A
// downstream TIMEOUT auto-pauses the element to create backpressure;
// an ABORT stops it, matching §4.2's output-specific rules.
func (el *Element) Output(buf []byte, timeout time.Duration) (int, types.ErrorCode) {
	var n int
	var status ringbuffer.Status
	if el.cfg.WriteFunc != nil {
		n, status = el.cfg.WriteFunc(buf, timeout)
	} else if el.outputRb != nil {
		n, status = el.outputRb.Write(buf, timeout)
	} else {
		return 0, types.ErrorOutput
	}

	switch status {
	case ringbuffer.OK:
		return n, types.ErrorNone
	case ringbuffer.Done:
		return n, types.ErrorOutput
	case ringbuffer.Timeout:
		el.Pause()
		return 0, types.ErrorTimeout
	case ringbuffer.Abort:
		el.Stop()
		return 0, types.ErrorOutput
	default:
		return 0, types.ErrorOutput
	}
}

// ResetRingbuf resets the element's owned output ringbuffer. Callers
// must ensure both peers are quiesced first (reset does not wake
// blockers).
func (el *Element) ResetRingbuf() {
	if el.outputRb != nil {
		el.outputRb.Reset()
	}
}
