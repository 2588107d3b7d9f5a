// Package manager implements the playlist controller of spec.md §4.9:
// a message-looper that wraps one pkg/player and a list of URLs,
// reacting to the player's own state transitions to sequence through
// the list. Like pkg/element's command queue, the looper owns exactly
// one goroutine; external callers (Next/Prev/SetPlaylist) only ever
// post a command onto it, never call the player directly, since the
// player's own listener callback fires synchronously from inside its
// ioLock and a reentrant call from that path would deadlock.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liteplayer-go/liteplayer/pkg/player"
)

type cmdKind int

const (
	cmdSetSource cmdKind = iota
	cmdStop
	cmdReset
	cmdShutdown
)

type command struct {
	kind  cmdKind
	index int
}

// Manager sequences a pkg/player through a playlist.
type Manager struct {
	p   *player.Player
	log *slog.Logger

	cmds chan command
	done chan struct{}

	mu            sync.Mutex
	urls          []string
	urlIndex      int
	singleLooping bool
	pendingIndex  *int
}

// New wraps p; the caller must not also call p.SetListener, since the
// manager installs its own listener to drive the looper.
func New(p *player.Player, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		p:    p,
		log:  logger.With("component", "manager"),
		cmds: make(chan command, 16),
		done: make(chan struct{}),
	}
	p.SetListener(m.onPlayerEvent)
	return m
}

// SetPlaylist replaces the URL list and resets to its first entry.
// Must be called before Start, or while the player is IDLE.
func (m *Manager) SetPlaylist(urls []string) {
	m.mu.Lock()
	m.urls = append([]string(nil), urls...)
	m.urlIndex = 0
	m.pendingIndex = nil
	m.mu.Unlock()
}

// SetSingleLooping inhibits url_index advancement on natural
// completion: the current track repeats instead of advancing.
func (m *Manager) SetSingleLooping(v bool) {
	m.mu.Lock()
	m.singleLooping = v
	m.mu.Unlock()
}

// Start launches the looper goroutine and begins playing urlIndex 0.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	empty := len(m.urls) == 0
	m.mu.Unlock()
	if empty {
		return fmt.Errorf("manager: start: empty playlist")
	}
	go m.loop(ctx)
	m.cmds <- command{kind: cmdSetSource, index: 0}
	return nil
}

// CurrentIndex returns the playlist position currently playing (or
// about to play, if a SetSource command is still in flight).
func (m *Manager) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urlIndex
}

// Shutdown stops the looper goroutine; the player itself is left
// running and must be torn down separately by the caller.
func (m *Manager) Shutdown() {
	select {
	case m.cmds <- command{kind: cmdShutdown}:
	default:
	}
	<-m.done
}

// Next advances to the following URL, wrapping at the end of the
// list, forcing a stop of whatever is currently playing.
func (m *Manager) Next() error {
	return m.requestIndex(1)
}

// Prev moves to the preceding URL, wrapping at the start of the list.
func (m *Manager) Prev() error {
	return m.requestIndex(-1)
}

func (m *Manager) requestIndex(delta int) error {
	m.mu.Lock()
	if len(m.urls) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("manager: empty playlist")
	}
	next := ((m.urlIndex+delta)%len(m.urls) + len(m.urls)) % len(m.urls)
	m.pendingIndex = &next
	m.mu.Unlock()

	switch m.p.State() {
	case player.StateIdle:
		m.cmds <- command{kind: cmdSetSource, index: next}
	default:
		m.cmds <- command{kind: cmdStop}
	}
	return nil
}

// loop is the looper's single worker goroutine (spec.md §4.9's "the
// Playlist manager owns one [thread]").
func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdShutdown:
				return
			case cmdSetSource:
				m.doSetSource(ctx, cmd.index)
			case cmdStop:
				if err := m.p.Stop(); err != nil {
					m.log.Warn("stop failed", "error", err)
				}
			case cmdReset:
				if err := m.p.Reset(); err != nil {
					m.log.Warn("reset failed", "error", err)
				}
			}
		}
	}
}

func (m *Manager) doSetSource(ctx context.Context, index int) {
	m.mu.Lock()
	if index < 0 || index >= len(m.urls) {
		m.mu.Unlock()
		return
	}
	url := m.urls[index]
	m.urlIndex = index
	m.mu.Unlock()

	if err := m.p.SetDataSource(ctx, url); err != nil {
		m.log.Warn("set_data_source failed", "url", url, "error", err)
		return
	}
	if err := m.p.Prepare(ctx); err != nil {
		m.log.Warn("prepare failed", "url", url, "error", err)
		return
	}
	if err := m.p.Start(ctx); err != nil {
		m.log.Warn("start failed", "url", url, "error", err)
	}
}

// onPlayerEvent reacts to the player's own state transitions, per
// spec.md §4.9: COMPLETED -> post STOP, STOPPED -> post RESET,
// IDLE -> advance url_index (unless single-looping or an explicit
// Next/Prev is pending) and post SET_SOURCE. Called synchronously
// from inside the player's ioLock, so it only ever enqueues; it never
// calls back into the player.
func (m *Manager) onPlayerEvent(e player.Event) {
	switch e.State {
	case player.StateCompleted:
		m.mu.Lock()
		empty := len(m.urls) == 0
		m.mu.Unlock()
		if !empty {
			m.cmds <- command{kind: cmdStop}
		}
	case player.StateStopped:
		m.cmds <- command{kind: cmdReset}
	case player.StateIdle:
		m.mu.Lock()
		next := m.nextIndexLocked()
		m.mu.Unlock()
		m.cmds <- command{kind: cmdSetSource, index: next}
	}
}

// nextIndexLocked computes the index to play after reaching IDLE.
// Callers must hold m.mu.
func (m *Manager) nextIndexLocked() int {
	if m.pendingIndex != nil {
		idx := *m.pendingIndex
		m.pendingIndex = nil
		return idx
	}
	if m.singleLooping || len(m.urls) == 0 {
		return m.urlIndex
	}
	return (m.urlIndex + 1) % len(m.urls)
}
