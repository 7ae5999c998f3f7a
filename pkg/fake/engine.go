// Package fake implements a scriptable media engine: a test-signal source
// with no network, decode or render dependencies. Tests drive it directly;
// the daemon can also select it via `engine: test` for smoke checks.
package fake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campipe/campipe/pkg/pipeline"
)

type Engine struct {
	// OpenErr - Open fails synchronously with this error
	OpenErr error
	// StartDelay - pause before the session reports its first frame
	StartDelay time.Duration
	// FailMessage - the session faults with this message instead of
	// reporting a first frame
	FailMessage string
	// ManualStart - the session stays silent until Started is called
	ManualStart bool

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

func (e *Engine) Open(cfg pipeline.SessionConfig) (pipeline.Session, error) {
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}

	s := &Session{
		Config: cfg,
		events: make(chan pipeline.Event, 64),
	}
	s.latency.Store(cfg.LatencyMs)

	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()

	if !e.ManualStart {
		fail, delay := e.FailMessage, e.StartDelay
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			if fail != "" {
				s.Fault(fail)
			} else {
				s.Started()
			}
		}()
	}

	return s, nil
}

// Close - process-wide engine shutdown hook
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Session - last session opened by the engine, nil if none
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.sessions); n > 0 {
		return e.sessions[n-1]
	}
	return nil
}

func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

type Session struct {
	Config pipeline.SessionConfig

	events    chan pipeline.Event
	closeOnce sync.Once

	latency atomic.Uint32
	playN   atomic.Int32
	pauseN  atomic.Int32
	closed  atomic.Bool

	PlayErr  error
	PauseErr error
}

func (s *Session) Play() error {
	s.playN.Add(1)
	return s.PlayErr
}

func (s *Session) Pause() error {
	s.pauseN.Add(1)
	return s.PauseErr
}

func (s *Session) SetLatency(ms uint32) {
	s.latency.Store(ms)
}

func (s *Session) Latency() uint32 {
	return s.latency.Load()
}

func (s *Session) Events() <-chan pipeline.Event {
	return s.events
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.events)
	})
	return nil
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) Plays() int {
	return int(s.playN.Load())
}

func (s *Session) Pauses() int {
	return int(s.pauseN.Load())
}

// Started - report the first produced frame
func (s *Session) Started() {
	s.emit(pipeline.Event{Type: pipeline.EventStarted})
}

// Packet - inject a media packet arrival
func (s *Session) Packet(packet *pipeline.Packet) {
	s.emit(pipeline.Event{Type: pipeline.EventPacket, Packet: packet})
}

// Fault - inject an unrecoverable failure
func (s *Session) Fault(message string) {
	s.emit(pipeline.Event{Type: pipeline.EventFault, Message: message})
}

// EOS - inject a remote stream end
func (s *Session) EOS() {
	s.emit(pipeline.Event{Type: pipeline.EventEOS})
}

func (s *Session) emit(ev pipeline.Event) {
	if s.closed.Load() {
		return
	}
	defer func() {
		// lost the race with Close, dropping the event is fine
		_ = recover()
	}()
	s.events <- ev
}

var ErrRefused = errors.New("connection refused")
