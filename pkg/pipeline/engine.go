package pipeline

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtp"
)

// Packet - same as pion RTP packet
type Packet = rtp.Packet

// Surface - opaque render target (window view, layer...). The controller
// never draws into it, only hands it to the engine session.
type Surface interface {
	// Handle - native handle the engine renders into
	Handle() uintptr
}

type SessionConfig struct {
	CameraName     string
	Port           int
	SoftwareDecode bool
	LatencyMs      uint32
	Surface        Surface // may be nil, playback runs headless
}

type EventType byte

const (
	// EventStarted - session produced its first frame
	EventStarted EventType = iota
	// EventPacket - session received a media packet
	EventPacket
	// EventFault - unrecoverable session failure
	EventFault
	// EventEOS - remote side closed the stream
	EventEOS
)

type Event struct {
	Type    EventType
	Packet  *Packet // EventPacket only
	Message string  // EventFault only
}

// Session - one open media session inside the engine. Close may be called
// from a different goroutine than the one reading Events. After Close the
// Events channel must be closed by the engine.
type Session interface {
	Play() error
	Pause() error
	SetLatency(ms uint32)
	Events() <-chan Event
	Close() error
}

// Engine - the external media library behind all controllers. Open dials
// the camera port, builds the demux/decode/render chain and returns a
// live session. Everything media-specific hides behind this interface.
type Engine interface {
	Open(cfg SessionConfig) (Session, error)
}

// Process-wide engine lifecycle. Called by the composition root only,
// never by controllers. Refcounted so nested Initialize/Shutdown pairs
// are safe and the engine is torn down exactly once.

var (
	procMu     sync.Mutex
	procRefs   int
	procEngine Engine
)

func Initialize(e Engine) {
	procMu.Lock()
	if procRefs == 0 {
		procEngine = e
	}
	procRefs++
	procMu.Unlock()
}

func Shutdown() {
	procMu.Lock()
	if procRefs > 0 {
		if procRefs--; procRefs == 0 {
			if closer, ok := procEngine.(io.Closer); ok {
				_ = closer.Close()
			}
			procEngine = nil
		}
	}
	procMu.Unlock()
}

func processEngine() Engine {
	procMu.Lock()
	defer procMu.Unlock()
	return procEngine
}

var errNoEngine = errors.New("media engine not initialized")
