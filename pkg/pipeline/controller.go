// Package pipeline implements the lifecycle state machine for one camera
// stream: Idle > Starting > Playing > Paused > Stopping > Stopped, with an
// Error branch for async faults. The media work itself (demux, decode,
// render) lives behind the Engine interface.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campipe/campipe/pkg/jitter"
)

const DefaultStartTimeout = 10 * time.Second

// drain pace for packets waiting in the latency buffer
const drainInterval = 10 * time.Millisecond

type Controller struct {
	CameraName     string
	Port           int
	SoftwareDecode bool

	latencyMs atomic.Uint32
	dropLate  atomic.Bool

	mu       sync.Mutex
	state    State
	workerID int
	engine   Engine
	session  Session
	observer Observer
	surface  Surface
	output   func(*Packet)

	buffer       *jitter.Buffer
	startTimeout time.Duration
}

type Option func(*Controller)

// WithEngine - use a private engine instead of the process-wide one
func WithEngine(e Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithSoftwareDecode - select the fallback software decode path instead
// of hardware acceleration. Fixed for the controller's lifetime.
func WithSoftwareDecode() Option {
	return func(c *Controller) { c.SoftwareDecode = true }
}

func WithLatency(ms uint32) Option {
	return func(c *Controller) { c.latencyMs.Store(ms) }
}

func WithDropOnLatency(enabled bool) Option {
	return func(c *Controller) { c.dropLate.Store(enabled) }
}

func WithStartTimeout(d time.Duration) Option {
	return func(c *Controller) { c.startTimeout = d }
}

func New(cameraName string, port int, opts ...Option) (*Controller, error) {
	if cameraName == "" {
		return nil, fmt.Errorf("%w: empty camera name", ErrInvalidConfig)
	}
	if port < 1 || port > 0xFFFF {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, port)
	}

	c := &Controller{
		CameraName:   cameraName,
		Port:         port,
		state:        StateIdle,
		startTimeout: DefaultStartTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.buffer = jitter.NewBuffer(c.latencyMs.Load(), c.dropLate.Load())
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Latency() uint32 {
	return c.latencyMs.Load()
}

func (c *Controller) DropOnLatency() bool {
	return c.dropLate.Load()
}

func (c *Controller) BufferStats() jitter.Stats {
	return c.buffer.Stats()
}

// SetOutput - downstream sink for packets released from the latency
// buffer (recorder, forwarder...). Rendering happens inside the engine,
// so a nil output only discards the copies.
func (c *Controller) SetOutput(f func(*Packet)) {
	c.mu.Lock()
	c.output = f
	c.mu.Unlock()
}

// AttachSurface - associate a render target. Must happen before Start
// for video to show up; starting without one runs the pipeline headless.
func (c *Controller) AttachSurface(s Surface) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle, StateStarting, StatePlaying, StatePaused:
		c.surface = s
		return nil
	}
	return invalidState("attach surface", c.state)
}

// Start - begin or resume playback. From Idle the controller moves to
// Starting synchronously and a worker goroutine opens the engine session;
// Playing (and OnStart) or Error (and OnError) follows asynchronously.
// From Paused the session resumes and the state becomes Playing before
// Start returns. Any other state rejects the call with a false return.
func (c *Controller) Start() bool {
	c.mu.Lock()

	switch c.state {
	case StateIdle:
		c.state = StateStarting
		c.workerID++
		go c.worker(c.workerID)
		c.mu.Unlock()
		return true

	case StatePaused:
		session := c.session
		c.state = StatePlaying
		workerID := c.workerID
		c.mu.Unlock()

		if err := session.Play(); err != nil {
			c.fault(workerID, err.Error())
			return true
		}
		if obs := c.snapObserver(); obs != nil {
			obs.OnStart(c.CameraName)
		}
		return true
	}

	c.mu.Unlock()
	return false
}

// Pause - suspend frame delivery without releasing resources.
// Only valid from Playing.
func (c *Controller) Pause() error {
	c.mu.Lock()

	if c.state != StatePlaying {
		defer c.mu.Unlock()
		return invalidState("pause", c.state)
	}

	session := c.session
	c.state = StatePaused
	workerID := c.workerID
	c.mu.Unlock()

	if err := session.Pause(); err != nil {
		c.fault(workerID, err.Error())
	}
	return nil
}

// Stop - synchronous teardown. Aborts an in-flight start, closes the
// engine session, releases the buffer and lands in Stopped before the
// call returns, with OnStop emitted once. A no-op in Idle and Stopped,
// also the only accepted operation (and recovery path) from Error.
func (c *Controller) Stop() {
	c.mu.Lock()

	switch c.state {
	case StateIdle, StateStopping, StateStopped:
		c.mu.Unlock()
		return
	}

	c.workerID++ // invalidate worker and pump
	session := c.session
	c.session = nil
	c.state = StateStopping
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}

	c.mu.Lock()
	c.state = StateStopped
	obs := c.observer
	c.mu.Unlock()

	if obs != nil {
		obs.OnStop(c.CameraName)
	}
}

// SetLatency - retune the target buffering latency. Takes effect on the
// next buffering decision, live session included. Never blocks, never
// changes state.
func (c *Controller) SetLatency(ms uint32) {
	c.latencyMs.Store(ms)
	c.buffer.SetLatency(ms)

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		session.SetLatency(ms)
	}
}

// SetDropOnLatency - when enabled, packets that miss the latency deadline
// are discarded instead of delivered late: stale frames are worse than
// dropped frames on a live feed. Never blocks, never changes state.
func (c *Controller) SetDropOnLatency(enabled bool) {
	c.dropLate.Store(enabled)
	c.buffer.SetDrop(enabled)
}

// worker runs the async half of Start: open the session, wait for the
// first frame, publish Playing, then pump session events until the
// session dies or the workerID moves on.
func (c *Controller) worker(workerID int) {
	c.mu.Lock()
	engine := c.engine
	cfg := SessionConfig{
		CameraName:     c.CameraName,
		Port:           c.Port,
		SoftwareDecode: c.SoftwareDecode,
		LatencyMs:      c.latencyMs.Load(),
		Surface:        c.surface,
	}
	c.mu.Unlock()

	if engine == nil {
		if engine = processEngine(); engine == nil {
			c.fault(workerID, errNoEngine.Error())
			return
		}
	}

	session, err := engine.Open(cfg)
	if err != nil {
		c.fault(workerID, err.Error())
		return
	}

	// register the session while still Starting, so Stop can abort the
	// in-flight start by closing it
	c.mu.Lock()
	if c.workerID != workerID {
		c.mu.Unlock()
		_ = session.Close()
		return
	}
	c.session = session
	c.mu.Unlock()

	// wait for the first frame
	timeout := time.NewTimer(c.startTimeout)
	defer timeout.Stop()

	select {
	case ev, ok := <-session.Events():
		if !ok {
			c.fault(workerID, "session closed before first frame")
			return
		}
		if ev.Type != EventStarted {
			if ev.Type == EventFault {
				c.fault(workerID, ev.Message)
			} else {
				c.fault(workerID, "unexpected event before first frame")
			}
			return
		}
	case <-timeout.C:
		c.fault(workerID, "start timeout")
		return
	}

	c.mu.Lock()
	if c.workerID != workerID {
		// stopped while starting, Stop already closed the session
		c.mu.Unlock()
		return
	}
	c.state = StatePlaying
	obs := c.observer
	c.mu.Unlock()

	if obs != nil {
		obs.OnStart(c.CameraName)
	}

	c.pump(session, workerID)
}

func (c *Controller) pump(session Session, workerID int) {
	drain := time.NewTicker(drainInterval)
	defer drain.Stop()

	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				// closed by Stop, workerID already moved on
				return
			}
			switch ev.Type {
			case EventPacket:
				if c.buffer.Write(ev.Packet) {
					c.drainBuffer()
				}
			case EventFault:
				c.fault(workerID, ev.Message)
				return
			case EventEOS:
				c.fault(workerID, "end of stream")
				return
			}
		case <-drain.C:
			if !c.alive(workerID) {
				return
			}
			c.drainBuffer()
		}
	}
}

func (c *Controller) drainBuffer() {
	c.mu.Lock()
	output := c.output
	c.mu.Unlock()

	for {
		packet := c.buffer.Read()
		if packet == nil {
			return
		}
		if output != nil {
			output(packet)
		}
	}
}

func (c *Controller) alive(workerID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerID == workerID
}

// fault - single transition point to Error. The workerID guard makes the
// OnError emission exactly-once per failure and keeps a stale worker from
// overriding a newer lifecycle.
func (c *Controller) fault(workerID int, message string) {
	c.mu.Lock()
	if c.workerID != workerID {
		c.mu.Unlock()
		return
	}
	c.workerID++
	session := c.session
	c.session = nil
	c.state = StateError
	obs := c.observer
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if obs != nil {
		obs.OnError(c.CameraName, message)
	}
}

func (c *Controller) MarshalJSON() ([]byte, error) {
	var info struct {
		Camera         string       `json:"camera"`
		Port           int          `json:"port"`
		State          State        `json:"state"`
		LatencyMs      uint32       `json:"latency_ms"`
		DropOnLatency  bool         `json:"drop_on_latency"`
		SoftwareDecode bool         `json:"software_decode,omitempty"`
		Buffer         jitter.Stats `json:"buffer"`
	}
	info.Camera = c.CameraName
	info.Port = c.Port
	info.State = c.State()
	info.LatencyMs = c.Latency()
	info.DropOnLatency = c.DropOnLatency()
	info.SoftwareDecode = c.SoftwareDecode
	info.Buffer = c.BufferStats()
	return json.Marshal(info)
}
