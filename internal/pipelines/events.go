package pipelines

import (
	"sync"

	"github.com/campipe/campipe/internal/api/ws"
	"github.com/campipe/campipe/internal/metrics"
	"github.com/campipe/campipe/pkg/pipeline"
)

// Event - lifecycle notification pushed to WebSocket subscribers
type Event struct {
	Camera  string `json:"camera"`
	Type    string `json:"type"` // start, stop, error
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// funnel bridges controller observers to log, metrics and WebSocket.
// Controllers hold it by value, so there is nothing to keep alive.
type funnel struct{}

func (funnel) OnStart(camera string) {
	log.Info().Str("camera", camera).Msg("[pipelines] playing")
	metrics.Event(camera, "start")
	publish(camera, "start", "")
}

func (funnel) OnStop(camera string) {
	log.Info().Str("camera", camera).Msg("[pipelines] stopped")
	metrics.Event(camera, "stop")
	publish(camera, "stop", "")
}

func (funnel) OnError(camera, message string) {
	log.Warn().Str("camera", camera).Str("error", message).Msg("[pipelines] error")
	metrics.Event(camera, "error")
	publish(camera, "error", message)
}

func publish(camera, typ, message string) {
	state := ""
	if c := Get(camera); c != nil {
		state = c.State().String()
		observeState(c)
	}

	ev := Event{Camera: camera, Type: typ, State: state, Message: message}

	subMu.Lock()
	for tr := range subscribers {
		tr.Write(&ws.Message{Type: "pipelines", Value: ev})
	}
	subMu.Unlock()
}

// observeState - refresh the state gauge and drop counter
func observeState(c *pipeline.Controller) {
	metrics.SetState(c.CameraName, c.State().String())
	metrics.DroppedAdd(c.CameraName, countDropped(c))
}

func dropState(c *pipeline.Controller) {
	metrics.RemoveCamera(c.CameraName)
	lastMu.Lock()
	delete(lastDropped, c.CameraName)
	lastMu.Unlock()
}

// countDropped - delta of the buffer's dropped total since last call
func countDropped(c *pipeline.Controller) uint64 {
	total := c.BufferStats().Dropped

	lastMu.Lock()
	defer lastMu.Unlock()

	last := lastDropped[c.CameraName]
	lastDropped[c.CameraName] = total
	if total < last {
		return 0
	}
	return total - last
}

func wsSubscribe(tr *ws.Transport, _ *ws.Message) error {
	subMu.Lock()
	subscribers[tr] = struct{}{}
	subMu.Unlock()

	tr.OnClose(func() {
		subMu.Lock()
		delete(subscribers, tr)
		subMu.Unlock()
	})

	// current snapshot first
	tr.Write(&ws.Message{Type: "pipelines", Value: All()})
	return nil
}

var subscribers = map[*ws.Transport]struct{}{}
var subMu sync.Mutex

var lastDropped = map[string]uint64{}
var lastMu sync.Mutex
