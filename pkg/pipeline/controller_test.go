package pipeline_test

import (
	"sync"
	"testing"
	"time"

	"github.com/campipe/campipe/pkg/fake"
	"github.com/campipe/campipe/pkg/pipeline"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	pipeline.NopObserver

	mu     sync.Mutex
	starts []string
	stops  []string
	errors []string

	started chan struct{}
	stopped chan struct{}
	failed  chan string
}

func newRecorder() *recorder {
	return &recorder{
		started: make(chan struct{}, 8),
		stopped: make(chan struct{}, 8),
		failed:  make(chan string, 8),
	}
}

func (r *recorder) OnStart(camera string) {
	r.mu.Lock()
	r.starts = append(r.starts, camera)
	r.mu.Unlock()
	r.started <- struct{}{}
}

func (r *recorder) OnStop(camera string) {
	r.mu.Lock()
	r.stops = append(r.stops, camera)
	r.mu.Unlock()
	r.stopped <- struct{}{}
}

func (r *recorder) OnError(camera, message string) {
	r.mu.Lock()
	r.errors = append(r.errors, message)
	r.mu.Unlock()
	r.failed <- message
}

func (r *recorder) counts() (starts, stops, errors int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), len(r.stops), len(r.errors)
}

func wait(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func waitMsg(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error notification")
		return ""
	}
}

func TestNew(t *testing.T) {
	c, err := pipeline.New("cam1", 8554)
	require.NoError(t, err)
	require.Equal(t, pipeline.StateIdle, c.State())
	require.Equal(t, "cam1", c.CameraName)
	require.Equal(t, 8554, c.Port)
	require.False(t, c.SoftwareDecode)
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := pipeline.New("", 8554)
	require.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	_, err = pipeline.New("cam1", 0)
	require.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	_, err = pipeline.New("cam1", 65536)
	require.ErrorIs(t, err, pipeline.ErrInvalidConfig)

	_, err = pipeline.New("cam1", -1)
	require.ErrorIs(t, err, pipeline.ErrInvalidConfig)
}

func TestStartReachesPlaying(t *testing.T) {
	eng := &fake.Engine{ManualStart: true}
	c, err := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))
	require.NoError(t, err)

	rec := newRecorder()
	c.SetObserver(rec)

	// Starting is entered synchronously, Playing never happens in the
	// same call
	require.True(t, c.Start())
	require.Equal(t, pipeline.StateStarting, c.State())

	// second start while starting is rejected
	require.False(t, c.Start())

	// first frame arrives
	require.Eventually(t, func() bool { return eng.Session() != nil },
		time.Second, time.Millisecond)
	eng.Session().Started()

	wait(t, rec.started)
	require.Equal(t, pipeline.StatePlaying, c.State())

	starts, stops, errs := rec.counts()
	require.Equal(t, []string{"cam1"}, rec.starts)
	require.Equal(t, 1, starts)
	require.Zero(t, stops)
	require.Zero(t, errs)
}

func TestStartFailure(t *testing.T) {
	eng := &fake.Engine{OpenErr: fake.ErrRefused}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	msg := waitMsg(t, rec.failed)
	require.Contains(t, msg, "connection refused")
	require.Equal(t, pipeline.StateError, c.State())

	// only stop is accepted from Error
	require.False(t, c.Start())
	require.ErrorIs(t, c.Pause(), pipeline.ErrInvalidState)
	require.ErrorIs(t, c.AttachSurface(nil), pipeline.ErrInvalidState)

	c.Stop()
	require.Equal(t, pipeline.StateStopped, c.State())
	wait(t, rec.stopped)
}

func TestStartTimeout(t *testing.T) {
	eng := &fake.Engine{ManualStart: true}
	c, _ := pipeline.New("cam1", 8554,
		pipeline.WithEngine(eng), pipeline.WithStartTimeout(20*time.Millisecond))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	msg := waitMsg(t, rec.failed)
	require.Contains(t, msg, "timeout")
	require.Equal(t, pipeline.StateError, c.State())
	require.True(t, eng.Session().Closed())
}

func TestRuntimeFaultOnce(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	wait(t, rec.started)

	eng.Session().Fault("decoder died")
	msg := waitMsg(t, rec.failed)
	require.Contains(t, msg, "decoder died")
	require.Equal(t, pipeline.StateError, c.State())

	// fault released the session
	require.True(t, eng.Session().Closed())

	_, _, errs := rec.counts()
	require.Equal(t, 1, errs)
}

func TestPauseResume(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	wait(t, rec.started)

	require.NoError(t, c.Pause())
	require.Equal(t, pipeline.StatePaused, c.State())
	require.Equal(t, 1, eng.Session().Pauses())

	// resume via Start
	require.True(t, c.Start())
	require.Equal(t, pipeline.StatePlaying, c.State())
	require.Equal(t, 1, eng.Session().Plays())
}

func TestPauseInvalidStates(t *testing.T) {
	eng := &fake.Engine{ManualStart: true}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	require.ErrorIs(t, c.Pause(), pipeline.ErrInvalidState)
	require.Equal(t, pipeline.StateIdle, c.State())

	c.Stop() // no-op from Idle
	require.Equal(t, pipeline.StateIdle, c.State())

	require.True(t, c.Start())
	c.Stop()
	require.Equal(t, pipeline.StateStopped, c.State())
	require.ErrorIs(t, c.Pause(), pipeline.ErrInvalidState)
	require.Equal(t, pipeline.StateStopped, c.State())
}

func TestStopIdempotent(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	wait(t, rec.started)

	c.Stop()
	require.Equal(t, pipeline.StateStopped, c.State())
	wait(t, rec.stopped)
	require.True(t, eng.Session().Closed())

	// second stop: same terminal state, no duplicate emission
	c.Stop()
	require.Equal(t, pipeline.StateStopped, c.State())

	_, stops, _ := rec.counts()
	require.Equal(t, 1, stops)
}

func TestStopAbortsStarting(t *testing.T) {
	eng := &fake.Engine{ManualStart: true}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	require.Eventually(t, func() bool { return eng.Session() != nil },
		time.Second, time.Millisecond)

	c.Stop()
	require.Equal(t, pipeline.StateStopped, c.State())
	require.True(t, eng.Session().Closed())

	starts, stops, errs := rec.counts()
	require.Zero(t, starts)
	require.Equal(t, 1, stops)
	require.Zero(t, errs)
}

func TestSetLatencyNeverChangesState(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554,
		pipeline.WithEngine(eng), pipeline.WithLatency(100))

	require.Equal(t, uint32(100), c.Latency())

	c.SetLatency(50)
	require.Equal(t, pipeline.StateIdle, c.State())
	require.Equal(t, uint32(50), c.Latency())

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	// forwarded to the live session
	c.SetLatency(200)
	require.Equal(t, pipeline.StatePlaying, c.State())
	require.Equal(t, uint32(200), eng.Session().Latency())

	c.Stop()
	c.SetLatency(25)
	require.Equal(t, pipeline.StateStopped, c.State())
	require.Equal(t, uint32(25), c.Latency())
}

func TestDropOnLatency(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	c.SetDropOnLatency(true)
	require.Equal(t, pipeline.StatePlaying, c.State())
	require.True(t, c.DropOnLatency())

	sess := eng.Session()
	sess.Packet(&pipeline.Packet{})
	sess.Packet(packetSeq(10))

	require.Eventually(t, func() bool {
		return c.BufferStats().Delivered == 2
	}, time.Second, time.Millisecond)

	// a packet from before the released ones arrives too late
	sess.Packet(packetSeq(1))

	require.Eventually(t, func() bool {
		return c.BufferStats().Dropped == 1
	}, time.Second, time.Millisecond)

	// no state change, no notification
	require.Equal(t, pipeline.StatePlaying, c.State())
	starts, stops, errs := rec.counts()
	require.Equal(t, 1, starts)
	require.Zero(t, stops)
	require.Zero(t, errs)
}

func TestAttachSurface(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	// optional before start, playback runs headless without it
	require.NoError(t, c.AttachSurface(surface(42)))

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	require.Equal(t, uintptr(42), eng.Session().Config.Surface.Handle())
	require.NoError(t, c.AttachSurface(surface(43)))

	c.Stop()
	require.ErrorIs(t, c.AttachSurface(surface(44)), pipeline.ErrInvalidState)
}

func TestHeadlessStart(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	require.Nil(t, eng.Session().Config.Surface)
}

func TestDetachedObserver(t *testing.T) {
	eng := &fake.Engine{ManualStart: true}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())

	// observer goes away before the pipeline comes up
	c.SetObserver(nil)

	require.Eventually(t, func() bool { return eng.Session() != nil },
		time.Second, time.Millisecond)
	eng.Session().Started()

	require.Eventually(t, func() bool {
		return c.State() == pipeline.StatePlaying
	}, time.Second, time.Millisecond)

	starts, _, _ := rec.counts()
	require.Zero(t, starts)
}

func TestEOSFault(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	eng.Session().EOS()
	msg := waitMsg(t, rec.failed)
	require.Contains(t, msg, "end of stream")
	require.Equal(t, pipeline.StateError, c.State())
}

func TestOutput(t *testing.T) {
	eng := &fake.Engine{}
	c, _ := pipeline.New("cam1", 8554, pipeline.WithEngine(eng))

	packets := make(chan *pipeline.Packet, 8)
	c.SetOutput(func(p *pipeline.Packet) { packets <- p })

	rec := newRecorder()
	c.SetObserver(rec)
	require.True(t, c.Start())
	wait(t, rec.started)

	eng.Session().Packet(packetSeq(5))

	select {
	case p := <-packets:
		require.Equal(t, uint16(5), p.SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for output packet")
	}
}

func TestProcessEngineLifecycle(t *testing.T) {
	eng := &fake.Engine{}

	pipeline.Initialize(eng)
	pipeline.Initialize(eng) // nested pair
	defer pipeline.Shutdown()

	c, _ := pipeline.New("cam1", 30000)
	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	wait(t, rec.started)
	c.Stop()

	pipeline.Shutdown()
	require.False(t, eng.Closed()) // one reference still held
}

func TestNoEngine(t *testing.T) {
	c, _ := pipeline.New("cam1", 8554)

	rec := newRecorder()
	c.SetObserver(rec)

	require.True(t, c.Start())
	msg := waitMsg(t, rec.failed)
	require.Contains(t, msg, "engine not initialized")
	require.Equal(t, pipeline.StateError, c.State())
}

type surface uintptr

func (s surface) Handle() uintptr {
	return uintptr(s)
}

func packetSeq(seq uint16) *pipeline.Packet {
	p := &pipeline.Packet{}
	p.SequenceNumber = seq
	return p
}
