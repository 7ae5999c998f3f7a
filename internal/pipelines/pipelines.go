package pipelines

import (
	"fmt"
	"sync"
	"time"

	"github.com/campipe/campipe/internal/api"
	"github.com/campipe/campipe/internal/api/ws"
	"github.com/campipe/campipe/internal/app"
	"github.com/campipe/campipe/pkg/pipeline"
	"github.com/rs/zerolog"
)

// Config - one entry in the `pipelines:` config section
type Config struct {
	Port           int    `yaml:"port"`
	LatencyMs      uint32 `yaml:"latency_ms"`
	DropOnLatency  bool   `yaml:"drop_on_latency"`
	SoftwareDecode bool   `yaml:"software_decode"`
	Autostart      bool   `yaml:"autostart"`
}

func Init() {
	var cfg struct {
		Pipelines map[string]Config `yaml:"pipelines"`
	}

	app.LoadConfig(&cfg)

	log = app.GetLogger("pipelines")

	var autostart []string

	for name, conf := range cfg.Pipelines {
		if _, err := New(name, conf); err != nil {
			log.Warn().Err(err).Str("camera", name).Msg("[pipelines] skip")
			continue
		}
		if conf.Autostart {
			autostart = append(autostart, name)
		}
	}

	api.HandleFunc("api/pipelines", apiPipelines)
	api.HandleFunc("api/pipelines/start", apiStart)
	api.HandleFunc("api/pipelines/pause", apiPause)
	api.HandleFunc("api/pipelines/stop", apiStop)
	api.HandleFunc("api/pipelines/latency", apiLatency)

	ws.HandleFunc("pipelines", wsSubscribe)

	if autostart == nil {
		return
	}

	time.AfterFunc(time.Second, func() {
		for _, name := range autostart {
			if c := Get(name); c != nil && c.Start() {
				log.Info().Str("camera", name).Msg("[pipelines] autostart")
			}
		}
	})
}

func New(name string, conf Config) (*pipeline.Controller, error) {
	opts := []pipeline.Option{
		pipeline.WithLatency(conf.LatencyMs),
		pipeline.WithDropOnLatency(conf.DropOnLatency),
	}
	if conf.SoftwareDecode {
		opts = append(opts, pipeline.WithSoftwareDecode())
	}

	mu.Lock()
	defer mu.Unlock()

	if _, ok := controllers[name]; ok {
		return nil, fmt.Errorf("pipelines: duplicate camera %q", name)
	}

	c, err := pipeline.New(name, conf.Port, opts...)
	if err != nil {
		return nil, err
	}

	c.SetObserver(funnel{})
	controllers[name] = c

	observeState(c)
	return c, nil
}

func Get(name string) *pipeline.Controller {
	mu.Lock()
	defer mu.Unlock()
	return controllers[name]
}

// Delete - stop the controller and drop it from the registry. Stop is
// always accepted, so the controller is terminal (or never started)
// before removal.
func Delete(name string) {
	mu.Lock()
	c := controllers[name]
	delete(controllers, name)
	mu.Unlock()

	if c != nil {
		c.Stop()
		dropState(c)
	}
}

func All() map[string]*pipeline.Controller {
	mu.Lock()
	defer mu.Unlock()

	all := make(map[string]*pipeline.Controller, len(controllers))
	for name, c := range controllers {
		all[name] = c
	}
	return all
}

var log zerolog.Logger
var controllers = map[string]*pipeline.Controller{}
var mu sync.Mutex
