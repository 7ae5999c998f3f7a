package main

import (
	"github.com/campipe/campipe/internal/api"
	"github.com/campipe/campipe/internal/api/ws"
	"github.com/campipe/campipe/internal/app"
	"github.com/campipe/campipe/internal/metrics"
	"github.com/campipe/campipe/internal/pipelines"
	"github.com/campipe/campipe/pkg/fake"
	"github.com/campipe/campipe/pkg/pipeline"
	"github.com/campipe/campipe/pkg/shell"

	"github.com/rs/zerolog/log"
)

func main() {
	app.Init() // init config and logs

	initEngine() // process-wide media engine
	defer pipeline.Shutdown()

	api.Init()       // init HTTP API server
	ws.Init()        // add WebSocket event push
	metrics.Init()   // add Prometheus endpoint
	pipelines.Init() // load pipelines list

	shell.RunUntilSignal()
}

// initEngine selects the media engine for the whole process. The engine
// interface hides the actual media library; the built-in test engine
// produces a synthetic signal for smoke checks and CI.
func initEngine() {
	var cfg struct {
		Engine string `yaml:"engine"`
	}

	// default config
	cfg.Engine = "test"

	app.LoadConfig(&cfg)

	switch cfg.Engine {
	case "test":
		pipeline.Initialize(&fake.Engine{})
	default:
		log.Fatal().Str("engine", cfg.Engine).Msg("unknown media engine")
	}

	log.Debug().Str("engine", cfg.Engine).Msg("[app] media engine")
}
