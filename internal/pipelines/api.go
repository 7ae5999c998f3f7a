package pipelines

import (
	"net/http"
	"strconv"

	"github.com/campipe/campipe/internal/api"
	"github.com/campipe/campipe/internal/app"
)

const cameraNotFound = "camera not found"

func apiPipelines(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	src := query.Get("src")

	// without source - return all pipelines list
	if src == "" && r.Method != "PUT" {
		api.ResponseJSON(w, All())
		return
	}

	switch r.Method {
	case "GET":
		c := Get(src)
		if c == nil {
			http.Error(w, cameraNotFound, http.StatusNotFound)
			return
		}
		api.ResponsePrettyJSON(w, c)

	case "PUT":
		conf, err := confFromQuery(query)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err = New(src, conf); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err = app.SaveConfig("pipelines", src, conf); err != nil {
			log.Warn().Err(err).Msg("[pipelines] save config")
		}

		api.ResponseJSON(w, Get(src))

	case "DELETE":
		if Get(src) == nil {
			http.Error(w, cameraNotFound, http.StatusNotFound)
			return
		}

		Delete(src)

		if err := app.SaveConfig("pipelines", src, nil); err != nil {
			log.Warn().Err(err).Msg("[pipelines] save config")
		}

	default:
		http.Error(w, "", http.StatusMethodNotAllowed)
	}
}

func apiStart(w http.ResponseWriter, r *http.Request) {
	c := Get(r.URL.Query().Get("src"))
	if c == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if !c.Start() {
		http.Error(w, "start rejected from state "+c.State().String(), http.StatusConflict)
		return
	}

	observeState(c)
	api.ResponseJSON(w, c)
}

func apiPause(w http.ResponseWriter, r *http.Request) {
	c := Get(r.URL.Query().Get("src"))
	if c == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if err := c.Pause(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	observeState(c)
	api.ResponseJSON(w, c)
}

func apiStop(w http.ResponseWriter, r *http.Request) {
	c := Get(r.URL.Query().Get("src"))
	if c == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	c.Stop()

	observeState(c)
	api.ResponseJSON(w, c)
}

func apiLatency(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	c := Get(query.Get("src"))
	if c == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	if s := query.Get("ms"); s != "" {
		ms, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.SetLatency(uint32(ms))
	}

	if s := query.Get("drop"); s != "" {
		drop, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.SetDropOnLatency(drop)
	}

	api.ResponseJSON(w, c)
}

func confFromQuery(query map[string][]string) (conf Config, err error) {
	get := func(key string) string {
		if v := query[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	if s := get("port"); s != "" {
		if conf.Port, err = strconv.Atoi(s); err != nil {
			return
		}
	}
	if s := get("latency_ms"); s != "" {
		var ms uint64
		if ms, err = strconv.ParseUint(s, 10, 32); err != nil {
			return
		}
		conf.LatencyMs = uint32(ms)
	}
	if s := get("drop_on_latency"); s != "" {
		if conf.DropOnLatency, err = strconv.ParseBool(s); err != nil {
			return
		}
	}
	if s := get("software_decode"); s != "" {
		if conf.SoftwareDecode, err = strconv.ParseBool(s); err != nil {
			return
		}
	}
	return
}
