package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/listener"
)

// Handlers serves the operational endpoints: health, listener status and
// Prometheus metrics. It only reads state, it never mutates anything.
type Handlers struct {
	registry *listener.Registry
	started  time.Time
}

// NewHandlers creates handlers backed by the given listener registry.
func NewHandlers(registry *listener.Registry) *Handlers {
	return &Handlers{
		registry: registry,
		started:  time.Now(),
	}
}

type statusResponse struct {
	Instance  string            `json:"instance"`
	Channel   string            `json:"channel"`
	GeoServer string            `json:"geoserver_url"`
	UptimeSec int64             `json:"uptime_seconds"`
	Listeners map[string]string `json:"listeners"`
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	listeners := h.registry.Snapshot()
	if listeners == nil {
		listeners = map[string]string{}
	}
	writeJSONResponse(w, statusResponse{
		Instance:  cfg.Config.InstanceID,
		Channel:   cfg.Config.Listener.Channel,
		GeoServer: cfg.Config.GeoServer.URL,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Listeners: listeners,
	})
}

func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
