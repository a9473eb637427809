package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/telemetry"
)

// NewRouter wires the admin routes using chi router.
func NewRouter(handlers *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handlers.handleHealthz)
	r.Get("/status", handlers.handleStatus)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}

// Server is the operational HTTP endpoint. It binds to the configured
// admin address and is torn down last during shutdown so /status stays
// truthful while listeners drain.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the admin server from the loaded configuration.
func NewServer(handlers *Handlers) *Server {
	address := fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:              address,
			Handler:           NewRouter(handlers),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background. A bind failure is logged, not fatal;
// the bridge can run without its status endpoint.
func (s *Server) Start() {
	log.Info().Str("address", s.httpServer.Addr).Msg("Admin endpoint enabled")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin endpoint failed")
		}
	}()
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin endpoint shutdown incomplete")
	}
}
