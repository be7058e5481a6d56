package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/handlers"
	"webcamd/internal/middleware"
	"webcamd/internal/repository"
	"webcamd/internal/services/storage"
	wshub "webcamd/internal/services/websocket"
)

// Deps are the collaborators the HTTP surface reads from. Index and Hub may
// be nil.
type Deps struct {
	Config  *config.Config
	States  repository.StateRepository
	Index   repository.FrameIndex
	History *storage.HistoryStore
	Hub     *wshub.HubService
	Log     zerolog.Logger
}

// SetupRoutes registers the health, metrics, camera API and viewer websocket
// endpoints.
func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)

	var viewers handlers.ClientCounter
	if d.Hub != nil {
		viewers = d.Hub
	}
	r.Get("/healthz", handlers.HealthHandler(len(d.Config.Cameras()), viewers, d.Log))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/cameras", func(r chi.Router) {
		r.Get("/", handlers.CamerasHandler(d.Config, d.States, d.Log))
		r.Get("/{airport}/{cam}/history", handlers.HistoryHandler(d.Config, d.Index, d.History, d.Log))
	})

	if d.Hub != nil {
		r.Get("/ws", handlers.ViewWebsocketHandler(d.Hub, d.Log))
	}
	return r
}
