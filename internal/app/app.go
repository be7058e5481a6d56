package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"webcamd/internal/config"
	"webcamd/internal/logger"
	"webcamd/internal/model"
	"webcamd/internal/repository/sqlite"
	"webcamd/internal/routes"
	"webcamd/internal/services/acquisition"
	"webcamd/internal/services/websocket"
	"webcamd/internal/supervisor"
)

type App struct {
	config     *config.Config
	log        *logger.Logger
	db         *sqlite.DB
	pipeline   *Pipeline
	hubService *websocket.HubService
	tree       *supervisor.Tree
}

// NewApp loads configuration and builds the supervised server: one service
// per camera, the websocket hub and the HTTP API.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.Paths.CacheDir, cfg.Paths.HistoryDir, cfg.Paths.StagingDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sqlite.New(cfg.Paths.StateDB)
	if err != nil {
		log.Close()
		return nil, err
	}

	hub := websocket.NewHubService(log.Component("websocket"))

	pipeline, err := NewPipeline(cfg, log, db, hub)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	a := &App{
		config:     cfg,
		log:        log,
		db:         db,
		pipeline:   pipeline,
		hubService: hub,
		tree:       supervisor.NewTree(log.Slog(), supervisor.TreeConfig{}),
	}
	a.addServices()
	return a, nil
}

func (a *App) addServices() {
	sem := semaphore.NewWeighted(int64(a.config.Server.MaxConcurrent))
	cameraLog := a.log.Component("scheduler")
	for _, cam := range a.config.Cameras() {
		a.tree.AddCameraService(supervisor.NewCameraService(cam, a.pipeline.Worker, a.interval(cam), sem, cameraLog))
	}

	router := routes.SetupRoutes(routes.Deps{
		Config:  a.config,
		States:  a.pipeline.States,
		Index:   a.pipeline.Index,
		History: a.pipeline.History,
		Hub:     a.hubService,
		Log:     a.log.Component("http"),
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.tree.AddAPIService(a.hubService)
	a.tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
}

// interval is the scheduling cadence. Push cameras may poll faster than
// their refresh since the skip check gates the actual work.
func (a *App) interval(cam model.Camera) time.Duration {
	if acquisition.KindOf(cam) == model.SourceKindPush && a.config.Server.PushPoll > 0 {
		return a.config.Server.PushPoll
	}
	return cam.Refresh
}

// Run blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.log.Info().
		Int("port", a.config.Server.Port).
		Int("cameras", len(a.config.Cameras())).
		Str("cache_dir", a.config.Paths.CacheDir).
		Str("history_dir", a.config.Paths.HistoryDir).
		Str("imaging_backend", a.pipeline.Worker.Generator.Backend()).
		Msg("webcamd server starting")

	err := a.tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	return errors.Join(a.db.Close(), a.log.Close())
}
