package app

import (
	"fmt"
	"net/http"

	"webcamd/internal/config"
	"webcamd/internal/logger"
	"webcamd/internal/repository/sqlite"
	"webcamd/internal/services/acquisition"
	"webcamd/internal/services/detector"
	"webcamd/internal/services/imaging"
	"webcamd/internal/services/storage"
	"webcamd/internal/services/timestamp"
	"webcamd/internal/services/worker"
)

// Pipeline is everything one pipeline invocation needs, built once per
// process and shared by every camera.
type Pipeline struct {
	Worker  *worker.Worker
	States  *sqlite.StateRepository
	Index   *sqlite.FrameRepository
	History *storage.HistoryStore
}

// NewPipeline wires the pipeline stages on top of an open database.
// notifier may be nil.
func NewPipeline(cfg *config.Config, log *logger.Logger, db *sqlite.DB, notifier worker.Notifier) (*Pipeline, error) {
	generator, err := imaging.NewGenerator(cfg.Imaging, log.Component("imaging"))
	if err != nil {
		return nil, fmt.Errorf("failed to create variant generator: %w", err)
	}

	states := sqlite.NewStateRepository(db)
	index := sqlite.NewFrameRepository(db)
	history := storage.NewHistoryStore(cfg.Paths.HistoryDir, index, log.Component("history"))

	w := worker.New(worker.Deps{
		Config:     cfg,
		States:     states,
		Detector:   detector.New(cfg.Detector),
		Normalizer: timestamp.NewNormalizer(cfg.Timestamp, log.Component("timestamp")),
		Generator:  generator,
		Live:       storage.NewLiveStore(cfg.Paths.CacheDir),
		History:    history,
		Notifier:   notifier,
		Strategies: acquisition.Deps{
			Worker:     cfg.Worker,
			Push:       cfg.Push,
			StagingDir: cfg.Paths.StagingDir,
			Backend:    cfg.Imaging.Backend,
			HTTPClient: &http.Client{},
			Log:        log.Component("acquisition"),
		},
		Log: log.Component("worker"),
	})

	return &Pipeline{Worker: w, States: states, Index: index, History: history}, nil
}
