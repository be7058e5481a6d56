package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"webcamd/internal/model"
)

// Runner performs one pipeline invocation.
type Runner interface {
	Run(ctx context.Context, cam model.Camera) model.WorkerResult
}

// CameraService invokes the pipeline for one camera on a fixed cadence.
// Invocations across cameras are bounded by a shared semaphore; the
// strategy's own skip check decides whether a tick does any work.
type CameraService struct {
	cam      model.Camera
	runner   Runner
	interval time.Duration
	sem      *semaphore.Weighted
	log      zerolog.Logger
}

func NewCameraService(cam model.Camera, runner Runner, interval time.Duration, sem *semaphore.Weighted, log zerolog.Logger) *CameraService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CameraService{
		cam:      cam,
		runner:   runner,
		interval: interval,
		sem:      sem,
		log:      log.With().Str("camera", cam.ID()).Logger(),
	}
}

// Serve implements suture.Service.
func (s *CameraService) Serve(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("Camera service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *CameraService) tick(ctx context.Context) error {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)
	}
	s.runner.Run(ctx, s.cam)
	return nil
}

func (s *CameraService) String() string {
	return "camera-" + s.cam.ID()
}
