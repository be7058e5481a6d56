// Package worker runs one pipeline invocation for one camera: skip-check,
// acquire, validate, normalize, generate variants, promote, archive.
package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/metrics"
	"webcamd/internal/model"
	"webcamd/internal/repository"
	"webcamd/internal/services/acquisition"
	"webcamd/internal/services/detector"
	"webcamd/internal/services/imaging"
	"webcamd/internal/services/storage"
	"webcamd/internal/services/timestamp"
)

// Notifier is told about every newly promoted live frame set.
type Notifier interface {
	NotifyPromoted(cam model.Camera, res model.PipelineResult)
}

// Deps are the collaborators of a Worker. Notifier may be nil.
type Deps struct {
	Config     *config.Config
	States     repository.StateRepository
	Detector   *detector.Detector
	Normalizer *timestamp.Normalizer
	Generator  *imaging.Generator
	Live       *storage.LiveStore
	History    *storage.HistoryStore
	Notifier   Notifier
	Strategies acquisition.Deps
	Log        zerolog.Logger

	// Now and NewStrategy are overridden in tests.
	Now         func() time.Time
	NewStrategy func(model.Camera, acquisition.Deps) acquisition.Strategy
}

// Worker sequences the pipeline stages. One Worker serves any number of
// cameras; invocations for different cameras share no mutable state.
type Worker struct {
	Deps
	plan imaging.Plan
}

func New(d Deps) *Worker {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewStrategy == nil {
		d.NewStrategy = acquisition.New
	}
	return &Worker{Deps: d, plan: imaging.PlanFromConfig(d.Config.Imaging)}
}

// Run performs one invocation for cam. Push cameras drain a batch of
// uploads; pull cameras fetch one frame.
func (w *Worker) Run(ctx context.Context, cam model.Camera) model.WorkerResult {
	start := w.Now()
	log := w.Log.With().Str("camera", cam.ID()).Logger()
	strategy := w.NewStrategy(cam, w.Strategies)

	state, err := w.States.Get(cam.ID())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load camera state")
		return w.finish(cam, strategy.SourceType(), start, nil,
			model.Failed(model.ReasonStateUnavailable, model.Metadata{"error": err.Error()}))
	}

	if d := strategy.ShouldSkip(state, start); d.Skip {
		return w.finish(cam, strategy.SourceType(), start, nil, model.Skipped(d.Reason, nil))
	}

	if push, ok := strategy.(*acquisition.PushStrategy); ok {
		return w.runBatch(ctx, cam, push, state, start)
	}

	ctx, cancel := context.WithTimeout(ctx, w.Config.Worker.Timeout)
	defer cancel()

	acq := strategy.Acquire(ctx)
	if acq.Skipped {
		return w.finish(cam, acq.SourceType, start, nil, model.Skipped(acq.Reason, acq.Metadata))
	}
	if !acq.Success {
		state.RecordFailure(start, acq.Reason)
		return w.finish(cam, acq.SourceType, start, &state, model.Failed(acq.Reason, acq.Metadata))
	}
	defer os.Remove(acq.ImagePath)

	out := w.process(ctx, cam, &state, acq, processOptions{promote: true})
	if out.result.Outcome == model.OutcomeFailure {
		state.RecordFailure(start, out.result.Reason)
	}
	state.LastAttemptAt = start
	return w.finish(cam, acq.SourceType, start, &state, out.result)
}

// runBatch drains up to one batch of pending uploads. Each upload that was
// processed to a verdict is deleted; uploads interrupted by the deadline or
// an I/O failure stay for the next invocation.
func (w *Worker) runBatch(ctx context.Context, cam model.Camera, push *acquisition.PushStrategy, state model.CameraState, start time.Time) model.WorkerResult {
	log := w.Log.With().Str("camera", cam.ID()).Logger()
	sourceType := push.SourceType()

	if res, ok := push.Ready(); !ok {
		if res.Skipped {
			return w.finish(cam, sourceType, start, nil, model.Skipped(res.Reason, res.Metadata))
		}
		state.RecordFailure(start, res.Reason)
		return w.finish(cam, sourceType, start, &state, model.Failed(res.Reason, res.Metadata))
	}

	plan, err := push.OrderedFiles(start)
	if err != nil {
		state.RecordFailure(start, model.ReasonFetchError)
		return w.finish(cam, sourceType, start, &state,
			model.Failed(model.ReasonFetchError, model.Metadata{"error": err.Error()}))
	}
	metrics.PushPending.WithLabelValues(cam.ID()).Set(float64(plan.TotalPending))

	md := model.Metadata{
		"total_pending":    plan.TotalPending,
		"expired_deleted":  plan.Expired,
		"settling":         plan.Settling,
		"batch_size":       len(plan.Files),
		"extended_timeout": plan.Extended,
	}
	if len(plan.Files) == 0 {
		return w.finish(cam, sourceType, start, nil, model.Skipped(model.ReasonNoPendingFiles, md))
	}
	if plan.Extended {
		log.Info().Int("pending", plan.TotalPending).Dur("timeout", plan.Timeout).Msg("Backlog detected, extending timeout")
	}

	ctx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	var (
		processed, succeeded, failed, interrupted int
		lastReason                                string
		live                                      *model.PipelineResult
		first                                     *model.PipelineResult
	)
	for i, f := range plan.Files {
		if ctx.Err() != nil {
			interrupted = len(plan.Files) - i
			break
		}

		acq := push.Stage(ctx, f)
		if !acq.Success {
			failed++
			lastReason = acq.Reason
			continue
		}

		out := w.process(ctx, cam, &state, acq, processOptions{
			promote: i == 0,
			quick:   i > 0 && plan.Extended,
		})
		os.Remove(acq.ImagePath)

		if out.consumed {
			processed++
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", f.Path).Msg("Failed to remove processed upload")
			}
		}

		switch out.result.Outcome {
		case model.OutcomeSuccess:
			succeeded++
			p := out.result.Pipeline
			if first == nil {
				first = p
			}
			if out.promoted {
				live = p
			}
		default:
			failed++
			lastReason = out.result.Reason
		}
	}

	md["processed"] = processed
	md["succeeded"] = succeeded
	md["failed"] = failed
	md["remaining"] = plan.TotalPending - processed
	if interrupted > 0 {
		md["interrupted"] = interrupted
	}
	state.LastAttemptAt = start

	if succeeded > 0 {
		p := live
		if p == nil {
			p = first
		}
		return w.finish(cam, sourceType, start, &state, model.Succeeded(p, md))
	}
	if lastReason == "" {
		lastReason = model.ReasonInvocationTimeout
	}
	state.RecordFailure(start, lastReason)
	return w.finish(cam, sourceType, start, &state, model.Failed(lastReason, md))
}

// finish records the outcome: metrics, log line, persisted state. A nil
// state leaves the stored record untouched, which is what skips want.
func (w *Worker) finish(cam model.Camera, sourceType string, start time.Time, state *model.CameraState, res model.WorkerResult) model.WorkerResult {
	elapsed := w.Now().Sub(start)
	res.Metadata["duration_ms"] = elapsed.Milliseconds()

	metrics.PipelineRuns.WithLabelValues(cam.ID(), res.Outcome.String(), res.Reason).Inc()
	metrics.PipelineDuration.WithLabelValues(cam.ID(), sourceType).Observe(elapsed.Seconds())

	if state != nil {
		if err := w.States.Save(*state); err != nil {
			w.Log.Error().Err(err).Str("camera", cam.ID()).Msg("Failed to save camera state")
		}
		if res.Outcome == model.OutcomeSuccess {
			metrics.LastSuccess.WithLabelValues(cam.ID()).Set(float64(state.LastSuccessAt.Unix()))
		}
	}

	var ev *zerolog.Event
	switch res.Outcome {
	case model.OutcomeSuccess:
		ev = w.Log.Info()
	case model.OutcomeSkip:
		ev = w.Log.Debug()
	default:
		ev = w.Log.Warn()
	}
	ev.Str("camera", cam.ID()).
		Str("source_type", sourceType).
		Str("outcome", res.Outcome.String()).
		Str("reason", res.Reason).
		Dur("duration", elapsed).
		Msg("Pipeline invocation finished")
	return res
}

// deadlineHit reports whether err or ctx shows the invocation ran out of
// time.
func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
