package worker

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"webcamd/internal/metrics"
	"webcamd/internal/model"
	"webcamd/internal/services/imaging"
)

type processOptions struct {
	// promote makes a validated frame the live frame set. Backlog uploads
	// other than the newest arrival are archived only.
	promote bool
	// quick runs the cheap pre-filter ahead of the full detector so
	// obvious error frames are rejected without the full analysis.
	quick bool
}

type processOutcome struct {
	result model.WorkerResult
	// promoted is set when the frame became the live frame set.
	promoted bool
	// consumed is false when processing stopped for a reason that a later
	// invocation could overcome (deadline, disk errors).
	consumed bool
}

// process runs validate, normalize, variants, promote and archive on one
// staged frame and updates state on success.
func (w *Worker) process(ctx context.Context, cam model.Camera, state *model.CameraState, acq model.AcquisitionResult, opts processOptions) processOutcome {
	log := w.Log.With().Str("camera", cam.ID()).Logger()
	md := acq.Metadata.Clone()

	// Validate
	if opts.quick && w.Detector.QuickCheck(acq.ImagePath) {
		metrics.ErrorFrames.WithLabelValues(cam.ID(), "quick_check").Inc()
		md["detector_reasons"] = "quick_check"
		return processOutcome{result: model.Failed(model.ReasonErrorFrame, md), consumed: true}
	}
	// A negative quick check is not a pass; the full detector still runs.
	verdict := w.Detector.Detect(acq.ImagePath)
	metrics.ErrorScore.WithLabelValues(cam.ID()).Observe(verdict.ErrorScore)
	md["error_score"] = verdict.ErrorScore
	if verdict.IsError {
		for _, r := range verdict.Reasons {
			metrics.ErrorFrames.WithLabelValues(cam.ID(), r).Inc()
		}
		md["confidence"] = verdict.Confidence
		md["detector_reasons"] = strings.Join(verdict.Reasons, ",")
		log.Warn().Strs("reasons", verdict.Reasons).Float64("score", verdict.ErrorScore).Msg("Error frame rejected")
		return processOutcome{result: model.Failed(model.ReasonErrorFrame, md), consumed: true}
	}

	// Normalize
	capturedAt := acq.CapturedAt
	if ts, err := w.Normalizer.Normalize(acq.ImagePath, cam.Timezone); err != nil {
		log.Debug().Err(err).Msg("Timestamp normalization failed, keeping provisional time")
		md["timestamp_source"] = "provisional"
	} else {
		capturedAt = ts.Time
		md["timestamp_source"] = string(ts.Source)
		if ts.Rewritten {
			md["gps_written"] = true
		}
		metrics.TimestampSource.WithLabelValues(string(ts.Source)).Inc()
	}
	if limit := w.Now().Add(w.Config.Timestamp.MaxFutureSkew); capturedAt.After(limit) {
		log.Warn().Time("captured_at", capturedAt).Msg("Capture time ahead of host clock, using host time")
		md["clock_ahead"] = true
		capturedAt = w.Now().UTC()
	}
	md["captured_at"] = capturedAt.Unix()

	// Variants
	stageDir, err := os.MkdirTemp(w.Strategies.StagingDir, cam.ID()+"-variants-")
	if err != nil {
		md["error"] = err.Error()
		return processOutcome{result: model.Failed(model.ReasonVariantsFailed, md)}
	}
	defer os.RemoveAll(stageDir)

	variants, failures, err := w.Generator.Generate(ctx, acq.ImagePath, stageDir, w.plan)
	if err != nil {
		md["error"] = err.Error()
		return processOutcome{result: model.Failed(model.ReasonDecodeFailed, md), consumed: true}
	}
	if len(failures) > 0 {
		md["variant_failures"] = failures
		for _, f := range failures {
			metrics.VariantFailures.WithLabelValues(f.Label, f.Format).Inc()
		}
	}
	if len(variants[model.VariantOriginal]) == 0 {
		if deadlineHit(ctx, nil) {
			return processOutcome{result: model.Failed(model.ReasonInvocationTimeout, md)}
		}
		return processOutcome{result: model.Failed(model.ReasonVariantsFailed, md), consumed: true}
	}

	result := &model.PipelineResult{
		Variants:   variants,
		CapturedAt: capturedAt,
		Metadata:   md,
	}

	// Promote
	promoted := false
	if opts.promote {
		live, err := w.Live.Promote(cam.ID(), variants)
		if len(live[model.VariantOriginal]) == 0 {
			if err != nil {
				md["error"] = err.Error()
			}
			return processOutcome{result: model.Failed(model.ReasonPromoteFailed, md)}
		}
		if err != nil {
			md["promote_errors"] = err.Error()
		}
		result.Variants = live
		promoted = true
	}
	result.OriginalPath = originalPath(result.Variants, imaging.FormatOf(acq.ImagePath))
	md["promoted"] = promoted

	// Archive
	if w.shouldArchive(cam, capturedAt) {
		if frame, err := w.History.Append(cam.ID(), capturedAt, variants[model.VariantOriginal]); err != nil {
			log.Warn().Err(err).Msg("Failed to archive frame")
			md["history_error"] = err.Error()
		} else {
			md["history_formats"] = frame.Formats
			if capturedAt.After(state.LastHistoryAt) {
				state.LastHistoryAt = capturedAt
			}
			w.cleanupHistory(cam)
		}
	}

	state.RecordSuccess(w.Now())
	if promoted {
		state.LastCaptureAt = capturedAt
	}
	if promoted && w.Notifier != nil {
		w.Notifier.NotifyPromoted(cam, *result)
	}
	return processOutcome{result: model.Succeeded(result, md), promoted: promoted, consumed: true}
}

// shouldArchive applies the camera's history policy and minimum sampling
// interval, measured against the nearest archived frame so backlog uploads
// older than the live frame are sampled too.
func (w *Worker) shouldArchive(cam model.Camera, capturedAt time.Time) bool {
	if !cam.History.Enabled || w.History == nil {
		return false
	}
	if cam.History.MinInterval <= 0 {
		return true
	}
	gap, ok := w.History.Nearest(cam.ID(), capturedAt)
	return !ok || gap >= cam.History.MinInterval
}

func (w *Worker) cleanupHistory(cam model.Camera) {
	log := w.Log.With().Str("camera", cam.ID()).Logger()
	removed, err := w.History.Cleanup(cam.ID(), cam.History.MaxFrames, w.Generator.Producible(w.plan))
	if err != nil {
		log.Warn().Err(err).Msg("History cleanup failed")
		return
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("History retention applied")
	}

	frames, err := w.History.Frames(cam.ID())
	if err != nil {
		return
	}
	var size int64
	for _, f := range frames {
		size += f.SizeBytes
	}
	metrics.HistoryFrames.WithLabelValues(cam.ID()).Set(float64(len(frames)))
	metrics.HistoryBytes.WithLabelValues(cam.ID()).Set(float64(size))
}

// originalPath picks the original in the source's own format, or the first
// original format available.
func originalPath(variants map[string]map[string]string, srcFormat string) string {
	originals := variants[model.VariantOriginal]
	if p, ok := originals[srcFormat]; ok {
		return p
	}
	formats := make([]string, 0, len(originals))
	for f := range originals {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	if len(formats) == 0 {
		return ""
	}
	return originals[formats[0]]
}
