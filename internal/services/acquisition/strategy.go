// Package acquisition turns heterogeneous camera sources into one
// acquisition contract: fetch one frame into a staging file, or say why not.
package acquisition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"webcamd/internal/config"
	"webcamd/internal/model"
)

// Strategy acquires frames for one camera.
type Strategy interface {
	// Acquire fetches one frame into a staging file owned by the caller.
	Acquire(ctx context.Context) model.AcquisitionResult
	SourceType() string
	// ShouldSkip is a cheap pre-check that never touches the network.
	ShouldSkip(state model.CameraState, now time.Time) model.SkipDecision
}

// skipPolicy is the pre-check shared by both strategy families: a refresh
// window and a failure circuit with exponential backoff.
type skipPolicy struct {
	refresh   time.Duration
	tolerance time.Duration
	threshold int
	base      time.Duration
	max       time.Duration
}

func newSkipPolicy(cam model.Camera, cfg config.WorkerConfig) skipPolicy {
	return skipPolicy{
		refresh:   cam.Refresh,
		tolerance: cfg.RefreshTolerance,
		threshold: cfg.FailureThreshold,
		base:      cfg.BackoffBase,
		max:       cfg.BackoffMax,
	}
}

func (p skipPolicy) check(state model.CameraState, now time.Time) model.SkipDecision {
	if until, open := p.circuitOpenUntil(state); open && now.Before(until) {
		return model.SkipDecision{Skip: true, Reason: model.ReasonCircuitOpen}
	}
	if !state.LastAttemptAt.IsZero() && p.refresh > 0 {
		if now.Sub(state.LastAttemptAt) < p.refresh-p.tolerance {
			return model.SkipDecision{Skip: true, Reason: model.ReasonRefreshNotElapsed}
		}
	}
	return model.SkipDecision{}
}

// circuitOpenUntil returns the end of the backoff window once the failure
// threshold is reached: base * 2^(failures-threshold), capped at max.
func (p skipPolicy) circuitOpenUntil(state model.CameraState) (time.Time, bool) {
	if p.threshold <= 0 || p.base <= 0 || state.ConsecutiveFailures < p.threshold || state.LastFailureAt.IsZero() {
		return time.Time{}, false
	}
	backoff := p.base
	for i := p.threshold; i < state.ConsecutiveFailures; i++ {
		backoff *= 2
		if p.max > 0 && backoff >= p.max {
			backoff = p.max
			break
		}
	}
	if p.max > 0 && backoff > p.max {
		backoff = p.max
	}
	return state.LastFailureAt.Add(backoff), true
}

// stagingPath returns a fresh file name in dir for one camera's frame.
func stagingPath(dir, cameraID, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.%s", cameraID, uuid.NewString(), ext)), nil
}
