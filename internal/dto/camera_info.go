package dto

import (
	"time"

	"webcamd/internal/model"
)

// CameraInfo is the API view of one configured webcam and its last run.
type CameraInfo struct {
	ID                  string     `json:"id"`
	Airport             string     `json:"airport"`
	Index               int        `json:"index"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	RefreshSeconds      int        `json:"refresh_seconds"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureReason   string     `json:"last_failure_reason,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastCaptureAt       *time.Time `json:"last_capture_at,omitempty"`
}

// NewCameraInfo merges a camera's configuration with its persisted state.
func NewCameraInfo(cam model.Camera, kind model.SourceKind, state model.CameraState) CameraInfo {
	return CameraInfo{
		ID:                  cam.ID(),
		Airport:             cam.Airport,
		Index:               cam.Index,
		Name:                cam.Name,
		Kind:                string(kind),
		RefreshSeconds:      int(cam.Refresh / time.Second),
		ConsecutiveFailures: state.ConsecutiveFailures,
		LastFailureReason:   state.LastFailureReason,
		LastSuccessAt:       timePtr(state.LastSuccessAt),
		LastFailureAt:       timePtr(state.LastFailureAt),
		LastCaptureAt:       timePtr(state.LastCaptureAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
