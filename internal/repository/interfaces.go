package repository

import (
	"errors"

	"webcamd/internal/model"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// StateRepository persists the per-camera record the skip pre-check reads.
type StateRepository interface {
	// Get returns the stored state, or a zero state carrying cameraID when
	// the camera has never run.
	Get(cameraID string) (model.CameraState, error)
	Save(state model.CameraState) error
	All() ([]model.CameraState, error)
}

// FrameIndex mirrors the on-disk history archive for querying. The archive
// directory stays authoritative; the index is rebuilt by cmd/migrate.
type FrameIndex interface {
	// Create operations
	Insert(cameraID string, timestamp int64, format, path string, size int64) error
	BulkInsert(cameraID string, frames []model.HistoryFrame) error

	// Read operations
	List(cameraID string, limit int) ([]model.HistoryFrame, error)
	Stats() (map[string]int, error)

	// Delete operations
	DeleteGroup(cameraID string, timestamp int64) error
	DeleteCamera(cameraID string) error
}
