package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"webcamd/internal/model"
)

// StateRepository implements repository.StateRepository for SQLite.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a new SQLite camera state repository.
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get retrieves a camera's state; unknown cameras get a zero record.
func (r *StateRepository) Get(cameraID string) (model.CameraState, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT camera_id, consecutive_failures, last_attempt_at, last_success_at,
		       last_failure_at, last_failure_reason, last_capture_at, last_history_at
		FROM camera_state WHERE camera_id = ?
	`, cameraID)

	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CameraState{CameraID: cameraID}, nil
	}
	if err != nil {
		return model.CameraState{}, fmt.Errorf("failed to get camera state: %w", err)
	}
	return state, nil
}

// Save upserts a camera's state.
func (r *StateRepository) Save(s model.CameraState) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO camera_state (camera_id, consecutive_failures, last_attempt_at, last_success_at,
			last_failure_at, last_failure_reason, last_capture_at, last_history_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(camera_id) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			last_attempt_at = excluded.last_attempt_at,
			last_success_at = excluded.last_success_at,
			last_failure_at = excluded.last_failure_at,
			last_failure_reason = excluded.last_failure_reason,
			last_capture_at = excluded.last_capture_at,
			last_history_at = excluded.last_history_at,
			updated_at = CURRENT_TIMESTAMP
	`, s.CameraID, s.ConsecutiveFailures, toUnix(s.LastAttemptAt), toUnix(s.LastSuccessAt),
		toUnix(s.LastFailureAt), s.LastFailureReason, toUnix(s.LastCaptureAt), toUnix(s.LastHistoryAt))
	if err != nil {
		return fmt.Errorf("failed to save camera state: %w", err)
	}
	return nil
}

// All returns every stored state ordered by camera id.
func (r *StateRepository) All() ([]model.CameraState, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT camera_id, consecutive_failures, last_attempt_at, last_success_at,
		       last_failure_at, last_failure_reason, last_capture_at, last_history_at
		FROM camera_state ORDER BY camera_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query camera states: %w", err)
	}
	defer rows.Close()

	var states []model.CameraState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (model.CameraState, error) {
	var (
		s                                        model.CameraState
		attempt, success, failure, capture, hist int64
	)
	err := row.Scan(&s.CameraID, &s.ConsecutiveFailures, &attempt, &success,
		&failure, &s.LastFailureReason, &capture, &hist)
	if err != nil {
		return model.CameraState{}, err
	}
	s.LastAttemptAt = fromUnix(attempt)
	s.LastSuccessAt = fromUnix(success)
	s.LastFailureAt = fromUnix(failure)
	s.LastCaptureAt = fromUnix(capture)
	s.LastHistoryAt = fromUnix(hist)
	return s, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
