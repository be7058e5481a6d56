package sqlite

import (
	"fmt"

	"webcamd/internal/model"
)

// FrameRepository implements repository.FrameIndex for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite history frame index.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// Insert records one archived file. Re-inserting the same file updates it.
func (r *FrameRepository) Insert(cameraID string, timestamp int64, format, path string, size int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO history_frames (camera_id, timestamp, format, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(camera_id, timestamp, format) DO UPDATE SET
			filepath = excluded.filepath,
			filesize = excluded.filesize
	`, cameraID, timestamp, format, path, size)
	if err != nil {
		return fmt.Errorf("failed to insert history frame: %w", err)
	}
	return nil
}

// BulkInsert records many frames in one transaction.
func (r *FrameRepository) BulkInsert(cameraID string, frames []model.HistoryFrame) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO history_frames (camera_id, timestamp, format, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		for _, format := range f.Formats {
			if _, err := stmt.Exec(cameraID, f.Timestamp, format, f.Paths[format], f.Sizes[format]); err != nil {
				return fmt.Errorf("failed to insert frame %d/%s: %w", f.Timestamp, format, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns the newest frames of a camera, grouped by timestamp.
func (r *FrameRepository) List(cameraID string, limit int) ([]model.HistoryFrame, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `
		SELECT timestamp, format, filepath, filesize
		FROM history_frames
		WHERE camera_id = ? AND timestamp IN (
			SELECT DISTINCT timestamp FROM history_frames WHERE camera_id = ?
			ORDER BY timestamp DESC LIMIT ?
		)
		ORDER BY timestamp DESC, format
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Conn().Query(query, cameraID, cameraID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history frames: %w", err)
	}
	defer rows.Close()

	var frames []model.HistoryFrame
	for rows.Next() {
		var (
			ts           int64
			format, path string
			size         int64
		)
		if err := rows.Scan(&ts, &format, &path, &size); err != nil {
			return nil, fmt.Errorf("failed to scan history frame: %w", err)
		}
		if n := len(frames); n == 0 || frames[n-1].Timestamp != ts {
			frames = append(frames, model.HistoryFrame{
				Timestamp: ts,
				Paths:     map[string]string{},
				Sizes:     map[string]int64{},
			})
		}
		f := &frames[len(frames)-1]
		f.Formats = append(f.Formats, format)
		f.Paths[format] = path
		f.Sizes[format] = size
		f.SizeBytes += size
	}
	return frames, rows.Err()
}

// Stats returns the number of distinct timestamps per camera.
func (r *FrameRepository) Stats() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT camera_id, COUNT(DISTINCT timestamp) FROM history_frames GROUP BY camera_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var (
			camera string
			count  int
		)
		if err := rows.Scan(&camera, &count); err != nil {
			return nil, fmt.Errorf("failed to scan frame stats: %w", err)
		}
		stats[camera] = count
	}
	return stats, rows.Err()
}

// DeleteGroup removes every format of one timestamp.
func (r *FrameRepository) DeleteGroup(cameraID string, timestamp int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`DELETE FROM history_frames WHERE camera_id = ? AND timestamp = ?`, cameraID, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete history group: %w", err)
	}
	return nil
}

// DeleteCamera removes a camera's whole index.
func (r *FrameRepository) DeleteCamera(cameraID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`DELETE FROM history_frames WHERE camera_id = ?`, cameraID)
	if err != nil {
		return fmt.Errorf("failed to delete camera frames: %w", err)
	}
	return nil
}
