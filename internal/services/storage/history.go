// Package storage keeps the live frame set and the per-camera history
// archive on disk.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/model"
	"webcamd/internal/repository"
)

// HistoryStore is an append-only archive of frames under
// <root>/<camera id>/<unix seconds>.<format>.
//
// The directory is the source of truth. When an index is attached every
// write and delete is mirrored into it; index failures are logged and never
// fail the archive operation.
type HistoryStore struct {
	root  string
	index repository.FrameIndex
	log   zerolog.Logger

	// One lock per camera; cameras never share files.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHistoryStore(root string, index repository.FrameIndex, log zerolog.Logger) *HistoryStore {
	return &HistoryStore{
		root:  root,
		index: index,
		log:   log,
		locks: map[string]*sync.Mutex{},
	}
}

// Root returns the archive root directory.
func (h *HistoryStore) Root() string {
	return h.root
}

// Dir returns the archive directory of one camera.
func (h *HistoryStore) Dir(cameraID string) string {
	return filepath.Join(h.root, cameraID)
}

func (h *HistoryStore) lock(cameraID string) func() {
	h.mu.Lock()
	l, ok := h.locks[cameraID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[cameraID] = l
	}
	h.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Append archives one capture. files maps format to the source file. Formats
// are written one after another, so a crash can leave a partial group that
// the next Cleanup removes.
func (h *HistoryStore) Append(cameraID string, capturedAt time.Time, files map[string]string) (model.HistoryFrame, error) {
	defer h.lock(cameraID)()

	dir := h.Dir(cameraID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return model.HistoryFrame{}, fmt.Errorf("failed to create history directory: %w", err)
	}

	ts := capturedAt.Unix()
	frame := model.HistoryFrame{
		Timestamp: ts,
		Paths:     map[string]string{},
		Sizes:     map[string]int64{},
	}

	for _, format := range sortedKeys(files) {
		dst := filepath.Join(dir, fmt.Sprintf("%d.%s", ts, format))
		if err := atomicCopy(files[format], dst); err != nil {
			return frame, fmt.Errorf("failed to archive %s: %w", format, err)
		}
		var size int64
		if info, err := os.Stat(dst); err == nil {
			size = info.Size()
		}
		frame.Formats = append(frame.Formats, format)
		frame.Paths[format] = dst
		frame.Sizes[format] = size
		frame.SizeBytes += size

		if h.index != nil {
			if err := h.index.Insert(cameraID, ts, format, dst, size); err != nil {
				h.log.Warn().Err(err).Str("camera", cameraID).Int64("timestamp", ts).Msg("Failed to index history frame")
			}
		}
	}
	return frame, nil
}

// Frames lists the archive of cameraID grouped by timestamp, newest first,
// with the formats actually found on disk.
func (h *HistoryStore) Frames(cameraID string) ([]model.HistoryFrame, error) {
	return scanFrames(h.Dir(cameraID))
}

// Cleanup enforces the retention limit. Partial groups older than the
// newest complete group are stale leftovers and are removed; then the oldest
// complete groups beyond maxFrames are removed. Every file of a removed
// group goes together. Returns the number of groups removed.
func (h *HistoryStore) Cleanup(cameraID string, maxFrames int, formats []string) (int, error) {
	defer h.lock(cameraID)()

	frames, err := h.Frames(cameraID)
	if err != nil {
		return 0, err
	}

	var (
		toDelete     []model.HistoryFrame
		completeSeen int
		sawComplete  bool
	)
	for _, f := range frames {
		if f.Complete(formats) {
			sawComplete = true
			completeSeen++
			if maxFrames > 0 && completeSeen > maxFrames {
				toDelete = append(toDelete, f)
			}
			continue
		}
		// Partials newer than every complete group may still be landing.
		if sawComplete {
			toDelete = append(toDelete, f)
		}
	}

	removed := 0
	for _, f := range toDelete {
		if err := h.removeGroup(cameraID, f); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (h *HistoryStore) removeGroup(cameraID string, f model.HistoryFrame) error {
	for _, format := range f.Formats {
		if err := os.Remove(f.Paths[format]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", f.Paths[format], err)
		}
	}
	if h.index != nil {
		if err := h.index.DeleteGroup(cameraID, f.Timestamp); err != nil {
			h.log.Warn().Err(err).Str("camera", cameraID).Int64("timestamp", f.Timestamp).Msg("Failed to unindex history frame")
		}
	}
	return nil
}

// DiskUsage sums the size of every archived file of cameraID.
func (h *HistoryStore) DiskUsage(cameraID string) (int64, error) {
	frames, err := h.Frames(cameraID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range frames {
		total += f.SizeBytes
	}
	return total, nil
}

// Cameras lists the camera ids that have an archive directory.
func (h *HistoryStore) Cameras() ([]string, error) {
	entries, err := os.ReadDir(h.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func scanFrames(dir string) ([]model.HistoryFrame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	groups := map[int64]*model.HistoryFrame{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ext := filepath.Ext(name)
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, ext), 10, 64)
		if err != nil || ext == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		g, ok := groups[ts]
		if !ok {
			g = &model.HistoryFrame{Timestamp: ts, Paths: map[string]string{}, Sizes: map[string]int64{}}
			groups[ts] = g
		}
		format := strings.TrimPrefix(ext, ".")
		g.Formats = append(g.Formats, format)
		g.Paths[format] = filepath.Join(dir, name)
		g.Sizes[format] = info.Size()
		g.SizeBytes += info.Size()
	}

	frames := make([]model.HistoryFrame, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.Formats)
		frames = append(frames, *g)
	}
	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Timestamp > frames[j].Timestamp
	})
	return frames, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Nearest returns the distance from t to the closest archived frame of
// cameraID; false when the archive is empty.
func (h *HistoryStore) Nearest(cameraID string, t time.Time) (time.Duration, bool) {
	frames, err := h.Frames(cameraID)
	if err != nil || len(frames) == 0 {
		return 0, false
	}
	target := t.Unix()
	best := int64(-1)
	for _, f := range frames {
		d := f.Timestamp - target
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return time.Duration(best) * time.Second, true
}
