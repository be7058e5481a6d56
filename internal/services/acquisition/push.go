package acquisition

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/metrics"
	"webcamd/internal/model"
)

// PushStrategy picks up frames that cameras upload into a per-camera
// directory over FTP/SFTP. It never touches the network.
type PushStrategy struct {
	cam    model.Camera
	deps   Deps
	policy skipPolicy
	log    zerolog.Logger
}

func NewPushStrategy(cam model.Camera, d Deps) *PushStrategy {
	return &PushStrategy{
		cam:    cam,
		deps:   d,
		policy: newSkipPolicy(cam, d.Worker),
		log:    d.Log.With().Str("camera", cam.ID()).Str("strategy", "push").Logger(),
	}
}

func (p *PushStrategy) SourceType() string {
	return model.SourceTypePush
}

func (p *PushStrategy) ShouldSkip(state model.CameraState, now time.Time) model.SkipDecision {
	return p.policy.check(state, now)
}

// UploadDir returns the directory the camera uploads into.
func (p *PushStrategy) UploadDir() string {
	if p.cam.Push == nil {
		return ""
	}
	return p.cam.Push.UploadDir
}

// Ready checks the provisioning preconditions. When it returns false the
// result is the failure (no username) or skip (no upload directory) to
// report instead of acquiring.
func (p *PushStrategy) Ready() (model.AcquisitionResult, bool) {
	if p.cam.Push == nil || p.cam.Push.Username == "" {
		return model.AcquisitionFailed(model.SourceTypePush, model.ReasonNoUsername, nil), false
	}
	dir := p.UploadDir()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return model.AcquisitionSkipped(model.SourceTypePush, model.ReasonUploadDirMissing,
			model.Metadata{"upload_dir": dir}), false
	}
	return model.AcquisitionResult{}, true
}

// Acquire stages the newest eligible upload.
func (p *PushStrategy) Acquire(ctx context.Context) model.AcquisitionResult {
	if res, ok := p.Ready(); !ok {
		return res
	}
	plan, err := p.OrderedFiles(p.deps.now())
	if err != nil {
		return model.AcquisitionFailed(model.SourceTypePush, model.ReasonFetchError, model.Metadata{"error": err.Error()})
	}
	if len(plan.Files) == 0 {
		return model.AcquisitionSkipped(model.SourceTypePush, model.ReasonNoPendingFiles, model.Metadata{
			"expired_deleted": plan.Expired,
			"settling":        plan.Settling,
		})
	}
	res := p.Stage(ctx, plan.Files[0])
	if res.Metadata != nil {
		res.Metadata["total_pending"] = plan.TotalPending
	}
	return res
}

// Stage copies one upload into the staging directory. The upload itself is
// left in place; its path is reported as "upload_path" so the caller can
// remove it once processed.
func (p *PushStrategy) Stage(ctx context.Context, f model.PendingFile) model.AcquisitionResult {
	md := model.Metadata{
		"upload_path": f.Path,
		"bytes":       f.Size,
		"file_mtime":  f.ModTime.UTC().Format(time.RFC3339),
	}
	if err := ctx.Err(); err != nil {
		md["error"] = err.Error()
		return model.AcquisitionFailed(model.SourceTypePush, model.ReasonTimeout, md)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Path)), ".")
	if ext == "jpeg" {
		ext = "jpg"
	}
	dst, err := stagingPath(p.deps.StagingDir, p.cam.ID(), ext)
	if err != nil {
		md["error"] = err.Error()
		return model.AcquisitionFailed(model.SourceTypePush, model.ReasonStagingFailed, md)
	}
	if err := copyPreservingTime(f.Path, dst, f.ModTime); err != nil {
		os.Remove(dst)
		md["error"] = err.Error()
		return model.AcquisitionFailed(model.SourceTypePush, model.ReasonStagingFailed, md)
	}
	return model.Acquired(model.SourceTypePush, dst, f.ModTime.UTC(), md)
}

// OrderedFiles builds the work list for one invocation.
//
// Uploads older than the maximum age are deleted; uploads younger than the
// minimum age may still be in transfer and are left for the next run. The
// remaining files are ordered newest first, so the live frame is refreshed
// before anything else, then oldest to newest to drain the backlog in
// capture order. The list is capped at the batch size; TotalPending counts
// every eligible file and raises the invocation timeout when the backlog
// exceeds its threshold.
func (p *PushStrategy) OrderedFiles(now time.Time) (model.BatchPlan, error) {
	plan := model.BatchPlan{Timeout: p.deps.Worker.Timeout}

	files, err := p.listUploads()
	if err != nil {
		return plan, err
	}

	var eligible []model.PendingFile
	for _, f := range files {
		age := now.Sub(f.ModTime)
		switch {
		case p.deps.Push.MaxFileAge > 0 && age > p.deps.Push.MaxFileAge:
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				p.log.Warn().Err(err).Str("path", f.Path).Msg("Failed to delete expired upload")
				continue
			}
			plan.Expired++
		case age < p.deps.Push.MinFileAge:
			plan.Settling++
		case f.Size == 0:
			plan.Settling++
		default:
			eligible = append(eligible, f)
		}
	}
	if plan.Expired > 0 {
		metrics.PushExpired.WithLabelValues(p.cam.ID()).Add(float64(plan.Expired))
		p.log.Info().Int("count", plan.Expired).Msg("Deleted expired uploads")
	}

	plan.TotalPending = len(eligible)
	plan.Files = orderBatch(eligible, p.deps.Push.MaxBatch)
	if plan.TotalPending > p.deps.Push.BacklogThreshold && p.deps.Worker.ExtendedTimeout > plan.Timeout {
		plan.Timeout = p.deps.Worker.ExtendedTimeout
		plan.Extended = true
	}
	return plan, nil
}

// orderBatch returns the newest file followed by the rest oldest to newest,
// capped at max entries.
func orderBatch(files []model.PendingFile, max int) []model.PendingFile {
	if len(files) == 0 {
		return nil
	}
	sorted := make([]model.PendingFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].ModTime.Before(sorted[j].ModTime)
	})

	n := len(sorted)
	out := make([]model.PendingFile, 0, n)
	out = append(out, sorted[n-1])
	out = append(out, sorted[:n-1]...)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func (p *PushStrategy) listUploads() ([]model.PendingFile, error) {
	dirs := []string{p.UploadDir()}
	if p.cam.Push != nil && p.cam.Push.Protocol == "sftp" {
		dirs = append(dirs, filepath.Join(p.UploadDir(), "files"))
	}

	var files []model.PendingFile
	for i, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if i > 0 && os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to list uploads: %w", err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !p.allowed(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, model.PendingFile{
				Path:    filepath.Join(dir, e.Name()),
				ModTime: info.ModTime(),
				Size:    info.Size(),
			})
		}
	}
	return files, nil
}

func (p *PushStrategy) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range p.deps.Push.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func copyPreservingTime(src, dst string, modTime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, modTime, modTime)
}
