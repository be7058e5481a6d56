package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/metrics"
	"webcamd/internal/model"
	"webcamd/internal/services/acquisition"
	"webcamd/internal/services/detector"
	"webcamd/internal/services/imaging"
	"webcamd/internal/services/storage"
	"webcamd/internal/services/timestamp"
)

// ========================================
// Fakes
// ========================================

type memStates struct {
	mu     sync.Mutex
	states map[string]model.CameraState
	saves  int
	err    error
}

func newMemStates() *memStates {
	return &memStates{states: map[string]model.CameraState{}}
}

func (m *memStates) Get(id string) (model.CameraState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.CameraState{}, m.err
	}
	s, ok := m.states[id]
	if !ok {
		s.CameraID = id
	}
	return s, nil
}

func (m *memStates) Save(s model.CameraState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.states[s.CameraID] = s
	return nil
}

func (m *memStates) All() ([]model.CameraState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CameraState
	for _, s := range m.states {
		out = append(out, s)
	}
	return out, nil
}

type fakeStrategy struct {
	staging string
	fixture string
	result  model.AcquisitionResult
	skip    model.SkipDecision
}

func (f *fakeStrategy) SourceType() string { return model.SourceTypeStaticJPEG }

func (f *fakeStrategy) ShouldSkip(model.CameraState, time.Time) model.SkipDecision { return f.skip }

func (f *fakeStrategy) Acquire(ctx context.Context) model.AcquisitionResult {
	if f.fixture == "" {
		return f.result
	}
	data, err := os.ReadFile(f.fixture)
	if err != nil {
		panic(err)
	}
	dst := filepath.Join(f.staging, fmt.Sprintf("staged-%d.jpg", time.Now().UnixNano()))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		panic(err)
	}
	return model.Acquired(model.SourceTypeStaticJPEG, dst, time.Now().UTC(), nil)
}

type recordingNotifier struct {
	events []model.PipelineResult
}

func (r *recordingNotifier) NotifyPromoted(_ model.Camera, res model.PipelineResult) {
	r.events = append(r.events, res)
}

// ========================================
// Fixtures
// ========================================

type harness struct {
	cfg      *config.Config
	worker   *Worker
	states   *memStates
	notifier *recordingNotifier
	fixtures string
}

func newHarness(t *testing.T, strategy acquisition.Strategy) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(root, "cache")
	cfg.Paths.HistoryDir = filepath.Join(root, "history")
	cfg.Paths.StagingDir = filepath.Join(root, "staging")
	cfg.Paths.UploadRoot = filepath.Join(root, "uploads")
	cfg.Timestamp.WriteGPS = false
	if err := os.MkdirAll(cfg.Paths.StagingDir, 0755); err != nil {
		t.Fatal(err)
	}

	log := zerolog.Nop()
	gen, err := imaging.NewGenerator(cfg.Imaging, log)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		cfg:      cfg,
		states:   newMemStates(),
		notifier: &recordingNotifier{},
		fixtures: t.TempDir(),
	}
	deps := Deps{
		Config:     cfg,
		States:     h.states,
		Detector:   detector.New(cfg.Detector),
		Normalizer: timestamp.NewNormalizer(cfg.Timestamp, log),
		Generator:  gen,
		Live:       storage.NewLiveStore(cfg.Paths.CacheDir),
		History:    storage.NewHistoryStore(cfg.Paths.HistoryDir, nil, log),
		Notifier:   h.notifier,
		Strategies: acquisition.Deps{
			Worker:     cfg.Worker,
			Push:       cfg.Push,
			StagingDir: cfg.Paths.StagingDir,
			Log:        log,
		},
		Log: log,
	}
	if strategy != nil {
		deps.NewStrategy = func(model.Camera, acquisition.Deps) acquisition.Strategy { return strategy }
	}
	h.worker = New(deps)
	return h
}

func sceneImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			var b uint8
			if (x/16+y/16)%2 == 0 {
				b = 255
			}
			img.Set(x, y, color.RGBA{uint8(x * 255 / 640), uint8(y * 255 / 480), b, 255})
		}
	}
	return img
}

func greyImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	return img
}

func writeFixture(t *testing.T, path string, img image.Image, modTime time.Time) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func pullCamera() model.Camera {
	return model.Camera{
		Airport: "kbdu",
		Index:   0,
		URL:     "http://cam/snapshot.jpg",
		Refresh: time.Minute,
		History: model.HistoryPolicy{Enabled: true, MaxFrames: 10},
	}
}

// ========================================
// Pull invocations
// ========================================

func TestRun_SuccessPromotesAndArchives(t *testing.T) {
	fs := &fakeStrategy{}
	h := newHarness(t, fs)
	fs.staging = h.cfg.Paths.StagingDir
	fs.fixture = writeFixture(t, filepath.Join(h.fixtures, "scene.jpg"), sceneImage(), time.Time{})

	cam := pullCamera()
	res := h.worker.Run(context.Background(), cam)
	if res.Outcome != model.OutcomeSuccess || res.ExitCode() != 0 {
		t.Fatalf("Run = %+v", res)
	}

	for _, name := range []string{"kbdu_0.jpg", "kbdu_0_thumb.jpg"} {
		if _, err := os.Stat(filepath.Join(h.cfg.Paths.CacheDir, name)); err != nil {
			t.Errorf("live file %s missing: %v", name, err)
		}
	}
	// 640px source cannot feed the 1280px size: partial success.
	if _, ok := res.Pipeline.Metadata["variant_failures"]; !ok {
		t.Error("expected variant_failures metadata for the skipped upscale")
	}
	if res.Pipeline.OriginalPath != filepath.Join(h.cfg.Paths.CacheDir, "kbdu_0.jpg") {
		t.Errorf("original path = %s", res.Pipeline.OriginalPath)
	}

	st := h.states.states[cam.ID()]
	if st.ConsecutiveFailures != 0 || st.LastSuccessAt.IsZero() || st.LastCaptureAt.IsZero() {
		t.Errorf("state = %+v", st)
	}

	frames, _ := h.worker.History.Frames(cam.ID())
	if len(frames) != 1 {
		t.Errorf("history frames = %d, want 1", len(frames))
	}
	if len(h.notifier.events) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.notifier.events))
	}

	entries, _ := os.ReadDir(h.cfg.Paths.StagingDir)
	if len(entries) != 0 {
		t.Errorf("staging not cleaned: %d entries", len(entries))
	}
}

func TestRun_ErrorFrameKeepsPreviousLiveFrame(t *testing.T) {
	fs := &fakeStrategy{}
	h := newHarness(t, fs)
	fs.staging = h.cfg.Paths.StagingDir
	fs.fixture = writeFixture(t, filepath.Join(h.fixtures, "grey.jpg"), greyImage(), time.Time{})

	cam := pullCamera()
	livePath := filepath.Join(h.cfg.Paths.CacheDir, "kbdu_0.jpg")
	if err := os.MkdirAll(h.cfg.Paths.CacheDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(livePath, []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	runs := metrics.PipelineRuns.WithLabelValues(cam.ID(), "failure", model.ReasonErrorFrame)
	before := testutil.ToFloat64(runs)

	res := h.worker.Run(context.Background(), cam)
	if res.Outcome != model.OutcomeFailure || res.Reason != model.ReasonErrorFrame || res.ExitCode() != 1 {
		t.Fatalf("Run = %+v", res)
	}
	if got := testutil.ToFloat64(runs) - before; got != 1 {
		t.Errorf("Expected one counted error-frame failure, got %v", got)
	}
	data, _ := os.ReadFile(livePath)
	if string(data) != "previous" {
		t.Error("error frame replaced the live frame")
	}
	if st := h.states.states[cam.ID()]; st.ConsecutiveFailures != 1 || st.LastFailureReason != model.ReasonErrorFrame {
		t.Errorf("state = %+v", st)
	}
	if len(h.notifier.events) != 0 {
		t.Error("error frame was broadcast")
	}
}

func TestRun_AcquisitionFailurePassesThrough(t *testing.T) {
	fs := &fakeStrategy{result: model.AcquisitionFailed(model.SourceTypeStaticJPEG, model.ReasonConnectionRefused,
		model.Metadata{"url_host": "cam:80"})}
	h := newHarness(t, fs)

	res := h.worker.Run(context.Background(), pullCamera())
	if res.Outcome != model.OutcomeFailure || res.Reason != model.ReasonConnectionRefused {
		t.Fatalf("Run = %+v", res)
	}
	if res.Metadata["url_host"] != "cam:80" {
		t.Errorf("metadata lost: %v", res.Metadata)
	}
}

func TestRun_SkipDoesNotTouchState(t *testing.T) {
	fs := &fakeStrategy{skip: model.SkipDecision{Skip: true, Reason: model.ReasonCircuitOpen}}
	h := newHarness(t, fs)

	res := h.worker.Run(context.Background(), pullCamera())
	if res.Outcome != model.OutcomeSkip || res.Reason != model.ReasonCircuitOpen || res.ExitCode() != 2 {
		t.Fatalf("Run = %+v", res)
	}
	if h.states.saves != 0 {
		t.Errorf("state saved %d times on skip", h.states.saves)
	}
}

func TestRun_StateUnavailable(t *testing.T) {
	h := newHarness(t, &fakeStrategy{})
	h.states.err = errors.New("database is locked")

	res := h.worker.Run(context.Background(), pullCamera())
	if res.Outcome != model.OutcomeFailure || res.Reason != model.ReasonStateUnavailable {
		t.Fatalf("Run = %+v", res)
	}
}

// ========================================
// Push batches
// ========================================

func pushCamera(dir string) model.Camera {
	return model.Camera{
		Airport: "kbdu",
		Index:   1,
		Refresh: time.Minute,
		Push:    &model.PushSettings{Username: "kbdu1", Protocol: "ftp", UploadDir: dir},
		History: model.HistoryPolicy{Enabled: true, MaxFrames: 10},
	}
}

func TestRun_PushBatchDrainsUploads(t *testing.T) {
	h := newHarness(t, nil)
	dir := filepath.Join(h.cfg.Paths.UploadRoot, "kbdu1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for i, age := range []time.Duration{10 * time.Minute, 5 * time.Minute, 30 * time.Second} {
		writeFixture(t, filepath.Join(dir, fmt.Sprintf("up%d.jpg", i)), sceneImage(), now.Add(-age))
	}

	cam := pushCamera(dir)
	res := h.worker.Run(context.Background(), cam)
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("Run = %+v", res)
	}
	if res.Metadata["succeeded"] != 3 || res.Metadata["remaining"] != 0 {
		t.Errorf("metadata = %v", res.Metadata)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("uploads left behind: %d", len(entries))
	}

	st := h.states.states[cam.ID()]
	newest := now.Add(-30 * time.Second).Unix()
	if st.LastCaptureAt.Unix() != newest {
		t.Errorf("LastCaptureAt = %v, want newest upload", st.LastCaptureAt)
	}
	if res.Pipeline == nil || res.Pipeline.CapturedAt.Unix() != newest {
		t.Errorf("live pipeline = %+v", res.Pipeline)
	}
	if len(h.notifier.events) != 1 {
		t.Errorf("notifications = %d, want 1 (backlog is archive-only)", len(h.notifier.events))
	}

	frames, _ := h.worker.History.Frames(cam.ID())
	if len(frames) != 3 {
		t.Errorf("history frames = %d, want 3", len(frames))
	}
}

func TestRun_PushErrorFrameIsConsumed(t *testing.T) {
	h := newHarness(t, nil)
	dir := filepath.Join(h.cfg.Paths.UploadRoot, "kbdu1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	upload := writeFixture(t, filepath.Join(dir, "grey.jpg"), greyImage(), time.Now().Add(-time.Minute))

	res := h.worker.Run(context.Background(), pushCamera(dir))
	if res.Outcome != model.OutcomeFailure || res.Reason != model.ReasonErrorFrame {
		t.Fatalf("Run = %+v", res)
	}
	if _, err := os.Stat(upload); !os.IsNotExist(err) {
		t.Error("rejected upload should be deleted")
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.CacheDir, "kbdu_1.jpg")); !os.IsNotExist(err) {
		t.Error("error frame was promoted")
	}
}

func TestRun_PushMissingUsername(t *testing.T) {
	h := newHarness(t, nil)
	cam := pushCamera(t.TempDir())
	cam.Push.Username = ""

	res := h.worker.Run(context.Background(), cam)
	if res.Outcome != model.OutcomeFailure || res.Reason != model.ReasonNoUsername {
		t.Fatalf("Run = %+v", res)
	}
}

func TestRun_PushNothingPending(t *testing.T) {
	h := newHarness(t, nil)
	res := h.worker.Run(context.Background(), pushCamera(t.TempDir()))
	if res.Outcome != model.OutcomeSkip || res.Reason != model.ReasonNoPendingFiles {
		t.Fatalf("Run = %+v", res)
	}
}

// ========================================
// Promotion policy
// ========================================

// tintedGreyImage is flat grey with a faint blue cast over the centre
// quarter. The quick pre-filter lets it through; the full detector does not.
func tintedGreyImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			c := color.RGBA{128, 128, 128, 255}
			if x >= 160 && x < 480 && y >= 120 && y < 360 {
				c.B = 152
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRun_PushBatchValidation(t *testing.T) {
	tests := []struct {
		name        string
		older       image.Image
		newest      image.Image
		backlog     int
		wantLive    bool
		wantHistory int
	}{
		{
			name:        "subtle error frame in extended backlog",
			older:       tintedGreyImage(),
			newest:      sceneImage(),
			backlog:     1,
			wantLive:    true,
			wantHistory: 1,
		},
		{
			name:        "newest upload is an error frame",
			older:       sceneImage(),
			newest:      greyImage(),
			backlog:     10,
			wantLive:    false,
			wantHistory: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.worker.Strategies.Push.BacklogThreshold = tt.backlog
			dir := filepath.Join(h.cfg.Paths.UploadRoot, "kbdu1")
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Fatal(err)
			}
			now := time.Now()
			older := writeFixture(t, filepath.Join(dir, "older.jpg"), tt.older, now.Add(-10*time.Minute))
			newest := writeFixture(t, filepath.Join(dir, "newest.jpg"), tt.newest, now.Add(-30*time.Second))

			cam := pushCamera(dir)
			res := h.worker.Run(context.Background(), cam)
			if res.Outcome != model.OutcomeSuccess {
				t.Fatalf("Run = %+v", res)
			}
			if res.Metadata["succeeded"] != 1 || res.Metadata["failed"] != 1 {
				t.Errorf("metadata = %v", res.Metadata)
			}
			if want := tt.backlog < 2; res.Metadata["extended_timeout"] != want {
				t.Errorf("extended_timeout = %v, want %v", res.Metadata["extended_timeout"], want)
			}
			for _, p := range []string{older, newest} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("upload %s should be consumed", filepath.Base(p))
				}
			}

			frames, _ := h.worker.History.Frames(cam.ID())
			if len(frames) != tt.wantHistory {
				t.Fatalf("history frames = %d, want %d", len(frames), tt.wantHistory)
			}

			_, err := os.Stat(filepath.Join(h.cfg.Paths.CacheDir, "kbdu_1.jpg"))
			if gotLive := err == nil; gotLive != tt.wantLive {
				t.Errorf("live frame present = %v, want %v", gotLive, tt.wantLive)
			}
			st := h.states.states[cam.ID()]
			if tt.wantLive {
				if frames[0].Timestamp != now.Add(-30*time.Second).Unix() {
					t.Errorf("archived frame %d is not the valid upload", frames[0].Timestamp)
				}
				if len(h.notifier.events) != 1 {
					t.Errorf("notifications = %d, want 1", len(h.notifier.events))
				}
			} else {
				if frames[0].Timestamp != now.Add(-10*time.Minute).Unix() {
					t.Errorf("archived frame %d is not the valid upload", frames[0].Timestamp)
				}
				if len(h.notifier.events) != 0 || !st.LastCaptureAt.IsZero() {
					t.Errorf("backlog frame was promoted: events=%d state=%+v", len(h.notifier.events), st)
				}
			}
		})
	}
}

func TestRun_PullPromotesRegardlessOfPreviousCaptureTime(t *testing.T) {
	tests := []struct {
		name        string
		firstOffset time.Duration
		wantClamped bool
	}{
		{"camera clock a day ahead", 24 * time.Hour, true},
		{"capture time goes backwards", 2 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStrategy{}
			h := newHarness(t, fs)
			fs.staging = h.cfg.Paths.StagingDir
			cam := pullCamera()

			ahead := writeFixture(t, filepath.Join(h.fixtures, "ahead.jpg"), sceneImage(), time.Time{})
			if err := timestamp.WriteGPSTime(ahead, time.Now().Add(tt.firstOffset)); err != nil {
				t.Fatalf("Failed to stamp GPS time: %v", err)
			}
			fs.fixture = ahead
			res := h.worker.Run(context.Background(), cam)
			if res.Outcome != model.OutcomeSuccess || res.ExitCode() != 0 {
				t.Fatalf("first Run = %+v", res)
			}
			if clamped := res.Pipeline.Metadata["clock_ahead"] == true; clamped != tt.wantClamped {
				t.Errorf("clock_ahead = %v, want %v", clamped, tt.wantClamped)
			}
			first := h.states.states[cam.ID()].LastCaptureAt
			if tt.wantClamped && first.After(time.Now().Add(time.Minute)) {
				t.Errorf("LastCaptureAt %v was not clamped to host time", first)
			}

			fs.fixture = writeFixture(t, filepath.Join(h.fixtures, "scene.jpg"), sceneImage(), time.Time{})
			res = h.worker.Run(context.Background(), cam)
			if res.Outcome != model.OutcomeSuccess || res.ExitCode() != 0 {
				t.Fatalf("second Run = %+v", res)
			}
			if len(h.notifier.events) != 2 {
				t.Errorf("notifications = %d, want 2", len(h.notifier.events))
			}
			st := h.states.states[cam.ID()]
			if !st.LastCaptureAt.Equal(h.notifier.events[1].CapturedAt) {
				t.Errorf("LastCaptureAt = %v, want the second frame's %v", st.LastCaptureAt, h.notifier.events[1].CapturedAt)
			}
			if !tt.wantClamped && !st.LastCaptureAt.Before(first) {
				t.Errorf("expected capture time to move backwards: %v then %v", first, st.LastCaptureAt)
			}
		})
	}
}
