package acquisition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/model"
)

// ========================================
// Helpers
// ========================================

func testDeps(t *testing.T, now time.Time) Deps {
	t.Helper()
	cfg := config.Default()
	return Deps{
		Worker:     cfg.Worker,
		Push:       cfg.Push,
		StagingDir: t.TempDir(),
		Log:        zerolog.Nop(),
		Now:        func() time.Time { return now },
	}
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		img.Set(x, x%24, color.RGBA{255, 0, 0, 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pushCamera(dir string) model.Camera {
	return model.Camera{
		Airport: "kbdu",
		Index:   1,
		Refresh: time.Minute,
		Push:    &model.PushSettings{Username: "kbdu1", Protocol: "ftp", UploadDir: dir},
	}
}

func writeUpload(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("upload "+name), 0644); err != nil {
		t.Fatalf("Failed to write upload: %v", err)
	}
	if err := os.Chtimes(p, modTime, modTime); err != nil {
		t.Fatal(err)
	}
	return p
}

// ========================================
// Factory
// ========================================

func TestFactory_KindSelection(t *testing.T) {
	push := &model.PushSettings{Username: "u"}
	tests := []struct {
		name string
		cam  model.Camera
		want string
	}{
		{"explicit pull wins over push config", model.Camera{Kind: model.SourceKindPull, Push: push, URL: "http://x/a.jpg"}, model.SourceTypeStaticJPEG},
		{"explicit push", model.Camera{Kind: model.SourceKindPush}, model.SourceTypePush},
		{"push config implies push", model.Camera{Push: push}, model.SourceTypePush},
		{"default pull", model.Camera{URL: "http://x/stream"}, model.SourceTypeMJPEG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.cam, testDeps(t, time.Now()))
			if got := s.SourceType(); got != tt.want {
				t.Errorf("SourceType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveSourceType(t *testing.T) {
	tests := []struct {
		url, override, want string
	}{
		{"http://cam/snapshot.jpg", "", model.SourceTypeStaticJPEG},
		{"http://cam/snapshot.JPEG?auth=1", "", model.SourceTypeStaticJPEG},
		{"https://cam/image.png", "", model.SourceTypeStaticPNG},
		{"rtsp://cam:554/stream1", "", model.SourceTypeRTSP},
		{"RTSP://cam/live.jpg", "", model.SourceTypeRTSP},
		{"http://cam/video.cgi", "", model.SourceTypeMJPEG},
		{"http://cam/snapshot.jpg", model.SourceTypeMJPEG, model.SourceTypeMJPEG},
		{"rtsp://cam/stream", model.SourceTypeStaticJPEG, model.SourceTypeStaticJPEG},
	}
	for _, tt := range tests {
		if got := DeriveSourceType(tt.url, tt.override); got != tt.want {
			t.Errorf("DeriveSourceType(%q, %q) = %s, want %s", tt.url, tt.override, got, tt.want)
		}
	}
}

// ========================================
// Skip pre-check
// ========================================

func TestShouldSkip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cam := model.Camera{Airport: "kbdu", URL: "http://cam/a.jpg", Refresh: time.Minute}
	s := New(cam, testDeps(t, now))

	tests := []struct {
		name  string
		state model.CameraState
		want  string
	}{
		{"never run", model.CameraState{}, ""},
		{"refresh not elapsed", model.CameraState{LastAttemptAt: now.Add(-30 * time.Second)}, model.ReasonRefreshNotElapsed},
		{"within tolerance", model.CameraState{LastAttemptAt: now.Add(-56 * time.Second)}, ""},
		{"below threshold", model.CameraState{ConsecutiveFailures: 2, LastAttemptAt: now.Add(-2 * time.Minute), LastFailureAt: now.Add(-2 * time.Minute)}, ""},
		{"circuit backoff elapsed", model.CameraState{ConsecutiveFailures: 3, LastAttemptAt: now.Add(-90 * time.Second), LastFailureAt: now.Add(-90 * time.Second)}, ""},
		{"circuit open backoff doubled", model.CameraState{ConsecutiveFailures: 4, LastAttemptAt: now.Add(-90 * time.Second), LastFailureAt: now.Add(-90 * time.Second)}, model.ReasonCircuitOpen},
		{"circuit backoff capped", model.CameraState{ConsecutiveFailures: 40, LastAttemptAt: now.Add(-61 * time.Minute), LastFailureAt: now.Add(-61 * time.Minute)}, ""},
		{"circuit still open under cap", model.CameraState{ConsecutiveFailures: 40, LastAttemptAt: now.Add(-59 * time.Minute), LastFailureAt: now.Add(-59 * time.Minute)}, model.ReasonCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.ShouldSkip(tt.state, now)
			if d.Skip != (tt.want != "") || d.Reason != tt.want {
				t.Errorf("ShouldSkip = %+v, want reason %q", d, tt.want)
			}
		})
	}
}

// ========================================
// Push batch ordering
// ========================================

func TestOrderedFiles_NewestFirstThenOldest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	writeUpload(t, dir, "a.jpg", now.Add(-600*time.Second))
	writeUpload(t, dir, "b.jpg", now.Add(-300*time.Second))
	writeUpload(t, dir, "c.jpg", now.Add(-10*time.Second))

	p := NewPushStrategy(pushCamera(dir), testDeps(t, now))
	plan, err := p.OrderedFiles(now)
	if err != nil {
		t.Fatalf("OrderedFiles failed: %v", err)
	}

	want := []string{"c.jpg", "a.jpg", "b.jpg"}
	if len(plan.Files) != len(want) {
		t.Fatalf("files = %d, want %d", len(plan.Files), len(want))
	}
	for i, name := range want {
		if got := filepath.Base(plan.Files[i].Path); got != name {
			t.Errorf("position %d = %s, want %s", i, got, name)
		}
	}
	if plan.TotalPending != 3 || plan.Extended {
		t.Errorf("plan = %+v", plan)
	}
}

func TestOrderedFiles_CapAndBacklog(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		writeUpload(t, dir, fmt.Sprintf("f%02d.jpg", i), now.Add(-time.Duration(100+i*10)*time.Second))
	}

	deps := testDeps(t, now)
	p := NewPushStrategy(pushCamera(dir), deps)
	plan, err := p.OrderedFiles(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Files) != deps.Push.MaxBatch {
		t.Errorf("batch = %d, want %d", len(plan.Files), deps.Push.MaxBatch)
	}
	if plan.TotalPending != 12 {
		t.Errorf("TotalPending = %d, want 12", plan.TotalPending)
	}
	if !plan.Extended || plan.Timeout != deps.Worker.ExtendedTimeout {
		t.Errorf("timeout = %v extended = %v, want extended timeout", plan.Timeout, plan.Extended)
	}
	// f00 is newest, f11 is oldest.
	if filepath.Base(plan.Files[0].Path) != "f00.jpg" || filepath.Base(plan.Files[1].Path) != "f11.jpg" {
		t.Errorf("order = %s, %s", plan.Files[0].Path, plan.Files[1].Path)
	}
}

func TestOrderedFiles_AgeFilters(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	expired := writeUpload(t, dir, "old.jpg", now.Add(-3*time.Hour))
	settling := writeUpload(t, dir, "new.jpg", now.Add(-time.Second))
	writeUpload(t, dir, "ok.jpg", now.Add(-time.Minute))
	writeUpload(t, dir, "notes.txt", now.Add(-time.Minute))
	writeUpload(t, dir, ".partial.jpg", now.Add(-time.Minute))

	p := NewPushStrategy(pushCamera(dir), testDeps(t, now))
	plan, err := p.OrderedFiles(now)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Expired != 1 || plan.Settling != 1 || plan.TotalPending != 1 {
		t.Errorf("plan = %+v", plan)
	}
	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Error("expired upload should be deleted")
	}
	if _, err := os.Stat(settling); err != nil {
		t.Error("settling upload should be kept")
	}
}

// ========================================
// Push acquire
// ========================================

func TestPushAcquire_NoUsernameIsFailure(t *testing.T) {
	cam := pushCamera(t.TempDir())
	cam.Push.Username = ""
	res := NewPushStrategy(cam, testDeps(t, time.Now())).Acquire(context.Background())
	if res.Success || res.Skipped || res.Reason != model.ReasonNoUsername {
		t.Fatalf("got %+v", res)
	}
	if !res.Consistent() {
		t.Error("result violates path/reason exclusivity")
	}
}

func TestPushAcquire_MissingDirIsSkip(t *testing.T) {
	cam := pushCamera(filepath.Join(t.TempDir(), "absent"))
	res := NewPushStrategy(cam, testDeps(t, time.Now())).Acquire(context.Background())
	if !res.Skipped || res.Reason != model.ReasonUploadDirMissing {
		t.Fatalf("got %+v", res)
	}
}

func TestPushAcquire_EmptyDirIsSkip(t *testing.T) {
	res := NewPushStrategy(pushCamera(t.TempDir()), testDeps(t, time.Now())).Acquire(context.Background())
	if !res.Skipped || res.Reason != model.ReasonNoPendingFiles {
		t.Fatalf("got %+v", res)
	}
}

func TestPushAcquire_StagesNewest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	writeUpload(t, dir, "older.jpg", now.Add(-5*time.Minute))
	newest := writeUpload(t, dir, "newest.jpeg", now.Add(-30*time.Second))

	res := NewPushStrategy(pushCamera(dir), testDeps(t, now)).Acquire(context.Background())
	if !res.Success || !res.Consistent() {
		t.Fatalf("got %+v", res)
	}
	if res.SourceType != model.SourceTypePush {
		t.Errorf("source type = %s", res.SourceType)
	}
	if res.Metadata["upload_path"] != newest {
		t.Errorf("upload_path = %v, want %s", res.Metadata["upload_path"], newest)
	}
	if filepath.Ext(res.ImagePath) != ".jpg" {
		t.Errorf("staged path = %s", res.ImagePath)
	}
	if !res.CapturedAt.Equal(now.Add(-30 * time.Second)) {
		t.Errorf("captured at = %v", res.CapturedAt)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Error("upload should stay until processed")
	}
}

// ========================================
// Pull acquire
// ========================================

func TestPullAcquire_StaticJPEG(t *testing.T) {
	body := jpegBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "admin" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	cam := model.Camera{Airport: "kbdu", URL: srv.URL + "/snapshot.jpg", Username: "admin", Password: "secret"}
	res := New(cam, testDeps(t, time.Now())).Acquire(context.Background())
	if !res.Success || !res.Consistent() {
		t.Fatalf("got %+v", res)
	}
	got, err := os.ReadFile(res.ImagePath)
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("staged file differs: %v", err)
	}
	if res.Metadata["http_status"] != http.StatusOK {
		t.Errorf("http_status = %v", res.Metadata["http_status"])
	}
}

func TestPullAcquire_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		path    string
		want    string
	}{
		{
			name:    "http error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			path:    "/a.jpg",
			want:    model.ReasonHTTPError,
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			path:    "/a.jpg",
			want:    model.ReasonEmptyResponse,
		},
		{
			name:    "html instead of image",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>login</html>")) },
			path:    "/a.jpg",
			want:    model.ReasonInvalidContent,
		},
		{
			name:    "stream without frame",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("--boundary\r\n\r\nnothing")) },
			path:    "/video.cgi",
			want:    model.ReasonInvalidContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			res := New(model.Camera{Airport: "kbdu", URL: srv.URL + tt.path}, testDeps(t, time.Now())).Acquire(context.Background())
			if res.Success || res.Reason != tt.want {
				t.Fatalf("reason = %q, want %q (%+v)", res.Reason, tt.want, res)
			}
			if !res.Consistent() {
				t.Error("result violates path/reason exclusivity")
			}
			if _, ok := res.Metadata["duration_ms"]; !ok {
				t.Error("missing duration_ms")
			}
		})
	}
}

func TestPullAcquire_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	deps := testDeps(t, time.Now())
	deps.Worker.AcquireTimeout = 50 * time.Millisecond
	res := New(model.Camera{Airport: "kbdu", URL: srv.URL + "/a.jpg"}, deps).Acquire(context.Background())
	if res.Reason != model.ReasonTimeout {
		t.Fatalf("reason = %q, want timeout", res.Reason)
	}
}

func TestPullAcquire_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := New(model.Camera{Airport: "kbdu", URL: url + "/a.jpg"}, testDeps(t, time.Now())).Acquire(context.Background())
	if res.Reason != model.ReasonConnectionRefused {
		t.Fatalf("reason = %q, want connection_refused", res.Reason)
	}
}

func TestPullAcquire_MJPEGStream(t *testing.T) {
	frame := jpegBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			w.Write([]byte("\r\n"))
		}
	}))
	defer srv.Close()

	res := New(model.Camera{Airport: "kbdu", URL: srv.URL + "/mjpg/video.mjpg"}, testDeps(t, time.Now())).Acquire(context.Background())
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	got, _ := os.ReadFile(res.ImagePath)
	if !bytes.Equal(got, frame) {
		t.Errorf("extracted frame is %d bytes, want %d", len(got), len(frame))
	}
}

func TestReadFirstFrame_SkipsEmbeddedThumbnail(t *testing.T) {
	thumb := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	app1 := append([]byte{0xFF, 0xE1, 0x00, byte(2 + len(thumb))}, thumb...)

	var stream bytes.Buffer
	stream.WriteString("garbage")
	stream.Write([]byte{0xFF, 0xD8})
	stream.Write(app1)
	// SOS with an empty header, then scan data holding a stuffed byte and a
	// restart marker.
	stream.Write([]byte{0xFF, 0xDA, 0x00, 0x02})
	stream.Write([]byte{0x12, 0xFF, 0x00, 0x34, 0xFF, 0xD3, 0x56})
	stream.Write([]byte{0xFF, 0xD9})
	stream.WriteString("trailing")

	got, err := readFirstFrame(&stream, 0)
	if err != nil {
		t.Fatalf("readFirstFrame failed: %v", err)
	}
	if !bytes.HasPrefix(got, []byte{0xFF, 0xD8, 0xFF, 0xE1}) || !bytes.HasSuffix(got, []byte{0x56, 0xFF, 0xD9}) {
		t.Errorf("frame = % x", got)
	}
	if len(got) != 2+len(app1)+4+7+2 {
		t.Errorf("frame length = %d, want %d", len(got), 2+len(app1)+4+7+2)
	}
}

func TestReadFirstFrame_Limit(t *testing.T) {
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xDA, 0x00, 0x02}, bytes.Repeat([]byte{0x11}, 1000)...)
	if _, err := readFirstFrame(bytes.NewReader(data), 100); err != errFrameTooLarge {
		t.Fatalf("err = %v, want errFrameTooLarge", err)
	}
}
