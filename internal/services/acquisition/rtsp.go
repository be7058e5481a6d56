package acquisition

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"webcamd/internal/model"
)

// rtspGrabber captures one frame from an RTSP stream into dst. A non-empty
// reason means failure.
type rtspGrabber interface {
	Grab(ctx context.Context, cam model.Camera, dst string) (model.Metadata, string)
}

func newRTSPGrabber(d Deps) rtspGrabber {
	if d.Backend == "opencv" {
		if g, ok := newOpenCVGrabber(d.Log); ok {
			return g
		}
		d.Log.Warn().Msg("OpenCV RTSP capture not compiled in, falling back to ffmpeg")
	}
	path := d.Worker.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &ffmpegGrabber{path: path, log: d.Log}
}

// ffmpegGrabber spawns ffmpeg to decode a single frame.
type ffmpegGrabber struct {
	path string
	log  zerolog.Logger
}

const maxStderr = 512

func (g *ffmpegGrabber) Grab(ctx context.Context, cam model.Camera, dst string) (model.Metadata, string) {
	md := model.Metadata{}
	if u, err := url.Parse(cam.URL); err == nil {
		md["url_host"] = u.Host
	}

	bin, err := exec.LookPath(g.path)
	if err != nil {
		md["error"] = err.Error()
		return md, model.ReasonFFmpegNotFound
	}

	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(cam, dst)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return md, ""
	}

	md["stderr"] = tail(stderr.String(), maxStderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		md["exit_code"] = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return md, model.ReasonTimeout
	}
	return md, model.ReasonFFmpegError
}

func ffmpegArgs(cam model.Camera, dst string) []string {
	src := cam.URL
	if cam.Username != "" {
		if u, err := url.Parse(cam.URL); err == nil && u.User == nil {
			u.User = url.UserPassword(cam.Username, cam.Password)
			src = u.String()
		}
	}
	transport := cam.RTSPTransport
	if transport == "" {
		transport = "tcp"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", transport,
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2",
		"-y", dst,
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
