//go:build opencv

package acquisition

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"webcamd/internal/model"
)

// openCVGrabber reads one frame through OpenCV's VideoCapture.
type openCVGrabber struct {
	log zerolog.Logger
}

func newOpenCVGrabber(log zerolog.Logger) (rtspGrabber, bool) {
	return &openCVGrabber{log: log}, true
}

func (g *openCVGrabber) Grab(ctx context.Context, cam model.Camera, dst string) (model.Metadata, string) {
	md := model.Metadata{}
	src := cam.URL
	if u, err := url.Parse(cam.URL); err == nil {
		md["url_host"] = u.Host
		if cam.Username != "" && u.User == nil {
			u.User = url.UserPassword(cam.Username, cam.Password)
			src = u.String()
		}
	}

	type grabbed struct {
		reason string
		err    error
	}
	done := make(chan grabbed, 1)

	// VideoCapture blocks in C; the deadline is enforced by abandoning it.
	go func() {
		vc, err := gocv.OpenVideoCapture(src)
		if err != nil {
			done <- grabbed{model.ReasonFetchError, err}
			return
		}
		defer vc.Close()

		img := gocv.NewMat()
		defer img.Close()
		if ok := vc.Read(&img); !ok || img.Empty() {
			done <- grabbed{model.ReasonEmptyResponse, fmt.Errorf("no frame read")}
			return
		}
		if ok := gocv.IMWrite(dst, img); !ok {
			done <- grabbed{model.ReasonStagingFailed, fmt.Errorf("failed to write %s", dst)}
			return
		}
		done <- grabbed{}
	}()

	select {
	case <-ctx.Done():
		return md, model.ReasonTimeout
	case r := <-done:
		if r.err != nil {
			md["error"] = r.err.Error()
		}
		return md, r.reason
	}
}
