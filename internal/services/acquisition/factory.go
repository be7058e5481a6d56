package acquisition

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
	"webcamd/internal/model"
)

// Deps are the shared collaborators every strategy is built with.
type Deps struct {
	Worker     config.WorkerConfig
	Push       config.PushConfig
	StagingDir string
	// Backend selects the RTSP grabber: "opencv" uses VideoCapture when
	// compiled in, anything else the ffmpeg subprocess.
	Backend    string
	HTTPClient *http.Client
	Log        zerolog.Logger
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// KindOf decides the strategy family: an explicit type wins, otherwise the
// presence of push settings means push, otherwise pull.
func KindOf(cam model.Camera) model.SourceKind {
	switch cam.Kind {
	case model.SourceKindPull, model.SourceKindPush:
		return cam.Kind
	}
	if cam.IsPush() {
		return model.SourceKindPush
	}
	return model.SourceKindPull
}

// New returns the strategy for cam.
func New(cam model.Camera, d Deps) Strategy {
	if KindOf(cam) == model.SourceKindPush {
		return NewPushStrategy(cam, d)
	}
	return NewPullStrategy(cam, d)
}

// DeriveSourceType maps a pull camera's URL onto a source type. A non-empty
// override always wins.
func DeriveSourceType(rawURL, override string) string {
	if override != "" {
		return override
	}
	if strings.HasPrefix(strings.ToLower(rawURL), "rtsp://") {
		return model.SourceTypeRTSP
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg":
		return model.SourceTypeStaticJPEG
	case ".png":
		return model.SourceTypeStaticPNG
	}
	return model.SourceTypeMJPEG
}
