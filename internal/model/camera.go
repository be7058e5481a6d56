package model

import (
	"fmt"
	"time"
)

// SourceKind selects the acquisition strategy family for a camera.
type SourceKind string

const (
	SourceKindPull SourceKind = "pull"
	SourceKindPush SourceKind = "push"
)

// Source types reported by strategies.
const (
	SourceTypeMJPEG      = "mjpeg"
	SourceTypeStaticJPEG = "static_jpeg"
	SourceTypeStaticPNG  = "static_png"
	SourceTypeRTSP       = "rtsp"
	SourceTypePush       = "push"
)

// PushSettings describes where a push camera's uploads land.
type PushSettings struct {
	Username  string
	Password  string
	Protocol  string // ftp, ftps or sftp
	UploadDir string
}

// HistoryPolicy is the per-camera archive policy.
type HistoryPolicy struct {
	Enabled     bool
	MaxFrames   int
	MinInterval time.Duration
}

// Camera is the read-only view of one webcam's configuration for a single
// pipeline invocation.
type Camera struct {
	Airport       string
	Index         int
	Name          string
	Kind          SourceKind // empty when the configuration did not say
	SourceType    string     // explicit override for pull cameras
	URL           string
	Username      string
	Password      string
	RTSPTransport string
	Timezone      string
	Refresh       time.Duration
	Push          *PushSettings
	History       HistoryPolicy
}

// ID returns the stable "<airport>_<index>" identifier used for file names
// and state keys.
func (c Camera) ID() string {
	return fmt.Sprintf("%s_%d", c.Airport, c.Index)
}

// IsPush reports whether the camera carries push-specific configuration.
func (c Camera) IsPush() bool {
	return c.Push != nil
}
