package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"webcamd/internal/model"
)

// Camera resolves one configured webcam into its invocation view, applying
// airport and global defaults.
func (c *Config) Camera(airport string, index int) (model.Camera, error) {
	for _, ap := range c.Airports {
		if !strings.EqualFold(ap.ID, airport) {
			continue
		}
		if index < 0 || index >= len(ap.Webcams) {
			break
		}
		return c.buildCamera(ap, index), nil
	}
	return model.Camera{}, fmt.Errorf("%w: %s/%d", ErrCameraNotFound, airport, index)
}

// Cameras returns every configured webcam in airport order.
func (c *Config) Cameras() []model.Camera {
	var out []model.Camera
	for _, ap := range c.Airports {
		for i := range ap.Webcams {
			out = append(out, c.buildCamera(ap, i))
		}
	}
	return out
}

func (c *Config) buildCamera(ap AirportConfig, index int) model.Camera {
	wc := ap.Webcams[index]
	cam := model.Camera{
		Airport:       strings.ToLower(ap.ID),
		Index:         index,
		Name:          wc.Name,
		Kind:          model.SourceKind(wc.Type),
		SourceType:    wc.SourceType,
		URL:           wc.URL,
		Username:      wc.Username,
		Password:      wc.Password,
		RTSPTransport: wc.RTSPTransport,
		Timezone:      wc.Timezone,
		Refresh:       time.Duration(wc.RefreshSeconds) * time.Second,
		History: model.HistoryPolicy{
			Enabled:     c.History.Enabled,
			MaxFrames:   c.History.MaxFrames,
			MinInterval: c.History.MinInterval,
		},
	}
	if cam.Timezone == "" {
		cam.Timezone = ap.Timezone
	}
	if cam.Refresh <= 0 {
		cam.Refresh = time.Minute
	}
	if cam.RTSPTransport == "" {
		cam.RTSPTransport = "tcp"
	}

	if wc.Push != nil {
		push := &model.PushSettings{
			Username:  wc.Push.Username,
			Password:  wc.Push.Password,
			Protocol:  wc.Push.Protocol,
			UploadDir: wc.Push.UploadDir,
		}
		if push.Protocol == "" {
			push.Protocol = "ftp"
		}
		if push.UploadDir == "" && push.Username != "" {
			push.UploadDir = filepath.Join(c.Paths.UploadRoot, push.Username)
		}
		cam.Push = push
	}

	if h := wc.History; h != nil {
		if h.Enabled != nil {
			cam.History.Enabled = *h.Enabled
		}
		if h.MaxFrames > 0 {
			cam.History.MaxFrames = h.MaxFrames
		}
		if h.MinInterval > 0 {
			cam.History.MinInterval = h.MinInterval
		}
	}
	return cam
}
