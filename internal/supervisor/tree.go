// Package supervisor runs the long-lived parts of the server under a suture
// supervision tree: one service per camera plus the API layer.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64
	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is root -> {cameras, api}.
type Tree struct {
	root    *suture.Supervisor
	cameras *suture.Supervisor
	api     *suture.Supervisor
}

func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("webcamd", rootSpec)
	cameras := suture.New("cameras", childSpec)
	api := suture.New("api", childSpec)
	root.Add(cameras)
	root.Add(api)

	return &Tree{root: root, cameras: cameras, api: api}
}

func (t *Tree) AddCameraService(svc suture.Service) suture.ServiceToken {
	return t.cameras.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
