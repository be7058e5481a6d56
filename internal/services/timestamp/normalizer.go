// Package timestamp reconciles the many ways cameras record capture time
// into one authoritative UTC instant.
package timestamp

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
)

// Normalizer resolves and optionally rewrites capture times of staged files.
type Normalizer struct {
	cfg config.TimestampConfig
	log zerolog.Logger
}

// Result is a Resolution plus what happened to the file.
type Result struct {
	Resolution
	Rewritten bool
}

func NewNormalizer(cfg config.TimestampConfig, log zerolog.Logger) *Normalizer {
	return &Normalizer{cfg: cfg, log: log}
}

// Normalize resolves the capture time of the image at path. When the time
// did not come from GPS or the file clock and GPS writing is enabled, the
// resolved instant is written back as GPS fields. Write failures are logged
// and do not fail the resolution.
func (n *Normalizer) Normalize(path, timezone string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}

	meta, err := ReadMetadata(path)
	if err != nil && !errors.Is(err, ErrNoMetadata) {
		n.log.Debug().Err(err).Str("path", path).Msg("Unreadable metadata, using file time")
		meta = Metadata{}
	}

	res := Result{Resolution: Resolve(meta, timezone, n.cfg.BridgeMarker, info.ModTime())}

	if n.cfg.WriteGPS && res.Source != SourceGPS && res.Source != SourceModTime && isJPEG(path) {
		if err := WriteGPSTime(path, res.Time); err != nil {
			n.log.Warn().Err(err).Str("path", path).Msg("Failed to write GPS time")
		} else {
			res.Rewritten = true
		}
	}
	return res, nil
}

func isJPEG(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
