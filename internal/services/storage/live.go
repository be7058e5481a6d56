package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"webcamd/internal/model"
)

// LiveStore holds the current frame set of every camera, one file per
// (label, format), overwritten in place.
type LiveStore struct {
	dir string
}

func NewLiveStore(dir string) *LiveStore {
	return &LiveStore{dir: dir}
}

// Path returns the well-known live path: <cache>/<id>.<ext> for the
// original and <cache>/<id>_<label>.<ext> for scaled variants.
func (s *LiveStore) Path(cameraID, label, format string) string {
	name := cameraID
	if label != model.VariantOriginal {
		name += "_" + label
	}
	return filepath.Join(s.dir, name+"."+format)
}

// Promote replaces the live files of cameraID with the staged variants. Each
// file is written to a temp file in the cache directory and renamed over the
// previous one, so readers never see a half-written file. Files are
// independent: a failing one does not stop the others.
func (s *LiveStore) Promote(cameraID string, variants map[string]map[string]string) (map[string]map[string]string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	promoted := map[string]map[string]string{}
	var errs []error
	for label, formats := range variants {
		for format, src := range formats {
			dst := s.Path(cameraID, label, format)
			if err := atomicCopy(src, dst); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", label, format, err))
				continue
			}
			if promoted[label] == nil {
				promoted[label] = map[string]string{}
			}
			promoted[label][format] = dst
		}
	}
	return promoted, errors.Join(errs...)
}

// atomicCopy copies src next to dst under a temp name and renames it into
// place.
func atomicCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
