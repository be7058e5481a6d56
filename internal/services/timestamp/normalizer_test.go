package timestamp

import (
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
)

func writeJPEG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 90, 255})
		}
	}
	path := filepath.Join(dir, "frame.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadMetadataWithoutExif(t *testing.T) {
	path := writeJPEG(t, t.TempDir())
	if _, err := ReadMetadata(path); !errors.Is(err, ErrNoMetadata) {
		t.Fatalf("err = %v, want ErrNoMetadata", err)
	}
}

func TestNormalizeRewritesGPS(t *testing.T) {
	dir := t.TempDir()
	path := writeJPEG(t, dir)

	if err := WriteMetadata(path, Metadata{LocalTime: "2024:06:01 14:00:00"}); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	n := NewNormalizer(config.TimestampConfig{WriteGPS: true, BridgeMarker: "webcam-bridge"}, zerolog.Nop())
	res, err := n.Normalize(path, "Europe/Berlin")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if res.Source != SourceTimezone || !res.Time.Equal(want) {
		t.Fatalf("got %v from %s, want %v from timezone", res.Time, res.Source, want)
	}
	if !res.Rewritten {
		t.Fatal("expected GPS fields to be written")
	}

	meta, err := ReadMetadata(path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if meta.GPSDate != "2024:06:01" {
		t.Errorf("GPSDate = %q", meta.GPSDate)
	}

	// A second pass now resolves from GPS and leaves the file alone.
	res, err = n.Normalize(path, "America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceGPS || !res.Time.Equal(want) || res.Rewritten {
		t.Fatalf("second pass: %+v", res)
	}
}

func TestNormalizeFallsBackToModTime(t *testing.T) {
	path := writeJPEG(t, t.TempDir())
	mod := time.Date(2023, 12, 24, 18, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}

	n := NewNormalizer(config.TimestampConfig{WriteGPS: true}, zerolog.Nop())
	res, err := n.Normalize(path, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != SourceModTime || !res.Time.Equal(mod) || res.Rewritten {
		t.Fatalf("got %+v", res)
	}
}
