package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned by an encoder that cannot write a format.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrBackendUnavailable is returned when the configured backend was not
	// compiled in.
	ErrBackendUnavailable = errors.New("imaging backend not available in this build")
)

// Encoder loads source images for one imaging backend.
type Encoder interface {
	Name() string
	// Formats lists the output formats the backend can write.
	Formats() []string
	Load(path string) (Frame, error)
}

// Frame is a decoded source that can be written out at any width.
type Frame interface {
	Size() (width, height int)
	// Encode writes the frame scaled to width (aspect preserved) in format.
	Encode(w io.Writer, width int, format string) error
	Close()
}

// Quality holds lossy encoder settings.
type Quality struct {
	JPEG int
	WebP int
}

// nativeEncoder is the pure-Go backend: x/image/draw for scaling, the
// standard encoders for output. It cannot write WebP.
type nativeEncoder struct {
	quality Quality
}

func newNativeEncoder(q Quality) *nativeEncoder {
	return &nativeEncoder{quality: q}
}

func (e *nativeEncoder) Name() string { return "native" }

func (e *nativeEncoder) Formats() []string { return []string{"jpg", "png"} }

func (e *nativeEncoder) Load(path string) (Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &nativeFrame{img: img, quality: e.quality, scaled: map[int]image.Image{}}, nil
}

type nativeFrame struct {
	img     image.Image
	quality Quality
	scaled  map[int]image.Image
}

func (f *nativeFrame) Size() (int, int) {
	b := f.img.Bounds()
	return b.Dx(), b.Dy()
}

func (f *nativeFrame) Encode(w io.Writer, width int, format string) error {
	img := f.at(width)
	switch format {
	case "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: f.quality.JPEG})
	case "png":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (f *nativeFrame) Close() {
	f.img = nil
	f.scaled = nil
}

func (f *nativeFrame) at(width int) image.Image {
	srcW, srcH := f.Size()
	if width <= 0 || width >= srcW {
		return f.img
	}
	if img, ok := f.scaled[width]; ok {
		return img
	}
	height := scaledHeight(srcW, srcH, width)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), f.img, f.img.Bounds(), draw.Over, nil)
	f.scaled[width] = dst
	return dst
}

func scaledHeight(srcW, srcH, width int) int {
	h := (srcH*width + srcW/2) / srcW
	if h < 1 {
		return 1
	}
	return h
}
