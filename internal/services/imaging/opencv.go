//go:build opencv

package imaging

import (
	"fmt"
	"image"
	"io"
	"os"

	"gocv.io/x/gocv"
)

// openCVEncoder encodes through OpenCV, which adds WebP output.
type openCVEncoder struct {
	quality Quality
}

func newOpenCVEncoder(q Quality) (Encoder, error) {
	return &openCVEncoder{quality: q}, nil
}

func (e *openCVEncoder) Name() string { return "opencv" }

func (e *openCVEncoder) Formats() []string { return []string{"jpg", "png", "webp"} }

func (e *openCVEncoder) Load(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to decode image: empty matrix")
	}
	return &openCVFrame{mat: mat, quality: e.quality}, nil
}

type openCVFrame struct {
	mat     gocv.Mat
	quality Quality
}

func (f *openCVFrame) Size() (int, int) {
	return f.mat.Cols(), f.mat.Rows()
}

func (f *openCVFrame) Encode(w io.Writer, width int, format string) error {
	var (
		ext    gocv.FileExt
		params []int
	)
	switch format {
	case "jpg":
		ext, params = gocv.JPEGFileExt, []int{gocv.IMWriteJpegQuality, f.quality.JPEG}
	case "png":
		ext = gocv.PNGFileExt
	case "webp":
		ext, params = gocv.FileExt(".webp"), []int{gocv.IMWriteWebpQuality, f.quality.WebP}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	src := f.mat
	srcW, srcH := f.Size()
	if width > 0 && width < srcW {
		resized := gocv.NewMat()
		defer resized.Close()
		size := image.Pt(width, scaledHeight(srcW, srcH, width))
		if err := gocv.Resize(f.mat, &resized, size, 0, 0, gocv.InterpolationArea); err != nil {
			return fmt.Errorf("failed to resize: %v", err)
		}
		src = resized
	}

	buf, err := gocv.IMEncodeWithParams(ext, src, params)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", format, err)
	}
	defer buf.Close()
	_, err = w.Write(buf.GetBytes())
	return err
}

func (f *openCVFrame) Close() {
	f.mat.Close()
}
