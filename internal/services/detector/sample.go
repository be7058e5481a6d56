package detector

import (
	"image"
	"math"

	"webcamd/internal/config"
)

type pixel struct {
	r, g, b float64
}

func (p pixel) luma() float64 {
	return 0.299*p.r + 0.587*p.g + 0.114*p.b
}

func (p pixel) isGrey(cfg config.DetectorConfig) bool {
	hi := math.Max(p.r, math.Max(p.g, p.b))
	lo := math.Min(p.r, math.Min(p.g, p.b))
	if hi-lo > float64(cfg.GreyTolerance) {
		return false
	}
	l := p.luma()
	return l >= cfg.GreyMinLuma && l <= cfg.GreyMaxLuma
}

// pixelSample is a rows x cols grid of pixels taken every stride pixels.
type pixelSample struct {
	rows, cols int
	grid       []pixel
	border     []bool
}

func (s *pixelSample) at(row, col int) pixel {
	return s.grid[row*s.cols+col]
}

// strideFor picks the step that yields roughly target samples.
func strideFor(b image.Rectangle, target int) int {
	if target <= 0 {
		return 1
	}
	area := float64(b.Dx()) * float64(b.Dy())
	stride := int(math.Sqrt(area / float64(target)))
	if stride < 1 {
		return 1
	}
	return stride
}

func sample(img image.Image, stride int, borderFraction float64) *pixelSample {
	b := img.Bounds()
	cols := (b.Dx() + stride - 1) / stride
	rows := (b.Dy() + stride - 1) / stride

	bandX := int(float64(b.Dx()) * borderFraction)
	bandY := int(float64(b.Dy()) * borderFraction)

	s := &pixelSample{
		rows:   rows,
		cols:   cols,
		grid:   make([]pixel, 0, rows*cols),
		border: make([]bool, 0, rows*cols),
	}
	for row := 0; row < rows; row++ {
		y := b.Min.Y + row*stride
		for col := 0; col < cols; col++ {
			x := b.Min.X + col*stride
			r, g, bl, _ := img.At(x, y).RGBA()
			s.grid = append(s.grid, pixel{r: float64(r >> 8), g: float64(g >> 8), b: float64(bl >> 8)})

			dx, dy := x-b.Min.X, y-b.Min.Y
			inBorder := borderFraction > 0 &&
				(dx < bandX || dx >= b.Dx()-bandX || dy < bandY || dy >= b.Dy()-bandY)
			s.border = append(s.border, inBorder)
		}
	}
	return s
}

// greyRatio is the share of grey pixels, over the whole sample or only the
// border band.
func (s *pixelSample) greyRatio(cfg config.DetectorConfig, borderOnly bool) float64 {
	var total, grey int
	for i, p := range s.grid {
		if borderOnly && !s.border[i] {
			continue
		}
		total++
		if p.isGrey(cfg) {
			grey++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(grey) / float64(total)
}

// meanChannelVariance averages the population variance of R, G and B.
func (s *pixelSample) meanChannelVariance() float64 {
	rs := make([]float64, len(s.grid))
	gs := make([]float64, len(s.grid))
	bs := make([]float64, len(s.grid))
	for i, p := range s.grid {
		rs[i], gs[i], bs[i] = p.r, p.g, p.b
	}
	return (Variance(rs) + Variance(gs) + Variance(bs)) / 3
}

// edgeDensity is the share of horizontally and vertically adjacent sample
// pairs whose luminance differs by more than delta.
func (s *pixelSample) edgeDensity(delta float64) float64 {
	var pairs, edges int
	for row := 0; row < s.rows; row++ {
		for col := 0; col < s.cols; col++ {
			l := s.at(row, col).luma()
			if col+1 < s.cols {
				pairs++
				if math.Abs(l-s.at(row, col+1).luma()) > delta {
					edges++
				}
			}
			if row+1 < s.rows {
				pairs++
				if math.Abs(l-s.at(row+1, col).luma()) > delta {
					edges++
				}
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(edges) / float64(pairs)
}
