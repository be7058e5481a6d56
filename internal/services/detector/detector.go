// Package detector classifies frames as camera-malfunction placeholders
// ("error frames") versus real captures.
//
// Malfunctioning cameras and some DVR backends keep serving a uniform grey,
// low-contrast or grey-bordered picture instead of failing the transfer, so
// the decision has to come from pixel content. Every signal is measured on a
// uniform pixel sample and folded into one weighted score.
package detector

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/webp"

	"webcamd/internal/config"
	"webcamd/internal/model"
)

// Signal names used as keys in ErrorFrameVerdict.Signals.
const (
	SignalGreyRatio   = "grey_ratio"
	SignalVariance    = "color_variance"
	SignalEdgeDensity = "edge_density"
	SignalBorderGrey  = "border_grey_ratio"
)

// Detector runs the error-frame heuristic with a fixed set of tuned
// parameters.
type Detector struct {
	cfg config.DetectorConfig
}

// New creates a detector.
func New(cfg config.DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect classifies the image stored at path.
func (d *Detector) Detect(path string) model.ErrorFrameVerdict {
	img, ok := d.load(path)
	if !ok {
		return unreadable()
	}
	return d.DetectImage(img)
}

// DetectImage classifies an already decoded image.
func (d *Detector) DetectImage(img image.Image) model.ErrorFrameVerdict {
	b := img.Bounds()
	if b.Dx() < d.cfg.MinWidth || b.Dy() < d.cfg.MinHeight {
		return model.ErrorFrameVerdict{
			IsError:    true,
			Confidence: 0.95,
			ErrorScore: 1.0,
			Reasons:    []string{model.ReasonTooSmall},
			Signals: map[string]float64{
				"width":  float64(b.Dx()),
				"height": float64(b.Dy()),
			},
		}
	}

	s := sample(img, strideFor(b, d.cfg.SampleTarget), d.cfg.BorderFraction)

	greyRatio := s.greyRatio(d.cfg, false)
	variance := s.meanChannelVariance()
	edges := s.edgeDensity(d.cfg.EdgeDelta)
	border := s.greyRatio(d.cfg, true)

	var (
		score   float64
		reasons []string
	)
	if greyRatio >= d.cfg.GreyRatioLimit {
		score += contribution(d.cfg.WeightGrey, aboveSeverity(greyRatio, d.cfg.GreyRatioLimit))
		reasons = append(reasons, model.ReasonHighGreyRatio)
	}
	if variance < d.cfg.VarianceLimit {
		score += contribution(d.cfg.WeightVariance, belowSeverity(variance, d.cfg.VarianceLimit))
		reasons = append(reasons, model.ReasonLowColorVariance)
	}
	if edges < d.cfg.EdgeDensityLimit {
		score += contribution(d.cfg.WeightEdges, belowSeverity(edges, d.cfg.EdgeDensityLimit))
		reasons = append(reasons, model.ReasonLowEdgeDensity)
	}
	if border >= d.cfg.BorderGreyLimit {
		score += contribution(d.cfg.WeightBorder, aboveSeverity(border, d.cfg.BorderGreyLimit))
		reasons = append(reasons, model.ReasonGreyBorders)
	}

	if total := d.totalWeight(); total > 0 {
		score /= total
	}
	score = clamp01(score)

	isError := score >= d.cfg.Threshold
	confidence := score
	if !isError {
		confidence = 1 - score
	}
	if reasons == nil {
		reasons = []string{}
	}

	return model.ErrorFrameVerdict{
		IsError:    isError,
		Confidence: confidence,
		ErrorScore: score,
		Reasons:    reasons,
		Signals: map[string]float64{
			SignalGreyRatio:   greyRatio,
			SignalVariance:    variance,
			SignalEdgeDensity: edges,
			SignalBorderGrey:  border,
		},
	}
}

// QuickCheck is a cheap pre-filter: grey ratio and variance on a coarser
// sample, no edge or border analysis. A negative answer returns at once; a
// positive one is confirmed by the full heuristic, so QuickCheck never flags
// a frame that Detect would pass.
func (d *Detector) QuickCheck(path string) bool {
	img, ok := d.load(path)
	if !ok {
		return true
	}
	b := img.Bounds()
	if b.Dx() < d.cfg.MinWidth || b.Dy() < d.cfg.MinHeight {
		return true
	}

	factor := d.cfg.QuickSampleFactor
	if factor < 1 {
		factor = 1
	}
	target := d.cfg.SampleTarget / (factor * factor)
	if target < 1 {
		target = 1
	}

	s := sample(img, strideFor(b, target), 0)
	if s.greyRatio(d.cfg, false) < d.cfg.GreyRatioLimit {
		return false
	}
	if s.meanChannelVariance() >= d.cfg.VarianceLimit {
		return false
	}
	return d.DetectImage(img).IsError
}

func (d *Detector) load(path string) (image.Image, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false
	}
	return img, true
}

func (d *Detector) totalWeight() float64 {
	return d.cfg.WeightGrey + d.cfg.WeightVariance + d.cfg.WeightEdges + d.cfg.WeightBorder
}

func unreadable() model.ErrorFrameVerdict {
	return model.ErrorFrameVerdict{
		IsError:    true,
		Confidence: 1.0,
		ErrorScore: 1.0,
		Reasons:    []string{model.ReasonFileNotReadable},
	}
}

// contribution weights a triggered signal; a barely-triggered signal still
// counts half its weight.
func contribution(weight, severity float64) float64 {
	return weight * (0.5 + 0.5*clamp01(severity))
}

func aboveSeverity(value, limit float64) float64 {
	if limit >= 1 {
		return 1
	}
	return (value - limit) / (1 - limit)
}

func belowSeverity(value, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	return 1 - value/limit
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Variance is the population variance of values; empty and single-element
// inputs have zero variance.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return sq / float64(len(values))
}
