package model

// Detector reason tags, in the order the detector evaluates them.
const (
	ReasonFileNotReadable  = "file_not_readable"
	ReasonTooSmall         = "too_small"
	ReasonHighGreyRatio    = "high_grey_ratio"
	ReasonLowColorVariance = "low_color_variance"
	ReasonLowEdgeDensity   = "low_edge_density"
	ReasonGreyBorders      = "grey_borders"
)

// ErrorFrameVerdict is the detector's classification of one image.
type ErrorFrameVerdict struct {
	IsError    bool     `json:"is_error"`
	Confidence float64  `json:"confidence"`
	ErrorScore float64  `json:"error_score"`
	Reasons    []string `json:"reasons"`

	// Signals holds the raw measurements for debugging.
	Signals map[string]float64 `json:"signals,omitempty"`
}
