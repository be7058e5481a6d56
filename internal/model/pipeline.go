package model

import "time"

// VariantOriginal is the label of the full-size variant.
const VariantOriginal = "original"

// PipelineResult describes a processed frame: the promoted original and
// every generated (label, format) file.
type PipelineResult struct {
	OriginalPath string
	Variants     map[string]map[string]string
	CapturedAt   time.Time
	Metadata     Metadata
}

// VariantCount returns the number of (label, format) files produced.
func (p PipelineResult) VariantCount() int {
	n := 0
	for _, formats := range p.Variants {
		n += len(formats)
	}
	return n
}

// VariantFailure records one size/format combination that could not be
// produced.
type VariantFailure struct {
	Label  string `json:"label"`
	Format string `json:"format"`
	Reason string `json:"reason"`
}
