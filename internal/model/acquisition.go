package model

import "time"

// Metadata carries protocol or stage specific diagnostics (HTTP status,
// durations, exit codes, detector reasons).
type Metadata map[string]any

// Clone returns a shallow copy that is safe to extend.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into m, overwriting existing keys.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		m = Metadata{}
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// AcquisitionResult is the outcome of one fetch attempt.
//
// Exactly one of ImagePath and Reason is set. ImagePath points to a staging
// file owned by the invocation that produced it.
type AcquisitionResult struct {
	Success    bool
	Skipped    bool
	ImagePath  string
	CapturedAt time.Time
	SourceType string
	Reason     string
	Metadata   Metadata
}

// Acquired builds a successful result.
func Acquired(sourceType, path string, capturedAt time.Time, md Metadata) AcquisitionResult {
	return AcquisitionResult{
		Success:    true,
		ImagePath:  path,
		CapturedAt: capturedAt,
		SourceType: sourceType,
		Metadata:   ensure(md),
	}
}

// AcquisitionFailed builds a failed result carrying a reason tag.
func AcquisitionFailed(sourceType, reason string, md Metadata) AcquisitionResult {
	return AcquisitionResult{
		SourceType: sourceType,
		Reason:     reason,
		Metadata:   ensure(md),
	}
}

// AcquisitionSkipped builds a "nothing to do" result.
func AcquisitionSkipped(sourceType, reason string, md Metadata) AcquisitionResult {
	return AcquisitionResult{
		Skipped:    true,
		SourceType: sourceType,
		Reason:     reason,
		Metadata:   ensure(md),
	}
}

// Consistent reports whether the result honours the path/reason exclusivity.
func (r AcquisitionResult) Consistent() bool {
	hasPath := r.ImagePath != ""
	hasReason := r.Reason != ""
	if r.Success {
		return hasPath && !hasReason && !r.Skipped
	}
	return !hasPath && hasReason
}

// SkipDecision is the answer of a strategy's cheap pre-check.
type SkipDecision struct {
	Skip   bool
	Reason string
}

func ensure(md Metadata) Metadata {
	if md == nil {
		return Metadata{}
	}
	return md
}
