package model

import "time"

// HistoryFrame is one archived capture and the formats found on disk for it.
type HistoryFrame struct {
	Timestamp int64             `json:"timestamp"`
	Formats   []string          `json:"formats"`
	Paths     map[string]string `json:"-"`
	Sizes     map[string]int64  `json:"-"`
	SizeBytes int64             `json:"size_bytes"`
}

// Time returns the capture time of the frame.
func (f HistoryFrame) Time() time.Time {
	return time.Unix(f.Timestamp, 0).UTC()
}

// Complete reports whether every expected format is present.
func (f HistoryFrame) Complete(expected []string) bool {
	for _, format := range expected {
		if _, ok := f.Paths[format]; !ok {
			return false
		}
	}
	return true
}
