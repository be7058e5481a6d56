package model

import "time"

// PendingFile is one upload waiting in a push camera's directory.
type PendingFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// BatchPlan is the ordered, capped work list for one push invocation.
type BatchPlan struct {
	Files        []PendingFile
	TotalPending int
	Expired      int
	Settling     int
	Timeout      time.Duration
	Extended     bool
}
