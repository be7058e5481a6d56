package model

import "time"

// CameraState is the small persisted record the skip pre-check reads. It is
// owned by one camera and written only by that camera's invocations.
type CameraState struct {
	CameraID            string
	ConsecutiveFailures int
	LastAttemptAt       time.Time
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastFailureReason   string
	LastCaptureAt       time.Time
	LastHistoryAt       time.Time
}

// RecordSuccess updates the state after a validated frame. LastCaptureAt is
// left to the caller since only promoted frames move it.
func (s *CameraState) RecordSuccess(now time.Time) {
	s.ConsecutiveFailures = 0
	s.LastAttemptAt = now
	s.LastSuccessAt = now
	s.LastFailureReason = ""
}

// RecordFailure updates the state after a failed invocation.
func (s *CameraState) RecordFailure(now time.Time, reason string) {
	s.ConsecutiveFailures++
	s.LastAttemptAt = now
	s.LastFailureAt = now
	s.LastFailureReason = reason
}
