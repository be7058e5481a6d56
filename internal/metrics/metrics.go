package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts invocations by final outcome and reason tag.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_pipeline_runs_total",
			Help: "Pipeline invocations by outcome (success, failure, skip) and reason",
		},
		[]string{"camera", "outcome", "reason"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webcam_pipeline_duration_seconds",
			Help:    "Wall-clock duration of one pipeline invocation",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"camera", "source_type"},
	)

	AcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webcam_acquire_duration_seconds",
			Help:    "Duration of a single acquisition attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"source_type"},
	)

	ErrorFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_error_frames_total",
			Help: "Frames rejected by the error-frame detector, by triggering reason",
		},
		[]string{"camera", "reason"},
	)

	ErrorScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webcam_error_score",
			Help:    "Distribution of detector error scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"camera"},
	)

	VariantFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_variant_failures_total",
			Help: "Size/format combinations that failed to encode",
		},
		[]string{"label", "format"},
	)

	TimestampSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_timestamp_source_total",
			Help: "Which metadata source resolved the capture time",
		},
		[]string{"source"},
	)

	PushPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcam_push_pending_files",
			Help: "Eligible upload files waiting for a push camera at the last invocation",
		},
		[]string{"camera"},
	)

	PushExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_push_expired_files_total",
			Help: "Upload files deleted for exceeding the maximum age",
		},
		[]string{"camera"},
	)

	HistoryFrames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcam_history_frames",
			Help: "Archived timestamp groups per camera after cleanup",
		},
		[]string{"camera"},
	)

	HistoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcam_history_bytes",
			Help: "Disk usage of a camera's history archive",
		},
		[]string{"camera"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webcam_last_success_timestamp_seconds",
			Help: "Unix time of the last promoted frame",
		},
		[]string{"camera"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcam_api_requests_total",
			Help: "HTTP requests served by the API, by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webcam_api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
