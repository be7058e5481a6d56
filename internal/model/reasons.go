package model

// Failure and skip reason tags reported by strategies and the worker.
const (
	// acquisition failures
	ReasonTimeout           = "timeout"
	ReasonHTTPError         = "http_error"
	ReasonConnectionRefused = "connection_refused"
	ReasonDNSError          = "dns_error"
	ReasonInvalidContent    = "invalid_content"
	ReasonEmptyResponse     = "empty_response"
	ReasonFetchError        = "fetch_error"
	ReasonFFmpegError       = "ffmpeg_error"
	ReasonFFmpegNotFound    = "ffmpeg_not_found"
	ReasonStagingFailed     = "staging_failed"

	// configuration
	ReasonNoUsername = "no_username_configured"

	// skips
	ReasonUploadDirMissing  = "upload_dir_missing"
	ReasonNoPendingFiles    = "no_pending_files"
	ReasonCircuitOpen       = "circuit_open"
	ReasonRefreshNotElapsed = "refresh_not_elapsed"

	// processing
	ReasonErrorFrame        = "error_frame"
	ReasonDecodeFailed      = "decode_failed"
	ReasonVariantsFailed    = "variant_generation_failed"
	ReasonPromoteFailed     = "promote_failed"
	ReasonStateUnavailable  = "state_unavailable"
	ReasonInvocationTimeout = "invocation_timeout"
)
