package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webcamd/internal/metrics"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestID reuses an upstream X-Request-ID or generates one, and exposes it
// on the response and in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestLogger logs every request and records API metrics labelled by the
// chi route pattern, so path parameters do not explode label cardinality.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.APIDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			event := log.Debug()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("HTTP request")
		})
	}
}
