package gateway

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ctagard/debug-bridge/internal/logging"
)

// AuditMiddleware logs every request with its status and duration
type AuditMiddleware struct {
	logger zerolog.Logger
}

// NewAuditMiddleware creates a new audit logging middleware
func NewAuditMiddleware(logger zerolog.Logger) *AuditMiddleware {
	return &AuditMiddleware{
		logger: logging.Component(logger, "audit"),
	}
}

// Handler wraps an http.Handler with audit logging
func (m *AuditMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		event := m.logger.Info()
		if wrapped.status >= http.StatusInternalServerError {
			event = m.logger.Warn()
		}
		if r.URL.Path == "/health" || r.URL.Path == "/status" {
			event = m.logger.Debug()
		}

		event = event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start))

		if cl := r.ContentLength; cl > 0 {
			event.Int64("content_length", cl)
		}

		event.Msg("request")
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code
type statusResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController
func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
