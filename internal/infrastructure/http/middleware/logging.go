package middleware

import (
	"log/slog"
	"net/http"
	"time"

	ctxutil "3tcapital/ms_facturacion_afip/internal/infrastructure/context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// statusRecorder remembers what the handler answered.
type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// RequestLogger logs one line per request and seeds the correlation id that the
// AFIP clients forward and audit. The chi request id doubles as correlation id.
// 5xx answers log at error level and 4xx at warn.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := chimw.GetReqID(r.Context())
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(ctxutil.WithCorrelationID(r.Context(), requestID)))

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rec.statusCode,
				"duration_ms", float64(time.Since(start).Nanoseconds()) / 1e6,
				"bytes", rec.bytesWritten,
			}
			if requestID != "" {
				attrs = append(attrs, "correlation_id", requestID, "request_id", requestID)
			}
			// Set by the auth middleware, which runs first.
			if tenantID := ctxutil.GetTenantID(r.Context()); tenantID != "" {
				attrs = append(attrs, "tenant_id", tenantID)
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				attrs = append(attrs, "user_agent", ua)
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "HTTP request", attrs...)
		})
	}
}
