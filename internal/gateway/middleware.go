package gateway

import (
	"net/http"
	"time"

	"github.com/cliniguard/cliniguard/internal/audit"
	"github.com/cliniguard/cliniguard/internal/ctxkeys"
)

// RequestMeta captures transport-level facts (client IP, user agent, arrival
// time) into the request context before any body parsing happens.
func RequestMeta(trustedProxies []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := ctxkeys.RequestMeta{
				ClientIP:   trustedClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), trustedProxies),
				UserAgent:  r.UserAgent(),
				ReceivedAt: time.Now(),
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestMeta(r.Context(), meta)))
		})
	}
}

// statusWriter records the status code written by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument records HTTP request metrics per method and path.
func Instrument(metrics *audit.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start).Seconds())
		})
	}
}
